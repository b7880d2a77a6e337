// Package main is the entry point for the coopcam application.
package main

import (
	"os"

	"github.com/coopcam/coopcam/cmd/coopcam/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
