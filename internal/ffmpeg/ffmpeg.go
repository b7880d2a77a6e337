// Package ffmpeg locates and probes the ffmpeg binary used for recording.
package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/coopcam/coopcam/internal/util"
)

// EnvVar overrides binary discovery for deployments with a non-standard
// ffmpeg location.
const EnvVar = "COOPCAM_FFMPEG"

// Info describes a probed ffmpeg installation.
type Info struct {
	Path    string `json:"path"`
	Version string `json:"version"`
}

// Find resolves the ffmpeg binary path. An explicit path wins; otherwise
// the usual search order applies (env var, working directory, PATH).
func Find(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	return util.FindBinary("ffmpeg", EnvVar)
}

// Probe runs `ffmpeg -version` and extracts the version string. A binary
// that exists but cannot execute is reported as an error, not a zero Info.
func Probe(ctx context.Context, path string) (Info, error) {
	out, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return Info{}, fmt.Errorf("probing %s: %w", path, err)
	}
	return Info{Path: path, Version: parseVersion(string(out))}, nil
}

// parseVersion pulls the version token out of the first line of
// `ffmpeg -version` output, e.g. "ffmpeg version 6.1.1 Copyright ...".
func parseVersion(out string) string {
	line, _, _ := strings.Cut(out, "\n")
	fields := strings.Fields(line)
	for i, f := range fields {
		if f == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return "unknown"
}
