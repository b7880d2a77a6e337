package cmd

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/coopcam/coopcam/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the effective configuration as YAML, after merging the config
file, COOPCAM_ environment variables, and command-line flags. Secrets are
masked.

Redirect the output to create a configuration template:

  coopcam config > config.yaml`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(toTree(reflect.ValueOf(*cfg), ""))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Print(string(out))
	return nil
}

// toTree converts the config struct to a YAML-friendly tree keyed by
// mapstructure tags. Durations render human-readable and masq-tagged
// fields are masked.
func toTree(val reflect.Value, secretTag string) any {
	if secretTag != "" {
		if s, ok := val.Interface().(string); ok && s != "" {
			return "********"
		}
	}

	switch val.Kind() {
	case reflect.Struct:
		result := make(map[string]any, val.NumField())
		typ := val.Type()
		for i := 0; i < val.NumField(); i++ {
			field := typ.Field(i)
			key := strings.Split(field.Tag.Get("mapstructure"), ",")[0]
			if key == "" {
				key = strings.ToLower(field.Name)
			}
			result[key] = toTree(val.Field(i), field.Tag.Get("masq"))
		}
		return result
	case reflect.Slice:
		items := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			items[i] = toTree(val.Index(i), "")
		}
		return items
	case reflect.Int64:
		if d, ok := val.Interface().(time.Duration); ok {
			return duration.Format(d)
		}
		return val.Interface()
	default:
		return val.Interface()
	}
}
