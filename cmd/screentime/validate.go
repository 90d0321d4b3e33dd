package main

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/goodtune/screentime/internal/config"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the screentime configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, unknownKeys, settings, err := config.Inspect(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)
	_, _ = fmt.Fprintf(os.Stdout, "   %d blocking rule(s), storage: %s\n", len(cfg.Policy.Rules), cfg.Storage.Type)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(settings, config.DefaultSettings(), unknownKeys)
	}

	return nil
}

// dumpConfig prints every known setting grouped by section, highlighting
// values that differ from their defaults.
func dumpConfig(settings, defaults map[string]any, unknownKeys []string) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	current := make(map[string]any)
	flatten("", settings, current)
	defaultValues := make(map[string]any)
	flatten("", defaults, defaultValues)

	unknown := make(map[string]bool, len(unknownKeys))
	for _, key := range unknownKeys {
		unknown[key] = true
	}

	keys := make([]string, 0, len(current))
	for key := range current {
		if !unknown[key] {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	section := ""
	for _, key := range keys {
		head, name, _ := strings.Cut(key, ".")
		if head != section {
			section = head
			_, _ = cyan.Printf("\n[%s]\n", section)
		}

		value, defaultValue := current[key], defaultValues[key]
		if key == "storage.redis.password" {
			value = redactPassword(fmt.Sprint(value))
			defaultValue = redactPassword(fmt.Sprint(defaultValue))
		}
		if key == "policy.rules" {
			if rules, ok := value.([]any); ok {
				value = fmt.Sprintf("%d rule(s)", len(rules))
			}
		}
		dumpField("  "+name, value, defaultValue, yellow, green)
	}

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)

		cyan.Println("\n[UNKNOWN KEYS - These will be ignored!]")
		for _, key := range unknownKeys {
			red.Printf("  %s = (unknown key - check for typos)\n", key)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
}

// flatten turns nested settings into dotted keys.
func flatten(prefix string, in map[string]any, out map[string]any) {
	for key, value := range in {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			flatten(full, nested, out)
			continue
		}
		out[full] = value
	}
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue any, modifiedColor, defaultColor *color.Color) {
	// Values read from YAML may differ in type from the defaults
	isDefault := reflect.DeepEqual(value, defaultValue) || fmt.Sprint(value) == fmt.Sprint(defaultValue)

	valueStr := fmt.Sprintf("%v", value)

	if isDefault {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}
