package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config file keys.
const (
	ConfigKeyStoreType     = "store"
	ConfigKeyStoreConfig   = "store_config"
	ConfigKeyReverse       = "reverse"
	ConfigKeyDepth         = "depth"
	ConfigKeyDepthPolicy   = "depth_policy"
	ConfigKeyHeadings      = "headings"
	ConfigKeyExtraHeadings = "extra_headings"
	ConfigKeyOutput        = "output"
	ConfigKeyTitle         = "title"
	ConfigKeyAuthor        = "author"
	ConfigKeyDate          = "date"
	ConfigKeyMmdc          = "mmdc"
)

var configKeys = []string{
	ConfigKeyStoreType,
	ConfigKeyReverse,
	ConfigKeyDepth,
	ConfigKeyDepthPolicy,
	ConfigKeyHeadings,
	ConfigKeyExtraHeadings,
	ConfigKeyOutput,
	ConfigKeyTitle,
	ConfigKeyAuthor,
	ConfigKeyDate,
	ConfigKeyMmdc,
}

const availableKeysHelp = `Available keys:
  store                 Store type used when --store is not given
  store-config.<name>   Store setting, e.g. store-config.bucket
  reverse               Put cheaper branches first (true/false)
  depth                 Successor expansion depth
  depth-policy          forward or both
  headings              Derive headings (true/false)
  extra-headings        Derive headings for smaller branches (true/false)
  output                Directory tok build writes to
  title                 Document title
  author                Document author
  date                  Document date
  mmdc                  mermaid-cli binary used by tok graph --image`

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
		Long:  `Get and set tok configuration values stored in ~/.tok/config.yaml.`,
	}

	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigListCmd())

	return cmd
}

func newConfigSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Set a configuration value in ~/.tok/config.yaml.

` + availableKeysHelp + `

Examples:
  tok config set store s3
  tok config set store-config.bucket notes
  tok config set depth-policy both`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value := args[1]

			viperKey := normalizeConfigKey(key)
			if !isConfigKey(viperKey) {
				return fmt.Errorf("unknown configuration key %q\n\n%s", key, availableKeysHelp)
			}

			viper.Set(viperKey, value)
			if err := writeConfig(); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
			return nil
		},
	}

	return cmd
}

func newConfigGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Long: `Get a configuration value from ~/.tok/config.yaml.

Examples:
  tok config get store`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			viperKey := normalizeConfigKey(key)

			value := viper.GetString(viperKey)
			if value == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is not set\n", key)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), value)
			}
			return nil
		},
	}

	return cmd
}

func newConfigListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all configuration values",
		Long:  `List all configuration values from ~/.tok/config.yaml.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Configuration:")

			set := 0
			for _, key := range configKeys {
				if value := viper.GetString(key); value != "" {
					fmt.Fprintf(out, "  %s = %s\n", displayConfigKey(key), value)
					set++
				}
			}

			storeConfig := viper.GetStringMapString(ConfigKeyStoreConfig)
			names := make([]string, 0, len(storeConfig))
			for name := range storeConfig {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(out, "  store-config.%s = %s\n", name, storeConfig[name])
				set++
			}

			if set == 0 {
				fmt.Fprintln(out, "  (no values set)")
			}
			return nil
		},
	}

	return cmd
}

// writeConfig writes the current viper config to the config file.
func writeConfig() error {
	configPath := viper.ConfigFileUsed()
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir := filepath.Join(home, ".tok")
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		configPath = filepath.Join(configDir, "config.yaml")
	}

	return viper.WriteConfigAs(configPath)
}

// normalizeConfigKey converts CLI-style keys (with dashes) to viper-style keys (with underscores).
func normalizeConfigKey(key string) string {
	name, sub, nested := strings.Cut(key, ".")
	name = strings.ReplaceAll(name, "-", "_")
	if nested {
		return name + "." + sub
	}
	return name
}

func displayConfigKey(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

func isConfigKey(key string) bool {
	if name, sub, nested := strings.Cut(key, "."); nested {
		return name == ConfigKeyStoreConfig && sub != ""
	}
	for _, k := range configKeys {
		if k == key {
			return true
		}
	}
	return false
}
