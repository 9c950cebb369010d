// Package cli implements the tok CLI commands.
package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/davidthor/tok/internal/ctxlog"

	// Import stores to register them via init()
	_ "github.com/davidthor/tok/pkg/store/azurerm"
	_ "github.com/davidthor/tok/pkg/store/gcs"
	_ "github.com/davidthor/tok/pkg/store/git"
	_ "github.com/davidthor/tok/pkg/store/local"
	_ "github.com/davidthor/tok/pkg/store/s3"
)

var (
	cfgFile string
	verbose bool
)

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tok",
		Short: "Order topics so every topic follows what it depends on",
		Long: `tok reads topic records (YAML or HCL files naming the topics they come
after or before), orders them so prerequisites always come first, and writes
the result as a Markdown document.

Topics with deadlines are scheduled ahead of everything else, earliest
deadline first. Large branches of the topic graph can become chapters and
sections with --headings.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger := ctxlog.New(cmd.ErrOrStderr(), verbose)
			cmd.SetContext(ctxlog.WithLogger(cmd.Context(), logger))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./tok.yaml or $HOME/.tok/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print debug logs")
	cmd.PersistentFlags().String("store", "", "Store holding the topic records (local, git, s3, gcs, azurerm)")
	cmd.PersistentFlags().StringArray("store-config", nil, "Store configuration (key=value)")

	cmd.AddCommand(newBuildCmd())
	cmd.AddCommand(newOrderCmd())
	cmd.AddCommand(newGraphCmd())
	cmd.AddCommand(newLintCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	cobra.OnInitialize(initConfig)
	return newRootCmd().ExecuteContext(context.Background())
}

func initConfig() {
	viper.SetEnvPrefix("TOK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("tok")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".tok"))
		}
	}

	// Read config file if it exists
	_ = viper.ReadInConfig()
}
