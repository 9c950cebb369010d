package cli

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/davidthor/tok/pkg/store"
)

// Environment variable names for store configuration.
const (
	// EnvStoreType sets the store type (local, git, s3, gcs, azurerm).
	EnvStoreType = "TOK_STORE_TYPE"

	// EnvStorePrefix is the prefix for store-specific config environment
	// variables: TOK_STORE_PATH sets "path", TOK_STORE_BUCKET sets "bucket".
	EnvStorePrefix = "TOK_STORE_"
)

// storeConfig resolves the store to read topics from.
//
// Configuration precedence (highest to lowest):
//  1. CLI flags (--store, --store-config)
//  2. Environment variables (TOK_STORE_TYPE, TOK_STORE_*)
//  3. store.type and store.config in the config file
//  4. The local store rooted at the current directory
func storeConfig(storeType string, storeFlags []string) store.Config {
	effective := store.Config{
		Type:   viper.GetString(ConfigKeyStoreType),
		Config: make(map[string]string),
	}
	for k, v := range viper.GetStringMapString(ConfigKeyStoreConfig) {
		effective.Config[k] = v
	}

	if envType := os.Getenv(EnvStoreType); envType != "" {
		effective.Type = envType
	}
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, EnvStorePrefix) || strings.HasPrefix(env, EnvStoreType+"=") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			key := strings.ToLower(strings.TrimPrefix(parts[0], EnvStorePrefix))
			effective.Config[key] = parts[1]
		}
	}

	if storeType != "" {
		effective.Type = storeType
	}
	for _, c := range storeFlags {
		parts := strings.SplitN(c, "=", 2)
		if len(parts) == 2 {
			effective.Config[parts[0]] = parts[1]
		}
	}

	if effective.Type == "" {
		effective.Type = "local"
	}
	return effective
}

// openStore creates the store selected by the persistent store flags.
func openStore(cmd *cobra.Command) (store.Store, error) {
	storeType, _ := cmd.Flags().GetString("store")
	storeFlags, _ := cmd.Flags().GetStringArray("store-config")
	return store.Create(storeConfig(storeType, storeFlags))
}
