package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/felixgeelhaar/larder/internal/config"
)

// flagKeys maps persistent flags to configuration keys.
var flagKeys = map[string]string{
	"data-dir":        config.KeyDataDir,
	"user":            config.KeyUser,
	"provider":        config.KeyProvider,
	"embedding-model": config.KeyEmbeddingModel,
	"dimensions":      config.KeyDimensions,
	"chat-model":      config.KeyChatModel,
	"base-url":        config.KeyBaseURL,
	"timeout":         config.KeyTimeout,
	"workers":         config.KeyWorkers,
	"async":           config.KeyAsync,
	"verbose":         config.KeyVerbose,
	"json":            config.KeyJSON,
	"metrics-file":    config.KeyMetricsFile,
}

// NewRootCmd builds the command tree with its own configuration state.
func NewRootCmd() *cobra.Command {
	v := config.New()
	var cfgFile string

	root := &cobra.Command{
		Use:   "larder",
		Short: "Local food-log store with semantic search",
		Long: `Larder keeps a per-day log of what you eat, embeds every entry and
answers similarity queries over your history, optionally restricted to a
date range, for use as grounding context by a chat model.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			return config.ReadFile(v, cfgFile)
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "config file (default ./larder.yaml or ~/.larder/larder.yaml)")
	f.String("data-dir", config.DefaultDataDir(), "directory holding ledgers, vectors and settings")
	f.StringP("user", "u", "", "user whose log is read or written")
	f.StringP("provider", "p", config.ProviderOpenAI, "embedding provider (openai, ollama, gemini, offline)")
	f.String("embedding-model", "", "embedding model (default depends on provider)")
	f.Int("dimensions", 0, "embedding dimensions (default depends on provider)")
	f.String("chat-model", "", "chat model used by ask (default depends on provider)")
	f.String("base-url", "", "provider base URL")
	f.Duration("timeout", 0, "timeout for a single embedding request (default 5s)")
	f.Int("workers", 0, "concurrent embedding requests (default 4)")
	f.Bool("async", false, "index entries in the background")
	f.BoolP("verbose", "v", false, "enable verbose logging")
	f.Bool("json", false, "JSON logs and output")
	f.String("metrics-file", "", "write Prometheus metrics to this file on exit")

	for name, key := range flagKeys {
		bindFlag(v, key, root, name)
	}

	root.AddCommand(
		newLogCmd(v),
		newImportCmd(v),
		newListCmd(v),
		newDeleteCmd(v),
		newSearchCmd(v),
		newContextCmd(v),
		newAskCmd(v),
		newVerifyCmd(v),
		newConfigCmd(v),
	)
	return root
}

// bindFlag lets an explicitly set flag override every other source while
// unset flags leave defaults, the config file and the environment in charge.
func bindFlag(v *viper.Viper, key string, root *cobra.Command, name string) {
	flag := root.PersistentFlags().Lookup(name)
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %s: %v", name, err))
	}
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
