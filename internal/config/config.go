// Package config resolves larder settings from defaults, an optional config
// file, the environment and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Keys understood by Load. Environment variables use the LARDER_ prefix,
// e.g. LARDER_DATA_DIR.
const (
	KeyDataDir        = "data_dir"
	KeyUser           = "user"
	KeyProvider       = "provider"
	KeyEmbeddingModel = "embedding_model"
	KeyDimensions     = "dimensions"
	KeyChatModel      = "chat_model"
	KeyBaseURL        = "base_url"
	KeyTimeout        = "timeout"
	KeyWorkers        = "workers"
	KeyAsync          = "async"
	KeyVerbose        = "verbose"
	KeyJSON           = "json"
	KeyMetricsFile    = "metrics_file"
	KeyOpenAIKey      = "openai_api_key"
	KeyGeminiKey      = "gemini_api_key"
)

// Providers accepted for the provider key.
const (
	ProviderOpenAI  = "openai"
	ProviderOllama  = "ollama"
	ProviderGemini  = "gemini"
	ProviderOffline = "offline"
)

var ErrInvalid = errors.New("invalid configuration")

// Config is the resolved configuration.
type Config struct {
	DataDir        string
	User           string
	Provider       string
	EmbeddingModel string
	Dimensions     int
	ChatModel      string
	BaseURL        string
	Timeout        time.Duration
	Workers        int
	Async          bool
	Verbose        bool
	JSON           bool
	MetricsFile    string
	OpenAIKey      string
	GeminiKey      string
}

// DefaultDimensions is the vector length of each provider's default
// embedding model. An explicit dimensions setting overrides it.
func DefaultDimensions(provider string) int {
	switch provider {
	case ProviderOllama, ProviderGemini:
		// nomic-embed-text and text-embedding-004
		return 768
	default:
		return 1536
	}
}

// DefaultDataDir is ~/.larder, or .larder when the home directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".larder"
	}
	return filepath.Join(home, ".larder")
}

// New returns a viper instance with larder's defaults and environment
// bindings. Callers bind their flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyDataDir, DefaultDataDir())
	v.SetDefault(KeyProvider, ProviderOpenAI)
	v.SetDefault(KeyTimeout, 5*time.Second)
	v.SetDefault(KeyWorkers, 4)

	v.SetEnvPrefix("larder")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Provider keys also come from their conventional variables.
	_ = v.BindEnv(KeyOpenAIKey, "LARDER_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv(KeyGeminiKey, "LARDER_GEMINI_API_KEY", "GEMINI_API_KEY")
	return v
}

// ReadFile merges a YAML config file into v. An explicit path must exist;
// without one, larder.yaml is looked up in the working directory and the
// default data directory, and its absence is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("larder")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(DefaultDataDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// Load resolves and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		DataDir:        v.GetString(KeyDataDir),
		User:           v.GetString(KeyUser),
		Provider:       strings.ToLower(v.GetString(KeyProvider)),
		EmbeddingModel: v.GetString(KeyEmbeddingModel),
		Dimensions:     v.GetInt(KeyDimensions),
		ChatModel:      v.GetString(KeyChatModel),
		BaseURL:        v.GetString(KeyBaseURL),
		Timeout:        v.GetDuration(KeyTimeout),
		Workers:        v.GetInt(KeyWorkers),
		Async:          v.GetBool(KeyAsync),
		Verbose:        v.GetBool(KeyVerbose),
		JSON:           v.GetBool(KeyJSON),
		MetricsFile:    v.GetString(KeyMetricsFile),
		OpenAIKey:      v.GetString(KeyOpenAIKey),
		GeminiKey:      v.GetString(KeyGeminiKey),
	}
	if !v.IsSet(KeyDimensions) {
		cfg.Dimensions = DefaultDimensions(cfg.Provider)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and the provider name.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderOllama, ProviderGemini, ProviderOffline:
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalid, c.Provider)
	}
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is required", ErrInvalid)
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("%w: dimensions must be positive", ErrInvalid)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive", ErrInvalid)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalid)
	}
	return nil
}

// SettingsPath is the settings database inside the data directory.
func (c Config) SettingsPath() string {
	return filepath.Join(c.DataDir, "settings.db")
}
