package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/felixgeelhaar/larder/internal/assistant"
	"github.com/felixgeelhaar/larder/internal/config"
	"github.com/felixgeelhaar/larder/internal/credential"
	"github.com/felixgeelhaar/larder/internal/embedding"
	"github.com/felixgeelhaar/larder/internal/engine"
	"github.com/felixgeelhaar/larder/internal/entry"
	"github.com/felixgeelhaar/larder/internal/observe"
	"github.com/felixgeelhaar/larder/internal/provider"
	"github.com/felixgeelhaar/larder/internal/store"
	"github.com/felixgeelhaar/larder/internal/ui"
)

var errNoUser = errors.New("no user given: pass --user or set LARDER_USER")

// App holds everything a command needs, built from the resolved config.
type App struct {
	Config   config.Config
	Observer *observe.Observer
	Settings store.Settings
	Embedder *embedding.Provider
	Engine   *engine.Engine
	Chat     provider.Chatter
	UI       ui.UI
	Out      io.Writer

	closers []func() error
}

// openSettings loads the configuration and opens the settings store only.
func openSettings(v *viper.Viper) (config.Config, *store.SQLiteStore, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return config.Config{}, nil, err
	}
	creds, err := credential.NewManager()
	if err != nil {
		return config.Config{}, nil, err
	}
	s, err := store.NewSQLiteStore(cfg.SettingsPath(), creds)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, s, nil
}

func newApp(cmd *cobra.Command, v *viper.Viper) (*App, error) {
	cfg, settings, err := openSettings(v)
	if err != nil {
		return nil, err
	}

	logOut := cmd.ErrOrStderr()
	var obs *observe.Observer
	if cfg.JSON {
		obs = observe.NewJSON(logOut, cfg.Verbose)
	} else {
		obs = observe.New(logOut, cfg.Verbose)
	}
	if cfg.MetricsFile != "" {
		obs.Metrics().WriteTo(cfg.MetricsFile)
	}

	app := &App{
		Config:   cfg,
		Observer: obs,
		Settings: settings,
		Out:      cmd.OutOrStdout(),
		UI:       ui.New(cmd.OutOrStdout(), !cfg.JSON && isTerminal(cmd.OutOrStdout())),
	}
	app.closers = append(app.closers, obs.Close, settings.Close)

	remote, err := buildProvider(cfg, settings)
	if err != nil {
		app.Close()
		return nil, err
	}
	var embedder provider.Embedder
	if remote != nil {
		embedder = remote
		app.Chat = remote
		if c, ok := remote.(io.Closer); ok {
			app.closers = append(app.closers, c.Close)
		}
	}

	app.Embedder, err = embedding.New(embedder, embedding.Config{
		Dimensions: cfg.Dimensions,
		Workers:    cfg.Workers,
		Timeout:    cfg.Timeout,
	}, obs)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Engine = engine.New(cfg.DataDir, app.Embedder, engine.Options{
		Async:    cfg.Async,
		Observer: obs,
	})
	app.Engine.Events().Subscribe(engine.EventIndexFailed, func(e engine.Event) {
		app.UI.Error(fmt.Sprintf("entry %s was logged but could not be indexed: %v", e.EntryID, e.Err))
	})

	obs.Log().Debug().
		Str("data_dir", cfg.DataDir).
		Str("provider", app.Embedder.Name()).
		Int("dimensions", cfg.Dimensions).
		Msg("larder ready")
	return app, nil
}

// Close waits for background index writes and releases every resource.
func (a *App) Close() error {
	if a.Engine != nil {
		a.Engine.Flush()
	}
	if a.Embedder != nil {
		a.Embedder.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// User returns the configured user or errNoUser.
func (a *App) User() (string, error) {
	if a.Config.User == "" {
		return "", errNoUser
	}
	return a.Config.User, nil
}

// Assistant returns a chat assistant backed by the engine, keeping its
// conversations in the settings store.
func (a *App) Assistant() (*assistant.Assistant, error) {
	if a.Chat == nil {
		return nil, fmt.Errorf("provider %q cannot answer questions; choose openai, ollama or gemini", a.Config.Provider)
	}
	return assistant.New(a.Engine, a.Chat, a.Observer, assistant.WithHistoryStore(a.Settings)), nil
}

// JSON writes v as indented JSON to the command output.
func (a *App) JSON(v any) error {
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// buildProvider returns nil for the offline provider. Keys and the OpenAI
// base URL fall back to the settings store when not configured.
func buildProvider(cfg config.Config, settings store.Settings) (provider.Provider, error) {
	setting := func(key string) string {
		v, _ := settings.GetConfig(key)
		return v
	}

	switch cfg.Provider {
	case config.ProviderOpenAI:
		key := cfg.OpenAIKey
		if key == "" {
			key = setting("openai.api_key")
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = setting("openai.base_url")
		}
		return provider.NewOpenAIProvider(provider.OpenAIConfig{
			APIKey:         key,
			BaseURL:        baseURL,
			ChatModel:      cfg.ChatModel,
			EmbeddingModel: cfg.EmbeddingModel,
			Dimensions:     cfg.Dimensions,
		})
	case config.ProviderOllama:
		return provider.NewOllamaProvider(cfg.BaseURL, cfg.ChatModel, cfg.EmbeddingModel)
	case config.ProviderGemini:
		key := cfg.GeminiKey
		if key == "" {
			key = setting("gemini.api_key")
		}
		return provider.NewGeminiProvider(key, cfg.ChatModel, cfg.EmbeddingModel)
	case config.ProviderOffline:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}

// parseDay accepts YYYY-MM-DD, "today" and "yesterday".
func parseDay(s string, now time.Time) (time.Time, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "today":
		return entry.Truncate(now), nil
	case "yesterday":
		return entry.Truncate(now).AddDate(0, 0, -1), nil
	}
	return entry.ParseDate(s)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
