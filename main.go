package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"fyne.io/fyne/v2/app"

	"lightchat/chat"
	"lightchat/db"
	"lightchat/llm"
	"lightchat/relay"
	"lightchat/render"
	"lightchat/ui"
	"lightchat/ui/desktop"
	"lightchat/utils"
)

var (
	version = "0.1.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	serve := flag.Bool("serve", false, "Run the completion relay instead of the chat client")
	gui := flag.Bool("gui", false, "Open the desktop window instead of the terminal client")
	flag.Parse()

	if *showVersion {
		fmt.Printf("lightchat v%s\n", version)
		os.Exit(0)
	}

	if err := run(*configPath, *serve, *gui); err != nil {
		fmt.Fprintf(os.Stderr, "lightchat: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, serve, gui bool) error {
	// Load or create default configuration
	var err error
	if configPath == "" {
		if configPath, err = utils.EnsureDefaultConfig(); err != nil {
			return fmt.Errorf("failed to create default config: %w", err)
		}
	}
	config, err := utils.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := utils.NewLogger(utils.GetLogPath(), config.Log.Console)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Close()
	logger.SetLevel(config.Log.Level)
	logger.Info("Starting lightchat v%s with config %s", version, configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if serve {
		return runRelay(ctx, config, logger)
	}
	return runChat(ctx, config, configPath, logger, gui)
}

func runRelay(ctx context.Context, config *utils.Config, logger *utils.Logger) error {
	upstream, err := newProvider(config, config.Relay.Upstream)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	server := relay.NewServer(upstream, relay.Options{
		Path:           config.Relay.Path,
		RateLimitQPS:   config.Relay.RateLimitQPS,
		RateLimitBurst: config.Relay.RateLimitBurst,
	}, logger)
	return server.ListenAndServe(ctx, config.Relay.Listen)
}

func runChat(ctx context.Context, config *utils.Config, configPath string, logger *utils.Logger, gui bool) error {
	blobs, err := db.Open(ctx, db.Options{
		Backend:       config.Data.Backend,
		SQLitePath:    config.Data.DBPath,
		BoltPath:      config.Data.BoltPath,
		RedisAddress:  config.Data.Redis.Address,
		RedisPassword: config.Data.Redis.Password,
		RedisDatabase: config.Data.Redis.Database,
		RedisPrefix:   config.Data.Redis.Prefix,
	})
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer blobs.Close()
	logger.Info("Storage initialized: %s", backendName(config.Data.Backend))

	store := chat.NewStore(blobs, logger)
	store.Load(ctx)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Error("Failed to persist conversations: %v", err)
		}
	}()

	provider, err := newProvider(config, config.Chat.Provider)
	if err != nil {
		return err
	}

	controller := chat.NewController(store, provider, chat.NewEncoder(), logger)
	controller.SetAutoTitle(config.Chat.AutoTitle)

	if gui {
		desktop.New(app.NewWithID("lightchat"), store, controller, desktop.Options{
			DefaultModel: config.Chat.DefaultModel,
			Models:       provider.Models(),
			Theme:        config.UI.Theme,
			WindowWidth:  config.UI.WindowWidth,
			WindowHeight: config.UI.WindowHeight,
		}, logger).Run()
		return nil
	}

	var renderer render.Renderer = render.Plain{}
	if term, err := render.NewTerminal("", 100); err == nil {
		renderer = term
	} else {
		logger.Warn("Falling back to plain output: %v", err)
	}

	opts := ui.Options{
		HistoryFile:  filepath.Join(filepath.Dir(configPath), "history"),
		DefaultModel: config.Chat.DefaultModel,
	}
	if stats, ok := blobs.(*db.DB); ok {
		opts.Stats = stats
	}

	return ui.New(store, controller, renderer, opts, logger).Run(ctx)
}

// newProvider builds the provider configured under name.
func newProvider(config *utils.Config, name string) (llm.Provider, error) {
	pc, ok := config.LLMProviders[name]
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %q is disabled", name)
	}

	llmConfig := llm.Config{
		ProviderName:    pc.DisplayName,
		APIKey:          pc.APIKey,
		BaseURL:         pc.BaseURL,
		APIVersion:      pc.APIVersion,
		Model:           pc.DefaultModel,
		Models:          pc.Models,
		ReasoningModels: config.Chat.ReasoningModels,
		Timeout:         pc.Timeout,
		MaxTokens:       pc.MaxTokens,
		Temperature:     pc.Temperature,
	}
	if config.Proxy.Enabled {
		llmConfig.ProxyURL = config.Proxy.URL
	}

	provider, err := llm.New(pc.Type, llmConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider %q: %w", name, err)
	}
	return provider, nil
}

func backendName(backend string) string {
	if backend == "" {
		return "sqlite"
	}
	return backend
}
