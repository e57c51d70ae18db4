package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fyne.io/fyne/v2"
	"golang.org/x/sync/errgroup"

	"kraina-desktop/assets"
	"kraina-desktop/assistant"
	"kraina-desktop/commands"
	"kraina-desktop/db"
	"kraina-desktop/ipc"
	"kraina-desktop/llm"
	"kraina-desktop/metrics"
	"kraina-desktop/tools"
	"kraina-desktop/ui"
	"kraina-desktop/utils"
)

var (
	version = "0.1.0"
)

// snippetRunner lets built-in tools call the engine created after them
type snippetRunner struct {
	engine *assistant.Engine
}

func (r *snippetRunner) RunSnippet(ctx context.Context, name, text string) (string, error) {
	return r.engine.RunSnippet(ctx, name, text)
}

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("krAIna desktop v%s\n", version)
		os.Exit(0)
	}

	logger, err := utils.NewLogger(utils.GetLogPath())
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	logger.Info("Starting krAIna desktop v%s", version)

	actualConfigPath := *configPath
	if actualConfigPath == "" {
		actualConfigPath, err = utils.EnsureDefaultConfig()
		if err != nil {
			logger.Error("Failed to create default config: %v", err)
			os.Exit(1)
		}
	}
	logger.Info("Using config file: %s", actualConfigPath)
	config, err := utils.LoadConfig(actualConfigPath)
	if err != nil {
		logger.Error("Failed to load config: %v", err)
		os.Exit(1)
	}
	if config.LogLevel != "" {
		if err := logger.SetLevel(config.LogLevel); err != nil {
			logger.Warn("Ignoring log level: %v", err)
		}
	}

	database, err := db.New(config.Data.DBPath)
	if err != nil {
		logger.Error("Failed to initialize database: %v", err)
		os.Exit(1)
	}
	defer database.Close()
	logger.Info("Database initialized: %s", config.Data.DBPath)

	if err := run(config, actualConfigPath, database, logger); err != nil {
		logger.Error("Application stopped with error: %v", err)
		os.Exit(1)
	}
	logger.Info("Application stopped")
}

func run(config *utils.Config, configPath string, database *db.DB, logger *utils.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := llm.NewRegistryFromConfig(config, logger)
	if err != nil {
		return fmt.Errorf("failed to set up LLM providers: %w", err)
	}
	var snippetAPI llm.APIType
	if config.LLM.ForceAPIForSnippets != "" {
		if snippetAPI, err = llm.ParseAPIType(config.LLM.ForceAPIForSnippets); err != nil {
			return err
		}
	}

	snippets := &snippetRunner{}
	toolRegistry := tools.NewRegistry(tools.Builtins(config.Tools, snippets)...)

	loader := &assets.Loader{Tools: toolRegistry, Logger: logger}
	registry, err := assets.NewRegistry(loader, config.Assets.AssistantDirs, config.Assets.SnippetDirs, logger)
	if err != nil {
		return fmt.Errorf("failed to load assets: %w", err)
	}

	collectors := metrics.New()
	set := registry.Current()
	collectors.AssetsLoaded(len(set.Assistants), len(set.Snippets))
	registry.OnReload(func(s *assets.Set) {
		collectors.AssetsLoaded(len(s.Assistants), len(s.Snippets))
	})

	engine := assistant.NewEngine(assistant.Deps{
		Store:      database,
		Providers:  providers,
		Tools:      toolRegistry,
		Snippets:   registry,
		Observer:   collectors,
		Logger:     logger,
		SnippetAPI: snippetAPI,
		MaxHistory: config.Data.MaxHistory,
	})
	snippets.engine = engine
	turns := assistant.NewTurnRunner(engine, 16, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	app := ui.NewApp(gctx, ui.Deps{
		Config:     config,
		ConfigPath: configPath,
		DB:         database,
		Assets:     registry,
		Engine:     engine,
		Runner:     turns,
		Logger:     logger,
	})

	if config.IPC.Enabled {
		dispatcher := ipc.NewDispatcher(0, logger)
		commands.Register(dispatcher, commands.Deps{
			Window:   app,
			Snippets: registry,
			Runner:   engine,
			Store:    database,
			Logger:   logger,
			Context:  gctx,
		})
		host := ipc.NewHost(config.IPC.Address, time.Duration(config.IPC.TimeoutSeconds)*time.Second, dispatcher, logger)
		host.OnCommand = collectors.IPCCommand
		if err := host.Listen(); err != nil {
			// most likely another instance owns the port
			logger.Error("IPC host disabled: %v", err)
		} else {
			g.Go(func() error { return host.Serve(gctx) })
			g.Go(func() error { return dispatcher.Serve(gctx, fyne.Do) })
		}
	}

	if config.Assets.Watch {
		watcher, err := assets.NewWatcher(registry, assets.DefaultDebounce)
		if err != nil {
			logger.Warn("Asset hot reload disabled: %v", err)
		} else {
			g.Go(func() error { return watcher.Run(gctx) })
		}
	}

	if config.Metrics.ListenAddr != "" {
		server := metrics.NewServer(config.Metrics.ListenAddr, collectors, logger)
		g.Go(func() error {
			// the chat keeps working without metrics
			if err := server.Run(gctx); err != nil {
				logger.Error("Metrics endpoint stopped: %v", err)
			}
			return nil
		})
	}

	logger.Info("Application started")
	app.Run()

	cancel()
	turns.Wait()
	return g.Wait()
}
