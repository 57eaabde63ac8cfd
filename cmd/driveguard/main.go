// Package main is the entrypoint for the driveguard bot server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/oauth2"

	"github.com/driveguard/driveguard-go/internal/chat"
	"github.com/driveguard/driveguard-go/internal/chat/socketmode"
	"github.com/driveguard/driveguard-go/internal/config"
	"github.com/driveguard/driveguard-go/internal/drive"
	"github.com/driveguard/driveguard-go/internal/oauth"
	"github.com/driveguard/driveguard-go/internal/pipeline"
	"github.com/driveguard/driveguard-go/internal/server"
	"github.com/driveguard/driveguard-go/internal/store"
	"github.com/driveguard/driveguard-go/internal/workflow"

	// Register store drivers
	_ "github.com/driveguard/driveguard-go/internal/store/postgres"
	_ "github.com/driveguard/driveguard-go/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file (optional)")
	modeFlag := flag.String("mode", "", "Operating mode: prod or dev (overrides config)")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	externalOrigin := flag.String("external-origin", "", "External origin (overrides config)")
	storeDriver := flag.String("store-driver", "", "Store driver: sqlite or postgres (overrides config)")
	loggingLevel := flag.String("logging-level", "", "Log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	// Bootstrap logger for config loading errors (uses default level)
	bootstrapLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Load config with precedence: mode preset -> TOML file -> CLI flags
	cfg, err := config.Load(config.LoaderOptions{
		ConfigPath: *configPath,
		ModeFlag:   *modeFlag,
		FlagOverrides: config.FlagOverrides{
			ListenAddr:     listenAddr,
			ExternalOrigin: externalOrigin,
			StoreDriver:    storeDriver,
			LoggingLevel:   loggingLevel,
		},
		Logger: bootstrapLogger,
	})
	if err != nil {
		bootstrapLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Log effective config with secrets redacted
	logger.Info("effective configuration", "config", cfg.Redacted())

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.EnsureDirs(); err != nil {
		logger.Error("failed to prepare data directories", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open the store
	db, err := store.New(&store.DriverConfig{
		Driver:  cfg.Store.Driver,
		DataDir: cfg.Store.DataDir,
		DSN:     cfg.Store.DSN,
	})
	if err != nil {
		logger.Error("failed to create store", "error", err)
		os.Exit(1)
	}
	if err := db.Init(ctx); err != nil {
		logger.Error("failed to initialize store", "driver", db.Name(), "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("failed to close store", "error", err)
		}
	}()
	logger.Info("store ready", "driver", db.Name())

	creds, ok := db.(store.CredentialStore)
	if !ok {
		logger.Error("store driver does not support credentials", "driver", db.Name())
		os.Exit(1)
	}
	pending, ok := db.(store.PendingFileStore)
	if !ok {
		logger.Error("store driver does not support pending files", "driver", db.Name())
		os.Exit(1)
	}

	chatClient := chat.NewClient(cfg.Chat.APIBase, cfg.Chat.BotToken, cfg.Chat.UserToken)

	oauthMgr := oauth.NewManager(oauth.Options{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  cfg.RedirectURI(),
	}, creds)

	pipe := pipeline.New(chatClient, pipeline.Options{
		StagingDir:      cfg.Guard.StagingDir,
		FolderName:      cfg.Guard.FolderName,
		RetryMaxElapsed: time.Duration(cfg.Guard.RetryMaxElapsedMS) * time.Millisecond,
	})

	wf := workflow.New(chatClient, oauthMgr, pending, pipe,
		func(ctx context.Context, ts oauth2.TokenSource) pipeline.Destination {
			return drive.NewClient(ctx, ts)
		},
		cfg.Guard.Extensions,
	)

	srv, err := server.New(cfg, logger, &server.Deps{
		Handlers:      wf,
		Files:         chatClient,
		OAuth:         oauthMgr,
		SigningSecret: cfg.Chat.SigningSecret,
	})
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Dev mode receives events over the socket transport; the HTTP server
	// still runs for the OAuth redirect and health checks.
	if cfg.SocketMode() {
		sock := socketmode.New(cfg.Chat.APIBase, cfg.Chat.AppToken, chatClient, wf, logger)
		go func() {
			if err := sock.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("socket connection error", "error", err)
				stop()
			}
		}()
		logger.Info("socket event delivery enabled")
	}

	logger.Info("driveguard started", "mode", cfg.Mode)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("driveguard stopped")
}
