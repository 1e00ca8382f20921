package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/larkpipe/internal/bridge"
	"github.com/nextlevelbuilder/larkpipe/internal/config"
	"github.com/nextlevelbuilder/larkpipe/internal/httpapi"
	"github.com/nextlevelbuilder/larkpipe/internal/pipeline"
	"github.com/nextlevelbuilder/larkpipe/internal/sessions"
	"github.com/nextlevelbuilder/larkpipe/internal/store"
	"github.com/nextlevelbuilder/larkpipe/internal/store/file"
	"github.com/nextlevelbuilder/larkpipe/internal/store/pg"
	"github.com/nextlevelbuilder/larkpipe/internal/store/sqlite"
	"github.com/nextlevelbuilder/larkpipe/internal/telemetry"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the event pipeline service",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func setupLogging() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
}

// openStores selects the storage backend from config.
func openStores(cfg *config.Config) (*store.Stores, error) {
	switch cfg.Database.Backend {
	case "postgres":
		if cfg.Database.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres backend selected but LARKPIPE_POSTGRES_DSN is not set")
		}
		return pg.NewPGStores(store.StoreConfig{PostgresDSN: cfg.Database.PostgresDSN})
	case "file":
		dir := config.ExpandHome(cfg.Sessions.Storage)
		pairing, err := file.NewFilePairingStore(filepath.Join(dir, "pairing"))
		if err != nil {
			return nil, err
		}
		return &store.Stores{
			Sessions: file.NewFileSessionStore(sessions.NewManager(dir)),
			Pairing:  pairing,
		}, nil
	case "", "sqlite":
		return sqlite.NewSQLiteStores(config.ExpandHome(cfg.Database.SQLitePath))
	default:
		return nil, fmt.Errorf("unknown database backend %q", cfg.Database.Backend)
	}
}

func runServe() {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("telemetry init failed", "error", err)
		os.Exit(1)
	}

	stores, err := openStores(cfg)
	if err != nil {
		slog.Error("failed to open stores", "error", err)
		os.Exit(1)
	}

	sender := bridge.NewWebhookSender(cfg.Outbound)
	pipe := pipeline.New(pipeline.Options{
		Config:   cfg,
		Stores:   stores,
		Engine:   bridge.NewHTTPEngine(cfg.Engine),
		Sender:   sender,
		Lookup:   bridge.NewHTTPDirectory(cfg.Directory),
		Notifier: sender,
	})
	pipe.Start(ctx)

	server := httpapi.NewServer(cfg, pipe, stores, Version)

	// Retention sweep on the configured cron schedule.
	sweeper, err := store.NewRetentionSweeper(stores, retentionPolicy(cfg))
	if err != nil {
		slog.Error("invalid retention config", "error", err)
		os.Exit(1)
	}
	go sweeper.Run(ctx)

	go watchConfig(ctx, cfgPath, cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
		pipe.Shutdown()
		telemetryShutdown(shutdownCtx)
		cancel()
	}()

	slog.Info("larkpipe starting",
		"version", Version,
		"listen", cfg.Server.Listen,
		"backend", cfg.Database.Backend,
		"accounts", len(cfg.Accounts),
	)

	if err := server.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func retentionPolicy(cfg *config.Config) store.RetentionPolicy {
	return store.RetentionPolicy{
		Cron:          cfg.Retention.Cron,
		PairingMaxAge: time.Duration(cfg.Retention.PairingMaxAgeHours) * time.Hour,
		SessionMaxAge: time.Duration(cfg.Retention.SessionMaxAgeDays) * 24 * time.Hour,
	}
}

// watchConfig hot-reloads account policy when the config file changes.
// Structural settings (listen address, backend) need a restart.
func watchConfig(ctx context.Context, path string, cfg *config.Config) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("config watcher unavailable", "error", err)
		return
	}
	defer watcher.Close()

	// Watch the directory: editors replace the file, which drops a watch
	// on the file itself.
	dir := filepath.Dir(path)
	if dir == "" {
		dir = "."
	}
	if err := watcher.Add(dir); err != nil {
		slog.Warn("config watch failed", "dir", dir, "error", err)
		return
	}

	lastHash := cfg.Hash()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// Editors write in bursts; give the file a moment to settle.
			time.Sleep(200 * time.Millisecond)

			next, err := config.Load(path)
			if err != nil {
				slog.Warn("config reload failed", "error", err)
				continue
			}
			if next.Hash() == lastHash {
				continue
			}
			cfg.Replace(next)
			lastHash = next.Hash()
			slog.Info("config reloaded", "path", path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}
