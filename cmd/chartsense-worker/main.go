// Package main provides the chartsense worker entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/chartsense/internal/config"
	"github.com/thebtf/chartsense/internal/providers"
	"github.com/thebtf/chartsense/internal/scheduler"
	"github.com/thebtf/chartsense/internal/watcher"
	"github.com/thebtf/chartsense/internal/worker"
)

// Version is set at build time via ldflags.
var Version = "dev"

// errRestart asks main to reload configuration and start over.
var errRestart = errors.New("configuration changed")

func main() {
	dataDir := flag.String("data-dir", "", "Data directory (default: ~/.chartsense)")
	backend := flag.String("backend", "", "Storage backend: sqlite, postgres, redis or memory")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if *dataDir != "" {
		if err := os.Setenv("CHARTSENSE_DATA_DIR", *dataDir); err != nil {
			log.Fatal().Err(err).Msg("Failed to set data directory")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for {
		err := run(ctx, *backend, *debug)
		if errors.Is(err, errRestart) {
			log.Info().Msg("Restarting worker with new configuration")
			continue
		}
		if err != nil {
			log.Fatal().Err(err).Msg("Worker failed")
		}
		log.Info().Msg("Worker stopped")
		return
	}
}

// run starts the worker and blocks until ctx ends or a watched file changes.
func run(ctx context.Context, backendOverride string, debug bool) error {
	if err := config.EnsureAll(); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	if backendOverride != "" {
		cfg.Backend = backendOverride
	}
	setLogLevel(cfg.LogLevel, debug)

	backend, err := worker.OpenBackend(ctx, cfg)
	if err != nil {
		return err
	}

	registry, err := providers.Load(cfg.ProvidersPath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.ProvidersPath).Msg("Invalid providers file, using built-ins")
		registry = providers.NewRegistry(providers.Builtin())
	}

	svc := worker.NewService(Version, cfg, backend, registry)
	if err := svc.Init(ctx); err != nil {
		_ = backend.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	restart := make(chan struct{}, 1)

	w, err := watcher.New([]string{config.SettingsPath(), cfg.ProvidersPath}, func(c watcher.Change) {
		log.Warn().Str("path", c.Path).Bool("removed", c.Removed).Msg("Configuration file changed")
		select {
		case restart <- struct{}{}:
		default:
		}
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create config watcher")
	} else if err := w.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start config watcher")
	} else {
		defer func() { _ = w.Stop() }()
	}

	g.Go(svc.Start)

	g.Go(func() error {
		sched := scheduler.New("retention", svc.RetentionJob, scheduler.WithLocation(cfg.Location()))
		if err := sched.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		restartRequested := false
		select {
		case <-gctx.Done():
		case <-restart:
			restartRequested = true
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := svc.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Shutdown incomplete")
		}
		if restartRequested {
			return errRestart
		}
		return nil
	})

	return g.Wait()
}

func setLogLevel(level string, debug bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if debug {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
