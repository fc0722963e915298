// Package main provides the smallmerge HTTP service.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	gormlogger "gorm.io/gorm/logger"

	"github.com/thebtf/smallmerge/internal/config"
	"github.com/thebtf/smallmerge/internal/db/gorm"
	"github.com/thebtf/smallmerge/internal/watcher"
	"github.com/thebtf/smallmerge/internal/worker"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	addr := flag.String("addr", "", "Listen address (default: SMALLMERGE_HTTP_ADDR)")
	noHistory := flag.Bool("no-history", false, "Do not store runs")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directory")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	config.Set(cfg)

	if *addr == "" {
		*addr = cfg.HTTPAddr
	}

	opts := worker.Options{
		Version:     Version,
		MaxParallel: cfg.MaxParallel,
	}

	if !*noHistory {
		store, err := gorm.NewStore(gorm.Config{
			Driver:   cfg.DBDriver,
			Path:     cfg.DBPath,
			LogLevel: gormlogger.Silent,
		})
		if err != nil {
			log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("Failed to open run history")
		}
		defer store.Close()
		opts.Runs = gorm.NewRunStore(store)
	}

	svc, err := worker.NewService(opts)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create service")
	}
	svc.ApplyTracing(cfg)

	configPath := config.SettingsPath()
	configWatcher, err := watcher.New(configPath, svc.ReloadConfig)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create config watcher")
	} else if err := configWatcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start config watcher")
	} else {
		defer configWatcher.Stop()
		log.Info().Str("path", configPath).Msg("Config file watcher started")
	}

	if err := svc.Start(*addr); err != nil {
		log.Fatal().Err(err).Str("addr", *addr).Msg("Failed to start service")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("Shutting down merge service")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}
}
