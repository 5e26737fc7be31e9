// main is the entry point of the Vigil application.
// It initializes the configuration, logger, database and GeoIP provider, then either
// runs a one-shot task or serves the query and review API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/vigil/internal/activity"
	"github.com/woozymasta/vigil/internal/config"
	"github.com/woozymasta/vigil/internal/daily"
	"github.com/woozymasta/vigil/internal/game"
	"github.com/woozymasta/vigil/internal/geoip"
	"github.com/woozymasta/vigil/internal/hostcluster"
	"github.com/woozymasta/vigil/internal/identity"
	"github.com/woozymasta/vigil/internal/ingest"
	"github.com/woozymasta/vigil/internal/logger"
	"github.com/woozymasta/vigil/internal/retry"
	"github.com/woozymasta/vigil/internal/server"
	"github.com/woozymasta/vigil/internal/storage"
	"github.com/woozymasta/vigil/internal/tasks"
	"github.com/woozymasta/vigil/internal/vars"
)

func main() {
	cfg := config.Parse()

	logger.Setup(cfg.Logger)
	log.Info().Str("version", vars.Version).Msg("Starting vigil...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// GeoIP
	var geo hostcluster.CountryResolver
	if cfg.Tasks.ArchiveStats == "" {
		log.Info().Msg("Checking GeoIP database...")
		if err := geoip.EnsureDB(ctx, cfg.GeoIP.Path, cfg.GeoIP.URL, cfg.GeoIP.Interval); err != nil {
			log.Error().Err(err).Msg("Failed to download GeoIP database")
		}

		provider, err := geoip.Open(cfg.GeoIP.Path)
		if err != nil {
			log.Error().Err(err).Msg("Failed to open GeoIP database, country detection disabled")
		} else {
			geo = provider
			defer func() {
				if err := provider.Close(); err != nil {
					log.Error().Err(err).Msg("Error closing GeoIP provider")
				}
			}()
		}
	}

	// Database
	store, err := storage.New(cfg.Storage.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database")
		}
	}()

	policy := retry.Policy{
		Retryable:   storage.IsTransient,
		Attempts:    cfg.Ingest.Attempts,
		InitialWait: cfg.Ingest.InitialWait,
		MaxWait:     cfg.Ingest.MaxWait,
		OpTimeout:   cfg.Ingest.OpTimeout,
	}

	loc, err := cfg.Pattern.Location()
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.Pattern.Timezone).Msg("Failed to load pattern timezone")
	}
	patternOpts := activity.DefaultOptions()
	patternOpts.Location = loc
	patternOpts.MinSamples = cfg.Pattern.MinSamples
	patternOpts.MinDays = cfg.Pattern.MinDays
	patternOpts.ActiveMultiplier = cfg.Pattern.Multiplier
	patterns := activity.NewService(store, patternOpts, policy, cfg.Pattern.History, cfg.Pattern.Workers)

	pipeline := ingest.New(
		store,
		identity.New(store, identity.Options{
			SilenceWindow: cfg.Identity.SilenceWindow,
			Lookback:      cfg.Identity.Lookback,
			AutoConfirm:   cfg.Identity.AutoConfirm,
			Review:        cfg.Identity.Review,
			MissionBoost:  cfg.Identity.MissionBoost,
		}),
		hostcluster.New(store, geo, policy, cfg.Identity.SilenceWindow, cfg.Ingest.Workers),
		daily.New(store, geo, policy, cfg.Identity.SilenceWindow),
		policy,
		cfg.Ingest.Workers,
	)

	// One-shot tasks
	runner := &tasks.Runner{
		Store:    store,
		Pipeline: pipeline,
		Patterns: patterns,
		Prober: game.NewProber(game.Query(game.Options{
			Timeout:    cfg.A2S.Timeout,
			BufferSize: cfg.A2S.BufferSize,
		}), cfg.A2S.Workers),
		Out:           os.Stdout,
		Now:           time.Now,
		SilenceWindow: cfg.Identity.SilenceWindow,
	}
	if ran, err := runner.Run(ctx, cfg.Tasks); ran {
		if err != nil {
			log.Error().Err(err).Msg("Task failed")
			stop()
			os.Exit(1)
		}
		return
	}

	// API
	api := server.New(store, patterns, cfg)
	defer api.Close()

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      api.Run(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Graceful Shutdown
	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
