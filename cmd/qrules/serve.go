// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/qrules/internal/api"
	"github.com/autobrr/qrules/internal/buildinfo"
	"github.com/autobrr/qrules/internal/config"
	"github.com/autobrr/qrules/internal/database"
	"github.com/autobrr/qrules/internal/logger"
	"github.com/autobrr/qrules/internal/metrics"
	"github.com/autobrr/qrules/internal/models"
	"github.com/autobrr/qrules/internal/qbittorrent"
	"github.com/autobrr/qrules/internal/services/programs"
	rulesvc "github.com/autobrr/qrules/internal/services/rules"
	"github.com/autobrr/qrules/internal/update"
)

func RunServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the qrules server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config-dir", "", "path to the config file or directory")

	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.New(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Config.Version = buildinfo.Version

	logger.Setup(cfg.Config)
	cfg.Watch()

	log.Info().
		Str("version", buildinfo.Version).
		Str("commit", buildinfo.Commit).
		Str("config", cfg.ConfigPath()).
		Msg("Starting qrules")

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	instanceStore, err := models.NewInstanceStore(db, cfg.GetEncryptionKey())
	if err != nil {
		return fmt.Errorf("failed to initialize instance store: %w", err)
	}
	ruleStore := models.NewRuleStore(db)
	trackerRuleStore := models.NewTrackerRuleStore(db)
	activityStore := models.NewActivityStore(db)
	programStore := models.NewExternalProgramStore(db)

	clientPool := qbittorrent.NewClientPool(instanceStore)
	defer clientPool.Close()

	metricsManager := metrics.NewManager()

	programRunner := programs.NewService(programStore, cfg.Config.ExternalProgramAllowList)

	rulesService := rulesvc.NewService(
		rulesvc.Config{
			ScanInterval:      time.Duration(cfg.Config.RulesScanIntervalSeconds) * time.Second,
			ActivityRetention: cfg.Config.RulesActivityRetentionDays,
		},
		instanceStore,
		ruleStore,
		trackerRuleStore,
		activityStore,
		clientPool,
		programRunner,
		metricsManager.Rules(),
	)
	livePreview := rulesvc.NewLivePreview(rulesService, 0)
	defer livePreview.Stop()

	updateService := update.NewService(log.Logger, cfg.Config.CheckForUpdates, buildinfo.Version, buildinfo.UserAgent)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rulesService.Start(ctx)
	updateService.Start(ctx)

	var metricsServer *metrics.MetricsServer
	if cfg.Config.MetricsEnabled {
		metricsServer = metrics.NewMetricsServer(
			metricsManager,
			cfg.Config.MetricsHost,
			cfg.Config.MetricsPort,
			cfg.Config.MetricsBasicAuthUsers,
		)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	srv := api.NewServer(&api.Dependencies{
		Config:               cfg,
		InstanceStore:        instanceStore,
		RuleStore:            ruleStore,
		TrackerRuleStore:     trackerRuleStore,
		ActivityStore:        activityStore,
		ExternalProgramStore: programStore,
		ClientPool:           clientPool,
		RulesService:         rulesService,
		LivePreview:          livePreview,
		UpdateService:        updateService,
	})

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("metrics server shutdown failed")
			}
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("API server shutdown failed")
		}
	}()

	return srv.ListenAndServe()
}
