// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package api assembles the HTTP surface: routing, middleware, and the
// server lifecycle.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/qrules/internal/api/handlers"
	"github.com/autobrr/qrules/internal/api/middleware"
	"github.com/autobrr/qrules/internal/config"
	"github.com/autobrr/qrules/internal/models"
	"github.com/autobrr/qrules/internal/qbittorrent"
	rulesvc "github.com/autobrr/qrules/internal/services/rules"
	"github.com/autobrr/qrules/internal/update"
)

// Dependencies carries everything the router needs. Stores and services
// are constructed once at startup and shared.
type Dependencies struct {
	Config *config.AppConfig

	InstanceStore        *models.InstanceStore
	RuleStore            *models.RuleStore
	TrackerRuleStore     *models.TrackerRuleStore
	ActivityStore        *models.ActivityStore
	ExternalProgramStore *models.ExternalProgramStore

	ClientPool    *qbittorrent.ClientPool
	RulesService  *rulesvc.Service
	LivePreview   *rulesvc.LivePreview
	UpdateService *update.Service
}

// NewRouter builds the chi router with the full middleware stack and all
// API routes mounted under /api.
func NewRouter(deps *Dependencies) *chi.Mux {
	cfg := deps.Config.Config

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger(log.Logger))
	r.Use(middleware.Recoverer)

	r.Use(cors.New(cors.Options{
		AllowOriginFunc: func(origin string) bool {
			return true
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	r.Use(middleware.SelectiveCompress(1024, 5, true, true))

	instancesHandler := handlers.NewInstancesHandler(deps.InstanceStore, deps.ClientPool)
	capabilitiesHandler := handlers.NewCapabilitiesHandler(deps.InstanceStore, deps.ClientPool)
	metadataHandler := handlers.NewMetadataHandler(deps.ClientPool)
	rulesHandler := handlers.NewRulesHandler(deps.RuleStore, deps.ActivityStore, deps.InstanceStore, deps.RulesService, deps.LivePreview)
	trackerRulesHandler := handlers.NewTrackerRulesHandler(deps.TrackerRuleStore)
	programsHandler := handlers.NewExternalProgramsHandler(deps.ExternalProgramStore, cfg.ExternalProgramAllowList)
	versionHandler := handlers.NewVersionHandler(deps.UpdateService)
	healthHandler := handlers.NewHealthHandler()

	r.Route("/health", healthHandler.Routes)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyFromQuery("apikey"))
		r.Use(middleware.RequireAPIKey(cfg))
		r.Use(middleware.RequireAuthDisabledIPAllowlist(cfg))
		r.Use(middleware.ThrottleBacklog(100, 50, time.Second*10))

		r.Get("/version", versionHandler.GetVersion)
		r.Get("/version/latest", versionHandler.GetLatestVersion)
		r.Post("/version/update", versionHandler.SelfUpdate)

		r.Post("/rules/validate-regex", rulesHandler.ValidateRegex)

		r.Route("/external-programs", func(r chi.Router) {
			r.Get("/", programsHandler.List)
			r.Post("/", programsHandler.Create)
			r.Route("/{programID}", func(r chi.Router) {
				r.Get("/", programsHandler.Get)
				r.Put("/", programsHandler.Update)
				r.Delete("/", programsHandler.Delete)
			})
		})

		r.Route("/instances", func(r chi.Router) {
			r.Get("/", instancesHandler.ListInstances)
			r.Post("/", instancesHandler.CreateInstance)

			r.Route("/{instanceID}", func(r chi.Router) {
				r.Get("/", instancesHandler.GetInstance)
				r.Put("/", instancesHandler.UpdateInstance)
				r.Delete("/", instancesHandler.DeleteInstance)
				r.Post("/test", instancesHandler.TestConnection)
				r.Get("/capabilities", capabilitiesHandler.GetInstanceCapabilities)

				r.Get("/categories", metadataHandler.GetCategories)
				r.Get("/tags", metadataHandler.GetTags)
				r.Get("/trackers", metadataHandler.GetTrackers)

				r.Route("/rules", func(r chi.Router) {
					r.Get("/", rulesHandler.List)
					r.Post("/", rulesHandler.Create)
					r.Put("/reorder", rulesHandler.Reorder)
					r.Post("/preview", rulesHandler.Preview)
					r.Post("/apply", rulesHandler.ApplyNow)
					r.Get("/activity", rulesHandler.ListActivity)
					r.Delete("/activity", rulesHandler.DeleteActivity)

					r.Route("/{ruleID}", func(r chi.Router) {
						r.Get("/", rulesHandler.Get)
						r.Put("/", rulesHandler.Update)
						r.Delete("/", rulesHandler.Delete)
						r.Patch("/enabled", rulesHandler.SetEnabled)
						r.Post("/dry-run", rulesHandler.DryRun)
						r.Get("/activity", rulesHandler.ListRuleActivity)
					})
				})

				r.Route("/tracker-rules", func(r chi.Router) {
					r.Get("/", trackerRulesHandler.List)
					r.Post("/", trackerRulesHandler.Create)
					r.Route("/{trackerRuleID}", func(r chi.Router) {
						r.Put("/", trackerRulesHandler.Update)
						r.Delete("/", trackerRulesHandler.Delete)
					})
				})
			})
		})
	})

	if cfg.PprofEnabled {
		mountPprof(r)
	}

	return r
}
