// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/qrules/internal/buildinfo"
	"github.com/autobrr/qrules/internal/update"
)

type VersionHandler struct {
	updateService *update.Service
}

func NewVersionHandler(updateService *update.Service) *VersionHandler {
	return &VersionHandler{
		updateService: updateService,
	}
}

// VersionResponse describes the running build.
type VersionResponse struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	Date    string `json:"date,omitempty"`
}

// LatestVersionResponse describes the newest available release.
type LatestVersionResponse struct {
	TagName     string `json:"tagName"`
	Name        string `json:"name,omitempty"`
	HTMLURL     string `json:"htmlUrl"`
	PublishedAt string `json:"publishedAt"`
}

// GetVersion returns the current build information.
func (h *VersionHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, VersionResponse{
		Version: buildinfo.Version,
		Commit:  buildinfo.Commit,
		Date:    buildinfo.Date,
	})
}

// GetLatestVersion returns the latest known release, or 204 when the
// running build is current.
func (h *VersionHandler) GetLatestVersion(w http.ResponseWriter, r *http.Request) {
	release := h.updateService.GetLatestRelease(r.Context())
	if release == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := LatestVersionResponse{
		TagName:     release.TagName,
		HTMLURL:     release.HTMLURL,
		PublishedAt: release.PublishedAt.Format(time.RFC3339),
	}
	if release.Name != nil {
		resp.Name = *release.Name
	}

	RespondJSON(w, http.StatusOK, resp)
}

// SelfUpdate replaces the running binary with the latest release and
// re-execs it. Not available on Windows or inside containers.
func (h *VersionHandler) SelfUpdate(w http.ResponseWriter, r *http.Request) {
	if !h.updateService.CanSelfUpdate() {
		RespondError(w, http.StatusConflict, "Self-update is not supported in this environment")
		return
	}

	updater := update.NewUpdater(update.Config{
		Repository: "autobrr/qrules",
		Version:    buildinfo.Version,
	})

	if err := updater.Run(r.Context()); err != nil {
		log.Error().Err(err).Msg("Self-update failed")
		RespondError(w, http.StatusInternalServerError, "Failed to apply update")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{"status": "restarting"})

	go func() {
		time.Sleep(500 * time.Millisecond)

		if err := restartSelf(); err != nil {
			log.Error().Err(err).Msg("Failed to restart after update")
		}
	}()
}
