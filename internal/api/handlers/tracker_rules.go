// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/qrules/internal/models"
)

// TrackerRulesHandler serves the legacy flat per-tracker rule shape.
// These rules stay editable alongside action-envelope rules; the engine
// converts them at evaluation time.
type TrackerRulesHandler struct {
	store *models.TrackerRuleStore
}

func NewTrackerRulesHandler(store *models.TrackerRuleStore) *TrackerRulesHandler {
	return &TrackerRulesHandler{store: store}
}

type TrackerRulePayload struct {
	Name                    string   `json:"name"`
	TrackerPattern          string   `json:"trackerPattern"`
	TrackerDomains          []string `json:"trackerDomains"`
	Category                *string  `json:"category,omitempty"`
	Tag                     *string  `json:"tag,omitempty"`
	UploadLimitKiB          *int64   `json:"uploadLimitKiB,omitempty"`
	DownloadLimitKiB        *int64   `json:"downloadLimitKiB,omitempty"`
	RatioLimit              *float64 `json:"ratioLimit,omitempty"`
	SeedingTimeLimitMinutes *int64   `json:"seedingTimeLimitMinutes,omitempty"`
	DeleteMode              *string  `json:"deleteMode,omitempty"`
	DeleteUnregistered      bool     `json:"deleteUnregistered"`
	Enabled                 *bool    `json:"enabled"`
}

func (p *TrackerRulePayload) toModel(instanceID, id int) *models.TrackerRule {
	pattern := strings.TrimSpace(p.TrackerPattern)
	if domains := normalizeTrackerDomains(p.TrackerDomains); len(domains) > 0 {
		pattern = strings.Join(domains, ",")
	}

	rule := &models.TrackerRule{
		ID:                      id,
		InstanceID:              instanceID,
		Name:                    strings.TrimSpace(p.Name),
		TrackerPattern:          pattern,
		Category:                p.Category,
		Tag:                     p.Tag,
		UploadLimitKiB:          p.UploadLimitKiB,
		DownloadLimitKiB:        p.DownloadLimitKiB,
		RatioLimit:              p.RatioLimit,
		SeedingTimeLimitMinutes: p.SeedingTimeLimitMinutes,
		DeleteMode:              p.DeleteMode,
		DeleteUnregistered:      p.DeleteUnregistered,
		Enabled:                 true,
	}
	if p.Enabled != nil {
		rule.Enabled = *p.Enabled
	}
	return rule
}

func parseTrackerRuleID(w http.ResponseWriter, r *http.Request) (int, bool) {
	return ParsePositiveIntParam(w, r, "trackerRuleID", "tracker rule ID")
}

func (h *TrackerRulesHandler) List(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := ParseInstanceID(w, r)
	if !ok {
		return
	}

	rules, err := h.store.ListByInstance(r.Context(), instanceID)
	if err != nil {
		log.Error().Err(err).Int("instanceID", instanceID).Msg("failed to list tracker rules")
		RespondError(w, http.StatusInternalServerError, "Failed to load tracker rules")
		return
	}

	if rules == nil {
		rules = []*models.TrackerRule{}
	}
	RespondJSON(w, http.StatusOK, rules)
}

func (h *TrackerRulesHandler) Create(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := ParseInstanceID(w, r)
	if !ok {
		return
	}

	var payload TrackerRulePayload
	if !DecodeJSON(w, r, &payload) {
		return
	}

	if strings.TrimSpace(payload.Name) == "" {
		RespondError(w, http.StatusBadRequest, "Name is required")
		return
	}

	rule := payload.toModel(instanceID, 0)
	if err := rule.Validate(); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.store.Create(r.Context(), rule)
	if err != nil {
		log.Error().Err(err).Int("instanceID", instanceID).Msg("failed to create tracker rule")
		RespondError(w, http.StatusInternalServerError, "Failed to create tracker rule")
		return
	}

	RespondJSON(w, http.StatusCreated, created)
}

func (h *TrackerRulesHandler) Update(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := ParseInstanceID(w, r)
	if !ok {
		return
	}
	ruleID, ok := parseTrackerRuleID(w, r)
	if !ok {
		return
	}

	var payload TrackerRulePayload
	if !DecodeJSON(w, r, &payload) {
		return
	}

	if strings.TrimSpace(payload.Name) == "" {
		RespondError(w, http.StatusBadRequest, "Name is required")
		return
	}

	rule := payload.toModel(instanceID, ruleID)
	if err := rule.Validate(); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.store.Update(r.Context(), rule)
	if err != nil {
		log.Error().Err(err).Int("instanceID", instanceID).Int("trackerRuleID", ruleID).Msg("failed to update tracker rule")
		RespondDBError(w, err, "Tracker rule not found", "Failed to update tracker rule")
		return
	}

	RespondJSON(w, http.StatusOK, updated)
}

func (h *TrackerRulesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := ParseInstanceID(w, r)
	if !ok {
		return
	}
	ruleID, ok := parseTrackerRuleID(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), ruleID); err != nil {
		log.Error().Err(err).Int("instanceID", instanceID).Int("trackerRuleID", ruleID).Msg("failed to delete tracker rule")
		RespondDBError(w, err, "Tracker rule not found", "Failed to delete tracker rule")
		return
	}

	RespondJSON(w, http.StatusNoContent, nil)
}
