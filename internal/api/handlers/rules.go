// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/qrules/internal/models"
	rulespkg "github.com/autobrr/qrules/internal/rules"
	rulesvc "github.com/autobrr/qrules/internal/services/rules"
)

type RulesHandler struct {
	store         *models.RuleStore
	activityStore *models.ActivityStore
	instanceStore *models.InstanceStore
	service       *rulesvc.Service
	livePreview   *rulesvc.LivePreview
}

func NewRulesHandler(
	store *models.RuleStore,
	activityStore *models.ActivityStore,
	instanceStore *models.InstanceStore,
	service *rulesvc.Service,
	livePreview *rulesvc.LivePreview,
) *RulesHandler {
	return &RulesHandler{
		store:         store,
		activityStore: activityStore,
		instanceStore: instanceStore,
		service:       service,
		livePreview:   livePreview,
	}
}

type RulePayload struct {
	Name            string                   `json:"name"`
	TrackerPattern  string                   `json:"trackerPattern"`
	TrackerDomains  []string                 `json:"trackerDomains"`
	Enabled         *bool                    `json:"enabled"`
	SortOrder       *int                     `json:"sortOrder"`
	IntervalSeconds *int                     `json:"intervalSeconds"`
	Conditions      *rulespkg.Envelope       `json:"conditions"`
	Grouping        *rulespkg.GroupingConfig `json:"grouping,omitempty"`
	FreeSpaceSource *models.FreeSpaceSource  `json:"freeSpaceSource,omitempty"`
	PreviewLimit    *int                     `json:"previewLimit,omitempty"`
	PreviewOffset   *int                     `json:"previewOffset,omitempty"`
	PreviewView     string                   `json:"previewView,omitempty"`
}

func (p *RulePayload) toModel(instanceID, id int) *models.Rule {
	rule := &models.Rule{
		ID:              id,
		InstanceID:      instanceID,
		Name:            strings.TrimSpace(p.Name),
		Conditions:      p.Conditions,
		Grouping:        p.Grouping,
		FreeSpaceSource: p.FreeSpaceSource,
		IntervalSeconds: p.IntervalSeconds,
		Enabled:         true,
	}

	pattern := strings.TrimSpace(p.TrackerPattern)
	if domains := normalizeTrackerDomains(p.TrackerDomains); len(domains) > 0 {
		pattern = strings.Join(domains, ",")
	}
	if pattern != "" {
		rule.TrackerPattern = &pattern
	}

	if p.Enabled != nil {
		rule.Enabled = *p.Enabled
	}
	if p.SortOrder != nil {
		rule.SortOrder = *p.SortOrder
	}
	return rule
}

// RuleResponse is a rule plus any notices produced while saving it, such
// as a capability auto-correction.
type RuleResponse struct {
	*models.Rule
	Notices []string `json:"notices,omitempty"`
}

// validatePayload runs the request-level checks shared by create and
// update. It responds on failure and reports whether to continue.
func (h *RulesHandler) validatePayload(w http.ResponseWriter, payload *RulePayload) bool {
	if strings.TrimSpace(payload.Name) == "" {
		RespondError(w, http.StatusBadRequest, "Name is required")
		return false
	}

	isAllTrackers := strings.TrimSpace(payload.TrackerPattern) == "*"
	if !isAllTrackers && len(normalizeTrackerDomains(payload.TrackerDomains)) == 0 && strings.TrimSpace(payload.TrackerPattern) == "" {
		RespondError(w, http.StatusBadRequest, "Select at least one tracker or enable 'Apply to all'")
		return false
	}

	if payload.Conditions.IsEmpty() {
		RespondError(w, http.StatusBadRequest, "At least one action must be configured")
		return false
	}

	if errs := payload.Conditions.Validate(); len(errs) > 0 {
		RespondError(w, http.StatusBadRequest, errs[0].Error())
		return false
	}

	if err := payload.FreeSpaceSource.Validate(); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return false
	}

	if payload.IntervalSeconds != nil && *payload.IntervalSeconds < 30 {
		RespondError(w, http.StatusBadRequest, "Interval must be at least 30 seconds")
		return false
	}

	return true
}

// correctCapabilities downgrades settings the instance cannot satisfy. A
// path-type free space source needs local filesystem access; rather than
// persisting a rule that can never evaluate, the source falls back to the
// qBittorrent API and the response says so.
func (h *RulesHandler) correctCapabilities(r *http.Request, w http.ResponseWriter, instanceID int, rule *models.Rule) ([]string, bool) {
	if rule.FreeSpaceSource == nil || rule.FreeSpaceSource.Type != models.FreeSpaceSourcePath {
		return nil, true
	}

	instance, err := h.instanceStore.Get(r.Context(), instanceID)
	if err != nil {
		RespondDBError(w, err, "Instance not found", "Failed to validate rule")
		return nil, false
	}

	if instance.LocalFilesystemAccess {
		return nil, true
	}

	log.Warn().
		Int("instanceID", instanceID).
		Str("rule", rule.Name).
		Str("path", rule.FreeSpaceSource.Path).
		Msg("rules: instance has no local filesystem access, falling back to qBittorrent free space")

	rule.FreeSpaceSource = &models.FreeSpaceSource{Type: models.FreeSpaceSourceQbittorrent}
	return []string{"Path free space source requires local filesystem access; using qBittorrent free space instead"}, true
}

func (h *RulesHandler) List(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := ParseInstanceID(w, r)
	if !ok {
		return
	}

	rules, err := h.store.ListByInstance(r.Context(), instanceID)
	if err != nil {
		log.Error().Err(err).Int("instanceID", instanceID).Msg("failed to list rules")
		RespondError(w, http.StatusInternalServerError, "Failed to load rules")
		return
	}

	if rules == nil {
		rules = []*models.Rule{}
	}
	RespondJSON(w, http.StatusOK, rules)
}

func (h *RulesHandler) Get(w http.ResponseWriter, r *http.Request) {
	if _, ok := ParseInstanceID(w, r); !ok {
		return
	}
	ruleID, ok := ParseRuleID(w, r)
	if !ok {
		return
	}

	rule, err := h.store.Get(r.Context(), ruleID)
	if err != nil {
		RespondDBError(w, err, "Rule not found", "Failed to load rule")
		return
	}

	RespondJSON(w, http.StatusOK, rule)
}

func (h *RulesHandler) Create(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := ParseInstanceID(w, r)
	if !ok {
		return
	}

	var payload RulePayload
	if !DecodeJSON(w, r, &payload) {
		return
	}

	if !h.validatePayload(w, &payload) {
		return
	}

	rule := payload.toModel(instanceID, 0)

	notices, ok := h.correctCapabilities(r, w, instanceID, rule)
	if !ok {
		return
	}

	created, err := h.store.Create(r.Context(), rule)
	if err != nil {
		log.Error().Err(err).Int("instanceID", instanceID).Msg("failed to create rule")
		RespondError(w, http.StatusInternalServerError, "Failed to create rule")
		return
	}

	RespondJSON(w, http.StatusCreated, RuleResponse{Rule: created, Notices: notices})
}

func (h *RulesHandler) Update(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := ParseInstanceID(w, r)
	if !ok {
		return
	}
	ruleID, ok := ParseRuleID(w, r)
	if !ok {
		return
	}

	var payload RulePayload
	if !DecodeJSON(w, r, &payload) {
		return
	}

	if !h.validatePayload(w, &payload) {
		return
	}

	rule := payload.toModel(instanceID, ruleID)

	notices, ok := h.correctCapabilities(r, w, instanceID, rule)
	if !ok {
		return
	}

	updated, err := h.store.Update(r.Context(), rule)
	if err != nil {
		log.Error().Err(err).Int("instanceID", instanceID).Int("ruleID", ruleID).Msg("failed to update rule")
		RespondDBError(w, err, "Rule not found", "Failed to update rule")
		return
	}

	RespondJSON(w, http.StatusOK, RuleResponse{Rule: updated, Notices: notices})
}

func (h *RulesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := ParseInstanceID(w, r)
	if !ok {
		return
	}
	ruleID, ok := ParseRuleID(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), ruleID); err != nil {
		log.Error().Err(err).Int("instanceID", instanceID).Int("ruleID", ruleID).Msg("failed to delete rule")
		RespondDBError(w, err, "Rule not found", "Failed to delete rule")
		return
	}

	RespondJSON(w, http.StatusNoContent, nil)
}

func (h *RulesHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := ParseInstanceID(w, r)
	if !ok {
		return
	}

	var payload struct {
		OrderedIDs []int `json:"orderedIds"`
	}
	if !DecodeJSON(w, r, &payload) {
		return
	}
	if len(payload.OrderedIDs) == 0 {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.store.Reorder(r.Context(), instanceID, payload.OrderedIDs); err != nil {
		log.Error().Err(err).Int("instanceID", instanceID).Msg("failed to reorder rules")
		RespondError(w, http.StatusInternalServerError, "Failed to reorder rules")
		return
	}

	RespondJSON(w, http.StatusNoContent, nil)
}

type SetEnabledRequest struct {
	Enabled   bool `json:"enabled"`
	Confirmed bool `json:"confirmed"`
}

// SetEnabled toggles a rule. The first enable carries confirmed=true once
// the client's interstitial was answered, so it is recorded and never
// asked again.
func (h *RulesHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := ParseInstanceID(w, r)
	if !ok {
		return
	}
	ruleID, ok := ParseRuleID(w, r)
	if !ok {
		return
	}

	var req SetEnabledRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	if err := h.store.SetEnabled(r.Context(), ruleID, req.Enabled); err != nil {
		log.Error().Err(err).Int("instanceID", instanceID).Int("ruleID", ruleID).Msg("failed to toggle rule")
		RespondDBError(w, err, "Rule not found", "Failed to update rule")
		return
	}

	if req.Enabled && req.Confirmed {
		if err := h.store.ConfirmEnable(r.Context(), ruleID); err != nil {
			log.Error().Err(err).Int("ruleID", ruleID).Msg("failed to record enable confirmation")
		}
	}

	rule, err := h.store.Get(r.Context(), ruleID)
	if err != nil {
		RespondDBError(w, err, "Rule not found", "Failed to load rule")
		return
	}

	RespondJSON(w, http.StatusOK, rule)
}

// Preview evaluates an unsaved rule payload through the live preview
// scheduler. Bursts coalesce and only the newest submission's result is
// ever returned.
func (h *RulesHandler) Preview(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := ParseInstanceID(w, r)
	if !ok {
		return
	}

	var payload RulePayload
	if !DecodeJSON(w, r, &payload) {
		return
	}

	if payload.Conditions.IsEmpty() {
		RespondError(w, http.StatusBadRequest, "At least one action must be configured")
		return
	}
	if errs := payload.Conditions.Validate(); len(errs) > 0 {
		RespondError(w, http.StatusBadRequest, errs[0].Error())
		return
	}

	limit, offset := 25, 0
	if payload.PreviewLimit != nil && *payload.PreviewLimit > 0 {
		limit = *payload.PreviewLimit
	}
	if payload.PreviewOffset != nil && *payload.PreviewOffset >= 0 {
		offset = *payload.PreviewOffset
	}

	rule := payload.toModel(instanceID, 0)

	result, err := h.livePreview.Submit(r.Context(), instanceID, rule, limit, offset, payload.PreviewView)
	if err != nil {
		if respondIfInstanceInBackoff(w, err, instanceID, "preview") {
			return
		}
		log.Error().Err(err).Int("instanceID", instanceID).Msg("rules: preview failed")
		RespondError(w, http.StatusInternalServerError, "Failed to preview rule")
		return
	}

	RespondJSON(w, http.StatusOK, result)
}

// DryRun executes a saved rule in reporting-only mode and records an
// activity batch.
func (h *RulesHandler) DryRun(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := ParseInstanceID(w, r)
	if !ok {
		return
	}
	ruleID, ok := ParseRuleID(w, r)
	if !ok {
		return
	}

	rule, err := h.store.Get(r.Context(), ruleID)
	if err != nil {
		RespondDBError(w, err, "Rule not found", "Failed to load rule")
		return
	}

	result, err := h.service.DryRun(r.Context(), instanceID, rule)
	if err != nil {
		if respondIfInstanceInBackoff(w, err, instanceID, "dry-run") {
			return
		}
		log.Error().Err(err).Int("instanceID", instanceID).Int("ruleID", ruleID).Msg("rules: dry run failed")
		RespondError(w, http.StatusInternalServerError, "Failed to dry run rule")
		return
	}

	if err := h.store.TouchDryRun(r.Context(), ruleID); err != nil {
		log.Warn().Err(err).Int("ruleID", ruleID).Msg("failed to record dry run time")
	}

	RespondJSON(w, http.StatusOK, result)
}

// ApplyNow runs all of an instance's due rules immediately.
func (h *RulesHandler) ApplyNow(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := ParseInstanceID(w, r)
	if !ok {
		return
	}

	if h.service == nil {
		RespondError(w, http.StatusServiceUnavailable, "Rules service not available")
		return
	}

	if err := h.service.ApplyForInstance(r.Context(), instanceID); err != nil {
		if respondIfInstanceInBackoff(w, err, instanceID, "apply") {
			return
		}
		log.Error().Err(err).Int("instanceID", instanceID).Msg("rules: manual apply failed")
		RespondError(w, http.StatusInternalServerError, "Failed to apply rules")
		return
	}

	RespondJSON(w, http.StatusAccepted, map[string]string{"status": "applied"})
}

func (h *RulesHandler) ListActivity(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := ParseInstanceID(w, r)
	if !ok {
		return
	}

	p := ParsePagination(r, 100, 500)

	activities, err := h.activityStore.ListByInstance(r.Context(), instanceID, p.Limit, p.Offset)
	if err != nil {
		log.Error().Err(err).Int("instanceID", instanceID).Msg("failed to list rule activity")
		RespondError(w, http.StatusInternalServerError, "Failed to load activity")
		return
	}

	if activities == nil {
		activities = []*models.RuleActivity{}
	}
	RespondJSON(w, http.StatusOK, activities)
}

func (h *RulesHandler) ListRuleActivity(w http.ResponseWriter, r *http.Request) {
	if _, ok := ParseInstanceID(w, r); !ok {
		return
	}
	ruleID, ok := ParseRuleID(w, r)
	if !ok {
		return
	}

	p := ParsePagination(r, 100, 500)

	activities, err := h.activityStore.ListByRule(r.Context(), ruleID, p.Limit)
	if err != nil {
		log.Error().Err(err).Int("ruleID", ruleID).Msg("failed to list rule activity")
		RespondError(w, http.StatusInternalServerError, "Failed to load activity")
		return
	}

	if activities == nil {
		activities = []*models.RuleActivity{}
	}
	RespondJSON(w, http.StatusOK, activities)
}

func (h *RulesHandler) DeleteActivity(w http.ResponseWriter, r *http.Request) {
	if _, ok := ParseInstanceID(w, r); !ok {
		return
	}

	olderThanDays := 7
	if olderThanStr := r.URL.Query().Get("older_than"); olderThanStr != "" {
		if parsed, err := strconv.Atoi(olderThanStr); err == nil && parsed >= 0 {
			olderThanDays = parsed
		}
	}

	deleted, err := h.activityStore.DeleteOlderThan(r.Context(), olderThanDays)
	if err != nil {
		log.Error().Err(err).Int("olderThanDays", olderThanDays).Msg("failed to delete rule activity")
		RespondError(w, http.StatusInternalServerError, "Failed to delete activity")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

type ValidateRegexRequest struct {
	Pattern string `json:"pattern"`
}

type ValidateRegexResponse struct {
	Valid   bool   `json:"valid"`
	Pattern string `json:"pattern"`
	Error   string `json:"error,omitempty"`
}

// ValidateRegex compile-checks a regex the way condition evaluation will
// run it: case-insensitive.
func (h *RulesHandler) ValidateRegex(w http.ResponseWriter, r *http.Request) {
	var req ValidateRegexRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	if req.Pattern == "" {
		RespondError(w, http.StatusBadRequest, "Pattern is required")
		return
	}

	if _, err := regexp.Compile("(?i)" + req.Pattern); err != nil {
		RespondJSON(w, http.StatusBadRequest, ValidateRegexResponse{
			Valid:   false,
			Pattern: req.Pattern,
			Error:   err.Error(),
		})
		return
	}

	RespondJSON(w, http.StatusOK, ValidateRegexResponse{
		Valid:   true,
		Pattern: req.Pattern,
	})
}

func normalizeTrackerDomains(domains []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, d := range domains {
		trimmed := strings.ToLower(strings.TrimSpace(d))
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
