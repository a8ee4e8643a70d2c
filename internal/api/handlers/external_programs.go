// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/qrules/internal/models"
	"github.com/autobrr/qrules/internal/services/programs"
)

// ExternalProgramsHandler manages the registry of executables that the
// externalProgram rule action can launch. Registration is validated
// against the configured allow list so a rule can never point at a path
// the operator has not sanctioned.
type ExternalProgramsHandler struct {
	store     *models.ExternalProgramStore
	allowList []string
}

func NewExternalProgramsHandler(store *models.ExternalProgramStore, allowList []string) *ExternalProgramsHandler {
	return &ExternalProgramsHandler{store: store, allowList: allowList}
}

type ExternalProgramPayload struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	ArgsTemplate string `json:"argsTemplate"`
	Enabled      *bool  `json:"enabled"`
}

func (p *ExternalProgramPayload) toModel(id int) *models.ExternalProgram {
	program := &models.ExternalProgram{
		ID:           id,
		Name:         strings.TrimSpace(p.Name),
		Path:         strings.TrimSpace(p.Path),
		ArgsTemplate: strings.TrimSpace(p.ArgsTemplate),
		Enabled:      true,
	}
	if p.Enabled != nil {
		program.Enabled = *p.Enabled
	}
	return program
}

func (h *ExternalProgramsHandler) validate(w http.ResponseWriter, program *models.ExternalProgram) bool {
	if err := program.Validate(); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	if !programs.IsPathAllowed(program.Path, h.allowList) {
		RespondError(w, http.StatusBadRequest, "Program path is not in the allow list")
		return false
	}
	return true
}

func parseProgramID(w http.ResponseWriter, r *http.Request) (int, bool) {
	return ParsePositiveIntParam(w, r, "programID", "program ID")
}

func (h *ExternalProgramsHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list external programs")
		RespondError(w, http.StatusInternalServerError, "Failed to load external programs")
		return
	}

	if list == nil {
		list = []*models.ExternalProgram{}
	}
	RespondJSON(w, http.StatusOK, list)
}

func (h *ExternalProgramsHandler) Get(w http.ResponseWriter, r *http.Request) {
	programID, ok := parseProgramID(w, r)
	if !ok {
		return
	}

	program, err := h.store.Get(r.Context(), programID)
	if err != nil {
		RespondDBError(w, err, "External program not found", "Failed to load external program")
		return
	}

	RespondJSON(w, http.StatusOK, program)
}

func (h *ExternalProgramsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload ExternalProgramPayload
	if !DecodeJSON(w, r, &payload) {
		return
	}

	program := payload.toModel(0)
	if !h.validate(w, program) {
		return
	}

	created, err := h.store.Create(r.Context(), program)
	if err != nil {
		log.Error().Err(err).Str("name", program.Name).Msg("failed to create external program")
		RespondError(w, http.StatusInternalServerError, "Failed to create external program")
		return
	}

	RespondJSON(w, http.StatusCreated, created)
}

func (h *ExternalProgramsHandler) Update(w http.ResponseWriter, r *http.Request) {
	programID, ok := parseProgramID(w, r)
	if !ok {
		return
	}

	var payload ExternalProgramPayload
	if !DecodeJSON(w, r, &payload) {
		return
	}

	program := payload.toModel(programID)
	if !h.validate(w, program) {
		return
	}

	updated, err := h.store.Update(r.Context(), program)
	if err != nil {
		RespondDBError(w, err, "External program not found", "Failed to update external program")
		return
	}

	RespondJSON(w, http.StatusOK, updated)
}

func (h *ExternalProgramsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	programID, ok := parseProgramID(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), programID); err != nil {
		RespondDBError(w, err, "External program not found", "Failed to delete external program")
		return
	}

	RespondJSON(w, http.StatusNoContent, nil)
}
