// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/qrules/internal/domain"
	"github.com/autobrr/qrules/internal/models"
	internalqbittorrent "github.com/autobrr/qrules/internal/qbittorrent"
)

type InstancesHandler struct {
	instanceStore *models.InstanceStore
	clientPool    *internalqbittorrent.ClientPool
}

func NewInstancesHandler(instanceStore *models.InstanceStore, clientPool *internalqbittorrent.ClientPool) *InstancesHandler {
	return &InstancesHandler{
		instanceStore: instanceStore,
		clientPool:    clientPool,
	}
}

type CreateInstanceRequest struct {
	Name                  string  `json:"name"`
	Host                  string  `json:"host"`
	Username              string  `json:"username"`
	Password              string  `json:"password"`
	BasicUsername         *string `json:"basicUsername,omitempty"`
	BasicPassword         *string `json:"basicPassword,omitempty"`
	TLSSkipVerify         bool    `json:"tlsSkipVerify"`
	LocalFilesystemAccess bool    `json:"localFilesystemAccess"`
}

type UpdateInstanceRequest struct {
	Name                  string  `json:"name"`
	Host                  string  `json:"host"`
	Username              string  `json:"username"`
	Password              *string `json:"password,omitempty"` // nil keeps current
	BasicUsername         *string `json:"basicUsername,omitempty"`
	BasicPassword         *string `json:"basicPassword,omitempty"`
	TLSSkipVerify         bool    `json:"tlsSkipVerify"`
	LocalFilesystemAccess bool    `json:"localFilesystemAccess"`
	IsActive              *bool   `json:"isActive,omitempty"`
}

type InstanceResponse struct {
	ID                    int        `json:"id"`
	Name                  string     `json:"name"`
	Host                  string     `json:"host"`
	Username              string     `json:"username"`
	BasicUsername         *string    `json:"basicUsername,omitempty"`
	TLSSkipVerify         bool       `json:"tlsSkipVerify"`
	LocalFilesystemAccess bool       `json:"localFilesystemAccess"`
	IsActive              bool       `json:"isActive"`
	LastConnectedAt       *time.Time `json:"lastConnectedAt,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
	Connected             bool       `json:"connected"`
	ConnectionError       string     `json:"connectionError,omitempty"`
}

type TestConnectionResponse struct {
	Connected bool   `json:"connected"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

type DeleteInstanceResponse struct {
	Message string `json:"message"`
}

func (h *InstancesHandler) buildInstanceResponse(instance *models.Instance) InstanceResponse {
	response := InstanceResponse{
		ID:                    instance.ID,
		Name:                  instance.Name,
		Host:                  instance.Host,
		Username:              instance.Username,
		BasicUsername:         instance.BasicUsername,
		TLSSkipVerify:         instance.TLSSkipVerify,
		LocalFilesystemAccess: instance.LocalFilesystemAccess,
		IsActive:              instance.IsActive,
		LastConnectedAt:       instance.LastConnectedAt,
		CreatedAt:             instance.CreatedAt,
		UpdatedAt:             instance.UpdatedAt,
	}

	if remaining := h.clientPool.BackoffRemaining(instance.ID); remaining > 0 {
		response.ConnectionError = "instance is in connection backoff"
		return response
	}

	if client, ok := h.clientPool.Peek(instance.ID); ok {
		response.Connected = client.IsHealthy()
	}

	return response
}

func (h *InstancesHandler) ListInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := h.instanceStore.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list instances")
		RespondError(w, http.StatusInternalServerError, "Failed to list instances")
		return
	}

	responses := make([]InstanceResponse, 0, len(instances))
	for _, instance := range instances {
		responses = append(responses, h.buildInstanceResponse(instance))
	}

	RespondJSON(w, http.StatusOK, responses)
}

func (h *InstancesHandler) GetInstance(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := ParseInstanceID(w, r)
	if !ok {
		return
	}

	instance, err := h.instanceStore.Get(r.Context(), instanceID)
	if err != nil {
		RespondDBError(w, err, "Instance not found", "Failed to get instance")
		return
	}

	RespondJSON(w, http.StatusOK, h.buildInstanceResponse(instance))
}

func (h *InstancesHandler) CreateInstance(w http.ResponseWriter, r *http.Request) {
	var req CreateInstanceRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Host = strings.TrimSpace(req.Host)
	if req.Name == "" || req.Host == "" {
		RespondError(w, http.StatusBadRequest, "Name and host are required")
		return
	}

	instance := &models.Instance{
		Name:                  req.Name,
		Host:                  req.Host,
		Username:              req.Username,
		BasicUsername:         req.BasicUsername,
		TLSSkipVerify:         req.TLSSkipVerify,
		LocalFilesystemAccess: req.LocalFilesystemAccess,
		IsActive:              true,
	}

	created, err := h.instanceStore.Create(r.Context(), instance, req.Password, req.BasicPassword)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create instance")
		RespondError(w, http.StatusInternalServerError, "Failed to create instance")
		return
	}

	go h.testConnectionAsync(created.ID)

	RespondJSON(w, http.StatusCreated, h.buildInstanceResponse(created))
}

func (h *InstancesHandler) UpdateInstance(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := ParseInstanceID(w, r)
	if !ok {
		return
	}

	var req UpdateInstanceRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Host = strings.TrimSpace(req.Host)
	if req.Name == "" || req.Host == "" {
		RespondError(w, http.StatusBadRequest, "Name and host are required")
		return
	}

	instance, err := h.instanceStore.Get(r.Context(), instanceID)
	if err != nil {
		RespondDBError(w, err, "Instance not found", "Failed to get instance")
		return
	}

	instance.Name = req.Name
	instance.Host = req.Host
	instance.Username = req.Username
	instance.BasicUsername = req.BasicUsername
	instance.TLSSkipVerify = req.TLSSkipVerify
	instance.LocalFilesystemAccess = req.LocalFilesystemAccess
	if req.IsActive != nil {
		instance.IsActive = *req.IsActive
	}

	// Clients echo masked credentials back unchanged; treat them the same
	// as an omitted password and keep what is stored.
	if req.Password != nil && domain.IsRedactedString(*req.Password) {
		req.Password = nil
	}
	if req.BasicPassword != nil && domain.IsRedactedString(*req.BasicPassword) {
		req.BasicPassword = nil
	}

	updated, err := h.instanceStore.Update(r.Context(), instance, req.Password, req.BasicPassword)
	if err != nil {
		RespondDBError(w, err, "Instance not found", "Failed to update instance")
		return
	}

	// Stored credentials or host may have changed, force a reconnect.
	h.clientPool.RemoveClient(instanceID)

	go h.testConnectionAsync(updated.ID)

	RespondJSON(w, http.StatusOK, h.buildInstanceResponse(updated))
}

func (h *InstancesHandler) DeleteInstance(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := ParseInstanceID(w, r)
	if !ok {
		return
	}

	if err := h.instanceStore.Delete(r.Context(), instanceID); err != nil {
		RespondDBError(w, err, "Instance not found", "Failed to delete instance")
		return
	}

	h.clientPool.RemoveClient(instanceID)

	RespondJSON(w, http.StatusOK, DeleteInstanceResponse{
		Message: "Instance deleted successfully",
	})
}

func (h *InstancesHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := ParseInstanceID(w, r)
	if !ok {
		return
	}

	client, err := h.clientPool.GetClient(r.Context(), instanceID)
	if err != nil {
		RespondJSON(w, http.StatusOK, TestConnectionResponse{
			Connected: false,
			Error:     err.Error(),
		})
		return
	}

	if err := client.HealthCheck(r.Context()); err != nil {
		RespondJSON(w, http.StatusOK, TestConnectionResponse{
			Connected: false,
			Error:     err.Error(),
		})
		return
	}

	if err := h.instanceStore.MarkConnected(r.Context(), instanceID, true); err != nil {
		log.Warn().Err(err).Int("instanceID", instanceID).Msg("Failed to record connection time")
	}

	RespondJSON(w, http.StatusOK, TestConnectionResponse{
		Connected: true,
		Message:   "Connection successful",
	})
}

func (h *InstancesHandler) testConnectionAsync(instanceID int) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := h.clientPool.GetClient(ctx, instanceID)
	if err != nil {
		log.Warn().Err(err).Int("instanceID", instanceID).Msg("Failed to connect to instance")
		return
	}

	if err := client.HealthCheck(ctx); err != nil {
		log.Warn().Err(err).Int("instanceID", instanceID).Msg("Health check failed for instance")
		return
	}

	if err := h.instanceStore.MarkConnected(ctx, instanceID, true); err != nil {
		log.Warn().Err(err).Int("instanceID", instanceID).Msg("Failed to record connection time")
	}
}
