// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/autobrr/qrules/internal/models"
	internalqbittorrent "github.com/autobrr/qrules/internal/qbittorrent"
)

// InstanceCapabilitiesResponse describes supported features for an instance.
type InstanceCapabilitiesResponse struct {
	SupportsSetTags             bool   `json:"supportsSetTags"`
	SupportsTrackerHealth       bool   `json:"supportsTrackerHealth"`
	SupportsFreeSpacePathSource bool   `json:"supportsFreeSpacePathSource"`
	SupportsPathAutocomplete    bool   `json:"supportsPathAutocomplete"`
	WebAPIVersion               string `json:"webAPIVersion,omitempty"`
}

// NewInstanceCapabilitiesResponse derives the capability set from the
// connected client and the instance's filesystem access setting.
func NewInstanceCapabilitiesResponse(client *internalqbittorrent.Client, instance *models.Instance) InstanceCapabilitiesResponse {
	capabilities := InstanceCapabilitiesResponse{
		SupportsFreeSpacePathSource: instance.LocalFilesystemAccess,
		SupportsPathAutocomplete:    instance.LocalFilesystemAccess,
	}

	if client != nil {
		capabilities.SupportsSetTags = client.SupportsSetTags()
		capabilities.SupportsTrackerHealth = client.IsHealthy()
		if version := client.WebAPIVersion(); version != "" {
			capabilities.WebAPIVersion = version
		}
	}

	return capabilities
}

type CapabilitiesHandler struct {
	instanceStore *models.InstanceStore
	clientPool    *internalqbittorrent.ClientPool
}

func NewCapabilitiesHandler(instanceStore *models.InstanceStore, clientPool *internalqbittorrent.ClientPool) *CapabilitiesHandler {
	return &CapabilitiesHandler{
		instanceStore: instanceStore,
		clientPool:    clientPool,
	}
}

// GetInstanceCapabilities reports what the instance supports. An
// unreachable instance still gets a response, with the client-derived
// capabilities cleared.
func (h *CapabilitiesHandler) GetInstanceCapabilities(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := ParseInstanceID(w, r)
	if !ok {
		return
	}

	instance, err := h.instanceStore.Get(r.Context(), instanceID)
	if err != nil {
		RespondDBError(w, err, "Instance not found", "Failed to get instance")
		return
	}

	client, _ := h.clientPool.GetClient(r.Context(), instanceID)

	RespondJSON(w, http.StatusOK, NewInstanceCapabilitiesResponse(client, instance))
}
