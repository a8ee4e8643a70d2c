// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"sort"
	"strings"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/rs/zerolog/log"

	internalqbittorrent "github.com/autobrr/qrules/internal/qbittorrent"
)

// MetadataHandler serves the instance-scoped name lists the rule editor
// autocompletes from: categories, tags and tracker domains.
type MetadataHandler struct {
	clientPool *internalqbittorrent.ClientPool
}

func NewMetadataHandler(clientPool *internalqbittorrent.ClientPool) *MetadataHandler {
	return &MetadataHandler{
		clientPool: clientPool,
	}
}

func (h *MetadataHandler) GetCategories(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := ParseInstanceID(w, r)
	if !ok {
		return
	}

	client, err := h.clientPool.GetClient(r.Context(), instanceID)
	if err != nil {
		if respondIfInstanceInBackoff(w, err, instanceID, "categories") {
			return
		}
		log.Error().Err(err).Int("instanceID", instanceID).Msg("Failed to get client for categories")
		RespondError(w, http.StatusInternalServerError, "Failed to connect to instance")
		return
	}

	categories, err := client.GetCategoriesCtx(r.Context())
	if err != nil {
		log.Error().Err(err).Int("instanceID", instanceID).Msg("Failed to get categories")
		RespondError(w, http.StatusInternalServerError, "Failed to get categories")
		return
	}

	names := make([]string, 0, len(categories))
	for name := range categories {
		names = append(names, name)
	}

	RespondJSON(w, http.StatusOK, filterAndSort(names, r.URL.Query().Get("search")))
}

func (h *MetadataHandler) GetTags(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := ParseInstanceID(w, r)
	if !ok {
		return
	}

	client, err := h.clientPool.GetClient(r.Context(), instanceID)
	if err != nil {
		if respondIfInstanceInBackoff(w, err, instanceID, "tags") {
			return
		}
		log.Error().Err(err).Int("instanceID", instanceID).Msg("Failed to get client for tags")
		RespondError(w, http.StatusInternalServerError, "Failed to connect to instance")
		return
	}

	tags, err := client.GetTagsCtx(r.Context())
	if err != nil {
		log.Error().Err(err).Int("instanceID", instanceID).Msg("Failed to get tags")
		RespondError(w, http.StatusInternalServerError, "Failed to get tags")
		return
	}

	RespondJSON(w, http.StatusOK, filterAndSort(tags, r.URL.Query().Get("search")))
}

func (h *MetadataHandler) GetTrackers(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := ParseInstanceID(w, r)
	if !ok {
		return
	}

	client, err := h.clientPool.GetClient(r.Context(), instanceID)
	if err != nil {
		if respondIfInstanceInBackoff(w, err, instanceID, "trackers") {
			return
		}
		log.Error().Err(err).Int("instanceID", instanceID).Msg("Failed to get client for trackers")
		RespondError(w, http.StatusInternalServerError, "Failed to connect to instance")
		return
	}

	torrents, err := client.GetTorrentsCtx(r.Context(), qbt.TorrentFilterOptions{})
	if err != nil {
		log.Error().Err(err).Int("instanceID", instanceID).Msg("Failed to list torrents for trackers")
		RespondError(w, http.StatusInternalServerError, "Failed to get trackers")
		return
	}

	set := make(map[string]struct{})
	for _, t := range torrents {
		if t.Tracker == "" {
			continue
		}
		if domain := internalqbittorrent.ExtractTrackerDomain(t.Tracker); domain != "" {
			set[domain] = struct{}{}
		}
	}

	domains := make([]string, 0, len(set))
	for d := range set {
		domains = append(domains, d)
	}

	RespondJSON(w, http.StatusOK, filterAndSort(domains, r.URL.Query().Get("search")))
}

// filterAndSort narrows names to fuzzy matches of search, best matches
// first. An empty search returns everything alphabetically.
func filterAndSort(names []string, search string) []string {
	search = strings.TrimSpace(search)
	if search == "" {
		sort.Strings(names)
		return names
	}

	type rankedName struct {
		name string
		rank int
	}

	matches := make([]rankedName, 0, len(names))
	for _, name := range names {
		if fuzzy.MatchNormalizedFold(search, name) {
			matches = append(matches, rankedName{
				name: name,
				rank: fuzzy.RankMatchNormalizedFold(search, name),
			})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].rank != matches[j].rank {
			return matches[i].rank < matches[j].rank
		}
		return matches[i].name < matches[j].name
	})

	result := make([]string, 0, len(matches))
	for _, m := range matches {
		result = append(result, m.name)
	}
	return result
}
