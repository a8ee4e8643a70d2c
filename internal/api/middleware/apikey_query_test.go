// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/autobrr/qrules/internal/domain"
)

func TestAPIKeyFromQuery_AllowsQueryParam(t *testing.T) {
	cfg := &domain.Config{APIKey: "valid-key"}

	okHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := APIKeyFromQuery("apikey")(RequireAPIKey(cfg)(okHandler))

	req := httptest.NewRequest(http.MethodGet, "/api/instances?apikey=valid-key", nil)
	resp := httptest.NewRecorder()

	handler.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
}

func TestAPIKeyFromQuery_HeaderWins(t *testing.T) {
	cfg := &domain.Config{APIKey: "valid-key"}

	handler := APIKeyFromQuery("apikey")(RequireAPIKey(cfg)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/instances?apikey=valid-key", nil)
	req.Header.Set("X-API-Key", "stale-key")
	resp := httptest.NewRecorder()

	handler.ServeHTTP(resp, req)

	require.Equal(t, http.StatusUnauthorized, resp.Code)
}
