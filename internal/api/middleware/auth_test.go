// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/autobrr/qrules/internal/domain"
)

func TestRequireAPIKey(t *testing.T) {
	cfg := &domain.Config{APIKey: "valid-key"}

	okHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	handler := RequireAPIKey(cfg)(okHandler)

	tests := []struct {
		name           string
		apiKeyQuery    string
		apiKeyHeader   string
		expectedStatus int
	}{
		{
			name:           "request with X-API-Key header",
			apiKeyHeader:   "valid-key",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "request with invalid X-API-Key header",
			apiKeyHeader:   "invalid-key",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "request without auth",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "query param without promotion middleware is rejected",
			apiKeyQuery:    "valid-key",
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "/api/instances"
			if tt.apiKeyQuery != "" {
				url += "?apikey=" + tt.apiKeyQuery
			}

			req := httptest.NewRequest(http.MethodGet, url, nil)
			if tt.apiKeyHeader != "" {
				req.Header.Set("X-API-Key", tt.apiKeyHeader)
			}

			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, req)

			assert.Equal(t, tt.expectedStatus, resp.Code, "unexpected status for %s", tt.name)
		})
	}
}

func TestRequireAPIKey_NoKeyConfigured(t *testing.T) {
	handler := RequireAPIKey(&domain.Config{})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/instances", nil)
	req.Header.Set("X-API-Key", "anything")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestRequireAPIKey_AuthDisabled(t *testing.T) {
	cfg := &domain.Config{
		AuthDisabled:             true,
		AuthDisabledAllowedCIDRs: []string{"127.0.0.1/32"},
	}

	handler := RequireAPIKey(cfg)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/instances", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
}
