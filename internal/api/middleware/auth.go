// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/qrules/internal/domain"
)

// RequireAPIKey rejects requests that do not carry the configured API key
// in the X-API-Key header. When authentication is disabled the check is
// skipped entirely; RequireAuthDisabledIPAllowlist guards that mode.
func RequireAPIKey(cfg *domain.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg != nil && cfg.IsAuthDisabled() {
				next.ServeHTTP(w, r)
				return
			}

			if cfg == nil || cfg.APIKey == "" {
				log.Error().Msg("No API key configured, rejecting request")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" || subtle.ConstantTimeCompare([]byte(apiKey), []byte(cfg.APIKey)) != 1 {
				log.Warn().Str("remote_addr", r.RemoteAddr).Msg("Invalid API key")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
