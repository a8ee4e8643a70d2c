// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// MetricsServer exposes the Prometheus registry on its own listener,
// separate from the API server, optionally behind basic auth.
type MetricsServer struct {
	server         *http.Server
	manager        *Manager
	basicAuthUsers map[string]string
}

func NewMetricsServer(manager *Manager, host string, port int, basicAuthUsers string) *MetricsServer {
	users := parseBasicAuthUsers(basicAuthUsers)

	mux := http.NewServeMux()

	var metricsHandler http.Handler = promhttp.HandlerFor(
		manager.GetRegistry(),
		promhttp.HandlerOpts{},
	)
	if len(users) > 0 {
		metricsHandler = BasicAuth("metrics", users)(metricsHandler)
	}
	mux.Handle("/metrics", metricsHandler)

	return &MetricsServer{
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", host, port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		manager:        manager,
		basicAuthUsers: users,
	}
}

// parseBasicAuthUsers parses "user1:pass1,user2:pass2". Entries without
// a colon are skipped with a warning.
func parseBasicAuthUsers(s string) map[string]string {
	users := make(map[string]string)
	for entry := range strings.SplitSeq(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		username, password, found := strings.Cut(entry, ":")
		if !found || username == "" || password == "" {
			log.Warn().Str("entry", entry).Msg("Skipping invalid metrics basic auth entry")
			continue
		}
		users[strings.TrimSpace(username)] = strings.TrimSpace(password)
	}
	return users
}

// BasicAuth returns a middleware enforcing HTTP basic auth against the
// given user map.
func BasicAuth(realm string, users map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, ok := r.BasicAuth()
			if !ok {
				basicAuthFailed(w, realm)
				return
			}

			expected, found := users[username]
			if !found || subtle.ConstantTimeCompare([]byte(password), []byte(expected)) != 1 {
				basicAuthFailed(w, realm)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func basicAuthFailed(w http.ResponseWriter, realm string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm=%q`, realm))
	w.WriteHeader(http.StatusUnauthorized)
}

func (s *MetricsServer) ListenAndServe() error {
	log.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *MetricsServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
