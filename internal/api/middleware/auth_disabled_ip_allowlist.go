// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/qrules/internal/domain"
)

// RequireAuthDisabledIPAllowlist gates requests on
// authDisabledAllowedCIDRs when API key authentication is switched
// off. With auth enabled it is a no-op; with auth disabled and no
// valid allowlist everything is refused, never the other way around.
func RequireAuthDisabledIPAllowlist(cfg *domain.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg == nil || !cfg.IsAuthDisabled() {
				next.ServeHTTP(w, r)
				return
			}

			if !remoteAddrAllowed(cfg, r.RemoteAddr) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func remoteAddrAllowed(cfg *domain.Config, remoteAddr string) bool {
	prefixes, err := cfg.ParseAuthDisabledAllowedCIDRs()
	if err != nil || len(prefixes) == 0 {
		log.Error().Err(err).Msg("auth-disabled mode is misconfigured: authDisabledAllowedCIDRs is invalid or empty")
		return false
	}

	addr, err := parseRemoteAddrIP(remoteAddr)
	if err != nil {
		log.Warn().Err(err).Str("remote_addr", remoteAddr).Msg("Failed to parse remote address for auth-disabled allowlist")
		return false
	}

	for _, prefix := range prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}

	log.Warn().
		Str("remote_addr", remoteAddr).
		Str("ip", addr.String()).
		Msg("Blocked request in auth-disabled mode: client IP not in authDisabledAllowedCIDRs")
	return false
}

// parseRemoteAddrIP handles both bare addresses and host:port forms,
// with or without IPv6 brackets. Mapped IPv4 addresses are unmapped so
// IPv4 CIDRs match them.
func parseRemoteAddrIP(remoteAddr string) (netip.Addr, error) {
	trimmed := strings.TrimSpace(remoteAddr)
	if addr, err := netip.ParseAddr(strings.Trim(trimmed, "[]")); err == nil {
		return addr.Unmap(), nil
	}

	host, _, err := net.SplitHostPort(trimmed)
	if err != nil {
		return netip.Addr{}, err
	}

	addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		return netip.Addr{}, err
	}

	return addr.Unmap(), nil
}
