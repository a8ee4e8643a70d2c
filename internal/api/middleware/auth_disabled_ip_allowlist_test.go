// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/qrules/internal/domain"
)

func authDisabledConfig(cidrs ...string) *domain.Config {
	return &domain.Config{
		AuthDisabled:             true,
		AuthDisabledAllowedCIDRs: cidrs,
	}
}

func TestRequireAuthDisabledIPAllowlist(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		cfg        *domain.Config
		remoteAddr string
		wantStatus int
	}{
		{
			name:       "passes through when config is nil",
			cfg:        nil,
			remoteAddr: "203.0.113.10:12345",
			wantStatus: http.StatusOK,
		},
		{
			name:       "passes when auth-disabled mode is off",
			cfg:        &domain.Config{},
			remoteAddr: "203.0.113.10:12345",
			wantStatus: http.StatusOK,
		},
		{
			name:       "allows loopback from its /32",
			cfg:        authDisabledConfig("127.0.0.1/32"),
			remoteAddr: "127.0.0.1:54321",
			wantStatus: http.StatusOK,
		},
		{
			name:       "allows a LAN range",
			cfg:        authDisabledConfig("192.168.1.0/24"),
			remoteAddr: "192.168.1.42:6881",
			wantStatus: http.StatusOK,
		},
		{
			name:       "mapped IPv4 remote matches an IPv4 CIDR",
			cfg:        authDisabledConfig("192.168.1.0/24"),
			remoteAddr: "[::ffff:192.168.1.42]:6881",
			wantStatus: http.StatusOK,
		},
		{
			name:       "IPv6 remote against IPv6 prefix",
			cfg:        authDisabledConfig("fd00::/8"),
			remoteAddr: "[fd12:3456::1]:6881",
			wantStatus: http.StatusOK,
		},
		{
			name:       "blocks request outside every range",
			cfg:        authDisabledConfig("127.0.0.1/32", "192.168.1.0/24"),
			remoteAddr: "203.0.113.10:54321",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "blocks everything when the list is invalid",
			cfg:        authDisabledConfig("not-a-cidr"),
			remoteAddr: "127.0.0.1:54321",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "blocks everything when the list is empty",
			cfg:        authDisabledConfig(),
			remoteAddr: "127.0.0.1:54321",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "blocks unparsable remote address",
			cfg:        authDisabledConfig("127.0.0.1/32"),
			remoteAddr: "garbage",
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := RequireAuthDisabledIPAllowlist(tc.cfg)(inner)

			req := httptest.NewRequest(http.MethodGet, "/api/instances", nil)
			req.RemoteAddr = tc.remoteAddr
			resp := httptest.NewRecorder()

			handler.ServeHTTP(resp, req)
			assert.Equal(t, tc.wantStatus, resp.Code)
		})
	}
}

func TestParseRemoteAddrIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"127.0.0.1:54321", "127.0.0.1"},
		{"127.0.0.1", "127.0.0.1"},
		{"[::1]:54321", "::1"},
		{"[::ffff:10.0.0.5]:80", "10.0.0.5"},
		{" 192.168.1.42:6881 ", "192.168.1.42"},
	}

	for _, tc := range tests {
		addr, err := parseRemoteAddrIP(tc.remoteAddr)
		require.NoError(t, err, tc.remoteAddr)
		assert.Equal(t, tc.want, addr.String(), tc.remoteAddr)
	}

	_, err := parseRemoteAddrIP("")
	assert.Error(t, err)
}
