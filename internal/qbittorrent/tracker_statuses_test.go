// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"testing"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/stretchr/testify/assert"
)

func TestTrackerMessageMatchesDown(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		message string
		want    bool
	}{
		{name: "tracker is down", message: "tracker is down", want: true},
		{name: "forbidden error", message: "forbidden", want: true},
		{name: "service unavailable", message: "service unavailable", want: true},
		{name: "bad gateway", message: "bad gateway", want: true},
		{name: "timeout", message: "Connection timed out", want: true},

		// Down-pattern words inside URLs must not match.
		{
			name:    "forbidden in URL path",
			message: "Trumped: Better Source: https://tracker.example.com/torrents/forbidden-planet-1956-1080p-x264.12345",
			want:    false,
		},
		{
			name:    "down in URL path",
			message: "Trumped: no bloated audio: https://tracker.example.com/torrents/showdown-in-tokyo-2020-720p-x264.67890",
			want:    false,
		},
		{
			name:    "multiple URLs with down-pattern words",
			message: "See: https://site.com/forbidden-path and https://site.com/breakdown-2023",
			want:    false,
		},

		// Error text outside the URL still matches.
		{name: "forbidden error with URL", message: "forbidden https://site.com/some-path", want: true},
		{name: "down error with URL", message: "tracker is down - see https://site.com/status", want: true},

		{name: "empty message", message: "", want: false},
		{name: "only URL", message: "https://example.com/forbidden-content", want: false},
		{name: "uppercase scheme", message: "Trumped: HTTPS://site.com/forbidden-world.123", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, TrackerMessageMatchesDown(tt.message))
		})
	}
}

func TestTrackerMessageMatchesUnregistered(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		message string
		want    bool
	}{
		{
			name:    "trumped with URL",
			message: "Trumped: Better Source: https://tracker.example.com/torrents/forbidden-planet-1956.12345",
			want:    true,
		},
		{name: "torrent not found", message: "torrent not found", want: true},
		{name: "unregistered", message: "Unregistered torrent", want: true},
		{name: "nuked", message: "This torrent has been nuked", want: true},
		{name: "dead", message: "Torrent is dead", want: true},
		{name: "deleted", message: "torrent has been deleted", want: true},

		{name: "working tracker", message: "Peers: 5 seeders, 2 leechers", want: false},
		{name: "empty message", message: "", want: false},
		{name: "dead in URL only", message: "https://site.com/dead-reckoning-2023", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, TrackerMessageMatchesUnregistered(tt.message))
		})
	}
}

func TestClassifyTrackers(t *testing.T) {
	t.Parallel()

	trackers := map[string][]qbt.TorrentTracker{
		"healthy": {
			{Url: "https://tracker.example.org/announce", Status: qbt.TrackerStatusOK},
		},
		"unregistered": {
			{Url: "https://tracker.example.org/announce", Status: qbt.TrackerStatusNotWorking, Message: "Unregistered torrent"},
		},
		"tracker-down": {
			{Url: "https://tracker.example.org/announce", Status: qbt.TrackerStatusNotWorking, Message: "service unavailable"},
		},
		"one-working-saves-it": {
			{Url: "https://a.example.org/announce", Status: qbt.TrackerStatusNotWorking, Message: "unregistered"},
			{Url: "https://b.example.org/announce", Status: qbt.TrackerStatusOK},
		},
		"unregistered-beats-down": {
			{Url: "https://a.example.org/announce", Status: qbt.TrackerStatusNotWorking, Message: "tracker is down"},
			{Url: "https://b.example.org/announce", Status: qbt.TrackerStatusNotWorking, Message: "torrent not found"},
		},
		"dht-only-ignored": {
			{Url: "** [DHT] **", Status: qbt.TrackerStatusNotWorking, Message: "unregistered"},
		},
	}

	health := ClassifyTrackers(trackers)

	assert.Contains(t, health.Unregistered, "unregistered")
	assert.Contains(t, health.Unregistered, "unregistered-beats-down")
	assert.Contains(t, health.TrackerDown, "tracker-down")

	assert.NotContains(t, health.Unregistered, "healthy")
	assert.NotContains(t, health.Unregistered, "one-working-saves-it")
	assert.NotContains(t, health.TrackerDown, "unregistered-beats-down")
	assert.NotContains(t, health.Unregistered, "dht-only-ignored")
	assert.NotContains(t, health.TrackerDown, "dht-only-ignored")
}

func TestExtractTrackerDomain(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "tracker.example.org", ExtractTrackerDomain("https://tracker.example.org:2710/announce?passkey=abc"))
	assert.Equal(t, "udp.example.net", ExtractTrackerDomain("udp://UDP.example.net:80"))
	assert.Equal(t, "", ExtractTrackerDomain("   "))
	assert.Equal(t, "not a url", ExtractTrackerDomain("Not A Url"))
}
