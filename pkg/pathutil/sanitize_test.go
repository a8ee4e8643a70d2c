// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package pathutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizePathSegment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "simple name", input: "MyTracker", expected: "MyTracker"},
		{name: "spaces kept", input: "My Tracker", expected: "My Tracker"},
		{name: "illegal chars stripped", input: `Tracker<>:"/\|?*Name`, expected: "TrackerName"},
		{name: "trailing dots removed", input: "Tracker...", expected: "Tracker"},
		{name: "trailing spaces removed", input: "Tracker   ", expected: "Tracker"},
		{name: "reserved name CON", input: "CON", expected: "_CON"},
		{name: "reserved name COM1", input: "COM1", expected: "_COM1"},
		{name: "reserved name lowercase", input: "con", expected: "_con"},
		{name: "reserved name as substring is fine", input: "MyCON", expected: "MyCON"},
		{name: "empty becomes underscore", input: "", expected: "_"},
		{name: "all illegal becomes underscore", input: `<>:"/\|?*`, expected: "_"},
		{name: "brackets and punctuation kept", input: "Tracker [Private]!@#$%^&()", expected: "Tracker [Private]!@#$%^&()"},
		{name: "unicode preserved", input: "トラッカー", expected: "トラッカー"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, SanitizePathSegment(tt.input))
		})
	}
}

func TestTorrentKey(t *testing.T) {
	t.Parallel()

	hash := "abcdef1234567890abcdef1234567890abcdef12"

	key := TorrentKey(hash, "My.Movie.2024.1080p.BluRay.x264")
	assert.True(t, strings.HasPrefix(key, "abcdef12"))
	assert.Equal(t, key, TorrentKey(hash, "My.Movie.2024.1080p.BluRay.x264"))

	// Different hashes keep same-named torrents apart.
	other := TorrentKey("1234567890abcdef1234567890abcdef12345678", "My.Movie.2024.1080p.BluRay.x264")
	assert.NotEqual(t, key, other)

	// No illegal path characters survive.
	dirty := TorrentKey(hash, "Movie <with> special:chars")
	assert.NotContains(t, dirty, "<")
	assert.NotContains(t, dirty, ":")
	assert.NotContains(t, dirty, "/")

	// Short hashes and empty names still produce usable keys.
	assert.Equal(t, "abc", TorrentKey("abc", ""))
	assert.Equal(t, "abcdef12", TorrentKey(hash, ""))
}
