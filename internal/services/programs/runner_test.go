// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package programs

import (
	"testing"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/stretchr/testify/assert"
)

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "simple args",
			input:    "-v --hash abc",
			expected: []string{"-v", "--hash", "abc"},
		},
		{
			name:     "double quoted segment",
			input:    `--name "Some Release" --flag`,
			expected: []string{"--name", "Some Release", "--flag"},
		},
		{
			name:     "single quoted segment",
			input:    `--path '/data/My Stuff'`,
			expected: []string{"--path", "/data/My Stuff"},
		},
		{
			name:     "nested quote kinds",
			input:    `--title "it's here"`,
			expected: []string{"--title", "it's here"},
		},
		{
			name:     "empty template",
			input:    "",
			expected: nil,
		},
		{
			name:     "collapses runs of spaces",
			input:    "a   b",
			expected: []string{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, splitArgs(tt.input))
		})
	}
}

func TestBuildArguments(t *testing.T) {
	torrent := &qbt.Torrent{
		Hash:     "abc123",
		Name:     "Some Release",
		SavePath: "/downloads/movies",
		Category: "movies",
		Tags:     "keep,hd",
		Size:     4096,
	}

	args := buildArguments(`--hash {hash} --name "{name}" --size {size}`, torrent)
	assert.Equal(t, []string{"--hash", "abc123", "--name", "Some Release", "--size", "4096"}, args)
}

func TestBuildArgumentsEmptyTemplate(t *testing.T) {
	assert.Nil(t, buildArguments("", &qbt.Torrent{Hash: "abc"}))
}

func TestIsPathAllowed(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		allowList []string
		expected  bool
	}{
		{
			name:      "empty allow list allows everything",
			path:      "/usr/local/bin/script.sh",
			allowList: nil,
			expected:  true,
		},
		{
			name:      "exact match",
			path:      "/opt/scripts/notify.sh",
			allowList: []string{"/opt/scripts/notify.sh"},
			expected:  true,
		},
		{
			name:      "directory prefix match",
			path:      "/opt/scripts/notify.sh",
			allowList: []string{"/opt/scripts"},
			expected:  true,
		},
		{
			name:      "prefix without separator boundary does not match",
			path:      "/opt/scripts-evil/notify.sh",
			allowList: []string{"/opt/scripts"},
			expected:  false,
		},
		{
			name:      "non-listed path rejected",
			path:      "/tmp/rogue.sh",
			allowList: []string{"/opt/scripts"},
			expected:  false,
		},
		{
			name:      "empty path always rejected",
			path:      "",
			allowList: nil,
			expected:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsPathAllowed(tt.path, tt.allowList))
		})
	}
}
