// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"bytes"
	"strings"
	"text/template"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/qrules/pkg/pathutil"
)

// resolveMovePath executes a move destination as a Go template. Plain
// paths come through unchanged; {{ sanitize x }} is available for
// filesystem-safe segments. An unparsable or empty result disables the
// move rather than relocating to a wrong path.
func resolveMovePath(pathTemplate string, torrent qbt.Torrent, state *desiredState) (string, bool) {
	pathTemplate = strings.TrimSpace(pathTemplate)
	if pathTemplate == "" {
		return "", false
	}

	tracker := ""
	if state != nil && len(state.trackerDomains) > 0 {
		tracker = state.trackerDomains[0]
	}

	data := map[string]any{
		"Name":       torrent.Name,
		"Hash":       torrent.Hash,
		"Category":   torrent.Category,
		"Tracker":    tracker,
		"TorrentKey": pathutil.TorrentKey(torrent.Hash, torrent.Name),
	}

	tmpl, err := template.New("movePath").
		Option("missingkey=error").
		Funcs(template.FuncMap{
			"sanitize": pathutil.SanitizePathSegment,
		}).
		Parse(pathTemplate)
	if err != nil {
		log.Error().Err(err).Str("path", pathTemplate).Msg("rules: failed to parse move path template")
		return "", false
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		log.Error().Err(err).Str("path", pathTemplate).Msg("rules: failed to execute move path template")
		return "", false
	}

	resolved := strings.TrimSpace(buf.String())
	if resolved == "" {
		return "", false
	}
	return resolved, true
}
