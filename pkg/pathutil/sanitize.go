// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package pathutil provides filesystem-safe path segment helpers used when
// templating move destinations.
package pathutil

import "strings"

var illegalPathChars = `<>:"/\|?*`

// Windows reserved device names, which cannot be used as file or
// directory names regardless of extension.
var reservedNames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {},
	"COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {},
	"LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

// SanitizePathSegment makes a string safe to use as a single path
// component on both Unix and Windows. Illegal characters are dropped,
// trailing dots and spaces removed, and reserved device names prefixed
// with an underscore. An input that sanitizes to nothing becomes "_".
func SanitizePathSegment(segment string) string {
	var b strings.Builder
	b.Grow(len(segment))
	for _, r := range segment {
		if r < 0x20 || strings.ContainsRune(illegalPathChars, r) {
			continue
		}
		b.WriteRune(r)
	}

	cleaned := strings.TrimRight(b.String(), ". ")
	if cleaned == "" {
		return "_"
	}
	if _, reserved := reservedNames[strings.ToUpper(cleaned)]; reserved {
		return "_" + cleaned
	}
	return cleaned
}

// TorrentKey derives a stable, filesystem-safe folder name for a torrent
// from its infohash and display name. The hash prefix keeps keys unique
// when different torrents share a name.
func TorrentKey(infohash, name string) string {
	prefix := infohash
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}

	if name == "" {
		return SanitizePathSegment(prefix)
	}
	return SanitizePathSegment(prefix + "-" + name)
}
