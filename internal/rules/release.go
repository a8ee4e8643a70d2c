// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/moistari/rls"
)

const defaultReleaseCacheTTL = 10 * time.Minute

// ReleaseParser extracts release metadata from torrent names, caching parse
// results since the same names come back on every evaluation pass. Safe for
// concurrent use. All methods tolerate a nil receiver and return empty values.
type ReleaseParser struct {
	cache *ttlcache.Cache[string, *rls.Release]
}

// NewReleaseParser returns a parser whose cache entries expire after ttl.
func NewReleaseParser(ttl time.Duration) *ReleaseParser {
	opts := ttlcache.Options[string, *rls.Release]{}.SetDefaultTTL(ttl)
	return &ReleaseParser{cache: ttlcache.New(opts)}
}

// NewDefaultReleaseParser returns a parser with the default cache TTL.
func NewDefaultReleaseParser() *ReleaseParser {
	return NewReleaseParser(defaultReleaseCacheTTL)
}

// Parse returns the parsed release for name. Never returns nil.
func (p *ReleaseParser) Parse(name string) *rls.Release {
	name = strings.TrimSpace(name)
	if p == nil || name == "" {
		return &rls.Release{}
	}

	if cached, found := p.cache.Get(name); found && cached != nil {
		return cached
	}

	parsed := rls.ParseString(name)
	release := &parsed
	p.cache.Set(name, release, ttlcache.DefaultTTL)
	return release
}

// Resolution returns the uppercased resolution, e.g. "1080P".
func (p *ReleaseParser) Resolution(name string) string {
	return strings.ToUpper(strings.TrimSpace(p.Parse(name).Resolution))
}

// Source returns the canonical source. WEB-DL variants collapse to WEBDL
// and WEBRip variants to WEBRIP; plain WEB stays ambiguous.
func (p *ReleaseParser) Source(name string) string {
	return NormalizeSource(p.Parse(name).Source)
}

// Codec returns the normalized video codec set joined with spaces, with
// x264/H.264 style aliases collapsed to their canonical names.
func (p *ReleaseParser) Codec(name string) string {
	return JoinNormalizedCodecs(p.Parse(name).Codec)
}

// HDR returns the sorted unique HDR markers joined with spaces.
func (p *ReleaseParser) HDR(name string) string {
	return joinUpperSortedUnique(p.Parse(name).HDR)
}

// Audio returns the sorted unique audio markers joined with spaces.
func (p *ReleaseParser) Audio(name string) string {
	return joinUpperSortedUnique(p.Parse(name).Audio)
}

// Group returns the uppercased release group.
func (p *ReleaseParser) Group(name string) string {
	return strings.ToUpper(strings.TrimSpace(p.Parse(name).Group))
}

// EffectiveName returns a stable item identifier derived from the parsed
// title plus season/episode or year, suitable as a grouping key across
// differently named torrents of the same content.
func (p *ReleaseParser) EffectiveName(name string) string {
	r := p.Parse(name)

	title := strings.TrimSpace(r.Title)
	if title == "" {
		return normalizeForMatching(name)
	}

	base := normalizeForMatching(title)
	if base == "" {
		base = strings.ToLower(title)
	}

	// Episode 0 with a season means a season pack.
	if r.Series > 0 {
		if r.Episode > 0 {
			return fmt.Sprintf("%s|s%02de%02d", base, r.Series, r.Episode)
		}
		return fmt.Sprintf("%s|s%02d", base, r.Series)
	}

	if r.Year > 0 {
		return fmt.Sprintf("%s|%d", base, r.Year)
	}

	return base
}

// videoCodecAliases collapses equivalent codec spellings. x264, H.264, H264
// and AVC name the same codec, as do x265, H.265, H265 and HEVC.
var videoCodecAliases = map[string]string{
	"X264":  "AVC",
	"H.264": "AVC",
	"H264":  "AVC",
	"AVC":   "AVC",
	"X265":  "HEVC",
	"H.265": "HEVC",
	"H265":  "HEVC",
	"HEVC":  "HEVC",
}

// NormalizeVideoCodec returns the canonical form of a video codec name, or
// the uppercased input when no alias applies.
func NormalizeVideoCodec(codec string) string {
	upper := strings.ToUpper(strings.TrimSpace(codec))
	if canonical, ok := videoCodecAliases[upper]; ok {
		return canonical
	}
	return upper
}

// JoinNormalizedCodecs joins a codec slice into a canonical comparison
// string, deduplicated and sorted.
func JoinNormalizedCodecs(codecs []string) string {
	if len(codecs) == 0 {
		return ""
	}
	seen := make(map[string]struct{}, len(codecs))
	normalized := make([]string, 0, len(codecs))
	for _, codec := range codecs {
		n := NormalizeVideoCodec(codec)
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		normalized = append(normalized, n)
	}
	sort.Strings(normalized)
	return strings.Join(normalized, " ")
}

var sourceAliases = map[string]string{
	"WEB-DL": "WEBDL",
	"WEBDL":  "WEBDL",
	"WEBRIP": "WEBRIP",
	"WEB":    "WEB",
}

// NormalizeSource returns the canonical form of a release source, or the
// uppercased input when no alias applies.
func NormalizeSource(source string) string {
	upper := strings.ToUpper(strings.TrimSpace(source))
	if canonical, ok := sourceAliases[upper]; ok {
		return canonical
	}
	return upper
}

func joinUpperSortedUnique(slice []string) string {
	if len(slice) == 0 {
		return ""
	}
	seen := make(map[string]struct{}, len(slice))
	out := make([]string, 0, len(slice))
	for _, s := range slice {
		n := strings.ToUpper(strings.TrimSpace(s))
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return strings.Join(out, " ")
}

// normalizeForMatching lowercases and strips separator punctuation so
// differently styled names of the same title compare equal.
func normalizeForMatching(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace && b.Len() > 0 {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
