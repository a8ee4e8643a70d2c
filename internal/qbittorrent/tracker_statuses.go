// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"net/url"
	"regexp"
	"strings"

	qbt "github.com/autobrr/go-qbittorrent"
)

// ExtractTrackerDomain returns the hostname of a tracker URL, or the
// trimmed input when it does not parse as a URL.
func ExtractTrackerDomain(trackerURL string) string {
	trackerURL = strings.TrimSpace(trackerURL)
	if trackerURL == "" {
		return ""
	}
	if u, err := url.Parse(trackerURL); err == nil && u.Hostname() != "" {
		return strings.ToLower(u.Hostname())
	}
	return strings.ToLower(trackerURL)
}

// Tracker status messages vary wildly by tracker software. Matching works
// on word boundaries after stripping URLs, because removal reasons often
// embed release-name URLs that contain words like "forbidden" or
// "showdown".
var (
	urlPattern = regexp.MustCompile(`(?i)https?://\S+`)

	downPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bdown\b`),
		regexp.MustCompile(`(?i)\bit may be down\b`),
		regexp.MustCompile(`(?i)\bunreachable\b`),
		regexp.MustCompile(`(?i)\bforbidden\b`),
		regexp.MustCompile(`(?i)\bservice unavailable\b`),
		regexp.MustCompile(`(?i)\bbad gateway\b`),
		regexp.MustCompile(`(?i)\bgateway timeout\b`),
		regexp.MustCompile(`(?i)\btimed? ?out\b`),
		regexp.MustCompile(`(?i)\bconnection refused\b`),
		regexp.MustCompile(`(?i)\bmaintenance\b`),
		regexp.MustCompile(`(?i)\binternal server error\b`),
	}

	unregisteredPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bunregistered\b`),
		regexp.MustCompile(`(?i)\bnot registered\b`),
		regexp.MustCompile(`(?i)\bnot found\b`),
		regexp.MustCompile(`(?i)\bnot exist`),
		regexp.MustCompile(`(?i)\btrumped\b`),
		regexp.MustCompile(`(?i)\bnuked\b`),
		regexp.MustCompile(`(?i)\bdupe\b`),
		regexp.MustCompile(`(?i)\bduplicate\b`),
		regexp.MustCompile(`(?i)\bretitled\b`),
		regexp.MustCompile(`(?i)\bdead\b`),
		regexp.MustCompile(`(?i)\bdeleted\b`),
		regexp.MustCompile(`(?i)\bpruned\b`),
		regexp.MustCompile(`(?i)\binfo ?hash is not authorized\b`),
		regexp.MustCompile(`(?i)\btorrent has been banned\b`),
		regexp.MustCompile(`(?i)\bseason pack\b`),
		regexp.MustCompile(`(?i)\bspecifically banned\b`),
	}
)

// TrackerMessageMatchesDown reports whether a tracker status message
// indicates the tracker itself is unavailable.
func TrackerMessageMatchesDown(message string) bool {
	return matchesAny(message, downPatterns)
}

// TrackerMessageMatchesUnregistered reports whether a tracker status
// message indicates the torrent was removed from the tracker.
func TrackerMessageMatchesUnregistered(message string) bool {
	return matchesAny(message, unregisteredPatterns)
}

func matchesAny(message string, patterns []*regexp.Regexp) bool {
	if message == "" {
		return false
	}
	stripped := strings.TrimSpace(urlPattern.ReplaceAllString(message, ""))
	if stripped == "" {
		return false
	}
	for _, pattern := range patterns {
		if pattern.MatchString(stripped) {
			return true
		}
	}
	return false
}

// TrackerHealth is the per-snapshot classification of torrents whose
// trackers report problems.
type TrackerHealth struct {
	// Unregistered holds hashes whose working tracker set is empty and at
	// least one tracker reported a removal-style message.
	Unregistered map[string]struct{}
	// TrackerDown holds hashes whose trackers are unreachable but did not
	// report removal. A torrent is never in both sets.
	TrackerDown map[string]struct{}
}

// ClassifyTrackers builds tracker health sets from per-torrent tracker
// lists. A torrent with any working tracker is healthy regardless of what
// the others say.
func ClassifyTrackers(trackersByHash map[string][]qbt.TorrentTracker) *TrackerHealth {
	health := &TrackerHealth{
		Unregistered: make(map[string]struct{}),
		TrackerDown:  make(map[string]struct{}),
	}

	for hash, trackers := range trackersByHash {
		anyWorking := false
		anyUnregistered := false
		anyDown := false

		for _, tracker := range trackers {
			// DHT/PeX/LSD pseudo-entries say nothing about the tracker.
			if strings.HasPrefix(tracker.Url, "**") {
				continue
			}
			switch tracker.Status {
			case qbt.TrackerStatusOK, qbt.TrackerStatusUpdating:
				anyWorking = true
			case qbt.TrackerStatusNotWorking:
				if TrackerMessageMatchesUnregistered(tracker.Message) {
					anyUnregistered = true
				} else if TrackerMessageMatchesDown(tracker.Message) {
					anyDown = true
				}
			}
		}

		if anyWorking {
			continue
		}
		if anyUnregistered {
			health.Unregistered[hash] = struct{}{}
		} else if anyDown {
			health.TrackerDown[hash] = struct{}{}
		}
	}

	return health
}
