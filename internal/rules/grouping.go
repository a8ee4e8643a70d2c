// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"path"
	"sort"
	"strings"

	qbt "github.com/autobrr/go-qbittorrent"
)

// Group key components a definition may combine.
const (
	GroupKeyContentPath   = "contentPath"
	GroupKeySavePath      = "savePath"
	GroupKeyEffectiveName = "effectiveName"
	GroupKeyTracker       = "tracker"
	GroupKeyRlsSource     = "rlsSource"
	GroupKeyRlsResolution = "rlsResolution"
	GroupKeyRlsCodec      = "rlsCodec"
	GroupKeyRlsGroup      = "rlsGroup"
)

// Policies for keys that cannot distinguish distinct content, e.g. a
// contentPath that equals the savePath.
const (
	AmbiguousVerifyOverlap = "verify_overlap"
	AmbiguousSkip          = "skip"
)

// Built-in group IDs.
const (
	GroupCrossSeedContentPath     = "cross_seed_content_path"
	GroupCrossSeedContentSavePath = "cross_seed_content_save_path"
	GroupReleaseItem              = "release_item"
	GroupTrackerReleaseItem       = "tracker_release_item"
)

// GroupDefinition describes how torrents are bucketed into a group.
type GroupDefinition struct {
	ID                    string   `json:"id"`
	Keys                  []string `json:"keys"`
	AmbiguousPolicy       string   `json:"ambiguousPolicy,omitempty"`
	MinFileOverlapPercent int      `json:"minFileOverlapPercent,omitempty"`
}

// GroupingConfig is the per-rule grouping section: custom definitions plus
// the group unscoped GROUP_SIZE/IS_GROUPED leaves fall back to.
type GroupingConfig struct {
	DefaultGroupID string            `json:"defaultGroupId,omitempty"`
	Groups         []GroupDefinition `json:"groups,omitempty"`
}

func (c *GroupingConfig) find(id string) *GroupDefinition {
	if c == nil || id == "" {
		return nil
	}
	for i := range c.Groups {
		if strings.EqualFold(strings.TrimSpace(c.Groups[i].ID), id) {
			return &c.Groups[i]
		}
	}
	return nil
}

// BuiltinGroupDefinition returns the definition for a built-in group ID,
// or nil when the ID names no built-in.
func BuiltinGroupDefinition(id string) *GroupDefinition {
	switch id {
	case GroupCrossSeedContentPath:
		return &GroupDefinition{
			ID:                    id,
			Keys:                  []string{GroupKeyContentPath},
			AmbiguousPolicy:       AmbiguousVerifyOverlap,
			MinFileOverlapPercent: 90,
		}
	case GroupCrossSeedContentSavePath:
		return &GroupDefinition{
			ID:                    id,
			Keys:                  []string{GroupKeyContentPath, GroupKeySavePath},
			AmbiguousPolicy:       AmbiguousVerifyOverlap,
			MinFileOverlapPercent: 90,
		}
	case GroupReleaseItem:
		return &GroupDefinition{
			ID:   id,
			Keys: []string{GroupKeyEffectiveName},
		}
	case GroupTrackerReleaseItem:
		return &GroupDefinition{
			ID:   id,
			Keys: []string{GroupKeyTracker, GroupKeyEffectiveName},
		}
	default:
		return nil
	}
}

type groupIndex struct {
	def *GroupDefinition

	keyByHash     map[string]string
	hashesByKey   map[string][]string
	ambiguousKeys map[string]struct{}
}

// GroupSetBuilder supplies the lookups index construction needs beyond the
// torrent list itself.
type GroupSetBuilder struct {
	Config *GroupingConfig
	// TrackerDomain resolves the primary tracker domain of a torrent hash.
	TrackerDomain func(hash string) string
	Releases      *ReleaseParser
}

// GroupSet holds lazily built group indexes over one torrent snapshot.
// Indexes are built per group ID on first use and reused for the rest of
// the evaluation pass. Not safe for concurrent use.
type GroupSet struct {
	builder  GroupSetBuilder
	torrents []qbt.Torrent
	indexes  map[string]*groupIndex
}

// NewGroupSet prepares grouping lookups over the given snapshot.
func NewGroupSet(torrents []qbt.Torrent, builder GroupSetBuilder) *GroupSet {
	return &GroupSet{
		builder:  builder,
		torrents: torrents,
		indexes:  make(map[string]*groupIndex),
	}
}

// SizeForHash returns the member count of the group containing hash under
// the given group ID. An empty groupID resolves through the configured
// default, then the cross-seed content+save-path built-in. Torrents outside
// any group, and ambiguous members under the skip policy, count as 1.
func (s *GroupSet) SizeForHash(groupID, hash string) int {
	if s == nil {
		return 0
	}
	idx := s.index(s.resolveGroupID(groupID))
	if idx == nil {
		return 0
	}
	key, ok := idx.keyByHash[hash]
	if !ok {
		return 1
	}
	if _, ambiguous := idx.ambiguousKeys[key]; ambiguous && idx.def.AmbiguousPolicy == AmbiguousSkip {
		return 1
	}
	return len(idx.hashesByKey[key])
}

// MembersForHash returns the sorted hashes sharing a group with hash,
// including hash itself.
func (s *GroupSet) MembersForHash(groupID, hash string) []string {
	if s == nil {
		return nil
	}
	idx := s.index(s.resolveGroupID(groupID))
	if idx == nil {
		return nil
	}
	key, ok := idx.keyByHash[hash]
	if !ok {
		return nil
	}
	return idx.hashesByKey[key]
}

// IsAmbiguousForHash reports whether the group key of hash could not
// distinguish distinct content and needs overlap verification.
func (s *GroupSet) IsAmbiguousForHash(groupID, hash string) bool {
	if s == nil {
		return false
	}
	idx := s.index(s.resolveGroupID(groupID))
	if idx == nil {
		return false
	}
	key, ok := idx.keyByHash[hash]
	if !ok {
		return false
	}
	_, ambiguous := idx.ambiguousKeys[key]
	return ambiguous
}

// Definition returns the resolved definition for a group ID, custom
// definitions shadowing built-ins.
func (s *GroupSet) Definition(groupID string) *GroupDefinition {
	if s == nil {
		return nil
	}
	return s.definition(s.resolveGroupID(groupID))
}

func (s *GroupSet) resolveGroupID(groupID string) string {
	groupID = strings.TrimSpace(groupID)
	if groupID != "" {
		return groupID
	}
	if s.builder.Config != nil {
		if id := strings.TrimSpace(s.builder.Config.DefaultGroupID); id != "" {
			return id
		}
	}
	return GroupCrossSeedContentSavePath
}

func (s *GroupSet) definition(groupID string) *GroupDefinition {
	if def := s.builder.Config.find(groupID); def != nil {
		return def
	}
	return BuiltinGroupDefinition(groupID)
}

func (s *GroupSet) index(groupID string) *groupIndex {
	if idx, ok := s.indexes[groupID]; ok {
		return idx
	}

	def := s.definition(groupID)
	if def == nil || len(def.Keys) == 0 {
		s.indexes[groupID] = nil
		return nil
	}

	idx := &groupIndex{
		def:           def,
		keyByHash:     make(map[string]string),
		hashesByKey:   make(map[string][]string),
		ambiguousKeys: make(map[string]struct{}),
	}

	for i := range s.torrents {
		t := s.torrents[i]
		key, ok := s.buildKey(def.Keys, t)
		if !ok {
			continue
		}
		idx.keyByHash[t.Hash] = key
		idx.hashesByKey[key] = append(idx.hashesByKey[key], t.Hash)

		// A content path that collapses to the save path cannot tell
		// releases in the same directory apart.
		if containsKey(def.Keys, GroupKeyContentPath) && normalizePath(t.ContentPath) == normalizePath(t.SavePath) {
			idx.ambiguousKeys[key] = struct{}{}
		}
	}

	for key, hashes := range idx.hashesByKey {
		sort.Strings(hashes)
		idx.hashesByKey[key] = hashes
	}

	s.indexes[groupID] = idx
	return idx
}

func (s *GroupSet) buildKey(keys []string, t qbt.Torrent) (string, bool) {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		var v string
		switch k {
		case GroupKeyContentPath:
			v = normalizePath(t.ContentPath)
		case GroupKeySavePath:
			v = normalizePath(t.SavePath)
		case GroupKeyEffectiveName:
			v = strings.ToLower(s.builder.Releases.EffectiveName(t.Name))
		case GroupKeyTracker:
			if s.builder.TrackerDomain != nil {
				v = strings.ToLower(s.builder.TrackerDomain(t.Hash))
			}
		case GroupKeyRlsSource:
			v = strings.ToLower(s.builder.Releases.Source(t.Name))
		case GroupKeyRlsResolution:
			v = strings.ToLower(s.builder.Releases.Resolution(t.Name))
		case GroupKeyRlsCodec:
			v = strings.ToLower(s.builder.Releases.Codec(t.Name))
		case GroupKeyRlsGroup:
			v = strings.ToLower(s.builder.Releases.Group(t.Name))
		}
		if strings.TrimSpace(v) == "" {
			return "", false
		}
		parts = append(parts, v)
	}
	return strings.Join(parts, "|"), true
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean(p)
	return strings.TrimRight(strings.ToLower(p), "/")
}

func containsKey(keys []string, want string) bool {
	for _, k := range keys {
		if k == want {
			return true
		}
	}
	return false
}
