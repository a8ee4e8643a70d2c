// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"testing"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupSetCrossSeedContentSavePath(t *testing.T) {
	t.Parallel()

	torrents := []qbt.Torrent{
		{Hash: "h1", ContentPath: "/data/movies/Movie.2024", SavePath: "/data/movies"},
		{Hash: "h2", ContentPath: "/data/movies/Movie.2024", SavePath: "/data/movies"},
		{Hash: "h3", ContentPath: "/data/movies/Movie.2024", SavePath: "/other"},
		{Hash: "h4", ContentPath: "/data/movies/Solo.2023", SavePath: "/data/movies"},
	}

	set := NewGroupSet(torrents, GroupSetBuilder{})

	assert.Equal(t, 2, set.SizeForHash(GroupCrossSeedContentSavePath, "h1"))
	assert.Equal(t, 2, set.SizeForHash(GroupCrossSeedContentSavePath, "h2"))
	// Different save path splits the group.
	assert.Equal(t, 1, set.SizeForHash(GroupCrossSeedContentSavePath, "h3"))
	assert.Equal(t, 1, set.SizeForHash(GroupCrossSeedContentSavePath, "h4"))

	members := set.MembersForHash(GroupCrossSeedContentSavePath, "h2")
	assert.Equal(t, []string{"h1", "h2"}, members)
}

func TestGroupSetContentPathOnly(t *testing.T) {
	t.Parallel()

	torrents := []qbt.Torrent{
		{Hash: "h1", ContentPath: "/data/Movie.2024", SavePath: "/data1"},
		{Hash: "h2", ContentPath: "/data/Movie.2024", SavePath: "/data2"},
	}

	set := NewGroupSet(torrents, GroupSetBuilder{})
	assert.Equal(t, 2, set.SizeForHash(GroupCrossSeedContentPath, "h1"))
}

func TestGroupSetAmbiguousContentPath(t *testing.T) {
	t.Parallel()

	// ContentPath equal to SavePath cannot distinguish releases sharing a
	// directory.
	torrents := []qbt.Torrent{
		{Hash: "h1", ContentPath: "/data/inbox", SavePath: "/data/inbox"},
		{Hash: "h2", ContentPath: "/data/inbox", SavePath: "/data/inbox"},
	}

	set := NewGroupSet(torrents, GroupSetBuilder{})
	assert.True(t, set.IsAmbiguousForHash(GroupCrossSeedContentSavePath, "h1"))
	// The built-in uses verify_overlap: membership stays visible so the
	// caller can check file overlap before trusting it.
	assert.Equal(t, 2, set.SizeForHash(GroupCrossSeedContentSavePath, "h1"))
}

func TestGroupSetSkipPolicy(t *testing.T) {
	t.Parallel()

	cfg := &GroupingConfig{
		Groups: []GroupDefinition{{
			ID:              "strict",
			Keys:            []string{GroupKeyContentPath},
			AmbiguousPolicy: AmbiguousSkip,
		}},
	}
	torrents := []qbt.Torrent{
		{Hash: "h1", ContentPath: "/data/inbox", SavePath: "/data/inbox"},
		{Hash: "h2", ContentPath: "/data/inbox", SavePath: "/data/inbox"},
	}

	set := NewGroupSet(torrents, GroupSetBuilder{Config: cfg})
	assert.Equal(t, 1, set.SizeForHash("strict", "h1"))
}

func TestGroupSetDefaultGroupResolution(t *testing.T) {
	t.Parallel()

	cfg := &GroupingConfig{
		DefaultGroupID: "by_tracker",
		Groups: []GroupDefinition{{
			ID:   "by_tracker",
			Keys: []string{GroupKeyTracker},
		}},
	}
	domains := map[string]string{"h1": "tracker.example", "h2": "tracker.example", "h3": "other.example"}
	torrents := []qbt.Torrent{{Hash: "h1"}, {Hash: "h2"}, {Hash: "h3"}}

	set := NewGroupSet(torrents, GroupSetBuilder{
		Config:        cfg,
		TrackerDomain: func(hash string) string { return domains[hash] },
	})

	// Empty group ID falls through to the configured default.
	assert.Equal(t, 2, set.SizeForHash("", "h1"))
	assert.Equal(t, 1, set.SizeForHash("", "h3"))
}

func TestGroupSetReleaseItem(t *testing.T) {
	t.Parallel()

	torrents := []qbt.Torrent{
		{Hash: "h1", Name: "Show.Name.S01E01.1080p.WEB-DL.x264-AAA"},
		{Hash: "h2", Name: "Show Name S01E01 720p BluRay x265-BBB"},
		{Hash: "h3", Name: "Show.Name.S01E02.1080p.WEB-DL.x264-AAA"},
	}

	set := NewGroupSet(torrents, GroupSetBuilder{Releases: NewDefaultReleaseParser()})

	assert.Equal(t, 2, set.SizeForHash(GroupReleaseItem, "h1"))
	assert.Equal(t, 1, set.SizeForHash(GroupReleaseItem, "h3"))
}

func TestGroupSetUnknownGroup(t *testing.T) {
	t.Parallel()

	set := NewGroupSet([]qbt.Torrent{{Hash: "h1"}}, GroupSetBuilder{})
	assert.Equal(t, 0, set.SizeForHash("nonexistent", "h1"))
	assert.Nil(t, set.MembersForHash("nonexistent", "h1"))
}

func TestGroupSetTorrentWithoutKey(t *testing.T) {
	t.Parallel()

	// No content path means the torrent lands outside the group entirely.
	set := NewGroupSet([]qbt.Torrent{{Hash: "h1"}}, GroupSetBuilder{})
	assert.Equal(t, 1, set.SizeForHash(GroupCrossSeedContentSavePath, "h1"))
}

func TestBuiltinGroupDefinitions(t *testing.T) {
	t.Parallel()

	def := BuiltinGroupDefinition(GroupCrossSeedContentSavePath)
	require.NotNil(t, def)
	assert.Equal(t, []string{GroupKeyContentPath, GroupKeySavePath}, def.Keys)
	assert.Equal(t, AmbiguousVerifyOverlap, def.AmbiguousPolicy)
	assert.Equal(t, 90, def.MinFileOverlapPercent)

	assert.Nil(t, BuiltinGroupDefinition("made_up"))
}

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/data/movies", normalizePath("/data/movies/"))
	assert.Equal(t, "/data/movies", normalizePath(`\data\movies`))
	assert.Equal(t, "/data/movies", normalizePath("/DATA/Movies"))
	assert.Equal(t, "", normalizePath("  "))
}
