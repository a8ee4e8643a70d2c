// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"context"
	"sort"
	"testing"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/qrules/internal/models"
	rulespkg "github.com/autobrr/qrules/internal/rules"
)

type recordedCall struct {
	method      string
	hashes      []string
	intValue    int64
	floatValue  float64
	stringValue string
	boolValue   bool
}

type mockApplyClient struct {
	supportsSetTags bool
	calls           []recordedCall
}

func (m *mockApplyClient) record(method string, hashes []string, call recordedCall) error {
	call.method = method
	call.hashes = append([]string(nil), hashes...)
	sort.Strings(call.hashes)
	m.calls = append(m.calls, call)
	return nil
}

func (m *mockApplyClient) callsFor(method string) []recordedCall {
	var out []recordedCall
	for _, c := range m.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func (m *mockApplyClient) SupportsSetTags() bool { return m.supportsSetTags }

func (m *mockApplyClient) SetTorrentUploadLimitCtx(_ context.Context, hashes []string, limit int64) error {
	return m.record("uploadLimit", hashes, recordedCall{intValue: limit})
}

func (m *mockApplyClient) SetTorrentDownloadLimitCtx(_ context.Context, hashes []string, limit int64) error {
	return m.record("downloadLimit", hashes, recordedCall{intValue: limit})
}

func (m *mockApplyClient) SetTorrentShareLimitCtx(_ context.Context, hashes []string, ratio float64, seed, inactive int64) error {
	return m.record("shareLimit", hashes, recordedCall{floatValue: ratio, intValue: seed})
}

func (m *mockApplyClient) PauseCtx(_ context.Context, hashes []string) error {
	return m.record("pause", hashes, recordedCall{})
}

func (m *mockApplyClient) ResumeCtx(_ context.Context, hashes []string) error {
	return m.record("resume", hashes, recordedCall{})
}

func (m *mockApplyClient) RecheckCtx(_ context.Context, hashes []string) error {
	return m.record("recheck", hashes, recordedCall{})
}

func (m *mockApplyClient) ReAnnounceTorrentsCtx(_ context.Context, hashes []string) error {
	return m.record("reannounce", hashes, recordedCall{})
}

func (m *mockApplyClient) AddTagsCtx(_ context.Context, hashes []string, tags string) error {
	return m.record("addTags", hashes, recordedCall{stringValue: tags})
}

func (m *mockApplyClient) RemoveTagsCtx(_ context.Context, hashes []string, tags string) error {
	return m.record("removeTags", hashes, recordedCall{stringValue: tags})
}

func (m *mockApplyClient) SetTags(_ context.Context, hashes []string, tags string) error {
	return m.record("setTags", hashes, recordedCall{stringValue: tags})
}

func (m *mockApplyClient) SetCategoryCtx(_ context.Context, hashes []string, category string) error {
	return m.record("category", hashes, recordedCall{stringValue: category})
}

func (m *mockApplyClient) SetLocationCtx(_ context.Context, hashes []string, location string) error {
	return m.record("move", hashes, recordedCall{stringValue: location})
}

func (m *mockApplyClient) DeleteTorrentsCtx(_ context.Context, hashes []string, deleteFiles bool) error {
	return m.record("delete", hashes, recordedCall{boolValue: deleteFiles})
}

func newTestService() *Service {
	return &Service{cfg: DefaultConfig()}
}

func emptyGroups() *rulespkg.GroupSet {
	return rulespkg.NewGroupSet(nil, rulespkg.GroupSetBuilder{})
}

func TestApplyStatesBatchesSpeedLimits(t *testing.T) {
	client := &mockApplyClient{}
	s := newTestService()

	states := map[string]*desiredState{
		"aaa": {hash: "aaa", uploadLimitKiB: int64Ptr(100)},
		"bbb": {hash: "bbb", uploadLimitKiB: int64Ptr(100)},
		"ccc": {hash: "ccc", uploadLimitKiB: int64Ptr(100)},
	}
	torrents := map[string]qbt.Torrent{
		"aaa": {Hash: "aaa"},
		"bbb": {Hash: "bbb"},
		// already at the desired limit, call should skip it
		"ccc": {Hash: "ccc", UpLimit: 100 * 1024},
	}

	s.applyStates(context.Background(), client, &models.Instance{ID: 1}, states, torrents, emptyGroups())

	calls := client.callsFor("uploadLimit")
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"aaa", "bbb"}, calls[0].hashes)
	assert.EqualValues(t, 100*1024, calls[0].intValue)
}

func TestApplyStatesUnlimitedAlreadyUnlimited(t *testing.T) {
	client := &mockApplyClient{}
	s := newTestService()

	states := map[string]*desiredState{
		"aaa": {hash: "aaa", uploadLimitKiB: int64Ptr(0), downloadLimitKiB: int64Ptr(0)},
		"bbb": {hash: "bbb", uploadLimitKiB: int64Ptr(0)},
	}
	torrents := map[string]qbt.Torrent{
		// qBittorrent reports no limit as -1; desired 0 means the same thing
		"aaa": {Hash: "aaa", UpLimit: -1, DlLimit: -1},
		"bbb": {Hash: "bbb", UpLimit: 500 * 1024},
	}

	s.applyStates(context.Background(), client, &models.Instance{ID: 1}, states, torrents, emptyGroups())

	assert.Empty(t, client.callsFor("downloadLimit"))

	calls := client.callsFor("uploadLimit")
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"bbb"}, calls[0].hashes)
	assert.Zero(t, calls[0].intValue)
}

func TestApplyStatesShareLimitFillsFromTorrent(t *testing.T) {
	client := &mockApplyClient{}
	s := newTestService()

	states := map[string]*desiredState{
		"aaa": {hash: "aaa", ratioLimit: float64Ptr(2.0)},
	}
	torrents := map[string]qbt.Torrent{
		"aaa": {Hash: "aaa", RatioLimit: 1.0, SeedingTimeLimit: 4320},
	}

	s.applyStates(context.Background(), client, &models.Instance{ID: 1}, states, torrents, emptyGroups())

	calls := client.callsFor("shareLimit")
	require.Len(t, calls, 1)
	assert.Equal(t, 2.0, calls[0].floatValue)
	assert.EqualValues(t, 4320, calls[0].intValue)
}

func TestApplyStatesShareLimitSkipsNoChange(t *testing.T) {
	client := &mockApplyClient{}
	s := newTestService()

	states := map[string]*desiredState{
		"aaa": {hash: "aaa", ratioLimit: float64Ptr(2.0)},
	}
	torrents := map[string]qbt.Torrent{
		"aaa": {Hash: "aaa", RatioLimit: 2.0},
	}

	s.applyStates(context.Background(), client, &models.Instance{ID: 1}, states, torrents, emptyGroups())
	assert.Empty(t, client.callsFor("shareLimit"))
}

func TestApplyStatesDeleteSupersedesOtherActions(t *testing.T) {
	client := &mockApplyClient{}
	s := newTestService()

	states := map[string]*desiredState{
		"aaa": {
			hash:           "aaa",
			uploadLimitKiB: int64Ptr(100),
			shouldDelete:   true,
			deleteMode:     rulespkg.DeleteModeWithFiles,
		},
	}
	torrents := map[string]qbt.Torrent{"aaa": {Hash: "aaa", Size: 1000}}

	s.applyStates(context.Background(), client, &models.Instance{ID: 1}, states, torrents, emptyGroups())

	assert.Empty(t, client.callsFor("uploadLimit"))
	deletes := client.callsFor("delete")
	require.Len(t, deletes, 1)
	assert.Equal(t, []string{"aaa"}, deletes[0].hashes)
	assert.True(t, deletes[0].boolValue)
}

func TestApplyStatesTagFallbackWithoutSetTags(t *testing.T) {
	client := &mockApplyClient{supportsSetTags: false}
	s := newTestService()

	states := map[string]*desiredState{
		"aaa": {
			hash:        "aaa",
			currentTags: map[string]struct{}{"stale": {}},
			tagActions:  map[string]string{"fresh": "add", "stale": "remove"},
		},
	}
	torrents := map[string]qbt.Torrent{"aaa": {Hash: "aaa", Tags: "stale"}}

	s.applyStates(context.Background(), client, &models.Instance{ID: 1}, states, torrents, emptyGroups())

	adds := client.callsFor("addTags")
	require.Len(t, adds, 1)
	assert.Equal(t, "fresh", adds[0].stringValue)

	removes := client.callsFor("removeTags")
	require.Len(t, removes, 1)
	assert.Equal(t, "stale", removes[0].stringValue)

	assert.Empty(t, client.callsFor("setTags"))
}

func TestApplyStatesTagAtomicReplace(t *testing.T) {
	client := &mockApplyClient{supportsSetTags: true}
	s := newTestService()

	states := map[string]*desiredState{
		"aaa": {
			hash:        "aaa",
			currentTags: map[string]struct{}{"stale": {}, "keep": {}},
			tagActions:  map[string]string{"fresh": "add", "stale": "remove"},
		},
	}
	torrents := map[string]qbt.Torrent{"aaa": {Hash: "aaa", Tags: "Stale,Keep"}}

	s.applyStates(context.Background(), client, &models.Instance{ID: 1}, states, torrents, emptyGroups())

	sets := client.callsFor("setTags")
	require.Len(t, sets, 1)
	assert.Equal(t, "Keep,fresh", sets[0].stringValue)
	assert.Empty(t, client.callsFor("addTags"))
	assert.Empty(t, client.callsFor("removeTags"))
}

func TestApplyStatesCategoryAndMove(t *testing.T) {
	client := &mockApplyClient{}
	s := newTestService()

	category := "archive"
	states := map[string]*desiredState{
		"aaa": {hash: "aaa", category: &category, shouldMove: true, movePath: "/data/archive"},
	}
	torrents := map[string]qbt.Torrent{"aaa": {Hash: "aaa"}}

	s.applyStates(context.Background(), client, &models.Instance{ID: 1}, states, torrents, emptyGroups())

	cats := client.callsFor("category")
	require.Len(t, cats, 1)
	assert.Equal(t, "archive", cats[0].stringValue)

	moves := client.callsFor("move")
	require.Len(t, moves, 1)
	assert.Equal(t, "/data/archive", moves[0].stringValue)
}

func TestResolveDeletePreserveCrossSeeds(t *testing.T) {
	torrents := []qbt.Torrent{
		{Hash: "aaa", ContentPath: "/data/release", SavePath: "/data"},
		{Hash: "bbb", ContentPath: "/data/release", SavePath: "/data"},
		{Hash: "ccc", ContentPath: "/data/other", SavePath: "/data"},
	}
	groups := rulespkg.NewGroupSet(torrents, rulespkg.GroupSetBuilder{})

	st := &desiredState{hash: "aaa", deleteMode: rulespkg.DeleteModeWithFilesPreserveCrossSeeds}
	pd := resolveDelete("aaa", st, torrents[0], groups)
	assert.False(t, pd.deleteFiles, "cross-seeded content keeps its files")
	assert.Equal(t, rulespkg.DeleteModeKeepFiles, pd.mode)

	st = &desiredState{hash: "ccc", deleteMode: rulespkg.DeleteModeWithFilesPreserveCrossSeeds}
	pd = resolveDelete("ccc", st, torrents[2], groups)
	assert.True(t, pd.deleteFiles, "unique content loses its files")
}

func TestResolveDeleteIncludeCrossSeeds(t *testing.T) {
	torrents := []qbt.Torrent{
		{Hash: "aaa", ContentPath: "/data/release", SavePath: "/data"},
		{Hash: "bbb", ContentPath: "/data/release", SavePath: "/data"},
	}
	groups := rulespkg.NewGroupSet(torrents, rulespkg.GroupSetBuilder{})

	st := &desiredState{hash: "aaa", deleteMode: rulespkg.DeleteModeWithFilesIncludeCrossSeeds}
	pd := resolveDelete("aaa", st, torrents[0], groups)
	assert.True(t, pd.deleteFiles)
	assert.Equal(t, []string{"bbb"}, pd.extraHashes)
}

func TestApplyStatesDeleteIncludesCrossSeeds(t *testing.T) {
	client := &mockApplyClient{}
	s := newTestService()

	qbtTorrents := []qbt.Torrent{
		{Hash: "aaa", ContentPath: "/data/release", SavePath: "/data", Size: 100},
		{Hash: "bbb", ContentPath: "/data/release", SavePath: "/data", Size: 100},
	}
	groups := rulespkg.NewGroupSet(qbtTorrents, rulespkg.GroupSetBuilder{})

	states := map[string]*desiredState{
		"aaa": {hash: "aaa", shouldDelete: true, deleteMode: rulespkg.DeleteModeWithFilesIncludeCrossSeeds},
	}
	torrents := map[string]qbt.Torrent{"aaa": qbtTorrents[0], "bbb": qbtTorrents[1]}

	s.applyStates(context.Background(), client, &models.Instance{ID: 1}, states, torrents, groups)

	deletes := client.callsFor("delete")
	require.Len(t, deletes, 1)
	assert.Equal(t, []string{"aaa", "bbb"}, deletes[0].hashes)
	assert.True(t, deletes[0].boolValue)
}

func TestLimitHashBatch(t *testing.T) {
	hashes := []string{"a", "b", "c", "d", "e"}

	batches := limitHashBatch(hashes, 2)
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"a", "b"}, batches[0])
	assert.Equal(t, []string{"e"}, batches[2])

	batches = limitHashBatch(hashes, 0)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 5)
}

func TestFinalTagList(t *testing.T) {
	assert.Equal(t, "Keep,fresh", finalTagList("Stale,Keep", []string{"fresh"}, []string{"stale"}))
	assert.Equal(t, "only", finalTagList("", []string{"only"}, nil))
	assert.Equal(t, "", finalTagList("gone", nil, []string{"gone"}))
	// duplicate add of an existing tag is not repeated
	assert.Equal(t, "keep", finalTagList("keep", []string{"Keep"}, nil))
}
