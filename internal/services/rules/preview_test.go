// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"fmt"
	"testing"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rulespkg "github.com/autobrr/qrules/internal/rules"
)

// previewFixture builds n torrents where every third one sits below the
// ratio threshold. AddedOn repeats in blocks of five so the hash
// tiebreak does real work, and the slice is scrambled so the stable
// sort does too.
func previewFixture(n int) *snapshot {
	torrents := make([]qbt.Torrent, n)
	for i := range torrents {
		ratio := 2.5
		if i%3 == 2 {
			ratio = 0.4
		}
		torrents[i] = qbt.Torrent{
			Hash:    fmt.Sprintf("%040x", i),
			Name:    fmt.Sprintf("torrent-%03d", i),
			Size:    1 << 30,
			Ratio:   ratio,
			AddedOn: int64(i/5) * 60,
		}
	}
	for i := range torrents {
		j := (i * 37) % n
		torrents[i], torrents[j] = torrents[j], torrents[i]
	}
	return &snapshot{torrents: torrents, evalCtx: &rulespkg.EvalContext{}}
}

func previewTagRunnable() *runnableRule {
	return &runnableRule{
		ID:   1,
		Name: "tag seeded",
		Envelope: envelopeWith(rulespkg.ActionTag, &rulespkg.ActionSpec{
			Tags:      []string{"seed-done"},
			Condition: ratioAtLeast("1.0"),
		}),
	}
}

func TestPreviewSnapshotPagination(t *testing.T) {
	const total = 90 // 60 above the ratio threshold

	var pages [][]PreviewExample
	for _, offset := range []int{0, 25, 50} {
		// Fresh snapshot per page: a real preview re-fetches, the pages
		// must still line up.
		result := previewSnapshot(previewFixture(total), previewTagRunnable(), 25, offset, PreviewViewAll)
		require.Equal(t, 60, result.TotalMatches, "offset %d", offset)
		pages = append(pages, result.Examples)
	}

	require.Len(t, pages[0], 25)
	require.Len(t, pages[1], 25)
	require.Len(t, pages[2], 10)

	seen := make(map[string]struct{})
	var flat []PreviewExample
	for _, page := range pages {
		for _, ex := range page {
			_, dup := seen[ex.Hash]
			assert.False(t, dup, "hash %s returned on two pages", ex.Hash)
			seen[ex.Hash] = struct{}{}
			flat = append(flat, ex)
		}
	}
	require.Len(t, flat, 60)

	// Concatenated pages follow the AddedOn/hash order, and a wider page
	// starts with exactly the first page's slice.
	sorted := previewSnapshot(previewFixture(total), previewTagRunnable(), 60, 0, PreviewViewAll)
	require.Len(t, sorted.Examples, 60)
	assert.Equal(t, sorted.Examples, flat)
	assert.Equal(t, pages[0], sorted.Examples[:25])
}

func TestPreviewSnapshotOffsetBeyondMatches(t *testing.T) {
	result := previewSnapshot(previewFixture(12), previewTagRunnable(), 25, 100, PreviewViewAll)
	assert.Equal(t, 8, result.TotalMatches)
	assert.Empty(t, result.Examples)
}

func TestPreviewSnapshotTrackerScope(t *testing.T) {
	snap := previewFixture(9)
	snap.domainsByHash = map[string][]string{}
	for _, tor := range snap.torrents {
		snap.domainsByHash[tor.Hash] = []string{"keep.example.org"}
	}

	runnable := previewTagRunnable()
	runnable.TrackerPattern = "other.example.org"

	result := previewSnapshot(snap, runnable, 25, 0, PreviewViewAll)
	assert.Zero(t, result.TotalMatches)
	assert.Empty(t, result.Examples)
}
