// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"context"
	"fmt"

	"github.com/autobrr/qrules/internal/models"
	rulespkg "github.com/autobrr/qrules/internal/rules"
)

// Preview views. The needed view projects space freed by earlier matches
// into FREE_SPACE, so it shows what a real run would touch; the all view
// shows every torrent satisfying the condition as-is.
const (
	PreviewViewNeeded = "needed"
	PreviewViewAll    = "all"
)

type PreviewExample struct {
	Hash    string   `json:"hash"`
	Name    string   `json:"name"`
	Size    int64    `json:"size"`
	Tracker string   `json:"tracker,omitempty"`
	Actions []string `json:"actions"`
}

type PreviewResult struct {
	TotalMatches   int              `json:"totalMatches"`
	CrossSeedCount int              `json:"crossSeedCount"`
	Examples       []PreviewExample `json:"examples"`
}

// Preview evaluates one rule against the instance's current torrents
// without issuing any action. The torrent order is stable for a given
// snapshot, so limit/offset pages are prefix-consistent as long as the
// snapshot does not change underneath.
func (s *Service) Preview(ctx context.Context, instanceID int, rule *models.Rule, limit, offset int, view string) (*PreviewResult, error) {
	if rule == nil || rule.Conditions == nil {
		return nil, fmt.Errorf("rule has no conditions")
	}
	if limit <= 0 {
		limit = 25
	}
	if offset < 0 {
		offset = 0
	}
	if view == "" {
		view = PreviewViewNeeded
	}

	if s.collector != nil {
		s.collector.GetPreviewTotal(instanceID).Inc()
	}

	instance, err := s.instanceStore.Get(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load instance %d: %w", instanceID, err)
	}

	client, err := s.pool.GetClient(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	runnable := previewRunnable(rule)
	ruleList := []*runnableRule{runnable}

	snap, err := s.buildSnapshot(ctx, client, instance, ruleList)
	if err != nil {
		return nil, err
	}

	return previewSnapshot(snap, runnable, limit, offset, view), nil
}

// previewSnapshot pages over the snapshot in the stable AddedOn/hash
// order. TotalMatches always counts the full snapshot, so pages taken
// with different offsets agree on the total and never overlap.
func previewSnapshot(snap *snapshot, runnable *runnableRule, limit, offset int, view string) *PreviewResult {
	result := &PreviewResult{Examples: []PreviewExample{}}
	sortTorrentsStable(snap.torrents)

	evalCtx := snap.evalCtx
	evalCtx.FreeSpace = runnable.FreeSpace
	evalCtx.Groups = runnable.Groups

	envelope := runnable.Envelope
	crossSeeds := make(map[string]struct{})
	matchedHashes := make(map[string]struct{})

	for _, torrent := range snap.torrents {
		if !matchesTracker(runnable.TrackerPattern, snap.domainsByHash[torrent.Hash]) {
			continue
		}

		var matched []string
		for _, kind := range envelope.EnabledKinds() {
			spec := envelope.Get(kind)
			if spec == nil {
				continue
			}
			root := conditionRoot(spec)
			if kind == rulespkg.ActionDelete && root == nil {
				continue
			}
			if !rulespkg.Evaluate(root, torrent, evalCtx) {
				continue
			}
			matched = append(matched, string(kind))

			if kind == rulespkg.ActionDelete {
				if view == PreviewViewNeeded &&
					rulespkg.UsesField(root, rulespkg.FieldFreeSpace) &&
					deleteFreesSpace(deleteModeOrDefault(spec)) {
					evalCtx.SpaceToClear += torrent.Size
				}
				for _, member := range runnable.Groups.MembersForHash(rulespkg.GroupCrossSeedContentPath, torrent.Hash) {
					if member != torrent.Hash {
						crossSeeds[member] = struct{}{}
					}
				}
			}
		}

		if len(matched) == 0 {
			continue
		}
		matchedHashes[torrent.Hash] = struct{}{}

		if result.TotalMatches >= offset && len(result.Examples) < limit {
			example := PreviewExample{
				Hash:    torrent.Hash,
				Name:    torrent.Name,
				Size:    torrent.Size,
				Actions: matched,
			}
			if domains := snap.domainsByHash[torrent.Hash]; len(domains) > 0 {
				example.Tracker = domains[0]
			}
			result.Examples = append(result.Examples, example)
		}
		result.TotalMatches++
	}

	for hash := range crossSeeds {
		if _, ok := matchedHashes[hash]; !ok {
			result.CrossSeedCount++
		}
	}

	return result
}

// previewRunnable builds the evaluation shape for a rule that may not be
// saved or enabled yet.
func previewRunnable(rule *models.Rule) *runnableRule {
	pattern := ""
	if rule.TrackerPattern != nil {
		pattern = *rule.TrackerPattern
	}
	return &runnableRule{
		ID:             rule.ID,
		Name:           rule.Name,
		TrackerPattern: pattern,
		Envelope:       rule.Conditions,
		Grouping:       rule.Grouping,
		FreeSpaceKey:   rule.FreeSpaceSource.Key(),
	}
}

func deleteModeOrDefault(spec *rulespkg.ActionSpec) string {
	if spec.Mode == "" {
		return rulespkg.DeleteModeKeepFiles
	}
	return spec.Mode
}
