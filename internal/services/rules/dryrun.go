// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/qrules/internal/models"
	rulespkg "github.com/autobrr/qrules/internal/rules"
)

// DryRunActionSummary describes what one action kind would have done.
type DryRunActionSummary struct {
	Torrents    int   `json:"torrents"`
	Bytes       int64 `json:"bytes,omitempty"`
	TagsAdded   int   `json:"tagsAdded,omitempty"`
	TagsRemoved int   `json:"tagsRemoved,omitempty"`
}

type DryRunResult struct {
	BatchID      string                          `json:"batchId"`
	TotalMatched int                             `json:"totalMatched"`
	Actions      map[string]*DryRunActionSummary `json:"actions"`
}

// DryRun evaluates one rule exactly the way a scheduled pass would, but
// records what would happen instead of doing it. Every run produces its
// own activity batch.
func (s *Service) DryRun(ctx context.Context, instanceID int, rule *models.Rule) (*DryRunResult, error) {
	if rule == nil || rule.Conditions == nil {
		return nil, fmt.Errorf("rule has no conditions")
	}

	if s.collector != nil {
		s.collector.GetDryRunTotal(instanceID, rule.ID, rule.Name).Inc()
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

	stats := make(map[int]*runStats)
	states := processTorrents(snap.torrents, ruleList, snap.evalCtx, snap.domainsByHash, stats)

	sizeByHash := make(map[string]int64, len(snap.torrents))
	for _, t := range snap.torrents {
		sizeByHash[t.Hash] = t.Size
	}

	result := &DryRunResult{
		Actions: summarizeStates(states, sizeByHash),
	}
	if rs := stats[runnable.ID]; rs != nil {
		result.TotalMatched = rs.Matched
	}

	activities := make([]*models.RuleActivity, 0, len(result.Actions))
	for action, summary := range result.Actions {
		rec := &models.RuleActivity{
			InstanceID: instanceID,
			RuleName:   rule.Name,
			Action:     action,
			Outcome:    models.OutcomeApplied,
			DryRun:     true,
		}
		if rule.ID > 0 {
			id := rule.ID
			rec.RuleID = &id
		}
		if raw, err := json.Marshal(summary); err == nil {
			details := string(raw)
			rec.Details = &details
		}
		activities = append(activities, rec)
	}

	if s.activityStore != nil && len(activities) > 0 {
		batchID, err := s.activityStore.CreateBatch(ctx, activities)
		if err != nil {
			return nil, fmt.Errorf("failed to record dry run: %w", err)
		}
		result.BatchID = batchID
	}

	if rule.ID > 0 && s.ruleStore != nil {
		if err := s.ruleStore.TouchDryRun(ctx, rule.ID); err != nil {
			log.Warn().Err(err).Int("ruleID", rule.ID).Msg("rules: failed to record dry run timestamp")
		}
	}

	return result, nil
}

// summarizeStates folds per-torrent desired states into per-action counts.
func summarizeStates(states map[string]*desiredState, sizeByHash map[string]int64) map[string]*DryRunActionSummary {
	summaries := make(map[string]*DryRunActionSummary)
	get := func(kind rulespkg.ActionKind) *DryRunActionSummary {
		key := string(kind)
		if summaries[key] == nil {
			summaries[key] = &DryRunActionSummary{}
		}
		return summaries[key]
	}

	for hash, st := range states {
		if st.uploadLimitKiB != nil || st.downloadLimitKiB != nil {
			get(rulespkg.ActionSpeedLimits).Torrents++
		}
		if st.ratioLimit != nil || st.seedingMinutes != nil {
			get(rulespkg.ActionShareLimits).Torrents++
		}
		if st.shouldPause {
			get(rulespkg.ActionPause).Torrents++
		}
		if st.shouldResume {
			get(rulespkg.ActionResume).Torrents++
		}
		if st.shouldRecheck {
			get(rulespkg.ActionRecheck).Torrents++
		}
		if st.shouldReannounce {
			get(rulespkg.ActionReannounce).Torrents++
		}
		if adds, removes := st.tagsToAdd(), st.tagsToRemove(); len(adds) > 0 || len(removes) > 0 {
			summary := get(rulespkg.ActionTag)
			summary.Torrents++
			summary.TagsAdded += len(adds)
			summary.TagsRemoved += len(removes)
		}
		if st.category != nil {
			get(rulespkg.ActionCategory).Torrents++
		}
		if st.shouldMove {
			get(rulespkg.ActionMove).Torrents++
		}
		if st.externalProgramID > 0 {
			get(rulespkg.ActionExternalProgram).Torrents++
		}
		if st.shouldDelete {
			summary := get(rulespkg.ActionDelete)
			summary.Torrents++
			if deleteFreesSpace(st.deleteMode) {
				summary.Bytes += sizeByHash[hash]
			}
		}
	}

	return summaries
}
