// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/qrules/internal/models"
	rulespkg "github.com/autobrr/qrules/internal/rules"
)

const applyTimeout = 60 * time.Second

// applyClient is the slice of the qBittorrent client the apply pass uses.
type applyClient interface {
	SupportsSetTags() bool
	SetTorrentUploadLimitCtx(ctx context.Context, hashes []string, limit int64) error
	SetTorrentDownloadLimitCtx(ctx context.Context, hashes []string, limit int64) error
	SetTorrentShareLimitCtx(ctx context.Context, hashes []string, ratioLimit float64, seedingTimeLimit, inactiveSeedingTimeLimit int64) error
	PauseCtx(ctx context.Context, hashes []string) error
	ResumeCtx(ctx context.Context, hashes []string) error
	RecheckCtx(ctx context.Context, hashes []string) error
	ReAnnounceTorrentsCtx(ctx context.Context, hashes []string) error
	AddTagsCtx(ctx context.Context, hashes []string, tags string) error
	RemoveTagsCtx(ctx context.Context, hashes []string, tags string) error
	SetTags(ctx context.Context, hashes []string, tags string) error
	SetCategoryCtx(ctx context.Context, hashes []string, category string) error
	SetLocationCtx(ctx context.Context, hashes []string, location string) error
	DeleteTorrentsCtx(ctx context.Context, hashes []string, deleteFiles bool) error
}

// activityRecorder accumulates per-torrent records for one apply pass and
// flushes them as a single batch.
type activityRecorder struct {
	instanceID int
	records    []*models.RuleActivity
}

func (r *activityRecorder) add(hash string, st *desiredState, action, outcome string, reason string, details map[string]any) {
	rec := &models.RuleActivity{
		InstanceID: r.instanceID,
		Hash:       hash,
		Action:     action,
		Outcome:    outcome,
	}
	if st != nil {
		if st.name != "" {
			name := st.name
			rec.TorrentName = &name
		}
		if len(st.trackerDomains) > 0 {
			domain := st.trackerDomains[0]
			rec.TrackerDomain = &domain
		}
	}
	if reason != "" {
		rec.Reason = &reason
	}
	if details != nil {
		if raw, err := json.Marshal(details); err == nil {
			encoded := string(raw)
			rec.Details = &encoded
		}
	}
	r.records = append(r.records, rec)
}

func (r *activityRecorder) flush(ctx context.Context, store *models.ActivityStore) {
	if store == nil || len(r.records) == 0 {
		return
	}
	if _, err := store.CreateBatch(ctx, r.records); err != nil {
		log.Warn().Err(err).Int("instanceID", r.instanceID).Msg("rules: failed to record activity batch")
	}
}

type shareKey struct {
	ratio float64
	seed  int64
}

type pendingDelete struct {
	hash        string
	state       *desiredState
	mode        string
	deleteFiles bool
	extraHashes []string
	size        int64
}

// applyStates executes the merged per-torrent actions, batching identical
// calls together. Torrents scheduled for deletion receive no other action.
func (s *Service) applyStates(
	ctx context.Context,
	client applyClient,
	instance *models.Instance,
	states map[string]*desiredState,
	torrentByHash map[string]qbt.Torrent,
	groups *rulespkg.GroupSet,
) {
	ctx, cancel := context.WithTimeout(ctx, applyTimeout)
	defer cancel()

	recorder := &activityRecorder{instanceID: instance.ID}

	uploadBatches := make(map[int64][]string)
	downloadBatches := make(map[int64][]string)
	shareBatches := make(map[shareKey][]string)
	addTagBatches := make(map[string][]string)
	removeTagBatches := make(map[string][]string)
	setTagBatches := make(map[string][]string)
	categoryBatches := make(map[string][]string)
	moveBatches := make(map[string][]string)

	var pauseHashes, resumeHashes, recheckHashes, reannounceHashes []string
	var deletes []pendingDelete

	supportsSetTags := client.SupportsSetTags()

	hashes := make([]string, 0, len(states))
	for hash := range states {
		hashes = append(hashes, hash)
	}
	sort.Strings(hashes)

	for _, hash := range hashes {
		st := states[hash]
		torrent := torrentByHash[hash]

		if st.shouldDelete {
			deletes = append(deletes, resolveDelete(hash, st, torrent, groups))
			continue
		}

		if st.uploadLimitKiB != nil && !limitSatisfied(torrent.UpLimit, *st.uploadLimitKiB) {
			uploadBatches[*st.uploadLimitKiB] = append(uploadBatches[*st.uploadLimitKiB], hash)
		}
		if st.downloadLimitKiB != nil && !limitSatisfied(torrent.DlLimit, *st.downloadLimitKiB) {
			downloadBatches[*st.downloadLimitKiB] = append(downloadBatches[*st.downloadLimitKiB], hash)
		}
		if st.ratioLimit != nil || st.seedingMinutes != nil {
			ratio := torrent.RatioLimit
			if st.ratioLimit != nil {
				ratio = *st.ratioLimit
			}
			seed := torrent.SeedingTimeLimit
			if st.seedingMinutes != nil {
				seed = *st.seedingMinutes
			}
			changed := (st.ratioLimit != nil && torrent.RatioLimit != ratio) ||
				(st.seedingMinutes != nil && torrent.SeedingTimeLimit != seed)
			if changed {
				key := shareKey{ratio: ratio, seed: seed}
				shareBatches[key] = append(shareBatches[key], hash)
			}
		}

		if st.shouldPause {
			pauseHashes = append(pauseHashes, hash)
		}
		if st.shouldResume {
			resumeHashes = append(resumeHashes, hash)
		}
		if st.shouldRecheck {
			recheckHashes = append(recheckHashes, hash)
		}
		if st.shouldReannounce {
			reannounceHashes = append(reannounceHashes, hash)
		}

		adds := st.tagsToAdd()
		removes := st.tagsToRemove()
		switch {
		case supportsSetTags && len(adds) > 0 && len(removes) > 0:
			// One atomic replace instead of a remove+add pair.
			final := finalTagList(torrent.Tags, adds, removes)
			setTagBatches[final] = append(setTagBatches[final], hash)
		default:
			if len(adds) > 0 {
				key := strings.Join(adds, ",")
				addTagBatches[key] = append(addTagBatches[key], hash)
			}
			if len(removes) > 0 {
				key := strings.Join(removes, ",")
				removeTagBatches[key] = append(removeTagBatches[key], hash)
			}
		}

		if st.category != nil {
			categoryBatches[*st.category] = append(categoryBatches[*st.category], hash)
		}
		if st.shouldMove {
			moveBatches[st.movePath] = append(moveBatches[st.movePath], hash)
		}

		if st.externalProgramID > 0 && s.programs != nil {
			if err := s.programs.Execute(ctx, st.externalProgramID, instance.ID, torrent, st.programRuleID, st.programRuleName); err != nil {
				log.Warn().Err(err).Str("hash", hash).Int("programID", st.externalProgramID).
					Msg("rules: external program launch failed")
				recorder.add(hash, st, "external_program", models.OutcomeFailed, err.Error(),
					map[string]any{"programId": st.externalProgramID, "rule": st.programRuleName})
			} else {
				recorder.add(hash, st, "external_program", models.OutcomeApplied, "",
					map[string]any{"programId": st.externalProgramID, "rule": st.programRuleName})
			}
		}
	}

	for limit, batchHashes := range uploadBatches {
		s.runBatched(ctx, batchHashes, states, recorder, "upload_limit",
			map[string]any{"limitKiB": limit},
			func(batch []string) error {
				return client.SetTorrentUploadLimitCtx(ctx, batch, limit*1024)
			})
	}
	for limit, batchHashes := range downloadBatches {
		s.runBatched(ctx, batchHashes, states, recorder, "download_limit",
			map[string]any{"limitKiB": limit},
			func(batch []string) error {
				return client.SetTorrentDownloadLimitCtx(ctx, batch, limit*1024)
			})
	}
	for key, batchHashes := range shareBatches {
		s.runBatched(ctx, batchHashes, states, recorder, "share_limit",
			map[string]any{"ratio": key.ratio, "seedMinutes": key.seed},
			func(batch []string) error {
				return client.SetTorrentShareLimitCtx(ctx, batch, key.ratio, key.seed, -1)
			})
	}

	if len(pauseHashes) > 0 {
		s.runBatched(ctx, pauseHashes, states, recorder, "pause", nil,
			func(batch []string) error { return client.PauseCtx(ctx, batch) })
	}
	if len(resumeHashes) > 0 {
		s.runBatched(ctx, resumeHashes, states, recorder, "resume", nil,
			func(batch []string) error { return client.ResumeCtx(ctx, batch) })
	}
	if len(recheckHashes) > 0 {
		s.runBatched(ctx, recheckHashes, states, recorder, "recheck", nil,
			func(batch []string) error { return client.RecheckCtx(ctx, batch) })
	}
	if len(reannounceHashes) > 0 {
		s.runBatched(ctx, reannounceHashes, states, recorder, "reannounce", nil,
			func(batch []string) error { return client.ReAnnounceTorrentsCtx(ctx, batch) })
	}

	for tags, batchHashes := range addTagBatches {
		s.runBatched(ctx, batchHashes, states, recorder, "tag_add",
			map[string]any{"tags": tags},
			func(batch []string) error { return client.AddTagsCtx(ctx, batch, tags) })
	}
	for tags, batchHashes := range removeTagBatches {
		s.runBatched(ctx, batchHashes, states, recorder, "tag_remove",
			map[string]any{"tags": tags},
			func(batch []string) error { return client.RemoveTagsCtx(ctx, batch, tags) })
	}
	for tags, batchHashes := range setTagBatches {
		s.runBatched(ctx, batchHashes, states, recorder, "tag_set",
			map[string]any{"tags": tags},
			func(batch []string) error { return client.SetTags(ctx, batch, tags) })
	}

	for category, batchHashes := range categoryBatches {
		s.runBatched(ctx, batchHashes, states, recorder, "category",
			map[string]any{"category": category},
			func(batch []string) error { return client.SetCategoryCtx(ctx, batch, category) })
	}

	for location, batchHashes := range moveBatches {
		s.runBatched(ctx, batchHashes, states, recorder, "move",
			map[string]any{"path": location},
			func(batch []string) error { return client.SetLocationCtx(ctx, batch, location) })
	}

	s.applyDeletes(ctx, client, deletes, states, recorder)

	recorder.flush(ctx, s.activityStore)
}

// runBatched splits hashes into size-limited chunks, runs fn per chunk,
// and records one outcome per torrent.
func (s *Service) runBatched(
	ctx context.Context,
	hashes []string,
	states map[string]*desiredState,
	recorder *activityRecorder,
	action string,
	details map[string]any,
	fn func(batch []string) error,
) {
	for _, batch := range limitHashBatch(hashes, s.cfg.MaxBatchHashes) {
		err := fn(batch)
		if err != nil {
			log.Warn().Err(err).Str("action", action).Int("count", len(batch)).
				Msg("rules: batch action failed")
		}
		for _, hash := range batch {
			if err != nil {
				recorder.add(hash, states[hash], action, models.OutcomeFailed, err.Error(), details)
			} else {
				recorder.add(hash, states[hash], action, models.OutcomeApplied, "", details)
			}
		}
	}
	if ctx.Err() != nil {
		log.Warn().Str("action", action).Msg("rules: apply pass timed out")
	}
}

// resolveDelete decides how one torrent's delete is carried out, applying
// cross-seed handling against the built-in content-path group.
func resolveDelete(hash string, st *desiredState, torrent qbt.Torrent, groups *rulespkg.GroupSet) pendingDelete {
	mode := st.deleteMode
	pd := pendingDelete{
		hash:  hash,
		state: st,
		mode:  mode,
		size:  torrent.Size,
	}

	switch mode {
	case rulespkg.DeleteModeWithFilesPreserveCrossSeeds:
		// Other torrents still reference the same content, so the files
		// stay on disk and only the torrent entry is removed.
		if members := groups.MembersForHash(rulespkg.GroupCrossSeedContentPath, hash); len(members) > 1 {
			pd.mode = rulespkg.DeleteModeKeepFiles
			pd.deleteFiles = false
			return pd
		}
		pd.deleteFiles = true
	case rulespkg.DeleteModeWithFilesIncludeCrossSeeds:
		pd.deleteFiles = true
		for _, member := range groups.MembersForHash(rulespkg.GroupCrossSeedContentPath, hash) {
			if member != hash {
				pd.extraHashes = append(pd.extraHashes, member)
			}
		}
	default:
		pd.deleteFiles = deleteFreesSpace(mode)
	}
	return pd
}

func (s *Service) applyDeletes(
	ctx context.Context,
	client applyClient,
	deletes []pendingDelete,
	states map[string]*desiredState,
	recorder *activityRecorder,
) {
	if len(deletes) == 0 {
		return
	}

	withFiles := make([]string, 0)
	keepFiles := make([]string, 0)
	queued := make(map[string]struct{})

	for _, pd := range deletes {
		if _, ok := queued[pd.hash]; ok {
			continue
		}
		queued[pd.hash] = struct{}{}
		if pd.deleteFiles {
			withFiles = append(withFiles, pd.hash)
		} else {
			keepFiles = append(keepFiles, pd.hash)
		}
		for _, extra := range pd.extraHashes {
			if _, ok := queued[extra]; ok {
				continue
			}
			queued[extra] = struct{}{}
			withFiles = append(withFiles, extra)
		}
	}

	deleteBatch := func(hashes []string, deleteFiles bool) error {
		var firstErr error
		for _, batch := range limitHashBatch(hashes, s.cfg.MaxBatchHashes) {
			if err := client.DeleteTorrentsCtx(ctx, batch, deleteFiles); err != nil {
				log.Error().Err(err).Bool("deleteFiles", deleteFiles).Int("count", len(batch)).
					Msg("rules: delete failed")
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		return firstErr
	}

	errWith := deleteBatch(withFiles, true)
	errKeep := deleteBatch(keepFiles, false)

	for _, pd := range deletes {
		err := errKeep
		if pd.deleteFiles {
			err = errWith
		}
		details := map[string]any{
			"mode":  pd.mode,
			"bytes": pd.size,
			"rule":  pd.state.deleteRuleName,
		}
		if len(pd.extraHashes) > 0 {
			details["crossSeeds"] = pd.extraHashes
		}
		if err != nil {
			recorder.add(pd.hash, pd.state, "delete", models.OutcomeFailed, err.Error(), details)
		} else {
			recorder.add(pd.hash, pd.state, "delete", models.OutcomeApplied, "", details)
		}
	}
}

// finalTagList computes the tag set SetTags should install: the torrent's
// current tags minus removals plus additions, case preserved, sorted.
func finalTagList(current string, adds, removes []string) string {
	removeSet := make(map[string]struct{}, len(removes))
	for _, tag := range removes {
		removeSet[strings.ToLower(tag)] = struct{}{}
	}

	seen := make(map[string]struct{})
	var out []string
	for _, tag := range strings.Split(current, ",") {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		lower := strings.ToLower(tag)
		if _, drop := removeSet[lower]; drop {
			continue
		}
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, tag)
	}
	for _, tag := range adds {
		lower := strings.ToLower(tag)
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

// limitSatisfied reports whether a torrent's current transfer limit
// already matches the desired KiB/s value. qBittorrent reports an
// unlimited torrent as -1 while the API sets unlimited with 0, so both
// forms count as satisfied when 0 is desired.
func limitSatisfied(currentBytes, desiredKiB int64) bool {
	if desiredKiB == 0 {
		return currentBytes <= 0
	}
	return currentBytes == desiredKiB*1024
}
