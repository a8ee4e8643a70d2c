// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"path"
	"sort"
	"strings"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/qrules/internal/models"
	"github.com/autobrr/qrules/internal/qbittorrent"
	rulespkg "github.com/autobrr/qrules/internal/rules"
)

// desiredState accumulates the actions every matching rule wants for one
// torrent. Merge semantics per kind: speed/share limits, tags, category,
// and external program are last-rule-wins; pause and resume clear each
// other; move and delete are first-rule-wins, and a triggered delete stops
// further rule processing for the torrent.
type desiredState struct {
	hash           string
	name           string
	trackerDomains []string

	uploadLimitKiB   *int64
	downloadLimitKiB *int64

	ratioLimit     *float64
	seedingMinutes *int64

	shouldPause  bool
	shouldResume bool

	shouldRecheck    bool
	shouldReannounce bool

	currentTags map[string]struct{}
	tagActions  map[string]string // tag -> "add" | "remove"

	category *string

	shouldMove bool
	movePath   string

	externalProgramID int
	programRuleID     int
	programRuleName   string

	shouldDelete           bool
	deleteMode             string
	deleteIncludeHardlinks bool
	deleteRuleID           int
	deleteRuleName         string
}

func (s *desiredState) hasActions() bool {
	return s.uploadLimitKiB != nil || s.downloadLimitKiB != nil ||
		s.ratioLimit != nil || s.seedingMinutes != nil ||
		s.shouldPause || s.shouldResume ||
		s.shouldRecheck || s.shouldReannounce ||
		len(s.tagActions) > 0 ||
		s.category != nil ||
		s.shouldMove ||
		s.externalProgramID > 0 ||
		s.shouldDelete
}

// tagsToAdd returns tags the torrent should gain, skipping ones it has.
func (s *desiredState) tagsToAdd() []string {
	var add []string
	for tag, action := range s.tagActions {
		if action != "add" {
			continue
		}
		if _, has := s.currentTags[strings.ToLower(tag)]; has {
			continue
		}
		add = append(add, tag)
	}
	sort.Strings(add)
	return add
}

// tagsToRemove returns tags the torrent should lose, skipping absent ones.
func (s *desiredState) tagsToRemove() []string {
	var remove []string
	for tag, action := range s.tagActions {
		if action != "remove" {
			continue
		}
		if _, has := s.currentTags[strings.ToLower(tag)]; !has {
			continue
		}
		remove = append(remove, tag)
	}
	sort.Strings(remove)
	return remove
}

// runStats counts per-rule evaluation outcomes for one pass.
type runStats struct {
	Matched         int
	Applied         map[rulespkg.ActionKind]int
	ConditionNotMet map[rulespkg.ActionKind]int
}

func newRunStats() *runStats {
	return &runStats{
		Applied:         make(map[rulespkg.ActionKind]int),
		ConditionNotMet: make(map[rulespkg.ActionKind]int),
	}
}

// runnableRule pairs a rule's identity with one envelope to evaluate.
// Expression rules contribute one; legacy tracker rules may contribute two.
type runnableRule struct {
	ID             int
	Name           string
	TrackerPattern string
	Envelope       *rulespkg.Envelope
	Grouping       *rulespkg.GroupingConfig
	FreeSpaceKey   string

	// Resolved per pass by the service before evaluation.
	FreeSpace int64
	Groups    *rulespkg.GroupSet
}

// sortTorrentsStable orders torrents oldest-first with hash tiebreak, so
// paginated previews over an unchanged snapshot are prefix-consistent.
func sortTorrentsStable(torrents []qbt.Torrent) {
	sort.Slice(torrents, func(i, j int) bool {
		if torrents[i].AddedOn != torrents[j].AddedOn {
			return torrents[i].AddedOn < torrents[j].AddedOn
		}
		return torrents[i].Hash < torrents[j].Hash
	})
}

// matchesTracker reports whether any of the torrent's tracker domains
// match the rule's pattern. An empty pattern or "*" matches everything;
// tokens support globs and ".suffix" domain matching.
func matchesTracker(pattern string, domains []string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || pattern == "*" {
		return true
	}

	tokens := strings.FieldsFunc(pattern, func(r rune) bool {
		return r == ',' || r == ';' || r == '|'
	})

	for _, token := range tokens {
		normalized := strings.ToLower(strings.TrimSpace(token))
		if normalized == "" {
			continue
		}
		isGlob := strings.ContainsAny(normalized, "*?")

		for _, domain := range domains {
			d := strings.ToLower(domain)
			if isGlob {
				ok, err := path.Match(normalized, d)
				if err != nil {
					log.Error().Err(err).Str("pattern", normalized).Msg("rules: invalid tracker glob")
					continue
				}
				if ok {
					return true
				}
			} else if d == normalized {
				return true
			} else if strings.HasPrefix(normalized, ".") && strings.HasSuffix(d, normalized) {
				return true
			}
		}
	}

	return false
}

func parseTorrentTags(tags string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tag := range strings.Split(tags, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			set[strings.ToLower(tag)] = struct{}{}
		}
	}
	return set
}

// processTorrents evaluates every rule against every torrent and returns
// the resulting desired states keyed by hash.
func processTorrents(
	torrents []qbt.Torrent,
	ruleList []*runnableRule,
	evalCtx *rulespkg.EvalContext,
	domainsByHash map[string][]string,
	stats map[int]*runStats,
) map[string]*desiredState {
	states := make(map[string]*desiredState)

	sortTorrentsStable(torrents)

	for _, torrent := range torrents {
		domains := domainsByHash[torrent.Hash]

		var state *desiredState
		for _, rule := range ruleList {
			if state != nil && state.shouldDelete {
				break
			}
			if !matchesTracker(rule.TrackerPattern, domains) {
				continue
			}

			if state == nil {
				state = &desiredState{
					hash:           torrent.Hash,
					name:           torrent.Name,
					trackerDomains: domains,
					currentTags:    parseTorrentTags(torrent.Tags),
					tagActions:     make(map[string]string),
				}
			}

			ruleStats := stats[rule.ID]
			if ruleStats == nil {
				ruleStats = newRunStats()
				stats[rule.ID] = ruleStats
			}
			ruleStats.Matched++

			if evalCtx != nil {
				evalCtx.FreeSpace = rule.FreeSpace
				evalCtx.Groups = rule.Groups
			}
			processRuleForTorrent(rule, torrent, state, evalCtx, ruleStats)
		}

		if state != nil && state.hasActions() {
			states[torrent.Hash] = state
		}
	}

	return states
}

func processRuleForTorrent(
	rule *runnableRule,
	torrent qbt.Torrent,
	state *desiredState,
	evalCtx *rulespkg.EvalContext,
	stats *runStats,
) {
	envelope := rule.Envelope
	if envelope == nil {
		return
	}

	for _, kind := range envelope.EnabledKinds() {
		spec := envelope.Get(kind)
		if spec == nil {
			continue
		}

		var root rulespkg.Node
		if spec.Condition != nil {
			root = spec.Condition.Root
		}

		// Delete never runs without an explicit condition.
		if kind == rulespkg.ActionDelete && root == nil {
			stats.ConditionNotMet[kind]++
			continue
		}

		// Without tracker health data, a tag rule keyed on registration
		// state could mass-remove tags. Skip it for this pass instead.
		if kind == rulespkg.ActionTag &&
			rulespkg.UsesField(root, rulespkg.FieldIsUnregistered) &&
			(evalCtx == nil || evalCtx.UnregisteredSet == nil) {
			continue
		}

		if !rulespkg.Evaluate(root, torrent, evalCtx) {
			if kind == rulespkg.ActionTag {
				recordTagNonMatch(spec, state)
			}
			stats.ConditionNotMet[kind]++
			continue
		}

		applyActionToState(kind, spec, rule, torrent, state, evalCtx)
		stats.Applied[kind]++
	}
}

func applyActionToState(
	kind rulespkg.ActionKind,
	spec *rulespkg.ActionSpec,
	rule *runnableRule,
	torrent qbt.Torrent,
	state *desiredState,
	evalCtx *rulespkg.EvalContext,
) {
	switch kind {
	case rulespkg.ActionSpeedLimits:
		if spec.UploadKiB != nil {
			state.uploadLimitKiB = spec.UploadKiB
		}
		if spec.DownloadKiB != nil {
			state.downloadLimitKiB = spec.DownloadKiB
		}

	case rulespkg.ActionShareLimits:
		if spec.RatioLimit != nil {
			state.ratioLimit = spec.RatioLimit
		}
		if spec.SeedingTimeMinutes != nil {
			state.seedingMinutes = spec.SeedingTimeMinutes
		}

	case rulespkg.ActionPause:
		if !isStopped(torrent.State) {
			state.shouldPause = true
			state.shouldResume = false
		}

	case rulespkg.ActionResume:
		if isStopped(torrent.State) {
			state.shouldResume = true
			state.shouldPause = false
		}

	case rulespkg.ActionRecheck:
		state.shouldRecheck = true

	case rulespkg.ActionReannounce:
		state.shouldReannounce = true

	case rulespkg.ActionTag:
		applyTagAction(spec, state)

	case rulespkg.ActionCategory:
		if spec.Category != "" && !strings.EqualFold(torrent.Category, spec.Category) {
			category := spec.Category
			state.category = &category
		}

	case rulespkg.ActionMove:
		if state.shouldMove {
			return
		}
		resolved, ok := resolveMovePath(spec.Path, torrent, state)
		if ok && !inSavePath(torrent, resolved) {
			state.shouldMove = true
			state.movePath = resolved
		}

	case rulespkg.ActionExternalProgram:
		if spec.ProgramID > 0 {
			state.externalProgramID = spec.ProgramID
			state.programRuleID = rule.ID
			state.programRuleName = rule.Name
		}

	case rulespkg.ActionDelete:
		state.shouldDelete = true
		state.deleteMode = spec.Mode
		if state.deleteMode == "" {
			state.deleteMode = rulespkg.DeleteModeKeepFiles
		}
		state.deleteIncludeHardlinks = spec.IncludeHardlinks
		state.deleteRuleID = rule.ID
		state.deleteRuleName = rule.Name

		// Freeing space counts toward this pass's FREE_SPACE projection
		// only when the files actually leave the disk.
		if evalCtx != nil && rulespkg.UsesField(conditionRoot(spec), rulespkg.FieldFreeSpace) &&
			deleteFreesSpace(state.deleteMode) {
			evalCtx.SpaceToClear += torrent.Size
		}
	}
}

func conditionRoot(spec *rulespkg.ActionSpec) rulespkg.Node {
	if spec == nil || spec.Condition == nil {
		return nil
	}
	return spec.Condition.Root
}

// applyTagAction records per-tag add/remove intents. Mode full tags
// matches and untags non-matches; this is the matching half, the
// non-matching half is recorded by recordTagNonMatch.
func applyTagAction(spec *rulespkg.ActionSpec, state *desiredState) {
	mode := spec.Mode
	if mode == "" {
		mode = rulespkg.TagModeFull
	}
	if mode == rulespkg.TagModeRemove {
		return
	}
	for _, tag := range spec.Tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			state.tagActions[tag] = "add"
		}
	}
}

// recordTagNonMatch handles the non-matching side of tag rules for modes
// full and remove.
func recordTagNonMatch(spec *rulespkg.ActionSpec, state *desiredState) {
	mode := spec.Mode
	if mode == "" {
		mode = rulespkg.TagModeFull
	}
	if mode == rulespkg.TagModeAdd {
		return
	}
	for _, tag := range spec.Tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			state.tagActions[tag] = "remove"
		}
	}
}

func isStopped(state qbt.TorrentState) bool {
	switch state {
	case qbt.TorrentStatePausedUp, qbt.TorrentStatePausedDl,
		qbt.TorrentStateStoppedUp, qbt.TorrentStateStoppedDl:
		return true
	}
	return false
}

// deleteFreesSpace reports whether the delete mode removes data from disk.
func deleteFreesSpace(mode string) bool {
	switch mode {
	case rulespkg.DeleteModeWithFiles,
		rulespkg.DeleteModeWithFilesPreserveCrossSeeds,
		rulespkg.DeleteModeWithFilesIncludeCrossSeeds:
		return true
	}
	return false
}

func inSavePath(torrent qbt.Torrent, savePath string) bool {
	return normalizeComparePath(torrent.SavePath) == normalizeComparePath(savePath)
}

func normalizeComparePath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, `\`, "/"))
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	return strings.ToLower(strings.TrimSuffix(p, "/"))
}

// collectTrackerDomains gathers every tracker domain the snapshot knows
// for each torrent: the primary tracker URL on the torrent itself plus
// any hydrated tracker list entries.
func collectTrackerDomains(torrents []qbt.Torrent) map[string][]string {
	byHash := make(map[string][]string, len(torrents))
	for _, t := range torrents {
		set := make(map[string]struct{})
		if t.Tracker != "" {
			if domain := qbittorrent.ExtractTrackerDomain(t.Tracker); domain != "" {
				set[domain] = struct{}{}
			}
		}
		for _, tr := range t.Trackers {
			if tr.Url == "" || strings.HasPrefix(tr.Url, "**") {
				continue
			}
			if domain := qbittorrent.ExtractTrackerDomain(tr.Url); domain != "" {
				set[domain] = struct{}{}
			}
		}
		domains := make([]string, 0, len(set))
		for d := range set {
			domains = append(domains, d)
		}
		sort.Strings(domains)
		byHash[t.Hash] = domains
	}
	return byHash
}

// runnableRulesFor flattens enabled expression and legacy rules for one
// instance into evaluation order: expression rules by sort order, then
// legacy rules by sort order.
func runnableRulesFor(expression []*models.Rule, legacy []*models.TrackerRule) []*runnableRule {
	var out []*runnableRule

	for _, rule := range expression {
		if !rule.Enabled {
			continue
		}
		pattern := ""
		if rule.TrackerPattern != nil {
			pattern = *rule.TrackerPattern
		}
		out = append(out, &runnableRule{
			ID:             rule.ID,
			Name:           rule.Name,
			TrackerPattern: pattern,
			Envelope:       rule.Conditions,
			Grouping:       rule.Grouping,
			FreeSpaceKey:   rule.FreeSpaceSource.Key(),
		})
	}

	for _, rule := range legacy {
		if !rule.Enabled {
			continue
		}
		for _, envelope := range rule.ToEnvelopes() {
			out = append(out, &runnableRule{
				ID:             rule.ID,
				Name:           rule.Name,
				TrackerPattern: rule.TrackerPattern,
				Envelope:       envelope,
				FreeSpaceKey:   qbittorrentFreeSpaceKey,
			})
		}
	}

	return out
}
