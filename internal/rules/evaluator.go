// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"slices"
	"strconv"
	"strings"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"
)

// EvalContext provides instance-level context for condition evaluation
// beyond what a single torrent carries.
type EvalContext struct {
	// UnregisteredSet contains hashes of torrents whose trackers report them
	// as unregistered.
	UnregisteredSet map[string]struct{}
	// TrackerDownSet contains hashes of torrents whose trackers are down.
	TrackerDownSet map[string]struct{}
	// FreeSpace is the free space reported by the rule's free space source.
	FreeSpace int64
	// SpaceToClear is disk space already claimed by earlier matches in the
	// same pass, so FREE_SPACE rules see a projected value.
	SpaceToClear int64
	// Groups resolves grouping lookups for GROUP_SIZE/IS_GROUPED leaves.
	Groups *GroupSet
	// Releases parses release metadata from torrent names.
	Releases *ReleaseParser
	// NowUnix is the current Unix timestamp for age fields. Zero means
	// time.Now(); set it for deterministic tests.
	NowUnix int64
}

func (ctx *EvalContext) now() int64 {
	if ctx != nil && ctx.NowUnix > 0 {
		return ctx.NowUnix
	}
	return time.Now().Unix()
}

// Evaluate recursively evaluates a condition tree against a torrent.
// A nil node matches everything.
func Evaluate(node Node, torrent qbt.Torrent, ctx *EvalContext) bool {
	return evaluate(node, torrent, ctx, 0)
}

func evaluate(node Node, torrent qbt.Torrent, ctx *EvalContext, depth int) bool {
	if node == nil {
		return true
	}
	if depth > maxConditionDepth {
		return false
	}

	var result bool
	switch n := node.(type) {
	case *Group:
		switch n.Combinator {
		case OperatorOr:
			result = false
			for _, child := range n.Children {
				if evaluate(child, torrent, ctx, depth+1) {
					result = true
					break
				}
			}
		case OperatorAnd:
			result = len(n.Children) > 0
			for _, child := range n.Children {
				if !evaluate(child, torrent, ctx, depth+1) {
					result = false
					break
				}
			}
		}
		if n.Negate {
			result = !result
		}
	case *Leaf:
		result = evaluateLeaf(n, torrent, ctx)
		if n.Negate {
			result = !result
		}
	}

	return result
}

func evaluateLeaf(l *Leaf, torrent qbt.Torrent, ctx *EvalContext) bool {
	if l.Regex || l.Operator == OperatorMatches {
		if err := l.Compile(); err != nil {
			log.Debug().
				Err(err).
				Str("field", string(l.Field)).
				Str("pattern", l.Value).
				Msg("rules: regex compilation failed")
			return false
		}
	}

	switch l.Field {
	// String fields
	case FieldName:
		return compareString(torrent.Name, l)
	case FieldHash:
		return compareString(torrent.Hash, l)
	case FieldCategory:
		return compareString(torrent.Category, l)
	case FieldTags:
		return compareTags(torrent.Tags, l)
	case FieldSavePath:
		return compareString(torrent.SavePath, l)
	case FieldContentPath:
		return compareString(torrent.ContentPath, l)
	case FieldState:
		return compareState(torrent, l, ctx)
	case FieldTracker:
		return compareString(torrent.Tracker, l)
	case FieldComment:
		return compareString(torrent.Comment, l)

	// Bytes fields
	case FieldSize:
		return compareInt64(torrent.Size, l)
	case FieldTotalSize:
		return compareInt64(torrent.TotalSize, l)
	case FieldDownloaded:
		return compareInt64(torrent.Downloaded, l)
	case FieldUploaded:
		return compareInt64(torrent.Uploaded, l)
	case FieldAmountLeft:
		return compareInt64(torrent.AmountLeft, l)
	case FieldFreeSpace:
		if ctx == nil {
			return false
		}
		return compareInt64(ctx.FreeSpace+ctx.SpaceToClear, l)

	// Timestamp/duration fields
	case FieldAddedOn:
		return compareInt64(torrent.AddedOn, l)
	case FieldCompletionOn:
		return compareInt64(torrent.CompletionOn, l)
	case FieldLastActivity:
		return compareInt64(torrent.LastActivity, l)
	case FieldSeedingTime:
		return compareInt64(torrent.SeedingTime, l)
	case FieldTimeActive:
		return compareInt64(torrent.TimeActive, l)

	// Age fields
	case FieldAddedOnAge:
		return compareAge(torrent.AddedOn, l, ctx)
	case FieldCompletionOnAge:
		// Never completed: don't match
		if torrent.CompletionOn == 0 {
			return false
		}
		return compareAge(torrent.CompletionOn, l, ctx)
	case FieldLastActivityAge:
		if torrent.LastActivity == 0 {
			return false
		}
		return compareAge(torrent.LastActivity, l, ctx)

	// Float fields
	case FieldRatio:
		return compareFloat64(torrent.Ratio, l)
	case FieldProgress:
		return compareFloat64(torrent.Progress, l)
	case FieldAvailability:
		return compareFloat64(torrent.Availability, l)

	// Speed fields
	case FieldDlSpeed:
		return compareInt64(torrent.DlSpeed, l)
	case FieldUpSpeed:
		return compareInt64(torrent.UpSpeed, l)

	// Count fields
	case FieldNumSeeds:
		return compareInt64(torrent.NumSeeds, l)
	case FieldNumLeechs:
		return compareInt64(torrent.NumLeechs, l)
	case FieldNumComplete:
		return compareInt64(torrent.NumComplete, l)
	case FieldNumIncomplete:
		return compareInt64(torrent.NumIncomplete, l)
	case FieldTrackersCount:
		return compareInt64(torrent.TrackersCount, l)

	// Grouping fields
	case FieldGroupSize:
		if ctx == nil || ctx.Groups == nil {
			return false
		}
		return compareInt64(int64(ctx.Groups.SizeForHash(l.GroupID, torrent.Hash)), l)
	case FieldIsGrouped:
		if ctx == nil || ctx.Groups == nil {
			return false
		}
		return compareBool(ctx.Groups.SizeForHash(l.GroupID, torrent.Hash) > 1, l)

	// Boolean fields
	case FieldPrivate:
		return compareBool(torrent.Private, l)
	case FieldIsUnregistered:
		isUnregistered := false
		if ctx != nil && ctx.UnregisteredSet != nil {
			_, isUnregistered = ctx.UnregisteredSet[torrent.Hash]
		}
		return compareBool(isUnregistered, l)

	// Release metadata fields
	case FieldReleaseResolution:
		return compareString(ctx.releases().Resolution(torrent.Name), l)
	case FieldReleaseSource:
		return compareString(ctx.releases().Source(torrent.Name), l)
	case FieldReleaseCodec:
		return compareString(ctx.releases().Codec(torrent.Name), l)
	case FieldReleaseHDR:
		return compareString(ctx.releases().HDR(torrent.Name), l)
	case FieldReleaseAudio:
		return compareString(ctx.releases().Audio(torrent.Name), l)
	case FieldReleaseGroup:
		return compareString(ctx.releases().Group(torrent.Name), l)

	default:
		return false
	}
}

func (ctx *EvalContext) releases() *ReleaseParser {
	if ctx == nil {
		return nil
	}
	return ctx.Releases
}

func compareState(torrent qbt.Torrent, l *Leaf, ctx *EvalContext) bool {
	matches := matchesStateValue(torrent, l.Value, ctx)
	switch l.Operator {
	case OperatorEqual:
		return matches
	case OperatorNotEqual:
		return !matches
	case OperatorIn, OperatorNotIn:
		anyMatch := false
		for _, v := range splitList(l.Value) {
			if matchesStateValue(torrent, v, ctx) {
				anyMatch = true
				break
			}
		}
		if l.Operator == OperatorIn {
			return anyMatch
		}
		return !anyMatch
	default:
		// Fall back to raw state string comparison for the remaining
		// string operators.
		return compareString(string(torrent.State), l)
	}
}

// matchesStateValue matches the status buckets the client's sidebar filters
// use (e.g. "errored", "stalled_uploading"), falling back to the raw
// qBittorrent state string.
func matchesStateValue(torrent qbt.Torrent, value string, ctx *EvalContext) bool {
	normalized := strings.TrimSpace(value)
	if normalized == "" {
		return false
	}

	switch strings.ToLower(normalized) {
	case "completed":
		return torrent.Progress >= 1.0
	case "downloading":
		return slices.Contains([]qbt.TorrentState{
			qbt.TorrentStateDownloading,
			qbt.TorrentStateStalledDl,
			qbt.TorrentStateMetaDl,
			qbt.TorrentStateQueuedDl,
			qbt.TorrentStateAllocating,
			qbt.TorrentStateCheckingDl,
			qbt.TorrentStateForcedDl,
		}, torrent.State)
	case "uploading", "seeding":
		return slices.Contains([]qbt.TorrentState{
			qbt.TorrentStateUploading,
			qbt.TorrentStateStalledUp,
			qbt.TorrentStateQueuedUp,
			qbt.TorrentStateCheckingUp,
			qbt.TorrentStateForcedUp,
		}, torrent.State)
	case "paused", "stopped":
		return slices.Contains([]qbt.TorrentState{
			qbt.TorrentStatePausedDl,
			qbt.TorrentStatePausedUp,
			qbt.TorrentStateStoppedDl,
			qbt.TorrentStateStoppedUp,
		}, torrent.State)
	case "running", "resumed":
		return !slices.Contains([]qbt.TorrentState{
			qbt.TorrentStatePausedDl,
			qbt.TorrentStatePausedUp,
			qbt.TorrentStateStoppedDl,
			qbt.TorrentStateStoppedUp,
		}, torrent.State)
	case "active":
		return slices.Contains([]qbt.TorrentState{
			qbt.TorrentStateDownloading,
			qbt.TorrentStateUploading,
			qbt.TorrentStateForcedDl,
			qbt.TorrentStateForcedUp,
		}, torrent.State)
	case "inactive":
		return !slices.Contains([]qbt.TorrentState{
			qbt.TorrentStateDownloading,
			qbt.TorrentStateUploading,
			qbt.TorrentStateForcedDl,
			qbt.TorrentStateForcedUp,
		}, torrent.State)
	case "stalled":
		return slices.Contains([]qbt.TorrentState{
			qbt.TorrentStateStalledDl,
			qbt.TorrentStateStalledUp,
		}, torrent.State)
	case "stalled_uploading", "stalled_seeding":
		return torrent.State == qbt.TorrentStateStalledUp
	case "stalled_downloading":
		return torrent.State == qbt.TorrentStateStalledDl
	case "checking":
		return slices.Contains([]qbt.TorrentState{
			qbt.TorrentStateCheckingDl,
			qbt.TorrentStateCheckingUp,
			qbt.TorrentStateCheckingResumeData,
		}, torrent.State)
	case "moving":
		return torrent.State == qbt.TorrentStateMoving
	case "errored", "error":
		return torrent.State == qbt.TorrentStateError || torrent.State == qbt.TorrentStateMissingFiles
	case "missingfiles":
		return torrent.State == qbt.TorrentStateMissingFiles
	case "unregistered":
		if ctx == nil || ctx.UnregisteredSet == nil {
			return false
		}
		_, ok := ctx.UnregisteredSet[torrent.Hash]
		return ok
	case "tracker_down":
		if ctx == nil || ctx.TrackerDownSet == nil {
			return false
		}
		_, ok := ctx.TrackerDownSet[torrent.Hash]
		return ok
	}

	return strings.EqualFold(string(torrent.State), normalized)
}

func compareString(value string, l *Leaf) bool {
	if l.Regex || l.Operator == OperatorMatches {
		if l.compiled == nil {
			return false
		}
		return l.compiled.MatchString(value)
	}

	switch l.Operator {
	case OperatorEqual:
		return strings.EqualFold(value, l.Value)
	case OperatorNotEqual:
		return !strings.EqualFold(value, l.Value)
	case OperatorContains:
		return strings.Contains(strings.ToLower(value), strings.ToLower(l.Value))
	case OperatorNotContains:
		return !strings.Contains(strings.ToLower(value), strings.ToLower(l.Value))
	case OperatorStartsWith:
		return strings.HasPrefix(strings.ToLower(value), strings.ToLower(l.Value))
	case OperatorEndsWith:
		return strings.HasSuffix(strings.ToLower(value), strings.ToLower(l.Value))
	case OperatorIn:
		return valueInList(value, l.Value)
	case OperatorNotIn:
		return !valueInList(value, l.Value)
	default:
		return false
	}
}

// compareTags treats the comma-separated tag string as a set: string
// operators match against individual tags, regex still sees the raw string.
func compareTags(tagsRaw string, l *Leaf) bool {
	if l.Regex || l.Operator == OperatorMatches {
		if l.compiled == nil {
			return false
		}
		return l.compiled.MatchString(tagsRaw)
	}

	tags := splitList(tagsRaw)
	condValue := strings.ToLower(strings.TrimSpace(l.Value))

	switch l.Operator {
	case OperatorEqual:
		return anyTagMatches(tags, condValue, strings.EqualFold)
	case OperatorNotEqual:
		return !anyTagMatches(tags, condValue, strings.EqualFold)
	case OperatorContains:
		return anyTagMatches(tags, condValue, tagContains)
	case OperatorNotContains:
		return !anyTagMatches(tags, condValue, tagContains)
	case OperatorStartsWith:
		return anyTagMatches(tags, condValue, tagStartsWith)
	case OperatorEndsWith:
		return anyTagMatches(tags, condValue, tagEndsWith)
	case OperatorIn:
		return anyTagInList(tags, l.Value)
	case OperatorNotIn:
		return !anyTagInList(tags, l.Value)
	default:
		return false
	}
}

func anyTagMatches(tags []string, condValue string, match func(string, string) bool) bool {
	for _, tag := range tags {
		if match(tag, condValue) {
			return true
		}
	}
	return false
}

func anyTagInList(tags []string, list string) bool {
	for _, want := range splitList(list) {
		for _, tag := range tags {
			if strings.EqualFold(tag, want) {
				return true
			}
		}
	}
	return false
}

func tagContains(tag, condValue string) bool {
	return strings.Contains(strings.ToLower(tag), condValue)
}

func tagStartsWith(tag, condValue string) bool {
	return strings.HasPrefix(strings.ToLower(tag), condValue)
}

func tagEndsWith(tag, condValue string) bool {
	return strings.HasSuffix(strings.ToLower(tag), condValue)
}

func valueInList(value, list string) bool {
	for _, item := range splitList(list) {
		if strings.EqualFold(value, item) {
			return true
		}
	}
	return false
}

func compareInt64(value int64, l *Leaf) bool {
	condValue, err := strconv.ParseInt(l.Value, 10, 64)
	if err != nil && l.Value != "" {
		return false
	}

	switch l.Operator {
	case OperatorEqual:
		return value == condValue
	case OperatorNotEqual:
		return value != condValue
	case OperatorGreaterThan:
		return value > condValue
	case OperatorGreaterThanOrEqual:
		return value >= condValue
	case OperatorLessThan:
		return value < condValue
	case OperatorLessThanOrEqual:
		return value <= condValue
	case OperatorBetween:
		if l.MinValue == nil || l.MaxValue == nil {
			return false
		}
		return float64(value) >= *l.MinValue && float64(value) <= *l.MaxValue
	default:
		return false
	}
}

func compareFloat64(value float64, l *Leaf) bool {
	condValue, err := strconv.ParseFloat(l.Value, 64)
	if err != nil && l.Value != "" {
		return false
	}

	switch l.Operator {
	case OperatorEqual:
		return value == condValue
	case OperatorNotEqual:
		return value != condValue
	case OperatorGreaterThan:
		return value > condValue
	case OperatorGreaterThanOrEqual:
		return value >= condValue
	case OperatorLessThan:
		return value < condValue
	case OperatorLessThanOrEqual:
		return value <= condValue
	case OperatorBetween:
		if l.MinValue == nil || l.MaxValue == nil {
			return false
		}
		return value >= *l.MinValue && value <= *l.MaxValue
	default:
		return false
	}
}

func compareBool(value bool, l *Leaf) bool {
	condValue := strings.EqualFold(l.Value, "true") || l.Value == "1"

	switch l.Operator {
	case OperatorEqual:
		return value == condValue
	case OperatorNotEqual:
		return value != condValue
	default:
		return false
	}
}

// compareAge compares now - timestamp (clamped to zero against clock skew)
// in seconds.
func compareAge(timestamp int64, l *Leaf, ctx *EvalContext) bool {
	ageSeconds := max(ctx.now()-timestamp, 0)
	return compareInt64(ageSeconds, l)
}

// splitList splits a comma-separated list, trimming whitespace and dropping
// empty entries. Returns nil for empty input.
func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
