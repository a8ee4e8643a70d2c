// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rules evaluates per-instance rule sets against torrent snapshots
// and applies the resulting actions through the qBittorrent Web API.
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/qrules/internal/metrics"
	"github.com/autobrr/qrules/internal/models"
	"github.com/autobrr/qrules/internal/qbittorrent"
	rulespkg "github.com/autobrr/qrules/internal/rules"
)

// Config controls scheduling cadence and batch sizing.
type Config struct {
	ScanInterval        time.Duration
	DefaultRuleInterval time.Duration
	MaxBatchHashes      int
	TrackerFetchWorkers int
	ReleaseCacheTTL     time.Duration
	ActivityRetention   int // days
}

func DefaultConfig() Config {
	return Config{
		ScanInterval:        30 * time.Second,
		DefaultRuleInterval: 15 * time.Minute,
		MaxBatchHashes:      50, // matches qBittorrent's max_concurrent_http_announces default
		TrackerFetchWorkers: 8,
		ReleaseCacheTTL:     30 * time.Minute,
		ActivityRetention:   30,
	}
}

// ProgramRunner executes a configured external program for one torrent.
// Execution is fire-and-forget; an error means the launch itself failed.
type ProgramRunner interface {
	Execute(ctx context.Context, programID, instanceID int, torrent qbt.Torrent, ruleID int, ruleName string) error
}

// Service periodically evaluates enabled rules against every active
// instance and applies the merged per-torrent actions.
type Service struct {
	cfg              Config
	instanceStore    *models.InstanceStore
	ruleStore        *models.RuleStore
	trackerRuleStore *models.TrackerRuleStore
	activityStore    *models.ActivityStore
	pool             *qbittorrent.ClientPool
	programs         ProgramRunner
	collector        *metrics.RulesCollector
	releases         *rulespkg.ReleaseParser

	lastRun map[int]time.Time // ruleID -> last evaluation pass
	mu      sync.Mutex
}

func NewService(
	cfg Config,
	instanceStore *models.InstanceStore,
	ruleStore *models.RuleStore,
	trackerRuleStore *models.TrackerRuleStore,
	activityStore *models.ActivityStore,
	pool *qbittorrent.ClientPool,
	programs ProgramRunner,
	collector *metrics.RulesCollector,
) *Service {
	def := DefaultConfig()
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = def.ScanInterval
	}
	if cfg.DefaultRuleInterval <= 0 {
		cfg.DefaultRuleInterval = def.DefaultRuleInterval
	}
	if cfg.MaxBatchHashes <= 0 {
		cfg.MaxBatchHashes = def.MaxBatchHashes
	}
	if cfg.TrackerFetchWorkers <= 0 {
		cfg.TrackerFetchWorkers = def.TrackerFetchWorkers
	}
	if cfg.ReleaseCacheTTL <= 0 {
		cfg.ReleaseCacheTTL = def.ReleaseCacheTTL
	}
	if cfg.ActivityRetention <= 0 {
		cfg.ActivityRetention = def.ActivityRetention
	}
	return &Service{
		cfg:              cfg,
		instanceStore:    instanceStore,
		ruleStore:        ruleStore,
		trackerRuleStore: trackerRuleStore,
		activityStore:    activityStore,
		pool:             pool,
		programs:         programs,
		collector:        collector,
		releases:         rulespkg.NewReleaseParser(cfg.ReleaseCacheTTL),
		lastRun:          make(map[int]time.Time),
	}
}

func (s *Service) Start(ctx context.Context) {
	if s == nil {
		return
	}
	go s.loop(ctx)
}

func (s *Service) loop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	s.pruneActivity(ctx)
	lastPrune := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(ctx)

			if time.Since(lastPrune) > time.Hour {
				s.pruneActivity(ctx)
				lastPrune = time.Now()
			}
		}
	}
}

func (s *Service) pruneActivity(ctx context.Context) {
	if s.activityStore == nil {
		return
	}
	if pruned, err := s.activityStore.DeleteOlderThan(ctx, s.cfg.ActivityRetention); err != nil {
		log.Warn().Err(err).Msg("rules: failed to prune old activity")
	} else if pruned > 0 {
		log.Info().Int64("count", pruned).Msg("rules: pruned old activity entries")
	}
}

// runDue evaluates every enabled rule whose interval has elapsed, grouped
// per instance so a single snapshot serves all of an instance's due rules.
func (s *Service) runDue(ctx context.Context) {
	enabled, err := s.ruleStore.ListEnabled(ctx)
	if err != nil {
		log.Error().Err(err).Msg("rules: failed to list enabled rules")
		return
	}

	now := time.Now()
	dueByInstance := make(map[int][]*models.Rule)
	s.mu.Lock()
	for _, rule := range enabled {
		interval := s.cfg.DefaultRuleInterval
		if rule.IntervalSeconds != nil {
			interval = time.Duration(*rule.IntervalSeconds) * time.Second
		}
		if last, ok := s.lastRun[rule.ID]; ok && now.Sub(last) < interval {
			continue
		}
		s.lastRun[rule.ID] = now
		dueByInstance[rule.InstanceID] = append(dueByInstance[rule.InstanceID], rule)
	}
	s.mu.Unlock()

	for instanceID, due := range dueByInstance {
		if err := s.applyForInstance(ctx, instanceID, due); err != nil {
			log.Error().Err(err).Int("instanceID", instanceID).Msg("rules: apply failed")
		}
	}
}

// ApplyForInstance runs every enabled rule for one instance immediately,
// ignoring per-rule intervals. Used by the manual run API hook.
func (s *Service) ApplyForInstance(ctx context.Context, instanceID int) error {
	all, err := s.ruleStore.ListByInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	var enabled []*models.Rule
	for _, rule := range all {
		if rule.Enabled {
			enabled = append(enabled, rule)
		}
	}
	return s.applyForInstance(ctx, instanceID, enabled)
}

func (s *Service) applyForInstance(ctx context.Context, instanceID int, due []*models.Rule) error {
	instance, err := s.instanceStore.Get(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("failed to load instance %d: %w", instanceID, err)
	}
	if !instance.IsActive {
		return nil
	}

	var legacy []*models.TrackerRule
	if s.trackerRuleStore != nil {
		if legacy, err = s.trackerRuleStore.ListByInstance(ctx, instanceID); err != nil {
			log.Warn().Err(err).Int("instanceID", instanceID).Msg("rules: failed to load legacy tracker rules")
		}
	}

	ruleList := runnableRulesFor(due, legacy)
	if len(ruleList) == 0 {
		return nil
	}

	client, err := s.pool.GetClient(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("failed to get client for instance %d: %w", instanceID, err)
	}

	snap, err := s.buildSnapshot(ctx, client, instance, ruleList)
	if err != nil {
		return err
	}
	if len(snap.torrents) == 0 {
		return nil
	}

	stats := make(map[int]*runStats)
	states := processTorrents(snap.torrents, ruleList, snap.evalCtx, snap.domainsByHash, stats)

	s.recordRunMetrics(instanceID, ruleList, stats)

	if len(states) == 0 {
		return nil
	}

	torrentByHash := make(map[string]qbt.Torrent, len(snap.torrents))
	for _, t := range snap.torrents {
		torrentByHash[t.Hash] = t
	}

	s.applyStates(ctx, client, instance, states, torrentByHash, snap.groups)
	return nil
}

func (s *Service) recordRunMetrics(instanceID int, ruleList []*runnableRule, stats map[int]*runStats) {
	if s.collector == nil {
		return
	}
	for _, rule := range ruleList {
		rs := stats[rule.ID]
		if rs == nil {
			continue
		}
		s.collector.GetRuleRunTotal(instanceID, rule.ID, rule.Name).Inc()
		s.collector.GetRuleRunTorrentsMatchedTotal(instanceID, rule.ID, rule.Name).Add(float64(rs.Matched))
		for kind, n := range rs.Applied {
			s.collector.GetRuleRunActionTotal(instanceID, rule.ID, rule.Name, string(kind)).Add(float64(n))
		}
	}
}

// snapshot is one instance's state gathered for a single evaluation pass.
type snapshot struct {
	torrents      []qbt.Torrent
	domainsByHash map[string][]string
	evalCtx       *rulespkg.EvalContext
	groups        *rulespkg.GroupSet
}

// buildSnapshot fetches the torrent list and whatever extra context the
// rule set needs: tracker health when registration state is referenced,
// free space per distinct source, and grouping indexes.
func (s *Service) buildSnapshot(
	ctx context.Context,
	client *qbittorrent.Client,
	instance *models.Instance,
	ruleList []*runnableRule,
) (*snapshot, error) {
	torrents, err := client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch torrents for instance %d: %w", instance.ID, err)
	}

	domainsByHash := collectTrackerDomains(torrents)

	evalCtx := &rulespkg.EvalContext{
		Releases: s.releases,
	}

	if rulesNeedTrackerHealth(ruleList) {
		trackersByHash := s.fetchTrackers(ctx, client, torrents)
		health := qbittorrent.ClassifyTrackers(trackersByHash)
		evalCtx.UnregisteredSet = health.Unregistered
		evalCtx.TrackerDownSet = health.TrackerDown
		mergeTrackerDomains(domainsByHash, trackersByHash)
	}

	freeSpaceByKey, err := s.resolveFreeSpace(ctx, client, instance, ruleList)
	if err != nil {
		return nil, err
	}

	defaultGroups := s.groupSetFor(torrents, nil, domainsByHash)
	groupCache := map[string]*rulespkg.GroupSet{"": defaultGroups}

	for _, rule := range ruleList {
		rule.FreeSpace = freeSpaceByKey[rule.FreeSpaceKey]
		rule.Groups = defaultGroups
		if rule.Grouping != nil {
			cacheKey := groupingCacheKey(rule.Grouping)
			gs, ok := groupCache[cacheKey]
			if !ok {
				gs = s.groupSetFor(torrents, rule.Grouping, domainsByHash)
				groupCache[cacheKey] = gs
			}
			rule.Groups = gs
		}
	}
	evalCtx.Groups = defaultGroups

	return &snapshot{
		torrents:      torrents,
		domainsByHash: domainsByHash,
		evalCtx:       evalCtx,
		groups:        defaultGroups,
	}, nil
}

func (s *Service) groupSetFor(torrents []qbt.Torrent, cfg *rulespkg.GroupingConfig, domainsByHash map[string][]string) *rulespkg.GroupSet {
	return rulespkg.NewGroupSet(torrents, rulespkg.GroupSetBuilder{
		Config:   cfg,
		Releases: s.releases,
		TrackerDomain: func(hash string) string {
			if domains := domainsByHash[hash]; len(domains) > 0 {
				return domains[0]
			}
			return ""
		},
	})
}

func groupingCacheKey(cfg *rulespkg.GroupingConfig) string {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Sprintf("%p", cfg)
	}
	return string(raw)
}

// rulesNeedTrackerHealth reports whether any rule references per-torrent
// registration or reachability state, which requires the per-hash tracker
// list fetch.
func rulesNeedTrackerHealth(ruleList []*runnableRule) bool {
	for _, rule := range ruleList {
		if rule.Envelope == nil {
			continue
		}
		if rule.Envelope.UsesField(rulespkg.FieldIsUnregistered) ||
			rule.Envelope.UsesField(rulespkg.FieldState) {
			return true
		}
	}
	return false
}

// fetchTrackers hydrates per-hash tracker lists with bounded concurrency.
// Fetch failures leave the hash out of the result, which downstream
// classification treats as unknown rather than unregistered.
func (s *Service) fetchTrackers(ctx context.Context, client *qbittorrent.Client, torrents []qbt.Torrent) map[string][]qbt.TorrentTracker {
	result := make(map[string][]qbt.TorrentTracker, len(torrents))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.TrackerFetchWorkers)

	for _, torrent := range torrents {
		hash := torrent.Hash
		if len(torrent.Trackers) > 0 {
			mu.Lock()
			result[hash] = torrent.Trackers
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			trackers, err := client.GetTorrentTrackersCtx(gctx, hash)
			if err != nil {
				log.Debug().Err(err).Str("hash", hash).Msg("rules: tracker fetch failed")
				return nil
			}
			mu.Lock()
			result[hash] = trackers
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return result
}

func mergeTrackerDomains(domainsByHash map[string][]string, trackersByHash map[string][]qbt.TorrentTracker) {
	for hash, trackers := range trackersByHash {
		set := make(map[string]struct{}, len(domainsByHash[hash]))
		for _, d := range domainsByHash[hash] {
			set[d] = struct{}{}
		}
		changed := false
		for _, tr := range trackers {
			if tr.Url == "" || strings.HasPrefix(tr.Url, "**") {
				continue
			}
			if domain := qbittorrent.ExtractTrackerDomain(tr.Url); domain != "" {
				if _, ok := set[domain]; !ok {
					set[domain] = struct{}{}
					changed = true
				}
			}
		}
		if !changed {
			continue
		}
		domains := make([]string, 0, len(set))
		for d := range set {
			domains = append(domains, d)
		}
		sort.Strings(domains)
		domainsByHash[hash] = domains
	}
}

// resolveFreeSpace resolves every distinct free-space source referenced by
// a rule whose conditions use FREE_SPACE. A path source on an instance
// without filesystem access falls back to the instance report with a
// logged notice.
func (s *Service) resolveFreeSpace(
	ctx context.Context,
	client *qbittorrent.Client,
	instance *models.Instance,
	ruleList []*runnableRule,
) (map[string]int64, error) {
	sources := make(map[string]*models.FreeSpaceSource)
	for _, rule := range ruleList {
		if rule.Envelope == nil || !rule.Envelope.UsesField(rulespkg.FieldFreeSpace) {
			continue
		}
		if _, ok := sources[rule.FreeSpaceKey]; ok {
			continue
		}
		sources[rule.FreeSpaceKey] = freeSpaceSourceForKey(rule.FreeSpaceKey)
	}
	if len(sources) == 0 {
		return nil, nil
	}

	result := make(map[string]int64, len(sources))
	var qbtSpace *int64

	for key, src := range sources {
		if src != nil && src.Type == models.FreeSpaceSourcePath && !instance.LocalFilesystemAccess {
			log.Warn().Int("instanceID", instance.ID).Str("path", src.Path).
				Msg("rules: path free-space source requires local filesystem access, using instance report")
			src = nil
		}
		if src == nil || src.Type != models.FreeSpaceSourcePath {
			if qbtSpace == nil {
				space, err := client.FreeSpace(ctx)
				if err != nil {
					return nil, fmt.Errorf("failed to read free space for instance %d: %w", instance.ID, err)
				}
				qbtSpace = &space
			}
			result[key] = *qbtSpace
			continue
		}
		space, err := freeSpaceForSource(ctx, client, instance, src)
		if err != nil {
			return nil, fmt.Errorf("failed to read free space for source %q: %w", key, err)
		}
		result[key] = space
	}

	return result, nil
}

// freeSpaceSourceForKey reverses FreeSpaceSource.Key.
func freeSpaceSourceForKey(key string) *models.FreeSpaceSource {
	if p, ok := strings.CutPrefix(key, "path:"); ok {
		return &models.FreeSpaceSource{Type: models.FreeSpaceSourcePath, Path: p}
	}
	return nil
}

// limitHashBatch splits hashes into chunks of at most size entries.
func limitHashBatch(hashes []string, size int) [][]string {
	if size <= 0 || len(hashes) <= size {
		return [][]string{hashes}
	}
	var out [][]string
	for start := 0; start < len(hashes); start += size {
		end := min(start+size, len(hashes))
		out = append(out, hashes[start:end])
	}
	return out
}
