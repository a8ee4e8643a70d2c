// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package update

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/autobrr/qrules/pkg/version"
)

const checkInterval = 2 * time.Hour

// Service periodically checks GitHub for newer releases and caches the result.
type Service struct {
	log            zerolog.Logger
	currentVersion string
	releaseChecker *version.Checker

	mu            sync.RWMutex
	isEnabled     bool
	latestRelease *version.Release
}

func NewService(log zerolog.Logger, enabled bool, currentVersion, userAgent string) *Service {
	return &Service{
		log:            log.With().Str("service", "update").Logger(),
		currentVersion: currentVersion,
		isEnabled:      enabled,
		releaseChecker: version.NewChecker("autobrr", "qrules", userAgent),
	}
}

func (s *Service) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isEnabled = enabled
}

func (s *Service) enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isEnabled
}

// GetLatestRelease returns the most recently discovered newer release, or
// nil when no update is known.
func (s *Service) GetLatestRelease(_ context.Context) *version.Release {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestRelease
}

// CheckUpdates performs a single update check and caches any newer release.
func (s *Service) CheckUpdates(ctx context.Context) {
	if !s.enabled() {
		return
	}

	newer, release, err := s.releaseChecker.CheckNewVersion(ctx, s.currentVersion)
	if err != nil {
		s.log.Debug().Err(err).Msg("could not check for updates")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !newer {
		s.latestRelease = nil
		return
	}

	s.log.Info().Str("current", s.currentVersion).Str("latest", release.TagName).Msg("new release available")
	s.latestRelease = release
}

// Start launches the background check loop. It returns immediately and
// stops when ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	go func() {
		s.CheckUpdates(ctx)

		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CheckUpdates(ctx)
			}
		}
	}()
}

// CanSelfUpdate reports whether the running binary can replace itself.
// Containers get updates through image pulls and Windows cannot re-exec.
func (s *Service) CanSelfUpdate() bool {
	if !isSelfUpdateSupportedPlatform() {
		return false
	}
	return !isRunningInContainer()
}
