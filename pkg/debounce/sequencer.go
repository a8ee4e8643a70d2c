// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package debounce

import "sync/atomic"

// Sequencer hands out monotonically increasing generation numbers and
// tracks the newest one whose result has been applied. Callers take a
// generation with Next when issuing a request and call Apply with it when
// the response arrives; Apply reports false for responses that were
// superseded by a later request, no matter the order they resolve in.
type Sequencer struct {
	issued  atomic.Uint64
	applied atomic.Uint64
}

// Next returns a fresh generation number. Generations start at 1 so the
// zero value of applied means "nothing applied yet".
func (s *Sequencer) Next() uint64 {
	return s.issued.Add(1)
}

// Apply marks gen's result as applied and reports whether it should be
// used. A result loses when a newer generation was already applied.
func (s *Sequencer) Apply(gen uint64) bool {
	for {
		current := s.applied.Load()
		if gen <= current {
			return false
		}
		if s.applied.CompareAndSwap(current, gen) {
			return true
		}
	}
}

// Latest returns the newest issued generation.
func (s *Sequencer) Latest() uint64 {
	return s.issued.Load()
}
