// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package debounce coalesces bursts of work: of all functions submitted
// within a delay window, only the last one runs.
package debounce

import (
	"sync"
	"sync/atomic"
	"time"
)

// Debouncer runs at most one submitted function per delay period. Later
// submissions within the window replace earlier ones.
type Debouncer struct {
	submissions chan func()
	timer       <-chan time.Time
	latest      func()
	mu          sync.RWMutex
	delay       time.Duration
	stopped     atomic.Bool
	done        chan struct{}
}

func New(delay time.Duration) *Debouncer {
	d := &Debouncer{
		submissions: make(chan func(), 100),
		delay:       delay,
		done:        make(chan struct{}),
	}

	go d.run()

	return d
}

func (d *Debouncer) run() {
	defer close(d.done)

	fire := func() {
		d.mu.Lock()

		select {
		case <-d.timer:
		default:
		}
		d.timer = nil

		fn := d.latest
		d.latest = nil
		d.mu.Unlock()

		if fn != nil {
			fn()
		}
	}

	for {
		select {
		case <-d.timer:
			fire()
		case fn, ok := <-d.submissions:
			if !ok {
				fire()
				return
			}
			d.mu.Lock()
			d.latest = fn
			if d.timer == nil {
				d.timer = time.After(d.delay)
			}
			d.mu.Unlock()
		}
	}
}

// Do schedules fn to run once the delay elapses, replacing any earlier
// pending submission. After Stop, fn runs immediately on the caller's
// goroutine. A full buffer drops the submission.
func (d *Debouncer) Do(fn func()) {
	if d.stopped.Load() {
		fn()
		return
	}

	select {
	case d.submissions <- fn:
	default:
		if d.stopped.Load() {
			fn()
		}
	}
}

// Queued reports whether a submission is waiting for its delay to elapse.
func (d *Debouncer) Queued() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.timer != nil
}

// Stop shuts down the worker goroutine, running any pending submission
// first. Safe to call more than once.
func (d *Debouncer) Stop() {
	if !d.stopped.CompareAndSwap(false, true) {
		return
	}

	close(d.submissions)
	<-d.done
}
