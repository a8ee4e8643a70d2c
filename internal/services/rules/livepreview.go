// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"context"
	"sync"
	"time"

	"github.com/autobrr/qrules/internal/models"
	"github.com/autobrr/qrules/pkg/debounce"
)

const (
	defaultLivePreviewDelay   = 400 * time.Millisecond
	livePreviewComputeTimeout = 30 * time.Second
)

type livePreviewRequest struct {
	gen        uint64
	instanceID int
	rule       *models.Rule
	limit      int
	offset     int
	view       string
}

// LivePreview coalesces rapid preview submissions, as produced by a rule
// editor firing on every keystroke, into at most one evaluation per quiet
// period. Each submission takes a generation number; a result is only
// published when its generation supersedes everything published before, so
// a slow early evaluation can never overwrite a newer one. Waiters always
// receive a result at least as new as their own submission.
type LivePreview struct {
	previewFn func(ctx context.Context, instanceID int, rule *models.Rule, limit, offset int, view string) (*PreviewResult, error)
	debouncer *debounce.Debouncer
	seq       debounce.Sequencer

	mu        sync.Mutex
	latest    livePreviewRequest
	notify    chan struct{}
	resultGen uint64
	result    *PreviewResult
	resultErr error
}

func NewLivePreview(svc *Service, delay time.Duration) *LivePreview {
	if delay <= 0 {
		delay = defaultLivePreviewDelay
	}
	return &LivePreview{
		previewFn: svc.Preview,
		debouncer: debounce.New(delay),
		notify:    make(chan struct{}),
	}
}

// Submit queues a preview of rule against the instance and blocks until a
// result from this submission or a newer one is available, or ctx ends.
func (lp *LivePreview) Submit(ctx context.Context, instanceID int, rule *models.Rule, limit, offset int, view string) (*PreviewResult, error) {
	gen := lp.seq.Next()

	lp.mu.Lock()
	lp.latest = livePreviewRequest{
		gen:        gen,
		instanceID: instanceID,
		rule:       rule,
		limit:      limit,
		offset:     offset,
		view:       view,
	}
	lp.mu.Unlock()

	lp.debouncer.Do(lp.compute)

	for {
		lp.mu.Lock()
		if lp.resultGen >= gen {
			result, err := lp.result, lp.resultErr
			lp.mu.Unlock()
			return result, err
		}
		notify := lp.notify
		lp.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-notify:
		}
	}
}

// compute evaluates the most recent submission. The result is dropped when
// a newer generation was applied while the evaluation ran.
func (lp *LivePreview) compute() {
	lp.mu.Lock()
	req := lp.latest
	lp.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), livePreviewComputeTimeout)
	defer cancel()

	result, err := lp.previewFn(ctx, req.instanceID, req.rule, req.limit, req.offset, req.view)

	if !lp.seq.Apply(req.gen) {
		return
	}

	lp.mu.Lock()
	if req.gen > lp.resultGen {
		lp.resultGen = req.gen
		lp.result = result
		lp.resultErr = err
		close(lp.notify)
		lp.notify = make(chan struct{})
	}
	lp.mu.Unlock()
}

// Stop shuts down the underlying debouncer. Pending submissions get a
// final evaluation pass.
func (lp *LivePreview) Stop() {
	lp.debouncer.Stop()
}
