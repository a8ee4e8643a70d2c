// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package debounce

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncerRunsAfterDelay(t *testing.T) {
	d := New(30 * time.Millisecond)
	defer d.Stop()

	ran := make(chan struct{}, 1)
	d.Do(func() { ran <- struct{}{} })

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("function never ran after the delay")
	}
}

func TestDebouncerKeepsOnlyLatest(t *testing.T) {
	d := New(80 * time.Millisecond)
	defer d.Stop()

	var runs int64
	got := make(chan int, 10)

	// A burst of edits inside the delay window, like a user typing in
	// the rule builder. Only the final state should be evaluated.
	for i := range 10 {
		d.Do(func() {
			atomic.AddInt64(&runs, 1)
			got <- i
		})
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case v := <-got:
		if v != 9 {
			t.Fatalf("expected the last submission (9) to run, got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("no submission ran")
	}

	time.Sleep(150 * time.Millisecond)
	if n := atomic.LoadInt64(&runs); n != 1 {
		t.Fatalf("expected exactly one run for the burst, got %d", n)
	}
}

func TestDebouncerSeparateBursts(t *testing.T) {
	d := New(30 * time.Millisecond)
	defer d.Stop()

	ran := make(chan struct{}, 2)

	d.Do(func() { ran <- struct{}{} })
	<-ran

	// A second burst after the first fired gets its own run.
	d.Do(func() { ran <- struct{}{} })

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("second burst never ran")
	}
}

func TestDebouncerQueued(t *testing.T) {
	d := New(60 * time.Millisecond)
	defer d.Stop()

	if d.Queued() {
		t.Fatal("fresh debouncer reports queued work")
	}

	done := make(chan struct{})
	d.Do(func() { close(done) })

	time.Sleep(10 * time.Millisecond)
	if !d.Queued() {
		t.Fatal("pending submission not reported as queued")
	}

	<-done
	time.Sleep(10 * time.Millisecond)
	if d.Queued() {
		t.Fatal("still reported queued after the run")
	}
}

func TestDebouncerStopRunsInline(t *testing.T) {
	d := New(50 * time.Millisecond)

	var runs int64
	d.Do(func() { atomic.AddInt64(&runs, 1) })
	d.Stop()

	// After Stop anything still submitted executes synchronously so
	// callers cannot lose work during shutdown.
	d.Do(func() { atomic.AddInt64(&runs, 1) })

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt64(&runs) != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 runs after Stop, got %d", atomic.LoadInt64(&runs))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDebouncerZeroDelay(t *testing.T) {
	d := New(0)
	defer d.Stop()

	ran := make(chan struct{}, 1)
	d.Do(func() { ran <- struct{}{} })

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("zero-delay debouncer never ran")
	}
}
