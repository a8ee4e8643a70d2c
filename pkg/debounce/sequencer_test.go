// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package debounce

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequencer_NextIsMonotonic(t *testing.T) {
	var seq Sequencer

	prev := uint64(0)
	for range 100 {
		gen := seq.Next()
		assert.Greater(t, gen, prev)
		prev = gen
	}
	assert.Equal(t, prev, seq.Latest())
}

func TestSequencer_ApplyRejectsSuperseded(t *testing.T) {
	var seq Sequencer

	first := seq.Next()
	second := seq.Next()

	// The newer request's response lands first.
	assert.True(t, seq.Apply(second))

	// The older response resolves late and must not be applied.
	assert.False(t, seq.Apply(first))
}

func TestSequencer_ApplyInOrder(t *testing.T) {
	var seq Sequencer

	first := seq.Next()
	second := seq.Next()

	assert.True(t, seq.Apply(first))
	assert.True(t, seq.Apply(second))
	assert.False(t, seq.Apply(second))
}

func TestSequencer_ConcurrentApplyKeepsNewest(t *testing.T) {
	var seq Sequencer

	gens := make([]uint64, 50)
	for i := range gens {
		gens[i] = seq.Next()
	}

	var wg sync.WaitGroup
	for _, gen := range gens {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq.Apply(gen)
		}()
	}
	wg.Wait()

	// Whatever interleaving happened, the newest generation can never be
	// applied again and no older one can win now.
	assert.False(t, seq.Apply(gens[len(gens)-1]))
	assert.False(t, seq.Apply(gens[0]))
}
