// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	cmd := RunVersionCommand()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)

	err := cmd.Execute()
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Version:")
	assert.Contains(t, out.String(), "Commit:")
}

func TestGenerateAPIKeyCommand(t *testing.T) {
	t.Parallel()

	cmd := RunGenerateAPIKeyCommand()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)

	err := cmd.Execute()
	require.NoError(t, err)

	key := strings.TrimSpace(out.String())
	assert.Len(t, key, 64, "expected hex-encoded 32 byte key")
}

func TestGenerateAPIKeyCommand_Unique(t *testing.T) {
	t.Parallel()

	keys := make(map[string]struct{})
	for range 5 {
		cmd := RunGenerateAPIKeyCommand()

		var out bytes.Buffer
		cmd.SetOut(&out)

		require.NoError(t, cmd.Execute())
		keys[strings.TrimSpace(out.String())] = struct{}{}
	}

	assert.Len(t, keys, 5)
}
