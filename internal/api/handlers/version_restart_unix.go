//go:build !windows

// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"os"
	"syscall"

	"github.com/rs/zerolog/log"
)

// restartSelf re-execs the current binary in place, preserving args and env.
func restartSelf() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	log.Info().Str("executable", exe).Msg("Restarting after update")
	return syscall.Exec(exe, os.Args, os.Environ())
}
