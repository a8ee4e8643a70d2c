//go:build windows

// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import "github.com/autobrr/qrules/internal/update"

// restartSelf is unreachable on Windows because CanSelfUpdate blocks the
// platform, but the symbol must exist for the build.
func restartSelf() error {
	return update.ErrSelfUpdateUnsupported
}
