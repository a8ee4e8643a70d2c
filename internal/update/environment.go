// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package update

import (
	"errors"
	"os"
	"runtime"
	"strings"
)

// ErrSelfUpdateUnsupported is returned when the running environment
// cannot replace its own binary.
var ErrSelfUpdateUnsupported = errors.New("self-update is not supported in this environment")

// isRunningInContainer checks common container markers: /.dockerenv
// (Docker), /run/.containerenv (Podman and others), and well-known
// keywords in PID 1's cgroup. Container images update by pulling a new
// image, not by rewriting the binary.
func isRunningInContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if _, err := os.Stat("/run/.containerenv"); err == nil {
		return true
	}

	data, err := os.ReadFile("/proc/1/cgroup")
	if err != nil {
		return false
	}

	content := string(data)
	for _, indicator := range []string{"docker", "kubepods", "containerd", "libpod"} {
		if strings.Contains(content, indicator) {
			return true
		}
	}

	return false
}

// isSelfUpdateSupportedPlatform reports whether the current GOOS allows
// in-place binary replacement. Windows binaries cannot overwrite
// themselves while running, and the restart path relies on syscall.Exec
// which only exists on Unix.
func isSelfUpdateSupportedPlatform() bool {
	return runtime.GOOS != "windows"
}
