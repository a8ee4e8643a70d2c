// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build !windows

package rules

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/autobrr/qrules/internal/models"
	"github.com/autobrr/qrules/internal/qbittorrent"
)

const qbittorrentFreeSpaceKey = "qbt"

// freeSpaceForSource resolves the free bytes for one rule's source: the
// instance's own report by default, or a local filesystem stat for
// path-type sources on instances with filesystem access.
func freeSpaceForSource(
	ctx context.Context,
	client *qbittorrent.Client,
	instance *models.Instance,
	src *models.FreeSpaceSource,
) (int64, error) {
	if src == nil || src.Type == models.FreeSpaceSourceQbittorrent || src.Type == "" {
		if client == nil {
			return 0, fmt.Errorf("no client available for qBittorrent free space")
		}
		return client.FreeSpace(ctx)
	}

	if src.Type != models.FreeSpaceSourcePath {
		return 0, fmt.Errorf("unsupported free space source type: %s", src.Type)
	}
	if instance == nil || !instance.LocalFilesystemAccess {
		return 0, fmt.Errorf("path-based free space source requires local filesystem access")
	}
	return localFreeSpaceBytes(src.Path)
}

// localFreeSpaceBytes returns the bytes available to unprivileged users
// on the filesystem containing path.
func localFreeSpaceBytes(path string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("failed to stat filesystem for %s: %w", path, err)
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}
