// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build windows

package rules

import (
	"context"
	"fmt"

	"github.com/autobrr/qrules/internal/models"
	"github.com/autobrr/qrules/internal/qbittorrent"
)

const qbittorrentFreeSpaceKey = "qbt"

// freeSpaceForSource resolves free bytes for one rule's source. Path-type
// sources are unsupported on Windows; only the instance's own report is
// available.
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

	if src.Type == models.FreeSpaceSourcePath {
		return 0, fmt.Errorf("path-based free space source is not supported on Windows")
	}
	return 0, fmt.Errorf("unsupported free space source type: %s", src.Type)
}
