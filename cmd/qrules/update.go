// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"github.com/spf13/cobra"

	"github.com/autobrr/qrules/internal/buildinfo"
	"github.com/autobrr/qrules/internal/update"
)

func RunUpdateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Update qrules to the latest release",
		RunE: func(cmd *cobra.Command, _ []string) error {
			updater := update.NewUpdater(update.Config{
				Repository: "autobrr/qrules",
				Version:    buildinfo.Version,
			})
			return updater.Run(cmd.Context())
		},
	}
}
