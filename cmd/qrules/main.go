// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/autobrr/qrules/internal/buildinfo"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "qrules",
		Short: "Tracker-aware rule engine for qBittorrent",
		Long: `qrules applies configurable rules to torrents across one or more
qBittorrent instances: speed and share limits, categories, tags, and
conditional deletion, matched per tracker.`,
	}

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand())
	rootCmd.AddCommand(RunUpdateCommand())
	rootCmd.AddCommand(RunGenerateAPIKeyCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Print(buildinfo.String())
		},
	}
}
