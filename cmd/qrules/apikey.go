// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"github.com/spf13/cobra"

	"github.com/autobrr/qrules/internal/crypto"
)

func RunGenerateAPIKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-apikey",
		Short: "Generate a random API key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := crypto.GenerateSecureToken(32)
			if err != nil {
				return err
			}
			cmd.Println(key)
			return nil
		},
	}
}
