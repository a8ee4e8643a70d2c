// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"os"
	"strings"
)

// persistSetting writes a single "key = value" line into the config file,
// replacing an existing (possibly commented) occurrence in place so the
// surrounding comments survive.
func (c *AppConfig) persistSetting(key, line string) error {
	content, err := os.ReadFile(c.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	updated := replaceTOMLSetting(string(content), key, line)
	if err := os.WriteFile(c.configPath, []byte(updated), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// UpdateLogSettings persists the current log configuration to the config
// file in place.
func (c *AppConfig) UpdateLogSettings(logLevel, logPath string, maxSize, maxBackups int) error {
	content, err := os.ReadFile(c.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	updated := updateLogSettingsInTOML(string(content), logLevel, logPath, maxSize, maxBackups)
	if err := os.WriteFile(c.configPath, []byte(updated), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	c.mu.Lock()
	c.Config.LogLevel = logLevel
	c.Config.LogPath = logPath
	c.Config.LogMaxSize = maxSize
	c.Config.LogMaxBackups = maxBackups
	c.mu.Unlock()

	return nil
}

// updateLogSettingsInTOML rewrites the log-related keys inside an existing
// TOML document. Commented template keys are uncommented in place so the
// settings stay next to their documentation instead of being appended at
// the end of the file.
func updateLogSettingsInTOML(content, logLevel, logPath string, maxSize, maxBackups int) string {
	content = replaceTOMLSetting(content, "logLevel", fmt.Sprintf("logLevel = %q", logLevel))
	content = replaceTOMLSetting(content, "logPath", fmt.Sprintf("logPath = %q", logPath))
	content = replaceTOMLSetting(content, "logMaxSize", fmt.Sprintf("logMaxSize = %d", maxSize))
	content = replaceTOMLSetting(content, "logMaxBackups", fmt.Sprintf("logMaxBackups = %d", maxBackups))
	return content
}

// replaceTOMLSetting replaces the first active or commented assignment of
// key with line. When the key is absent entirely, the line is inserted
// before the first table header, or appended when there is none.
func replaceTOMLSetting(content, key, line string) string {
	lines := strings.Split(content, "\n")

	for i, existing := range lines {
		trimmed := strings.TrimSpace(existing)
		uncommented := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		if isAssignmentOf(trimmed, key) || isAssignmentOf(uncommented, key) {
			lines[i] = line
			return strings.Join(lines, "\n")
		}
	}

	for i, existing := range lines {
		if strings.HasPrefix(strings.TrimSpace(existing), "[") {
			inserted := make([]string, 0, len(lines)+2)
			inserted = append(inserted, lines[:i]...)
			inserted = append(inserted, line, "")
			inserted = append(inserted, lines[i:]...)
			return strings.Join(inserted, "\n")
		}
	}

	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content + line + "\n"
}

func isAssignmentOf(line, key string) bool {
	if !strings.HasPrefix(line, key) {
		return false
	}
	rest := strings.TrimSpace(line[len(key):])
	return strings.HasPrefix(rest, "=")
}
