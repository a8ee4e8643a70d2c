// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package programs executes registered external programs for torrents
// matched by an externalProgram rule action.
package programs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	shellquote "github.com/Hellseher/go-shellquote"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/qrules/internal/models"
)

var (
	ErrProgramNotFound = errors.New("external program not found")
	ErrProgramDisabled = errors.New("external program is disabled")
	ErrPathNotAllowed  = errors.New("program path is not allowed by allow list")
)

// Service resolves and launches external programs. Launches are
// fire-and-forget: the process is started, then reaped in a goroutine so
// rule application never blocks on a slow script.
type Service struct {
	store     *models.ExternalProgramStore
	allowList []string
}

func NewService(store *models.ExternalProgramStore, allowList []string) *Service {
	return &Service{
		store:     store,
		allowList: allowList,
	}
}

// Execute runs the program registered under programID with the torrent's
// fields substituted into its args template. It returns once the process
// has been started.
func (s *Service) Execute(ctx context.Context, programID, instanceID int, torrent qbt.Torrent, ruleID int, ruleName string) error {
	if s == nil || s.store == nil {
		return errors.New("external program service not configured")
	}

	program, err := s.store.Get(ctx, programID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %d", ErrProgramNotFound, programID)
		}
		return fmt.Errorf("failed to load program %d: %w", programID, err)
	}

	if !program.Enabled {
		return fmt.Errorf("%w: %s", ErrProgramDisabled, program.Name)
	}

	if !IsPathAllowed(program.Path, s.allowList) {
		log.Warn().
			Str("program", program.Name).
			Str("path", program.Path).
			Msg("external program blocked by allow list")
		return ErrPathNotAllowed
	}

	args := buildArguments(program.ArgsTemplate, &torrent)

	cmd := exec.Command(program.Path, args...)

	log.Debug().
		Int("instanceID", instanceID).
		Int("ruleID", ruleID).
		Str("rule", ruleName).
		Str("hash", torrent.Hash).
		Str("command", shellquote.Join(cmd.Args...)).
		Msg("executing external program")

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", program.Name, err)
	}

	go reap(cmd, program.Name, torrent.Hash)

	return nil
}

// reap waits on the launched process so it never lingers as a zombie.
func reap(cmd *exec.Cmd, programName, hash string) {
	if err := cmd.Wait(); err != nil {
		log.Debug().
			Err(err).
			Str("program", programName).
			Str("hash", hash).
			Msg("external program exited with error")
		return
	}
	log.Debug().
		Str("program", programName).
		Str("hash", hash).
		Msg("external program completed")
}

// buildArguments splits the args template and substitutes {placeholder}
// variables with the torrent's fields.
func buildArguments(template string, torrent *qbt.Torrent) []string {
	if template == "" {
		return nil
	}

	data := map[string]string{
		"hash":         torrent.Hash,
		"name":         torrent.Name,
		"save_path":    torrent.SavePath,
		"content_path": torrent.ContentPath,
		"category":     torrent.Category,
		"tags":         torrent.Tags,
		"state":        string(torrent.State),
		"size":         strconv.FormatInt(torrent.Size, 10),
		"progress":     fmt.Sprintf("%.2f", torrent.Progress),
		"ratio":        fmt.Sprintf("%.3f", torrent.Ratio),
		"tracker":      torrent.Tracker,
	}

	args := splitArgs(template)
	for i := range args {
		for key, value := range data {
			args[i] = strings.ReplaceAll(args[i], "{"+key+"}", value)
		}
	}

	return args
}

// splitArgs splits a template into arguments, respecting single and
// double quoted segments and stripping the surrounding quotes.
func splitArgs(s string) []string {
	var args []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)

	for _, r := range s {
		switch {
		case r == '"' || r == '\'':
			switch {
			case !inQuote:
				inQuote = true
				quoteChar = r
			case r == quoteChar:
				inQuote = false
				quoteChar = 0
			default:
				current.WriteRune(r)
			}
		case r == ' ' && !inQuote:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}

	if current.Len() > 0 {
		args = append(args, current.String())
	}

	return args
}

// IsPathAllowed checks the program path against the configured allow
// list. An empty list allows everything; entries match exactly or as a
// directory prefix at a separator boundary.
func IsPathAllowed(programPath string, allowList []string) bool {
	programPath = strings.TrimSpace(programPath)
	if programPath == "" {
		return false
	}

	if len(allowList) == 0 {
		return true
	}

	normalized := normalizePath(programPath)
	sep := string(os.PathSeparator)

	for _, allowed := range allowList {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" {
			continue
		}

		allowedPath := normalizePath(allowed)
		if normalized == allowedPath {
			return true
		}

		prefix := allowedPath
		if !strings.HasSuffix(prefix, sep) {
			prefix += sep
		}
		if strings.HasPrefix(normalized, prefix) {
			return true
		}
	}

	return false
}

// normalizePath returns a canonical form of the path for comparison,
// resolving symlinks where the target exists.
func normalizePath(p string) string {
	cleaned, err := filepath.Abs(p)
	if err != nil {
		cleaned = filepath.Clean(p)
	}

	if resolved, err := filepath.EvalSymlinks(cleaned); err == nil {
		cleaned = resolved
	} else {
		dir := filepath.Dir(cleaned)
		if dirResolved, dirErr := filepath.EvalSymlinks(dir); dirErr == nil {
			cleaned = filepath.Join(dirResolved, filepath.Base(cleaned))
		}
	}

	if runtime.GOOS == "windows" {
		return strings.ToLower(cleaned)
	}
	return cleaned
}
