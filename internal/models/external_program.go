// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/autobrr/qrules/internal/dbinterface"
)

// ExternalProgram is a registered executable that an externalProgram rule
// action can run for each matched torrent. The args template is expanded
// with torrent fields at execution time.
type ExternalProgram struct {
	ID           int       `json:"id"`
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	ArgsTemplate string    `json:"argsTemplate"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (p *ExternalProgram) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("program name cannot be empty")
	}
	if strings.TrimSpace(p.Path) == "" {
		return errors.New("program path cannot be empty")
	}
	return nil
}

type ExternalProgramStore struct {
	db dbinterface.Querier
}

func NewExternalProgramStore(db dbinterface.Querier) *ExternalProgramStore {
	return &ExternalProgramStore{db: db}
}

const externalProgramColumns = `id, name, path, args_template, enabled, created_at, updated_at`

func scanExternalProgram(row interface{ Scan(dest ...any) error }) (*ExternalProgram, error) {
	var program ExternalProgram
	if err := row.Scan(
		&program.ID,
		&program.Name,
		&program.Path,
		&program.ArgsTemplate,
		&program.Enabled,
		&program.CreatedAt,
		&program.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &program, nil
}

func (s *ExternalProgramStore) List(ctx context.Context) ([]*ExternalProgram, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+externalProgramColumns+` FROM external_programs ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var programs []*ExternalProgram
	for rows.Next() {
		program, err := scanExternalProgram(rows)
		if err != nil {
			return nil, err
		}
		programs = append(programs, program)
	}

	return programs, rows.Err()
}

func (s *ExternalProgramStore) Get(ctx context.Context, id int) (*ExternalProgram, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+externalProgramColumns+` FROM external_programs WHERE id = ?`, id)
	return scanExternalProgram(row)
}

func (s *ExternalProgramStore) Create(ctx context.Context, program *ExternalProgram) (*ExternalProgram, error) {
	if err := program.Validate(); err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO external_programs (name, path, args_template, enabled)
		VALUES (?, ?, ?, ?)
	`, program.Name, program.Path, program.ArgsTemplate, boolToInt(program.Enabled))
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, int(id))
}

func (s *ExternalProgramStore) Update(ctx context.Context, program *ExternalProgram) (*ExternalProgram, error) {
	if err := program.Validate(); err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE external_programs
		SET name = ?, path = ?, args_template = ?, enabled = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, program.Name, program.Path, program.ArgsTemplate, boolToInt(program.Enabled), program.ID)
	if err != nil {
		return nil, err
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return nil, sql.ErrNoRows
	}

	return s.Get(ctx, program.ID)
}

func (s *ExternalProgramStore) Delete(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM external_programs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
