// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/autobrr/qrules/internal/dbinterface"
	"github.com/autobrr/qrules/internal/rules"
)

// FreeSpaceSourceType selects where free-space figures for a rule come from.
type FreeSpaceSourceType string

const (
	// FreeSpaceSourceQbittorrent reads free space from the qBittorrent API.
	FreeSpaceSourceQbittorrent FreeSpaceSourceType = "qbittorrent"
	// FreeSpaceSourcePath stats a local filesystem path.
	FreeSpaceSourcePath FreeSpaceSourceType = "path"
)

// FreeSpaceSource configures the free-space probe for rules that use
// FREE_SPACE conditions.
type FreeSpaceSource struct {
	Type FreeSpaceSourceType `json:"type"`
	Path string              `json:"path,omitempty"`
}

// Key returns a stable identifier for deduplicating probes across rules.
func (f *FreeSpaceSource) Key() string {
	if f == nil || f.Type == FreeSpaceSourceQbittorrent {
		return "qbt"
	}
	return "path:" + f.Path
}

func (f *FreeSpaceSource) Validate() error {
	if f == nil {
		return nil
	}
	switch f.Type {
	case FreeSpaceSourceQbittorrent:
		return nil
	case FreeSpaceSourcePath:
		if f.Path == "" {
			return errors.New("free space source of type path requires a path")
		}
		return nil
	default:
		return fmt.Errorf("unknown free space source type %q", f.Type)
	}
}

// Rule is a condition-driven automation bound to a single instance. The
// action envelope, grouping config, and free-space source are stored as
// JSON columns.
type Rule struct {
	ID              int                   `json:"id"`
	InstanceID      int                   `json:"instanceId"`
	Name            string                `json:"name"`
	TrackerPattern  *string               `json:"trackerPattern,omitempty"`
	Conditions      *rules.Envelope       `json:"conditions"`
	Grouping        *rules.GroupingConfig `json:"grouping,omitempty"`
	FreeSpaceSource *FreeSpaceSource      `json:"freeSpaceSource,omitempty"`
	Enabled         bool                  `json:"enabled"`
	SortOrder       int                   `json:"sortOrder"`
	IntervalSeconds *int                  `json:"intervalSeconds,omitempty"`
	EnableConfirmed bool                  `json:"enableConfirmed"`
	LastDryRunAt    *time.Time            `json:"lastDryRunAt,omitempty"`
	CreatedAt       time.Time             `json:"createdAt"`
	UpdatedAt       time.Time             `json:"updatedAt"`
}

// Validate checks the rule is internally consistent before persisting.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return errors.New("rule name cannot be empty")
	}
	if r.Conditions == nil {
		return errors.New("rule must define actions")
	}
	if errs := r.Conditions.Validate(); len(errs) > 0 {
		return errors.Join(errs...)
	}
	if err := r.FreeSpaceSource.Validate(); err != nil {
		return err
	}
	if r.IntervalSeconds != nil && *r.IntervalSeconds < 30 {
		return errors.New("interval must be at least 30 seconds")
	}
	return nil
}

// UsesFreeSpace reports whether any condition tree in the rule references
// the FREE_SPACE field.
func (r *Rule) UsesFreeSpace() bool {
	if r.Conditions == nil {
		return false
	}
	return r.Conditions.UsesField(rules.FieldFreeSpace)
}

type RuleStore struct {
	db dbinterface.Querier
}

func NewRuleStore(db dbinterface.Querier) *RuleStore {
	return &RuleStore{db: db}
}

const ruleColumns = `id, instance_id, name, tracker_pattern, conditions, grouping, free_space_source,
	enabled, sort_order, interval_seconds, enable_confirmed, last_dry_run_at, created_at, updated_at`

func scanRule(row interface{ Scan(dest ...any) error }) (*Rule, error) {
	var rule Rule
	var trackerPattern sql.NullString
	var conditionsJSON string
	var groupingJSON, freeSpaceJSON sql.NullString
	var intervalSeconds sql.NullInt64
	var lastDryRunAt sql.NullTime

	if err := row.Scan(
		&rule.ID,
		&rule.InstanceID,
		&rule.Name,
		&trackerPattern,
		&conditionsJSON,
		&groupingJSON,
		&freeSpaceJSON,
		&rule.Enabled,
		&rule.SortOrder,
		&intervalSeconds,
		&rule.EnableConfirmed,
		&lastDryRunAt,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if trackerPattern.Valid && trackerPattern.String != "" {
		rule.TrackerPattern = &trackerPattern.String
	}
	if intervalSeconds.Valid {
		interval := int(intervalSeconds.Int64)
		rule.IntervalSeconds = &interval
	}
	if lastDryRunAt.Valid {
		rule.LastDryRunAt = &lastDryRunAt.Time
	}

	var envelope rules.Envelope
	if err := json.Unmarshal([]byte(conditionsJSON), &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode conditions for rule %d: %w", rule.ID, err)
	}
	rule.Conditions = &envelope

	if groupingJSON.Valid && groupingJSON.String != "" {
		var grouping rules.GroupingConfig
		if err := json.Unmarshal([]byte(groupingJSON.String), &grouping); err != nil {
			return nil, fmt.Errorf("failed to decode grouping for rule %d: %w", rule.ID, err)
		}
		rule.Grouping = &grouping
	}

	if freeSpaceJSON.Valid && freeSpaceJSON.String != "" {
		var source FreeSpaceSource
		if err := json.Unmarshal([]byte(freeSpaceJSON.String), &source); err != nil {
			return nil, fmt.Errorf("failed to decode free space source for rule %d: %w", rule.ID, err)
		}
		rule.FreeSpaceSource = &source
	}

	return &rule, nil
}

func encodeRuleColumns(rule *Rule) (conditions string, grouping, freeSpace any, err error) {
	conditionsBytes, err := json.Marshal(rule.Conditions)
	if err != nil {
		return "", nil, nil, fmt.Errorf("failed to encode conditions: %w", err)
	}

	if rule.Grouping != nil {
		groupingBytes, err := json.Marshal(rule.Grouping)
		if err != nil {
			return "", nil, nil, fmt.Errorf("failed to encode grouping: %w", err)
		}
		grouping = string(groupingBytes)
	}

	if rule.FreeSpaceSource != nil {
		freeSpaceBytes, err := json.Marshal(rule.FreeSpaceSource)
		if err != nil {
			return "", nil, nil, fmt.Errorf("failed to encode free space source: %w", err)
		}
		freeSpace = string(freeSpaceBytes)
	}

	return string(conditionsBytes), grouping, freeSpace, nil
}

func (s *RuleStore) Create(ctx context.Context, rule *Rule) (*Rule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	conditions, grouping, freeSpace, err := encodeRuleColumns(rule)
	if err != nil {
		return nil, err
	}

	var interval any
	if rule.IntervalSeconds != nil {
		interval = *rule.IntervalSeconds
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rules
			(instance_id, name, tracker_pattern, conditions, grouping, free_space_source, enabled, sort_order, interval_seconds)
		VALUES
			(?, ?, ?, ?, ?, ?, ?,
			 COALESCE((SELECT MAX(sort_order) + 1 FROM rules WHERE instance_id = ?), 0),
			 ?)
	`, rule.InstanceID, rule.Name, stringOrEmpty(rule.TrackerPattern),
		conditions, grouping, freeSpace, boolToInt(rule.Enabled),
		rule.InstanceID, interval)
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, int(id))
}

func (s *RuleStore) Get(ctx context.Context, id int) (*Rule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	return scanRule(row)
}

func (s *RuleStore) ListByInstance(ctx context.Context, instanceID int) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE instance_id = ? ORDER BY sort_order ASC, id ASC`,
		instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rule)
	}

	return list, rows.Err()
}

// ListEnabled returns enabled rules across all instances, ordered for the
// scheduler.
func (s *RuleStore) ListEnabled(ctx context.Context) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE enabled = 1 ORDER BY instance_id ASC, sort_order ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rule)
	}

	return list, rows.Err()
}

func (s *RuleStore) Update(ctx context.Context, rule *Rule) (*Rule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	conditions, grouping, freeSpace, err := encodeRuleColumns(rule)
	if err != nil {
		return nil, err
	}

	var interval any
	if rule.IntervalSeconds != nil {
		interval = *rule.IntervalSeconds
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE rules
		SET name = ?, tracker_pattern = ?, conditions = ?, grouping = ?, free_space_source = ?,
		    enabled = ?, interval_seconds = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, rule.Name, stringOrEmpty(rule.TrackerPattern), conditions, grouping, freeSpace,
		boolToInt(rule.Enabled), interval, rule.ID)
	if err != nil {
		return nil, err
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return nil, sql.ErrNoRows
	}

	return s.Get(ctx, rule.ID)
}

func (s *RuleStore) SetEnabled(ctx context.Context, id int, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rules SET enabled = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, boolToInt(enabled), id)
	if err != nil {
		return err
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ConfirmEnable records that the first-enable confirmation was answered
// so clients stop re-prompting for this rule.
func (s *RuleStore) ConfirmEnable(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rules SET enable_confirmed = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, id)
	if err != nil {
		return err
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// TouchDryRun records a completed dry run.
func (s *RuleStore) TouchDryRun(ctx context.Context, id int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rules SET last_dry_run_at = CURRENT_TIMESTAMP WHERE id = ?
	`, id)
	return err
}

func (s *RuleStore) Delete(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Reorder rewrites sort_order for an instance's rules to match the given
// id sequence. IDs not present keep their relative order after the listed
// ones.
func (s *RuleStore) Reorder(ctx context.Context, instanceID int, orderedIDs []int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for position, id := range orderedIDs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE rules SET sort_order = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND instance_id = ?
		`, position, id, instanceID); err != nil {
			return err
		}
	}

	return tx.Commit()
}
