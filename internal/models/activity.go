// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/autobrr/qrules/internal/dbinterface"
)

// Outcomes recorded for each torrent an action touched.
const (
	OutcomeApplied = "applied"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// RuleActivity is one torrent-level record of a rule action. Records from
// the same evaluation run share a batch ID.
type RuleActivity struct {
	ID            int       `json:"id"`
	InstanceID    int       `json:"instanceId"`
	RuleID        *int      `json:"ruleId,omitempty"`
	RuleName      string    `json:"ruleName"`
	BatchID       string    `json:"batchId"`
	Hash          string    `json:"hash"`
	TorrentName   *string   `json:"torrentName,omitempty"`
	TrackerDomain *string   `json:"trackerDomain,omitempty"`
	Action        string    `json:"action"`
	Outcome       string    `json:"outcome"`
	Reason        *string   `json:"reason,omitempty"`
	DryRun        bool      `json:"dryRun"`
	Details       *string   `json:"details,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// NewBatchID returns a fresh identifier for grouping one run's records.
func NewBatchID() string {
	return uuid.NewString()
}

type ActivityStore struct {
	db dbinterface.Querier
}

func NewActivityStore(db dbinterface.Querier) *ActivityStore {
	return &ActivityStore{db: db}
}

func (s *ActivityStore) Create(ctx context.Context, activity *RuleActivity) error {
	var ruleID any
	if activity.RuleID != nil {
		ruleID = *activity.RuleID
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_activity
			(instance_id, rule_id, rule_name, batch_id, hash, torrent_name, tracker_domain,
			 action, outcome, reason, dry_run, details)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, activity.InstanceID, ruleID, activity.RuleName, activity.BatchID, activity.Hash,
		nullableString(activity.TorrentName), nullableString(activity.TrackerDomain),
		activity.Action, activity.Outcome, nullableString(activity.Reason),
		boolToInt(activity.DryRun), nullableString(activity.Details))
	if err != nil {
		return err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	activity.ID = int(id)
	return nil
}

// CreateBatch inserts all records inside one transaction, assigning a
// shared batch ID to any record that lacks one.
func (s *ActivityStore) CreateBatch(ctx context.Context, activities []*RuleActivity) (string, error) {
	if len(activities) == 0 {
		return "", nil
	}

	batchID := NewBatchID()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	for _, activity := range activities {
		if activity.BatchID == "" {
			activity.BatchID = batchID
		}
		var ruleID any
		if activity.RuleID != nil {
			ruleID = *activity.RuleID
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rule_activity
				(instance_id, rule_id, rule_name, batch_id, hash, torrent_name, tracker_domain,
				 action, outcome, reason, dry_run, details)
			VALUES
				(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, activity.InstanceID, ruleID, activity.RuleName, activity.BatchID, activity.Hash,
			nullableString(activity.TorrentName), nullableString(activity.TrackerDomain),
			activity.Action, activity.Outcome, nullableString(activity.Reason),
			boolToInt(activity.DryRun), nullableString(activity.Details)); err != nil {
			return "", fmt.Errorf("failed to record activity for %s: %w", activity.Hash, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return batchID, nil
}

const activityColumns = `id, instance_id, rule_id, rule_name, batch_id, hash, torrent_name,
	tracker_domain, action, outcome, reason, dry_run, details, created_at`

func scanActivity(row interface{ Scan(dest ...any) error }) (*RuleActivity, error) {
	var activity RuleActivity
	var ruleID sql.NullInt64
	var torrentName, trackerDomain, reason, details sql.NullString

	if err := row.Scan(
		&activity.ID,
		&activity.InstanceID,
		&ruleID,
		&activity.RuleName,
		&activity.BatchID,
		&activity.Hash,
		&torrentName,
		&trackerDomain,
		&activity.Action,
		&activity.Outcome,
		&reason,
		&activity.DryRun,
		&details,
		&activity.CreatedAt,
	); err != nil {
		return nil, err
	}

	if ruleID.Valid {
		id := int(ruleID.Int64)
		activity.RuleID = &id
	}
	if torrentName.Valid {
		activity.TorrentName = &torrentName.String
	}
	if trackerDomain.Valid {
		activity.TrackerDomain = &trackerDomain.String
	}
	if reason.Valid {
		activity.Reason = &reason.String
	}
	if details.Valid {
		activity.Details = &details.String
	}

	return &activity, nil
}

func (s *ActivityStore) collect(rows *sql.Rows) ([]*RuleActivity, error) {
	defer rows.Close()

	var list []*RuleActivity
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, activity)
	}
	return list, rows.Err()
}

// ListByInstance returns the newest records first. A non-positive limit
// defaults to 100.
func (s *ActivityStore) ListByInstance(ctx context.Context, instanceID, limit, offset int) ([]*RuleActivity, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+activityColumns+`
		FROM rule_activity
		WHERE instance_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, instanceID, limit, offset)
	if err != nil {
		return nil, err
	}
	return s.collect(rows)
}

func (s *ActivityStore) ListByRule(ctx context.Context, ruleID, limit int) ([]*RuleActivity, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+activityColumns+`
		FROM rule_activity
		WHERE rule_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, ruleID, limit)
	if err != nil {
		return nil, err
	}
	return s.collect(rows)
}

func (s *ActivityStore) ListByBatch(ctx context.Context, batchID string) ([]*RuleActivity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+activityColumns+`
		FROM rule_activity
		WHERE batch_id = ?
		ORDER BY id ASC
	`, batchID)
	if err != nil {
		return nil, err
	}
	return s.collect(rows)
}

// DeleteOlderThan prunes records past the retention window and returns
// how many rows were removed.
func (s *ActivityStore) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rule_activity WHERE created_at < datetime('now', ?)`,
		fmt.Sprintf("-%d days", days))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
