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
	"github.com/autobrr/qrules/internal/rules"
)

// Tracker delete modes for legacy rules.
const (
	TrackerDeleteNone                 = "none"
	TrackerDeleteTorrent              = "delete"
	TrackerDeleteWithFiles            = "deleteWithFiles"
	TrackerDeletePreservingCrossSeeds = "deleteWithFilesPreserveCrossSeeds"
	TrackerDeleteIncludingCrossSeeds  = "deleteWithFilesIncludeCrossSeeds"
)

// TrackerRule is the older flat per-tracker rule shape. It remains
// readable and writable so existing clients keep working; the engine
// runs it by converting to action envelopes via ToEnvelopes.
type TrackerRule struct {
	ID                      int       `json:"id"`
	InstanceID              int       `json:"instanceId"`
	Name                    string    `json:"name"`
	TrackerPattern          string    `json:"trackerPattern"`
	Category                *string   `json:"category,omitempty"`
	Tag                     *string   `json:"tag,omitempty"`
	UploadLimitKiB          *int64    `json:"uploadLimitKiB,omitempty"`
	DownloadLimitKiB        *int64    `json:"downloadLimitKiB,omitempty"`
	RatioLimit              *float64  `json:"ratioLimit,omitempty"`
	SeedingTimeLimitMinutes *int64    `json:"seedingTimeLimitMinutes,omitempty"`
	DeleteMode              *string   `json:"deleteMode,omitempty"`
	DeleteUnregistered      bool      `json:"deleteUnregistered"`
	Enabled                 bool      `json:"enabled"`
	SortOrder               int       `json:"sortOrder"`
	CreatedAt               time.Time `json:"createdAt"`
	UpdatedAt               time.Time `json:"updatedAt"`
}

// TrackerDomains splits the pattern into individual domains. Commas,
// semicolons, and pipes all separate entries.
func (r *TrackerRule) TrackerDomains() []string {
	return SplitTrackerPattern(r.TrackerPattern)
}

// SplitTrackerPattern splits a tracker pattern on , ; and | and trims
// whitespace, dropping empty entries.
func SplitTrackerPattern(pattern string) []string {
	fields := strings.FieldsFunc(pattern, func(r rune) bool {
		return r == ',' || r == ';' || r == '|'
	})
	domains := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			domains = append(domains, strings.ToLower(f))
		}
	}
	return domains
}

func (r *TrackerRule) Validate() error {
	if r.Name == "" {
		return errors.New("tracker rule name cannot be empty")
	}
	if len(r.TrackerDomains()) == 0 {
		return errors.New("tracker rule requires at least one tracker domain")
	}
	if r.DeleteMode != nil {
		switch *r.DeleteMode {
		case TrackerDeleteNone, TrackerDeleteTorrent, TrackerDeleteWithFiles,
			TrackerDeletePreservingCrossSeeds, TrackerDeleteIncludingCrossSeeds:
		default:
			return errors.New("invalid delete mode")
		}
	}
	return nil
}

// ToEnvelopes converts a legacy tracker rule into equivalent action
// envelopes. The tracker match becomes the condition on every generated
// action. Delete always stands alone in its own envelope, so a rule that
// both sets limits and deletes unregistered torrents yields two.
func (r *TrackerRule) ToEnvelopes() []*rules.Envelope {
	domains := r.TrackerDomains()
	domainList := strings.Join(domains, ",")
	trackerCond := &rules.Tree{Root: &rules.Leaf{
		Field:    rules.FieldTracker,
		Operator: rules.OperatorIn,
		Value:    domainList,
	}}

	envelope := &rules.Envelope{SchemaVersion: rules.SchemaVersion}

	if r.UploadLimitKiB != nil || r.DownloadLimitKiB != nil {
		envelope.Set(rules.ActionSpeedLimits, &rules.ActionSpec{
			Enabled:     true,
			Condition:   trackerCond,
			UploadKiB:   r.UploadLimitKiB,
			DownloadKiB: r.DownloadLimitKiB,
		})
	}

	if r.RatioLimit != nil || r.SeedingTimeLimitMinutes != nil {
		envelope.Set(rules.ActionShareLimits, &rules.ActionSpec{
			Enabled:            true,
			Condition:          trackerCond,
			RatioLimit:         r.RatioLimit,
			SeedingTimeMinutes: r.SeedingTimeLimitMinutes,
		})
	}

	if r.Category != nil && *r.Category != "" {
		envelope.Set(rules.ActionCategory, &rules.ActionSpec{
			Enabled:   true,
			Condition: trackerCond,
			Category:  *r.Category,
		})
	}

	if r.Tag != nil && *r.Tag != "" {
		envelope.Set(rules.ActionTag, &rules.ActionSpec{
			Enabled:   true,
			Condition: trackerCond,
			Mode:      rules.TagModeAdd,
			Tags:      []string{*r.Tag},
			Tag:       *r.Tag,
		})
	}

	var envelopes []*rules.Envelope
	if !envelope.IsEmpty() {
		envelopes = append(envelopes, envelope)
	}

	if r.DeleteUnregistered {
		mode := TrackerDeleteWithFiles
		if r.DeleteMode != nil && *r.DeleteMode != TrackerDeleteNone {
			mode = *r.DeleteMode
		}
		deleteEnvelope := &rules.Envelope{SchemaVersion: rules.SchemaVersion}
		deleteEnvelope.Set(rules.ActionDelete, &rules.ActionSpec{
			Enabled: true,
			Condition: &rules.Tree{Root: &rules.Group{
				Combinator: rules.OperatorAnd,
				Children: []rules.Node{
					&rules.Leaf{Field: rules.FieldTracker, Operator: rules.OperatorIn, Value: domainList},
					&rules.Leaf{Field: rules.FieldIsUnregistered, Operator: rules.OperatorEqual, Value: "true"},
				},
			}},
			Mode: mode,
		})
		envelopes = append(envelopes, deleteEnvelope)
	}

	return envelopes
}

type TrackerRuleStore struct {
	db dbinterface.Querier
}

func NewTrackerRuleStore(db dbinterface.Querier) *TrackerRuleStore {
	return &TrackerRuleStore{db: db}
}

const trackerRuleColumns = `id, instance_id, name, tracker_pattern, category, tag,
	upload_limit_kib, download_limit_kib, ratio_limit, seeding_time_limit_minutes,
	delete_mode, delete_unregistered, enabled, sort_order, created_at, updated_at`

func scanTrackerRule(row interface{ Scan(dest ...any) error }) (*TrackerRule, error) {
	var rule TrackerRule
	var category, tag, deleteMode sql.NullString
	var uploadLimit, downloadLimit, seedingTime sql.NullInt64
	var ratioLimit sql.NullFloat64

	if err := row.Scan(
		&rule.ID,
		&rule.InstanceID,
		&rule.Name,
		&rule.TrackerPattern,
		&category,
		&tag,
		&uploadLimit,
		&downloadLimit,
		&ratioLimit,
		&seedingTime,
		&deleteMode,
		&rule.DeleteUnregistered,
		&rule.Enabled,
		&rule.SortOrder,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if category.Valid {
		rule.Category = &category.String
	}
	if tag.Valid {
		rule.Tag = &tag.String
	}
	if uploadLimit.Valid {
		rule.UploadLimitKiB = &uploadLimit.Int64
	}
	if downloadLimit.Valid {
		rule.DownloadLimitKiB = &downloadLimit.Int64
	}
	if ratioLimit.Valid {
		rule.RatioLimit = &ratioLimit.Float64
	}
	if seedingTime.Valid {
		rule.SeedingTimeLimitMinutes = &seedingTime.Int64
	}
	if deleteMode.Valid && deleteMode.String != TrackerDeleteNone {
		rule.DeleteMode = &deleteMode.String
	}

	return &rule, nil
}

func (s *TrackerRuleStore) Create(ctx context.Context, rule *TrackerRule) (*TrackerRule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	deleteMode := TrackerDeleteNone
	if rule.DeleteMode != nil {
		deleteMode = *rule.DeleteMode
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tracker_rules
			(instance_id, name, tracker_pattern, category, tag, upload_limit_kib, download_limit_kib,
			 ratio_limit, seeding_time_limit_minutes, delete_mode, delete_unregistered, enabled, sort_order)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			 COALESCE((SELECT MAX(sort_order) + 1 FROM tracker_rules WHERE instance_id = ?), 0))
	`, rule.InstanceID, rule.Name, rule.TrackerPattern,
		nullableString(rule.Category), nullableString(rule.Tag),
		rule.UploadLimitKiB, rule.DownloadLimitKiB, rule.RatioLimit, rule.SeedingTimeLimitMinutes,
		deleteMode, boolToInt(rule.DeleteUnregistered), boolToInt(rule.Enabled),
		rule.InstanceID)
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, int(id))
}

func (s *TrackerRuleStore) Get(ctx context.Context, id int) (*TrackerRule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+trackerRuleColumns+` FROM tracker_rules WHERE id = ?`, id)
	return scanTrackerRule(row)
}

func (s *TrackerRuleStore) ListByInstance(ctx context.Context, instanceID int) ([]*TrackerRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+trackerRuleColumns+` FROM tracker_rules WHERE instance_id = ? ORDER BY sort_order ASC, id ASC`,
		instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*TrackerRule
	for rows.Next() {
		rule, err := scanTrackerRule(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rule)
	}

	return list, rows.Err()
}

func (s *TrackerRuleStore) Update(ctx context.Context, rule *TrackerRule) (*TrackerRule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	deleteMode := TrackerDeleteNone
	if rule.DeleteMode != nil {
		deleteMode = *rule.DeleteMode
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tracker_rules
		SET name = ?, tracker_pattern = ?, category = ?, tag = ?, upload_limit_kib = ?, download_limit_kib = ?,
		    ratio_limit = ?, seeding_time_limit_minutes = ?, delete_mode = ?, delete_unregistered = ?,
		    enabled = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, rule.Name, rule.TrackerPattern,
		nullableString(rule.Category), nullableString(rule.Tag),
		rule.UploadLimitKiB, rule.DownloadLimitKiB, rule.RatioLimit, rule.SeedingTimeLimitMinutes,
		deleteMode, boolToInt(rule.DeleteUnregistered), boolToInt(rule.Enabled), rule.ID)
	if err != nil {
		return nil, err
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return nil, sql.ErrNoRows
	}

	return s.Get(ctx, rule.ID)
}

func (s *TrackerRuleStore) Delete(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tracker_rules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
