// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/qrules/internal/models"
	"github.com/autobrr/qrules/internal/testdb"
)

func newActivityFixture(t *testing.T) (*models.ActivityStore, *models.Instance) {
	t.Helper()

	db := testdb.Open(t)
	instances, err := models.NewInstanceStore(db, testEncryptionKey)
	require.NoError(t, err)

	instance, err := instances.Create(context.Background(),
		&models.Instance{Name: "activity", Host: "localhost"}, "pw", nil)
	require.NoError(t, err)

	return models.NewActivityStore(db), instance
}

func TestActivityStoreCreateAndList(t *testing.T) {
	t.Parallel()

	store, instance := newActivityFixture(t)
	ctx := context.Background()

	name := "Some.Release.2024.1080p.WEB-DL-GROUP"
	activity := &models.RuleActivity{
		InstanceID:  instance.ID,
		RuleName:    "pause seeded",
		BatchID:     models.NewBatchID(),
		Hash:        "abc123",
		TorrentName: &name,
		Action:      "pause",
		Outcome:     models.OutcomeApplied,
	}
	require.NoError(t, store.Create(ctx, activity))
	require.NotZero(t, activity.ID)

	list, err := store.ListByInstance(ctx, instance.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "pause", list[0].Action)
	assert.Equal(t, models.OutcomeApplied, list[0].Outcome)
	require.NotNil(t, list[0].TorrentName)
	assert.Equal(t, name, *list[0].TorrentName)
}

func TestActivityStoreCreateBatch(t *testing.T) {
	t.Parallel()

	store, instance := newActivityFixture(t)
	ctx := context.Background()

	var batch []*models.RuleActivity
	for i := range 5 {
		batch = append(batch, &models.RuleActivity{
			InstanceID: instance.ID,
			RuleName:   "cleanup",
			Hash:       fmt.Sprintf("hash%02d", i),
			Action:     "delete",
			Outcome:    models.OutcomeApplied,
			DryRun:     true,
		})
	}

	batchID, err := store.CreateBatch(ctx, batch)
	require.NoError(t, err)
	require.NotEmpty(t, batchID)

	records, err := store.ListByBatch(ctx, batchID)
	require.NoError(t, err)
	require.Len(t, records, 5)
	for i, record := range records {
		assert.Equal(t, fmt.Sprintf("hash%02d", i), record.Hash)
		assert.Equal(t, batchID, record.BatchID)
		assert.True(t, record.DryRun)
	}
}

func TestActivityStoreEmptyBatch(t *testing.T) {
	t.Parallel()

	store, _ := newActivityFixture(t)

	batchID, err := store.CreateBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, batchID)
}

func TestActivityStoreListLimitAndOffset(t *testing.T) {
	t.Parallel()

	store, instance := newActivityFixture(t)
	ctx := context.Background()

	var batch []*models.RuleActivity
	for i := range 10 {
		batch = append(batch, &models.RuleActivity{
			InstanceID: instance.ID,
			RuleName:   "bulk",
			Hash:       fmt.Sprintf("hash%02d", i),
			Action:     "tag",
			Outcome:    models.OutcomeApplied,
		})
	}
	_, err := store.CreateBatch(ctx, batch)
	require.NoError(t, err)

	page, err := store.ListByInstance(ctx, instance.ID, 3, 0)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "hash09", page[0].Hash)

	page, err = store.ListByInstance(ctx, instance.ID, 3, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "hash06", page[0].Hash)
}

func TestActivityStoreListByRule(t *testing.T) {
	t.Parallel()

	store, instance := newActivityFixture(t)
	ctx := context.Background()

	ruleID := 42
	require.NoError(t, store.Create(ctx, &models.RuleActivity{
		InstanceID: instance.ID,
		RuleID:     &ruleID,
		RuleName:   "bound",
		Hash:       "aaa",
		Action:     "resume",
		Outcome:    models.OutcomeApplied,
	}))
	require.NoError(t, store.Create(ctx, &models.RuleActivity{
		InstanceID: instance.ID,
		RuleName:   "unbound",
		Hash:       "bbb",
		Action:     "resume",
		Outcome:    models.OutcomeSkipped,
	}))

	list, err := store.ListByRule(ctx, ruleID, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "aaa", list[0].Hash)
	require.NotNil(t, list[0].RuleID)
	assert.Equal(t, ruleID, *list[0].RuleID)
}

func TestActivityStoreDeleteOlderThan(t *testing.T) {
	t.Parallel()

	store, instance := newActivityFixture(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &models.RuleActivity{
		InstanceID: instance.ID,
		RuleName:   "recent",
		Hash:       "fresh",
		Action:     "pause",
		Outcome:    models.OutcomeApplied,
	}))

	// Nothing is older than 30 days in a fresh database.
	removed, err := store.DeleteOlderThan(ctx, 30)
	require.NoError(t, err)
	assert.Zero(t, removed)

	// Non-positive retention is a no-op rather than a full wipe.
	removed, err = store.DeleteOlderThan(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, removed)

	list, err := store.ListByInstance(ctx, instance.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
