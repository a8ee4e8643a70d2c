// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/qrules/internal/models"
	"github.com/autobrr/qrules/internal/rules"
	"github.com/autobrr/qrules/internal/testdb"
)

type ruleFixture struct {
	instances *models.InstanceStore
	rules     *models.RuleStore
	instance  *models.Instance
}

func newRuleFixture(t *testing.T) *ruleFixture {
	t.Helper()

	db := testdb.Open(t)
	instances, err := models.NewInstanceStore(db, testEncryptionKey)
	require.NoError(t, err)

	instance, err := instances.Create(context.Background(),
		&models.Instance{Name: "fixture", Host: "localhost"}, "pw", nil)
	require.NoError(t, err)

	return &ruleFixture{
		instances: instances,
		rules:     models.NewRuleStore(db),
		instance:  instance,
	}
}

func pauseEnvelope(t *testing.T) *rules.Envelope {
	t.Helper()
	envelope := &rules.Envelope{SchemaVersion: rules.SchemaVersion}
	envelope.Set(rules.ActionPause, &rules.ActionSpec{
		Enabled: true,
		Condition: &rules.Tree{Root: &rules.Leaf{
			Field:    rules.FieldRatio,
			Operator: rules.OperatorGreaterThanOrEqual,
			Value:    "2.0",
		}},
	})
	require.Empty(t, envelope.Validate())
	return envelope
}

func TestRuleStoreCreateRoundTrip(t *testing.T) {
	t.Parallel()

	f := newRuleFixture(t)
	ctx := context.Background()

	interval := 300
	created, err := f.rules.Create(ctx, &models.Rule{
		InstanceID: f.instance.ID,
		Name:       "pause seeded",
		Conditions: pauseEnvelope(t),
		Grouping: &rules.GroupingConfig{
			DefaultGroupID: rules.GroupCrossSeedContentPath,
		},
		FreeSpaceSource: &models.FreeSpaceSource{
			Type: models.FreeSpaceSourcePath,
			Path: "/mnt/storage",
		},
		Enabled:         true,
		IntervalSeconds: &interval,
	})
	require.NoError(t, err)

	got, err := f.rules.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "pause seeded", got.Name)
	assert.True(t, got.Enabled)
	require.NotNil(t, got.IntervalSeconds)
	assert.Equal(t, 300, *got.IntervalSeconds)

	require.NotNil(t, got.Conditions)
	spec := got.Conditions.Get(rules.ActionPause)
	require.NotNil(t, spec)
	assert.True(t, spec.Enabled)

	require.NotNil(t, got.Grouping)
	assert.Equal(t, rules.GroupCrossSeedContentPath, got.Grouping.DefaultGroupID)

	require.NotNil(t, got.FreeSpaceSource)
	assert.Equal(t, models.FreeSpaceSourcePath, got.FreeSpaceSource.Type)
	assert.Equal(t, "path:/mnt/storage", got.FreeSpaceSource.Key())
}

func TestRuleStoreOptionalColumnsStayNil(t *testing.T) {
	t.Parallel()

	f := newRuleFixture(t)
	ctx := context.Background()

	created, err := f.rules.Create(ctx, &models.Rule{
		InstanceID: f.instance.ID,
		Name:       "minimal",
		Conditions: pauseEnvelope(t),
	})
	require.NoError(t, err)

	assert.Nil(t, created.TrackerPattern)
	assert.Nil(t, created.Grouping)
	assert.Nil(t, created.FreeSpaceSource)
	assert.Nil(t, created.IntervalSeconds)
	assert.Equal(t, "qbt", created.FreeSpaceSource.Key())
}

func TestRuleStoreValidation(t *testing.T) {
	t.Parallel()

	f := newRuleFixture(t)
	ctx := context.Background()

	_, err := f.rules.Create(ctx, &models.Rule{InstanceID: f.instance.ID, Name: "", Conditions: pauseEnvelope(t)})
	require.Error(t, err)

	_, err = f.rules.Create(ctx, &models.Rule{InstanceID: f.instance.ID, Name: "no actions"})
	require.Error(t, err)

	shortInterval := 5
	_, err = f.rules.Create(ctx, &models.Rule{
		InstanceID:      f.instance.ID,
		Name:            "too fast",
		Conditions:      pauseEnvelope(t),
		IntervalSeconds: &shortInterval,
	})
	require.Error(t, err)

	_, err = f.rules.Create(ctx, &models.Rule{
		InstanceID:      f.instance.ID,
		Name:            "bad source",
		Conditions:      pauseEnvelope(t),
		FreeSpaceSource: &models.FreeSpaceSource{Type: models.FreeSpaceSourcePath},
	})
	require.Error(t, err)
}

func TestRuleStoreSortOrderAssignment(t *testing.T) {
	t.Parallel()

	f := newRuleFixture(t)
	ctx := context.Background()

	first, err := f.rules.Create(ctx, &models.Rule{
		InstanceID: f.instance.ID, Name: "first", Conditions: pauseEnvelope(t),
	})
	require.NoError(t, err)
	second, err := f.rules.Create(ctx, &models.Rule{
		InstanceID: f.instance.ID, Name: "second", Conditions: pauseEnvelope(t),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, first.SortOrder)
	assert.Equal(t, 1, second.SortOrder)
}

func TestRuleStoreReorder(t *testing.T) {
	t.Parallel()

	f := newRuleFixture(t)
	ctx := context.Background()

	var ids []int
	for _, name := range []string{"a", "b", "c"} {
		rule, err := f.rules.Create(ctx, &models.Rule{
			InstanceID: f.instance.ID, Name: name, Conditions: pauseEnvelope(t),
		})
		require.NoError(t, err)
		ids = append(ids, rule.ID)
	}

	require.NoError(t, f.rules.Reorder(ctx, f.instance.ID, []int{ids[2], ids[0], ids[1]}))

	list, err := f.rules.ListByInstance(ctx, f.instance.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "c", list[0].Name)
	assert.Equal(t, "a", list[1].Name)
	assert.Equal(t, "b", list[2].Name)
}

func TestRuleStoreListEnabled(t *testing.T) {
	t.Parallel()

	f := newRuleFixture(t)
	ctx := context.Background()

	enabled, err := f.rules.Create(ctx, &models.Rule{
		InstanceID: f.instance.ID, Name: "on", Conditions: pauseEnvelope(t), Enabled: true,
	})
	require.NoError(t, err)
	_, err = f.rules.Create(ctx, &models.Rule{
		InstanceID: f.instance.ID, Name: "off", Conditions: pauseEnvelope(t),
	})
	require.NoError(t, err)

	list, err := f.rules.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, enabled.ID, list[0].ID)

	require.NoError(t, f.rules.SetEnabled(ctx, enabled.ID, false))
	list, err = f.rules.ListEnabled(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRuleStoreCascadeOnInstanceDelete(t *testing.T) {
	t.Parallel()

	f := newRuleFixture(t)
	ctx := context.Background()

	rule, err := f.rules.Create(ctx, &models.Rule{
		InstanceID: f.instance.ID, Name: "doomed", Conditions: pauseEnvelope(t),
	})
	require.NoError(t, err)

	require.NoError(t, f.instances.Delete(ctx, f.instance.ID))

	_, err = f.rules.Get(ctx, rule.ID)
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRuleStoreEnableBookkeeping(t *testing.T) {
	t.Parallel()

	f := newRuleFixture(t)
	ctx := context.Background()

	rule, err := f.rules.Create(ctx, &models.Rule{
		InstanceID: f.instance.ID, Name: "confirm me", Conditions: pauseEnvelope(t),
	})
	require.NoError(t, err)
	assert.False(t, rule.EnableConfirmed)
	assert.Nil(t, rule.LastDryRunAt)

	require.NoError(t, f.rules.ConfirmEnable(ctx, rule.ID))
	require.NoError(t, f.rules.TouchDryRun(ctx, rule.ID))

	got, err := f.rules.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.True(t, got.EnableConfirmed)
	require.NotNil(t, got.LastDryRunAt)

	err = f.rules.ConfirmEnable(ctx, 99999)
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRuleUsesFreeSpace(t *testing.T) {
	t.Parallel()

	envelope := &rules.Envelope{SchemaVersion: rules.SchemaVersion}
	envelope.Set(rules.ActionDelete, &rules.ActionSpec{
		Enabled: true,
		Mode:    rules.DeleteModeWithFiles,
		Condition: &rules.Tree{Root: &rules.Leaf{
			Field:    rules.FieldFreeSpace,
			Operator: rules.OperatorLessThan,
			Value:    "107374182400",
		}},
	})

	rule := &models.Rule{Conditions: envelope}
	assert.True(t, rule.UsesFreeSpace())

	rule = &models.Rule{}
	assert.False(t, rule.UsesFreeSpace())
}
