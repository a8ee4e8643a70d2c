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

func newTrackerRuleFixture(t *testing.T) (*models.TrackerRuleStore, *models.Instance) {
	t.Helper()

	db := testdb.Open(t)
	instances, err := models.NewInstanceStore(db, testEncryptionKey)
	require.NoError(t, err)

	instance, err := instances.Create(context.Background(),
		&models.Instance{Name: "legacy", Host: "localhost"}, "pw", nil)
	require.NoError(t, err)

	return models.NewTrackerRuleStore(db), instance
}

func TestSplitTrackerPattern(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"tracker.example.org"}, models.SplitTrackerPattern("tracker.example.org"))
	assert.Equal(t,
		[]string{"a.example.org", "b.example.org", "c.example.org"},
		models.SplitTrackerPattern("a.example.org, b.example.org; c.example.org"))
	assert.Equal(t,
		[]string{"a.example.org", "b.example.org"},
		models.SplitTrackerPattern("A.Example.Org | b.example.org |"))
	assert.Empty(t, models.SplitTrackerPattern("  ,; "))
}

func TestTrackerRuleStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store, instance := newTrackerRuleFixture(t)
	ctx := context.Background()

	uploadLimit := int64(2048)
	ratio := 1.5
	category := "sorted"
	created, err := store.Create(ctx, &models.TrackerRule{
		InstanceID:     instance.ID,
		Name:           "throttle",
		TrackerPattern: "tracker.example.org",
		UploadLimitKiB: &uploadLimit,
		RatioLimit:     &ratio,
		Category:       &category,
		Enabled:        true,
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "throttle", got.Name)
	require.NotNil(t, got.UploadLimitKiB)
	assert.Equal(t, int64(2048), *got.UploadLimitKiB)
	require.NotNil(t, got.RatioLimit)
	assert.InDelta(t, 1.5, *got.RatioLimit, 0.0001)
	assert.Nil(t, got.DeleteMode)
	assert.True(t, got.Enabled)
}

func TestTrackerRuleStoreValidation(t *testing.T) {
	t.Parallel()

	store, instance := newTrackerRuleFixture(t)
	ctx := context.Background()

	_, err := store.Create(ctx, &models.TrackerRule{
		InstanceID: instance.ID, Name: "", TrackerPattern: "tracker.example.org",
	})
	require.Error(t, err)

	_, err = store.Create(ctx, &models.TrackerRule{
		InstanceID: instance.ID, Name: "no domains", TrackerPattern: " ; ",
	})
	require.Error(t, err)

	badMode := "obliterate"
	_, err = store.Create(ctx, &models.TrackerRule{
		InstanceID: instance.ID, Name: "bad mode",
		TrackerPattern: "tracker.example.org", DeleteMode: &badMode,
	})
	require.Error(t, err)
}

func TestTrackerRuleStoreSortOrderAndDelete(t *testing.T) {
	t.Parallel()

	store, instance := newTrackerRuleFixture(t)
	ctx := context.Background()

	first, err := store.Create(ctx, &models.TrackerRule{
		InstanceID: instance.ID, Name: "one", TrackerPattern: "a.example.org",
	})
	require.NoError(t, err)
	second, err := store.Create(ctx, &models.TrackerRule{
		InstanceID: instance.ID, Name: "two", TrackerPattern: "b.example.org",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, first.SortOrder)
	assert.Equal(t, 1, second.SortOrder)

	require.NoError(t, store.Delete(ctx, first.ID))
	err = store.Delete(ctx, first.ID)
	require.ErrorIs(t, err, sql.ErrNoRows)

	list, err := store.ListByInstance(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "two", list[0].Name)
}

func TestTrackerRuleToEnvelopes(t *testing.T) {
	t.Parallel()

	t.Run("limits only", func(t *testing.T) {
		t.Parallel()

		uploadLimit := int64(1024)
		ratio := 2.0
		tag := "racing"
		rule := &models.TrackerRule{
			Name:           "limits",
			TrackerPattern: "a.example.org, b.example.org",
			UploadLimitKiB: &uploadLimit,
			RatioLimit:     &ratio,
			Tag:            &tag,
		}

		envelopes := rule.ToEnvelopes()
		require.Len(t, envelopes, 1)
		envelope := envelopes[0]
		require.Empty(t, envelope.Validate())

		speed := envelope.Get(rules.ActionSpeedLimits)
		require.NotNil(t, speed)
		require.NotNil(t, speed.UploadKiB)
		assert.Equal(t, int64(1024), *speed.UploadKiB)
		require.NotNil(t, speed.Condition)
		leaf, ok := speed.Condition.Root.(*rules.Leaf)
		require.True(t, ok)
		assert.Equal(t, rules.FieldTracker, leaf.Field)
		assert.Equal(t, rules.OperatorIn, leaf.Operator)
		assert.Equal(t, "a.example.org,b.example.org", leaf.Value)

		share := envelope.Get(rules.ActionShareLimits)
		require.NotNil(t, share)
		require.NotNil(t, share.RatioLimit)

		tagSpec := envelope.Get(rules.ActionTag)
		require.NotNil(t, tagSpec)
		assert.Equal(t, rules.TagModeAdd, tagSpec.Mode)
		assert.Equal(t, []string{"racing"}, tagSpec.Tags)
	})

	t.Run("delete unregistered splits into second envelope", func(t *testing.T) {
		t.Parallel()

		uploadLimit := int64(512)
		mode := models.TrackerDeletePreservingCrossSeeds
		rule := &models.TrackerRule{
			Name:               "cleanup",
			TrackerPattern:     "tracker.example.org",
			UploadLimitKiB:     &uploadLimit,
			DeleteMode:         &mode,
			DeleteUnregistered: true,
		}

		envelopes := rule.ToEnvelopes()
		require.Len(t, envelopes, 2)

		require.Empty(t, envelopes[0].Validate())
		require.NotNil(t, envelopes[0].Get(rules.ActionSpeedLimits))
		assert.Nil(t, envelopes[0].Get(rules.ActionDelete))

		require.Empty(t, envelopes[1].Validate())
		deleteSpec := envelopes[1].Get(rules.ActionDelete)
		require.NotNil(t, deleteSpec)
		assert.Equal(t, rules.DeleteModeWithFilesPreserveCrossSeeds, deleteSpec.Mode)

		group, ok := deleteSpec.Condition.Root.(*rules.Group)
		require.True(t, ok)
		assert.Equal(t, rules.OperatorAnd, group.Combinator)
		require.Len(t, group.Children, 2)
	})

	t.Run("delete unregistered without mode defaults to removing files", func(t *testing.T) {
		t.Parallel()

		rule := &models.TrackerRule{
			Name:               "default cleanup",
			TrackerPattern:     "tracker.example.org",
			DeleteUnregistered: true,
		}

		envelopes := rule.ToEnvelopes()
		require.Len(t, envelopes, 1)
		deleteSpec := envelopes[0].Get(rules.ActionDelete)
		require.NotNil(t, deleteSpec)
		assert.Equal(t, rules.DeleteModeWithFiles, deleteSpec.Mode)
	})

	t.Run("empty rule yields nothing", func(t *testing.T) {
		t.Parallel()

		rule := &models.TrackerRule{Name: "noop", TrackerPattern: "tracker.example.org"}
		assert.Empty(t, rule.ToEnvelopes())
	})
}
