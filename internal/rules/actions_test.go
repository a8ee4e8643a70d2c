// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ratioCondition(threshold string) *Tree {
	return &Tree{Root: &Leaf{Field: FieldRatio, Operator: OperatorGreaterThanOrEqual, Value: threshold}}
}

func TestEnvelopeMarshalOmitsAbsentActions(t *testing.T) {
	t.Parallel()

	upload := int64(1024)
	env := NewEnvelope()
	env.Set(ActionSpeedLimits, &ActionSpec{Enabled: true, UploadKiB: &upload})

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "schemaVersion")
	assert.Contains(t, raw, "speedLimits")
	assert.NotContains(t, raw, "delete")
	assert.NotContains(t, raw, "pause")
	assert.NotContains(t, raw, "tag")
}

func TestEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	ratio := 2.5
	env := NewEnvelope()
	env.Set(ActionShareLimits, &ActionSpec{
		Enabled:    true,
		RatioLimit: &ratio,
		Condition:  ratioCondition("1.0"),
	})
	env.Set(ActionTag, &ActionSpec{Enabled: true, Tags: []string{"keep", "archive"}})

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, SchemaVersion, decoded.SchemaVersion)
	require.NotNil(t, decoded.Get(ActionShareLimits))
	require.NotNil(t, decoded.Get(ActionShareLimits).RatioLimit)
	assert.InDelta(t, 2.5, *decoded.Get(ActionShareLimits).RatioLimit, 0.001)
	assert.False(t, decoded.Get(ActionShareLimits).Condition.IsEmpty())

	tagSpec := decoded.Get(ActionTag)
	require.NotNil(t, tagSpec)
	assert.Equal(t, []string{"keep", "archive"}, tagSpec.Tags)
	assert.Equal(t, "keep", tagSpec.Tag)
}

func TestEnvelopeLegacySingleTagHydration(t *testing.T) {
	t.Parallel()

	payload := `{"schemaVersion":"1","tag":{"enabled":true,"tag":"old-style"}}`

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(payload), &env))

	spec := env.Get(ActionTag)
	require.NotNil(t, spec)
	assert.Equal(t, []string{"old-style"}, spec.Tags)
	assert.Equal(t, "old-style", spec.Tag)
}

func TestEnvelopeEnabledKindsOrder(t *testing.T) {
	t.Parallel()

	env := NewEnvelope()
	env.Set(ActionMove, &ActionSpec{Enabled: true, Path: "/data"})
	env.Set(ActionPause, &ActionSpec{Enabled: true})
	env.Set(ActionTag, &ActionSpec{Enabled: false, Tags: []string{"x"}})

	assert.Equal(t, []ActionKind{ActionPause, ActionMove}, env.EnabledKinds())
}

func TestEnvelopeValidateRequiresAction(t *testing.T) {
	t.Parallel()

	env := NewEnvelope()
	errs := env.Validate()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrNoActions)
}

func TestEnvelopeValidateDeleteExclusivity(t *testing.T) {
	t.Parallel()

	env := NewEnvelope()
	env.Set(ActionDelete, &ActionSpec{
		Enabled:   true,
		Mode:      DeleteModeWithFiles,
		Condition: ratioCondition("3.0"),
	})
	env.Set(ActionPause, &ActionSpec{Enabled: true})

	errs := env.Validate()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrDeleteNotAlone)
}

func TestEnvelopeValidateDeleteRequiresCondition(t *testing.T) {
	t.Parallel()

	env := NewEnvelope()
	env.Set(ActionDelete, &ActionSpec{Enabled: true, Mode: DeleteModeKeepFiles})

	errs := env.Validate()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrDeleteRequiresCondition)
}

func TestEnvelopeValidateDeleteAloneWithCondition(t *testing.T) {
	t.Parallel()

	env := NewEnvelope()
	env.Set(ActionDelete, &ActionSpec{
		Enabled:   true,
		Mode:      DeleteModeWithFilesPreserveCrossSeeds,
		Condition: ratioCondition("3.0"),
	})

	assert.Empty(t, env.Validate())
}

func TestEnvelopeValidateKindParameters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		kind    ActionKind
		spec    *ActionSpec
		wantErr string
	}{
		{
			name:    "speed limits without values",
			kind:    ActionSpeedLimits,
			spec:    &ActionSpec{Enabled: true},
			wantErr: "upload or download",
		},
		{
			name:    "share limits without values",
			kind:    ActionShareLimits,
			spec:    &ActionSpec{Enabled: true},
			wantErr: "ratio or seeding time",
		},
		{
			name:    "tag without tags",
			kind:    ActionTag,
			spec:    &ActionSpec{Enabled: true, Mode: TagModeAdd},
			wantErr: "at least one tag",
		},
		{
			name:    "tag with invalid mode",
			kind:    ActionTag,
			spec:    &ActionSpec{Enabled: true, Mode: "sideways", Tags: []string{"x"}},
			wantErr: "invalid tag mode",
		},
		{
			name:    "category without name",
			kind:    ActionCategory,
			spec:    &ActionSpec{Enabled: true},
			wantErr: "category name",
		},
		{
			name:    "move without path",
			kind:    ActionMove,
			spec:    &ActionSpec{Enabled: true},
			wantErr: "target path",
		},
		{
			name:    "external program without id",
			kind:    ActionExternalProgram,
			spec:    &ActionSpec{Enabled: true},
			wantErr: "programId",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := NewEnvelope()
			env.Set(tt.kind, tt.spec)

			errs := env.Validate()
			require.NotEmpty(t, errs)
			assert.Contains(t, errs[0].Error(), tt.wantErr)
		})
	}
}

func TestEnvelopeValidateInvalidCondition(t *testing.T) {
	t.Parallel()

	env := NewEnvelope()
	env.Set(ActionPause, &ActionSpec{
		Enabled:   true,
		Condition: &Tree{Root: &Leaf{Field: "NOPE", Operator: OperatorEqual, Value: "x"}},
	})

	errs := env.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "unknown field")
}

func TestEnvelopeUsesField(t *testing.T) {
	t.Parallel()

	env := NewEnvelope()
	env.Set(ActionDelete, &ActionSpec{
		Enabled: true,
		Mode:    DeleteModeKeepFiles,
		Condition: &Tree{Root: &Group{Combinator: OperatorAnd, Children: []Node{
			&Leaf{Field: FieldFreeSpace, Operator: OperatorLessThan, Value: "100000"},
		}}},
	})
	env.Set(ActionResume, &ActionSpec{Enabled: false, Condition: ratioCondition("1")})

	assert.True(t, env.UsesField(FieldFreeSpace))
	// Disabled actions do not contribute their conditions.
	assert.False(t, env.UsesField(FieldRatio))
}
