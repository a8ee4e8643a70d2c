// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SchemaVersion tags envelopes written by this version of the engine.
// Older versions are accepted on read.
const SchemaVersion = "2"

// ActionKind names one of the closed set of rule actions. The wire keys
// match the client envelope fields.
type ActionKind string

const (
	ActionSpeedLimits     ActionKind = "speedLimits"
	ActionShareLimits     ActionKind = "shareLimits"
	ActionPause           ActionKind = "pause"
	ActionResume          ActionKind = "resume"
	ActionRecheck         ActionKind = "recheck"
	ActionReannounce      ActionKind = "reannounce"
	ActionDelete          ActionKind = "delete"
	ActionTag             ActionKind = "tag"
	ActionCategory        ActionKind = "category"
	ActionMove            ActionKind = "move"
	ActionExternalProgram ActionKind = "externalProgram"
)

// actionKindOrder fixes iteration order for serialization and reporting.
var actionKindOrder = []ActionKind{
	ActionSpeedLimits,
	ActionShareLimits,
	ActionPause,
	ActionResume,
	ActionRecheck,
	ActionReannounce,
	ActionDelete,
	ActionTag,
	ActionCategory,
	ActionMove,
	ActionExternalProgram,
}

// Delete modes
const (
	DeleteModeKeepFiles                   = "delete"
	DeleteModeWithFiles                   = "deleteWithFiles"
	DeleteModeWithFilesPreserveCrossSeeds = "deleteWithFilesPreserveCrossSeeds"
	DeleteModeWithFilesIncludeCrossSeeds  = "deleteWithFilesIncludeCrossSeeds"
)

// Tag modes
const (
	TagModeFull   = "full"   // add to matches, remove from non-matches
	TagModeAdd    = "add"    // only add to matches
	TagModeRemove = "remove" // only remove from non-matches
)

// ActionSpec configures a single action within an envelope. Which parameter
// fields are meaningful depends on the action kind.
type ActionSpec struct {
	Enabled   bool  `json:"enabled"`
	Condition *Tree `json:"condition,omitempty"`

	// speedLimits
	UploadKiB   *int64 `json:"uploadKiB,omitempty"`
	DownloadKiB *int64 `json:"downloadKiB,omitempty"`

	// shareLimits
	RatioLimit         *float64 `json:"ratioLimit,omitempty"`
	SeedingTimeMinutes *int64   `json:"seedingTimeMinutes,omitempty"`

	// delete: mode + cross-seed handling; tag: mode full/add/remove
	Mode             string `json:"mode,omitempty"`
	IncludeHardlinks bool   `json:"includeHardlinks,omitempty"`
	GroupID          string `json:"groupId,omitempty"`
	Atomic           bool   `json:"atomic,omitempty"`

	// tag: Tags is the current multi-tag list, Tag mirrors Tags[0] for
	// readers of the legacy single-tag shape
	Tags []string `json:"tags,omitempty"`
	Tag  string   `json:"tag,omitempty"`

	// category / move
	Category string `json:"category,omitempty"`
	Path     string `json:"path,omitempty"`

	// externalProgram
	ProgramID int `json:"programId,omitempty"`
}

// Envelope maps action kinds to their specs. Absent kinds are disabled;
// a spec present with Enabled=false is preserved on read but never written
// by the builder path.
type Envelope struct {
	SchemaVersion string
	Actions       map[ActionKind]*ActionSpec
}

// NewEnvelope returns an empty envelope at the current schema version.
func NewEnvelope() *Envelope {
	return &Envelope{
		SchemaVersion: SchemaVersion,
		Actions:       make(map[ActionKind]*ActionSpec),
	}
}

// Set stores a spec for the given kind, replacing any existing one.
func (e *Envelope) Set(kind ActionKind, spec *ActionSpec) {
	if e.Actions == nil {
		e.Actions = make(map[ActionKind]*ActionSpec)
	}
	e.Actions[kind] = spec
}

// Get returns the spec for the given kind, or nil when absent.
func (e *Envelope) Get(kind ActionKind) *ActionSpec {
	if e == nil || e.Actions == nil {
		return nil
	}
	return e.Actions[kind]
}

// IsEmpty reports whether the envelope configures no actions at all.
func (e *Envelope) IsEmpty() bool {
	return e == nil || len(e.Actions) == 0
}

// EnabledKinds returns the enabled action kinds in canonical order.
func (e *Envelope) EnabledKinds() []ActionKind {
	if e == nil {
		return nil
	}
	var kinds []ActionKind
	for _, kind := range actionKindOrder {
		if spec := e.Actions[kind]; spec != nil && spec.Enabled {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// HasEnabled reports whether the given kind is present and enabled.
func (e *Envelope) HasEnabled(kind ActionKind) bool {
	spec := e.Get(kind)
	return spec != nil && spec.Enabled
}

// ConditionTrees returns the condition roots of all enabled actions,
// skipping nil trees.
func (e *Envelope) ConditionTrees() []Node {
	if e == nil {
		return nil
	}
	var trees []Node
	for _, kind := range actionKindOrder {
		spec := e.Actions[kind]
		if spec == nil || !spec.Enabled || spec.Condition.IsEmpty() {
			continue
		}
		trees = append(trees, spec.Condition.Root)
	}
	return trees
}

// UsesField reports whether any enabled action's condition references the
// given field anywhere in its tree.
func (e *Envelope) UsesField(field Field) bool {
	for _, root := range e.ConditionTrees() {
		if UsesField(root, field) {
			return true
		}
	}
	return false
}

var (
	ErrNoActions               = errors.New("at least one action must be configured")
	ErrDeleteNotAlone          = errors.New("delete cannot be combined with other actions")
	ErrDeleteRequiresCondition = errors.New("delete requires an explicit condition")
)

// Validate checks envelope-level invariants: at least one enabled action,
// delete standing alone, delete carrying a condition, kind-specific required
// parameters, and every condition tree validating cleanly. All problems are
// reported.
func (e *Envelope) Validate() []error {
	var errs []error

	enabled := e.EnabledKinds()
	if len(enabled) == 0 {
		return []error{ErrNoActions}
	}

	if e.HasEnabled(ActionDelete) {
		if len(enabled) > 1 {
			errs = append(errs, ErrDeleteNotAlone)
		}
		if e.Get(ActionDelete).Condition.IsEmpty() {
			errs = append(errs, ErrDeleteRequiresCondition)
		}
	}

	for _, kind := range enabled {
		spec := e.Actions[kind]
		if err := validateSpec(kind, spec); err != nil {
			errs = append(errs, err)
		}
		if !spec.Condition.IsEmpty() {
			for _, verr := range Validate(spec.Condition.Root) {
				errs = append(errs, fmt.Errorf("%s condition: %w", kind, verr))
			}
		}
	}

	return errs
}

func validateSpec(kind ActionKind, spec *ActionSpec) error {
	switch kind {
	case ActionSpeedLimits:
		if spec.UploadKiB == nil && spec.DownloadKiB == nil {
			return fmt.Errorf("speedLimits requires an upload or download value")
		}
		if spec.UploadKiB != nil && *spec.UploadKiB < 0 {
			return fmt.Errorf("speedLimits upload must be >= 0 KiB/s")
		}
		if spec.DownloadKiB != nil && *spec.DownloadKiB < 0 {
			return fmt.Errorf("speedLimits download must be >= 0 KiB/s")
		}
	case ActionShareLimits:
		if spec.RatioLimit == nil && spec.SeedingTimeMinutes == nil {
			return fmt.Errorf("shareLimits requires a ratio or seeding time value")
		}
	case ActionDelete:
		switch spec.Mode {
		case DeleteModeKeepFiles, DeleteModeWithFiles,
			DeleteModeWithFilesPreserveCrossSeeds, DeleteModeWithFilesIncludeCrossSeeds:
		default:
			return fmt.Errorf("invalid delete mode %q", spec.Mode)
		}
		if spec.IncludeHardlinks && spec.Mode != DeleteModeWithFilesIncludeCrossSeeds {
			return fmt.Errorf("includeHardlinks is only valid with mode %s", DeleteModeWithFilesIncludeCrossSeeds)
		}
	case ActionTag:
		switch spec.Mode {
		case "", TagModeFull, TagModeAdd, TagModeRemove:
		default:
			return fmt.Errorf("invalid tag mode %q", spec.Mode)
		}
		if len(spec.Tags) == 0 && spec.Tag == "" {
			return fmt.Errorf("tag action requires at least one tag")
		}
	case ActionCategory:
		if spec.Category == "" {
			return fmt.Errorf("category action requires a category name")
		}
	case ActionMove:
		if spec.Path == "" {
			return fmt.Errorf("move action requires a target path")
		}
	case ActionExternalProgram:
		if spec.ProgramID <= 0 {
			return fmt.Errorf("externalProgram action requires a valid programId")
		}
	}
	return nil
}

// envelopeWire is the named-key JSON shape shared with the client.
type envelopeWire struct {
	SchemaVersion   string          `json:"schemaVersion"`
	SpeedLimits     json.RawMessage `json:"speedLimits,omitempty"`
	ShareLimits     json.RawMessage `json:"shareLimits,omitempty"`
	Pause           json.RawMessage `json:"pause,omitempty"`
	Resume          json.RawMessage `json:"resume,omitempty"`
	Recheck         json.RawMessage `json:"recheck,omitempty"`
	Reannounce      json.RawMessage `json:"reannounce,omitempty"`
	Delete          json.RawMessage `json:"delete,omitempty"`
	Tag             json.RawMessage `json:"tag,omitempty"`
	Category        json.RawMessage `json:"category,omitempty"`
	Move            json.RawMessage `json:"move,omitempty"`
	ExternalProgram json.RawMessage `json:"externalProgram,omitempty"`
}

func (w *envelopeWire) slot(kind ActionKind) *json.RawMessage {
	switch kind {
	case ActionSpeedLimits:
		return &w.SpeedLimits
	case ActionShareLimits:
		return &w.ShareLimits
	case ActionPause:
		return &w.Pause
	case ActionResume:
		return &w.Resume
	case ActionRecheck:
		return &w.Recheck
	case ActionReannounce:
		return &w.Reannounce
	case ActionDelete:
		return &w.Delete
	case ActionTag:
		return &w.Tag
	case ActionCategory:
		return &w.Category
	case ActionMove:
		return &w.Move
	case ActionExternalProgram:
		return &w.ExternalProgram
	}
	return nil
}

func (e *Envelope) MarshalJSON() ([]byte, error) {
	wire := envelopeWire{SchemaVersion: e.SchemaVersion}
	if wire.SchemaVersion == "" {
		wire.SchemaVersion = SchemaVersion
	}

	for _, kind := range actionKindOrder {
		spec := e.Actions[kind]
		if spec == nil {
			continue
		}
		data, err := json.Marshal(spec)
		if err != nil {
			return nil, fmt.Errorf("marshal %s action: %w", kind, err)
		}
		*wire.slot(kind) = data
	}

	return json.Marshal(&wire)
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var wire envelopeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	e.SchemaVersion = wire.SchemaVersion
	e.Actions = make(map[ActionKind]*ActionSpec)
	for _, kind := range actionKindOrder {
		raw := *wire.slot(kind)
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		var spec ActionSpec
		if err := json.Unmarshal(raw, &spec); err != nil {
			return fmt.Errorf("unmarshal %s action: %w", kind, err)
		}
		// Legacy single-tag shape mirrors the first element of the
		// multi-tag list, in both directions.
		if kind == ActionTag {
			hydrateTagSpec(&spec)
		}
		e.Actions[kind] = &spec
	}

	return nil
}

func hydrateTagSpec(spec *ActionSpec) {
	if len(spec.Tags) == 0 && spec.Tag != "" {
		spec.Tags = []string{spec.Tag}
	}
	if spec.Tag == "" && len(spec.Tags) > 0 {
		spec.Tag = spec.Tags[0]
	}
}
