// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rules defines the rule condition tree, the action-conditions
// envelope, and the evaluator that matches conditions against torrent state.
package rules

// Field identifies a matchable torrent attribute.
type Field string

const (
	// String fields
	FieldName        Field = "NAME"
	FieldHash        Field = "HASH"
	FieldCategory    Field = "CATEGORY"
	FieldTags        Field = "TAGS"
	FieldSavePath    Field = "SAVE_PATH"
	FieldContentPath Field = "CONTENT_PATH"
	FieldState       Field = "STATE"
	FieldTracker     Field = "TRACKER"
	FieldComment     Field = "COMMENT"

	// Numeric fields (bytes)
	FieldSize       Field = "SIZE"
	FieldTotalSize  Field = "TOTAL_SIZE"
	FieldDownloaded Field = "DOWNLOADED"
	FieldUploaded   Field = "UPLOADED"
	FieldAmountLeft Field = "AMOUNT_LEFT"
	FieldFreeSpace  Field = "FREE_SPACE"

	// Numeric fields (timestamps/seconds)
	FieldAddedOn      Field = "ADDED_ON"
	FieldCompletionOn Field = "COMPLETION_ON"
	FieldLastActivity Field = "LAST_ACTIVITY"
	FieldSeedingTime  Field = "SEEDING_TIME"
	FieldTimeActive   Field = "TIME_ACTIVE"

	// Age fields (seconds since timestamp, computed as now - timestamp)
	FieldAddedOnAge      Field = "ADDED_ON_AGE"
	FieldCompletionOnAge Field = "COMPLETION_ON_AGE"
	FieldLastActivityAge Field = "LAST_ACTIVITY_AGE"

	// Numeric fields (float64)
	FieldRatio        Field = "RATIO"
	FieldProgress     Field = "PROGRESS"
	FieldAvailability Field = "AVAILABILITY"

	// Numeric fields (speeds)
	FieldDlSpeed Field = "DL_SPEED"
	FieldUpSpeed Field = "UP_SPEED"

	// Numeric fields (counts)
	FieldNumSeeds      Field = "NUM_SEEDS"
	FieldNumLeechs     Field = "NUM_LEECHS"
	FieldNumComplete   Field = "NUM_COMPLETE"
	FieldNumIncomplete Field = "NUM_INCOMPLETE"
	FieldTrackersCount Field = "TRACKERS_COUNT"

	// Grouping fields (resolved against the rule's grouping config)
	FieldGroupSize Field = "GROUP_SIZE"
	FieldIsGrouped Field = "IS_GROUPED"

	// Boolean fields
	FieldPrivate        Field = "PRIVATE"
	FieldIsUnregistered Field = "IS_UNREGISTERED"

	// Release metadata fields (parsed from the torrent name)
	FieldReleaseResolution Field = "RELEASE_RESOLUTION"
	FieldReleaseSource     Field = "RELEASE_SOURCE"
	FieldReleaseCodec      Field = "RELEASE_CODEC"
	FieldReleaseHDR        Field = "RELEASE_HDR"
	FieldReleaseAudio      Field = "RELEASE_AUDIO"
	FieldReleaseGroup      Field = "RELEASE_GROUP"
)

// Operator compares a field value against a condition value.
type Operator string

const (
	// Logical operators (group combinators)
	OperatorAnd Operator = "AND"
	OperatorOr  Operator = "OR"

	// Comparison operators
	OperatorEqual              Operator = "EQUAL"
	OperatorNotEqual           Operator = "NOT_EQUAL"
	OperatorContains           Operator = "CONTAINS"
	OperatorNotContains        Operator = "NOT_CONTAINS"
	OperatorStartsWith         Operator = "STARTS_WITH"
	OperatorEndsWith           Operator = "ENDS_WITH"
	OperatorGreaterThan        Operator = "GREATER_THAN"
	OperatorGreaterThanOrEqual Operator = "GREATER_THAN_OR_EQUAL"
	OperatorLessThan           Operator = "LESS_THAN"
	OperatorLessThanOrEqual    Operator = "LESS_THAN_OR_EQUAL"
	OperatorBetween            Operator = "BETWEEN"
	OperatorMatches            Operator = "MATCHES" // regex
	OperatorIn                 Operator = "IN"      // set membership, comma-separated values
	OperatorNotIn              Operator = "NOT_IN"
)

// FieldKind classifies a field by its value type, which constrains the set
// of legal operators.
type FieldKind int

const (
	KindUnknown FieldKind = iota
	KindString
	KindNumber
	KindBool
)

var fieldKinds = map[Field]FieldKind{
	FieldName:        KindString,
	FieldHash:        KindString,
	FieldCategory:    KindString,
	FieldTags:        KindString,
	FieldSavePath:    KindString,
	FieldContentPath: KindString,
	FieldState:       KindString,
	FieldTracker:     KindString,
	FieldComment:     KindString,

	FieldSize:       KindNumber,
	FieldTotalSize:  KindNumber,
	FieldDownloaded: KindNumber,
	FieldUploaded:   KindNumber,
	FieldAmountLeft: KindNumber,
	FieldFreeSpace:  KindNumber,

	FieldAddedOn:      KindNumber,
	FieldCompletionOn: KindNumber,
	FieldLastActivity: KindNumber,
	FieldSeedingTime:  KindNumber,
	FieldTimeActive:   KindNumber,

	FieldAddedOnAge:      KindNumber,
	FieldCompletionOnAge: KindNumber,
	FieldLastActivityAge: KindNumber,

	FieldRatio:        KindNumber,
	FieldProgress:     KindNumber,
	FieldAvailability: KindNumber,

	FieldDlSpeed: KindNumber,
	FieldUpSpeed: KindNumber,

	FieldNumSeeds:      KindNumber,
	FieldNumLeechs:     KindNumber,
	FieldNumComplete:   KindNumber,
	FieldNumIncomplete: KindNumber,
	FieldTrackersCount: KindNumber,

	FieldGroupSize: KindNumber,

	FieldPrivate:        KindBool,
	FieldIsUnregistered: KindBool,
	FieldIsGrouped:      KindBool,

	FieldReleaseResolution: KindString,
	FieldReleaseSource:     KindString,
	FieldReleaseCodec:      KindString,
	FieldReleaseHDR:        KindString,
	FieldReleaseAudio:      KindString,
	FieldReleaseGroup:      KindString,
}

// KindOf returns the value kind of a field, or KindUnknown for
// unrecognized fields.
func KindOf(field Field) FieldKind {
	return fieldKinds[field]
}

var operatorsByKind = map[FieldKind]map[Operator]struct{}{
	KindString: {
		OperatorEqual:       {},
		OperatorNotEqual:    {},
		OperatorContains:    {},
		OperatorNotContains: {},
		OperatorStartsWith:  {},
		OperatorEndsWith:    {},
		OperatorMatches:     {},
		OperatorIn:          {},
		OperatorNotIn:       {},
	},
	KindNumber: {
		OperatorEqual:              {},
		OperatorNotEqual:           {},
		OperatorGreaterThan:        {},
		OperatorGreaterThanOrEqual: {},
		OperatorLessThan:           {},
		OperatorLessThanOrEqual:    {},
		OperatorBetween:            {},
	},
	KindBool: {
		OperatorEqual:    {},
		OperatorNotEqual: {},
	},
}

// OperatorLegalForField reports whether op is a valid comparison for the
// given field's kind. Combinators are never legal on leaves.
func OperatorLegalForField(field Field, op Operator) bool {
	ops, ok := operatorsByKind[KindOf(field)]
	if !ok {
		return false
	}
	_, ok = ops[op]
	return ok
}
