// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// maxConditionDepth bounds recursion when walking untrusted trees.
const maxConditionDepth = 20

// Node is a node in a rule condition tree: either a *Leaf comparing a single
// torrent field, or a *Group combining child nodes with AND/OR. The split
// into two types makes the leaf/group exclusivity invariant structural
// instead of runtime-checked.
type Node interface {
	isNode()
}

// Leaf compares one torrent field against a literal value.
type Leaf struct {
	Field    Field    `json:"field"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value,omitempty"`
	MinValue *float64 `json:"minValue,omitempty"`
	MaxValue *float64 `json:"maxValue,omitempty"`
	Regex    bool     `json:"regex,omitempty"`
	Negate   bool     `json:"negate,omitempty"`
	// GroupID scopes GROUP_SIZE/IS_GROUPED leaves to a named group
	// definition. Empty means the rule's default group.
	GroupID string `json:"groupId,omitempty"`

	compiled *regexp.Regexp
}

func (*Leaf) isNode() {}

// Group combines child conditions with a boolean combinator. Child order is
// significant and preserved across serialization.
type Group struct {
	Combinator Operator `json:"operator"`
	Negate     bool     `json:"negate,omitempty"`
	Children   []Node   `json:"conditions"`
}

func (*Group) isNode() {}

// Compile compiles the leaf's regex pattern if the leaf is regex-typed.
// Safe to call multiple times; patterns match case-insensitively.
func (l *Leaf) Compile() error {
	if l.compiled != nil {
		return nil
	}
	if !l.Regex && l.Operator != OperatorMatches {
		return nil
	}
	var err error
	l.compiled, err = regexp.Compile("(?i)" + l.Value)
	return err
}

func (g *Group) UnmarshalJSON(data []byte) error {
	var raw struct {
		Operator   Operator          `json:"operator"`
		Negate     bool              `json:"negate"`
		Conditions []json.RawMessage `json:"conditions"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	g.Combinator = raw.Operator
	g.Negate = raw.Negate
	g.Children = make([]Node, 0, len(raw.Conditions))
	for _, rc := range raw.Conditions {
		child, err := decodeNode(rc)
		if err != nil {
			return err
		}
		g.Children = append(g.Children, child)
	}
	return nil
}

// decodeNode resolves the leaf/group variant from the wire shape: a node
// with a non-empty "conditions" list and an AND/OR operator is a group,
// anything with a "field" is a leaf.
func decodeNode(data []byte) (Node, error) {
	var probe struct {
		Field      Field             `json:"field"`
		Operator   Operator          `json:"operator"`
		Conditions []json.RawMessage `json:"conditions"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}

	isCombinator := probe.Operator == OperatorAnd || probe.Operator == OperatorOr
	switch {
	case len(probe.Conditions) > 0 && isCombinator:
		if probe.Field != "" {
			return nil, fmt.Errorf("condition node has both field %q and child conditions", probe.Field)
		}
		var g Group
		if err := json.Unmarshal(data, &g); err != nil {
			return nil, err
		}
		return &g, nil
	case probe.Field != "":
		var l Leaf
		if err := json.Unmarshal(data, &l); err != nil {
			return nil, err
		}
		return &l, nil
	case isCombinator:
		return nil, fmt.Errorf("%s group has no child conditions", probe.Operator)
	default:
		return nil, fmt.Errorf("condition node has neither field nor child conditions")
	}
}

// Tree wraps a condition node so it can live inside JSON documents. A nil
// root serializes as null and means "match everything"; delete actions
// reject it separately.
type Tree struct {
	Root Node
}

func (t Tree) MarshalJSON() ([]byte, error) {
	if t.Root == nil {
		return []byte("null"), nil
	}
	return json.Marshal(t.Root)
}

func (t *Tree) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		t.Root = nil
		return nil
	}
	node, err := decodeNode(data)
	if err != nil {
		return err
	}
	t.Root = node
	return nil
}

// IsEmpty reports whether the tree has no condition ("match everything").
func (t *Tree) IsEmpty() bool {
	return t == nil || t.Root == nil
}

// UsesField reports whether any node in the tree references the given field,
// including leaves nested inside groups. Used to drive capability checks and
// context setup (e.g. only resolve free space when FREE_SPACE appears).
func UsesField(node Node, field Field) bool {
	switch n := node.(type) {
	case *Leaf:
		return n != nil && n.Field == field
	case *Group:
		if n == nil {
			return false
		}
		for _, child := range n.Children {
			if UsesField(child, field) {
				return true
			}
		}
	}
	return false
}

// UsesAnyField reports whether the tree references at least one of the
// given fields.
func UsesAnyField(node Node, fields ...Field) bool {
	for _, f := range fields {
		if UsesField(node, f) {
			return true
		}
	}
	return false
}

// CollectGroupIDs appends the distinct group IDs referenced by
// GROUP_SIZE/IS_GROUPED leaves. Leaves without an explicit groupId set
// hasDefault instead.
func CollectGroupIDs(node Node, ids []string, hasDefault *bool) []string {
	switch n := node.(type) {
	case *Leaf:
		if n == nil || (n.Field != FieldGroupSize && n.Field != FieldIsGrouped) {
			return ids
		}
		id := strings.TrimSpace(n.GroupID)
		if id == "" {
			if hasDefault != nil {
				*hasDefault = true
			}
			return ids
		}
		for _, existing := range ids {
			if strings.EqualFold(existing, id) {
				return ids
			}
		}
		return append(ids, id)
	case *Group:
		if n == nil {
			return ids
		}
		for _, child := range n.Children {
			ids = CollectGroupIDs(child, ids, hasDefault)
		}
	}
	return ids
}

// ValidationError describes a single invalid node in a condition tree.
type ValidationError struct {
	Path    string `json:"path"` // e.g. "conditions[1].conditions[0]"
	Field   Field  `json:"field,omitempty"`
	Pattern string `json:"pattern,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validate walks the tree and reports every violation without
// short-circuiting: unknown fields, operators illegal for the field's type,
// regex values that do not compile, empty groups, and excessive nesting.
// A nil node is valid.
func Validate(node Node) []*ValidationError {
	var errs []*ValidationError
	validateNode(node, "", 0, &errs)
	return errs
}

func validateNode(node Node, path string, depth int, errs *[]*ValidationError) {
	if node == nil {
		return
	}
	if depth > maxConditionDepth {
		*errs = append(*errs, &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("condition nesting exceeds maximum depth of %d", maxConditionDepth),
		})
		return
	}

	switch n := node.(type) {
	case *Leaf:
		validateLeaf(n, path, errs)
	case *Group:
		if n.Combinator != OperatorAnd && n.Combinator != OperatorOr {
			*errs = append(*errs, &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("invalid group combinator %q", n.Combinator),
			})
		}
		if len(n.Children) == 0 {
			*errs = append(*errs, &ValidationError{
				Path:    path,
				Message: "group must contain at least one condition",
			})
		}
		for i, child := range n.Children {
			validateNode(child, childPath(path, i), depth+1, errs)
		}
	}
}

func validateLeaf(l *Leaf, path string, errs *[]*ValidationError) {
	if KindOf(l.Field) == KindUnknown {
		*errs = append(*errs, &ValidationError{
			Path:    path,
			Field:   l.Field,
			Message: fmt.Sprintf("unknown field %q", l.Field),
		})
		return
	}

	if !OperatorLegalForField(l.Field, l.Operator) {
		*errs = append(*errs, &ValidationError{
			Path:    path,
			Field:   l.Field,
			Message: fmt.Sprintf("operator %q is not valid for field %s", l.Operator, l.Field),
		})
	}

	if l.Regex || l.Operator == OperatorMatches {
		if _, err := regexp.Compile("(?i)" + l.Value); err != nil {
			*errs = append(*errs, &ValidationError{
				Path:    path,
				Field:   l.Field,
				Pattern: l.Value,
				Message: fmt.Sprintf("invalid regex pattern: %v", err),
			})
		}
	}

	if l.Operator == OperatorBetween && (l.MinValue == nil || l.MaxValue == nil) {
		*errs = append(*errs, &ValidationError{
			Path:    path,
			Field:   l.Field,
			Message: "BETWEEN requires both minValue and maxValue",
		})
	}
}

func childPath(parent string, idx int) string {
	if parent == "" {
		return fmt.Sprintf("conditions[%d]", idx)
	}
	return fmt.Sprintf("%s.conditions[%d]", parent, idx)
}
