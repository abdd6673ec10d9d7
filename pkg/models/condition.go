package models

import (
	"encoding/json"
	"fmt"
)

// GroupLogic combines the results of a condition group's children.
type GroupLogic string

const (
	LogicAnd GroupLogic = "AND"
	LogicOr  GroupLogic = "OR"
)

// ConditionOperator compares an event field against a configured value.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "equals"
	OpNotEquals   ConditionOperator = "not_equals"
	OpContains    ConditionOperator = "contains"
	OpNotContains ConditionOperator = "not_contains"
	OpGt          ConditionOperator = "gt"
	OpLt          ConditionOperator = "lt"
	OpGte         ConditionOperator = "gte"
	OpLte         ConditionOperator = "lte"
	OpIsEmpty     ConditionOperator = "is_empty"
	OpIsNotEmpty  ConditionOperator = "is_not_empty"
	OpIsTrue      ConditionOperator = "is_true"
	OpIsFalse     ConditionOperator = "is_false"
	OpStartsWith  ConditionOperator = "starts_with"
	OpEndsWith    ConditionOperator = "ends_with"
)

// Condition is a leaf comparison against one field of one event resource.
type Condition struct {
	Resource string            `json:"resource" validate:"required"`
	Field    string            `json:"field"    validate:"required"`
	Operator ConditionOperator `json:"operator" validate:"required"`
	Value    any               `json:"value,omitempty"`
}

// ConditionGroup is a boolean combination of leaf conditions and nested
// groups. An empty child list matches everything, so automations without
// configured conditions still fire on every trigger.
type ConditionGroup struct {
	Logic    GroupLogic      `json:"logic"    validate:"required,oneof=AND OR"`
	Children []ConditionNode `json:"children"`
}

// ConditionNode is either a nested group or a leaf condition. Exactly one of
// the two fields is set.
type ConditionNode struct {
	Group *ConditionGroup
	Leaf  *Condition
}

func GroupNode(logic GroupLogic, children ...ConditionNode) ConditionNode {
	return ConditionNode{Group: &ConditionGroup{Logic: logic, Children: children}}
}

func LeafNode(resource, field string, operator ConditionOperator, value any) ConditionNode {
	return ConditionNode{Leaf: &Condition{Resource: resource, Field: field, Operator: operator, Value: value}}
}

// MarshalJSON flattens the node into the underlying group or leaf object.
func (n ConditionNode) MarshalJSON() ([]byte, error) {
	switch {
	case n.Group != nil:
		return json.Marshal(n.Group)
	case n.Leaf != nil:
		return json.Marshal(n.Leaf)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decides between group and leaf by the presence of the "logic"
// key, which only groups carry.
func (n *ConditionNode) UnmarshalJSON(data []byte) error {
	var probe struct {
		Logic GroupLogic `json:"logic"`
	}

	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("failed to probe condition node: %w", err)
	}

	if probe.Logic != "" {
		var group ConditionGroup

		if err := json.Unmarshal(data, &group); err != nil {
			return fmt.Errorf("failed to unmarshal condition group: %w", err)
		}

		n.Group = &group

		return nil
	}

	var leaf Condition

	if err := json.Unmarshal(data, &leaf); err != nil {
		return fmt.Errorf("failed to unmarshal condition leaf: %w", err)
	}

	n.Leaf = &leaf

	return nil
}
