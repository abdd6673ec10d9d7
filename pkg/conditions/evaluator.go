// Package conditions evaluates nested boolean condition trees against event
// contexts. Evaluation is pure: no I/O, no side effects, and malformed input
// degrades to "not satisfied" instead of panicking.
package conditions

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/journeyhq/journey/pkg/models"
)

// Evaluate reports whether the event context satisfies the condition group.
// A nil group or an empty child list is vacuously true, so automations
// without configured conditions fire on every trigger.
func Evaluate(group *models.ConditionGroup, evctx models.EventContext) bool {
	if group == nil || len(group.Children) == 0 {
		return true
	}

	switch group.Logic {
	case models.LogicOr:
		for _, child := range group.Children {
			if evaluateNode(child, evctx) {
				return true
			}
		}

		return false
	case models.LogicAnd:
		fallthrough
	default:
		// Unknown logic falls back to AND, the stricter combination.
		for _, child := range group.Children {
			if !evaluateNode(child, evctx) {
				return false
			}
		}

		return true
	}
}

func evaluateNode(node models.ConditionNode, evctx models.EventContext) bool {
	switch {
	case node.Group != nil:
		return Evaluate(node.Group, evctx)
	case node.Leaf != nil:
		return evaluateLeaf(node.Leaf, evctx)
	default:
		return false
	}
}

func evaluateLeaf(cond *models.Condition, evctx models.EventContext) bool {
	fields, ok := evctx.Resource(cond.Resource)
	if !ok {
		return false
	}

	actual := fields[cond.Field]

	switch cond.Operator {
	case models.OpEquals:
		return coerceString(actual) == coerceString(cond.Value)
	case models.OpNotEquals:
		return coerceString(actual) != coerceString(cond.Value)
	case models.OpContains:
		return strings.Contains(coerceString(actual), coerceString(cond.Value))
	case models.OpNotContains:
		return !strings.Contains(coerceString(actual), coerceString(cond.Value))
	case models.OpStartsWith:
		return strings.HasPrefix(coerceString(actual), coerceString(cond.Value))
	case models.OpEndsWith:
		return strings.HasSuffix(coerceString(actual), coerceString(cond.Value))
	case models.OpGt, models.OpLt, models.OpGte, models.OpLte:
		return compareNumbers(cond.Operator, actual, cond.Value)
	case models.OpIsEmpty:
		return isEmpty(actual)
	case models.OpIsNotEmpty:
		return !isEmpty(actual)
	case models.OpIsTrue:
		b, ok := actual.(bool)

		return ok && b
	case models.OpIsFalse:
		b, ok := actual.(bool)

		return ok && !b
	default:
		return false
	}
}

func compareNumbers(operator models.ConditionOperator, actual, expected any) bool {
	left, ok := coerceNumber(actual)
	if !ok {
		return false
	}

	right, ok := coerceNumber(expected)
	if !ok {
		return false
	}

	switch operator {
	case models.OpGt:
		return left > right
	case models.OpLt:
		return left < right
	case models.OpGte:
		return left >= right
	case models.OpLte:
		return left <= right
	default:
		return false
	}
}

// isEmpty treats nil and the empty string as empty; everything else,
// including zero numbers and false, is a present value.
func isEmpty(value any) bool {
	if value == nil {
		return true
	}

	s, ok := value.(string)

	return ok && s == ""
}

func coerceString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func coerceNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}

		return n, true
	default:
		return 0, false
	}
}
