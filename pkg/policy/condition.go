package policy

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/azmove/azmove/pkg/propbag"
)

// Operator names supported by the rule evaluator. Any other operator on a
// field leaf makes the leaf undecidable.
const (
	OpEquals          = "equals"
	OpNotEquals       = "notEquals"
	OpLike            = "like"
	OpNotLike         = "notLike"
	OpIn              = "in"
	OpNotIn           = "notIn"
	OpContains        = "contains"
	OpNotContains     = "notContains"
	OpGreater         = "greater"
	OpLess            = "less"
	OpGreaterOrEquals = "greaterOrEquals"
	OpLessOrEquals    = "lessOrEquals"
	OpExists          = "exists"
)

var fieldOperators = []string{
	OpEquals, OpNotEquals, OpLike, OpNotLike, OpIn, OpNotIn,
	OpContains, OpNotContains, OpGreater, OpLess,
	OpGreaterOrEquals, OpLessOrEquals, OpExists,
}

// ConditionNode is one node of a policy rule's boolean condition tree:
// exactly one of allOf, anyOf, not, or a field comparison leaf.
type ConditionNode struct {
	AllOf []ConditionNode
	AnyOf []ConditionNode
	Not   *ConditionNode

	// Field leaf. Operator holds the comparison name as it appeared in the
	// rule; Operand holds the raw comparison value, which may itself be a
	// parameter reference.
	Field    string
	Operator string
	Operand  any

	// Unsupported marks shapes the evaluator cannot decide (count
	// expressions, value-function leaves, unknown operators).
	Unsupported bool
}

// UnmarshalJSON decodes the Azure policy rule condition shape. Keys are
// matched case-insensitively since exported rules vary in casing.
func (n *ConditionNode) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	lookup := func(name string) (json.RawMessage, bool) {
		if raw, ok := fields[name]; ok {
			return raw, true
		}
		for k, raw := range fields {
			if strings.EqualFold(k, name) {
				return raw, true
			}
		}
		return nil, false
	}

	if raw, ok := lookup("allOf"); ok {
		return json.Unmarshal(raw, &n.AllOf)
	}
	if raw, ok := lookup("anyOf"); ok {
		return json.Unmarshal(raw, &n.AnyOf)
	}
	if raw, ok := lookup("not"); ok {
		n.Not = &ConditionNode{}
		return json.Unmarshal(raw, n.Not)
	}

	// count and value() leaves are not evaluable against a static
	// property bag; mark and fail closed at evaluation time.
	if _, ok := lookup("count"); ok {
		n.Unsupported = true
		return nil
	}

	if raw, ok := lookup("field"); ok {
		if err := json.Unmarshal(raw, &n.Field); err != nil {
			return err
		}
		for _, op := range fieldOperators {
			if opRaw, ok := lookup(op); ok {
				n.Operator = op
				var operand any
				if err := json.Unmarshal(opRaw, &operand); err != nil {
					return err
				}
				n.Operand = operand
				return nil
			}
		}
		// Field present but no recognized operator.
		n.Unsupported = true
		return nil
	}

	n.Unsupported = true
	return nil
}

// Outcome is the three-valued result of evaluating a condition node.
// Indeterminate collapses to NotMatched in the boolean view but is kept
// distinct so callers can report unevaluable rules instead of silently
// under-reporting.
type Outcome int

const (
	OutcomeNotMatched Outcome = iota
	OutcomeMatched
	OutcomeIndeterminate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMatched:
		return "matched"
	case OutcomeIndeterminate:
		return "indeterminate"
	default:
		return "not-matched"
	}
}

// matched reports the boolean collapse: indeterminate fails closed.
func (o Outcome) matched() bool { return o == OutcomeMatched }

// FieldResolver maps a policy alias to the live value on the resource
// under evaluation. ok is false when the alias does not resolve.
type FieldResolver interface {
	ResolveField(alias string) (propbag.Value, bool)
}

// Evaluate reports whether the resource matches the condition. A matching
// resource is one the policy's then-effect would apply to. Undecidable
// conditions evaluate false (fail closed).
func Evaluate(node *ConditionNode, fields FieldResolver, params *ParamContext) bool {
	return EvaluateDetailed(node, fields, params).matched()
}

// EvaluateDetailed evaluates the condition tree with a three-valued
// outcome, surfacing indeterminate branches for observability.
func EvaluateDetailed(node *ConditionNode, fields FieldResolver, params *ParamContext) Outcome {
	if node == nil {
		return OutcomeNotMatched
	}

	switch {
	case node.Unsupported:
		return OutcomeIndeterminate

	case node.AllOf != nil:
		// Empty allOf is vacuously true.
		sawIndeterminate := false
		for i := range node.AllOf {
			out := EvaluateDetailed(&node.AllOf[i], fields, params)
			if out == OutcomeNotMatched {
				return OutcomeNotMatched
			}
			if out == OutcomeIndeterminate {
				sawIndeterminate = true
			}
		}
		if sawIndeterminate {
			return OutcomeIndeterminate
		}
		return OutcomeMatched

	case node.AnyOf != nil:
		// Empty anyOf is vacuously false.
		sawIndeterminate := false
		for i := range node.AnyOf {
			out := EvaluateDetailed(&node.AnyOf[i], fields, params)
			if out == OutcomeMatched {
				return OutcomeMatched
			}
			if out == OutcomeIndeterminate {
				sawIndeterminate = true
			}
		}
		if sawIndeterminate {
			return OutcomeIndeterminate
		}
		return OutcomeNotMatched

	case node.Not != nil:
		switch EvaluateDetailed(node.Not, fields, params) {
		case OutcomeMatched:
			return OutcomeNotMatched
		case OutcomeNotMatched:
			return OutcomeMatched
		default:
			return OutcomeIndeterminate
		}

	case node.Field != "":
		return evaluateLeaf(node, fields, params)

	default:
		return OutcomeIndeterminate
	}
}

// evaluateLeaf applies a single field comparison.
func evaluateLeaf(node *ConditionNode, fields FieldResolver, params *ParamContext) Outcome {
	value, present := fields.ResolveField(node.Field)

	// Operand may be a parameter reference; resolve before comparing.
	operand := node.Operand
	if params != nil {
		resolved, _, ok := params.Resolve(operand)
		if !ok {
			return OutcomeIndeterminate
		}
		operand = resolved
	}

	if node.Operator == OpExists {
		exists := present && !value.IsNull()
		return outcomeOf(exists == toBool(operand))
	}

	if !present {
		// Missing field: notEquals/notLike/notIn/notContains conventionally
		// hold for an absent value, everything else cannot match.
		switch node.Operator {
		case OpNotEquals, OpNotLike, OpNotIn, OpNotContains:
			return OutcomeMatched
		case OpEquals, OpLike, OpIn, OpContains,
			OpGreater, OpLess, OpGreaterOrEquals, OpLessOrEquals:
			return OutcomeNotMatched
		default:
			return OutcomeIndeterminate
		}
	}

	live := value.Interface()

	switch node.Operator {
	case OpEquals:
		return outcomeOf(looseEquals(live, operand))
	case OpNotEquals:
		return outcomeOf(!looseEquals(live, operand))
	case OpLike:
		return outcomeOf(wildcardMatch(toString(operand), toString(live)))
	case OpNotLike:
		return outcomeOf(!wildcardMatch(toString(operand), toString(live)))
	case OpIn:
		return outcomeOf(memberOf(live, operand))
	case OpNotIn:
		return outcomeOf(!memberOf(live, operand))
	case OpContains:
		return outcomeOf(containsValue(live, operand))
	case OpNotContains:
		return outcomeOf(!containsValue(live, operand))
	case OpGreater:
		cmp, ok := compareTyped(live, operand)
		if !ok {
			return OutcomeIndeterminate
		}
		return outcomeOf(cmp > 0)
	case OpLess:
		cmp, ok := compareTyped(live, operand)
		if !ok {
			return OutcomeIndeterminate
		}
		return outcomeOf(cmp < 0)
	case OpGreaterOrEquals:
		cmp, ok := compareTyped(live, operand)
		if !ok {
			return OutcomeIndeterminate
		}
		return outcomeOf(cmp >= 0)
	case OpLessOrEquals:
		cmp, ok := compareTyped(live, operand)
		if !ok {
			return OutcomeIndeterminate
		}
		return outcomeOf(cmp <= 0)
	default:
		return OutcomeIndeterminate
	}
}

func outcomeOf(b bool) Outcome {
	if b {
		return OutcomeMatched
	}
	return OutcomeNotMatched
}

// looseEquals compares values the way the platform does: strings
// case-insensitively, numbers by value, everything else structurally.
func looseEquals(a, b any) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.EqualFold(as, bs)
	}
	af, aok := toNumber(a)
	bf, bok := toNumber(b)
	if aok && bok {
		return af == bf
	}
	ab, aok := a.(bool)
	bb, bok := b.(bool)
	if aok && bok {
		return ab == bb
	}
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) == string(bj)
}

// wildcardMatch matches s against a pattern where '*' spans any run of
// characters. Matching is case-insensitive.
func wildcardMatch(pattern, s string) bool {
	pattern = strings.ToLower(pattern)
	s = strings.ToLower(s)

	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return s == pattern
	}

	if parts[0] != "" {
		if !strings.HasPrefix(s, parts[0]) {
			return false
		}
		s = s[len(parts[0]):]
	}

	last := parts[len(parts)-1]
	if last != "" {
		if !strings.HasSuffix(s, last) {
			return false
		}
		s = s[:len(s)-len(last)]
	}

	for _, mid := range parts[1 : len(parts)-1] {
		if mid == "" {
			continue
		}
		idx := strings.Index(s, mid)
		if idx < 0 {
			return false
		}
		s = s[idx+len(mid):]
	}
	return true
}

// memberOf tests membership of the live value in a list operand.
func memberOf(live, operand any) bool {
	list, ok := operand.([]any)
	if !ok {
		return false
	}
	for _, item := range list {
		if looseEquals(live, item) {
			return true
		}
	}
	return false
}

// containsValue checks the live value for containing the operand: substring
// containment for strings (wildcarded), membership for arrays.
func containsValue(live, operand any) bool {
	if arr, ok := live.([]any); ok {
		for _, item := range arr {
			if looseEquals(item, operand) {
				return true
			}
		}
		return false
	}
	return wildcardMatch("*"+toString(operand)+"*", toString(live))
}

// compareTyped compares by numeric value when both sides are numeric,
// otherwise lexically. ok is false when either side has no ordering.
func compareTyped(a, b any) (int, bool) {
	af, aok := toNumber(a)
	bf, bok := toNumber(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(strings.ToLower(as), strings.ToLower(bs)), true
	}
	return 0, false
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		raw, _ := json.Marshal(t)
		return string(raw)
	}
}

func toBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	default:
		return false
	}
}
