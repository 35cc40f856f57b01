package eventmail

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Operator combines the equalities of an Expression.
type Operator string

const (
	// OpAnd suppresses when every equality holds.
	OpAnd Operator = "and"
	// OpOr suppresses when any equality holds.
	OpOr Operator = "or"
	// OpNot suppresses unless every equality holds.
	OpNot Operator = "not"
)

// Expression decides whether a matched event is withheld. In YAML it is a
// single operator key mapping dotted paths to literals:
//
//	expression:
//	  and:
//	    record.user.state: active
type Expression struct {
	Operator Operator
	Operands map[string]any
}

func (e *Expression) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]map[string]any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf("expression needs exactly one operator, got %d", len(raw))
	}
	for op, operands := range raw {
		e.Operator = Operator(strings.ToLower(op))
		e.Operands = operands
	}
	switch e.Operator {
	case OpAnd, OpOr, OpNot:
	default:
		return fmt.Errorf("unknown expression operator %q", e.Operator)
	}
	if len(e.Operands) == 0 {
		return fmt.Errorf("expression %q has no operands", e.Operator)
	}
	return nil
}

// Suppress evaluates the expression against event. A path that does not
// resolve never matches. A nil expression never suppresses.
func (e *Expression) Suppress(event map[string]any) bool {
	if e == nil || len(e.Operands) == 0 {
		return false
	}

	matched := 0
	for path, want := range e.Operands {
		got, ok := lookup(event, path)
		if ok && equalValues(got, want) {
			matched++
		}
	}
	all := matched == len(e.Operands)

	switch e.Operator {
	case OpAnd:
		return all
	case OpOr:
		return matched > 0
	case OpNot:
		return !all
	default:
		return false
	}
}

func lookup(root map[string]any, path string) (any, bool) {
	var cur any = root
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// equalValues compares a decoded JSON value with a YAML literal. Numbers
// compare by value since JSON yields float64 and YAML yields int.
func equalValues(got, want any) bool {
	if gf, ok := number(got); ok {
		wf, ok := number(want)
		return ok && gf == wf
	}
	switch w := want.(type) {
	case string:
		g, ok := got.(string)
		return ok && g == w
	case bool:
		g, ok := got.(bool)
		return ok && g == w
	case nil:
		return got == nil
	default:
		return false
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
