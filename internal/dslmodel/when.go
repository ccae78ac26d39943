// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package dslmodel

import (
	"fmt"
	"strconv"
	"strings"
)

// WhenExpr is a compiled `when:` condition. The grammar is deliberately a
// single comparison, not a general boolean expression language:
//
//	term [ (== | != | > | >= | < | <=) term ]
//
// where a term is an integer literal, a quoted string literal, or a
// reference ({{var}}, {{steps[i].field}}, {{secrets://...}}). A bare term
// with no operator is truthy-tested. This is hand-rolled rather than built
// on github.com/expr-lang/expr or github.com/Knetic/govaluate because both
// of those compile a full expression language (function calls, arithmetic,
// user-defined builtins); this grammar must provably be unable to run
// arbitrary code, which means *not* reaching for a general evaluator.
type WhenExpr struct {
	raw   string
	left  term
	op    string // "", "==", "!=", ">", ">=", "<", "<="
	right term
}

type termKind int

const (
	termRef termKind = iota
	termIntLit
	termStrLit
	termBoolLit
)

type term struct {
	kind termKind
	ref  string
	i    int64
	s    string
	b    bool
}

var comparisonOps = []string{"==", "!=", ">=", "<=", ">", "<"}

// CompileWhen parses a `when:` source string into a WhenExpr. An empty
// string compiles to an always-true expression (step has no condition).
func CompileWhen(src string) (*WhenExpr, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return &WhenExpr{raw: src, left: term{kind: termBoolLit, b: true}}, nil
	}

	for _, op := range comparisonOps {
		if idx := splitOnOp(src, op); idx >= 0 {
			leftSrc := strings.TrimSpace(src[:idx])
			rightSrc := strings.TrimSpace(src[idx+len(op):])
			l, err := parseTerm(leftSrc)
			if err != nil {
				return nil, fmt.Errorf("when: left operand: %w", err)
			}
			r, err := parseTerm(rightSrc)
			if err != nil {
				return nil, fmt.Errorf("when: right operand: %w", err)
			}
			return &WhenExpr{raw: src, left: l, op: op, right: r}, nil
		}
	}

	t, err := parseTerm(src)
	if err != nil {
		return nil, fmt.Errorf("when: %w", err)
	}
	return &WhenExpr{raw: src, left: t}, nil
}

// splitOnOp finds the first top-level occurrence of op outside of a quoted
// string literal and returns its index, or -1.
func splitOnOp(src, op string) int {
	inQuote := false
	for i := 0; i+len(op) <= len(src); i++ {
		c := src[i]
		if c == '"' {
			inQuote = !inQuote
			continue
		}
		if inQuote {
			continue
		}
		if src[i:i+len(op)] == op {
			return i
		}
	}
	return -1
}

func parseTerm(s string) (term, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return term{}, fmt.Errorf("empty term")
	}
	if strings.HasPrefix(s, "{{") && strings.HasSuffix(s, "}}") {
		return term{kind: termRef, ref: s}, nil
	}
	if strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) && len(s) >= 2 {
		return term{kind: termStrLit, s: s[1 : len(s)-1]}, nil
	}
	if s == "true" || s == "false" {
		return term{kind: termBoolLit, b: s == "true"}, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return term{kind: termIntLit, i: n}, nil
	}
	return term{}, fmt.Errorf("unrecognized term %q (expected {{ref}}, \"string\", integer, or bool)", s)
}

func (t term) eval(ctx EvalContext) (interface{}, error) {
	switch t.kind {
	case termRef:
		return resolveExpr(strings.TrimSuffix(strings.TrimPrefix(t.ref, "{{"), "}}"), ctx)
	case termIntLit:
		return t.i, nil
	case termStrLit:
		return t.s, nil
	case termBoolLit:
		return t.b, nil
	}
	return nil, fmt.Errorf("unreachable term kind")
}

// Eval evaluates the condition against ctx. Eval is total: every
// syntactically valid WhenExpr produces either a bool result or an error —
// there is no notion of a partial or side-effecting evaluation.
func (w *WhenExpr) Eval(ctx EvalContext) (bool, error) {
	lv, err := w.left.eval(ctx)
	if err != nil {
		return false, err
	}
	if w.op == "" {
		return truthy(lv), nil
	}
	rv, err := w.right.eval(ctx)
	if err != nil {
		return false, err
	}
	return compare(lv, w.op, rv)
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case int64:
		return t != 0
	case int:
		return t != 0
	case float64:
		return t != 0
	case nil:
		return false
	default:
		return true
	}
}

func compare(lv interface{}, op string, rv interface{}) (bool, error) {
	if lf, rf, ok := asNumbers(lv, rv); ok {
		switch op {
		case "==":
			return lf == rf, nil
		case "!=":
			return lf != rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		}
	}

	ls, rs := fmt.Sprintf("%v", lv), fmt.Sprintf("%v", rv)
	switch op {
	case "==":
		return ls == rs, nil
	case "!=":
		return ls != rs, nil
	case ">":
		return ls > rs, nil
	case ">=":
		return ls >= rs, nil
	case "<":
		return ls < rs, nil
	case "<=":
		return ls <= rs, nil
	}
	return false, fmt.Errorf("unsupported operator %q", op)
}

func asNumbers(lv, rv interface{}) (float64, float64, bool) {
	lf, ok1 := toFloat(lv)
	rf, ok2 := toFloat(rv)
	return lf, rf, ok1 && ok2
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

// String returns the original source text, used in diagnostics.
func (w *WhenExpr) String() string { return w.raw }
