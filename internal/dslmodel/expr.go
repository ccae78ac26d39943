// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package dslmodel

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// SecretResolver is the minimal contract dslmodel needs from the secrets
// package (internal/secrets), kept narrow here to avoid an import cycle:
// dslmodel is low-level and must not depend on the resolver's backends.
type SecretResolver interface {
	Resolve(ref string) (string, error)
}

// EvalContext is everything the three expression forms may read (spec
// §4.A): declared variables, prior steps' outputs, and the secrets
// resolver. Within one string, secret references are resolved after every
// other reference in that string; the separate values of a map or list
// are each substituted on their own. Secrets are never cached back into
// Variables, so a later {{var}} reference can never accidentally surface
// a secret value.
type EvalContext struct {
	Variables   map[string]interface{}
	StepOutputs []map[string]interface{} // indexed by step position
	Secrets     SecretResolver
}

var exprPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// ErrUndefinedVariable is wrapped into richer errors by callers that know
// the step index; dslmodel itself stays step-agnostic.
type ErrUndefinedVariable struct{ Ref string }

func (e *ErrUndefinedVariable) Error() string { return fmt.Sprintf("undefined reference: %s", e.Ref) }

// Substitute resolves every {{...}} occurrence in value. Strings are
// scanned for the pattern; maps and slices are walked recursively so an
// entire params tree can be substituted in one call. When a string
// consists of exactly one expression with no surrounding text, the
// resolved Go value is returned as-is (preserving ints, bools, lists)
// instead of being stringified — this lets `roots: "{{search_roots}}"`
// bind back to a real []interface{}.
func Substitute(value interface{}, ctx EvalContext) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return substituteString(v, ctx)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			resolved, err := Substitute(item, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			resolved, err := Substitute(item, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

func substituteString(s string, ctx EvalContext) (interface{}, error) {
	matches := exprPattern.FindAllStringSubmatchIndex(s, -1)
	if matches == nil {
		return s, nil
	}
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		expr := s[matches[0][2]:matches[0][3]]
		return resolveExpr(expr, ctx)
	}

	// Non-secret references resolve in the first pass, secrets in the second.
	vals := make([]interface{}, len(matches))
	for _, secretPass := range []bool{false, true} {
		for i, m := range matches {
			expr := s[m[2]:m[3]]
			if secretPattern.MatchString(strings.TrimSpace(expr)) != secretPass {
				continue
			}
			val, err := resolveExpr(expr, ctx)
			if err != nil {
				return nil, err
			}
			vals[i] = val
		}
	}

	var b strings.Builder
	last := 0
	for i, m := range matches {
		b.WriteString(s[last:m[0]])
		b.WriteString(fmt.Sprintf("%v", vals[i]))
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

var (
	stepRefPattern = regexp.MustCompile(`^steps\[(\d+)\]\.(.+)$`)
	secretPattern  = regexp.MustCompile(`^secrets://(.+)$`)
)

func resolveExpr(expr string, ctx EvalContext) (interface{}, error) {
	expr = strings.TrimSpace(expr)

	if m := secretPattern.FindStringSubmatch(expr); m != nil {
		if ctx.Secrets == nil {
			return nil, fmt.Errorf("secret reference %q but no secrets resolver configured", expr)
		}
		return ctx.Secrets.Resolve(m[1])
	}

	if m := stepRefPattern.FindStringSubmatch(expr); m != nil {
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 0 || idx >= len(ctx.StepOutputs) {
			return nil, &ErrUndefinedVariable{Ref: expr}
		}
		field := m[2]
		out := ctx.StepOutputs[idx]
		if out == nil {
			return nil, &ErrUndefinedVariable{Ref: expr}
		}
		val, ok := lookupField(out, field)
		if !ok {
			return nil, &ErrUndefinedVariable{Ref: expr}
		}
		return val, nil
	}

	if val, ok := ctx.Variables[expr]; ok {
		return val, nil
	}
	return nil, &ErrUndefinedVariable{Ref: expr}
}

// lookupField resolves dotted access (e.g. "result.path") into a step's
// output map, descending one nested map per dot-separated segment.
func lookupField(out map[string]interface{}, field string) (interface{}, bool) {
	parts := strings.SplitN(field, ".", 2)
	v, ok := out[parts[0]]
	if !ok {
		return nil, false
	}
	if len(parts) == 1 {
		return v, true
	}
	nested, ok := v.(map[string]interface{})
	if !ok {
		return nil, false
	}
	return lookupField(nested, parts[1])
}

// References returns every raw {{...}} expression found in value, without
// resolving them. The validator uses this to check for forward/undefined
// references before any step executes (spec §4.B).
func References(value interface{}) []string {
	var out []string
	collectRefs(value, &out)
	return out
}

func collectRefs(value interface{}, out *[]string) {
	switch v := value.(type) {
	case string:
		for _, m := range exprPattern.FindAllStringSubmatch(v, -1) {
			*out = append(*out, strings.TrimSpace(m[1]))
		}
	case map[string]interface{}:
		for _, item := range v {
			collectRefs(item, out)
		}
	case []interface{}:
		for _, item := range v {
			collectRefs(item, out)
		}
	}
}
