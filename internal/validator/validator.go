// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package validator performs pure, side-effect-free checks on a parsed
// plan: schema/version compatibility, unknown actions, forward references,
// and undefined variable references (spec §4.B). It never executes a step
// or contacts an external system.
package validator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/Axion-inc/DesktopAgent/internal/dslmodel"
	"github.com/Axion-inc/DesktopAgent/internal/errtaxonomy"
)

// Issue is one validation finding. A plan with any Issue is rejected.
type Issue struct {
	StepIndex  int    // -1 for plan-level issues
	Message    string
	LinePointer string // human-readable "step N: <action>" style pointer
}

// Result is the outcome of validating a plan.
type Result struct {
	Issues []Issue
}

func (r *Result) Valid() bool { return len(r.Issues) == 0 }

func (r *Result) add(stepIndex int, pointer, format string, args ...interface{}) {
	r.Issues = append(r.Issues, Issue{
		StepIndex:   stepIndex,
		Message:      fmt.Sprintf(format, args...),
		LinePointer: pointer,
	})
}

// supportedConstraint accepts any 1.1.x plan; the DSL's major.minor is
// pinned by spec, patch versions are forward-compatible.
var supportedConstraint = mustConstraint("~1.1")

func mustConstraint(c string) *semver.Constraints {
	con, err := semver.NewConstraint(c)
	if err != nil {
		panic(err) // programmer error: literal constraint string is malformed
	}
	return con
}

// Validate runs every static check against plan and returns a Result
// (never an error — a validation failure is data, not a Go error). Validate
// itself is pure: it performs no I/O and calls no adapter.
func Validate(plan *dslmodel.Plan) *Result {
	res := &Result{}

	validateVersion(plan, res)
	if plan.Name == "" {
		res.add(-1, "plan", "plan.name is required")
	}
	if len(plan.Steps) == 0 {
		res.add(-1, "plan", "plan must declare at least one step")
	}

	for i, step := range plan.Steps {
		pointer := fmt.Sprintf("step %d: %s", i, step.Action)
		if !dslmodel.ClosedActions[step.Action] {
			res.add(i, pointer, "unknown action %q is not in the supported action set", step.Action)
		}
		if step.RequiredRole != "" && step.Action != "human_confirm" {
			res.add(i, pointer, "required_role is only meaningful on human_confirm steps")
		}
		validateStepReferences(i, step, res)
	}

	return res
}

func validateVersion(plan *dslmodel.Plan, res *Result) {
	if plan.DSLVersion == "" {
		res.add(-1, "plan", "dsl_version is required")
		return
	}
	v, err := semver.NewVersion(plan.DSLVersion)
	if err != nil {
		res.add(-1, "plan", "dsl_version %q is not a valid semantic version", plan.DSLVersion)
		return
	}
	if !supportedConstraint.Check(v) {
		res.add(-1, "plan", "dsl_version %q is not supported (requires ~1.1)", plan.DSLVersion)
	}
}

// validateStepReferences rejects any {{steps[j]...}} reference with j >= i
// (forward or self reference), across both `when` and every param value.
// References to undeclared variables are checked by ValidateVariables.
func validateStepReferences(i int, step *dslmodel.Step, res *Result) {
	pointer := fmt.Sprintf("step %d: %s", i, step.Action)

	refs := dslmodel.References(step.Params)
	if step.When != "" {
		refs = append(refs, dslmodel.References(step.When)...)
	}

	for _, ref := range refs {
		if strings.HasPrefix(ref, "secrets://") {
			continue // resolved at runtime by F; no static reference to check
		}
		if j, ok := stepIndexOf(ref); ok && j >= i {
			res.add(i, pointer, "reference %q points to step %d, which has not yet run at step %d", ref, j, i)
		}
	}
}

// stepIndexOf extracts j from a "steps[j].field" reference.
func stepIndexOf(ref string) (int, bool) {
	if !strings.HasPrefix(ref, "steps[") {
		return 0, false
	}
	end := strings.Index(ref, "]")
	if end < 0 {
		return 0, false
	}
	j, err := strconv.Atoi(ref[len("steps["):end])
	if err != nil {
		return 0, false
	}
	return j, true
}

// ValidateVariables additionally checks that every bare {{var}} reference
// across the plan resolves to a declared variable. Split out from Validate
// because it requires the plan's declared variable set, which callers with
// a partially-constructed plan (e.g. the signer, which only needs
// structural validity) may not want enforced.
func ValidateVariables(plan *dslmodel.Plan) *Result {
	res := &Result{}
	declared := make(map[string]bool, len(plan.Variables))
	for k := range plan.Variables {
		declared[k] = true
	}

	for i, step := range plan.Steps {
		pointer := fmt.Sprintf("step %d: %s", i, step.Action)
		refs := dslmodel.References(step.Params)
		if step.When != "" {
			refs = append(refs, dslmodel.References(step.When)...)
		}
		for _, ref := range refs {
			if strings.HasPrefix(ref, "secrets://") {
				continue
			}
			if _, ok := stepIndexOf(ref); ok {
				continue
			}
			if !declared[ref] {
				res.add(i, pointer, "reference to undeclared variable %q", ref)
			}
		}
	}
	return res
}

// AsTaxonomyError converts the first issue in a failed Result into the
// structured error callers (CLI, HTTP) surface.
func (r *Result) AsTaxonomyError() *errtaxonomy.Error {
	if r.Valid() {
		return nil
	}
	first := r.Issues[0]
	hints := make([]string, 0, len(r.Issues)-1)
	for _, iss := range r.Issues[1:] {
		hints = append(hints, iss.LinePointer+": "+iss.Message)
	}
	return errtaxonomy.New(errtaxonomy.CodeValidationFailed, first.StepIndex, first.Message, hints...)
}
