// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package plannerl2 implements the differential patch proposal engine
// (spec §4.L): given a failed step and the DOM schema captured at the
// point of failure, it proposes a small, single-parameter repair —
// replace_text, fallback_search, or wait_tuning — scores its
// confidence, and decides whether the configured adoption policy lets
// it apply automatically.
package plannerl2

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Axion-inc/DesktopAgent/internal/common/config"
	"github.com/Axion-inc/DesktopAgent/internal/common/logger"
	"github.com/Axion-inc/DesktopAgent/internal/dslmodel"
	"github.com/Axion-inc/DesktopAgent/internal/errtaxonomy"
	"github.com/Axion-inc/DesktopAgent/internal/webengine"
)

// PatchKind is one of the three differential repair strategies this
// engine proposes.
type PatchKind string

const (
	PatchReplaceText    PatchKind = "replace_text"
	PatchFallbackSearch PatchKind = "fallback_search"
	PatchWaitTuning     PatchKind = "wait_tuning"
)

// Patch is an in-memory, single-parameter repair proposed against one
// failed step. It never changes a step's action, never adds a step,
// and never widens a domain or capability allowlist — only ever
// rewrites one existing parameter's value — which is what keeps
// adoption from ever growing the plan's risk tier.
type Patch struct {
	Kind       PatchKind
	StepIndex  int
	ParamKey   string
	OldValue   string
	NewValue   string
	Confidence float64
	Reason     string
}

// synonymTable is the bounded, read-only text-synonym table the
// proposer consults for replace_text, loaded once at process startup
// the same way internal/executor's label synonym table is. It is
// distinct from that table: this one matches free-form button/link
// text captured from a DOM schema, not a form field label.
var synonymTable = map[string][]string{
	"submit": {"send", "ok", "confirm", "go"},
	"送信":     {"確定", "送る", "登録"},
	"cancel": {"close", "back", "dismiss"},
	"login":  {"sign in", "log in"},
	"signup": {"sign up", "register", "create account"},
}

func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r == ' ' || r == '\t' || r == '\n' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Engine proposes patches and tracks per-run auto-adoption counts
// against the configured adopt_policy.
type Engine struct {
	mu               sync.Mutex
	adopt            config.AdoptPolicyConfig
	autoAdoptedByRun map[int64]int
	Log              logger.Logger
}

func New(adopt config.AdoptPolicyConfig) *Engine {
	return &Engine{adopt: adopt, autoAdoptedByRun: make(map[int64]int), Log: logger.NewLogger("plannerl2")}
}

// Propose tries replace_text, then fallback_search, then wait_tuning,
// and returns the first one that applies.
func (e *Engine) Propose(stepIndex int, step *dslmodel.Step, code errtaxonomy.Code, nodes []webengine.SchemaNode) (*Patch, bool) {
	if p, ok := e.ProposeReplaceText(stepIndex, step, nodes); ok {
		return p, true
	}
	if p, ok := e.ProposeFallbackSearch(stepIndex, step, nodes); ok {
		return p, true
	}
	if p, ok := e.ProposeWaitTuning(stepIndex, step, code); ok {
		return p, true
	}
	return nil, false
}

// ProposeReplaceText looks for a visible DOM node whose text is a
// known synonym of the step's expected text and proposes swapping the
// step's "text" param to that node's actual text (spec §8 S6: a
// click_by_text(text="送信") failure resolved by a DOM button labeled
// "確定").
func (e *Engine) ProposeReplaceText(stepIndex int, step *dslmodel.Step, nodes []webengine.SchemaNode) (*Patch, bool) {
	wantRaw, _ := step.Params["text"].(string)
	if wantRaw == "" {
		return nil, false
	}
	want := normalize(wantRaw)
	syns := synonymTable[want]
	if len(syns) == 0 {
		return nil, false
	}
	for _, n := range nodes {
		if !n.Visible {
			continue
		}
		cand := normalize(n.Text)
		for _, s := range syns {
			if normalize(s) == cand {
				return &Patch{
					Kind: PatchReplaceText, StepIndex: stepIndex, ParamKey: "text",
					OldValue: wantRaw, NewValue: n.Text, Confidence: 0.9,
					Reason: fmt.Sprintf("DOM node %q matches known synonym of %q", n.Text, wantRaw),
				}, true
			}
		}
	}
	return nil, false
}

// ProposeFallbackSearch widens an exact text match to a substring
// match when no synonym matched but a visible node's text overlaps the
// wanted text — a weaker signal than a synonym hit, so a lower
// confidence.
func (e *Engine) ProposeFallbackSearch(stepIndex int, step *dslmodel.Step, nodes []webengine.SchemaNode) (*Patch, bool) {
	wantRaw, _ := step.Params["text"].(string)
	if wantRaw == "" {
		return nil, false
	}
	want := normalize(wantRaw)
	for _, n := range nodes {
		if !n.Visible || n.Text == "" {
			continue
		}
		cand := normalize(n.Text)
		if cand == want {
			continue
		}
		if strings.Contains(cand, want) || strings.Contains(want, cand) {
			return &Patch{
				Kind: PatchFallbackSearch, StepIndex: stepIndex, ParamKey: "text",
				OldValue: wantRaw, NewValue: n.Text, Confidence: 0.6,
				Reason: fmt.Sprintf("DOM node %q is a substring match of %q", n.Text, wantRaw),
			}, true
		}
	}
	return nil, false
}

// ProposeWaitTuning doubles a step's timeout_ms (capped at 30s) when
// the failure is timing-related rather than an element/text mismatch.
func (e *Engine) ProposeWaitTuning(stepIndex int, step *dslmodel.Step, code errtaxonomy.Code) (*Patch, bool) {
	if code != errtaxonomy.CodeVerifierTimeout && code != errtaxonomy.CodeTimeout {
		return nil, false
	}
	current := 2000
	if v, ok := toInt(step.Params["timeout_ms"]); ok {
		current = v
	}
	next := current * 2
	if next > 30000 {
		next = 30000
	}
	return &Patch{
		Kind: PatchWaitTuning, StepIndex: stepIndex, ParamKey: "timeout_ms",
		OldValue: fmt.Sprintf("%d", current), NewValue: fmt.Sprintf("%d", next),
		Confidence: 0.7, Reason: "verifier timed out; widening timeout_ms",
	}, true
}

func toInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	}
	return 0, false
}

// Decide reports whether patch may be auto-adopted under the
// configured adopt_policy: low_risk_auto must be enabled, the patch's
// confidence must meet min_confidence, and the run's auto-adopted
// count must still be under max_auto_changes.
func (e *Engine) Decide(runID int64, patch *Patch) bool {
	if !e.adopt.LowRiskAuto || patch.Confidence < e.adopt.MinConfidence {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.autoAdoptedByRun[runID] >= e.adopt.MaxAutoChanges {
		return false
	}
	e.autoAdoptedByRun[runID]++
	return true
}

// Apply returns a copy of step with patch's value substituted in,
// leaving the original Step (and the Run's persisted plan reference)
// untouched.
func Apply(step *dslmodel.Step, patch *Patch) *dslmodel.Step {
	patched := *step
	params := make(map[string]interface{}, len(step.Params))
	for k, v := range step.Params {
		params[k] = v
	}
	params[patch.ParamKey] = patch.NewValue
	patched.Params = params
	return &patched
}

// AuditPersister is the narrow slice of *store.Store this engine needs
// to record a patch decision.
type AuditPersister interface {
	AppendAudit(ctx context.Context, runID *int64, event, detail string, at time.Time) error
}

// Record appends the adoption decision to the audit trail (spec §4.L:
// "patch recorded in audit").
func (e *Engine) Record(ctx context.Context, persister AuditPersister, runID int64, patch *Patch, adopted bool) {
	detail := fmt.Sprintf("patch %s step %d %s: %q -> %q (confidence %.2f, adopted=%v)",
		patch.Kind, patch.StepIndex, patch.ParamKey, patch.OldValue, patch.NewValue, patch.Confidence, adopted)
	if err := persister.AppendAudit(ctx, &runID, "plannerl2_patch", detail, time.Now()); err != nil {
		e.Log.Warnf("audit write failed for run %d patch: %v", runID, err)
	}
}
