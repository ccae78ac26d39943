// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package l4monitor implements the autopilot deviation monitor (spec
// §4.K): a weighted, threshold-based safe-fail supervisor that watches
// step results as the Executor commits them and pauses a Run before it
// drifts further than an operator's policy allows. The Monitor never
// mutates step outputs — it only observes and triggers state
// transitions.
package l4monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/expr-lang/expr"

	"github.com/Axion-inc/DesktopAgent/internal/common/config"
	"github.com/Axion-inc/DesktopAgent/internal/common/logger"
	"github.com/Axion-inc/DesktopAgent/internal/dslmodel"
	"github.com/Axion-inc/DesktopAgent/internal/errtaxonomy"
	"github.com/Axion-inc/DesktopAgent/internal/store"
)

// Persister is the narrow slice of *store.Store the Monitor needs,
// kept separate from the concrete type the same way executor.RunPersister
// decouples the Executor from it.
type Persister interface {
	SaveDeviation(ctx context.Context, d *store.DeviationRecord) error
	UpdateRunState(ctx context.Context, runID int64, state store.RunState, at time.Time) error
	SaveApproval(ctx context.Context, a *store.ApprovalRecord) error
	AppendAudit(ctx context.Context, runID *int64, event, detail string, at time.Time) error
}

// Notifier delivers the out-of-band "a run just paused itself" signal
// (spec §4.K: "emits a notification event"). Channel wiring (email,
// webhook, Slack) is an operator-configured concern outside this
// package's scope; NoopNotifier is used wherever none is configured.
type Notifier interface {
	NotifyDeviationStop(ctx context.Context, runID int64, stepIndex int, totalScore float64) error
}

// NoopNotifier discards every notification.
type NoopNotifier struct{}

func (NoopNotifier) NotifyDeviationStop(ctx context.Context, runID int64, stepIndex int, totalScore float64) error {
	return nil
}

// Monitor accumulates a rolling per-run deviation score and trips a
// safe-fail pause once the cumulative score crosses the threshold or a
// single high-severity deviation fires.
type Monitor struct {
	mu        sync.Mutex
	scores    map[int64]float64
	autopilot bool
	threshold float64
	weights   map[string]float64
	scoreExpr string

	Store  Persister
	Notify Notifier
	Log    logger.Logger
}

// New builds a Monitor from the policy configuration. It only validates
// a non-empty deviation_scoring_expr by compiling it once against a
// representative env; actual evaluation recompiles per observation the
// same way the pack's own expr-based rule engine does, since the
// expression is operator config rather than a hot path (spec §4.K).
func New(cfg config.PolicyConfig, persister Persister, notify Notifier) (*Monitor, error) {
	if notify == nil {
		notify = NoopNotifier{}
	}
	m := &Monitor{
		scores:    make(map[int64]float64),
		autopilot: cfg.Autopilot,
		threshold: cfg.DeviationThreshold,
		weights:   cfg.PenaltyWeights,
		scoreExpr: cfg.DeviationScoringExpr,
		Store:     persister,
		Notify:    notify,
		Log:       logger.NewLogger("l4monitor"),
	}
	if m.threshold <= 0 {
		m.threshold = 3
	}
	if m.scoreExpr != "" {
		if _, err := expr.Compile(m.scoreExpr, expr.Env(scoringEnv("", m.weights))); err != nil {
			return nil, fmt.Errorf("compile deviation_scoring_expr: %w", err)
		}
	}
	return m, nil
}

func scoringEnv(kind string, weights map[string]float64) map[string]interface{} {
	return map[string]interface{}{"kind": kind, "weights": weights}
}

// Observe classifies result into a deviation (if any), scores it,
// persists it, and reports whether the Run must now pause. Active only
// when policy.autopilot is true, per §4.K ("Active when policy.autopilot=
// true AND policy gate passes" — the gate-passed half of that condition
// is the caller's responsibility: the Monitor is only wired in by the
// queue worker once the policy gate has already let the run through).
func (m *Monitor) Observe(ctx context.Context, runID int64, stepIndex int, timeoutMs int, result *dslmodel.StepResult) (bool, error) {
	if !m.autopilot {
		return false, nil
	}

	kind, severity, ok := classify(result, timeoutMs)
	if !ok {
		return false, nil
	}
	score := m.scoreFor(kind)

	m.mu.Lock()
	m.scores[runID] += score
	total := m.scores[runID]
	m.mu.Unlock()

	dev := &store.DeviationRecord{
		RunID: runID, StepIndex: stepIndex, Kind: kind, Severity: severity,
		Score: score, Reason: result.ErrorMessage, CreatedAt: time.Now(),
	}
	if err := m.Store.SaveDeviation(ctx, dev); err != nil {
		return false, fmt.Errorf("persist deviation: %w", err)
	}

	trip := severity == "high" || total >= m.threshold
	if !trip {
		return false, nil
	}

	return true, m.safeFail(ctx, runID, stepIndex, kind, total)
}

// safeFail implements "pauses the Run, writes a checkpoint, creates a
// HITL handoff record, and emits a notification event" (§4.K). The
// handoff record reuses the approvals table with an empty required_role
// (any operator may resume it), the same persistence shape the
// Executor's human_confirm gate uses.
func (m *Monitor) safeFail(ctx context.Context, runID int64, stepIndex int, kind string, total float64) error {
	if err := m.Store.UpdateRunState(ctx, runID, store.RunPaused, time.Now()); err != nil {
		return fmt.Errorf("pause run %d: %w", runID, err)
	}

	detail := fmt.Sprintf("deviation stop at step %d: %s pushed score to %.1f", stepIndex, kind, total)
	if err := m.Store.AppendAudit(ctx, &runID, "l4_deviation_stop", detail, time.Now()); err != nil {
		m.Log.Warnf("checkpoint write failed for run %d: %v", runID, err)
	}

	handoff := &store.ApprovalRecord{RunID: runID, StepIndex: stepIndex, RequiredRole: ""}
	if err := m.Store.SaveApproval(ctx, handoff); err != nil {
		m.Log.Warnf("handoff record write failed for run %d: %v", runID, err)
	}

	m.mu.Lock()
	delete(m.scores, runID)
	m.mu.Unlock()

	if err := m.Notify.NotifyDeviationStop(ctx, runID, stepIndex, total); err != nil {
		m.Log.Warnf("deviation notification failed for run %d: %v", runID, err)
	}
	return nil
}

// scoreFor returns the weight for kind, letting an operator-supplied
// deviation_scoring_expr override the static penalty table.
func (m *Monitor) scoreFor(kind string) float64 {
	if m.scoreExpr == "" {
		return m.weights[kind]
	}
	env := scoringEnv(kind, m.weights)
	program, err := expr.Compile(m.scoreExpr, expr.Env(env))
	if err != nil {
		m.Log.Warnf("deviation_scoring_expr compile failed, falling back to table: %v", err)
		return m.weights[kind]
	}
	out, err := expr.Run(program, env)
	if err != nil {
		m.Log.Warnf("deviation_scoring_expr eval failed, falling back to table: %v", err)
		return m.weights[kind]
	}
	if f, ok := toFloat(out); ok {
		return f
	}
	return m.weights[kind]
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

// classify maps a failed/degraded step result onto one of the six
// deviation kinds (spec §3 Deviation). severityFor a kind is derived
// from its default weight: >=3 is high (trips the Monitor immediately
// regardless of cumulative score), 2 is medium, 1 is low.
func classify(result *dslmodel.StepResult, timeoutMs int) (kind, severity string, ok bool) {
	switch result.ErrorCode {
	case string(errtaxonomy.CodeVerifierFail), string(errtaxonomy.CodeVerifierTimeout):
		return "VERIFIER_FAIL", "medium", true
	case string(errtaxonomy.CodeWebElementMissing):
		return "UNEXPECTED_ELEMENT", "medium", true
	case string(errtaxonomy.CodeDownloadTimeout), string(errtaxonomy.CodeDownloadIncomplete):
		return "DOWNLOAD_FAIL", "high", true
	}

	for _, h := range result.ErrorHints {
		if h == "domain_drift" {
			return "DOMAIN_DRIFT", "high", true
		}
	}

	if timeoutMs > 0 && result.DurationMs > int64(timeoutMs) {
		return "TIMING", "low", true
	}

	if result.Status == dslmodel.StatusFail && len(result.RecoveryActions) > 0 {
		anyRecovered := false
		for _, r := range result.RecoveryActions {
			if r.Success {
				anyRecovered = true
			}
		}
		if !anyRecovered {
			return "RETRY_CAP", "low", true
		}
	}

	return "", "", false
}
