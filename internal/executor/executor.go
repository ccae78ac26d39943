// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/Axion-inc/DesktopAgent/internal/common/logger"
	"github.com/Axion-inc/DesktopAgent/internal/dslmodel"
	"github.com/Axion-inc/DesktopAgent/internal/errtaxonomy"
	"github.com/Axion-inc/DesktopAgent/internal/plannerl2"
	"github.com/Axion-inc/DesktopAgent/internal/store"
	"github.com/Axion-inc/DesktopAgent/internal/verifier"
)

// checkpointEvery is the default N in "a checkpoint is written ... every
// N completed steps" (spec §4.I); RunInput.CheckpointEvery overrides it.
const checkpointEvery = 5

// RunPersister is the narrow slice of *store.Store the Executor needs,
// kept separate from the concrete type the way dslmodel.SecretResolver
// decouples expression evaluation from internal/secrets.
type RunPersister interface {
	UpdateRunState(ctx context.Context, runID int64, state store.RunState, at time.Time) error
	SaveStepResult(ctx context.Context, runID int64, res *dslmodel.StepResult) error
	SaveEvidence(ctx context.Context, runID int64, stepIndex int, kind, artifactKey string, at time.Time) error
	SaveApproval(ctx context.Context, a *store.ApprovalRecord) error
	AppendAudit(ctx context.Context, runID *int64, event, detail string, at time.Time) error
}

// EvidenceConfig controls which artifacts the Executor captures per step
// (spec §4.I step 4: "capture evidence if the run's configuration
// requests per-step screenshots or DOM schemas").
type EvidenceConfig struct {
	Screenshots   bool
	DOMSchemas    bool
	ScreenshotDir string
}

// RunInput is everything one Run execution needs beyond the adapters.
type RunInput struct {
	RunID           int64
	Plan            *dslmodel.Plan
	Variables       map[string]interface{}
	Secrets         dslmodel.SecretResolver
	Evidence        EvidenceConfig
	CheckpointEvery int
}

// Observer lets an external safe-fail supervisor inspect each step
// result as it commits and ask the Executor to pause the Run before
// the next step runs (spec §4.K: the L4 Monitor "supervises" the
// Executor rather than running inside its loop). Implemented by
// internal/l4monitor.Monitor; left nil the Executor never pauses on
// its own.
type Observer interface {
	Observe(ctx context.Context, runID int64, stepIndex int, timeoutMs int, result *dslmodel.StepResult) (pause bool, err error)
}

// Executor runs one Run's steps to completion, suspension, or failure.
// It owns no goroutines of its own — the caller (a queue.Pool worker)
// provides the ctx lifetime and calls Run once per dequeued item,
// mirroring a one-worker-one-plan-at-a-time executor shape.
type Executor struct {
	Dispatcher *Dispatcher
	Verifier   *verifier.Verifier
	Store      RunPersister
	Approvals  *ApprovalBroker
	Monitor    Observer
	// PlannerL2 proposes and, under the configured adopt_policy, applies
	// a single-parameter differential patch when an action step exhausts
	// its retries. Left nil, a failed step just fails (spec §4.L is
	// opt-in: no Engine means no patch proposals).
	PlannerL2 *plannerl2.Engine
	Log       logger.Logger
}

func New(d *Dispatcher, v *verifier.Verifier, store RunPersister, approvals *ApprovalBroker) *Executor {
	return &Executor{Dispatcher: d, Verifier: v, Store: store, Approvals: approvals, Log: logger.NewLogger("executor")}
}

// runState carries the mutable per-Run bookkeeping through the step
// loop: the state machine, accumulated step outputs for {{steps[i].*}}
// references, and how many completed steps have elapsed since the last
// checkpoint.
type runState struct {
	machine         *RunStateMachine
	stepOutputs     []map[string]interface{}
	sinceCheckpoint int
}

// Run executes in.Plan's steps in order, persisting a StepResult after
// each one, and returns the terminal store.RunState.
func (e *Executor) Run(ctx context.Context, in RunInput) (store.RunState, error) {
	rs := &runState{machine: NewRunStateMachine(), stepOutputs: make([]map[string]interface{}, len(in.Plan.Steps))}

	if _, err := rs.machine.Transition("start"); err != nil {
		return rs.machine.Current(), err
	}
	if err := e.Store.UpdateRunState(ctx, in.RunID, store.RunRunning, time.Now()); err != nil {
		return rs.machine.Current(), fmt.Errorf("persist RUNNING: %w", err)
	}

	checkpointEveryN := in.CheckpointEvery
	if checkpointEveryN <= 0 {
		checkpointEveryN = checkpointEvery
	}

	retry := dslmodel.RetryPolicy{MaxAttempts: 1, BackoffMs: 0}
	if in.Plan.Execution != nil && in.Plan.Execution.Retry != nil {
		retry = *in.Plan.Execution.Retry
	}

	for _, step := range in.Plan.Steps {
		select {
		case <-ctx.Done():
			return e.terminate(ctx, in.RunID, rs, "cancel", store.RunCancelled)
		default:
		}

		result, term, termState := e.runStep(ctx, in, rs, step, retry)
		if err := e.Store.SaveStepResult(ctx, in.RunID, result); err != nil {
			return rs.machine.Current(), fmt.Errorf("persist step %d result: %w", step.Index, err)
		}
		rs.stepOutputs[step.Index] = result.Output

		if term {
			return e.terminate(ctx, in.RunID, rs, "", termState)
		}

		if e.Monitor != nil {
			pause, operr := e.Monitor.Observe(ctx, in.RunID, step.Index, step.TimeoutMs, result)
			if operr != nil {
				e.Log.Warnf("monitor observe failed for run %d step %d: %v", in.RunID, step.Index, operr)
			}
			if pause {
				return e.terminate(ctx, in.RunID, rs, "pause", store.RunPaused)
			}
		}

		rs.sinceCheckpoint++
		if rs.sinceCheckpoint >= checkpointEveryN {
			e.checkpoint(ctx, in.RunID, step.Index)
			rs.sinceCheckpoint = 0
		}
	}

	return e.terminate(ctx, in.RunID, rs, "complete", store.RunCompleted)
}

// terminate drives the state machine's final edge (when one is given)
// and persists the resulting terminal state.
func (e *Executor) terminate(ctx context.Context, runID int64, rs *runState, event string, fallback store.RunState) (store.RunState, error) {
	final := fallback
	if event != "" {
		if s, err := rs.machine.Transition(event); err == nil {
			final = s
		}
	}
	if err := e.Store.UpdateRunState(ctx, runID, final, time.Now()); err != nil {
		return final, fmt.Errorf("persist terminal state %s: %w", final, err)
	}
	return final, nil
}

func (e *Executor) checkpoint(ctx context.Context, runID int64, stepIndex int) {
	detail := fmt.Sprintf("checkpoint after step %d", stepIndex)
	if err := e.Store.AppendAudit(ctx, &runID, "checkpoint", detail, time.Now()); err != nil {
		e.Log.Warnf("checkpoint write failed for run %d: %v", runID, err)
	}
}

// runStep implements the 7-step per-step loop (spec §4.I): when-eval,
// substitute, dispatch, evidence capture, verify, retry, commit. It
// returns the StepResult plus whether the Run must terminate here
// (human_confirm denial/timeout or a verifier FAIL) and which terminal
// state applies in that case.
func (e *Executor) runStep(ctx context.Context, in RunInput, rs *runState, step *dslmodel.Step, retry dslmodel.RetryPolicy) (*dslmodel.StepResult, bool, store.RunState) {
	started := time.Now()
	evalCtx := dslmodel.EvalContext{Variables: in.Variables, StepOutputs: rs.stepOutputs, Secrets: in.Secrets}

	whenExpr, err := dslmodel.CompileWhen(step.When)
	if err != nil {
		return e.fail(step, started, errtaxonomy.Wrap(errtaxonomy.CodeInternal, step.Index, err)), false, ""
	}
	run, err := whenExpr.Eval(evalCtx)
	if err != nil {
		return e.fail(step, started, errtaxonomy.Wrap(errtaxonomy.CodeInternal, step.Index, err)), false, ""
	}
	if !run {
		return &dslmodel.StepResult{StepIndex: step.Index, Status: dslmodel.StatusSkipped, StartedAt: started.Format(time.RFC3339Nano)}, false, ""
	}

	params, err := dslmodel.Substitute(step.Params, evalCtx)
	if err != nil {
		return e.fail(step, started, errtaxonomy.Wrap(errtaxonomy.CodeInternal, step.Index, err)), false, ""
	}
	paramMap, _ := params.(map[string]interface{})

	if step.Action == "human_confirm" {
		return e.runHumanConfirm(ctx, in, rs, step, started, paramMap)
	}
	if step.Action == "policy_guard" {
		return &dslmodel.StepResult{StepIndex: step.Index, Status: dslmodel.StatusPass, StartedAt: started.Format(time.RFC3339Nano), DurationMs: time.Since(started).Milliseconds()}, false, ""
	}

	if dslmodel.VerifierActions[step.Action] {
		outcome, verr := e.Verifier.Run(ctx, step.Action, paramMap)
		if verr != nil {
			return e.fail(step, started, errtaxonomy.Wrap(errtaxonomy.CodeVerifierFail, step.Index, verr)), true, store.RunFailed
		}
		res := &dslmodel.StepResult{
			StepIndex: step.Index, Status: outcome.Status, StartedAt: started.Format(time.RFC3339Nano),
			DurationMs: time.Since(started).Milliseconds(), Output: map[string]interface{}{"detail": outcome.Detail},
		}
		if outcome.Status == dslmodel.StatusFail {
			res.ErrorCode = string(errtaxonomy.CodeVerifierFail)
			return res, true, store.RunFailed
		}
		return res, false, ""
	}

	return e.runActionWithRetry(ctx, in, step, started, paramMap, retry)
}

func (e *Executor) runActionWithRetry(ctx context.Context, in RunInput, step *dslmodel.Step, started time.Time, params map[string]interface{}, retry dslmodel.RetryPolicy) (*dslmodel.StepResult, bool, store.RunState) {
	maxAttempts := retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var last dispatchResult
	attempt := 0
	for {
		attempt++
		last = Dispatch(ctx, e.Dispatcher, step.Action, step.Index, params)
		if last.Err == nil {
			break
		}
		taxErr, _ := errtaxonomy.As(last.Err)
		if taxErr == nil || !taxErr.Code.Retryable() || attempt >= maxAttempts {
			break
		}
		time.Sleep(time.Duration(retry.BackoffMs*(1<<(attempt-1))) * time.Millisecond)
	}

	if last.Err != nil {
		if patched, ok := e.tryPlannerL2Patch(ctx, in, step, last.Err); ok {
			retryOnce := Dispatch(ctx, e.Dispatcher, patched.Action, patched.Index, patched.Params)
			if retryOnce.Err == nil {
				last = retryOnce
			}
		}
	}

	e.captureEvidence(ctx, in, step)

	if last.Err != nil {
		return e.fail(step, started, last.Err), true, store.RunFailed
	}

	res := &dslmodel.StepResult{
		StepIndex: step.Index, Status: dslmodel.StatusPass, StartedAt: started.Format(time.RFC3339Nano),
		DurationMs: time.Since(started).Milliseconds(), Output: last.Output, RecoveryActions: last.Recovery,
	}
	return res, false, ""
}

// tryPlannerL2Patch proposes a differential patch for a step that just
// exhausted its retries and, if the adopt_policy allows auto-adoption,
// returns the patched step for a single extra dispatch attempt (spec
// §4.L). It always records the proposal to the audit trail, whether or
// not it was adopted, and is a no-op when no Engine or web engine is
// configured.
func (e *Executor) tryPlannerL2Patch(ctx context.Context, in RunInput, step *dslmodel.Step, failure error) (*dslmodel.Step, bool) {
	if e.PlannerL2 == nil || e.Dispatcher == nil || e.Dispatcher.Web == nil {
		return nil, false
	}
	taxErr, ok := errtaxonomy.As(failure)
	if !ok {
		return nil, false
	}
	nodes, err := e.Dispatcher.Web.CaptureDOMSchema(ctx, "")
	if err != nil || len(nodes) == 0 {
		return nil, false
	}
	patch, ok := e.PlannerL2.Propose(step.Index, step, taxErr.Code, nodes)
	if !ok {
		return nil, false
	}
	adopted := e.PlannerL2.Decide(in.RunID, patch)
	e.PlannerL2.Record(ctx, e.Store, in.RunID, patch, adopted)
	if !adopted {
		return nil, false
	}
	return plannerl2.Apply(step, patch), true
}

func (e *Executor) captureEvidence(ctx context.Context, in RunInput, step *dslmodel.Step) {
	if in.Evidence.Screenshots {
		path := fmt.Sprintf("%s/run-%d-step-%d.png", in.Evidence.ScreenshotDir, in.RunID, step.Index)
		if err := e.Dispatcher.OS.TakeScreenshot(ctx, path); err == nil {
			_ = e.Store.SaveEvidence(ctx, in.RunID, step.Index, "screenshot", path, time.Now())
		}
	}
	if in.Evidence.DOMSchemas {
		if nodes, err := e.Dispatcher.Web.CaptureDOMSchema(ctx, ""); err == nil && len(nodes) > 0 {
			_ = e.Store.SaveEvidence(ctx, in.RunID, step.Index, "dom_schema", fmt.Sprintf("run-%d-step-%d", in.RunID, step.Index), time.Now())
		}
	}
}

func (e *Executor) fail(step *dslmodel.Step, started time.Time, err error) *dslmodel.StepResult {
	code := string(errtaxonomy.CodeInternal)
	var hints []string
	if te, ok := errtaxonomy.As(err); ok {
		code = string(te.Code)
		hints = te.Hints
	}
	return &dslmodel.StepResult{
		StepIndex: step.Index, Status: dslmodel.StatusFail, StartedAt: started.Format(time.RFC3339Nano),
		DurationMs: time.Since(started).Milliseconds(), ErrorCode: code, ErrorMessage: err.Error(), ErrorHints: hints,
	}
}

// runHumanConfirm implements the human_confirm step contract (spec
// §4.I): transition to WAITING_APPROVAL, checkpoint, block on the
// ApprovalBroker, then resume or fail depending on the decision.
func (e *Executor) runHumanConfirm(ctx context.Context, in RunInput, rs *runState, step *dslmodel.Step, started time.Time, params map[string]interface{}) (*dslmodel.StepResult, bool, store.RunState) {
	if _, err := rs.machine.Transition("await_approval"); err != nil {
		return e.fail(step, started, errtaxonomy.Wrap(errtaxonomy.CodeInternal, step.Index, err)), true, store.RunFailed
	}
	if err := e.Store.UpdateRunState(ctx, in.RunID, store.RunWaitingApproval, time.Now()); err != nil {
		e.Log.Warnf("persist WAITING_APPROVAL failed for run %d: %v", in.RunID, err)
	}
	e.checkpoint(ctx, in.RunID, step.Index)

	timeoutMinutes := intParam(params, "timeout_minutes")
	if _, set := params["timeout_minutes"]; !set || timeoutMinutes < 0 {
		timeoutMinutes = 60
	}
	autoAction := strParam(params, "auto_action")
	requiredRole := strParam(params, "required_role")

	approval := &store.ApprovalRecord{
		RunID: in.RunID, StepIndex: step.Index, RequiredRole: requiredRole,
		TimeoutMinutes: timeoutMinutes, AutoAction: autoAction,
	}
	_ = e.Store.SaveApproval(ctx, approval)

	decision, err := e.Approvals.Await(ctx, in.RunID, step.Index, requiredRole, time.Duration(timeoutMinutes)*time.Minute, autoAction)

	approval.DecidedBy = decision.ApproverID
	now := time.Now()
	approval.DecidedAt = &now
	if decision.Approved {
		approval.Decision = "approve"
	} else {
		approval.Decision = "deny"
	}
	_ = e.Store.SaveApproval(ctx, approval)

	if err != nil || !decision.Approved {
		code := errtaxonomy.CodeApprovalDenied
		if err == ErrApprovalTimeout {
			code = errtaxonomy.CodeApprovalTimeout
		}
		if _, terr := rs.machine.Transition("deny"); terr != nil {
			e.Log.Warnf("run %d: deny transition rejected: %v", in.RunID, terr)
		}
		msg := "approval denied"
		if err != nil {
			msg = err.Error()
		}
		return e.fail(step, started, errtaxonomy.New(code, step.Index, msg)), true, store.RunFailed
	}

	if _, terr := rs.machine.Transition("resume"); terr != nil {
		return e.fail(step, started, errtaxonomy.Wrap(errtaxonomy.CodeInternal, step.Index, terr)), true, store.RunFailed
	}
	if uerr := e.Store.UpdateRunState(ctx, in.RunID, store.RunRunning, time.Now()); uerr != nil {
		e.Log.Warnf("persist RUNNING resume failed for run %d: %v", in.RunID, uerr)
	}

	return &dslmodel.StepResult{
		StepIndex: step.Index, Status: dslmodel.StatusPass, StartedAt: started.Format(time.RFC3339Nano),
		DurationMs: time.Since(started).Milliseconds(),
		Output:     map[string]interface{}{"approved": true, "approver": decision.ApproverID},
	}, false, ""
}
