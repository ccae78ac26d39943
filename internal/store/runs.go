// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Axion-inc/DesktopAgent/internal/dslmodel"
	"github.com/Axion-inc/DesktopAgent/internal/manifest"
	"github.com/Axion-inc/DesktopAgent/internal/policy"
)

// RunState is the Run lifecycle state (spec §3).
type RunState string

const (
	RunQueued           RunState = "QUEUED"
	RunRunning          RunState = "RUNNING"
	RunPaused           RunState = "PAUSED"
	RunWaitingApproval  RunState = "WAITING_APPROVAL"
	RunCompleted        RunState = "COMPLETED"
	RunFailed           RunState = "FAILED"
	RunCancelled        RunState = "CANCELLED"
)

// RunRecord is the persisted Run header row.
type RunRecord struct {
	RunID             int64
	PublicID          string
	PlanRef           string
	VariablesResolved map[string]interface{} // secrets already masked by the caller
	Manifest          *manifest.Manifest
	State             RunState
	Queue             string
	Priority          int
	CreatedAt         time.Time
	StartedAt         *time.Time
	FinishedAt        *time.Time
}

// CreateRun inserts a new Run in state QUEUED and returns its assigned
// run_id.
func (s *Store) CreateRun(ctx context.Context, r *RunRecord) (int64, error) {
	varsJSON, err := json.Marshal(r.VariablesResolved)
	if err != nil {
		return 0, fmt.Errorf("marshal variables_resolved: %w", err)
	}
	manifestJSON, err := json.Marshal(r.Manifest)
	if err != nil {
		return 0, fmt.Errorf("marshal manifest: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (public_id, plan_ref, variables_resolved, manifest, state, queue, priority, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.PublicID, r.PlanRef, string(varsJSON), string(manifestJSON), string(RunQueued), r.Queue, r.Priority, r.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return res.LastInsertId()
}

// UpdateRunState transitions a run's state, stamping started_at/finished_at
// as appropriate. Each call is a single atomic row write (spec §4.G).
func (s *Store) UpdateRunState(ctx context.Context, runID int64, state RunState, at time.Time) error {
	switch state {
	case RunRunning:
		_, err := s.db.ExecContext(ctx, `UPDATE runs SET state = ?, started_at = ? WHERE run_id = ?`,
			string(state), at.UTC().Format(time.RFC3339Nano), runID)
		return err
	case RunCompleted, RunFailed, RunCancelled:
		_, err := s.db.ExecContext(ctx, `UPDATE runs SET state = ?, finished_at = ? WHERE run_id = ?`,
			string(state), at.UTC().Format(time.RFC3339Nano), runID)
		return err
	default:
		_, err := s.db.ExecContext(ctx, `UPDATE runs SET state = ? WHERE run_id = ?`, string(state), runID)
		return err
	}
}

// SaveStepResult upserts one step's result. Evidence for the step must
// already be persisted before this is called (spec §4.G: "a step's final
// status is written only after its evidence is persisted").
func (s *Store) SaveStepResult(ctx context.Context, runID int64, res *dslmodel.StepResult) error {
	outputJSON, err := json.Marshal(res.Output)
	if err != nil {
		return fmt.Errorf("marshal step output: %w", err)
	}
	recoveryJSON, err := json.Marshal(res.RecoveryActions)
	if err != nil {
		return fmt.Errorf("marshal recovery actions: %w", err)
	}
	hintsJSON, err := json.Marshal(res.ErrorHints)
	if err != nil {
		return fmt.Errorf("marshal error hints: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO steps (run_id, step_index, status, started_at, duration_ms, output, recovery_actions, error_code, error_message, error_hints)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, step_index) DO UPDATE SET
		   status=excluded.status, started_at=excluded.started_at, duration_ms=excluded.duration_ms,
		   output=excluded.output, recovery_actions=excluded.recovery_actions,
		   error_code=excluded.error_code, error_message=excluded.error_message, error_hints=excluded.error_hints`,
		runID, res.StepIndex, string(res.Status), res.StartedAt, res.DurationMs,
		string(outputJSON), string(recoveryJSON), res.ErrorCode, res.ErrorMessage, string(hintsJSON),
	)
	if err != nil {
		return fmt.Errorf("save step result: %w", err)
	}
	return nil
}

// SaveEvidence records one evidence artifact key for a step.
func (s *Store) SaveEvidence(ctx context.Context, runID int64, stepIndex int, kind, artifactKey string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO evidence (run_id, step_index, kind, artifact_key, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, step_index, kind) DO UPDATE SET artifact_key=excluded.artifact_key, created_at=excluded.created_at`,
		runID, stepIndex, kind, artifactKey, at.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// SavePolicyDecision persists one named check's result for a run.
func (s *Store) SavePolicyDecision(ctx context.Context, runID int64, check policy.CheckResult, at time.Time) error {
	allowed := 0
	if check.Allowed {
		allowed = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO policy_decisions (run_id, check_name, allowed, reason, evaluated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, check_name) DO UPDATE SET allowed=excluded.allowed, reason=excluded.reason, evaluated_at=excluded.evaluated_at`,
		runID, string(check.Check), allowed, check.Reason, at.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// DeviationRecord is one persisted deviation (spec §3 Deviation).
type DeviationRecord struct {
	RunID     int64
	StepIndex int
	Kind      string
	Severity  string
	Score     float64
	Reason    string
	CreatedAt time.Time
}

func (s *Store) SaveDeviation(ctx context.Context, d *DeviationRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deviations (run_id, step_index, kind, severity, score, reason, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.RunID, d.StepIndex, d.Kind, d.Severity, d.Score, d.Reason, d.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// ApprovalRecord is one persisted HITL approval request/decision.
type ApprovalRecord struct {
	RunID          int64
	StepIndex      int
	RequiredRole   string
	Decision       string // "", "approve", "deny"
	DecidedBy      string
	DecidedAt      *time.Time
	TimeoutMinutes int
	AutoAction     string
}

func (s *Store) SaveApproval(ctx context.Context, a *ApprovalRecord) error {
	var decidedAt interface{}
	if a.DecidedAt != nil {
		decidedAt = a.DecidedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approvals (run_id, step_index, required_role, decision, decided_by, decided_at, timeout_minutes, auto_action)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, step_index) DO UPDATE SET
		   decision=excluded.decision, decided_by=excluded.decided_by, decided_at=excluded.decided_at`,
		a.RunID, a.StepIndex, a.RequiredRole, a.Decision, a.DecidedBy, decidedAt, a.TimeoutMinutes, a.AutoAction,
	)
	return err
}

// AppendAudit records one structured audit event, queryable by time window
// for metrics aggregation (spec §4.G/§4.M).
func (s *Store) AppendAudit(ctx context.Context, runID *int64, event, detail string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit (run_id, event, detail, created_at) VALUES (?, ?, ?, ?)`,
		runID, event, detail, at.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// GetRun loads a run header by internal run_id.
func (s *Store) GetRun(ctx context.Context, runID int64) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, public_id, plan_ref, variables_resolved, manifest, state, queue, priority, created_at, started_at, finished_at
		 FROM runs WHERE run_id = ?`, runID)
	return scanRun(row)
}

// GetRunByPublicID loads a run by its opaque public_id (spec §4.G:
// "read-only view with PII masked" — masking itself is the caller's
// responsibility via secrets.Resolver.MaskValue before serving the HTTP
// response; this call only returns what was persisted, which is already
// mask-applied at write time).
func (s *Store) GetRunByPublicID(ctx context.Context, publicID string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, public_id, plan_ref, variables_resolved, manifest, state, queue, priority, created_at, started_at, finished_at
		 FROM runs WHERE public_id = ?`, publicID)
	return scanRun(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var r RunRecord
	var varsJSON, manifestJSON, createdAt string
	var startedAt, finishedAt sql.NullString
	var state, queue string

	if err := row.Scan(&r.RunID, &r.PublicID, &r.PlanRef, &varsJSON, &manifestJSON, &state, &queue, &r.Priority, &createdAt, &startedAt, &finishedAt); err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.State = RunState(state)
	r.Queue = queue

	if err := json.Unmarshal([]byte(varsJSON), &r.VariablesResolved); err != nil {
		return nil, fmt.Errorf("unmarshal variables_resolved: %w", err)
	}
	var m manifest.Manifest
	if err := json.Unmarshal([]byte(manifestJSON), &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	r.Manifest = &m

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	r.CreatedAt = t

	if startedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, startedAt.String); err == nil {
			r.StartedAt = &t
		}
	}
	if finishedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finishedAt.String); err == nil {
			r.FinishedAt = &t
		}
	}
	return &r, nil
}

// PolicyDecisionRecord is one persisted named check's result for a run,
// read back for the `GET /runs/{run_id}/policy-checks` facade.
type PolicyDecisionRecord struct {
	RunID       int64
	CheckName   string
	Allowed     bool
	Reason      string
	EvaluatedAt time.Time
}

// GetPolicyDecisions lists every check persisted for a run.
func (s *Store) GetPolicyDecisions(ctx context.Context, runID int64) ([]*PolicyDecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, check_name, allowed, reason, evaluated_at FROM policy_decisions WHERE run_id = ? ORDER BY evaluated_at ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list policy decisions: %w", err)
	}
	defer rows.Close()

	var out []*PolicyDecisionRecord
	for rows.Next() {
		var d PolicyDecisionRecord
		var allowed int
		var evaluatedAt string
		if err := rows.Scan(&d.RunID, &d.CheckName, &allowed, &d.Reason, &evaluatedAt); err != nil {
			return nil, fmt.Errorf("scan policy decision: %w", err)
		}
		d.Allowed = allowed != 0
		t, err := time.Parse(time.RFC3339Nano, evaluatedAt)
		if err != nil {
			return nil, fmt.Errorf("parse evaluated_at: %w", err)
		}
		d.EvaluatedAt = t
		out = append(out, &d)
	}
	return out, rows.Err()
}

// GetDeviations lists every deviation persisted for a run, read back for
// the `GET /runs/{run_id}/deviations` facade.
func (s *Store) GetDeviations(ctx context.Context, runID int64) ([]*DeviationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, step_index, kind, severity, score, reason, created_at FROM deviations WHERE run_id = ? ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list deviations: %w", err)
	}
	defer rows.Close()

	var out []*DeviationRecord
	for rows.Next() {
		var d DeviationRecord
		var createdAt string
		if err := rows.Scan(&d.RunID, &d.StepIndex, &d.Kind, &d.Severity, &d.Score, &d.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scan deviation: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		d.CreatedAt = t
		out = append(out, &d)
	}
	return out, rows.Err()
}

// ListRunsSince returns run headers created at or after since, ordered by
// created_at, for metrics time-window aggregation (spec §4.G).
func (s *Store) ListRunsSince(ctx context.Context, since time.Time) ([]*RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, public_id, plan_ref, variables_resolved, manifest, state, queue, priority, created_at, started_at, finished_at
		 FROM runs WHERE created_at >= ? ORDER BY created_at ASC`, since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
