// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrApprovalTimeout is returned when a human_confirm step's
// timeout_minutes elapses with no decision (spec §4.I).
var ErrApprovalTimeout = errors.New("approval timeout")

// ApprovalDecision is what a HITL response resolves to.
type ApprovalDecision struct {
	Approved   bool
	ApproverID string
	Role       string
	Comment    string
	DecidedAt  time.Time
}

// pendingApproval is one in-flight human_confirm wait, keyed by
// (run_id, step_index) the way the Executor addresses it and the HTTP
// facade's POST /hitl/{run_id} resolves it.
type pendingApproval struct {
	requiredRole string
	ch           chan ApprovalDecision
}

// ApprovalBroker holds in-flight HITL waits, using a
// register-a-channel/resolve-from-elsewhere shape generalized to a
// single externally-resolved channel per pending step.
type ApprovalBroker struct {
	mu      sync.Mutex
	pending map[string]*pendingApproval
	jwtKey  []byte
}

func NewApprovalBroker(jwtKey []byte) *ApprovalBroker {
	return &ApprovalBroker{
		pending: make(map[string]*pendingApproval),
		jwtKey:  jwtKey,
	}
}

func approvalKey(runID int64, stepIndex int) string {
	return fmt.Sprintf("%d:%d", runID, stepIndex)
}

// Await registers a pending approval and blocks until it is resolved,
// ctx is cancelled, or timeout elapses (in which case autoAction decides
// the outcome — spec §4.I: "on timeout_minutes elapse use the configured
// auto_action").
func (b *ApprovalBroker) Await(ctx context.Context, runID int64, stepIndex int, requiredRole string, timeout time.Duration, autoAction string) (ApprovalDecision, error) {
	key := approvalKey(runID, stepIndex)
	ch := make(chan ApprovalDecision, 1)

	b.mu.Lock()
	b.pending[key] = &pendingApproval{requiredRole: requiredRole, ch: ch}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, key)
		b.mu.Unlock()
	}()

	select {
	case d := <-ch:
		return d, nil
	case <-ctx.Done():
		return ApprovalDecision{}, ctx.Err()
	case <-time.After(timeout):
		if autoAction == "approve" {
			return ApprovalDecision{Approved: true, ApproverID: "auto", DecidedAt: time.Now()}, nil
		}
		return ApprovalDecision{Approved: false, ApproverID: "auto", DecidedAt: time.Now()}, ErrApprovalTimeout
	}
}

// approverClaims is the JWT payload carried by a HITL decision request:
// `role` is checked against the step's required_role (spec §4.I).
type approverClaims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// Resolve verifies tokenStr, checks its role claim against the pending
// step's required_role, and delivers the decision — called by the HTTP
// facade's POST /hitl/{run_id} handler.
func (b *ApprovalBroker) Resolve(runID int64, stepIndex int, approve bool, comment, tokenStr string) error {
	claims, err := b.parseToken(tokenStr)
	if err != nil {
		return fmt.Errorf("invalid approver token: %w", err)
	}

	key := approvalKey(runID, stepIndex)
	b.mu.Lock()
	pa, ok := b.pending[key]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending approval for run %d step %d", runID, stepIndex)
	}

	if pa.requiredRole != "" && claims.Role != pa.requiredRole {
		return fmt.Errorf("approver role %q does not satisfy required_role %q", claims.Role, pa.requiredRole)
	}

	pa.ch <- ApprovalDecision{
		Approved:   approve,
		ApproverID: claims.Subject,
		Role:       claims.Role,
		Comment:    comment,
		DecidedAt:  time.Now(),
	}
	return nil
}

// ResolveDirect delivers a decision without token verification. It backs
// the CLI's `--auto-approve` mode, where the operator running the plan
// IS the approver and there is no separate HTTP caller to authenticate.
func (b *ApprovalBroker) ResolveDirect(runID int64, stepIndex int, d ApprovalDecision) error {
	key := approvalKey(runID, stepIndex)
	b.mu.Lock()
	pa, ok := b.pending[key]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending approval for run %d step %d", runID, stepIndex)
	}
	pa.ch <- d
	return nil
}

// PendingStepIndexes reports the step indexes of runID currently
// awaiting a decision, for callers that need to discover a pending wait
// without already knowing its step index (the CLI's auto-approve poller).
func (b *ApprovalBroker) PendingStepIndexes(runID int64) []int {
	prefix := fmt.Sprintf("%d:", runID)
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []int
	for k := range b.pending {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		var idx int
		if _, err := fmt.Sscanf(k, prefix+"%d", &idx); err == nil {
			out = append(out, idx)
		}
	}
	return out
}

func (b *ApprovalBroker) parseToken(tokenStr string) (*approverClaims, error) {
	claims := &approverClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return b.jwtKey, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}
