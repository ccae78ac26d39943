// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package executor implements the per-step execution loop: when
// evaluation, expression substitution, action dispatch via the OS/Web
// adapters, evidence capture, verification, retry, and self-recovery
// (spec §4.I).
package executor

import (
	"fmt"

	"github.com/Axion-inc/DesktopAgent/internal/store"
)

// runTransition is one legal (from, event) -> to edge in the Run state
// machine (spec §4.I: "QUEUED -> RUNNING -> (WAITING_APPROVAL <-> RUNNING)*
// -> (PAUSED <-> RUNNING)* -> {COMPLETED, FAILED, CANCELLED}").
type runTransition struct {
	From  store.RunState
	Event string
	To    store.RunState
}

var runTransitions = []runTransition{
	{store.RunQueued, "start", store.RunRunning},
	{store.RunRunning, "await_approval", store.RunWaitingApproval},
	{store.RunWaitingApproval, "resume", store.RunRunning},
	{store.RunWaitingApproval, "deny", store.RunFailed},
	{store.RunRunning, "pause", store.RunPaused},
	{store.RunPaused, "resume", store.RunRunning},
	{store.RunRunning, "complete", store.RunCompleted},
	{store.RunRunning, "fail", store.RunFailed},
	{store.RunRunning, "cancel", store.RunCancelled},
	{store.RunQueued, "cancel", store.RunCancelled},
	{store.RunWaitingApproval, "cancel", store.RunCancelled},
	{store.RunPaused, "cancel", store.RunCancelled},
}

// RunStateMachine tracks one Run's lifecycle state in memory; the caller
// persists each transition via Store.UpdateRunState.
type RunStateMachine struct {
	current store.RunState
}

// NewRunStateMachine starts a machine in QUEUED, the state CreateRun
// always inserts a row as.
func NewRunStateMachine() *RunStateMachine {
	return &RunStateMachine{current: store.RunQueued}
}

// Transition moves the machine along event, returning an error if no
// edge exists for (current, event).
func (m *RunStateMachine) Transition(event string) (store.RunState, error) {
	for _, t := range runTransitions {
		if t.From == m.current && t.Event == event {
			m.current = t.To
			return m.current, nil
		}
	}
	return m.current, fmt.Errorf("invalid run transition: %s --%s--> ?", m.current, event)
}

func (m *RunStateMachine) Current() store.RunState { return m.current }
