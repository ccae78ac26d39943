// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package executor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Axion-inc/DesktopAgent/internal/executor"
	"github.com/Axion-inc/DesktopAgent/internal/store"
)

func TestRunStateMachine_StartsQueued(t *testing.T) {
	m := executor.NewRunStateMachine()
	assert.Equal(t, store.RunQueued, m.Current())
}

func TestRunStateMachine_QueuedToRunning(t *testing.T) {
	m := executor.NewRunStateMachine()
	s, err := m.Transition("start")
	require.NoError(t, err)
	assert.Equal(t, store.RunRunning, s)
}

func TestRunStateMachine_ApprovalRoundTrip(t *testing.T) {
	m := executor.NewRunStateMachine()
	_, err := m.Transition("start")
	require.NoError(t, err)

	s, err := m.Transition("await_approval")
	require.NoError(t, err)
	assert.Equal(t, store.RunWaitingApproval, s)

	s, err = m.Transition("resume")
	require.NoError(t, err)
	assert.Equal(t, store.RunRunning, s)
}

func TestRunStateMachine_ApprovalDeniedFails(t *testing.T) {
	m := executor.NewRunStateMachine()
	_, _ = m.Transition("start")
	_, _ = m.Transition("await_approval")

	s, err := m.Transition("deny")
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, s)
}

func TestRunStateMachine_PauseResumeRoundTrip(t *testing.T) {
	m := executor.NewRunStateMachine()
	_, _ = m.Transition("start")

	s, err := m.Transition("pause")
	require.NoError(t, err)
	assert.Equal(t, store.RunPaused, s)

	s, err = m.Transition("resume")
	require.NoError(t, err)
	assert.Equal(t, store.RunRunning, s)
}

func TestRunStateMachine_TerminalTransitions(t *testing.T) {
	cases := []struct {
		event string
		want  store.RunState
	}{
		{"complete", store.RunCompleted},
		{"fail", store.RunFailed},
		{"cancel", store.RunCancelled},
	}
	for _, c := range cases {
		m := executor.NewRunStateMachine()
		_, _ = m.Transition("start")
		s, err := m.Transition(c.event)
		require.NoError(t, err)
		assert.Equal(t, c.want, s)
	}
}

func TestRunStateMachine_CancelFromQueued(t *testing.T) {
	m := executor.NewRunStateMachine()
	s, err := m.Transition("cancel")
	require.NoError(t, err)
	assert.Equal(t, store.RunCancelled, s)
}

func TestRunStateMachine_RejectsIllegalTransition(t *testing.T) {
	m := executor.NewRunStateMachine()
	_, err := m.Transition("resume")
	assert.Error(t, err)
	assert.Equal(t, store.RunQueued, m.Current())
}

func TestRunStateMachine_RejectsTransitionFromTerminalState(t *testing.T) {
	m := executor.NewRunStateMachine()
	_, _ = m.Transition("start")
	_, _ = m.Transition("complete")

	_, err := m.Transition("start")
	assert.Error(t, err)
}
