// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Axion-inc/DesktopAgent/internal/dslmodel"
)

func TestRunTracker_TakeRemovesTheEntry(t *testing.T) {
	tr := newRunTracker()
	plan := &dslmodel.Plan{Name: "invoice-sweep"}
	tr.put(7, queuedRun{plan: plan, variables: map[string]interface{}{"a": 1}})

	qr, ok := tr.take(7)
	assert.True(t, ok)
	assert.Equal(t, plan, qr.plan)

	_, ok = tr.take(7)
	assert.False(t, ok, "a second take for the same run should find nothing")
}

func TestRunTracker_TakeUnknownRunIsNotOK(t *testing.T) {
	tr := newRunTracker()
	_, ok := tr.take(999)
	assert.False(t, ok)
}
