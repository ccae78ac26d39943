// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package metrics_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Axion-inc/DesktopAgent/internal/dslmodel"
	"github.com/Axion-inc/DesktopAgent/internal/metrics"
)

func TestRecorder_SuccessRateAndRetryRate(t *testing.T) {
	r := metrics.New()
	now := time.Unix(1_700_000_000, 0)

	r.RunCompleted(now, 100)
	r.RunCompleted(now, 200)
	r.RunFailed(now, 50)
	r.Retry(now)

	snap := r.Snapshot(now, 24*time.Hour, 5)
	assert.Equal(t, 3, snap.TotalRuns)
	assert.InDelta(t, 2.0/3.0, snap.SuccessRate, 0.001)
	assert.InDelta(t, 1.0/3.0, snap.RetryRate, 0.001)
}

func TestRecorder_VerifierPassRate_CountsRetryAsPass(t *testing.T) {
	r := metrics.New()
	now := time.Unix(1_700_000_000, 0)

	r.VerifierOutcome(now, dslmodel.StatusPass)
	r.VerifierOutcome(now, dslmodel.StatusRetry)
	r.VerifierOutcome(now, dslmodel.StatusFail)

	snap := r.Snapshot(now, 24*time.Hour, 5)
	assert.InDelta(t, 2.0/3.0, snap.VerifierPassRate, 0.001)
}

func TestRecorder_MedianAndP95Duration(t *testing.T) {
	r := metrics.New()
	now := time.Unix(1_700_000_000, 0)

	for _, d := range []int64{100, 200, 300, 400, 500, 600, 700, 800, 900, 1000} {
		r.RunCompleted(now, d)
	}

	snap := r.Snapshot(now, 24*time.Hour, 5)
	assert.Equal(t, float64(500), snap.MedianDurationMs)
	assert.Equal(t, float64(900), snap.P95DurationMs)
}

func TestRecorder_EventsOutsideWindowAreExcluded(t *testing.T) {
	r := metrics.New()
	now := time.Unix(1_700_000_000, 0)
	old := now.Add(-48 * time.Hour)

	r.RunCompleted(old, 100)
	r.RunCompleted(now, 200)

	snap := r.Snapshot(now, 24*time.Hour, 5)
	assert.Equal(t, 1, snap.TotalRuns)
}

func TestRecorder_QueueDepthPeak_TracksMaximumSample(t *testing.T) {
	r := metrics.New()
	now := time.Unix(1_700_000_000, 0)

	r.QueueDepthSample(now, 2)
	r.QueueDepthSample(now, 9)
	r.QueueDepthSample(now, 4)

	snap := r.Snapshot(now, 24*time.Hour, 5)
	assert.Equal(t, 9, snap.QueueDepthPeak)
}

func TestRecorder_TopFailures_SortedByCountThenCodeAlphabetically(t *testing.T) {
	r := metrics.New()
	now := time.Unix(1_700_000_000, 0)

	r.FailureCode(now, "WEB_ELEMENT_NOT_FOUND")
	r.FailureCode(now, "WEB_ELEMENT_NOT_FOUND")
	r.FailureCode(now, "DOWNLOAD_TIMEOUT")
	r.FailureCode(now, "DOWNLOAD_TIMEOUT")
	r.FailureCode(now, "VERIFIER_FAIL")

	snap := r.Snapshot(now, 24*time.Hour, 2)
	require.Len(t, snap.TopFailures, 2)
	assert.Equal(t, "DOWNLOAD_TIMEOUT", snap.TopFailures[0].Code)
	assert.Equal(t, 2, snap.TopFailures[0].Count)
	assert.Equal(t, "WEB_ELEMENT_NOT_FOUND", snap.TopFailures[1].Code)
}

func TestRecorder_CountersForApprovalsPolicyAndDeviations(t *testing.T) {
	r := metrics.New()
	now := time.Unix(1_700_000_000, 0)

	r.ApprovalRequired(now)
	r.ApprovalRequired(now)
	r.ApprovalGranted(now)
	r.SchemaCapture(now)
	r.WebUpload(now, true)
	r.WebUpload(now, false)
	r.OSCapabilityMiss(now)
	r.L4Autorun(now)
	r.PolicyBlock(now)
	r.DeviationStop(now)
	r.PatchProposed(now)
	r.PatchProposed(now)
	r.PatchAutoAdopted(now)

	snap := r.Snapshot(now, 24*time.Hour, 5)
	assert.Equal(t, 2, snap.ApprovalsRequired)
	assert.Equal(t, 1, snap.ApprovalsGranted)
	assert.Equal(t, 1, snap.SchemaCaptures)
	assert.InDelta(t, 0.5, snap.WebUploadSuccessRate, 0.001)
	assert.Equal(t, 1, snap.OSCapabilityMisses)
	assert.Equal(t, 1, snap.L4Autoruns)
	assert.Equal(t, 1, snap.PolicyBlocks)
	assert.Equal(t, 1, snap.DeviationStops)
	assert.Equal(t, 2, snap.PatchesProposed)
	assert.Equal(t, 1, snap.PatchesAutoAdopted)
}

func TestAuditLogWriter_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "policy_audit.log")
	w, err := metrics.NewAuditLogWriter(path)
	require.NoError(t, err)
	defer w.Close()

	runID := int64(42)
	at := time.Unix(1_700_000_000, 0)
	require.NoError(t, w.Append(context.Background(), &runID, "policy_block", "domain not allowlisted", at))
	require.NoError(t, w.Append(context.Background(), nil, "l4_deviation_stop", "cumulative score 4.00", at))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := splitLines(string(data))
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"event":"policy_block"`)
	assert.Contains(t, lines[0], `"run_id":42`)
	assert.Contains(t, lines[1], `"event":"l4_deviation_stop"`)
	assert.NotContains(t, lines[1], `"run_id"`)
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			if i > start {
				lines = append(lines, s[start:i])
			}
			start = i + 1
		}
	}
	return lines
}
