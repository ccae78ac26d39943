// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics implements the rolling counters and failure-cluster
// snapshot exposed read-only over the HTTP facade (spec §4.M), plus the
// append-only JSON-lines policy audit log writer. No pack repo wires a
// Prometheus-style metrics client, so this stays in-process: atomic
// bookkeeping over a pruned event slice rather than a counter library.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Axion-inc/DesktopAgent/internal/dslmodel"
)

// EventKind classifies one recorded occurrence.
type EventKind string

const (
	eventRunCompleted      EventKind = "run_completed"
	eventRunFailed         EventKind = "run_failed"
	eventApprovalRequired  EventKind = "approval_required"
	eventApprovalGranted   EventKind = "approval_granted"
	eventVerifierPass      EventKind = "verifier_pass" // PASS and RETRY both count as pass
	eventVerifierFail      EventKind = "verifier_fail"
	eventSchemaCapture     EventKind = "schema_capture"
	eventWebUploadSuccess  EventKind = "web_upload_success"
	eventWebUploadFail     EventKind = "web_upload_fail"
	eventOSCapabilityMiss  EventKind = "os_capability_miss"
	eventL4Autorun         EventKind = "l4_autorun"
	eventPolicyBlock       EventKind = "policy_block"
	eventDeviationStop     EventKind = "deviation_stop"
	eventPatchProposed     EventKind = "patch_proposed"
	eventPatchAutoAdopted  EventKind = "patch_auto_adopted"
	eventRetry             EventKind = "retry"
	eventQueueDepthSample  EventKind = "queue_depth_sample"
	eventFailureCode       EventKind = "failure_code"
)

type event struct {
	kind       EventKind
	at         time.Time
	durationMs int64
	value      float64
	errorCode  string
}

// Recorder accumulates timestamped events and prunes anything older
// than its retention horizon (7 days, the longest rolling window the
// snapshot surface reports).
type Recorder struct {
	mu     sync.Mutex
	events []event
	maxAge time.Duration
}

func New() *Recorder {
	return &Recorder{maxAge: 7 * 24 * time.Hour}
}

func (r *Recorder) record(e event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	cutoff := e.at.Add(-r.maxAge)
	i := 0
	for i < len(r.events) && r.events[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		r.events = r.events[i:]
	}
}

func (r *Recorder) RunCompleted(at time.Time, durationMs int64) {
	r.record(event{kind: eventRunCompleted, at: at, durationMs: durationMs})
}

func (r *Recorder) RunFailed(at time.Time, durationMs int64) {
	r.record(event{kind: eventRunFailed, at: at, durationMs: durationMs})
}

func (r *Recorder) ApprovalRequired(at time.Time) { r.record(event{kind: eventApprovalRequired, at: at}) }
func (r *Recorder) ApprovalGranted(at time.Time)  { r.record(event{kind: eventApprovalGranted, at: at}) }

// VerifierOutcome records a verifier result, counting RETRY the same as
// PASS (spec §4.M: "verifier pass rate (counting RETRY as pass)").
func (r *Recorder) VerifierOutcome(at time.Time, status dslmodel.StepStatus) {
	if status == dslmodel.StatusFail {
		r.record(event{kind: eventVerifierFail, at: at})
		return
	}
	r.record(event{kind: eventVerifierPass, at: at})
}

func (r *Recorder) SchemaCapture(at time.Time) { r.record(event{kind: eventSchemaCapture, at: at}) }

func (r *Recorder) WebUpload(at time.Time, ok bool) {
	if ok {
		r.record(event{kind: eventWebUploadSuccess, at: at})
		return
	}
	r.record(event{kind: eventWebUploadFail, at: at})
}

func (r *Recorder) OSCapabilityMiss(at time.Time) { r.record(event{kind: eventOSCapabilityMiss, at: at}) }
func (r *Recorder) L4Autorun(at time.Time)        { r.record(event{kind: eventL4Autorun, at: at}) }
func (r *Recorder) PolicyBlock(at time.Time)      { r.record(event{kind: eventPolicyBlock, at: at}) }
func (r *Recorder) DeviationStop(at time.Time)    { r.record(event{kind: eventDeviationStop, at: at}) }
func (r *Recorder) PatchProposed(at time.Time)    { r.record(event{kind: eventPatchProposed, at: at}) }
func (r *Recorder) PatchAutoAdopted(at time.Time) { r.record(event{kind: eventPatchAutoAdopted, at: at}) }
func (r *Recorder) Retry(at time.Time)            { r.record(event{kind: eventRetry, at: at}) }

func (r *Recorder) QueueDepthSample(at time.Time, depth int) {
	r.record(event{kind: eventQueueDepthSample, at: at, value: float64(depth)})
}

// FailureCode records one occurrence of a taxonomy code for the top-K
// failure-cluster list, independent of whether the owning run
// ultimately failed (a step can fail and recover).
func (r *Recorder) FailureCode(at time.Time, code string) {
	if code == "" {
		return
	}
	r.record(event{kind: eventFailureCode, at: at, errorCode: code})
}

// FailureCluster is one entry of the top-K failure-cluster list.
type FailureCluster struct {
	Code  string
	Count int
}

// Snapshot is the read-only aggregate the HTTP facade's GET /metrics
// serves.
type Snapshot struct {
	Window               time.Duration
	TotalRuns            int
	SuccessRate          float64
	MedianDurationMs     float64
	P95DurationMs        float64
	ApprovalsRequired    int
	ApprovalsGranted     int
	VerifierPassRate     float64
	SchemaCaptures       int
	WebUploadSuccessRate float64
	OSCapabilityMisses   int
	L4Autoruns           int
	PolicyBlocks         int
	DeviationStops       int
	PatchesProposed      int
	PatchesAutoAdopted   int
	QueueDepthPeak       int
	RetryRate            float64
	TopFailures          []FailureCluster
}

// Snapshot aggregates every event within [now-window, now] into a
// read-only Snapshot. topK bounds the failure-cluster list (0 means no
// limit).
func (r *Recorder) Snapshot(now time.Time, window time.Duration, topK int) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-window)
	var durations []int64
	var completed, failed, approvalsReq, approvalsGranted int
	var verifierPass, verifierTotal int
	var schemaCaptures, uploadOK, uploadTotal int
	var osMisses, l4Autoruns, policyBlocks, devStops int
	var patchesProposed, patchesAdopted, retries, queueDepthPeak int
	failureCounts := make(map[string]int)

	for _, e := range r.events {
		if e.at.Before(cutoff) || e.at.After(now) {
			continue
		}
		switch e.kind {
		case eventRunCompleted:
			completed++
			durations = append(durations, e.durationMs)
		case eventRunFailed:
			failed++
			durations = append(durations, e.durationMs)
		case eventApprovalRequired:
			approvalsReq++
		case eventApprovalGranted:
			approvalsGranted++
		case eventVerifierPass:
			verifierPass++
			verifierTotal++
		case eventVerifierFail:
			verifierTotal++
		case eventSchemaCapture:
			schemaCaptures++
		case eventWebUploadSuccess:
			uploadOK++
			uploadTotal++
		case eventWebUploadFail:
			uploadTotal++
		case eventOSCapabilityMiss:
			osMisses++
		case eventL4Autorun:
			l4Autoruns++
		case eventPolicyBlock:
			policyBlocks++
		case eventDeviationStop:
			devStops++
		case eventPatchProposed:
			patchesProposed++
		case eventPatchAutoAdopted:
			patchesAdopted++
		case eventRetry:
			retries++
		case eventQueueDepthSample:
			if int(e.value) > queueDepthPeak {
				queueDepthPeak = int(e.value)
			}
		case eventFailureCode:
			failureCounts[e.errorCode]++
		}
	}

	total := completed + failed
	snap := Snapshot{
		Window: window, TotalRuns: total,
		ApprovalsRequired: approvalsReq, ApprovalsGranted: approvalsGranted,
		SchemaCaptures: schemaCaptures, OSCapabilityMisses: osMisses,
		L4Autoruns: l4Autoruns, PolicyBlocks: policyBlocks, DeviationStops: devStops,
		PatchesProposed: patchesProposed, PatchesAutoAdopted: patchesAdopted,
		QueueDepthPeak: queueDepthPeak,
	}
	if total > 0 {
		snap.SuccessRate = float64(completed) / float64(total)
		snap.RetryRate = float64(retries) / float64(total)
	}
	if verifierTotal > 0 {
		snap.VerifierPassRate = float64(verifierPass) / float64(verifierTotal)
	}
	if uploadTotal > 0 {
		snap.WebUploadSuccessRate = float64(uploadOK) / float64(uploadTotal)
	}
	snap.MedianDurationMs, snap.P95DurationMs = percentiles(durations)
	snap.TopFailures = topFailures(failureCounts, topK)
	return snap
}

func percentiles(vals []int64) (median, p95 float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	sorted := append([]int64(nil), vals...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return float64(sorted[percentileIndex(len(sorted), 0.5)]), float64(sorted[percentileIndex(len(sorted), 0.95)])
}

func percentileIndex(n int, p float64) int {
	idx := int(p * float64(n-1))
	if idx < 0 {
		return 0
	}
	if idx > n-1 {
		return n - 1
	}
	return idx
}

// topFailures sorts by descending count, breaking ties alphabetically
// by code for a deterministic snapshot.
func topFailures(counts map[string]int, topK int) []FailureCluster {
	clusters := make([]FailureCluster, 0, len(counts))
	for code, n := range counts {
		clusters = append(clusters, FailureCluster{Code: code, Count: n})
	}
	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].Count != clusters[j].Count {
			return clusters[i].Count > clusters[j].Count
		}
		return clusters[i].Code < clusters[j].Code
	})
	if topK > 0 && len(clusters) > topK {
		clusters = clusters[:topK]
	}
	return clusters
}

// AuditEntry is one JSON-lines record in the policy audit log.
type AuditEntry struct {
	At     time.Time `json:"at"`
	RunID  *int64    `json:"run_id,omitempty"`
	Event  string    `json:"event"`
	Detail string    `json:"detail"`
}

// AuditLogWriter appends JSON-lines audit entries to artifacts.audit_log_path,
// using the same append-create-writeonly flags the rotated log file output
// mode uses.
type AuditLogWriter struct {
	mu   sync.Mutex
	file *os.File
}

func NewAuditLogWriter(path string) (*AuditLogWriter, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}
	return &AuditLogWriter{file: f}, nil
}

// Append matches the (ctx, *int64, event, detail, at) shape every other
// AppendAudit in the module uses, so it can be composed alongside
// store.Store.AppendAudit.
func (w *AuditLogWriter) Append(ctx context.Context, runID *int64, event, detail string, at time.Time) error {
	line, err := json.Marshal(AuditEntry{At: at.UTC(), RunID: runID, Event: event, Detail: detail})
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.file.Write(append(line, '\n'))
	return err
}

func (w *AuditLogWriter) Close() error { return w.file.Close() }
