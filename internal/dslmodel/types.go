// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package dslmodel implements the plan DSL model and its three expression
// forms: {{var}}, {{steps[i].field}}, and {{secrets://[service/]key}}. See
// spec §3 and §4.A.
package dslmodel

// Plan is the immutable, version-stamped description of a run (spec §3).
type Plan struct {
	DSLVersion string                 `yaml:"dsl_version"`
	Name       string                 `yaml:"name"`
	Variables  map[string]interface{} `yaml:"variables"`
	Execution  *ExecutionBlock        `yaml:"execution"`
	Steps      []*Step                `yaml:"steps"`

	// Signature is populated by the signer/verifier (§4.C); it is excluded
	// from the canonical byte form used to compute the signature itself.
	Signature *SignatureBlock `yaml:"signature,omitempty"`
}

// ExecutionBlock is the optional per-plan execution override (§6).
type ExecutionBlock struct {
	Queue     string       `yaml:"queue"`
	Priority  int          `yaml:"priority"`
	Retry     *RetryPolicy `yaml:"retry"`
	WebEngine string       `yaml:"web_engine"`
}

// RetryPolicy is the Executor's retry configuration (§4.I).
type RetryPolicy struct {
	MaxAttempts int `yaml:"max_attempts"`
	BackoffMs   int `yaml:"backoff_ms"`
}

// SignatureBlock carries the Ed25519 signature over the plan's canonical
// bytes (§4.C). It is never part of the bytes it signs.
type SignatureBlock struct {
	Algo      string `yaml:"algo"`
	KeyID     string `yaml:"key_id"`
	CreatedAt string `yaml:"created_at"`
	Sig       string `yaml:"sig"` // base64
}

// Step is one ordered action within a plan (spec §3). Params holds the
// action-specific, not-yet-substituted key→value map; string values may
// contain any of the three expression forms, resolved at step-start.
type Step struct {
	Index        int                    `yaml:"-"`
	Action       string                 `yaml:"-"`
	Params       map[string]interface{} `yaml:"-"`
	When         string                 `yaml:"when,omitempty"`
	Engine       string                 `yaml:"engine,omitempty"`
	RequiredRole string                 `yaml:"required_role,omitempty"`
	TimeoutMs    int                    `yaml:"timeout_ms,omitempty"`
}

// StepStatus is the terminal classification of one step execution (§3).
type StepStatus string

const (
	StatusPass    StepStatus = "PASS"
	StatusFail    StepStatus = "FAIL"
	StatusRetry   StepStatus = "RETRY"
	StatusSkipped StepStatus = "SKIPPED"
)

// RecoveryNote records one self-recovery attempt (§4.I).
type RecoveryNote struct {
	Kind    string `json:"kind"`
	Detail  string `json:"detail"`
	Success bool   `json:"success"`
}

// StepResult is the per-execution record for one step (§3).
type StepResult struct {
	StepIndex       int                    `json:"step_index"`
	Status          StepStatus             `json:"status"`
	StartedAt       string                 `json:"started_at"`
	DurationMs      int64                  `json:"duration_ms"`
	Output          map[string]interface{} `json:"output,omitempty"`
	RecoveryActions []RecoveryNote         `json:"recovery_actions,omitempty"`
	Evidence        []string               `json:"evidence,omitempty"`
	ErrorCode       string                 `json:"error_code,omitempty"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	ErrorHints      []string               `json:"error_hints,omitempty"`
}

// ClosedActions is the closed action set the core dispatches (spec §6).
// Validator rejects any action name not in this set.
var ClosedActions = map[string]bool{
	"find_files": true, "rename": true, "move_to": true,
	"pdf_merge": true, "pdf_extract_pages": true,
	"compose_mail": true, "attach_files": true, "save_draft": true,
	"open_browser": true, "fill_by_label": true, "click_by_text": true,
	"upload_file": true, "download_file": true, "wait_for_download": true,
	"capture_screen_schema": true,
	"wait_for_element": true, "assert_element": true, "assert_text": true,
	"assert_file_exists": true, "assert_pdf_pages": true,
	"human_confirm": true, "policy_guard": true,
}

// VerifierActions is the subset of ClosedActions the Verifier (§4.J) runs.
var VerifierActions = map[string]bool{
	"wait_for_element": true, "assert_element": true, "assert_text": true,
	"assert_file_exists": true, "assert_pdf_pages": true,
}

// SupportedDSLVersion is the only version this core's validator accepts.
const SupportedDSLVersion = "1.1"
