// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package verifier implements the five assertion actions
// (wait_for_element, assert_element, assert_text, assert_file_exists,
// assert_pdf_pages) as pure functions over an OSAdapter/WebEngine
// result: each assertion runs once, retries exactly once on failure with
// extended timing, and the outcome is PASS/RETRY/FAIL.
package verifier

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Axion-inc/DesktopAgent/internal/dslmodel"
	"github.com/Axion-inc/DesktopAgent/internal/osadapter"
	"github.com/Axion-inc/DesktopAgent/internal/webengine"
)

// Outcome is the result of one assertion, mutually exclusive and
// exhaustive over {PASS, RETRY, FAIL}.
type Outcome struct {
	Status  dslmodel.StepStatus
	Detail  string
	Retried bool
}

// Verifier evaluates the closed set of assertion actions.
type Verifier struct {
	Web webengine.Engine
	OS  osadapter.OSAdapter
}

func New(web webengine.Engine, os osadapter.OSAdapter) *Verifier {
	return &Verifier{Web: web, OS: os}
}

// Run dispatches one verifier action by name, applying the
// evaluate-once-retry-once rule uniformly.
func (v *Verifier) Run(ctx context.Context, action string, params map[string]interface{}) (Outcome, error) {
	switch action {
	case "wait_for_element":
		return v.retryable(ctx, params, v.waitForElement)
	case "assert_element":
		return v.retryable(ctx, params, v.assertElement)
	case "assert_text":
		return v.retryable(ctx, params, v.assertText)
	case "assert_file_exists":
		return v.retryable(ctx, params, v.assertFileExists)
	case "assert_pdf_pages":
		return v.retryable(ctx, params, v.assertPDFPages)
	default:
		return Outcome{}, fmt.Errorf("unsupported verifier action %q", action)
	}
}

type attemptFunc func(ctx context.Context, params map[string]interface{}, extended bool) (bool, string, error)

// retryable runs attempt once; on failure (including error) it retries
// once with extended timing, producing PASS/RETRY/FAIL (spec §4.J).
func (v *Verifier) retryable(ctx context.Context, params map[string]interface{}, attempt attemptFunc) (Outcome, error) {
	ok, detail, err := attempt(ctx, params, false)
	if err == nil && ok {
		return Outcome{Status: dslmodel.StatusPass, Detail: detail}, nil
	}

	ok2, detail2, err2 := attempt(ctx, params, true)
	if err2 == nil && ok2 {
		return Outcome{Status: dslmodel.StatusRetry, Detail: detail2, Retried: true}, nil
	}

	failDetail := detail2
	if failDetail == "" {
		failDetail = detail
	}
	return Outcome{Status: dslmodel.StatusFail, Detail: failDetail, Retried: true}, nil
}

func stringParam(params map[string]interface{}, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func intParam(params map[string]interface{}, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

func (v *Verifier) waitForElement(ctx context.Context, params map[string]interface{}, extended bool) (bool, string, error) {
	target := stringParam(params, "selector")
	timeoutMs := intParam(params, "timeout_ms", 2000)
	if extended {
		timeoutMs *= 2
	}
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	for {
		nodes, err := v.Web.CaptureDOMSchema(ctx, target)
		if err == nil {
			for _, n := range nodes {
				if n.Visible {
					return true, "element visible: " + n.Selector, nil
				}
			}
		}
		if time.Now().After(deadline) {
			return false, "timed out waiting for element " + target, nil
		}
		select {
		case <-ctx.Done():
			return false, "", ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (v *Verifier) assertElement(ctx context.Context, params map[string]interface{}, extended bool) (bool, string, error) {
	target := stringParam(params, "selector")
	countGte := intParam(params, "count_gte", 1)

	nodes, err := v.Web.CaptureDOMSchema(ctx, target)
	if err != nil {
		return false, "", err
	}

	count := 0
	for _, n := range nodes {
		if n.Visible && (extended || n.Selector == target || strings.Contains(n.Selector, target)) {
			count++
		}
	}
	if count >= countGte {
		return true, fmt.Sprintf("found %d matching elements", count), nil
	}
	return false, fmt.Sprintf("found %d elements, want >= %d", count, countGte), nil
}

func (v *Verifier) assertText(ctx context.Context, params map[string]interface{}, extended bool) (bool, string, error) {
	target := stringParam(params, "selector")
	want := stringParam(params, "text")

	nodes, err := v.Web.CaptureDOMSchema(ctx, target)
	if err != nil {
		return false, "", err
	}

	for _, n := range nodes {
		text := n.Text
		if extended {
			// broadened text search: case-insensitive substring instead
			// of exact match, per the element-level broadened-search rule.
			if strings.Contains(strings.ToLower(text), strings.ToLower(want)) {
				return true, "matched (broadened): " + text, nil
			}
			continue
		}
		if text == want {
			return true, "matched: " + text, nil
		}
	}
	return false, fmt.Sprintf("no element matched text %q", want), nil
}

func (v *Verifier) assertFileExists(ctx context.Context, params map[string]interface{}, extended bool) (bool, string, error) {
	path := stringParam(params, "path")
	if _, err := os.Stat(path); err == nil {
		return true, "file present: " + path, nil
	}
	if extended {
		time.Sleep(200 * time.Millisecond)
		if _, err := os.Stat(path); err == nil {
			return true, "file present on retry: " + path, nil
		}
	}
	return false, "file not found: " + path, nil
}

func (v *Verifier) assertPDFPages(ctx context.Context, params map[string]interface{}, extended bool) (bool, string, error) {
	path := stringParam(params, "path")
	expected := intParam(params, "expected_pages", -1)

	result, err := v.OS.PDFOps(ctx, osadapter.PDFOpRequest{Op: "page_count", Path: path})
	if err != nil {
		return false, "", err
	}
	if result.PageCount == expected {
		return true, fmt.Sprintf("page count matches: %d", result.PageCount), nil
	}
	return false, fmt.Sprintf("page count %d, want %d", result.PageCount, expected), nil
}
