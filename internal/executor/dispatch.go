// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"fmt"

	"github.com/Axion-inc/DesktopAgent/internal/dslmodel"
	"github.com/Axion-inc/DesktopAgent/internal/errtaxonomy"
	"github.com/Axion-inc/DesktopAgent/internal/osadapter"
	"github.com/Axion-inc/DesktopAgent/internal/webengine"
)

// dispatchResult is one action's outcome before it is folded into a
// dslmodel.StepResult: the action-specific output map, any self-recovery
// notes produced along the way, and the error (already taxonomy-coded)
// if the action failed.
type dispatchResult struct {
	Output   map[string]interface{}
	Recovery []dslmodel.RecoveryNote
	Err      error
}

// dispatchFunc performs one closed action against the adapters and
// returns its declared output (spec §6's per-action input/output
// contract table).
type dispatchFunc func(ctx context.Context, d *Dispatcher, stepIndex int, params map[string]interface{}) dispatchResult

// Dispatcher holds the capability singletons the action table calls
// through. It does not limit concurrent calls per adapter and does not
// consult the declared capability concurrency; the only bound is the
// queue Pool (internal/queue), which runs at most max_concurrent items
// per queue.
type Dispatcher struct {
	OS  osadapter.OSAdapter
	Web webengine.Engine
}

func NewDispatcher(os osadapter.OSAdapter, web webengine.Engine) *Dispatcher {
	return &Dispatcher{OS: os, Web: web}
}

var actionTable = map[string]dispatchFunc{
	"find_files":            dispatchFindFiles,
	"rename":                dispatchRename,
	"move_to":                dispatchMove,
	"pdf_merge":              dispatchPDFMerge,
	"pdf_extract_pages":      dispatchPDFExtract,
	"compose_mail":           dispatchComposeMail,
	"attach_files":           dispatchComposeMail,
	"save_draft":             dispatchComposeMail,
	"open_browser":           dispatchOpenBrowser,
	"fill_by_label":          dispatchFillByLabel,
	"click_by_text":          dispatchClickByText,
	"upload_file":            dispatchUploadFile,
	"download_file":          dispatchWaitForDownload,
	"wait_for_download":      dispatchWaitForDownload,
	"capture_screen_schema":  dispatchCaptureSchema,
}

// Dispatch runs action against the adapters. human_confirm, policy_guard,
// and the verifier actions have no adapter call to make and are handled
// directly by Executor rather than through this table.
func Dispatch(ctx context.Context, d *Dispatcher, action string, stepIndex int, params map[string]interface{}) dispatchResult {
	fn, ok := actionTable[action]
	if !ok {
		return dispatchResult{Err: errtaxonomy.New(errtaxonomy.CodeInternal, stepIndex, fmt.Sprintf("action %q has no dispatch entry", action))}
	}
	return fn(ctx, d, stepIndex, params)
}

func strParam(p map[string]interface{}, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

func intParam(p map[string]interface{}, key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func strSliceParam(p map[string]interface{}, key string) []string {
	raw, ok := p[key].([]interface{})
	if !ok {
		if s, ok := p[key].([]string); ok {
			return s
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func dispatchFindFiles(ctx context.Context, d *Dispatcher, stepIndex int, p map[string]interface{}) dispatchResult {
	req := osadapter.FileOpRequest{Op: "find", Roots: strSliceParam(p, "roots"), Query: strParam(p, "query"), Limit: intParam(p, "limit")}
	res, err := d.OS.FileOps(ctx, req)
	var notes []dslmodel.RecoveryNote
	if err == nil && len(res.Paths) == 0 {
		widened, note, werr := RecoverFileSearch(ctx, d.OS, req)
		notes = append(notes, note)
		if werr == nil {
			res = widened
		}
	}
	if err != nil {
		return dispatchResult{Err: errtaxonomy.Wrap(errtaxonomy.CodeFileNotFound, stepIndex, err), Recovery: notes}
	}
	return dispatchResult{Output: map[string]interface{}{"found": len(res.Paths), "paths": res.Paths}, Recovery: notes}
}

func dispatchRename(ctx context.Context, d *Dispatcher, stepIndex int, p map[string]interface{}) dispatchResult {
	req := osadapter.FileOpRequest{Op: "rename", Path: strParam(p, "path"), Pattern: strParam(p, "pattern")}
	res, err := d.OS.FileOps(ctx, req)
	if err != nil {
		return dispatchResult{Err: errtaxonomy.Wrap(errtaxonomy.CodeFileNotFound, stepIndex, err)}
	}
	return dispatchResult{Output: map[string]interface{}{"path": res.Path}}
}

func dispatchMove(ctx context.Context, d *Dispatcher, stepIndex int, p map[string]interface{}) dispatchResult {
	req := osadapter.FileOpRequest{Op: "move", Path: strParam(p, "path"), Dest: strParam(p, "dest")}
	res, err := d.OS.FileOps(ctx, req)
	var notes []dslmodel.RecoveryNote
	if err != nil {
		recovered, note, rerr := RecoverMove(ctx, d.OS, req)
		notes = append(notes, note)
		if rerr == nil {
			res, err = recovered, nil
		}
	}
	if err != nil {
		return dispatchResult{Err: errtaxonomy.Wrap(errtaxonomy.CodeFileNotFound, stepIndex, err), Recovery: notes}
	}
	return dispatchResult{Output: map[string]interface{}{"path": res.Path, "created_dir": res.CreatedDir}, Recovery: notes}
}

func dispatchPDFMerge(ctx context.Context, d *Dispatcher, stepIndex int, p map[string]interface{}) dispatchResult {
	req := osadapter.PDFOpRequest{Op: "merge", Inputs: strSliceParam(p, "inputs"), Path: strParam(p, "path")}
	res, err := d.OS.PDFOps(ctx, req)
	if err != nil {
		return dispatchResult{Err: errtaxonomy.Wrap(errtaxonomy.CodePDFParseError, stepIndex, err)}
	}
	return dispatchResult{Output: map[string]interface{}{"path": res.Path, "page_count": res.PageCount}}
}

func dispatchPDFExtract(ctx context.Context, d *Dispatcher, stepIndex int, p map[string]interface{}) dispatchResult {
	req := osadapter.PDFOpRequest{Op: "extract", Path: strParam(p, "path"), Ranges: strParam(p, "ranges")}
	res, err := d.OS.PDFOps(ctx, req)
	if err != nil {
		return dispatchResult{Err: errtaxonomy.Wrap(errtaxonomy.CodePDFParseError, stepIndex, err)}
	}
	return dispatchResult{Output: map[string]interface{}{"path": res.Path, "page_count": res.PageCount}}
}

func dispatchComposeMail(ctx context.Context, d *Dispatcher, stepIndex int, p map[string]interface{}) dispatchResult {
	msg := osadapter.MailMessage{
		To:      strSliceParam(p, "to"),
		Subject: strParam(p, "subject"),
		Body:    strParam(p, "body"),
		Files:   strSliceParam(p, "files"),
	}
	draftID, err := d.OS.ComposeMail(ctx, msg)
	if err != nil {
		return dispatchResult{Err: errtaxonomy.Wrap(errtaxonomy.CodeOSCapabilityMiss, stepIndex, err)}
	}
	return dispatchResult{Output: map[string]interface{}{"draft_id": draftID}}
}

func dispatchOpenBrowser(ctx context.Context, d *Dispatcher, stepIndex int, p map[string]interface{}) dispatchResult {
	url := strParam(p, "url")
	oc := webengine.OpenContext{AllowDomains: strSliceParam(p, "allow_domains")}
	if err := d.Web.Open(ctx, url, oc); err != nil {
		return dispatchResult{Err: errtaxonomy.Wrap(errtaxonomy.CodeWebElementMissing, stepIndex, err)}
	}
	return dispatchResult{Output: map[string]interface{}{"url": url}}
}

func dispatchFillByLabel(ctx context.Context, d *Dispatcher, stepIndex int, p map[string]interface{}) dispatchResult {
	label, text := strParam(p, "label"), strParam(p, "text")
	err := d.Web.Fill(ctx, label, text, webengine.FrameRef(strParam(p, "frame")))
	var notes []dslmodel.RecoveryNote
	if err != nil {
		note, rerr := RecoverFillBySynonym(ctx, d.Web, label, text, webengine.FrameRef(strParam(p, "frame")))
		notes = append(notes, note)
		if rerr == nil {
			err = nil
		}
	}
	if err != nil {
		return dispatchResult{Err: errtaxonomy.Wrap(errtaxonomy.CodeWebElementMissing, stepIndex, err), Recovery: notes}
	}
	return dispatchResult{Output: map[string]interface{}{"filled": true}, Recovery: notes}
}

func dispatchClickByText(ctx context.Context, d *Dispatcher, stepIndex int, p map[string]interface{}) dispatchResult {
	text, role := strParam(p, "text"), strParam(p, "role")
	err := d.Web.Click(ctx, text, role, webengine.FrameRef(strParam(p, "frame")))
	var notes []dslmodel.RecoveryNote
	if err != nil {
		note, rerr := RecoverClickBySynonym(ctx, d.Web, text, role)
		notes = append(notes, note)
		if rerr == nil {
			err = nil
		}
	}
	if err != nil {
		return dispatchResult{Err: errtaxonomy.Wrap(errtaxonomy.CodeWebElementMissing, stepIndex, err), Recovery: notes}
	}
	return dispatchResult{Output: map[string]interface{}{"clicked": true}, Recovery: notes}
}

func dispatchUploadFile(ctx context.Context, d *Dispatcher, stepIndex int, p map[string]interface{}) dispatchResult {
	if err := d.Web.Upload(ctx, strParam(p, "selector"), strParam(p, "path")); err != nil {
		return dispatchResult{Err: errtaxonomy.Wrap(errtaxonomy.CodeWebUploadFailed, stepIndex, err)}
	}
	return dispatchResult{Output: map[string]interface{}{"uploaded": true}}
}

func dispatchWaitForDownload(ctx context.Context, d *Dispatcher, stepIndex int, p map[string]interface{}) dispatchResult {
	path, err := d.Web.WaitForDownload(ctx, strParam(p, "to"), intParam(p, "timeout_ms"))
	if err != nil {
		return dispatchResult{Err: errtaxonomy.Wrap(errtaxonomy.CodeDownloadTimeout, stepIndex, err)}
	}
	return dispatchResult{Output: map[string]interface{}{"path": path}}
}

func dispatchCaptureSchema(ctx context.Context, d *Dispatcher, stepIndex int, p map[string]interface{}) dispatchResult {
	nodes, err := d.Web.CaptureDOMSchema(ctx, strParam(p, "target"))
	if err != nil {
		return dispatchResult{Err: errtaxonomy.Wrap(errtaxonomy.CodeWebElementMissing, stepIndex, err)}
	}
	serialized := make([]map[string]interface{}, 0, len(nodes))
	for _, n := range nodes {
		serialized = append(serialized, map[string]interface{}{
			"selector": n.Selector, "role": n.Role, "text": n.Text, "visible": n.Visible,
		})
	}
	return dispatchResult{Output: map[string]interface{}{"nodes": serialized}}
}
