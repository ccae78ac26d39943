// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Axion-inc/DesktopAgent/internal/dslmodel"
	"github.com/Axion-inc/DesktopAgent/internal/osadapter"
	"github.com/Axion-inc/DesktopAgent/internal/webengine"
)

// labelSynonyms is a small, bounded, read-only table of interchangeable
// UI label text. It is loaded once at process start and never grows at
// runtime — self-recovery only ever tries entries already in this table,
// never a value derived from the page itself (spec §4.I: recovery must
// stay deterministic and bounded).
var labelSynonyms = map[string][]string{
	"submit": {"send", "confirm", "ok"},
	"send":   {"submit", "confirm"},
	"save":   {"submit", "apply"},
	"cancel": {"close", "dismiss"},
	"email":  {"e-mail", "mail"},
	"e-mail": {"email", "mail"},
	"login":  {"sign in", "log in"},
	"signup": {"sign up", "register", "create account"},
}

// widenGlob loosens an exact filename glob so anything may appear before
// the name, between the name and its extension, and after it, so a
// slightly-off query (e.g. a date suffix the plan didn't predict) still
// finds the file.
func widenGlob(query string) string {
	if query == "" {
		return "*"
	}
	if query[0] == '*' && query[len(query)-1] == '*' {
		return query
	}
	ext := filepath.Ext(query)
	if ext == "" {
		return "*" + query + "*"
	}
	return "*" + strings.TrimSuffix(query, ext) + "*" + ext + "*"
}

// RecoverFileSearch retries a zero-result find_files once with a widened
// query and the immediate parent of each root added to the search set
// (spec §4.I: "file-search: widen one level and retry once").
func RecoverFileSearch(ctx context.Context, os osadapter.OSAdapter, req osadapter.FileOpRequest) (osadapter.FileOpResult, dslmodel.RecoveryNote, error) {
	widened := req
	widened.Query = widenGlob(req.Query)
	widened.Roots = append(append([]string{}, req.Roots...), parentDirs(req.Roots)...)

	res, err := os.FileOps(ctx, widened)
	if err == nil {
		// A root and its parent overlap, so one file can be found twice.
		seen := make(map[string]bool, len(res.Paths))
		unique := res.Paths[:0]
		for _, p := range res.Paths {
			if !seen[p] {
				seen[p] = true
				unique = append(unique, p)
			}
		}
		res.Paths = unique
	}
	note := dslmodel.RecoveryNote{
		Kind:    "file_search_widen",
		Detail:  fmt.Sprintf("widened query %q -> %q across %d roots", req.Query, widened.Query, len(widened.Roots)),
		Success: err == nil && len(res.Paths) > 0,
	}
	return res, note, err
}

func parentDirs(roots []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range roots {
		p := filepath.Dir(r)
		if p != r && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// RecoverMove retries a failed move by creating the destination
// directory tree (including any missing intermediate parents) and
// attempting the move exactly once more (spec §4.I: "move: mkdir and
// retry once").
func RecoverMove(ctx context.Context, adapter osadapter.OSAdapter, req osadapter.FileOpRequest) (osadapter.FileOpResult, dslmodel.RecoveryNote, error) {
	if err := os.MkdirAll(req.Dest, 0o755); err != nil {
		return osadapter.FileOpResult{}, dslmodel.RecoveryNote{
			Kind:   "move_mkdir_retry",
			Detail: fmt.Sprintf("could not create destination directory %q: %v", req.Dest, err),
		}, err
	}
	res, err := adapter.FileOps(ctx, req)
	note := dslmodel.RecoveryNote{
		Kind:    "move_mkdir_retry",
		Detail:  fmt.Sprintf("retried move to %q after creating destination directory", req.Dest),
		Success: err == nil,
	}
	return res, note, err
}

// RecoverFillBySynonym retries fill_by_label once against each bounded
// synonym of label, stopping at the first one that succeeds (spec §4.I:
// "web-label: synonym fallback, retry once").
func RecoverFillBySynonym(ctx context.Context, eng webengine.Engine, label, text string, frame webengine.FrameRef) (dslmodel.RecoveryNote, error) {
	syns := labelSynonyms[normalizeLabel(label)]
	var lastErr error
	for _, s := range syns {
		if err := eng.Fill(ctx, s, text, frame); err == nil {
			return dslmodel.RecoveryNote{
				Kind:    "web_label_synonym",
				Detail:  fmt.Sprintf("filled using synonym %q for label %q", s, label),
				Success: true,
			}, nil
		} else {
			lastErr = err
		}
	}
	return dslmodel.RecoveryNote{
		Kind:    "web_label_synonym",
		Detail:  fmt.Sprintf("no synonym of %q matched", label),
		Success: false,
	}, lastErr
}

// RecoverClickBySynonym is RecoverFillBySynonym's click-action analogue.
func RecoverClickBySynonym(ctx context.Context, eng webengine.Engine, textOrSelector, role string) (dslmodel.RecoveryNote, error) {
	syns := labelSynonyms[normalizeLabel(textOrSelector)]
	var lastErr error
	for _, s := range syns {
		if err := eng.Click(ctx, s, role, ""); err == nil {
			return dslmodel.RecoveryNote{
				Kind:    "web_label_synonym",
				Detail:  fmt.Sprintf("clicked using synonym %q for %q", s, textOrSelector),
				Success: true,
			}, nil
		} else {
			lastErr = err
		}
	}
	return dslmodel.RecoveryNote{
		Kind:    "web_label_synonym",
		Detail:  fmt.Sprintf("no synonym of %q matched", textOrSelector),
		Success: false,
	}, lastErr
}

func normalizeLabel(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
