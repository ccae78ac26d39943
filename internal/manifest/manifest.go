// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest derives a Manifest (capabilities, risk flags, target
// domains) from a parsed plan (spec §4.D). Derivation is a pure function
// of the plan's static structure: it never looks at secrets, never
// contacts an adapter, and is required to be deterministic byte-for-byte
// across repeated calls on the same plan.
package manifest

import (
	"net/url"
	"sort"
	"strings"

	"github.com/Axion-inc/DesktopAgent/internal/dslmodel"
)

// SignatureInfo mirrors the signature block, if any, without depending on
// the trust package (manifest derivation must not require verification).
type SignatureInfo struct {
	Algo  string
	KeyID string
	Sig   string
}

// Manifest is the derived, deterministic summary of a plan (spec §3).
type Manifest struct {
	Capabilities         []string // ordered, deduplicated
	RiskFlags            []string
	RequiredCapabilities []string
	TargetDomains        []string // ordered by first appearance, deduplicated
	SignatureInfo        *SignatureInfo
}

// actionCapability maps each closed action to the capability category it
// exercises (spec §3 manifest capability vocabulary: fs/pdf/mail_draft/webx).
var actionCapability = map[string]string{
	"find_files": "fs", "rename": "fs", "move_to": "fs",
	"pdf_merge": "pdf", "pdf_extract_pages": "pdf", "assert_pdf_pages": "pdf",
	"compose_mail": "mail_draft", "attach_files": "mail_draft", "save_draft": "mail_draft",
	"open_browser": "webx", "fill_by_label": "webx", "click_by_text": "webx",
	"upload_file": "webx", "download_file": "webx", "wait_for_download": "webx",
	"capture_screen_schema": "webx", "wait_for_element": "webx",
	"assert_element": "webx", "assert_text": "webx",
	"assert_file_exists": "fs",
}

// sendsTokens/deletesTokens/overwritesTokens implement the "several
// written languages" destructive-vocabulary requirement of spec §4.D with
// a bounded literal table (English, Spanish, French, German, Japanese,
// Simplified Chinese) rather than a library: no pack dependency does
// multilingual destructive-keyword classification, and the set is small
// and fixed by spec, not learned or extended at runtime.
var (
	sendsTokens = []string{
		"send", "submit", "enviar", "envoyer", "senden", "送信", "发送", "提交",
	}
	deletesTokens = []string{
		"delete", "remove", "borrar", "eliminar", "supprimer", "löschen", "削除", "删除",
	}
	overwritesTokens = []string{
		"overwrite", "sobrescribir", "écraser", "überschreiben", "上書き", "覆盖",
	}
)

// Derive walks plan's steps in order and returns its Manifest. Ordering
// within each returned set follows first-appearance order over the plan's
// steps, then params are visited in a key-sorted order so that Go's
// randomized map iteration can never change the result — this is what
// makes Derive reproducibly byte-identical across runs (testable property
// 1, spec §8).
func Derive(plan *dslmodel.Plan) *Manifest {
	m := &Manifest{}
	caps := newOrderedSet()
	risks := newOrderedSet()
	domains := newOrderedSet()

	for _, step := range plan.Steps {
		if cap, ok := actionCapability[step.Action]; ok {
			caps.add(cap)
		}

		if step.Action == "compose_mail" {
			risks.add("sends")
		}

		keys := sortedKeys(step.Params)
		for _, k := range keys {
			v := step.Params[k]
			if k == "overwrite_if_exists" {
				if b, ok := v.(bool); ok && b {
					risks.add("overwrites")
				}
			}
			scanValue(v, &risks, &domains)
		}
	}

	m.Capabilities = caps.items
	m.RequiredCapabilities = append([]string{}, caps.items...)
	m.RiskFlags = risks.items
	m.TargetDomains = domains.items
	return m
}

func scanValue(v interface{}, risks, domains *orderedSet) {
	switch t := v.(type) {
	case string:
		scanString(t, risks, domains)
	case []interface{}:
		for _, item := range t {
			scanValue(item, risks, domains)
		}
	case map[string]interface{}:
		for _, k := range sortedKeys(t) {
			scanValue(t[k], risks, domains)
		}
	}
}

func scanString(s string, risks, domains *orderedSet) {
	lower := strings.ToLower(s)
	for _, tok := range sendsTokens {
		if strings.Contains(lower, tok) {
			risks.add("sends")
			break
		}
	}
	for _, tok := range deletesTokens {
		if strings.Contains(lower, tok) {
			risks.add("deletes")
			break
		}
	}
	for _, tok := range overwritesTokens {
		if strings.Contains(lower, tok) {
			risks.add("overwrites")
			break
		}
	}

	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		if u, err := url.Parse(s); err == nil && u.Host != "" {
			domains.add(u.Host)
		}
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type orderedSet struct {
	items []string
	seen  map[string]bool
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]bool)}
}

func (s *orderedSet) add(v string) {
	if s.seen[v] {
		return
	}
	s.seen[v] = true
	s.items = append(s.items, v)
}
