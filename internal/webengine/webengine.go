// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package webengine defines the narrow DOM-automation surface the
// Executor consumes and ships a JSON-RPC client over websocket (one
// request per operation, not batched) talking to an external
// browser-automation engine. The core never
// touches the DOM directly.
package webengine

import "context"

// OpenContext carries the declared host allowlist that Open checks the
// target URL against before it issues the navigation.
type OpenContext struct {
	AllowDomains []string
}

// FrameRef selects an iframe by name/selector, or the empty value for
// the top-level document.
type FrameRef string

// Cookie is a single cookie get/set value.
type Cookie struct {
	Name   string
	Value  string
	Domain string
}

// SchemaNode is one element captured by CaptureDOMSchema, enough for the
// Verifier's assert_element/assert_text checks without full DOM access.
type SchemaNode struct {
	Selector string
	Role     string
	Text     string
	Visible  bool
}

// Engine is the contract the Executor dispatches
// open_browser/fill_by_label/click_by_text/upload_file/download_file/
// wait_for_download/capture_screen_schema and the Verifier's
// wait_for_element/assert_element/assert_text through.
type Engine interface {
	Open(ctx context.Context, url string, oc OpenContext) error
	Fill(ctx context.Context, labelOrSelector, text string, frame FrameRef) error
	Click(ctx context.Context, textOrSelector, role string, frame FrameRef) error
	Upload(ctx context.Context, labelOrSelector, path string) error
	WaitForDownload(ctx context.Context, to string, timeoutMs int) (string, error)
	CaptureDOMSchema(ctx context.Context, target string) ([]SchemaNode, error)
	GetCookie(ctx context.Context, name string) (Cookie, error)
	SetCookie(ctx context.Context, c Cookie) error
	GetStorageItem(ctx context.Context, key string) (string, error)
	SetStorageItem(ctx context.Context, key, value string) error
	FrameSelect(ctx context.Context, name string) (FrameRef, error)
	FrameClear(ctx context.Context) error
	PierceShadow(ctx context.Context, hostSelector string) error
	Close() error
}

// hostAllowed reports whether host matches one of the allowlist entries
// (an exact match or a subdomain of an allowed entry). An empty allowlist
// allows every host.
func hostAllowed(host string, allow []string) bool {
	for _, a := range allow {
		if host == a || (len(host) > len(a) && host[len(host)-len(a)-1:] == "."+a) {
			return true
		}
	}
	return len(allow) == 0
}
