// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package executor_test

import (
	"context"
	"sync"
	"time"

	"github.com/Axion-inc/DesktopAgent/internal/dslmodel"
	"github.com/Axion-inc/DesktopAgent/internal/osadapter"
	"github.com/Axion-inc/DesktopAgent/internal/store"
	"github.com/Axion-inc/DesktopAgent/internal/webengine"
)

// fakeOS is a scriptable osadapter.OSAdapter test double.
type fakeOS struct {
	findResult   osadapter.FileOpResult
	findErr      error
	moveErr      error
	pdfPageCount int
	mailDraftID  string
}

func (f *fakeOS) Capabilities(ctx context.Context) map[string]osadapter.CapabilityInfo { return nil }
func (f *fakeOS) TakeScreenshot(ctx context.Context, path string) error                { return nil }
func (f *fakeOS) ComposeMail(ctx context.Context, m osadapter.MailMessage) (string, error) {
	return f.mailDraftID, nil
}
func (f *fakeOS) FileOps(ctx context.Context, r osadapter.FileOpRequest) (osadapter.FileOpResult, error) {
	switch r.Op {
	case "find":
		return f.findResult, f.findErr
	case "move":
		if f.moveErr != nil {
			return osadapter.FileOpResult{}, f.moveErr
		}
		return osadapter.FileOpResult{Path: r.Dest + "/moved"}, nil
	default:
		return osadapter.FileOpResult{Path: r.Path}, nil
	}
}
func (f *fakeOS) PDFOps(ctx context.Context, r osadapter.PDFOpRequest) (osadapter.PDFOpResult, error) {
	return osadapter.PDFOpResult{Path: r.Path, PageCount: f.pdfPageCount}, nil
}
func (f *fakeOS) CheckPermissions(ctx context.Context) osadapter.PermissionReport {
	return osadapter.PermissionReport{}
}

// fakeEngine is a scriptable webengine.Engine test double.
type fakeEngine struct {
	openErr      error
	nodes        []webengine.SchemaNode
	fillErr      error
	clickErr     error
	acceptsLabel string // when set, Fill succeeds only for this exact label
}

func (f *fakeEngine) Open(ctx context.Context, url string, oc webengine.OpenContext) error {
	return f.openErr
}
func (f *fakeEngine) Fill(ctx context.Context, s, t string, fr webengine.FrameRef) error {
	if f.acceptsLabel != "" {
		if s == f.acceptsLabel {
			return nil
		}
		return f.fillErr
	}
	return f.fillErr
}
func (f *fakeEngine) Click(ctx context.Context, s, r string, fr webengine.FrameRef) error {
	return f.clickErr
}
func (f *fakeEngine) Upload(ctx context.Context, s, p string) error { return nil }
func (f *fakeEngine) WaitForDownload(ctx context.Context, to string, t int) (string, error) {
	return to + "/downloaded", nil
}
func (f *fakeEngine) CaptureDOMSchema(ctx context.Context, target string) ([]webengine.SchemaNode, error) {
	return f.nodes, nil
}
func (f *fakeEngine) GetCookie(ctx context.Context, n string) (webengine.Cookie, error) {
	return webengine.Cookie{}, nil
}
func (f *fakeEngine) SetCookie(ctx context.Context, c webengine.Cookie) error { return nil }
func (f *fakeEngine) GetStorageItem(ctx context.Context, k string) (string, error) {
	return "", nil
}
func (f *fakeEngine) SetStorageItem(ctx context.Context, k, v string) error { return nil }
func (f *fakeEngine) FrameSelect(ctx context.Context, n string) (webengine.FrameRef, error) {
	return "", nil
}
func (f *fakeEngine) FrameClear(ctx context.Context) error            { return nil }
func (f *fakeEngine) PierceShadow(ctx context.Context, s string) error { return nil }
func (f *fakeEngine) Close() error                                    { return nil }

// fakePersister is an in-memory RunPersister recording every call so
// tests can assert on the sequence of state transitions and results.
type fakePersister struct {
	mu         sync.Mutex
	states     []store.RunState
	results    []*dslmodel.StepResult
	approvals  []*store.ApprovalRecord
	auditCount int
}

func (p *fakePersister) UpdateRunState(ctx context.Context, runID int64, state store.RunState, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, state)
	return nil
}

func (p *fakePersister) SaveStepResult(ctx context.Context, runID int64, res *dslmodel.StepResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, res)
	return nil
}

func (p *fakePersister) SaveEvidence(ctx context.Context, runID int64, stepIndex int, kind, artifactKey string, at time.Time) error {
	return nil
}

func (p *fakePersister) SaveApproval(ctx context.Context, a *store.ApprovalRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *a
	p.approvals = append(p.approvals, &cp)
	return nil
}

func (p *fakePersister) AppendAudit(ctx context.Context, runID *int64, event, detail string, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.auditCount++
	return nil
}

func (p *fakePersister) lastState() store.RunState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.states) == 0 {
		return ""
	}
	return p.states[len(p.states)-1]
}
