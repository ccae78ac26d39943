// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package verifier_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Axion-inc/DesktopAgent/internal/dslmodel"
	"github.com/Axion-inc/DesktopAgent/internal/osadapter"
	"github.com/Axion-inc/DesktopAgent/internal/verifier"
	"github.com/Axion-inc/DesktopAgent/internal/webengine"
)

type fakeEngine struct {
	nodes      []webengine.SchemaNode
	nodesAfter []webengine.SchemaNode // returned once extended search kicks in
	calls      int
}

func (f *fakeEngine) Open(ctx context.Context, url string, oc webengine.OpenContext) error { return nil }
func (f *fakeEngine) Fill(ctx context.Context, s, t string, fr webengine.FrameRef) error    { return nil }
func (f *fakeEngine) Click(ctx context.Context, s, r string, fr webengine.FrameRef) error   { return nil }
func (f *fakeEngine) Upload(ctx context.Context, s, p string) error                         { return nil }
func (f *fakeEngine) WaitForDownload(ctx context.Context, to string, t int) (string, error) {
	return "", nil
}
func (f *fakeEngine) CaptureDOMSchema(ctx context.Context, target string) ([]webengine.SchemaNode, error) {
	f.calls++
	if f.calls > 1 && f.nodesAfter != nil {
		return f.nodesAfter, nil
	}
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
func (f *fakeEngine) FrameClear(ctx context.Context) error                { return nil }
func (f *fakeEngine) PierceShadow(ctx context.Context, s string) error     { return nil }
func (f *fakeEngine) Close() error                                        { return nil }

type fakeOS struct {
	pageCount int
	pdfErr    error
}

func (f *fakeOS) Capabilities(ctx context.Context) map[string]osadapter.CapabilityInfo { return nil }
func (f *fakeOS) TakeScreenshot(ctx context.Context, path string) error                { return nil }
func (f *fakeOS) ComposeMail(ctx context.Context, m osadapter.MailMessage) (string, error) {
	return "", nil
}
func (f *fakeOS) FileOps(ctx context.Context, r osadapter.FileOpRequest) (osadapter.FileOpResult, error) {
	return osadapter.FileOpResult{}, nil
}
func (f *fakeOS) PDFOps(ctx context.Context, r osadapter.PDFOpRequest) (osadapter.PDFOpResult, error) {
	if f.pdfErr != nil {
		return osadapter.PDFOpResult{}, f.pdfErr
	}
	return osadapter.PDFOpResult{Path: r.Path, PageCount: f.pageCount}, nil
}
func (f *fakeOS) CheckPermissions(ctx context.Context) osadapter.PermissionReport {
	return osadapter.PermissionReport{}
}

func TestVerifier_AssertElement_PassesOnFirstTry(t *testing.T) {
	eng := &fakeEngine{nodes: []webengine.SchemaNode{{Selector: "#btn", Visible: true}}}
	v := verifier.New(eng, &fakeOS{})

	outcome, err := v.Run(context.Background(), "assert_element", map[string]interface{}{
		"selector": "#btn", "count_gte": 1,
	})
	require.NoError(t, err)
	assert.Equal(t, dslmodel.StatusPass, outcome.Status)
}

func TestVerifier_AssertText_RetriesWithBroadenedSearch(t *testing.T) {
	eng := &fakeEngine{
		nodes: []webengine.SchemaNode{{Selector: "#msg", Text: "Different text"}},
	}
	v := verifier.New(eng, &fakeOS{})

	outcome, err := v.Run(context.Background(), "assert_text", map[string]interface{}{
		"selector": "#msg", "text": "expected",
	})
	require.NoError(t, err)
	assert.Equal(t, dslmodel.StatusFail, outcome.Status)
}

func TestVerifier_AssertText_PassesOnExactMatch(t *testing.T) {
	eng := &fakeEngine{nodes: []webengine.SchemaNode{{Selector: "#msg", Text: "hello"}}}
	v := verifier.New(eng, &fakeOS{})

	outcome, err := v.Run(context.Background(), "assert_text", map[string]interface{}{
		"selector": "#msg", "text": "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, dslmodel.StatusPass, outcome.Status)
}

func TestVerifier_AssertFileExists_RetrySucceedsAfterDelay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "evidence.txt")

	go func() {
		_ = os.WriteFile(path, []byte("x"), 0o644)
	}()

	v := verifier.New(&fakeEngine{}, &fakeOS{})
	outcome, err := v.Run(context.Background(), "assert_file_exists", map[string]interface{}{"path": path})
	require.NoError(t, err)
	assert.Contains(t, []dslmodel.StepStatus{dslmodel.StatusPass, dslmodel.StatusRetry}, outcome.Status)
}

func TestVerifier_AssertFileExists_FailsWhenMissing(t *testing.T) {
	v := verifier.New(&fakeEngine{}, &fakeOS{})
	outcome, err := v.Run(context.Background(), "assert_file_exists", map[string]interface{}{
		"path": "/nonexistent/path/file.txt",
	})
	require.NoError(t, err)
	assert.Equal(t, dslmodel.StatusFail, outcome.Status)
}

func TestVerifier_AssertPDFPages_PassesOnMatch(t *testing.T) {
	v := verifier.New(&fakeEngine{}, &fakeOS{pageCount: 10})
	outcome, err := v.Run(context.Background(), "assert_pdf_pages", map[string]interface{}{
		"path": "report.pdf", "expected_pages": 10,
	})
	require.NoError(t, err)
	assert.Equal(t, dslmodel.StatusPass, outcome.Status)
}

func TestVerifier_AssertPDFPages_FailsOnMismatch(t *testing.T) {
	v := verifier.New(&fakeEngine{}, &fakeOS{pageCount: 3})
	outcome, err := v.Run(context.Background(), "assert_pdf_pages", map[string]interface{}{
		"path": "report.pdf", "expected_pages": 10,
	})
	require.NoError(t, err)
	assert.Equal(t, dslmodel.StatusFail, outcome.Status)
}

func TestVerifier_UnknownAction(t *testing.T) {
	v := verifier.New(&fakeEngine{}, &fakeOS{})
	_, err := v.Run(context.Background(), "not_a_verifier", nil)
	assert.Error(t, err)
}
