// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package osadapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/Axion-inc/DesktopAgent/internal/common/logger"
)

// DefaultAdapter probes real host characteristics for capability
// reporting and permission checks via gopsutil; file and PDF operations
// are implemented directly against the local filesystem because concrete
// per-OS Finder/PDF integration is out of scope — they are real, working
// implementations, just not OS-native ones. Screenshots and mail
// composition are stubs (see TakeScreenshot and ComposeMail).
type DefaultAdapter struct {
	log            logger.Logger
	screenshotRoot string
	strict         bool
}

// NewDefaultAdapter builds a DefaultAdapter writing screenshots under
// screenshotRoot. strict mirrors PERMISSIONS_STRICT.
func NewDefaultAdapter(screenshotRoot string, strict bool) *DefaultAdapter {
	return &DefaultAdapter{
		log:            logger.NewLogger("osadapter"),
		screenshotRoot: screenshotRoot,
		strict:         strict,
	}
}

// Capabilities reports file and PDF availability from a real disk
// headroom probe (download/attachment targets); screenshot and mail are
// always reported available.
func (a *DefaultAdapter) Capabilities(ctx context.Context) map[string]CapabilityInfo {
	caps := map[string]CapabilityInfo{
		CapScreenshot: {Available: true, Concurrency: 1},
		CapMail:       {Available: true, Concurrency: 1},
	}

	usage, err := disk.UsageWithContext(ctx, a.diskRoot())
	fsAvailable := err == nil && usage.Free > 0
	if err != nil {
		a.log.Warnf("disk usage probe failed: %v", err)
	}
	caps[CapFileOps] = CapabilityInfo{Available: fsAvailable, Concurrency: 4}
	caps[CapPDFOps] = CapabilityInfo{Available: fsAvailable, Concurrency: 2}

	return caps
}

func (a *DefaultAdapter) diskRoot() string {
	if a.screenshotRoot != "" {
		return a.screenshotRoot
	}
	return "/"
}

// TakeScreenshot is a stub: real screen capture is an OS-native concern
// out of scope here. It writes a zero-byte placeholder so downstream
// evidence paths resolve consistently in tests and dry runs.
func (a *DefaultAdapter) TakeScreenshot(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create screenshot dir: %w", err)
	}
	return os.WriteFile(path, []byte{}, 0o644)
}

// ComposeMail stubs out a real mail client: it returns a deterministic
// draft id derived from the message so tests and audit logs can assert
// on it without a live Mail.app/Outlook integration.
func (a *DefaultAdapter) ComposeMail(ctx context.Context, msg MailMessage) (string, error) {
	draftID := fmt.Sprintf("draft-%d-%s", time.Now().UnixNano(), strings.Join(msg.To, ","))
	return draftID, nil
}

// FileOps implements find/rename/move directly against the local
// filesystem.
func (a *DefaultAdapter) FileOps(ctx context.Context, req FileOpRequest) (FileOpResult, error) {
	switch req.Op {
	case "find":
		return a.findFiles(req)
	case "rename":
		return a.renameFile(req)
	case "move":
		return a.moveFile(req)
	default:
		return FileOpResult{}, fmt.Errorf("unsupported file op %q", req.Op)
	}
}

func (a *DefaultAdapter) findFiles(req FileOpRequest) (FileOpResult, error) {
	var matches []string
	for _, root := range req.Roots {
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				return nil
			}
			ok, matchErr := filepath.Match(req.Query, d.Name())
			if matchErr == nil && ok {
				matches = append(matches, path)
			}
			return nil
		})
		if err != nil {
			return FileOpResult{}, err
		}
	}
	sort.Strings(matches)
	if req.Limit > 0 && len(matches) > req.Limit {
		matches = matches[:req.Limit]
	}
	return FileOpResult{Paths: matches}, nil
}

func (a *DefaultAdapter) renameFile(req FileOpRequest) (FileOpResult, error) {
	dir := filepath.Dir(req.Path)
	newPath := filepath.Join(dir, req.Pattern)
	if err := os.Rename(req.Path, newPath); err != nil {
		return FileOpResult{}, err
	}
	return FileOpResult{Path: newPath}, nil
}

func (a *DefaultAdapter) moveFile(req FileOpRequest) (FileOpResult, error) {
	createdDir := false
	if _, err := os.Stat(req.Dest); os.IsNotExist(err) {
		if err := os.MkdirAll(req.Dest, 0o755); err != nil {
			return FileOpResult{}, err
		}
		createdDir = true
	}
	newPath := filepath.Join(req.Dest, filepath.Base(req.Path))
	if err := os.Rename(req.Path, newPath); err != nil {
		return FileOpResult{}, err
	}
	return FileOpResult{Path: newPath, CreatedDir: createdDir}, nil
}

// PDFOps implements merge/extract/page_count against pdfcpu, the one
// concrete PDF engine this core ships (spec §6 lists pdf_ops as part of
// the OS adapter contract, unlike screen capture or native mail, which
// have no portable cross-OS library and stay stubbed above).
func (a *DefaultAdapter) PDFOps(ctx context.Context, req PDFOpRequest) (PDFOpResult, error) {
	switch req.Op {
	case "merge":
		return a.mergePDFs(req)
	case "extract":
		return a.extractPDFPages(req)
	case "page_count":
		return a.pdfPageCount(req)
	default:
		return PDFOpResult{}, fmt.Errorf("unsupported pdf op %q", req.Op)
	}
}

func (a *DefaultAdapter) mergePDFs(req PDFOpRequest) (PDFOpResult, error) {
	if err := os.MkdirAll(filepath.Dir(req.Path), 0o755); err != nil {
		return PDFOpResult{}, fmt.Errorf("create merge output dir: %w", err)
	}
	if err := pdfapi.MergeCreateFile(req.Inputs, req.Path, false, nil); err != nil {
		return PDFOpResult{}, fmt.Errorf("merge pdfs: %w", err)
	}
	count, err := pdfapi.PageCountFile(req.Path)
	if err != nil {
		return PDFOpResult{}, fmt.Errorf("count merged pages: %w", err)
	}
	return PDFOpResult{Path: req.Path, PageCount: count}, nil
}

func (a *DefaultAdapter) extractPDFPages(req PDFOpRequest) (PDFOpResult, error) {
	outDir := filepath.Dir(req.Path)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return PDFOpResult{}, fmt.Errorf("create extract output dir: %w", err)
	}
	ranges := []string{req.Ranges}
	if req.Ranges == "" {
		ranges = nil
	}
	if err := pdfapi.ExtractPagesFile(req.Path, outDir, ranges, nil); err != nil {
		return PDFOpResult{}, fmt.Errorf("extract pdf pages: %w", err)
	}
	count, err := pdfapi.PageCountFile(req.Path)
	if err != nil {
		return PDFOpResult{}, fmt.Errorf("count extracted pages: %w", err)
	}
	return PDFOpResult{Path: req.Path, PageCount: count}, nil
}

func (a *DefaultAdapter) pdfPageCount(req PDFOpRequest) (PDFOpResult, error) {
	count, err := pdfapi.PageCountFile(req.Path)
	if err != nil {
		return PDFOpResult{}, fmt.Errorf("count pdf pages: %w", err)
	}
	return PDFOpResult{Path: req.Path, PageCount: count}, nil
}

// CheckPermissions probes for a live process as a stand-in for a real
// OS permission dialog (screen recording / automation grants have no
// portable gopsutil check); PERMISSIONS_STRICT governs whether a miss
// blocks execution.
func (a *DefaultAdapter) CheckPermissions(ctx context.Context) PermissionReport {
	granted := map[string]bool{
		"file_access": true,
	}

	procs, err := process.ProcessesWithContext(ctx)
	granted["automation"] = err == nil && len(procs) > 0
	if err != nil {
		a.log.Warnf("process enumeration failed: %v", err)
	}

	return PermissionReport{Granted: granted, Strict: a.strict}
}

// StrictFromEnv reads PERMISSIONS_STRICT the way spec'd environment
// variables are parsed elsewhere in the module.
func StrictFromEnv() bool {
	v, ok := os.LookupEnv("PERMISSIONS_STRICT")
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
