// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const samplePlanYAML = `
dsl_version: "1.1"
name: invoice-sweep
variables:
  search_roots:
    - "~/Downloads"
steps:
  - find_files:
      query: "*.pdf"
      roots: "{{search_roots}}"
  - rename:
      source: "{{steps[0].path}}"
      pattern: "invoice-{date}.pdf"
    when: '{{steps[0].count}} > 0'
    required_role: "approver"
`

func TestRunTemplates_SkipsNonYAMLAndReportsParsedPlans(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "invoice-sweep.yaml"), []byte(samplePlanYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("not a plan"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	require.NoError(t, runTemplates(dir))
}

func TestRunTemplates_MissingDirIsNotAnError(t *testing.T) {
	require.NoError(t, runTemplates(filepath.Join(t.TempDir(), "does-not-exist")))
}
