// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package dslmodel_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Axion-inc/DesktopAgent/internal/dslmodel"
)

const samplePlan = `
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

func TestParse_OrderAndActionRecovery(t *testing.T) {
	plan, err := dslmodel.Parse([]byte(samplePlan))
	require.NoError(t, err)

	assert.Equal(t, "1.1", plan.DSLVersion)
	require.Len(t, plan.Steps, 2)

	assert.Equal(t, "find_files", plan.Steps[0].Action)
	assert.Equal(t, 0, plan.Steps[0].Index)
	assert.Equal(t, "*.pdf", plan.Steps[0].Params["query"])

	assert.Equal(t, "rename", plan.Steps[1].Action)
	assert.Equal(t, 1, plan.Steps[1].Index)
	assert.Equal(t, "approver", plan.Steps[1].RequiredRole)
	assert.Equal(t, `{{steps[0].count}} > 0`, plan.Steps[1].When)
}

func TestParse_LegacyVersionRejectedLater(t *testing.T) {
	plan, err := dslmodel.Parse([]byte(`
dsl_version: "1.0"
name: old-plan
steps:
  - legacy_action: {}
`))
	require.NoError(t, err)
	assert.Equal(t, "1.0", plan.DSLVersion)
	assert.NotEqual(t, dslmodel.SupportedDSLVersion, plan.DSLVersion)
}

func TestParse_StepWithTwoActionsRejected(t *testing.T) {
	_, err := dslmodel.Parse([]byte(`
dsl_version: "1.1"
name: bad
steps:
  - find_files: {}
    rename: {}
`))
	assert.Error(t, err)
}

func TestCanonicalBytes_ExcludesSignature(t *testing.T) {
	plan, err := dslmodel.Parse([]byte(samplePlan))
	require.NoError(t, err)
	plan.Signature = &dslmodel.SignatureBlock{Algo: "ed25519", KeyID: "k1", Sig: "abc"}

	b, err := dslmodel.CanonicalBytes(plan)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "abc")
}
