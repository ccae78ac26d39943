// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package manifest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Axion-inc/DesktopAgent/internal/dslmodel"
	"github.com/Axion-inc/DesktopAgent/internal/manifest"
)

func TestDerive_Determinism(t *testing.T) {
	plan, err := dslmodel.Parse([]byte(`
dsl_version: "1.1"
name: weekly-report
steps:
  - find_files:
      roots: ["./sample_data"]
      query: "*.pdf"
  - pdf_merge:
      inputs: "{{steps[0].paths}}"
  - compose_mail:
      to: ["a@b"]
      subject: "Weekly"
      body: "please send this along"
`))
	require.NoError(t, err)

	m1 := manifest.Derive(plan)
	m2 := manifest.Derive(plan)
	assert.Equal(t, m1, m2)
}

func TestDerive_Capabilities(t *testing.T) {
	plan, err := dslmodel.Parse([]byte(`
dsl_version: "1.1"
name: x
steps:
  - find_files: {query: "*.pdf", roots: ["."]}
  - open_browser: {url: "https://partner.example.com/start"}
`))
	require.NoError(t, err)
	m := manifest.Derive(plan)
	assert.ElementsMatch(t, []string{"fs", "webx"}, m.Capabilities)
	assert.Equal(t, []string{"partner.example.com"}, m.TargetDomains)
}

func TestDerive_MailAlwaysSends(t *testing.T) {
	plan, err := dslmodel.Parse([]byte(`
dsl_version: "1.1"
name: x
steps:
  - compose_mail: {to: ["a@b"], subject: "hi", body: "hi"}
`))
	require.NoError(t, err)
	m := manifest.Derive(plan)
	assert.Contains(t, m.RiskFlags, "sends")
}

func TestDerive_OverwriteFlagParam(t *testing.T) {
	plan, err := dslmodel.Parse([]byte(`
dsl_version: "1.1"
name: x
steps:
  - move_to: {path: "a.pdf", dest: "b.pdf", overwrite_if_exists: true}
`))
	require.NoError(t, err)
	m := manifest.Derive(plan)
	assert.Contains(t, m.RiskFlags, "overwrites")
}

func TestDerive_DestructiveVocabularyMultilingual(t *testing.T) {
	plan, err := dslmodel.Parse([]byte(`
dsl_version: "1.1"
name: x
steps:
  - rename: {path: "a.txt", pattern: "supprimer ancien fichier"}
`))
	require.NoError(t, err)
	m := manifest.Derive(plan)
	assert.Contains(t, m.RiskFlags, "deletes")
}
