// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package policy_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Axion-inc/DesktopAgent/internal/common/config"
	"github.com/Axion-inc/DesktopAgent/internal/dslmodel"
	"github.com/Axion-inc/DesktopAgent/internal/manifest"
	"github.com/Axion-inc/DesktopAgent/internal/policy"
)

func deriveManifest(t *testing.T, doc string) *manifest.Manifest {
	t.Helper()
	plan, err := dslmodel.Parse([]byte(doc))
	require.NoError(t, err)
	return manifest.Derive(plan)
}

func TestEvaluate_AllChecksRunAlways(t *testing.T) {
	m := deriveManifest(t, `
dsl_version: "1.1"
name: x
steps:
  - open_browser: {url: "https://evil.example.com"}
`)
	cfg := config.PolicyConfig{AllowDomains: []string{"partner.example.com"}}
	d := policy.Evaluate(m, cfg, policy.SignatureVerification{}, nil, time.Now())
	assert.False(t, d.Allowed)
	assert.Len(t, d.Checks, 5)

	var domainCheck *policy.CheckResult
	for i := range d.Checks {
		if d.Checks[i].Check == policy.CheckDomain {
			domainCheck = &d.Checks[i]
		}
	}
	require.NotNil(t, domainCheck)
	assert.False(t, domainCheck.Allowed)
}

func TestEvaluate_DomainSuffixMatch(t *testing.T) {
	m := deriveManifest(t, `
dsl_version: "1.1"
name: x
steps:
  - open_browser: {url: "https://app.partner.example.com/start"}
`)
	cfg := config.PolicyConfig{AllowDomains: []string{"partner.example.com"}}
	avail := policy.AvailableCapabilities{"webx": true}
	d := policy.Evaluate(m, cfg, policy.SignatureVerification{}, avail, time.Now())
	assert.True(t, d.Allowed)
}

func TestEvaluate_RiskNotAllowed(t *testing.T) {
	m := deriveManifest(t, `
dsl_version: "1.1"
name: x
steps:
  - compose_mail: {to: ["a@b"], subject: "hi", body: "hi"}
`)
	cfg := config.PolicyConfig{AllowRisks: []string{"overwrites"}}
	d := policy.Evaluate(m, cfg, policy.SignatureVerification{}, nil, time.Now())
	assert.False(t, d.Allowed)
}

func TestEvaluate_TimeWindowOutsideRange(t *testing.T) {
	m := deriveManifest(t, `
dsl_version: "1.1"
name: x
steps:
  - find_files: {query: "*", roots: ["."]}
`)
	cfg := config.PolicyConfig{
		Window: config.WindowConfig{Start: "09:00", End: "17:00", Timezone: "UTC"},
	}
	midnight := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	d := policy.Evaluate(m, cfg, policy.SignatureVerification{}, nil, midnight)
	assert.False(t, d.Allowed)
}

func TestEvaluate_SignatureRequiredAndMissing(t *testing.T) {
	m := deriveManifest(t, `
dsl_version: "1.1"
name: x
steps:
  - find_files: {query: "*", roots: ["."]}
`)
	cfg := config.PolicyConfig{RequireSignedTemplates: true}
	d := policy.Evaluate(m, cfg, policy.SignatureVerification{Performed: false}, nil, time.Now())
	assert.False(t, d.Allowed)
}

func TestEvaluate_CapabilitiesUnavailable(t *testing.T) {
	m := deriveManifest(t, `
dsl_version: "1.1"
name: x
steps:
  - find_files: {query: "*", roots: ["."]}
`)
	avail := policy.AvailableCapabilities{"fs": false}
	d := policy.Evaluate(m, config.PolicyConfig{}, policy.SignatureVerification{}, avail, time.Now())
	assert.False(t, d.Allowed)
}

func TestAutopilotEligible_RequiresAllowedAndPass(t *testing.T) {
	d := &policy.Decision{Allowed: true}
	assert.True(t, policy.AutopilotEligible(config.PolicyConfig{Autopilot: true}, d))
	assert.False(t, policy.AutopilotEligible(config.PolicyConfig{Autopilot: false}, d))

	blocked := &policy.Decision{Allowed: false}
	assert.False(t, policy.AutopilotEligible(config.PolicyConfig{Autopilot: true}, blocked))
}
