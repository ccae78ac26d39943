// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy evaluates a plan's manifest against the domain/time-
// window/risk/signature/capability gate (spec §4.E). Evaluate runs every
// check unconditionally — the overall decision is never short-circuited —
// so a single Evaluate call produces a complete, testable reason list.
package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/Axion-inc/DesktopAgent/internal/common/config"
	"github.com/Axion-inc/DesktopAgent/internal/manifest"
	"github.com/Axion-inc/DesktopAgent/internal/trust"
)

// CheckName is one of the five stable, testable reason codes (spec §3
// PolicyDecision.reasons[].check).
type CheckName string

const (
	CheckDomain       CheckName = "domain"
	CheckTimeWindow   CheckName = "time_window"
	CheckRisk         CheckName = "risk"
	CheckSignature    CheckName = "signature"
	CheckCapabilities CheckName = "capabilities"
)

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Check   CheckName
	Allowed bool
	Reason  string
}

// Decision is the full policy evaluation outcome (spec §3 PolicyDecision).
type Decision struct {
	Allowed bool
	Checks  []CheckResult
}

// SignatureVerification is what Evaluate needs from the trust package,
// kept as a narrow struct rather than importing trust.VerifyResult
// directly so policy can be evaluated without a signature at all (an
// unsigned plan with require_signed_templates=false is a normal case, not
// an error).
type SignatureVerification struct {
	Performed  bool
	Valid      bool
	TrustLevel trust.Level
	FailReason string
}

// AvailableCapabilities reports which of the plan's required capabilities
// the current OS/Web adapters actually support (spec §6 capabilities()).
type AvailableCapabilities map[string]bool

// Evaluate runs all five checks against m, using now as the wall-clock
// reference for the time-window check, and returns a total Decision: the
// number of CheckResults always equals 5, and Allowed is true iff every
// check's Allowed field is true (testable property 3, spec §8).
func Evaluate(m *manifest.Manifest, cfg config.PolicyConfig, sig SignatureVerification, avail AvailableCapabilities, now time.Time) *Decision {
	checks := []CheckResult{
		checkDomain(m, cfg),
		checkTimeWindow(cfg, now),
		checkRisk(m, cfg),
		checkSignature(cfg, sig),
		checkCapabilities(m, avail),
	}

	allowed := true
	for _, c := range checks {
		if !c.Allowed {
			allowed = false
		}
	}
	return &Decision{Allowed: allowed, Checks: checks}
}

// AutopilotEligible reports whether L4 autopilot (spec §4.K) may run this
// plan unattended: autopilot must be enabled in config AND the full policy
// gate must already have passed.
func AutopilotEligible(cfg config.PolicyConfig, decision *Decision) bool {
	return cfg.Autopilot && decision.Allowed
}

func checkDomain(m *manifest.Manifest, cfg config.PolicyConfig) CheckResult {
	if len(cfg.AllowDomains) == 0 {
		if len(m.TargetDomains) == 0 {
			return CheckResult{Check: CheckDomain, Allowed: true, Reason: "no target domains"}
		}
		return CheckResult{Check: CheckDomain, Allowed: false, Reason: "plan targets external domains but allow_domains is empty"}
	}
	for _, domain := range m.TargetDomains {
		if !domainAllowed(domain, cfg.AllowDomains) {
			return CheckResult{Check: CheckDomain, Allowed: false, Reason: fmt.Sprintf("domain %q is not in allow_domains", domain)}
		}
	}
	return CheckResult{Check: CheckDomain, Allowed: true, Reason: "all target domains allowed"}
}

// domainAllowed matches domain against allowed patterns using suffix-glob
// semantics: a pattern "example.com" matches "example.com" and any
// "*.example.com" subdomain (spec §4.E: "suffix-match glob").
func domainAllowed(domain string, patterns []string) bool {
	domain = strings.ToLower(domain)
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimPrefix(p, "*."))
		if domain == p || strings.HasSuffix(domain, "."+p) {
			return true
		}
	}
	return false
}

func checkTimeWindow(cfg config.PolicyConfig, now time.Time) CheckResult {
	w := cfg.Window
	if len(w.Days) == 0 && w.Start == "" && w.End == "" {
		return CheckResult{Check: CheckTimeWindow, Allowed: true, Reason: "no window restriction configured"}
	}

	loc := time.UTC
	if w.Timezone != "" {
		if l, err := time.LoadLocation(w.Timezone); err == nil {
			loc = l
		}
	}
	local := now.In(loc)

	if len(w.Days) > 0 && !dayAllowed(local.Weekday(), w.Days) {
		return CheckResult{Check: CheckTimeWindow, Allowed: false, Reason: fmt.Sprintf("%s is not in the allowed window days", local.Weekday())}
	}

	if w.Start != "" && w.End != "" {
		cur := local.Format("15:04")
		if cur < w.Start || cur > w.End {
			return CheckResult{Check: CheckTimeWindow, Allowed: false, Reason: fmt.Sprintf("%s is outside window %s-%s", cur, w.Start, w.End)}
		}
	}
	return CheckResult{Check: CheckTimeWindow, Allowed: true, Reason: "within configured window"}
}

func dayAllowed(day time.Weekday, allowed []string) bool {
	for _, d := range allowed {
		if strings.EqualFold(d, day.String()) {
			return true
		}
	}
	return false
}

func checkRisk(m *manifest.Manifest, cfg config.PolicyConfig) CheckResult {
	if len(cfg.AllowRisks) == 0 && len(m.RiskFlags) > 0 {
		return CheckResult{Check: CheckRisk, Allowed: false, Reason: "plan carries risk flags but allow_risks is empty"}
	}
	allowed := make(map[string]bool, len(cfg.AllowRisks))
	for _, r := range cfg.AllowRisks {
		allowed[r] = true
	}
	for _, flag := range m.RiskFlags {
		if !allowed[flag] {
			return CheckResult{Check: CheckRisk, Allowed: false, Reason: fmt.Sprintf("risk flag %q is not in allow_risks", flag)}
		}
	}
	return CheckResult{Check: CheckRisk, Allowed: true, Reason: "all risk flags allowed"}
}

func checkSignature(cfg config.PolicyConfig, sig SignatureVerification) CheckResult {
	if !cfg.RequireSignedTemplates {
		return CheckResult{Check: CheckSignature, Allowed: true, Reason: "signed templates not required"}
	}
	if !sig.Performed || !sig.Valid {
		reason := sig.FailReason
		if reason == "" {
			reason = "plan is not signed"
		}
		return CheckResult{Check: CheckSignature, Allowed: false, Reason: reason}
	}
	return CheckResult{Check: CheckSignature, Allowed: true, Reason: fmt.Sprintf("signature valid, trust level %s", sig.TrustLevel)}
}

func checkCapabilities(m *manifest.Manifest, avail AvailableCapabilities) CheckResult {
	required := m.RequiredCapabilities
	if avail == nil {
		if len(required) == 0 {
			return CheckResult{Check: CheckCapabilities, Allowed: true, Reason: "no capabilities required"}
		}
		return CheckResult{Check: CheckCapabilities, Allowed: false, Reason: "no capability information available"}
	}
	for _, c := range required {
		if !avail[c] {
			return CheckResult{Check: CheckCapabilities, Allowed: false, Reason: fmt.Sprintf("required capability %q is unavailable", c)}
		}
	}
	return CheckResult{Check: CheckCapabilities, Allowed: true, Reason: "all required capabilities available"}
}
