// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Axion-inc/DesktopAgent/internal/manifest"
	"github.com/Axion-inc/DesktopAgent/internal/osadapter"
	"github.com/Axion-inc/DesktopAgent/internal/policy"
	"github.com/Axion-inc/DesktopAgent/internal/trust"
)

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect policy evaluation for a plan template",
	}
	cmd.AddCommand(newPolicyTestCmd())
	return cmd
}

func newPolicyTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <file>",
		Short: "Evaluate a plan template against the configured policy gate, without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyTest(args[0])
		},
	}
}

func runPolicyTest(path string) error {
	plan, err := loadPlan(path)
	if err != nil {
		return err
	}
	m := manifest.Derive(plan)

	sig := policy.SignatureVerification{}
	if plan.Signature != nil {
		sig.Performed = true
		minLevel := trust.LevelUnknown
		result := trust.Verify(plan, svc.Trust, minLevel, time.Now())
		sig.TrustLevel = result.Entry.TrustLevel
		if result.Err != nil {
			sig.Valid = false
			sig.FailReason = result.Err.Message
		} else {
			sig.Valid = true
		}
	}

	adapter := osadapter.NewDefaultAdapter(svc.Config.Artifacts.ScreenshotsDir, false)
	caps := adapter.Capabilities(context.Background())
	avail := make(policy.AvailableCapabilities, len(caps))
	for name, info := range caps {
		avail[name] = info.Available
	}

	decision := policy.Evaluate(m, svc.Config.Policy, sig, avail, time.Now())

	for _, check := range decision.Checks {
		line := fmt.Sprintf("%-13s %s", check.Check, check.Reason)
		if check.Allowed {
			fmt.Println(colorSuccess("PASS  "), line)
		} else {
			fmt.Println(colorError("BLOCK "), line)
		}
	}

	if decision.Allowed {
		fmt.Println(colorSuccess(fmt.Sprintf("%s: policy allows this plan", plan.Name)))
		if policy.AutopilotEligible(svc.Config.Policy, decision) {
			fmt.Println(colorBold("  eligible for L4 autopilot"))
		}
		return nil
	}

	return fail(ExitPolicyBlocked, fmt.Errorf("%s: policy blocks this plan", plan.Name))
}
