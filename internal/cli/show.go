// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run_id>",
		Short: "Show a run's header, policy checks, and deviations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(args[0])
		},
	}
}

func runShow(runIDArg string) error {
	runID, err := strconv.ParseInt(runIDArg, 10, 64)
	if err != nil {
		return fail(ExitValidationFailed, fmt.Errorf("run_id must be numeric: %w", err))
	}

	ctx := context.Background()
	run, err := svc.Store.GetRun(ctx, runID)
	if err != nil {
		return fail(ExitIOError, fmt.Errorf("get run %d: %w", runID, err))
	}

	fmt.Printf("%s  run_id=%d  public_id=%s  plan=%s\n", runStateColor(run.State), run.RunID, run.PublicID, run.PlanRef)
	fmt.Printf("  queue=%s priority=%d created_at=%s\n", run.Queue, run.Priority, run.CreatedAt.Format(time.RFC3339))
	if run.Manifest != nil {
		fmt.Printf("  capabilities=%v risks=%v domains=%v\n", run.Manifest.Capabilities, run.Manifest.RiskFlags, run.Manifest.TargetDomains)
	}

	checks, err := svc.Store.GetPolicyDecisions(ctx, runID)
	if err != nil {
		return fail(ExitIOError, fmt.Errorf("get policy checks for run %d: %w", runID, err))
	}
	fmt.Println(colorBold("\npolicy checks:"))
	for _, c := range checks {
		status := colorSuccess("PASS")
		if !c.Allowed {
			status = colorError("BLOCK")
		}
		fmt.Printf("  %s %-13s %s\n", status, c.CheckName, c.Reason)
	}

	deviations, err := svc.Store.GetDeviations(ctx, runID)
	if err != nil {
		return fail(ExitIOError, fmt.Errorf("get deviations for run %d: %w", runID, err))
	}
	if len(deviations) > 0 {
		fmt.Println(colorBold("\ndeviations:"))
		for _, d := range deviations {
			fmt.Printf("  step %d [%s] %s score=%.1f: %s\n", d.StepIndex, d.Severity, d.Kind, d.Score, d.Reason)
		}
	}

	return nil
}
