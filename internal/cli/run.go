// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Axion-inc/DesktopAgent/internal/dslmodel"
	"github.com/Axion-inc/DesktopAgent/internal/executor"
	"github.com/Axion-inc/DesktopAgent/internal/l4monitor"
	"github.com/Axion-inc/DesktopAgent/internal/manifest"
	"github.com/Axion-inc/DesktopAgent/internal/osadapter"
	"github.com/Axion-inc/DesktopAgent/internal/plannerl2"
	"github.com/Axion-inc/DesktopAgent/internal/policy"
	"github.com/Axion-inc/DesktopAgent/internal/store"
	"github.com/Axion-inc/DesktopAgent/internal/trust"
	"github.com/Axion-inc/DesktopAgent/internal/validator"
	"github.com/Axion-inc/DesktopAgent/internal/verifier"
	"github.com/Axion-inc/DesktopAgent/internal/webengine"
)

func newRunCmd() *cobra.Command {
	var autoApprove bool
	var vars []string
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Submit a plan template as a run and execute it to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := parseVarFlags(vars)
			if err != nil {
				return fail(ExitValidationFailed, err)
			}
			return runRun(args[0], autoApprove, overrides)
		},
	}
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "automatically approve every human_confirm step as the invoking operator")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "override a declared plan variable, key=value (repeatable)")
	return cmd
}

// parseVarFlags turns a repeated --var key=value flag into a map,
// rejecting anything that doesn't split cleanly on the first '='.
func parseVarFlags(vars []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(vars))
	for _, kv := range vars {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("--var %q: expected key=value", kv)
		}
		out[parts[0]] = parts[1]
	}
	return out, nil
}

func runRun(path string, autoApprove bool, overrides map[string]interface{}) error {
	plan, err := loadPlan(path)
	if err != nil {
		return err
	}

	res := validator.Validate(plan)
	res.Issues = append(res.Issues, validator.ValidateVariables(plan).Issues...)
	if !res.Valid() {
		for _, issue := range res.Issues {
			fmt.Println(colorError(fmt.Sprintf("  - %s: %s", issue.LinePointer, issue.Message)))
		}
		return fail(ExitValidationFailed, fmt.Errorf("%d validation issue(s)", len(res.Issues)))
	}

	variables := make(map[string]interface{}, len(plan.Variables)+len(overrides))
	for k, v := range plan.Variables {
		variables[k] = v
	}
	for k, v := range overrides {
		variables[k] = v
	}

	m := manifest.Derive(plan)

	ctx := context.Background()
	publicID := uuid.NewString()
	runID, err := svc.Store.CreateRun(ctx, &store.RunRecord{
		PublicID:          publicID,
		PlanRef:           plan.Name,
		VariablesResolved: svc.Secrets.MaskValue(variables).(map[string]interface{}),
		Manifest:          m,
		State:             store.RunQueued,
		Queue:             queueNameOf(plan),
		Priority:          priorityOf(plan),
		CreatedAt:         time.Now(),
	})
	if err != nil {
		return fail(ExitIOError, fmt.Errorf("create run: %w", err))
	}

	sig := policy.SignatureVerification{}
	if plan.Signature != nil {
		sig.Performed = true
		result := trust.Verify(plan, svc.Trust, trust.LevelUnknown, time.Now())
		sig.TrustLevel = result.Entry.TrustLevel
		if result.Err != nil {
			sig.FailReason = result.Err.Message
		} else {
			sig.Valid = true
		}
	}

	adapter := osadapter.NewDefaultAdapter(svc.Config.Artifacts.ScreenshotsDir, false)
	caps := adapter.Capabilities(ctx)
	avail := make(policy.AvailableCapabilities, len(caps))
	for name, info := range caps {
		avail[name] = info.Available
	}

	decision := policy.Evaluate(m, svc.Config.Policy, sig, avail, time.Now())
	for _, check := range decision.Checks {
		if err := svc.Store.SavePolicyDecision(ctx, runID, check, time.Now()); err != nil {
			svc.Log.Warnf("persist policy decision %s for run %d: %v", check.Check, runID, err)
		}
	}

	if !decision.Allowed {
		svc.Metrics.PolicyBlock(time.Now())
		if err := svc.Store.UpdateRunState(ctx, runID, store.RunFailed, time.Now()); err != nil {
			svc.Log.Warnf("persist POLICY_BLOCKED state for run %d: %v", runID, err)
		}
		for _, check := range decision.Checks {
			if !check.Allowed {
				fmt.Println(colorError(fmt.Sprintf("BLOCK %-13s %s", check.Check, check.Reason)))
			}
		}
		return fail(ExitPolicyBlocked, fmt.Errorf("run %d blocked by policy", runID))
	}

	web, err := webengine.Dial(ctx, svc.Config.WebEngine.Endpoint, time.Duration(svc.Config.WebEngine.TimeoutMs)*time.Millisecond)
	if err != nil {
		return fail(ExitExecutionFailed, fmt.Errorf("connect web engine: %w", err))
	}
	defer web.Close()

	dispatcher := executor.NewDispatcher(adapter, web)
	v := verifier.New(web, adapter)
	broker := executor.NewApprovalBroker([]byte(svc.Config.Server.ApprovalJWTKey))
	exec := executor.New(dispatcher, v, svc.Store, broker)
	exec.PlannerL2 = plannerl2.New(svc.Config.Policy.AdoptPolicy)

	monitor, err := l4monitor.New(svc.Config.Policy, svc.Store, l4monitor.NoopNotifier{})
	if err != nil {
		return fail(ExitIOError, fmt.Errorf("build monitor: %w", err))
	}
	exec.Monitor = monitor

	if autoApprove {
		stop := watchAndAutoApprove(ctx, broker, runID)
		defer stop()
	}

	final, err := exec.Run(ctx, executor.RunInput{
		RunID:     runID,
		Plan:      plan,
		Variables: variables,
		Secrets:   svc.Secrets,
		Evidence: executor.EvidenceConfig{
			Screenshots:   true,
			ScreenshotDir: svc.Config.Artifacts.ScreenshotsDir,
		},
	})
	if err != nil {
		return fail(ExitExecutionFailed, fmt.Errorf("run %d: %w", runID, err))
	}

	switch final {
	case store.RunCompleted:
		svc.Metrics.RunCompleted(time.Now(), 0)
		fmt.Println(colorSuccess(fmt.Sprintf("run %d (%s): COMPLETED", runID, publicID)))
		return nil
	case store.RunFailed:
		svc.Metrics.RunFailed(time.Now(), 0)
		fmt.Println(colorError(fmt.Sprintf("run %d (%s): FAILED", runID, publicID)))
		return fail(ExitExecutionFailed, fmt.Errorf("run %d failed", runID))
	default:
		svc.Metrics.RunFailed(time.Now(), 0)
		fmt.Println(colorError(fmt.Sprintf("run %d (%s): %s", runID, publicID, final)))
		return fail(ExitExecutionFailed, fmt.Errorf("run %d ended in %s", runID, final))
	}
}

func queueNameOf(plan *dslmodel.Plan) string {
	if plan.Execution != nil && plan.Execution.Queue != "" {
		return plan.Execution.Queue
	}
	return "default"
}

func priorityOf(plan *dslmodel.Plan) int {
	if plan.Execution != nil && plan.Execution.Priority > 0 {
		return plan.Execution.Priority
	}
	return 5
}

// watchAndAutoApprove polls broker for pending human_confirm waits on
// runID and immediately approves each one as the CLI operator, for
// `run --auto-approve`. It returns a func that stops the poller.
func watchAndAutoApprove(ctx context.Context, broker *executor.ApprovalBroker, runID int64) func() {
	done := make(chan struct{})
	seen := make(map[int]bool)
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, idx := range broker.PendingStepIndexes(runID) {
					if seen[idx] {
						continue
					}
					seen[idx] = true
					broker.ResolveDirect(runID, idx, executor.ApprovalDecision{
						Approved: true, ApproverID: "cli-auto-approve", DecidedAt: time.Now(),
					})
				}
			}
		}
	}()
	return func() { close(done) }
}
