// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs created within a recent time window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(since)
		},
	}
	cmd.Flags().DurationVar(&since, "since", 7*24*time.Hour, "how far back to list runs")
	return cmd
}

func runList(since time.Duration) error {
	runs, err := svc.Store.ListRunsSince(context.Background(), time.Now().Add(-since))
	if err != nil {
		return fail(ExitIOError, fmt.Errorf("list runs: %w", err))
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN_ID\tPUBLIC_ID\tPLAN_REF\tSTATE\tQUEUE\tCREATED_AT")
	for _, r := range runs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.RunID, r.PublicID, r.PlanRef, runStateColor(r.State), r.Queue, r.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}
