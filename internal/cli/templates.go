// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Axion-inc/DesktopAgent/internal/dslmodel"
	"github.com/Axion-inc/DesktopAgent/internal/manifest"
)

func newTemplatesCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List plan templates and their derived risk/signature summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTemplates(dir)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "templates", "directory to scan for plan template files (*.yaml, *.yml)")
	return cmd
}

func runTemplates(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("no templates directory at %s\n", dir)
			return nil
		}
		return fail(ExitIOError, fmt.Errorf("read templates dir: %w", err))
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tRISKS\tSIGNED\tFILE")
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		path := filepath.Join(dir, name)
		doc, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(w, "%s\t-\t-\t-\t%s (read error: %v)\n", name, path, err)
			continue
		}
		plan, err := dslmodel.Parse(doc)
		if err != nil {
			fmt.Fprintf(w, "%s\t-\t-\t-\t%s (parse error: %v)\n", name, path, err)
			continue
		}
		m := manifest.Derive(plan)
		signed := "no"
		if plan.Signature != nil {
			signed = "yes (" + plan.Signature.KeyID + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", plan.Name, plan.DSLVersion, strings.Join(m.RiskFlags, ","), signed, path)
	}
	return w.Flush()
}
