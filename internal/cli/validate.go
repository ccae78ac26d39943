// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Axion-inc/DesktopAgent/internal/dslmodel"
	"github.com/Axion-inc/DesktopAgent/internal/validator"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a plan template's schema, step references, and variable references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(args[0])
		},
	}
}

func loadPlan(path string) (*dslmodel.Plan, error) {
	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, fail(ExitIOError, fmt.Errorf("read %s: %w", path, err))
	}
	plan, err := dslmodel.Parse(doc)
	if err != nil {
		return nil, fail(ExitValidationFailed, fmt.Errorf("parse %s: %w", path, err))
	}
	return plan, nil
}

// marshalPlan re-serializes plan, including its Signature block (unlike
// dslmodel.CanonicalBytes, which clears it for hashing).
func marshalPlan(plan *dslmodel.Plan) ([]byte, error) {
	return yaml.Marshal(plan)
}

func runValidate(path string) error {
	plan, err := loadPlan(path)
	if err != nil {
		return err
	}

	res := validator.Validate(plan)
	res.Issues = append(res.Issues, validator.ValidateVariables(plan).Issues...)

	if res.Valid() {
		fmt.Println(colorSuccess(fmt.Sprintf("%s: valid (%d steps)", plan.Name, len(plan.Steps))))
		return nil
	}

	fmt.Println(colorError(fmt.Sprintf("%s: %d issue(s)", plan.Name, len(res.Issues))))
	for _, issue := range res.Issues {
		fmt.Printf("  - %s: %s\n", issue.LinePointer, issue.Message)
	}
	return fail(ExitValidationFailed, fmt.Errorf("%d validation issue(s)", len(res.Issues)))
}
