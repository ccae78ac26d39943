// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"github.com/fatih/color"

	"github.com/Axion-inc/DesktopAgent/internal/store"
)

// Color helpers for plan-review and run-outcome banners, resolving the
// commands/fix.go "use a proper UI component" TODO the same minimal way:
// fatih/color SprintFuncs over plain text, no TUI framework.
var (
	colorGreenFn  = color.New(color.FgGreen, color.Bold).SprintFunc()
	colorYellowFn = color.New(color.FgYellow, color.Bold).SprintFunc()
	colorRedFn    = color.New(color.FgRed, color.Bold).SprintFunc()
	colorBoldFn   = color.New(color.Bold).SprintFunc()
)

func colorSuccess(s string) string { return colorGreenFn(s) }
func colorWarn(s string) string    { return colorYellowFn(s) }
func colorError(s string) string   { return colorRedFn(s) }
func colorBold(s string) string    { return colorBoldFn(s) }

// runStateColor colors a Run's lifecycle state for list/show output:
// green for a clean finish, red for a failure or cancellation, yellow
// for anything still in flight or awaiting a human.
func runStateColor(s store.RunState) string {
	switch s {
	case store.RunCompleted:
		return colorGreenFn(string(s))
	case store.RunFailed, store.RunCancelled:
		return colorRedFn(string(s))
	default:
		return colorYellowFn(string(s))
	}
}

// riskColor colors a risk-flag token by severity (red=high, yellow=medium).
func riskColor(risk string) string {
	switch risk {
	case "deletes", "overwrites":
		return colorRedFn(risk)
	case "sends":
		return colorYellowFn(risk)
	default:
		return risk
	}
}
