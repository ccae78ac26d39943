// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Command deskagent is the plan execution core's single binary: its
// subcommands (validate, sign, run, list, show, policy, server) all
// live in internal/cli, which builds whatever service graph each one
// needs on demand.
package main

import (
	"github.com/Axion-inc/DesktopAgent/internal/cli"
)

func main() {
	cli.Execute()
}
