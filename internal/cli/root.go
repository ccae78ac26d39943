// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	// svc is the set of components every subcommand needs, initialized
	// once in PersistentPreRunE before any subcommand runs.
	svc *services
)

var rootCmd = &cobra.Command{
	Use:   "deskagent",
	Short: "deskagent runs and inspects desktop-automation plan runs.",
	Long: `deskagent is the command-line surface over the plan execution core:
it validates and signs plan templates, submits runs, and inspects their
policy decisions, evidence, and metrics.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		s, err := buildServices(cfgFile)
		if err != nil {
			return fail(ExitIOError, err)
		}
		svc = s
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if svc == nil {
			return nil
		}
		return svc.Close()
	},
}

// Execute runs the CLI and terminates the process with the exit code
// named in spec §6 (0/2/3/4/5/6), rather than cobra's default 0-or-1.
func Execute() {
	err := rootCmd.Execute()
	code := ExitCode(err)
	if err != nil {
		fmt.Fprintln(os.Stderr, colorError(err.Error()))
	}
	os.Exit(code)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults; DESKTOP_AGENT_* env vars override only keys set in this file)")
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.AddCommand(newTemplatesCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newShowCmd())
	rootCmd.AddCommand(newSignCmd())
	rootCmd.AddCommand(newPolicyCmd())
	rootCmd.AddCommand(newServerCmd())

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the deskagent version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("deskagent v0.1.0")
		},
	})
}
