// orchestratorctl previews and validates schedule timing without a server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "orchestratorctl",
		Short: "Inspect cron schedules the orchestrator would run",
		Long: `orchestratorctl evaluates cron expressions exactly like the orchestrator does.

Examples:
  orchestratorctl validate "*/5 * * * *"
  orchestratorctl next "0 9 * * 1-5" --tz Europe/Berlin -n 5
  orchestratorctl prev "@daily" --at 2026-10-19T10:00:00Z`,
		SilenceUsage: true,
	}

	root.PersistentFlags().String("tz", "UTC", "IANA timezone the expression fires in")

	root.AddCommand(newNextCmd())
	root.AddCommand(newPrevCmd())
	root.AddCommand(newValidateCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
