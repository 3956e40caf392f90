package main

import (
	"fmt"
	"time"

	"github.com/ErlanBelekov/run-orchestrator/internal/cronexpr"
	"github.com/spf13/cobra"
)

func newNextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "next <expr>",
		Short: "Print the upcoming fire instants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tz, at, err := timing(cmd)
			if err != nil {
				return err
			}
			count, _ := cmd.Flags().GetInt("count")
			loc, err := cronexpr.Location(tz)
			if err != nil {
				return err
			}

			for range count {
				next, err := cronexpr.Next(args[0], tz, at)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), format(next, loc))
				at = next
			}
			return nil
		},
	}
	cmd.Flags().IntP("count", "n", 1, "number of fire instants to print")
	cmd.Flags().String("from", "", "RFC3339 reference time (default now)")
	return cmd
}

func newPrevCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prev <expr>",
		Short: "Print the latest fire instant before a reference time",
		Long: `prev prints the fire instant startup recovery compares against lastRunAt
when deciding whether a run was missed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tz, at, err := timing(cmd)
			if err != nil {
				return err
			}
			loc, err := cronexpr.Location(tz)
			if err != nil {
				return err
			}
			prev, err := cronexpr.Previous(args[0], tz, at)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), format(prev, loc))
			return nil
		},
	}
	cmd.Flags().String("at", "", "RFC3339 reference time (default now)")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <expr>",
		Short: "Check that an expression and timezone are accepted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tz, _ := cmd.Flags().GetString("tz")
			if err := cronexpr.Validate(args[0], tz); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

// timing reads --tz and the command's reference time flag (--from or --at).
func timing(cmd *cobra.Command) (string, time.Time, error) {
	tz, _ := cmd.Flags().GetString("tz")

	var raw string
	for _, name := range []string{"from", "at"} {
		if f := cmd.Flags().Lookup(name); f != nil {
			raw = f.Value.String()
		}
	}
	if raw == "" {
		return tz, time.Now(), nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("reference time: %w", err)
	}
	return tz, at, nil
}

func format(t time.Time, loc *time.Location) string {
	return fmt.Sprintf("%s  (%s)", t.UTC().Format(time.RFC3339), t.In(loc).Format("2006-01-02 15:04:05 MST"))
}
