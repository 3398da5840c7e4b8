package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func syncCmd(rt *env) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one ingestion cycle against the configured channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt.cfg.Discord.Enabled = true
			a, err := rt.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if a.Sync == nil {
				return errors.New("ingestion is not configured")
			}

			report, err := a.Sync.RunOnce(cmd.Context())
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "fetched %d, ignored %d, unparsed %d, duplicates %d\n",
				report.Fetched, report.Ignored, report.Unparsed, report.Duplicates)
			fmt.Fprintf(out, "%s %d created\n", okColor.Sprint("✓"), report.Created)
			if report.Failed > 0 {
				fmt.Fprintf(out, "%s %d failed, see logs\n", warnColor.Sprint("!"), report.Failed)
			}
			if err != nil {
				fmt.Fprintf(out, "%s %v\n", errColor.Sprint("✗"), err)
				return err
			}
			return nil
		},
	}
}
