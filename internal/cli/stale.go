package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func staleCmd(rt *env) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "stale",
		Short: "List OPEN protocols that were never closed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := a.Protocols.ListOpenOlderThan(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintf(out, "%s no protocols open longer than %s\n", okColor.Sprint("✓"), olderThan)
				return nil
			}

			loc := a.Protocols.Location()
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPILOT\tDATE\tSTART\tOPENED")
			for _, p := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					p.ID, p.Pilot, p.Date, p.Start, warnColor.Sprint(humanize.Time(p.StartedAt(loc))))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %d stale\n", warnColor.Sprint("!"), len(items))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 12*time.Hour, "minimum time since the protocol started")
	return cmd
}
