package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func rankingCmd(rt *env) *cobra.Command {
	var search string
	var top int

	cmd := &cobra.Command{
		Use:   "ranking",
		Short: "Show pilots ranked by finalized duty time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ranking, err := a.Protocols.Ranking(cmd.Context(), search)
			if err != nil {
				return err
			}
			if top > 0 && len(ranking) > top {
				ranking = ranking[:top]
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "#\tPILOT\tHOURS\tSECONDS\tPROTOCOLS")
			for i, r := range ranking {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n",
					i+1, r.Pilot,
					humanize.FormatFloat("#,###.##", float64(r.Seconds)/3600),
					humanize.Comma(r.Seconds),
					r.Protocols)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "case-insensitive pilot name fragment")
	cmd.Flags().IntVar(&top, "top", 0, "show only the first N pilots")
	return cmd
}
