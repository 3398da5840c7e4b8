package cli

import (
	"fmt"

	"github.com/rpggio/dutylog/internal/app"
	"github.com/spf13/cobra"
)

func migrateCmd(rt *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := app.OpenStore(cmd.Context(), rt.cfg.DB, rt.logger)
			if err != nil {
				return err
			}
			defer db.Close()

			version, err := db.MigrationVersion(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s schema at version %d\n",
				okColor.Sprint("✓"), db.Dialect(), version)
			return nil
		},
	}
}
