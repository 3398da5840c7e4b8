package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/rpggio/dutylog/internal/app"
	"github.com/rpggio/dutylog/internal/config"
	"github.com/spf13/cobra"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed)
)

// env is shared by every subcommand once the config is loaded.
type env struct {
	configPath string
	cfg        config.Config
	logger     *slog.Logger
	appOpts    []app.Option
}

// NewRootCmd builds the dutyctl command tree. opts are passed to every
// app.New call made by subcommands.
func NewRootCmd(opts ...app.Option) *cobra.Command {
	rt := &env{appOpts: opts}

	root := &cobra.Command{
		Use:           "dutyctl",
		Short:         "Operate a dutylog installation",
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `dutyctl manages the dutylog store and runs one-off jobs against it:
schema migrations, a single ingestion cycle, stale protocol reports,
the pilot ranking, and bearer token minting.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(rt.configPath)
			if err != nil {
				return err
			}
			rt.cfg = cfg
			rt.logger = cfg.Log.NewLogger(cmd.ErrOrStderr())
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&rt.configPath, "config", "c", os.Getenv(config.PathEnv), "path to a YAML or TOML config file")

	root.AddCommand(migrateCmd(rt))
	root.AddCommand(syncCmd(rt))
	root.AddCommand(staleCmd(rt))
	root.AddCommand(rankingCmd(rt))
	root.AddCommand(tokenCmd(rt))

	return root
}

func (rt *env) openApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, rt.cfg, rt.logger, rt.appOpts...)
	if err != nil {
		return nil, fmt.Errorf("opening dutylog: %w", err)
	}
	return a, nil
}
