package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/rpggio/dutylog/internal/auth"
	"github.com/spf13/cobra"
)

func tokenCmd(rt *env) *cobra.Command {
	var subject, name, role string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the API and MCP endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" {
				return errors.New("--subject is required")
			}
			r, err := auth.ParseRole(role)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = rt.cfg.Auth.TokenTTL
			}
			issuer, err := auth.NewIssuer(rt.cfg.Auth.Secret, ttl)
			if err != nil {
				return err
			}
			token, err := issuer.Issue(subject, name, r)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (user id)")
	cmd.Flags().StringVar(&name, "name", "", "display name recorded as the audit actor")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleStaff), "role: admin, staff or user")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, defaults to auth.token_ttl")
	return cmd
}
