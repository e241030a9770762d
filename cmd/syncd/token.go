package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbeoliero/convsync/internal/config"
	"github.com/mbeoliero/convsync/pkg/constant"
	"github.com/mbeoliero/convsync/pkg/jwt"
)

// NewTokenCommand creates the token command
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:          "token",
		Short:        "Show who a token logs in as and when it expires",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				cfg, err := config.Load(rootOpts.ConfigPath)
				if err != nil {
					return err
				}
				token = cfg.Auth.Token
			}

			claims, err := jwt.ParseUnverified(token)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "user_id:     %s\n", claims.UserId)
			fmt.Fprintf(out, "platform_id: %d (%s)\n", claims.PlatformId, constant.PlatformIdToName(claims.PlatformId))
			if claims.ExpiresAt == nil {
				fmt.Fprintln(out, "expires:     never")
				return nil
			}
			fmt.Fprintf(out, "expires:     %s\n", claims.ExpiresAt.Time.Format(time.RFC3339))
			if err := claims.CheckFresh(time.Now()); err != nil {
				fmt.Fprintln(out, "status:      expired")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "token to inspect (defaults to auth.token from config)")
	return cmd
}
