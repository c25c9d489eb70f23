package main

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hrygo/pandemonium/server/auth"
)

func newTokenCmd(cfg *config) *cobra.Command {
	var owner string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token for an owner",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := cfg.rawProfile()
			if p.JWTSecret == "" {
				return errors.New("jwt secret is not configured; set --jwt-secret or PANDEMONIUM_JWT_SECRET")
			}
			token, err := auth.GenerateAccessToken(p.JWTSecret, owner, ttl, time.Now())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id, the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "token lifetime")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}
