package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	grpcserver "github.com/and161185/oaimirror/internal/server/grpc"
)

const keyJWTKey = "jwt-key"

func newTokenCmd(v *viper.Viper) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
		save    bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the trigger API",
		Long: `token signs an HS256 token with the server key (--jwt-key or OAIMIRROR_JWT_KEY).
With --save it is stored for later commands.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key := v.GetString(keyJWTKey)
			if key == "" {
				return errors.New("need --jwt-key or OAIMIRROR_JWT_KEY")
			}
			tok, exp, err := grpcserver.IssueToken([]byte(key), subject, ttl)
			if err != nil {
				return err
			}
			if save {
				if err := saveToken(tok, exp); err != nil {
					return fmt.Errorf("save token: %w", err)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "token saved to %s (expires %s)\n", tokenPath(), exp.Format(time.RFC3339))
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	f := cmd.Flags()
	f.String(keyJWTKey, "", "HS256 signing key")
	f.StringVar(&subject, "subject", "operator", "token subject")
	f.DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	f.BoolVar(&save, "save", false, "store the token for later commands")
	_ = v.BindPFlag(keyJWTKey, f.Lookup(keyJWTKey))
	return cmd
}
