package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"mpsdash/internal/bootstrap"
	"mpsdash/internal/domain/mps"
	"mpsdash/internal/errs"
	"mpsdash/internal/ports"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Inspect or revoke the stored OAuth token",
}

var tokenShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored token (masked) and its expiry",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := cmd.Context()

		if fetch, _ := cmd.Flags().GetBool("fetch"); fetch {
			if _, err := app.Credentials.AccessToken(ctx); err != nil {
				return errs.Wrap(err, "obtain access token")
			}
		}

		rec, err := app.Credentials.Current(ctx)
		if errors.Is(err, ports.ErrTokenNotFound) {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "no token stored")
			return errs.Wrap(err, "write token output")
		}
		if err != nil {
			return errs.Wrap(err, "load stored token")
		}
		return writeToken(cmd.OutOrStdout(), rec, time.Now())
	}),
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Forget the stored token so the next call runs a fresh grant",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		app.Credentials.Invalidate(cmd.Context())
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "stored token revoked")
		return errs.Wrap(err, "write revoke output")
	}),
}

func writeToken(w io.Writer, rec mps.TokenRecord, now time.Time) error {
	state := "valid"
	if !rec.Valid(now) {
		state = "expired"
	}
	refresh := "no"
	if rec.Refreshable() {
		refresh = "yes"
	}

	_, err := fmt.Fprintf(w, "access_token: %s\nexpires_at:   %s (%s)\nrefreshable:  %s\n",
		rec.Masked(),
		rec.Expiry().UTC().Format(time.RFC3339),
		state,
		refresh,
	)
	return errs.Wrap(err, "write token output")
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenShowCmd, tokenRevokeCmd)

	tokenShowCmd.Flags().Bool("fetch", false, "Obtain a token first when none is valid")
}
