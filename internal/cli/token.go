package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func TokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print an access token for the configured credentials",
		Args:  cobra.NoArgs,
		RunE:  runToken,
	}
	cmd.Flags().Bool("verbose", false, "Also print the token's scopes and expiry")
	return cmd
}

func runToken(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	m, err := e.credentials()
	if err != nil {
		return err
	}
	if m == nil {
		return errors.New("no credentials configured: set a refresh token, client credentials or a service account")
	}

	token, err := m.Token(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		snap := m.Snapshot()
		cmd.PrintErrf("State: %s\n", m.State())
		cmd.PrintErrf("Scopes: %s\n", strings.Join(snap.Scopes, " "))
		if snap.Expiry.IsZero() {
			cmd.PrintErrf("Expiry: never\n")
		} else {
			cmd.PrintErrf("Expiry: %s (in %s)\n", snap.Expiry.Format(time.RFC3339), time.Until(snap.Expiry).Round(time.Second))
		}
	}
	return nil
}
