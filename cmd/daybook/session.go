package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quayside/daybook/internal/credentials"
)

func newLoginCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "login [id-token]",
		Short: "Exchange an identity token for a Daybook session",
		Long: "Login trades an identity-provider ID token for a Daybook session " +
			"token and stores it in the system keyring. The ID token is read " +
			"from the argument, or from stdin when omitted.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var idToken string
			if len(args) == 1 {
				idToken = strings.TrimSpace(args[0])
			} else {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				idToken = strings.TrimSpace(string(raw))
			}
			if idToken == "" {
				return errors.New("an identity token is required")
			}

			apiClient, cfg, err := anonymousClient()
			if err != nil {
				return err
			}
			grant, err := apiClient.ExchangeToken(cmd.Context(), idToken)
			if err != nil {
				return err
			}
			if err := credentials.NewStore(cfg.KeyringService).Set(sessionTokenKey, grant.AccessToken); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in; session valid for %s\n",
				time.Duration(grant.ExpiresIn)*time.Second)
			return nil
		},
	}
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Discard the stored session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := clientConfig()
			if err != nil {
				return err
			}
			if err := credentials.NewStore(cfg.KeyringService).Delete(sessionTokenKey); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

func newWhoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the account behind the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient, err := sessionClient()
			if err != nil {
				return err
			}
			session, err := apiClient.Session(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "subject: %s\n", session.Subject)
			fmt.Fprintf(out, "email:   %s\n", session.Email)
			fmt.Fprintf(out, "name:    %s\n", session.DisplayName)
			fmt.Fprintf(out, "role:    %s\n", session.Role)
			return nil
		},
	}
}
