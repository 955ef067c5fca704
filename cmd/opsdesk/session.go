package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/opsdesk/internal/api"
	"github.com/fyrsmithlabs/opsdesk/internal/identity"
)

func (a *app) newLoginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in as an operator",
		Long: `Log in against the admin backend and store the session in
~/.config/opsdesk/session.json (0600). A running console or watcher picks the
new identity up immediately.

Examples:
  # Prompt-free login, password from stdin
  echo "$OPS_PASSWORD" | opsdesk login --email ana@example.com

  # Password as a flag
  opsdesk login --email ana@example.com --password hunter2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if password == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("password required (--password or stdin)")
				}
				password = strings.TrimRight(line, "\r\n")
			}

			client, err := api.NewClient(cfg.API, "")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.API.Timeout)
			defer cancel()

			res, err := client.Login(ctx, email, password)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			sess := identity.Session{
				Token:     res.Token,
				Identity:  identity.Identity{OperatorID: res.Profile.ID, Name: res.Profile.Name, Email: res.Profile.Email},
				BaseURL:   cfg.API.BaseURL,
				CreatedAt: time.Now().UTC(),
			}
			if err := sessionStore(cfg).Save(sess); err != nil {
				return err
			}

			if a.jsonOut {
				return outputJSON(cmd.OutOrStdout(), sess.Identity)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", sess.Identity)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Operator email (required)")
	cmd.Flags().StringVar(&password, "password", "", "Operator password (read from stdin when empty)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if err := sessionStore(cfg).Remove(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func (a *app) newWhoamiCmd() *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in operator",
		Long: `Show the operator of the stored session.

With --remote the profile is fetched from the backend, which also verifies
that the stored token is still accepted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			sess, err := sessionStore(cfg).Load()
			if errors.Is(err, identity.ErrNoSession) {
				return errors.New("not logged in")
			}
			if err != nil {
				return err
			}
			id := sess.Identity

			if remote {
				_, logger, client, err := a.setup()
				if err != nil {
					return err
				}
				defer logger.Close()
				ctx, cancel := context.WithTimeout(cmd.Context(), cfg.API.Timeout)
				defer cancel()
				p, err := client.Profile(ctx)
				if err != nil {
					return fmt.Errorf("failed to fetch profile: %w", err)
				}
				id = identity.Identity{OperatorID: p.ID, Name: p.Name, Email: p.Email}
			}

			if a.jsonOut {
				return outputJSON(cmd.OutOrStdout(), id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", id)
			if id.Email != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "email:  %s\n", id.Email)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "since:  %s\n", sess.CreatedAt.Local().Format("2006-01-02 15:04"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "Fetch the profile from the backend")
	return cmd
}
