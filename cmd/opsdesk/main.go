// Package main implements the opsdesk CLI: the operator console, the
// headless watcher and one-shot commands against the admin backend.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/opsdesk/internal/api"
	"github.com/fyrsmithlabs/opsdesk/internal/config"
	"github.com/fyrsmithlabs/opsdesk/internal/identity"
	"github.com/fyrsmithlabs/opsdesk/internal/logging"
	"github.com/fyrsmithlabs/opsdesk/internal/telemetry"
)

// version information
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries the persistent flags shared by every command.
type app struct {
	configPath string
	jsonOut    bool
	tel        *telemetry.Telemetry
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "opsdesk",
		Short: "Operator desk for cleaning-service issue chat",
		Long: `opsdesk keeps an operator's real-time issue chat in sync with the admin
backend. It provides a terminal console, a headless watcher exposing health and
metrics, and commands for conversations, bookings and cleaner assignment.

Configuration is read from ~/.config/opsdesk/config.yaml and OPSDESK_*
environment variables.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.tel.Shutdown(context.Background())
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ~/.config/opsdesk/config.yaml)")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "Output results as JSON")

	root.AddCommand(
		a.newLoginCmd(),
		a.newLogoutCmd(),
		a.newWhoamiCmd(),
		a.newConversationsCmd(),
		a.newBookingsCmd(),
		a.newCleanersCmd(),
		a.newConsoleCmd(),
		a.newWatchCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the opsdesk version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "opsdesk %s\n", version)
		},
	}
}

// loadConfig loads the configuration and installs tracing on first use.
func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(a.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if a.tel == nil {
		tel, err := telemetry.New(context.Background(), cfg.Telemetry, telemetry.WithVersion(version))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		if err := tel.Degraded(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: tracing disabled: %v\n", err)
		}
		a.tel = tel
	}
	return cfg, nil
}

// newLogger builds the logger for a command. A non-empty file overrides the
// configured output.
func newLogger(cfg *config.Config, file string) (*logging.Logger, error) {
	lc := cfg.Logging
	if file != "" {
		lc.File = file
	}
	if lc.File != "" {
		if err := os.MkdirAll(filepath.Dir(lc.File), 0700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	logCfg, err := logging.FromAppConfig(lc)
	if err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	return logging.NewLogger(logCfg)
}

func sessionStore(cfg *config.Config) *identity.Store {
	return identity.NewStore(cfg.Session.Path)
}

// newClient returns an authenticated REST client. A token configured in
// api.token wins over the session file.
func newClient(cfg *config.Config, logger *logging.Logger) (*api.Client, error) {
	if cfg.API.Token.IsSet() {
		return api.NewClient(cfg.API, cfg.API.Token, api.WithLogger(logger))
	}
	store := sessionStore(cfg)
	if _, err := store.Load(); err != nil {
		if errors.Is(err, identity.ErrNoSession) {
			return nil, errors.New("not logged in (run `opsdesk login`)")
		}
		return nil, err
	}
	return api.NewClient(cfg.API, "", api.WithLogger(logger), api.WithTokenSource(store))
}

// setup loads config and returns a logger and an authenticated client for
// one-shot commands. Logs go to the configured file and are discarded
// otherwise.
func (a *app) setup() (*config.Config, *logging.Logger, *api.Client, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	logger := logging.Nop()
	if cfg.Logging.File != "" {
		if logger, err = newLogger(cfg, ""); err != nil {
			return nil, nil, nil, err
		}
	}
	client, err := newClient(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, client, nil
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
