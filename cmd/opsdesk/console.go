package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/opsdesk/internal/config"
	"github.com/fyrsmithlabs/opsdesk/internal/console"
)

func (a *app) newConsoleCmd() *cobra.Command {
	var logFile string
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Open the interactive operator console",
		Long: `Open the terminal console: conversation list, live transcript of the
open conversation and a reply line.

The console follows the session file: logging in or out from another terminal
connects or disconnects it. Logs are written to a file because the terminal
belongs to the console (default ~/.config/opsdesk/console.log).

Keys:
  tab      switch between list and reply line
  up/down  move in the list, scroll the transcript
  enter    open conversation / send reply
  ctrl+r   toggle resolved
  ctrl+l   reload the conversation list
  esc      close the conversation
  ctrl+c   quit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if logFile == "" && cfg.Logging.File == "" {
				dir, err := config.EnsureDir()
				if err != nil {
					return err
				}
				logFile = filepath.Join(dir, "console.log")
			}
			logger, err := newLogger(cfg, logFile)
			if err != nil {
				return err
			}
			defer logger.Close()

			rt, err := newDeskRuntime(cfg, logger)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info(ctx, "console starting", zap.String("realtime", cfg.Realtime.URL), zap.String("api", cfg.API.BaseURL))
			err = rt.run(ctx, func(ctx context.Context) error {
				return console.Run(ctx, rt.desk, console.Options{
					PageSize:        cfg.Console.PageSize,
					RefreshInterval: cfg.Console.RefreshInterval,
					TrendSize:       cfg.Console.TrendSize,
					Timeout:         cfg.API.Timeout,
				})
			})
			if err != nil {
				return fmt.Errorf("console: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&logFile, "log-file", "", "Log file (overrides logging.file)")
	return cmd
}
