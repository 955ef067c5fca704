package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/opsdesk/internal/api"
)

func (a *app) newBookingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bookings",
		Short: "List bookings and assign cleaners",
	}
	cmd.AddCommand(a.newBookingsListCmd(), a.newBookingsAssignCmd())
	return cmd
}

func (a *app) newBookingsListCmd() *cobra.Command {
	var (
		status      string
		page, limit int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bookings",
		Long: `List bookings, optionally filtered by status.

Examples:
  opsdesk bookings list --status pending
  opsdesk bookings list --page 2 --limit 50 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, client, err := a.setup()
			if err != nil {
				return err
			}
			defer logger.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.API.Timeout)
			defer cancel()
			res, err := client.ListBookings(ctx, api.BookingQuery{Status: status, Page: page, Limit: limit})
			if err != nil {
				return fmt.Errorf("failed to list bookings: %w", err)
			}

			if a.jsonOut {
				return outputJSON(cmd.OutOrStdout(), res)
			}
			if len(res.Items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No bookings found")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tCUSTOMER\tVEHICLE\tSCHEDULED\tCLEANER")
			for _, b := range res.Items {
				cleaner := b.CleanerID
				if cleaner == "" {
					cleaner = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					truncate(b.ID, 12),
					b.Status,
					truncate(b.CustomerName, 20),
					truncate(b.Vehicle, 20),
					b.ScheduledAt.Local().Format("2006-01-02 15:04"),
					truncate(cleaner, 12),
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by booking status")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&limit, "limit", 20, "Page size")
	return cmd
}

func (a *app) newBookingsAssignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign <booking-id> <cleaner-id>",
		Short: "Assign a cleaner to a booking",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, client, err := a.setup()
			if err != nil {
				return err
			}
			defer logger.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.API.Timeout)
			defer cancel()
			b, err := client.AssignCleaner(ctx, args[0], args[1])
			if err != nil {
				return fmt.Errorf("failed to assign cleaner: %w", err)
			}

			if a.jsonOut {
				return outputJSON(cmd.OutOrStdout(), b)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Booking %s assigned to cleaner %s (status %s)\n", b.ID, b.CleanerID, b.Status)
			return nil
		},
	}
}

func (a *app) newCleanersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleaners",
		Short: "Inspect cleaners",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cleaners",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, client, err := a.setup()
			if err != nil {
				return err
			}
			defer logger.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.API.Timeout)
			defer cancel()
			cleaners, err := client.ListCleaners(ctx)
			if err != nil {
				return fmt.Errorf("failed to list cleaners: %w", err)
			}

			if a.jsonOut {
				return outputJSON(cmd.OutOrStdout(), cleaners)
			}
			if len(cleaners) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No cleaners found")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPHONE\tACTIVE")
			for _, c := range cleaners {
				active := ""
				if c.Active {
					active = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", truncate(c.ID, 12), truncate(c.Name, 24), c.Phone, active)
			}
			return w.Flush()
		},
	})
	return cmd
}
