package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/opsdesk/internal/api"
)

func (a *app) newConversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Inspect issue conversations",
	}
	cmd.AddCommand(a.newConversationsListCmd())
	return cmd
}

func (a *app) newConversationsListCmd() *cobra.Command {
	var (
		filter      string
		search      string
		page, limit int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations",
		Long: `List issue conversations.

Examples:
  # Open issues only
  opsdesk conversations list --filter unresolved

  # Search by cleaner or booking
  opsdesk conversations list --search "B-1042" --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := api.ResolvedFilter(filter)
			switch f {
			case api.FilterAll, api.FilterResolved, api.FilterUnresolved:
			default:
				return fmt.Errorf("invalid --filter %q (all, resolved, unresolved)", filter)
			}

			cfg, logger, client, err := a.setup()
			if err != nil {
				return err
			}
			defer logger.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.API.Timeout)
			defer cancel()
			res, err := client.ListConversations(ctx, api.ConversationQuery{Filter: f, Search: search, Page: page, Limit: limit})
			if err != nil {
				return fmt.Errorf("failed to list conversations: %w", err)
			}

			if a.jsonOut {
				return outputJSON(cmd.OutOrStdout(), res)
			}
			if len(res.Items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No conversations found")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCLEANER\tBOOKING\tISSUE\tRESOLVED\tUPDATED")
			for _, c := range res.Items {
				resolved := ""
				if c.IsResolved {
					resolved = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					truncate(c.ID, 12),
					truncate(c.CleanerName, 20),
					truncate(c.BookingID, 12),
					truncate(c.IssueType, 20),
					resolved,
					c.UpdatedAt.Local().Format("2006-01-02 15:04"),
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\npage %d, %d of %d\n", res.Page, len(res.Items), res.Total)
			return nil
		},
	}
	cmd.Flags().StringVar(&filter, "filter", string(api.FilterAll), "Resolution filter: all, resolved, unresolved")
	cmd.Flags().StringVar(&search, "search", "", "Free-text search")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&limit, "limit", 20, "Page size")
	return cmd
}
