package client

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	grpcserver "github.com/rzbill/spoolq/internal/server/grpc"
)

const adminTimeout = 5 * time.Second

// newStatsCommand constructs `spoolq stats`.
func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show spool counts and lifetime totals from the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), adminTimeout)
			defer cancel()
			return withAdminClient(cfg.AdminAddr, func(c *grpcserver.Client) error {
				healthy, err := c.Healthy(ctx)
				if err != nil {
					return err
				}
				_, raw, err := c.Stats(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "serving:", healthy)
				return printProto(cmd.OutOrStdout(), raw)
			})
		},
	}
}

// newHistoryCommand constructs `spoolq history [ID]`.
func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [ID]",
		Short: "Show the lifecycle of one request, or the most recent requests",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			cfg, err := LoadConfig(cmd)
			if err != nil {
				return err
			}
			q := grpcserver.HistoryQuery{Limit: limit}
			if len(args) == 1 {
				q.ID = args[0]
			}
			ctx, cancel := context.WithTimeout(context.Background(), adminTimeout)
			defer cancel()
			return withAdminClient(cfg.AdminAddr, func(c *grpcserver.Client) error {
				_, raw, err := c.History(ctx, q)
				if err != nil {
					return err
				}
				return printProto(cmd.OutOrStdout(), raw)
			})
		},
	}
	cmd.Flags().Int("limit", 20, "Number of recent requests when no ID is given")
	return cmd
}
