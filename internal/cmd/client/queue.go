package client

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzbill/spoolq/internal/spool"
	"github.com/rzbill/spoolq/internal/workqueue"
	"github.com/rzbill/spoolq/pkg/id"
)

// newEnqueueCommand constructs `spoolq enqueue`.
func newEnqueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Submit a request and print its id",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, _ := cmd.Flags().GetString("data")
			c, _, err := newQueueClient(cmd)
			if err != nil {
				return err
			}
			reqID, err := c.EnqueueRequest(cmd.Context(), readPayload(data))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reqID)
			return nil
		},
	}
	cmd.Flags().String("data", "null", "Request payload (JSON, or a plain string)")
	return cmd
}

// newWaitCommand constructs `spoolq wait ID`.
func newWaitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wait ID",
		Short: "Wait for a request's result; aborts it on timeout or interrupt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateIDs(args); err != nil {
				return err
			}
			timeout, _ := cmd.Flags().GetDuration("timeout")
			c, _, err := newQueueClient(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd)
			defer stop()
			raw, err := c.Wait(ctx, args[0], timeout)
			if err != nil {
				return describeWaitError(err)
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
	cmd.Flags().Duration("timeout", 30*time.Second, "How long to wait before aborting the request")
	return cmd
}

// newAbortCommand constructs `spoolq abort ID...`.
func newAbortCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "abort ID...",
		Short: "Ask the server to abort requests",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateIDs(args); err != nil {
				return err
			}
			c, _, err := newQueueClient(cmd)
			if err != nil {
				return err
			}
			for _, reqID := range args {
				if err := c.AbortRequest(reqID); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "abort requested:", reqID)
			}
			return nil
		},
	}
}

// newCallCommand constructs `spoolq call`.
func newCallCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Enqueue a request and wait for its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, _ := cmd.Flags().GetString("data")
			if err := validateIDs(args); err != nil {
				return err
			}
			timeout, _ := cmd.Flags().GetDuration("timeout")
			c, _, err := newQueueClient(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd)
			defer stop()
			raw, err := c.Call(ctx, readPayload(data), timeout)
			if err != nil {
				return describeWaitError(err)
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
	cmd.Flags().String("data", "null", "Request payload (JSON, or a plain string)")
	cmd.Flags().Duration("timeout", 30*time.Second, "How long to wait before aborting the request")
	return cmd
}

// newListCommand constructs `spoolq ls`.
func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List request ids per spool state",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("state")
			_, sp, err := newQueueClient(cmd)
			if err != nil {
				return err
			}
			states := spool.States
			if name != "" {
				st, err := spool.ParseState(name)
				if err != nil {
					return err
				}
				states = []spool.State{st}
			}
			out := cmd.OutOrStdout()
			for _, st := range states {
				ids, err := sp.List(st)
				if err != nil {
					return fmt.Errorf("list %s: %w", st, err)
				}
				for _, reqID := range ids {
					fmt.Fprintf(out, "%-10s %s\n", st, reqID)
				}
			}
			return nil
		},
	}
	cmd.Flags().String("state", "", "Only this state: requested|pending|running|complete|aborting")
	return cmd
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// validateIDs rejects the whole command line if any argument is not a
// request id, so nothing is touched on a typo.
func validateIDs(ids []string) error {
	for _, reqID := range ids {
		if !id.Valid(reqID) {
			return fmt.Errorf("%w: %q", workqueue.ErrInvalidID, reqID)
		}
	}
	return nil
}
