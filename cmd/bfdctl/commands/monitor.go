package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"connectrpc.com/connect"
	"github.com/spf13/cobra"

	monitorv1 "github.com/dantte-lp/bfdd/pkg/monitor/v1"
)

func (c *cli) monitorCmd() *cobra.Command {
	var includeCurrent bool

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Stream BFD session events",
		Long:  "Connects to the bfdd daemon and streams session state changes until interrupted (Ctrl+C).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			stream, err := c.client.WatchSessionEvents(ctx, &monitorv1.WatchSessionEventsRequest{
				IncludeCurrent: includeCurrent,
			})
			if err != nil {
				return fmt.Errorf("watch session events: %w", err)
			}
			defer stream.Close()

			for stream.Receive() {
				out, fmtErr := formatEvent(stream.Msg(), c.outputFormat)
				if fmtErr != nil {
					return fmt.Errorf("format event: %w", fmtErr)
				}

				fmt.Fprint(cmd.OutOrStdout(), out)
			}

			if err := stream.Err(); err != nil {
				// Context cancellation (Ctrl+C) is expected, not an error.
				if errors.Is(err, context.Canceled) || connect.CodeOf(err) == connect.CodeCanceled {
					return nil
				}

				return fmt.Errorf("stream error: %w", err)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&includeCurrent, "current", false,
		"include current sessions before streaming changes")

	return cmd
}
