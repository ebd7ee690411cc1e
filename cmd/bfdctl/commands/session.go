package commands

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/bfdd/internal/bfd"
	monitorv1 "github.com/dantte-lp/bfdd/pkg/monitor/v1"
)

// Sentinel errors for CLI validation.
var (
	errUnknownState     = errors.New("unknown session state, expected AdminDown, Down, Init or Up")
	errNoSessionForPeer = errors.New("no session for peer")
	errAmbiguousPeer    = errors.New("several sessions for peer, use the local discriminator")
)

func (c *cli) sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect BFD sessions",
	}

	cmd.AddCommand(c.sessionListCmd())
	cmd.AddCommand(c.sessionShowCmd())

	return cmd
}

// --- session list ---

func (c *cli) sessionListCmd() *cobra.Command {
	var stateFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all BFD sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var want bfd.State
			if stateFilter != "" {
				st, ok := bfd.ParseState(stateFilter)
				if !ok {
					return fmt.Errorf("%w: %q", errUnknownState, stateFilter)
				}
				want = st
			}

			resp, err := c.client.ListSessions(cmd.Context(), &monitorv1.ListSessionsRequest{})
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}

			sessions := resp.Sessions
			if stateFilter != "" {
				sessions = filterByState(sessions, want.String())
			}

			out, err := formatSessions(sessions, c.outputFormat)
			if err != nil {
				return fmt.Errorf("format sessions: %w", err)
			}

			fmt.Fprint(cmd.OutOrStdout(), out)

			return nil
		},
	}

	cmd.Flags().StringVar(&stateFilter, "state", "", "only list sessions in this state (AdminDown, Down, Init, Up)")

	return cmd
}

func filterByState(sessions []monitorv1.Session, state string) []monitorv1.Session {
	out := sessions[:0:0]
	for _, s := range sessions {
		if s.State == state {
			out = append(out, s)
		}
	}
	return out
}

// --- session show ---

func (c *cli) sessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <discriminator-or-peer-address>",
		Short: "Show details of a BFD session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			discr, err := c.resolveDiscriminator(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			resp, err := c.client.GetSession(cmd.Context(), &monitorv1.GetSessionRequest{
				LocalDiscriminator: discr,
			})
			if err != nil {
				return fmt.Errorf("get session: %w", err)
			}

			out, err := formatSession(&resp.Session, c.outputFormat)
			if err != nil {
				return fmt.Errorf("format session: %w", err)
			}

			fmt.Fprint(cmd.OutOrStdout(), out)

			return nil
		},
	}
}

// --- poll ---

func (c *cli) pollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll <discriminator-or-peer-address>",
		Short: "Start a Poll Sequence on an Up session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			discr, err := c.resolveDiscriminator(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if _, err := c.client.ForcePoll(cmd.Context(), &monitorv1.ForcePollRequest{
				LocalDiscriminator: discr,
			}); err != nil {
				return fmt.Errorf("force poll: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Poll sequence started on session %d.\n", discr)

			return nil
		},
	}
}

// --- admin-down ---

func (c *cli) adminDownCmd() *cobra.Command {
	var clearAdmin bool

	cmd := &cobra.Command{
		Use:   "admin-down <discriminator-or-peer-address>",
		Short: "Put a session into AdminDown, or take it out with --clear",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			discr, err := c.resolveDiscriminator(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			resp, err := c.client.SetAdminDown(cmd.Context(), &monitorv1.SetAdminDownRequest{
				LocalDiscriminator: discr,
				AdminDown:          !clearAdmin,
			})
			if err != nil {
				return fmt.Errorf("set admin down: %w", err)
			}

			out, err := formatSession(&resp.Session, c.outputFormat)
			if err != nil {
				return fmt.Errorf("format session: %w", err)
			}

			fmt.Fprint(cmd.OutOrStdout(), out)

			return nil
		},
	}

	cmd.Flags().BoolVar(&clearAdmin, "clear", false, "re-enable the session instead")

	return cmd
}

// resolveDiscriminator parses the identifier argument as either a uint32
// discriminator or a peer IP address. A peer address is looked up in the
// session list and must match exactly one session.
func (c *cli) resolveDiscriminator(ctx context.Context, identifier string) (uint32, error) {
	if discr, err := strconv.ParseUint(identifier, 10, 32); err == nil {
		return uint32(discr), nil
	}

	peer, err := netip.ParseAddr(identifier)
	if err != nil {
		return 0, fmt.Errorf("parse %q: not a discriminator or peer address", identifier)
	}

	resp, err := c.client.ListSessions(ctx, &monitorv1.ListSessionsRequest{})
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	var found []uint32
	for _, s := range resp.Sessions {
		if s.PeerAddress == peer.Unmap().String() {
			found = append(found, s.LocalDiscriminator)
		}
	}

	switch len(found) {
	case 0:
		return 0, fmt.Errorf("%w %s", errNoSessionForPeer, peer)
	case 1:
		return found[0], nil
	default:
		return 0, fmt.Errorf("%w: %s has %d sessions", errAmbiguousPeer, peer, len(found))
	}
}
