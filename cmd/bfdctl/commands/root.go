package commands

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"connectrpc.com/connect"
	"github.com/spf13/cobra"

	appversion "github.com/dantte-lp/bfdd/internal/version"
	"github.com/dantte-lp/bfdd/pkg/monitor/v1/monitorv1connect"
)

// defaultAddr is the monitor address of a bfdd running with defaults.
const defaultAddr = "localhost:3785"

// cli holds the state shared by every subcommand.
type cli struct {
	// client is the monitor service client, initialized in PersistentPreRunE.
	client monitorv1connect.MonitorServiceClient

	// httpClient carries the requests; nil means http.DefaultClient.
	httpClient connect.HTTPClient

	// outputFormat controls the output format for all commands.
	outputFormat string

	// serverAddr is the daemon monitor address (host:port or URL).
	serverAddr string
}

// NewRootCommand returns the top-level bfdctl command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(nil)
}

func newRootCommand(httpClient connect.HTTPClient) *cobra.Command {
	c := &cli{httpClient: httpClient}

	cmd := &cobra.Command{
		Use:   "bfdctl",
		Short: "CLI client for the bfdd daemon",
		Long:  "bfdctl talks to the bfdd monitor service to inspect and control BFD sessions.",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := checkFormat(c.outputFormat); err != nil {
				return err
			}

			hc := c.httpClient
			if hc == nil {
				hc = http.DefaultClient
			}
			c.client = monitorv1connect.NewMonitorServiceClient(userAgentClient{next: hc}, baseURL(c.serverAddr))
			return nil
		},
		// Silence cobra's built-in usage/error printing so we control it.
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&c.serverAddr, "addr", defaultAddr,
		"bfdd monitor address (host:port)")
	cmd.PersistentFlags().StringVar(&c.outputFormat, "format", formatTable,
		"output format: table, json, yaml")

	cmd.AddCommand(c.sessionCmd())
	cmd.AddCommand(c.pollCmd())
	cmd.AddCommand(c.adminDownCmd())
	cmd.AddCommand(c.monitorCmd())
	cmd.AddCommand(c.versionCmd())

	return cmd
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// baseURL accepts either host:port or a full URL.
func baseURL(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	return "http://" + addr
}

// userAgentClient stamps outgoing requests with the bfdctl version.
type userAgentClient struct {
	next connect.HTTPClient
}

func (c userAgentClient) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", appversion.UserAgent("bfdctl"))
	return c.next.Do(req)
}
