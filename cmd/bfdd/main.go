// bfdd is a single-hop BFD daemon (RFC 5880/5881).
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/bfdd/internal/bfd"
	"github.com/dantte-lp/bfdd/internal/config"
	appversion "github.com/dantte-lp/bfdd/internal/version"
)

// errReported marks an error that has already been logged.
var errReported = errors.New("bfdd failed")

// options holds the command-line flags.
type options struct {
	configPath  string
	monitorPort uint16
	verbose     int
	extensions  []string
}

func main() {
	os.Exit(run())
}

func run() int {
	cmd := newRootCommand(runDaemon)
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "bfdd: %v\n", err)
		}
		return 1
	}
	return 0
}

// newRootCommand builds the bfdd command. runFn receives the parsed flags.
func newRootCommand(runFn func(cmd *cobra.Command, opts *options) error) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "bfdd",
		Short:         "Single-hop BFD daemon (RFC 5880/5881)",
		Version:       appversion.Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFn(cmd, opts)
		},
	}
	cmd.SetVersionTemplate(appversion.Full("bfdd") + "\n")

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "path to configuration file (YAML)")
	f.Uint16VarP(&opts.monitorPort, "monitor-port", "m", 0, "monitor server TCP port (overrides monitor.addr port)")
	f.CountVarP(&opts.verbose, "verbose", "v", "increase log verbosity (repeatable)")
	f.StringArrayVarP(&opts.extensions, "extension", "x", nil, "enable a protocol extension (repeatable)")

	return cmd
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

// effectiveLevel lowers the configured level one step per -v, down to
// slog.LevelDebug.
func effectiveLevel(configured string, verbose int) slog.Level {
	level := config.ParseLogLevel(configured) - slog.Level(4*verbose)
	return max(level, slog.LevelDebug)
}

// monitorAddr replaces the port of addr when port is nonzero.
func monitorAddr(addr string, port uint16) string {
	if port == 0 {
		return addr
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = ""
	}
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}

// localPorts returns the distinct local ports of sessions in ascending
// order. With no sessions the default port is still opened so peers that
// start first are heard once sessions are added on reload.
func localPorts(sessions []bfd.SessionConfig) []uint16 {
	ports := []uint16{bfd.DefaultPort}
	for _, s := range sessions {
		p := s.LocalPort
		if p == 0 {
			p = bfd.DefaultPort
		}
		if !slices.Contains(ports, p) {
			ports = append(ports, p)
		}
	}
	slices.Sort(ports)
	return ports
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes via SIGHUP reload.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
