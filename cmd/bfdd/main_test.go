package main

import (
	"log/slog"
	"net/netip"
	"slices"
	"testing"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/bfdd/internal/bfd"
)

func TestRootCommandFlags(t *testing.T) {
	t.Parallel()

	var got *options
	cmd := newRootCommand(func(_ *cobra.Command, opts *options) error {
		got = opts
		return nil
	})
	cmd.SetArgs([]string{
		"-c", "/etc/bfdd/bfdd.yml",
		"-m", "4000",
		"-vv",
		"-x", "specify_ports",
		"--extension", "SpecifyPorts",
	})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got == nil {
		t.Fatal("run function not called")
	}
	if got.configPath != "/etc/bfdd/bfdd.yml" {
		t.Errorf("configPath = %q", got.configPath)
	}
	if got.monitorPort != 4000 {
		t.Errorf("monitorPort = %d, want 4000", got.monitorPort)
	}
	if got.verbose != 2 {
		t.Errorf("verbose = %d, want 2", got.verbose)
	}
	if want := []string{"specify_ports", "SpecifyPorts"}; !slices.Equal(got.extensions, want) {
		t.Errorf("extensions = %v, want %v", got.extensions, want)
	}
}

func TestRootCommandRejectsArgs(t *testing.T) {
	t.Parallel()

	cmd := newRootCommand(func(*cobra.Command, *options) error { return nil })
	cmd.SetArgs([]string{"unexpected"})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for positional argument")
	}
}

func TestEffectiveLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		configured string
		verbose    int
		want       slog.Level
	}{
		{configured: "info", verbose: 0, want: slog.LevelInfo},
		{configured: "info", verbose: 1, want: slog.LevelDebug},
		{configured: "info", verbose: 5, want: slog.LevelDebug},
		{configured: "error", verbose: 1, want: slog.LevelWarn},
		{configured: "error", verbose: 2, want: slog.LevelInfo},
		{configured: "warn", verbose: 0, want: slog.LevelWarn},
	}

	for _, tt := range tests {
		if got := effectiveLevel(tt.configured, tt.verbose); got != tt.want {
			t.Errorf("effectiveLevel(%q, %d) = %s, want %s", tt.configured, tt.verbose, got, tt.want)
		}
	}
}

func TestMonitorAddr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr string
		port uint16
		want string
	}{
		{addr: ":3785", port: 0, want: ":3785"},
		{addr: ":3785", port: 4000, want: ":4000"},
		{addr: "127.0.0.1:3785", port: 4000, want: "127.0.0.1:4000"},
		{addr: "garbage", port: 4000, want: ":4000"},
	}

	for _, tt := range tests {
		if got := monitorAddr(tt.addr, tt.port); got != tt.want {
			t.Errorf("monitorAddr(%q, %d) = %q, want %q", tt.addr, tt.port, got, tt.want)
		}
	}
}

func TestLocalPorts(t *testing.T) {
	t.Parallel()

	peer := netip.MustParseAddr("192.0.2.1")
	sessions := []bfd.SessionConfig{
		{PeerAddr: peer, LocalPort: 4000},
		{PeerAddr: peer},
		{PeerAddr: peer, LocalPort: bfd.DefaultPort},
		{PeerAddr: peer, LocalPort: 3900},
		{PeerAddr: peer, LocalPort: 4000},
	}

	want := []uint16{bfd.DefaultPort, 3900, 4000}
	if got := localPorts(sessions); !slices.Equal(got, want) {
		t.Errorf("localPorts = %v, want %v", got, want)
	}
	if got := localPorts(nil); !slices.Equal(got, []uint16{bfd.DefaultPort}) {
		t.Errorf("localPorts(nil) = %v, want [%d]", got, bfd.DefaultPort)
	}
}
