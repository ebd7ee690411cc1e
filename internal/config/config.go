// Package config manages bfdd daemon configuration using koanf/v2.
//
// Configuration is layered: built-in defaults, then a YAML file, then
// BFDD_ environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/dantte-lp/bfdd/internal/bfd"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete bfdd configuration.
type Config struct {
	Log        LogConfig       `koanf:"log"`
	Monitor    MonitorConfig   `koanf:"monitor"`
	Metrics    MetricsConfig   `koanf:"metrics"`
	NATS       NATSConfig      `koanf:"nats"`
	Extensions map[string]bool `koanf:"extensions"`
	BFD        BFDConfig       `koanf:"bfd"`
	Sessions   []SessionConfig `koanf:"sessions"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// MonitorConfig holds the ConnectRPC monitor server configuration.
type MonitorConfig struct {
	// Addr is the monitor listen address (e.g., ":3785").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	// Empty disables the endpoint.
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// NATSConfig holds the state-change export configuration.
type NATSConfig struct {
	// URL is the NATS server URL. Empty disables the export.
	URL string `koanf:"url"`
	// SubjectPrefix is prepended to the local discriminator to form the
	// publish subject.
	SubjectPrefix string `koanf:"subject_prefix"`
}

// BFDConfig holds the default BFD session parameters applied to session
// entries that leave a field unset.
type BFDConfig struct {
	// DefaultDesiredMinTx is the default bfd.DesiredMinTxInterval.
	DefaultDesiredMinTx time.Duration `koanf:"default_desired_min_tx"`

	// DefaultRequiredMinRx is the default bfd.RequiredMinRxInterval.
	DefaultRequiredMinRx time.Duration `koanf:"default_required_min_rx"`

	// DefaultDetectMultiplier is the default bfd.DetectMult, 1..255.
	DefaultDetectMultiplier uint32 `koanf:"default_detect_multiplier"`
}

// SessionConfig describes a declarative BFD session from the configuration
// file. Each entry creates a session on startup and on SIGHUP reload.
type SessionConfig struct {
	// Peer is the remote system's IPv4 address or host name.
	Peer string `koanf:"peer"`

	// PeerPort is the remote UDP port. Unset means 3784. Setting it at
	// all, even to 3784, requires the specify_ports extension.
	PeerPort *uint16 `koanf:"peer_port"`

	// LocalPort is the local UDP port. Unset means 3784. Setting it at
	// all, even to 3784, requires the specify_ports extension.
	LocalPort *uint16 `koanf:"local_port"`

	// DemandMode requests RFC 5880 demand mode.
	DemandMode bool `koanf:"demand_mode"`

	// DetectMult is the detection multiplier, 1..255. Zero means the default.
	DetectMult uint32 `koanf:"detect_mult"`

	// RequiredMinRx is the required minimum RX interval (e.g., "100ms").
	RequiredMinRx time.Duration `koanf:"required_min_rx"`

	// DesiredMinTx is the desired minimum TX interval (e.g., "100ms").
	DesiredMinTx time.Duration `koanf:"desired_min_tx"`

	// AdminDown starts the session administratively down.
	AdminDown bool `koanf:"admin_down"`
}

// SessionKey returns a unique identifier for the entry based on
// (peer, peer port, local port). Used to reject duplicates.
func (sc SessionConfig) SessionKey() string {
	return sc.Peer + "|" + strconv.Itoa(int(portOrDefault(sc.PeerPort))) +
		"|" + strconv.Itoa(int(portOrDefault(sc.LocalPort)))
}

func portOrDefault(p *uint16) uint16 {
	if p == nil || *p == 0 {
		return bfd.DefaultPort
	}
	return *p
}

// checkPorts rejects explicitly configured ports unless caps allows them.
func (sc SessionConfig) checkPorts(caps bfd.Capabilities) error {
	if caps.SpecifyPorts() {
		return nil
	}
	if sc.PeerPort != nil {
		return fmt.Errorf("peer_port %d requires %s: %w", *sc.PeerPort, bfd.CapabilitySpecifyPorts, bfd.ErrCapabilityRequired)
	}
	if sc.LocalPort != nil {
		return fmt.Errorf("local_port %d requires %s: %w", *sc.LocalPort, bfd.CapabilitySpecifyPorts, bfd.ErrCapabilityRequired)
	}
	return nil
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with defaults.
//
// BFD defaults follow RFC 5880 Section 6.8.3: while a session is not Up its
// transmit interval should be no less than one second.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Monitor: MonitorConfig{
			Addr: ":3785",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		NATS: NATSConfig{
			SubjectPrefix: "bfdd.session",
		},
		BFD: BFDConfig{
			DefaultDesiredMinTx:     1 * time.Second,
			DefaultRequiredMinRx:    1 * time.Second,
			DefaultDetectMultiplier: 3,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for bfdd configuration.
const envPrefix = "BFDD_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (BFDD_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults. An empty path skips the file.
//
// Environment variable mapping (the first '_' after the prefix separates
// the section from the key):
//
//	BFDD_MONITOR_ADDR                  -> monitor.addr
//	BFDD_METRICS_PATH                  -> metrics.path
//	BFDD_LOG_LEVEL                     -> log.level
//	BFDD_NATS_SUBJECT_PREFIX           -> nats.subject_prefix
//	BFDD_BFD_DEFAULT_DETECT_MULTIPLIER -> bfd.default_detect_multiplier
//	BFDD_EXTENSIONS_SPECIFY_PORTS      -> extensions.specify_ports
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms BFDD_NATS_SUBJECT_PREFIX -> nats.subject_prefix.
func envKeyMapper(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults sets the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"log.level":                     defaults.Log.Level,
		"log.format":                    defaults.Log.Format,
		"monitor.addr":                  defaults.Monitor.Addr,
		"metrics.addr":                  defaults.Metrics.Addr,
		"metrics.path":                  defaults.Metrics.Path,
		"nats.url":                      defaults.NATS.URL,
		"nats.subject_prefix":           defaults.NATS.SubjectPrefix,
		"bfd.default_desired_min_tx":    defaults.BFD.DefaultDesiredMinTx.String(),
		"bfd.default_required_min_rx":   defaults.BFD.DefaultRequiredMinRx.String(),
		"bfd.default_detect_multiplier": defaults.BFD.DefaultDetectMultiplier,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyMonitorAddr indicates the monitor listen address is empty.
	ErrEmptyMonitorAddr = errors.New("monitor.addr must not be empty")

	// ErrInvalidLogFormat indicates an unknown log format.
	ErrInvalidLogFormat = errors.New("log.format must be json or text")

	// ErrInvalidDetectMultiplier indicates the default detect multiplier is
	// outside 1..255.
	ErrInvalidDetectMultiplier = errors.New("bfd.default_detect_multiplier must be 1..255")

	// ErrInvalidDesiredMinTx indicates the desired min TX interval is invalid.
	ErrInvalidDesiredMinTx = errors.New("bfd.default_desired_min_tx must be > 0")

	// ErrInvalidRequiredMinRx indicates the required min RX interval is invalid.
	ErrInvalidRequiredMinRx = errors.New("bfd.default_required_min_rx must be > 0")

	// ErrInvalidSessionPeer indicates a session has no peer.
	ErrInvalidSessionPeer = errors.New("session peer is invalid")

	// ErrInvalidSessionDetectMult indicates a session detect multiplier
	// above 255.
	ErrInvalidSessionDetectMult = errors.New("session detect_mult must be 1..255")

	// ErrInvalidSessionInterval indicates a negative session interval.
	ErrInvalidSessionInterval = errors.New("session intervals must not be negative")

	// ErrDuplicateSessionKey indicates two sessions share the same
	// (peer, peer port, local port) key.
	ErrDuplicateSessionKey = errors.New("duplicate session key")

	// ErrUnresolvablePeer indicates a session peer name has no IPv4 address.
	ErrUnresolvablePeer = errors.New("session peer does not resolve to an IPv4 address")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Monitor.Addr == "" {
		return ErrEmptyMonitorAddr
	}

	if f := strings.ToLower(cfg.Log.Format); f != "json" && f != "text" {
		return fmt.Errorf("log.format %q: %w", cfg.Log.Format, ErrInvalidLogFormat)
	}

	if cfg.BFD.DefaultDetectMultiplier < 1 || cfg.BFD.DefaultDetectMultiplier > math.MaxUint8 {
		return ErrInvalidDetectMultiplier
	}

	if cfg.BFD.DefaultDesiredMinTx <= 0 {
		return ErrInvalidDesiredMinTx
	}

	if cfg.BFD.DefaultRequiredMinRx <= 0 {
		return ErrInvalidRequiredMinRx
	}

	return validateSessions(cfg.Sessions)
}

// validateSessions checks each declarative session entry for correctness.
func validateSessions(sessions []SessionConfig) error {
	seen := make(map[string]struct{}, len(sessions))

	for i, sc := range sessions {
		if strings.TrimSpace(sc.Peer) == "" {
			return fmt.Errorf("sessions[%d]: %w", i, ErrInvalidSessionPeer)
		}

		if sc.DetectMult > math.MaxUint8 {
			return fmt.Errorf("sessions[%d] detect_mult %d: %w", i, sc.DetectMult, ErrInvalidSessionDetectMult)
		}

		if sc.DesiredMinTx < 0 || sc.RequiredMinRx < 0 {
			return fmt.Errorf("sessions[%d]: %w", i, ErrInvalidSessionInterval)
		}

		key := sc.SessionKey()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("sessions[%d] key %q: %w", i, key, ErrDuplicateSessionKey)
		}
		seen[key] = struct{}{}
	}

	return nil
}

// -------------------------------------------------------------------------
// Capabilities
// -------------------------------------------------------------------------

// Capabilities evaluates the enabled extensions from the file together with
// the names given on the command line. An unknown flag name is an error;
// an unknown file entry is logged and ignored.
func (c *Config) Capabilities(logger *slog.Logger, flags []string) (bfd.Capabilities, error) {
	names := slices.Clone(flags)

	keys := make([]string, 0, len(c.Extensions))
	for k := range c.Extensions {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, name := range keys {
		if !bfd.KnownCapability(name) {
			logger.Warn("ignoring unknown extension", slog.String("extension", name))
			continue
		}
		if c.Extensions[name] {
			names = append(names, name)
		}
	}

	caps, err := bfd.NewCapabilities(names...)
	if err != nil {
		return bfd.Capabilities{}, fmt.Errorf("evaluate extensions: %w", err)
	}
	return caps, nil
}

// -------------------------------------------------------------------------
// Session Resolution
// -------------------------------------------------------------------------

// Resolver looks up host names. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// ResolveSessions converts the session entries into engine session
// configurations: peer names are resolved to IPv4 addresses, unset fields
// take the BFD defaults, and gated fields are checked against caps.
func (c *Config) ResolveSessions(ctx context.Context, r Resolver, caps bfd.Capabilities) ([]bfd.SessionConfig, error) {
	out := make([]bfd.SessionConfig, 0, len(c.Sessions))

	for i, sc := range c.Sessions {
		if err := sc.checkPorts(caps); err != nil {
			return nil, fmt.Errorf("sessions[%d] peer %s: %w", i, sc.Peer, err)
		}

		peer, err := resolvePeer(ctx, r, sc.Peer)
		if err != nil {
			return nil, fmt.Errorf("sessions[%d]: %w", i, err)
		}

		bc := bfd.SessionConfig{
			PeerAddr:              peer,
			PeerPort:              portOrDefault(sc.PeerPort),
			LocalPort:             portOrDefault(sc.LocalPort),
			DesiredMinTxInterval:  orDefault(sc.DesiredMinTx, c.BFD.DefaultDesiredMinTx),
			RequiredMinRxInterval: orDefault(sc.RequiredMinRx, c.BFD.DefaultRequiredMinRx),
			DetectMultiplier:      uint8(orDefault(sc.DetectMult, c.BFD.DefaultDetectMultiplier)), //nolint:gosec // G115: validated <= 255.
			DemandMode:            sc.DemandMode,
			AdminDown:             sc.AdminDown,
		}

		if err := caps.CheckSession(bc); err != nil {
			return nil, fmt.Errorf("sessions[%d] peer %s: %w", i, sc.Peer, err)
		}
		if err := bc.Validate(); err != nil {
			return nil, fmt.Errorf("sessions[%d] peer %s: %w", i, sc.Peer, err)
		}

		out = append(out, bc)
	}

	return out, nil
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// resolvePeer parses host as an address, falling back to a DNS lookup.
func resolvePeer(ctx context.Context, r Resolver, host string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap(), nil
	}

	addrs, err := r.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("resolve peer %q: %w: %w", host, ErrUnresolvablePeer, err)
	}
	for _, a := range addrs {
		if a = a.Unmap(); a.Is4() {
			return a, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("resolve peer %q: %w", host, ErrUnresolvablePeer)
}

// WarnUncommonIntervals logs every session interval that is not an
// RFC 7419 common interval. Such intervals work, but hardware-assisted
// peers may round them.
func WarnUncommonIntervals(logger *slog.Logger, sessions []bfd.SessionConfig) {
	for _, s := range sessions {
		for _, iv := range []struct {
			name string
			d    time.Duration
		}{
			{"desired_min_tx", s.DesiredMinTxInterval},
			{"required_min_rx", s.RequiredMinRxInterval},
		} {
			if iv.d == 0 || bfd.IsCommonInterval(iv.d) {
				continue
			}
			logger.Warn("interval is not an RFC 7419 common interval",
				slog.String("peer", s.PeerAddr.String()),
				slog.String("field", iv.name),
				slog.Duration("interval", iv.d),
				slog.Duration("nearest_common", bfd.AlignToCommonInterval(iv.d)),
			)
		}
	}
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
