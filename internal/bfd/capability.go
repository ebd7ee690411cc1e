package bfd

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// DefaultPort is the single-hop BFD Control port (RFC 5881 Section 4).
const DefaultPort uint16 = 3784

// Capability names accepted from the configuration file and -x flags.
const (
	// CapabilitySpecifyPorts allows sessions to use a peer or local port
	// other than DefaultPort.
	CapabilitySpecifyPorts = "SpecifyPorts"
)

var (
	// ErrUnknownCapability indicates a capability name this build does not
	// know.
	ErrUnknownCapability = errors.New("unknown capability")

	// ErrCapabilityRequired indicates a session setting that is gated
	// behind a capability that is not enabled.
	ErrCapabilityRequired = errors.New("capability not enabled")
)

// Capabilities is the set of optional behaviours enabled at startup.
//
// It is a plain value: built once by NewCapabilities, then copied into every
// component that needs it. Nothing can change it after construction.
type Capabilities struct {
	specifyPorts bool
}

// NewCapabilities builds a Capabilities value from capability names.
// Names are matched case-insensitively and ignoring '_' and '-', so
// "SpecifyPorts" and "specify_ports" name the same capability. An unknown
// name is an error.
func NewCapabilities(names ...string) (Capabilities, error) {
	var c Capabilities
	for _, name := range names {
		switch {
		case sameCapability(name, CapabilitySpecifyPorts):
			c.specifyPorts = true
		default:
			return Capabilities{}, fmt.Errorf("capability %q: %w", name, ErrUnknownCapability)
		}
	}
	return c, nil
}

// KnownCapability reports whether name is a recognised capability.
func KnownCapability(name string) bool {
	return sameCapability(name, CapabilitySpecifyPorts)
}

func sameCapability(name, canonical string) bool {
	name = strings.NewReplacer("_", "", "-", "").Replace(name)
	return strings.EqualFold(name, canonical)
}

// SpecifyPorts reports whether non-default session ports are allowed.
func (c Capabilities) SpecifyPorts() bool { return c.specifyPorts }

// Names returns the enabled capability names, sorted.
func (c Capabilities) Names() []string {
	var names []string
	if c.specifyPorts {
		names = append(names, CapabilitySpecifyPorts)
	}
	slices.Sort(names)
	return names
}

// CheckSession verifies that cfg only uses settings these capabilities
// allow.
func (c Capabilities) CheckSession(cfg SessionConfig) error {
	if c.specifyPorts {
		return nil
	}
	if cfg.PeerPort != DefaultPort {
		return fmt.Errorf("peer port %d requires %s: %w", cfg.PeerPort, CapabilitySpecifyPorts, ErrCapabilityRequired)
	}
	if cfg.LocalPort != DefaultPort {
		return fmt.Errorf("local port %d requires %s: %w", cfg.LocalPort, CapabilitySpecifyPorts, ErrCapabilityRequired)
	}
	return nil
}
