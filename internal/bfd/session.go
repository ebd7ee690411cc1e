package bfd

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"
)

// -------------------------------------------------------------------------
// Session Configuration & Notification
// -------------------------------------------------------------------------

// SessionConfig describes one configured session.
type SessionConfig struct {
	// PeerAddr is the remote system's IPv4 address.
	PeerAddr netip.Addr

	// PeerPort is the remote UDP port. Zero means DefaultPort.
	PeerPort uint16

	// LocalPort is the local UDP port the session sends from and receives
	// on. Zero means DefaultPort.
	LocalPort uint16

	// DesiredMinTxInterval is bfd.DesiredMinTxInterval. MUST be > 0.
	DesiredMinTxInterval time.Duration

	// RequiredMinRxInterval is bfd.RequiredMinRxInterval. Zero tells the
	// peer not to send periodic packets.
	RequiredMinRxInterval time.Duration

	// DetectMultiplier is bfd.DetectMult, 1..255.
	DetectMultiplier uint8

	// DemandMode is bfd.DemandMode: the local wish to run in demand mode.
	DemandMode bool

	// AdminDown starts the session in AdminDown instead of Down.
	AdminDown bool
}

// withDefaults fills the zero ports.
func (c SessionConfig) withDefaults() SessionConfig {
	if c.PeerPort == 0 {
		c.PeerPort = DefaultPort
	}
	if c.LocalPort == 0 {
		c.LocalPort = DefaultPort
	}
	return c
}

// Validate checks the protocol constraints on cfg.
func (c SessionConfig) Validate() error {
	if !c.PeerAddr.IsValid() {
		return fmt.Errorf("peer address: %w", ErrInvalidPeer)
	}
	if !c.PeerAddr.Unmap().Is4() {
		return fmt.Errorf("peer address %s: IPv4 only: %w", c.PeerAddr, ErrInvalidPeer)
	}
	if c.DetectMultiplier < 1 {
		return fmt.Errorf("detect multiplier %d: %w", c.DetectMultiplier, ErrInvalidDetectMult)
	}
	if c.DesiredMinTxInterval <= 0 {
		return fmt.Errorf("desired min TX interval %v: %w", c.DesiredMinTxInterval, ErrInvalidTxInterval)
	}
	if c.RequiredMinRxInterval < 0 {
		return fmt.Errorf("required min RX interval %v: %w", c.RequiredMinRxInterval, ErrInvalidRxInterval)
	}
	return nil
}

// PeerKey is the demultiplexing key for sessions whose peer has not yet
// told us its discriminator.
type PeerKey struct {
	Peer      netip.AddrPort
	LocalPort uint16
}

// String implements fmt.Stringer.
func (k PeerKey) String() string {
	return fmt.Sprintf("%s via :%d", k.Peer, k.LocalPort)
}

// Params are the three timing values a poll sequence renegotiates.
type Params struct {
	DesiredMinTxInterval  time.Duration
	RequiredMinRxInterval time.Duration
	DetectMultiplier      uint8
}

// Validate checks the same constraints as SessionConfig.Validate.
func (p Params) Validate() error {
	if p.DetectMultiplier < 1 {
		return fmt.Errorf("detect multiplier %d: %w", p.DetectMultiplier, ErrInvalidDetectMult)
	}
	if p.DesiredMinTxInterval <= 0 {
		return fmt.Errorf("desired min TX interval %v: %w", p.DesiredMinTxInterval, ErrInvalidTxInterval)
	}
	if p.RequiredMinRxInterval < 0 {
		return fmt.Errorf("required min RX interval %v: %w", p.RequiredMinRxInterval, ErrInvalidRxInterval)
	}
	return nil
}

// StateChange is emitted when a session changes state.
type StateChange struct {
	LocalDiscr uint32
	PeerAddr   netip.Addr
	PeerPort   uint16
	OldState   State
	NewState   State
	Diag       Diag
	Timestamp  time.Time
}

// -------------------------------------------------------------------------
// Session Errors
// -------------------------------------------------------------------------

var (
	// ErrInvalidPeer indicates a missing or non-IPv4 peer address.
	ErrInvalidPeer = errors.New("invalid peer address")

	// ErrInvalidDetectMult indicates the detect multiplier is zero.
	ErrInvalidDetectMult = errors.New("detect multiplier must be 1..255")

	// ErrInvalidTxInterval indicates the desired min TX interval is not
	// positive.
	ErrInvalidTxInterval = errors.New("desired min TX interval must be > 0")

	// ErrInvalidRxInterval indicates a negative required min RX interval.
	ErrInvalidRxInterval = errors.New("required min RX interval must be >= 0")
)

// Reasons a session discards a received packet (RFC 5880 Section 6.8.6).
var (
	// ErrDiscriminatorMismatch indicates a nonzero Your Discriminator that
	// is not the receiving session's local discriminator.
	ErrDiscriminatorMismatch = errors.New("your discriminator does not match")

	// ErrZeroDetectMult indicates Detect Mult is zero.
	ErrZeroDetectMult = errors.New("detect multiplier is zero")

	// ErrZeroMyDiscriminator indicates My Discriminator is zero.
	ErrZeroMyDiscriminator = errors.New("my discriminator is zero")

	// ErrZeroYourDiscriminator indicates Your Discriminator is zero while
	// the sender claims Init or Up.
	ErrZeroYourDiscriminator = errors.New("your discriminator is zero in non-Down state")

	// ErrAuthUnsupported indicates the A bit is set; this daemon does not
	// implement authentication.
	ErrAuthUnsupported = errors.New("authentication not supported")

	// ErrRemoteDiscriminatorChanged indicates My Discriminator differs
	// from the one learned earlier while the session is Init or Up.
	ErrRemoteDiscriminatorChanged = errors.New("remote discriminator changed")

	// ErrSessionAdminDown indicates the session is AdminDown and discards
	// all received packets.
	ErrSessionAdminDown = errors.New("session is administratively down")
)

// -------------------------------------------------------------------------
// Session — RFC 5880 Section 6.8.1
// -------------------------------------------------------------------------

// Session is the protocol state of one BFD session.
//
// A Session is owned by the Registry and mutated only by the Engine loop
// goroutine. It holds no timers itself: its transmit and detection timers
// live in the Engine's TimerQueue keyed by the session's ID. Readers on
// other goroutines see it only through a SessionSnapshot.
type Session struct {
	id SessionID

	// --- RFC 5880 Section 6.8.1 state variables ---

	state       State
	remoteState State
	localDiag   Diag
	localDiscr  uint32
	remoteDiscr uint32

	desiredMinTxInterval  time.Duration
	requiredMinRxInterval time.Duration
	detectMult            uint8

	// remoteMinRxInterval is 0 until the first packet. remoteHeard
	// distinguishes "not yet learned" from a peer that asked for zero.
	remoteMinRxInterval        time.Duration
	remoteDesiredMinTxInterval time.Duration
	remoteDetectMult           uint8
	remoteDemandMode           bool
	remoteHeard                bool

	// --- Demand mode (RFC 5880 Section 6.6) ---

	demandModeDesired bool
	demandModeActive  bool

	// --- Poll sequence (RFC 5880 Section 6.5) ---

	poll pollState

	// --- Identity ---

	peerAddr  netip.Addr
	peerPort  uint16
	localPort uint16

	// --- Bookkeeping ---

	createdAt          time.Time
	lastPacketReceived time.Time
	lastStateChange    time.Time
	counters           sessionCounters

	logger *slog.Logger
}

type sessionCounters struct {
	packetsSent      uint64
	packetsReceived  uint64
	packetsDropped   uint64
	sendErrors       uint64
	stateTransitions uint64
	pollsCompleted   uint64
}

// newSession builds a Session from a validated, defaulted config.
func newSession(id SessionID, cfg SessionConfig, localDiscr uint32, now time.Time, logger *slog.Logger) *Session {
	state := StateDown
	diag := DiagNone
	if cfg.AdminDown {
		state = StateAdminDown
		diag = DiagAdministrativelyDown
	}

	return &Session{
		id:                    id,
		state:                 state,
		remoteState:           StateDown,
		localDiag:             diag,
		localDiscr:            localDiscr,
		desiredMinTxInterval:  cfg.DesiredMinTxInterval,
		requiredMinRxInterval: cfg.RequiredMinRxInterval,
		detectMult:            cfg.DetectMultiplier,
		demandModeDesired:     cfg.DemandMode,
		peerAddr:              cfg.PeerAddr.Unmap(),
		peerPort:              cfg.PeerPort,
		localPort:             cfg.LocalPort,
		createdAt:             now,
		lastStateChange:       now,
		logger: logger.With(
			slog.String("peer", netip.AddrPortFrom(cfg.PeerAddr.Unmap(), cfg.PeerPort).String()),
			slog.Uint64("local_discr", uint64(localDiscr)),
		),
	}
}

// ID returns the registry handle of the session.
func (s *Session) ID() SessionID { return s.id }

// LocalDiscriminator returns bfd.LocalDiscr.
func (s *Session) LocalDiscriminator() uint32 { return s.localDiscr }

// RemoteDiscriminator returns bfd.RemoteDiscr, zero until learned.
func (s *Session) RemoteDiscriminator() uint32 { return s.remoteDiscr }

// State returns bfd.SessionState.
func (s *Session) State() State { return s.state }

// RemoteState returns the last state reported by the peer.
func (s *Session) RemoteState() State { return s.remoteState }

// LocalDiag returns bfd.LocalDiag.
func (s *Session) LocalDiag() Diag { return s.localDiag }

// PeerKey returns the address-based demultiplexing key.
func (s *Session) PeerKey() PeerKey {
	return PeerKey{Peer: s.peerAddrPort(), LocalPort: s.localPort}
}

// DemandModeActive reports whether periodic transmission is suspended.
func (s *Session) DemandModeActive() bool { return s.demandModeActive }

// PollInProgress reports whether a local poll sequence is outstanding.
func (s *Session) PollInProgress() bool { return s.poll.inProgress }

func (s *Session) peerAddrPort() netip.AddrPort {
	return netip.AddrPortFrom(s.peerAddr, s.peerPort)
}

// -------------------------------------------------------------------------
// Timer Negotiation — RFC 5880 Sections 6.8.2-6.8.4
// -------------------------------------------------------------------------

// NegotiatedTxInterval returns max(bfd.DesiredMinTxInterval,
// bfd.RemoteMinRxInterval) using the values currently in effect. Values
// proposed by an outstanding poll sequence are not in effect yet.
func (s *Session) NegotiatedTxInterval() time.Duration {
	return NegotiatedTxInterval(s.desiredMinTxInterval, s.remoteMinRxInterval)
}

// DetectionTime returns the current detection time.
//
// Before the first packet the peer's parameters are unknown and the local
// Detect Mult times the negotiated interval is used. In demand mode the
// local system's own transmit interval governs (RFC 5880 Section 6.8.4).
func (s *Session) DetectionTime() time.Duration {
	if !s.remoteHeard || s.remoteDetectMult == 0 || s.demandModeActive {
		return time.Duration(int64(s.detectMult) * int64(s.NegotiatedTxInterval()))
	}
	return DetectionTime(s.remoteDetectMult, s.requiredMinRxInterval, s.remoteDesiredMinTxInterval)
}

// periodicWanted reports whether the transmit timer should be running.
func (s *Session) periodicWanted() bool {
	if s.state == StateAdminDown {
		return false
	}
	return !s.demandModeActive || s.poll.inProgress
}

// mayTransmitPeriodic reports whether a periodic packet may go out now.
// RFC 5880 Section 6.8.7: a system MUST NOT periodically transmit if
// bfd.RemoteMinRxInterval is zero.
func (s *Session) mayTransmitPeriodic() bool {
	return !(s.remoteHeard && s.remoteMinRxInterval == 0)
}

// detectWanted reports whether the detection timer should be running.
func (s *Session) detectWanted() bool {
	if s.state != StateInit && s.state != StateUp {
		return false
	}
	return !s.demandModeActive || s.poll.inProgress
}

// -------------------------------------------------------------------------
// Reception — RFC 5880 Section 6.8.6
// -------------------------------------------------------------------------

// checkPacket applies the session-level acceptance rules to a decoded
// packet. It does not mutate the session.
func (s *Session) checkPacket(pkt *ControlPacket) error {
	if pkt.DetectMult == 0 {
		return ErrZeroDetectMult
	}
	if pkt.MyDiscriminator == 0 {
		return ErrZeroMyDiscriminator
	}
	if pkt.YourDiscriminator == 0 && (pkt.State == StateInit || pkt.State == StateUp) {
		return ErrZeroYourDiscriminator
	}
	if pkt.YourDiscriminator != 0 && pkt.YourDiscriminator != s.localDiscr {
		return fmt.Errorf("got %d, local %d: %w", pkt.YourDiscriminator, s.localDiscr, ErrDiscriminatorMismatch)
	}
	if pkt.AuthPresent {
		return ErrAuthUnsupported
	}
	if s.state == StateAdminDown {
		return ErrSessionAdminDown
	}
	if s.remoteDiscr != 0 && pkt.MyDiscriminator != s.remoteDiscr &&
		(s.state == StateInit || s.state == StateUp) {
		return fmt.Errorf("learned %d, got %d: %w", s.remoteDiscr, pkt.MyDiscriminator, ErrRemoteDiscriminatorChanged)
	}
	return nil
}

// learnRemote records the peer's advertised values from an accepted
// packet (RFC 5880 Section 6.8.6, "Set bfd.RemoteDiscr ..." through
// "Set bfd.RemoteMinRxInterval ...").
func (s *Session) learnRemote(pkt *ControlPacket, now time.Time) {
	s.remoteDiscr = pkt.MyDiscriminator
	s.remoteState = pkt.State
	s.remoteDemandMode = pkt.Demand
	s.remoteMinRxInterval = durationFromMicroseconds(pkt.RequiredMinRxInterval)
	s.remoteDesiredMinTxInterval = durationFromMicroseconds(pkt.DesiredMinTxInterval)
	s.remoteDetectMult = pkt.DetectMult
	s.remoteHeard = true
	s.lastPacketReceived = now
	s.counters.packetsReceived++
}

// resetRemote forgets the peer's discriminator and leaves demand mode
// after the session drops to Down or AdminDown. The advertised intervals
// are kept so negotiation stays correct for the next packets.
func (s *Session) resetRemote() {
	s.remoteDiscr = 0
	s.remoteDemandMode = false
	s.demandModeActive = false
	s.poll.finalPending = false
}

// -------------------------------------------------------------------------
// Transmission — RFC 5880 Section 6.8.7
// -------------------------------------------------------------------------

// buildControlPacket fills pkt from the current session state.
//
// While a poll sequence is outstanding the packet advertises the proposed
// parameters with the Poll bit set. When final is true the packet answers
// a received Poll: it carries Final and never Poll, and advertises the
// parameters in effect, whatever our own poll proposes (RFC 5880
// Section 6.5: the two directions are independent).
func (s *Session) buildControlPacket(pkt *ControlPacket, final bool) {
	desired, required, mult := s.advertisedParams()
	if final {
		p := s.currentParams()
		desired, required, mult = p.DesiredMinTxInterval, p.RequiredMinRxInterval, p.DetectMultiplier
	}

	*pkt = ControlPacket{
		Version:               Version,
		Diag:                  s.localDiag,
		State:                 s.state,
		Poll:                  s.poll.inProgress && !final,
		Final:                 final,
		Demand:                s.demandModeDesired && s.state == StateUp,
		DetectMult:            mult,
		MyDiscriminator:       s.localDiscr,
		YourDiscriminator:     s.remoteDiscr,
		DesiredMinTxInterval:  microsecondsFromDuration(desired),
		RequiredMinRxInterval: microsecondsFromDuration(required),
	}
}

// -------------------------------------------------------------------------
// Snapshot
// -------------------------------------------------------------------------

// SessionSnapshot is a copy of a session's observable state. Snapshots are
// produced on the Engine loop and may be read from any goroutine.
type SessionSnapshot struct {
	LocalDiscr  uint32
	RemoteDiscr uint32
	PeerAddr    netip.Addr
	PeerPort    uint16
	LocalPort   uint16

	State       State
	RemoteState State
	LocalDiag   Diag

	DesiredMinTxInterval       time.Duration
	RequiredMinRxInterval      time.Duration
	DetectMultiplier           uint8
	RemoteMinRxInterval        time.Duration
	RemoteDesiredMinTxInterval time.Duration
	RemoteDetectMultiplier     uint8
	NegotiatedTxInterval       time.Duration
	DetectionTime              time.Duration

	DemandModeDesired bool
	DemandModeActive  bool
	RemoteDemandMode  bool
	PollInProgress    bool

	CreatedAt          time.Time
	LastPacketReceived time.Time
	LastStateChange    time.Time

	PacketsSent      uint64
	PacketsReceived  uint64
	PacketsDropped   uint64
	SendErrors       uint64
	StateTransitions uint64
	PollsCompleted   uint64
}

// Snapshot copies the session's observable state.
func (s *Session) Snapshot() SessionSnapshot {
	return SessionSnapshot{
		LocalDiscr:                 s.localDiscr,
		RemoteDiscr:                s.remoteDiscr,
		PeerAddr:                   s.peerAddr,
		PeerPort:                   s.peerPort,
		LocalPort:                  s.localPort,
		State:                      s.state,
		RemoteState:                s.remoteState,
		LocalDiag:                  s.localDiag,
		DesiredMinTxInterval:       s.desiredMinTxInterval,
		RequiredMinRxInterval:      s.requiredMinRxInterval,
		DetectMultiplier:           s.detectMult,
		RemoteMinRxInterval:        s.remoteMinRxInterval,
		RemoteDesiredMinTxInterval: s.remoteDesiredMinTxInterval,
		RemoteDetectMultiplier:     s.remoteDetectMult,
		NegotiatedTxInterval:       s.NegotiatedTxInterval(),
		DetectionTime:              s.DetectionTime(),
		DemandModeDesired:          s.demandModeDesired,
		DemandModeActive:           s.demandModeActive,
		RemoteDemandMode:           s.remoteDemandMode,
		PollInProgress:             s.poll.inProgress,
		CreatedAt:                  s.createdAt,
		LastPacketReceived:         s.lastPacketReceived,
		LastStateChange:            s.lastStateChange,
		PacketsSent:                s.counters.packetsSent,
		PacketsReceived:            s.counters.packetsReceived,
		PacketsDropped:             s.counters.packetsDropped,
		SendErrors:                 s.counters.sendErrors,
		StateTransitions:           s.counters.stateTransitions,
		PollsCompleted:             s.counters.pollsCompleted,
	}
}
