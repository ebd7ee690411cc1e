package bfd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// -------------------------------------------------------------------------
// Protocol Constants — RFC 5880 Section 4.1
// -------------------------------------------------------------------------

// Version is the BFD protocol version (RFC 5880 Section 4.1).
const Version uint8 = 1

// HeaderSize is the mandatory BFD Control packet size in bytes
// (RFC 5880 Section 4.1: 6 x 32-bit words = 24 bytes).
const HeaderSize = 24

// MinPacketSizeWithAuth is the minimum valid packet size when the A bit is
// set (RFC 5880 Section 6.8.6: 24-byte header plus Auth Type and Auth Len).
const MinPacketSizeWithAuth = 26

// MaxPacketSize is the largest datagram the transport reads. The Length
// field is 8 bits wide, so no valid packet exceeds 255 bytes.
const MaxPacketSize = 255

// unknownFmt is the format string for unrecognized enum values with numeric code.
const unknownFmt = "Unknown(%d)"

// Flag bit positions within byte 1 (RFC 5880 Section 4.1).
const (
	flagPoll      = 1 << 5
	flagFinal     = 1 << 4
	flagCPI       = 1 << 3
	flagAuth      = 1 << 2
	flagDemand    = 1 << 1
	flagMultipnt  = 1 << 0
	stateShift    = 6
	versionShift  = 5
	diagMask      = 0x1F
	stateBitsMask = 0x03
)

// -------------------------------------------------------------------------
// Diagnostic Codes — RFC 5880 Section 4.1
// -------------------------------------------------------------------------

// Diag is the 5-bit BFD diagnostic code explaining the most recent
// transition away from Up (RFC 5880 Section 4.1).
type Diag uint8

const (
	// DiagNone indicates no diagnostic.
	DiagNone Diag = 0

	// DiagControlDetectionTimeExpired is set when the detection timer
	// fires (RFC 5880 Section 6.8.4).
	DiagControlDetectionTimeExpired Diag = 1

	// DiagEchoFailed indicates the echo function failed.
	DiagEchoFailed Diag = 2

	// DiagNeighborSignaledDown is set when the peer reports Down or
	// AdminDown while the local session is Init or Up.
	DiagNeighborSignaledDown Diag = 3

	// DiagForwardingPlaneReset indicates the forwarding plane was reset.
	DiagForwardingPlaneReset Diag = 4

	// DiagPathDown indicates the path is down.
	DiagPathDown Diag = 5

	// DiagConcatPathDown indicates a concatenated path is down.
	DiagConcatPathDown Diag = 6

	// DiagAdministrativelyDown is set when the session is disabled
	// locally (RFC 5880 Section 6.8.16).
	DiagAdministrativelyDown Diag = 7

	// DiagReverseConcatPathDown indicates a reverse concatenated path is down.
	DiagReverseConcatPathDown Diag = 8
)

var diagNames = [...]string{
	"None",
	"ControlDetectionTimeExpired",
	"EchoFunctionFailed",
	"NeighborSignaledDown",
	"ForwardingPlaneReset",
	"PathDown",
	"ConcatenatedPathDown",
	"AdministrativelyDown",
	"ReverseConcatenatedPathDown",
}

// String returns the name of the diagnostic code.
func (d Diag) String() string {
	if int(d) < len(diagNames) {
		return diagNames[d]
	}
	return fmt.Sprintf(unknownFmt, d)
}

// -------------------------------------------------------------------------
// Session State — RFC 5880 Section 4.1
// -------------------------------------------------------------------------

// State is the 2-bit BFD session state (RFC 5880 Section 4.1).
type State uint8

const (
	// StateAdminDown indicates the session is administratively down.
	StateAdminDown State = 0

	// StateDown indicates the session is down or has just been created.
	StateDown State = 1

	// StateInit indicates the local side has heard the peer but the peer
	// has not yet confirmed it hears us.
	StateInit State = 2

	// StateUp indicates the session is fully established.
	StateUp State = 3
)

var stateNames = [...]string{
	"AdminDown",
	"Down",
	"Init",
	"Up",
}

// String returns the name of the session state.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf(unknownFmt, s)
}

// ParseState converts a state name as produced by State.String back to a
// State. It is used by the monitor client for filtering.
func ParseState(name string) (State, bool) {
	for i, n := range stateNames {
		if n == name {
			return State(i), true
		}
	}
	return 0, false
}

// -------------------------------------------------------------------------
// ControlPacket — RFC 5880 Section 4.1
// -------------------------------------------------------------------------

// ControlPacket is a decoded BFD Control packet.
//
// All interval fields are in MICROSECONDS, as on the wire. Callers convert
// to time.Duration at the boundary.
type ControlPacket struct {
	Version uint8
	Diag    Diag
	State   State

	Poll                    bool
	Final                   bool
	ControlPlaneIndependent bool
	AuthPresent             bool
	Demand                  bool
	Multipoint              bool

	DetectMult uint8

	// Length is the total packet length in bytes. MarshalControlPacket
	// derives it from the header size plus the trailer and ignores this
	// field.
	Length uint8

	MyDiscriminator           uint32
	YourDiscriminator         uint32
	DesiredMinTxInterval      uint32
	RequiredMinRxInterval     uint32
	RequiredMinEchoRxInterval uint32

	// AuthTrailer holds the raw authentication section when the A bit is
	// set. It is carried opaquely; this daemon never generates or verifies
	// authentication.
	AuthTrailer []byte
}

// -------------------------------------------------------------------------
// Codec Errors
// -------------------------------------------------------------------------

// ErrMalformedPacket is wrapped by every decode failure. Callers that only
// need to know "drop this datagram" test for it with errors.Is; the more
// specific sentinels below are joined alongside it.
var ErrMalformedPacket = errors.New("malformed BFD control packet")

var (
	// ErrPacketTooShort indicates fewer than 24 bytes were received.
	ErrPacketTooShort = errors.New("packet too short")

	// ErrInvalidVersion indicates the Version field is not 1.
	ErrInvalidVersion = errors.New("unsupported BFD version")

	// ErrInvalidLength indicates the Length field disagrees with the
	// number of bytes received or with the A bit.
	ErrInvalidLength = errors.New("invalid length field")

	// ErrMultipointSet indicates the reserved Multipoint bit is set.
	ErrMultipointSet = errors.New("multipoint bit is set")

	// ErrBufTooSmall indicates the caller-provided buffer cannot hold the
	// encoded packet.
	ErrBufTooSmall = errors.New("buffer too small for BFD control packet")

	// ErrAuthTrailerMismatch indicates AuthPresent and AuthTrailer disagree
	// on encode.
	ErrAuthTrailerMismatch = errors.New("auth present bit and auth trailer mismatch")
)

const unmarshalErrPrefix = "unmarshal control packet"

// PacketPool recycles MaxPacketSize receive buffers between the transport
// readers and the engine.
//
//nolint:gochecknoglobals // sync.Pool is package-level by convention.
var PacketPool = sync.Pool{
	New: func() any {
		buf := make([]byte, MaxPacketSize)
		return &buf
	},
}

// -------------------------------------------------------------------------
// MarshalControlPacket
// -------------------------------------------------------------------------

// MarshalControlPacket serializes pkt into buf and returns the number of
// bytes written.
//
// Wire format (RFC 5880 Section 4.1):
//
//	Byte 0:      Version(3 bits) | Diag(5 bits)
//	Byte 1:      State(2 bits) | P | F | C | A | D | M
//	Byte 2:      Detect Mult
//	Byte 3:      Length
//	Bytes 4-7:   My Discriminator
//	Bytes 8-11:  Your Discriminator
//	Bytes 12-15: Desired Min TX Interval (microseconds)
//	Bytes 16-19: Required Min RX Interval (microseconds)
//	Bytes 20-23: Required Min Echo RX Interval (microseconds)
//	Bytes 24+:   Authentication Section (A bit set only)
//
// All multi-byte fields are big endian.
func MarshalControlPacket(pkt *ControlPacket, buf []byte) (int, error) {
	if pkt.AuthPresent != (len(pkt.AuthTrailer) > 0) {
		return 0, fmt.Errorf("marshal control packet: %w", ErrAuthTrailerMismatch)
	}

	totalLen := HeaderSize + len(pkt.AuthTrailer)
	if totalLen > MaxPacketSize {
		return 0, fmt.Errorf("marshal control packet: length %d exceeds %d: %w",
			totalLen, MaxPacketSize, ErrInvalidLength)
	}
	if len(buf) < totalLen {
		return 0, fmt.Errorf("marshal control packet: need %d bytes, got %d: %w",
			totalLen, len(buf), ErrBufTooSmall)
	}

	buf[0] = pkt.Version<<versionShift | uint8(pkt.Diag)&diagMask
	buf[1] = encodeFlags(pkt)
	buf[2] = pkt.DetectMult
	buf[3] = uint8(totalLen)

	binary.BigEndian.PutUint32(buf[4:8], pkt.MyDiscriminator)
	binary.BigEndian.PutUint32(buf[8:12], pkt.YourDiscriminator)
	binary.BigEndian.PutUint32(buf[12:16], pkt.DesiredMinTxInterval)
	binary.BigEndian.PutUint32(buf[16:20], pkt.RequiredMinRxInterval)
	binary.BigEndian.PutUint32(buf[20:24], pkt.RequiredMinEchoRxInterval)

	copy(buf[HeaderSize:totalLen], pkt.AuthTrailer)

	return totalLen, nil
}

func encodeFlags(pkt *ControlPacket) uint8 {
	flags := (uint8(pkt.State) & stateBitsMask) << stateShift
	if pkt.Poll {
		flags |= flagPoll
	}
	if pkt.Final {
		flags |= flagFinal
	}
	if pkt.ControlPlaneIndependent {
		flags |= flagCPI
	}
	if pkt.AuthPresent {
		flags |= flagAuth
	}
	if pkt.Demand {
		flags |= flagDemand
	}
	if pkt.Multipoint {
		flags |= flagMultipnt
	}
	return flags
}

// -------------------------------------------------------------------------
// UnmarshalControlPacket — RFC 5880 Section 6.8.6 steps 1-5
// -------------------------------------------------------------------------

// UnmarshalControlPacket decodes buf, which must hold exactly one datagram,
// into pkt.
//
// Only syntactic checks happen here:
//
//  1. at least 24 bytes were received
//  2. Version == 1
//  3. Length equals the number of bytes received
//  4. Length == 24 with the A bit clear, Length >= 26 with it set
//  5. Multipoint == 0
//
// Zero discriminators and a zero Detect Mult decode successfully; the
// session layer rejects them. Every error wraps ErrMalformedPacket.
func UnmarshalControlPacket(buf []byte, pkt *ControlPacket) error {
	if len(buf) < HeaderSize {
		return malformed(fmt.Sprintf("received %d bytes, minimum %d", len(buf), HeaderSize),
			ErrPacketTooShort)
	}

	decodeHeader(buf, pkt)

	if err := validateHeader(len(buf), pkt); err != nil {
		return err
	}

	decodeBody(buf, pkt)

	pkt.AuthTrailer = nil
	if pkt.AuthPresent {
		pkt.AuthTrailer = append([]byte(nil), buf[HeaderSize:pkt.Length]...)
	}

	return nil
}

func malformed(detail string, cause error) error {
	return fmt.Errorf("%s: %s: %w: %w", unmarshalErrPrefix, detail, ErrMalformedPacket, cause)
}

func decodeHeader(buf []byte, pkt *ControlPacket) {
	pkt.Version = buf[0] >> versionShift
	pkt.Diag = Diag(buf[0] & diagMask)

	flags := buf[1]
	pkt.State = State(flags >> stateShift)
	pkt.Poll = flags&flagPoll != 0
	pkt.Final = flags&flagFinal != 0
	pkt.ControlPlaneIndependent = flags&flagCPI != 0
	pkt.AuthPresent = flags&flagAuth != 0
	pkt.Demand = flags&flagDemand != 0
	pkt.Multipoint = flags&flagMultipnt != 0

	pkt.DetectMult = buf[2]
	pkt.Length = buf[3]
}

func validateHeader(received int, pkt *ControlPacket) error {
	if pkt.Version != Version {
		return malformed(fmt.Sprintf("version %d", pkt.Version), ErrInvalidVersion)
	}

	if int(pkt.Length) != received {
		return malformed(fmt.Sprintf("length field %d, received %d", pkt.Length, received),
			ErrInvalidLength)
	}

	if pkt.AuthPresent {
		if pkt.Length < MinPacketSizeWithAuth {
			return malformed(fmt.Sprintf("length field %d below %d with auth", pkt.Length,
				MinPacketSizeWithAuth), ErrInvalidLength)
		}
	} else if pkt.Length != HeaderSize {
		return malformed(fmt.Sprintf("length field %d without auth", pkt.Length),
			ErrInvalidLength)
	}

	if pkt.Multipoint {
		return malformed("reserved bit", ErrMultipointSet)
	}

	return nil
}

func decodeBody(buf []byte, pkt *ControlPacket) {
	pkt.MyDiscriminator = binary.BigEndian.Uint32(buf[4:8])
	pkt.YourDiscriminator = binary.BigEndian.Uint32(buf[8:12])
	pkt.DesiredMinTxInterval = binary.BigEndian.Uint32(buf[12:16])
	pkt.RequiredMinRxInterval = binary.BigEndian.Uint32(buf[16:20])
	pkt.RequiredMinEchoRxInterval = binary.BigEndian.Uint32(buf[20:24])
}
