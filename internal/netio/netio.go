package netio

import (
	"errors"
	"net/netip"
)

// -------------------------------------------------------------------------
// Transport Metadata
// -------------------------------------------------------------------------

// PacketMeta contains transport-layer metadata of a received datagram.
type PacketMeta struct {
	// Src is the source address and port from the IP and UDP headers.
	// IPv4-mapped addresses are unmapped.
	Src netip.AddrPort

	// TTL is the Time-to-Live from the received IP header, taken from
	// IP_RECVTTL ancillary data. Zero when the kernel did not report it.
	TTL int
}

// -------------------------------------------------------------------------
// PacketConn Interface
// -------------------------------------------------------------------------

// PacketConn abstracts send and receive on one bound UDP socket.
//
// The interface is intentionally minimal so Transport can be tested with
// in-memory connections.
type PacketConn interface {
	// ReadPacket reads a single datagram into buf. It blocks until a
	// datagram arrives or the connection is closed, in which case the
	// error wraps ErrSocketClosed.
	ReadPacket(buf []byte) (n int, meta PacketMeta, err error)

	// WritePacket sends buf to dst with TTL 255.
	WritePacket(buf []byte, dst netip.AddrPort) error

	// Close releases the socket and unblocks a pending ReadPacket.
	Close() error

	// LocalAddr returns the local address and port the socket is bound to.
	LocalAddr() netip.AddrPort
}

// -------------------------------------------------------------------------
// Sentinel Errors
// -------------------------------------------------------------------------

var (
	// ErrSocketClosed indicates an operation on a closed socket.
	ErrSocketClosed = errors.New("socket closed")

	// ErrPoolType indicates the packet pool returned an unexpected type.
	ErrPoolType = errors.New("packet pool returned unexpected type")

	// ErrUnexpectedConnType indicates net.ListenConfig returned something
	// other than *net.UDPConn.
	ErrUnexpectedConnType = errors.New("unexpected connection type from ListenPacket")

	// ErrNoSocket indicates a send from a local port with no open socket.
	ErrNoSocket = errors.New("no socket for local port")

	// ErrTransportClosed indicates Open was called after Close.
	ErrTransportClosed = errors.New("transport closed")
)
