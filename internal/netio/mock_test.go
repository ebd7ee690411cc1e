package netio_test

import (
	"context"
	"fmt"
	"net/netip"
	"sync"

	"github.com/dantte-lp/bfdd/internal/netio"
)

// -------------------------------------------------------------------------
// MockPacketConn — Test double for PacketConn
// -------------------------------------------------------------------------

// mockRead is one scripted ReadPacket result.
type mockRead struct {
	data []byte
	meta netio.PacketMeta
	err  error
}

// writtenPacket records a single WritePacket call.
type writtenPacket struct {
	Data []byte
	Dst  netip.AddrPort
}

// MockPacketConn implements netio.PacketConn without real sockets. Reads
// block until a scripted result is pushed or the connection is closed.
type MockPacketConn struct {
	localAddr netip.AddrPort
	reads     chan mockRead
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	written  []writtenPacket
	writeErr error
}

// NewMockPacketConn creates a MockPacketConn with the given local address.
func NewMockPacketConn(addr netip.AddrPort) *MockPacketConn {
	return &MockPacketConn{
		localAddr: addr,
		reads:     make(chan mockRead, 16),
		closed:    make(chan struct{}),
	}
}

// Push scripts the next ReadPacket result.
func (m *MockPacketConn) Push(data []byte, meta netio.PacketMeta, err error) {
	m.reads <- mockRead{data: data, meta: meta, err: err}
}

// FailWrites makes every later WritePacket return err.
func (m *MockPacketConn) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// Written returns a copy of all packets sent so far.
func (m *MockPacketConn) Written() []writtenPacket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]writtenPacket(nil), m.written...)
}

// ReadPacket implements PacketConn.ReadPacket.
func (m *MockPacketConn) ReadPacket(buf []byte) (int, netio.PacketMeta, error) {
	select {
	case <-m.closed:
		return 0, netio.PacketMeta{}, netio.ErrSocketClosed
	default:
	}

	select {
	case r := <-m.reads:
		if r.err != nil {
			return 0, netio.PacketMeta{}, r.err
		}
		return copy(buf, r.data), r.meta, nil
	case <-m.closed:
		return 0, netio.PacketMeta{}, netio.ErrSocketClosed
	}
}

// WritePacket implements PacketConn.WritePacket.
func (m *MockPacketConn) WritePacket(buf []byte, dst netip.AddrPort) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return m.writeErr
	}

	// Copy the buffer so the test can inspect it after the caller reuses it.
	data := make([]byte, len(buf))
	copy(data, buf)
	m.written = append(m.written, writtenPacket{Data: data, Dst: dst})
	return nil
}

// Close implements PacketConn.Close.
func (m *MockPacketConn) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

// LocalAddr implements PacketConn.LocalAddr.
func (m *MockPacketConn) LocalAddr() netip.AddrPort {
	return m.localAddr
}

// mockNetwork is a ListenFunc that hands out MockPacketConns and remembers
// them by port.
type mockNetwork struct {
	mu    sync.Mutex
	conns map[uint16]*MockPacketConn
	opens int
	err   error
}

func newMockNetwork() *mockNetwork {
	return &mockNetwork{conns: make(map[uint16]*MockPacketConn)}
}

func (n *mockNetwork) listen(_ context.Context, laddr netip.AddrPort) (netio.PacketConn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.opens++
	if n.err != nil {
		return nil, n.err
	}
	c := NewMockPacketConn(laddr)
	n.conns[laddr.Port()] = c
	return c, nil
}

func (n *mockNetwork) conn(port uint16) *MockPacketConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.conns[port]
	if !ok {
		panic(fmt.Sprintf("no mock conn on port %d", port))
	}
	return c
}
