//go:build linux

package netio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/dantte-lp/bfdd/internal/bfd"
)

// -------------------------------------------------------------------------
// UDPConn — RFC 5881 Section 5 socket requirements
// -------------------------------------------------------------------------

// UDPConn implements PacketConn over an IPv4 UDP socket.
//
// Socket configuration:
//  1. SO_REUSEADDR so a restarted daemon can rebind the port immediately
//  2. IP_TTL = 255 on TX (RFC 5881 Section 5, RFC 5082 GTSM)
//  3. IP_RECVTTL so every read reports the received TTL
type UDPConn struct {
	conn      *net.UDPConn
	pc        *ipv4.PacketConn
	localAddr netip.AddrPort
}

// ListenUDP binds an IPv4 UDP socket on laddr and configures it for BFD.
// A zero port binds an ephemeral port; LocalAddr reports the real one.
func ListenUDP(ctx context.Context, laddr netip.AddrPort) (*UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return setReuseAddr(c)
		},
	}

	pc, err := lc.ListenPacket(ctx, "udp4", laddr.String())
	if err != nil {
		return nil, fmt.Errorf("listen UDP %s: %w", laddr, err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		return nil, errors.Join(
			fmt.Errorf("listen UDP %s: %w", laddr, ErrUnexpectedConnType),
			pc.Close(),
		)
	}

	p := ipv4.NewPacketConn(conn)
	if err := p.SetTTL(bfd.RequiredTTL); err != nil {
		return nil, errors.Join(fmt.Errorf("set IP_TTL on %s: %w", laddr, err), conn.Close())
	}
	if err := p.SetControlMessage(ipv4.FlagTTL, true); err != nil {
		return nil, errors.Join(fmt.Errorf("set IP_RECVTTL on %s: %w", laddr, err), conn.Close())
	}

	local := laddr
	if ua, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		local = netip.AddrPortFrom(laddr.Addr(), uint16(ua.Port)) //nolint:gosec // G115: UDP ports fit uint16.
	}

	return &UDPConn{conn: conn, pc: p, localAddr: local}, nil
}

// setReuseAddr sets SO_REUSEADDR via the Control callback.
func setReuseAddr(c syscall.RawConn) error {
	var sockErr error

	err := c.Control(func(fd uintptr) {
		//nolint:gosec // G115: fd uintptr->int is safe; kernel FDs are always small positive integers.
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			sockErr = fmt.Errorf("set SO_REUSEADDR: %w", err)
		}
	})
	if err != nil {
		return fmt.Errorf("raw conn control: %w", err)
	}

	return sockErr
}

// ReadPacket reads one datagram and its received TTL.
func (c *UDPConn) ReadPacket(buf []byte) (int, PacketMeta, error) {
	n, cm, src, err := c.pc.ReadFrom(buf)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return 0, PacketMeta{}, fmt.Errorf("read on %s: %w", c.localAddr, ErrSocketClosed)
		}
		return 0, PacketMeta{}, fmt.Errorf("read on %s: %w", c.localAddr, err)
	}

	var meta PacketMeta
	if ua, ok := src.(*net.UDPAddr); ok {
		ap := ua.AddrPort()
		meta.Src = netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	}
	if cm != nil {
		meta.TTL = cm.TTL
	}

	return n, meta, nil
}

// WritePacket sends buf to dst. TTL 255 is set on the socket.
func (c *UDPConn) WritePacket(buf []byte, dst netip.AddrPort) error {
	if _, err := c.pc.WriteTo(buf, nil, net.UDPAddrFromAddrPort(dst)); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("write to %s: %w", dst, ErrSocketClosed)
		}
		return fmt.Errorf("write to %s: %w", dst, err)
	}
	return nil
}

// SetReadDeadline bounds the next ReadPacket.
func (c *UDPConn) SetReadDeadline(t time.Time) error {
	if err := c.pc.SetReadDeadline(t); err != nil {
		return fmt.Errorf("set read deadline on %s: %w", c.localAddr, err)
	}
	return nil
}

// Close releases the socket. Closing twice reports ErrSocketClosed.
func (c *UDPConn) Close() error {
	if err := c.pc.Close(); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("close %s: %w", c.localAddr, ErrSocketClosed)
		}
		return fmt.Errorf("close %s: %w", c.localAddr, err)
	}
	return nil
}

// LocalAddr returns the local address and port the socket is bound to.
func (c *UDPConn) LocalAddr() netip.AddrPort {
	return c.localAddr
}

// listenDefault is the Transport's default socket factory.
func listenDefault(ctx context.Context, laddr netip.AddrPort) (PacketConn, error) {
	return ListenUDP(ctx, laddr)
}
