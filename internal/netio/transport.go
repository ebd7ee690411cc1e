package netio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/dantte-lp/bfdd/internal/bfd"
)

// ListenFunc opens a PacketConn bound to laddr.
type ListenFunc func(ctx context.Context, laddr netip.AddrPort) (PacketConn, error)

// TransportOption configures optional Transport parameters.
type TransportOption func(*Transport)

// WithListenAddr sets the local address sockets bind to. The default is
// the IPv4 unspecified address.
func WithListenAddr(addr netip.Addr) TransportOption {
	return func(t *Transport) {
		t.addr = addr
	}
}

// WithListenFunc replaces the socket factory, typically with in-memory
// connections in tests.
func WithListenFunc(fn ListenFunc) TransportOption {
	return func(t *Transport) {
		if fn != nil {
			t.listen = fn
		}
	}
}

// -------------------------------------------------------------------------
// Transport
// -------------------------------------------------------------------------

// Transport owns one PacketConn per local port and implements
// bfd.PacketSender.
//
// Each open port has a reader goroutine that copies datagrams into
// bfd.PacketPool buffers and forwards them to the sink channel. Readers
// never inspect packet contents; decoding and session lookup happen on the
// Engine loop. A full sink blocks the reader, so backpressure reaches the
// socket receive buffer rather than growing memory.
type Transport struct {
	listen ListenFunc
	addr   netip.Addr
	logger *slog.Logger

	mu     sync.RWMutex
	conns  map[uint16]PacketConn
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewTransport creates a Transport with no open ports.
func NewTransport(logger *slog.Logger, opts ...TransportOption) *Transport {
	t := &Transport{
		listen: listenDefault,
		addr:   netip.IPv4Unspecified(),
		logger: logger.With(slog.String("component", "netio.transport")),
		conns:  make(map[uint16]PacketConn),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Open binds the socket for port and starts its reader, which delivers
// datagrams to sink. Opening a port that is already open is a no-op.
func (t *Transport) Open(ctx context.Context, port uint16, sink chan<- bfd.Datagram) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("open port %d: %w", port, ErrTransportClosed)
	}
	if _, ok := t.conns[port]; ok {
		return nil
	}

	conn, err := t.listen(ctx, netip.AddrPortFrom(t.addr, port))
	if err != nil {
		return fmt.Errorf("open port %d: %w", port, err)
	}
	t.conns[port] = conn

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.readLoop(conn, port, sink)
	}()

	t.logger.Info("listening", slog.String("addr", conn.LocalAddr().String()))
	return nil
}

// Ports returns the open local ports in ascending order.
func (t *Transport) Ports() []uint16 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Sorted(maps.Keys(t.conns))
}

// SendPacket transmits buf to dst from the socket bound to localPort.
// It satisfies bfd.PacketSender.
func (t *Transport) SendPacket(_ context.Context, localPort uint16, buf []byte, dst netip.AddrPort) error {
	t.mu.RLock()
	conn, ok := t.conns[localPort]
	t.mu.RUnlock()

	if !ok {
		return fmt.Errorf("send to %s from port %d: %w", dst, localPort, ErrNoSocket)
	}
	if err := conn.WritePacket(buf, dst); err != nil {
		return fmt.Errorf("send to %s from port %d: %w", dst, localPort, err)
	}
	return nil
}

// Close closes every socket and waits for the readers to exit.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)

	var errs []error
	for port, conn := range t.conns {
		if err := conn.Close(); err != nil && !errors.Is(err, ErrSocketClosed) {
			errs = append(errs, fmt.Errorf("close port %d: %w", port, err))
		}
	}
	t.mu.Unlock()

	t.wg.Wait()
	return errors.Join(errs...)
}

// Read error backoff bounds. A socket that keeps failing is retried at
// most once per readBackoffMax.
const (
	readBackoffMin = 10 * time.Millisecond
	readBackoffMax = time.Second
)

// readLoop reads datagrams from conn until it is closed.
//
// Consecutive read errors back off exponentially. Only the first error of
// a run is logged at Warn; the rest go to Debug until a read succeeds.
func (t *Transport) readLoop(conn PacketConn, port uint16, sink chan<- bfd.Datagram) {
	logger := t.logger.With(slog.Uint64("local_port", uint64(port)))

	var failures int
	backoff := readBackoffMin

	for {
		dg, err := readOne(conn, port)
		if err != nil {
			if errors.Is(err, ErrSocketClosed) || t.isClosed() {
				return
			}
			failures++
			if failures == 1 {
				logger.Warn("read failed", slog.String("error", err.Error()))
			} else {
				logger.Debug("read failed again",
					slog.String("error", err.Error()),
					slog.Int("consecutive", failures),
				)
			}
			if !t.sleep(backoff) {
				return
			}
			backoff = min(2*backoff, readBackoffMax)
			continue
		}
		if failures > 1 {
			logger.Info("read recovered", slog.Int("failed_reads", failures))
		}
		failures = 0
		backoff = readBackoffMin

		select {
		case sink <- dg:
		case <-t.done:
			dg.Release()
			return
		}
	}
}

// readOne performs a single read into a pooled buffer.
func readOne(conn PacketConn, port uint16) (bfd.Datagram, error) {
	bufp, ok := bfd.PacketPool.Get().(*[]byte)
	if !ok {
		return bfd.Datagram{}, fmt.Errorf("read on port %d: %w", port, ErrPoolType)
	}

	n, meta, err := conn.ReadPacket(*bufp)
	if err != nil {
		bfd.PacketPool.Put(bufp)
		return bfd.Datagram{}, err
	}

	return bfd.Datagram{
		Payload:   (*bufp)[:n],
		Src:       meta.Src,
		LocalPort: port,
		TTL:       meta.TTL,
		Pooled:    bufp,
	}, nil
}

// sleep waits for d. It reports false if the Transport was closed first.
func (t *Transport) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-t.done:
		return false
	}
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
