package bfd

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/netip"
	"time"
)

// -------------------------------------------------------------------------
// Session Identifiers
// -------------------------------------------------------------------------

// SessionID is a handle to a Registry slot. It pairs the slot index with
// the generation the slot had when the session was created, so an ID kept
// after deregistration never resolves to the slot's next occupant.
type SessionID struct {
	index uint32
	gen   uint32
}

// String implements fmt.Stringer.
func (id SessionID) String() string {
	return fmt.Sprintf("%d/%d", id.index, id.gen)
}

// IsZero reports whether id is the zero value, which never names a session.
func (id SessionID) IsZero() bool { return id.gen == 0 }

// -------------------------------------------------------------------------
// Registry Errors
// -------------------------------------------------------------------------

var (
	// ErrSessionNotFound indicates no live session matches the lookup.
	ErrSessionNotFound = errors.New("session not found")

	// ErrDuplicateSession indicates a session with the same peer address,
	// peer port and local port already exists.
	ErrDuplicateSession = errors.New("duplicate session")

	// ErrDemuxNoMatch indicates a packet with zero Your Discriminator that
	// no session awaiting its peer's first packet claims.
	ErrDemuxNoMatch = errors.New("no session matches packet")
)

// -------------------------------------------------------------------------
// Registry
// -------------------------------------------------------------------------

type slot struct {
	gen     uint32
	session *Session
}

// Registry owns every Session. It is an indexed slot table with two
// lookup indexes: by local discriminator, and by (peer address, peer port,
// local port) for packets whose Your Discriminator is still zero.
//
// The Registry is not safe for concurrent use. The Engine owns exactly one
// and touches it only from its loop goroutine.
type Registry struct {
	slots  []slot
	free   []uint32
	byDisc map[uint32]SessionID
	byPeer map[PeerKey]SessionID
	alloc  *DiscriminatorAllocator
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return newRegistryWithAllocator(NewDiscriminatorAllocator(), logger)
}

func newRegistryWithAllocator(alloc *DiscriminatorAllocator, logger *slog.Logger) *Registry {
	return &Registry{
		byDisc: make(map[uint32]SessionID),
		byPeer: make(map[PeerKey]SessionID),
		alloc:  alloc,
		logger: logger,
	}
}

// Create validates cfg, allocates a discriminator and stores a new
// session in Down (or AdminDown when cfg.AdminDown is set).
func (r *Registry) Create(cfg SessionConfig, now time.Time) (*Session, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	key := PeerKey{
		Peer:      netip.AddrPortFrom(cfg.PeerAddr.Unmap(), cfg.PeerPort),
		LocalPort: cfg.LocalPort,
	}
	if _, exists := r.byPeer[key]; exists {
		return nil, fmt.Errorf("create session %s: %w", key, ErrDuplicateSession)
	}

	discr, err := r.alloc.Allocate()
	if err != nil {
		return nil, fmt.Errorf("create session %s: %w", key, err)
	}

	id := r.claimSlot()
	s := newSession(id, cfg, discr, now, r.logger)
	r.slots[id.index].session = s
	r.byDisc[discr] = id
	r.byPeer[key] = id

	return s, nil
}

// claimSlot returns an ID for a free slot, growing the table if needed.
// Generations start at 1 so the zero SessionID never names a session.
func (r *Registry) claimSlot() SessionID {
	if n := len(r.free); n > 0 {
		idx := r.free[n-1]
		r.free = r.free[:n-1]
		r.slots[idx].gen++
		return SessionID{index: idx, gen: r.slots[idx].gen}
	}
	r.slots = append(r.slots, slot{gen: 1})
	return SessionID{index: uint32(len(r.slots) - 1), gen: 1} //nolint:gosec // G115: slot count is bounded by configured sessions
}

// Remove invalidates id and returns the session it named. The caller must
// cancel the session's timers first.
func (r *Registry) Remove(id SessionID) (*Session, bool) {
	s, ok := r.Get(id)
	if !ok {
		return nil, false
	}
	delete(r.byDisc, s.localDiscr)
	delete(r.byPeer, s.PeerKey())
	r.slots[id.index].session = nil
	r.free = append(r.free, id.index)
	return s, true
}

// Get resolves id. Stale IDs report false.
func (r *Registry) Get(id SessionID) (*Session, bool) {
	if id.IsZero() || int(id.index) >= len(r.slots) {
		return nil, false
	}
	sl := r.slots[id.index]
	if sl.gen != id.gen || sl.session == nil {
		return nil, false
	}
	return sl.session, true
}

// ByDiscriminator looks up a session by its local discriminator.
func (r *Registry) ByDiscriminator(discr uint32) (*Session, bool) {
	id, ok := r.byDisc[discr]
	if !ok {
		return nil, false
	}
	return r.Get(id)
}

// ByPeer looks up a session by peer endpoint and local port.
func (r *Registry) ByPeer(key PeerKey) (*Session, bool) {
	id, ok := r.byPeer[key]
	if !ok {
		return nil, false
	}
	return r.Get(id)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int { return len(r.byDisc) }

// All iterates live sessions in slot order.
func (r *Registry) All() iter.Seq[*Session] {
	return func(yield func(*Session) bool) {
		for i := range r.slots {
			if s := r.slots[i].session; s != nil {
				if !yield(s) {
					return
				}
			}
		}
	}
}

// -------------------------------------------------------------------------
// Demultiplexing — RFC 5880 Section 6.8.6
// -------------------------------------------------------------------------

// Demux finds the session a received packet belongs to.
//
//  1. Your Discriminator != 0: the session with that local discriminator.
//     A miss is ErrDiscriminatorMismatch.
//  2. Otherwise the session for (source address, source port, local port)
//     that has not learned its peer's discriminator yet.
//  3. Otherwise the only such session on localPort whose peer address
//     matches the source address, for peers that send from an ephemeral
//     source port (RFC 5881 Section 4).
//
// Anything else is ErrDemuxNoMatch.
func (r *Registry) Demux(pkt *ControlPacket, src netip.AddrPort, localPort uint16) (*Session, error) {
	if pkt.YourDiscriminator != 0 {
		s, ok := r.ByDiscriminator(pkt.YourDiscriminator)
		if !ok {
			return nil, fmt.Errorf("your discriminator %d: %w", pkt.YourDiscriminator, ErrDiscriminatorMismatch)
		}
		return s, nil
	}

	src = netip.AddrPortFrom(src.Addr().Unmap(), src.Port())

	if s, ok := r.ByPeer(PeerKey{Peer: src, LocalPort: localPort}); ok && s.remoteDiscr == 0 {
		return s, nil
	}

	var match *Session
	for s := range r.All() {
		if s.localPort != localPort || s.peerAddr != src.Addr() || s.remoteDiscr != 0 {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("source %s ambiguous on port %d: %w", src, localPort, ErrDemuxNoMatch)
		}
		match = s
	}
	if match == nil {
		return nil, fmt.Errorf("source %s on port %d: %w", src, localPort, ErrDemuxNoMatch)
	}
	return match, nil
}
