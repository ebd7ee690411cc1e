package bfd

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// maxAllocAttempts bounds the number of random draws per allocation.
const maxAllocAttempts = 100

// ErrDiscriminatorExhausted indicates that the allocator could not find an
// unused nonzero discriminator after maxAllocAttempts draws.
var ErrDiscriminatorExhausted = errors.New("discriminator allocator exhausted")

// DiscriminatorAllocator hands out local discriminators.
//
// RFC 5880 Section 6.8.1: bfd.LocalDiscr "MUST be unique across all BFD
// sessions on this system, and nonzero. It SHOULD be set to a random
// (but still unique) value to improve security."
//
// A value is never handed out twice during the allocator's lifetime, even
// after its session is deregistered, so a late packet addressed to a
// removed session can never be demultiplexed to a new one.
//
// The allocator belongs to a Registry and is only used from the Engine
// loop goroutine; it is not safe for concurrent use.
type DiscriminatorAllocator struct {
	issued map[uint32]struct{}
	rand   io.Reader
}

// NewDiscriminatorAllocator creates an allocator backed by crypto/rand.
func NewDiscriminatorAllocator() *DiscriminatorAllocator {
	return newDiscriminatorAllocator(rand.Reader)
}

func newDiscriminatorAllocator(r io.Reader) *DiscriminatorAllocator {
	return &DiscriminatorAllocator{
		issued: make(map[uint32]struct{}),
		rand:   r,
	}
}

// Allocate returns a fresh nonzero discriminator.
func (d *DiscriminatorAllocator) Allocate() (uint32, error) {
	var buf [4]byte

	for range maxAllocAttempts {
		if _, err := io.ReadFull(d.rand, buf[:]); err != nil {
			return 0, fmt.Errorf("generate random discriminator: %w", err)
		}

		discr := binary.BigEndian.Uint32(buf[:])
		if discr == 0 {
			continue
		}
		if _, used := d.issued[discr]; used {
			continue
		}

		d.issued[discr] = struct{}{}
		return discr, nil
	}

	return 0, fmt.Errorf("allocate discriminator after %d attempts: %w",
		maxAllocAttempts, ErrDiscriminatorExhausted)
}

// Issued reports whether discr was ever handed out by this allocator.
func (d *DiscriminatorAllocator) Issued(discr uint32) bool {
	_, ok := d.issued[discr]
	return ok
}
