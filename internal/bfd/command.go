package bfd

import (
	"context"
	"errors"
	"sync"

	"github.com/eapache/queue"
)

// ErrEngineStopped is returned by Engine methods once Run has returned.
var ErrEngineStopped = errors.New("bfd engine stopped")

// -------------------------------------------------------------------------
// Typed Commands
// -------------------------------------------------------------------------

// command is a request executed on the Engine loop goroutine. Each command
// type carries its arguments and a buffered reply channel; the loop never
// blocks on a reply.
type command interface {
	name() string
}

type reply[T any] struct {
	val T
	err error
}

type registerCmd struct {
	cfg   SessionConfig
	reply chan reply[SessionSnapshot]
}

type deregisterCmd struct {
	discr uint32
	reply chan reply[struct{}]
}

type setAdminDownCmd struct {
	discr uint32
	down  bool
	reply chan reply[struct{}]
}

type forcePollCmd struct {
	discr uint32
	reply chan reply[struct{}]
}

type setParamsCmd struct {
	discr  uint32
	params Params
	reply  chan reply[struct{}]
}

type snapshotCmd struct {
	discr uint32 // zero selects every session
	reply chan reply[[]SessionSnapshot]
}

type pollDemandCmd struct {
	reply chan reply[int]
}

type toggleAdminDownCmd struct {
	reply chan reply[bool]
}

type adminDownAllCmd struct {
	reply chan reply[int]
}

func (registerCmd) name() string { return "register" }
func (deregisterCmd) name() string { return "deregister" }
func (setAdminDownCmd) name() string { return "set-admin-down" }
func (forcePollCmd) name() string { return "force-poll" }
func (setParamsCmd) name() string { return "set-parameters" }
func (snapshotCmd) name() string { return "snapshot" }
func (pollDemandCmd) name() string { return "poll-demand-sessions" }
func (toggleAdminDownCmd) name() string { return "toggle-admin-down" }
func (adminDownAllCmd) name() string { return "admin-down-all" }

// -------------------------------------------------------------------------
// CommandQueue
// -------------------------------------------------------------------------

// commandQueue is the only path from other goroutines into the Engine
// loop. Producers append under a mutex and poke a one-slot wake channel;
// the loop drains the whole queue between I/O and timer work.
type commandQueue struct {
	mu   sync.Mutex
	q    *queue.Queue
	wake chan struct{}
}

func newCommandQueue() *commandQueue {
	return &commandQueue{
		q:    queue.New(),
		wake: make(chan struct{}, 1),
	}
}

func (c *commandQueue) push(cmd command) {
	c.mu.Lock()
	c.q.Add(cmd)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// drain moves every queued command into dst, preserving FIFO order.
func (c *commandQueue) drain(dst []command) []command {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.q.Length() > 0 {
		dst = append(dst, c.q.Remove().(command)) //nolint:forcetypeassert // queue only holds commands
	}
	return dst
}

func (c *commandQueue) ready() <-chan struct{} { return c.wake }

// submit enqueues cmd and waits for its reply, the caller's context or
// the Engine stopping, whichever comes first.
func submit[T any](ctx context.Context, e *Engine, cmd command, ch chan reply[T]) (T, error) {
	var zero T

	select {
	case <-e.done:
		return zero, ErrEngineStopped
	default:
	}

	e.commands.push(cmd)

	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-e.done:
		return zero, ErrEngineStopped
	}
}
