package bfd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"
)

// RequiredTTL is the IP TTL every single-hop BFD packet must carry
// (RFC 5881 Section 5, GTSM).
const RequiredTTL = 255

// inboundQueueSize is the capacity of the channel between transport
// readers and the Engine loop.
const inboundQueueSize = 256

var (
	// ErrEngineRunning indicates Run was called on an Engine that is
	// already running or has finished.
	ErrEngineRunning = errors.New("bfd engine already started")

	// ErrSessionNotUp indicates an operation that requires an Up session.
	ErrSessionNotUp = errors.New("session is not up")
)

// -------------------------------------------------------------------------
// Transport boundary
// -------------------------------------------------------------------------

// PacketSender transmits an encoded Control packet from localPort to dst.
// Implementations must finish with buf before returning.
type PacketSender interface {
	SendPacket(ctx context.Context, localPort uint16, buf []byte, dst netip.AddrPort) error
}

// Datagram is one received UDP payload handed to the Engine.
type Datagram struct {
	// Payload is the UDP payload, exactly as many bytes as were read.
	Payload []byte

	// Src is the sender's address and port.
	Src netip.AddrPort

	// LocalPort is the port of the socket that received the datagram.
	LocalPort uint16

	// TTL is the received IP TTL, or 0 when the socket did not report it.
	TTL int

	// Pooled is the PacketPool buffer backing Payload, if any. The Engine
	// returns it to the pool after decoding.
	Pooled *[]byte
}

// Release returns the backing buffer to PacketPool.
func (d Datagram) Release() {
	if d.Pooled != nil {
		PacketPool.Put(d.Pooled)
	}
}

// -------------------------------------------------------------------------
// Engine Options
// -------------------------------------------------------------------------

// EngineOption configures optional Engine parameters.
type EngineOption func(*Engine)

// WithMetrics attaches a MetricsReporter. A nil reporter is ignored.
func WithMetrics(mr MetricsReporter) EngineOption {
	return func(e *Engine) {
		if mr != nil {
			e.metrics = mr
		}
	}
}

// WithNotifier publishes every state change to n.
func WithNotifier(n *Notifier) EngineOption {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithCapabilities sets the capability snapshot sessions are checked
// against. The default enables nothing.
func WithCapabilities(c Capabilities) EngineOption {
	return func(e *Engine) {
		e.caps = c
	}
}

// WithJitter replaces ApplyJitter, typically with a deterministic function
// in tests.
func WithJitter(j JitterFunc) EngineOption {
	return func(e *Engine) {
		if j != nil {
			e.jitter = j
		}
	}
}

// -------------------------------------------------------------------------
// Engine
// -------------------------------------------------------------------------

// Engine is the single-threaded BFD reactor.
//
// One goroutine, the one calling Run, owns the Registry, the TimerQueue
// and every Session. It waits on inbound datagrams, the soonest timer
// deadline and the command queue, and handles each event to completion
// before waiting again. Every other goroutine interacts with sessions only
// through the Engine's methods, which enqueue typed commands and wait for
// the loop to answer.
type Engine struct {
	reg      *Registry
	timers   *TimerQueue
	sender   PacketSender
	caps     Capabilities
	metrics  MetricsReporter
	notifier *Notifier
	jitter   JitterFunc
	logger   *slog.Logger

	inbound  chan Datagram
	commands *commandQueue
	started  atomic.Bool
	done     chan struct{}

	// Scratch space reused by the loop goroutine.
	rxPkt   ControlPacket
	txPkt   ControlPacket
	txBuf   []byte
	expired []Expiry
	pending []command
}

// NewEngine creates an Engine that transmits through sender. Call Run to
// start the loop.
func NewEngine(sender PacketSender, logger *slog.Logger, opts ...EngineOption) *Engine {
	logger = logger.With(slog.String("component", "bfd.engine"))

	e := &Engine{
		reg:      NewRegistry(logger),
		timers:   NewTimerQueue(),
		sender:   sender,
		metrics:  noopMetrics{},
		jitter:   ApplyJitter,
		logger:   logger,
		inbound:  make(chan Datagram, inboundQueueSize),
		commands: newCommandQueue(),
		done:     make(chan struct{}),
		txBuf:    make([]byte, MaxPacketSize),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Inbound returns the channel transport readers deliver datagrams on.
func (e *Engine) Inbound() chan<- Datagram { return e.inbound }

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Capabilities returns the capability snapshot the Engine was built with.
func (e *Engine) Capabilities() Capabilities { return e.caps }

// Run executes the event loop until ctx is cancelled. It may be called
// once.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrEngineRunning
	}
	defer close(e.done)

	wake := time.NewTimer(time.Hour)
	wake.Stop()
	defer wake.Stop()

	e.logger.Info("engine started")

	for {
		e.armWake(wake)

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopped", slog.Int("sessions", e.reg.Len()))
			return nil

		case dg := <-e.inbound:
			e.handleDatagram(ctx, dg)

		case <-wake.C:

		case <-e.commands.ready():
		}

		e.runCommands(ctx)
		e.runTimers(ctx, time.Now())
	}
}

// armWake points the loop's single timer at the soonest deadline. The
// loop's wait is therefore always bounded by the next timer due.
func (e *Engine) armWake(wake *time.Timer) {
	next, ok := e.timers.Next()
	if !ok {
		wake.Stop()
		return
	}
	wake.Reset(max(time.Until(next), 0))
}

func (e *Engine) runTimers(ctx context.Context, now time.Time) {
	e.expired = e.timers.Expire(now, e.expired[:0])
	for _, exp := range e.expired {
		s, ok := e.reg.Get(exp.ID)
		if !ok {
			continue
		}
		switch exp.Kind {
		case TimerTransmit:
			e.onTransmitTimer(ctx, s, exp.Deadline, now)
		case TimerDetect:
			e.onDetectTimer(ctx, s, now)
		}
	}
}

func (e *Engine) runCommands(ctx context.Context) {
	e.pending = e.commands.drain(e.pending[:0])
	for i, cmd := range e.pending {
		e.execute(ctx, cmd, time.Now())
		e.pending[i] = nil
	}
}

// -------------------------------------------------------------------------
// Reception — RFC 5880 Section 6.8.6
// -------------------------------------------------------------------------

func (e *Engine) handleDatagram(ctx context.Context, dg Datagram) {
	defer dg.Release()
	now := time.Now()

	if dg.TTL != 0 && dg.TTL != RequiredTTL {
		e.drop(nil, DropTTL, "ttl check failed", slog.Int("ttl", dg.TTL), slog.String("src", dg.Src.String()))
		return
	}

	if err := UnmarshalControlPacket(dg.Payload, &e.rxPkt); err != nil {
		e.drop(nil, DropMalformed, "malformed packet",
			slog.String("src", dg.Src.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	s, err := e.reg.Demux(&e.rxPkt, dg.Src, dg.LocalPort)
	if err != nil {
		reason := DropNoSession
		if errors.Is(err, ErrDiscriminatorMismatch) {
			reason = DropDiscriminatorMismatch
		}
		e.drop(nil, reason, "no session for packet",
			slog.String("src", dg.Src.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	e.receive(ctx, s, &e.rxPkt, now)
}

// receive runs an accepted-by-demux packet through the session.
func (e *Engine) receive(ctx context.Context, s *Session, pkt *ControlPacket, now time.Time) {
	if err := s.checkPacket(pkt); err != nil {
		reason := DropRejected
		switch {
		case errors.Is(err, ErrDiscriminatorMismatch):
			reason = DropDiscriminatorMismatch
		case errors.Is(err, ErrSessionAdminDown):
			reason = DropAdminDown
		}
		e.drop(s, reason, "packet rejected", slog.String("error", err.Error()))
		return
	}

	prevTx := s.NegotiatedTxInterval()
	s.learnRemote(pkt, now)
	e.metrics.IncPacketsReceived(s.peerAddr)

	// RFC 5880 Section 6.5: a Final terminates our poll sequence.
	if pkt.Final && s.poll.inProgress {
		e.finishPoll(ctx, s, now)
	}
	// The peer's Poll is answered with Final whatever our own poll state.
	if pkt.Poll {
		s.poll.finalPending = true
	}

	e.apply(ctx, s, ApplyEvent(s.state, RecvStateToEvent(pkt.State)), now)

	if s.detectWanted() {
		e.timers.Arm(s.id, TimerDetect, now.Add(s.DetectionTime()))
	}
	if s.updateDemand() {
		e.logDemand(s)
	}
	e.syncTimers(s, now, prevTx)

	if s.poll.finalPending {
		e.sendControl(ctx, s)
	}
}

func (e *Engine) drop(s *Session, reason, msg string, attrs ...any) {
	e.metrics.IncPacketsDropped(reason)
	logger := e.logger
	if s != nil {
		s.counters.packetsDropped++
		logger = s.logger
	}
	logger.Debug(msg, append(attrs, slog.String("reason", reason))...)
}

// -------------------------------------------------------------------------
// Timers — RFC 5880 Sections 6.8.4, 6.8.7
// -------------------------------------------------------------------------

func (e *Engine) onTransmitTimer(ctx context.Context, s *Session, deadline, now time.Time) {
	if !s.periodicWanted() {
		return
	}
	if s.mayTransmitPeriodic() {
		e.sendControl(ctx, s)
	}

	interval := e.jitter(s.NegotiatedTxInterval(), s.detectMult)
	next := deadline.Add(interval)
	if next.Before(now) {
		next = now.Add(interval)
	}
	e.timers.Arm(s.id, TimerTransmit, next)
}

func (e *Engine) onDetectTimer(ctx context.Context, s *Session, now time.Time) {
	prevTx := s.NegotiatedTxInterval()
	result := ApplyEvent(s.state, EventDetectionTimeout)
	if !result.Changed {
		return
	}
	e.apply(ctx, s, result, now)
	e.syncTimers(s, now, prevTx)
}

// armTransmit schedules the next periodic packet one jittered interval
// from now.
func (e *Engine) armTransmit(s *Session, now time.Time) {
	e.timers.Arm(s.id, TimerTransmit, now.Add(e.jitter(s.NegotiatedTxInterval(), s.detectMult)))
}

// syncTimers reconciles both timers with the session's current mode after
// any change. prevTx is the negotiated interval before the change; a
// shorter interval takes effect immediately instead of after the pending
// (longer) wait.
func (e *Engine) syncTimers(s *Session, now time.Time, prevTx time.Duration) {
	if !s.periodicWanted() {
		e.timers.Cancel(s.id, TimerTransmit)
	} else {
		tx := s.NegotiatedTxInterval()
		deadline, armed := e.timers.Deadline(s.id, TimerTransmit)
		if !armed || (tx < prevTx && deadline.Sub(now) > tx) {
			e.armTransmit(s, now)
		}
	}

	if !s.detectWanted() {
		e.timers.Cancel(s.id, TimerDetect)
	} else if _, armed := e.timers.Deadline(s.id, TimerDetect); !armed {
		e.timers.Arm(s.id, TimerDetect, now.Add(s.DetectionTime()))
	}
}

// -------------------------------------------------------------------------
// State Machine Application
// -------------------------------------------------------------------------

// apply executes an FSMResult against s.
func (e *Engine) apply(ctx context.Context, s *Session, result FSMResult, now time.Time) {
	if result.SetDiag {
		s.localDiag = result.Diag
	}

	if result.Changed {
		s.state = result.NewState
		s.lastStateChange = now
		s.counters.stateTransitions++

		if result.OldState == StateUp {
			s.abandonPoll()
			if s.updateDemand() {
				e.logDemand(s)
			}
		}

		s.logger.Info("session state changed",
			slog.String("old_state", result.OldState.String()),
			slog.String("new_state", result.NewState.String()),
			slog.String("diag", s.localDiag.String()),
		)
		e.metrics.RecordStateTransition(s.peerAddr, result.OldState.String(), result.NewState.String())
		e.publish(s, result, now)
	}

	for _, action := range result.Actions {
		e.executeAction(ctx, s, action, now)
	}
}

func (e *Engine) executeAction(ctx context.Context, s *Session, action Action, now time.Time) {
	switch action {
	case ActionStartTransmit:
		if _, armed := e.timers.Deadline(s.id, TimerTransmit); !armed && s.periodicWanted() {
			e.armTransmit(s, now)
		}
	case ActionStopTransmit:
		e.timers.Cancel(s.id, TimerTransmit)
	case ActionSendControl:
		e.sendControl(ctx, s)
	case ActionRearmDetect:
		if s.detectWanted() {
			e.timers.Arm(s.id, TimerDetect, now.Add(s.DetectionTime()))
		}
	case ActionCancelDetect:
		e.timers.Cancel(s.id, TimerDetect)
	case ActionEvaluateDemand:
		if s.updateDemand() {
			e.logDemand(s)
		}
	case ActionResetRemote:
		s.resetRemote()
	case ActionNotifyUp:
		s.logger.Info("session up",
			slog.Duration("tx_interval", s.NegotiatedTxInterval()),
			slog.Duration("detect_time", s.DetectionTime()),
		)
	case ActionNotifyDown:
		s.logger.Warn("session down", slog.String("diag", s.localDiag.String()))
	default:
		s.logger.Warn("unknown FSM action", slog.String("action", action.String()))
	}
}

func (e *Engine) publish(s *Session, result FSMResult, now time.Time) {
	if e.notifier == nil {
		return
	}
	e.notifier.Publish(StateChange{
		LocalDiscr: s.localDiscr,
		PeerAddr:   s.peerAddr,
		PeerPort:   s.peerPort,
		OldState:   result.OldState,
		NewState:   result.NewState,
		Diag:       s.localDiag,
		Timestamp:  now,
	})
}

func (e *Engine) logDemand(s *Session) {
	s.logger.Info("demand mode changed", slog.Bool("active", s.demandModeActive))
}

// -------------------------------------------------------------------------
// Transmission — RFC 5880 Section 6.8.7
// -------------------------------------------------------------------------

// sendControl transmits one Control packet for s. A pending Final is
// consumed by this packet. Send failures are logged and counted; they
// never change session state.
func (e *Engine) sendControl(ctx context.Context, s *Session) {
	final := s.poll.finalPending
	s.poll.finalPending = false

	s.buildControlPacket(&e.txPkt, final)
	n, err := MarshalControlPacket(&e.txPkt, e.txBuf)
	if err != nil {
		s.logger.Error("failed to marshal control packet", slog.String("error", err.Error()))
		return
	}

	if err := e.sender.SendPacket(ctx, s.localPort, e.txBuf[:n], s.peerAddrPort()); err != nil {
		s.counters.sendErrors++
		e.metrics.IncSendErrors(s.peerAddr)
		s.logger.Warn("failed to send control packet", slog.String("error", err.Error()))
		return
	}

	s.counters.packetsSent++
	e.metrics.IncPacketsSent(s.peerAddr)
}

// -------------------------------------------------------------------------
// Poll Sequence — RFC 5880 Section 6.5
// -------------------------------------------------------------------------

// beginPoll transmits the first Poll packet immediately. Later packets of
// the sequence are sent by the transmit timer, which keeps running while
// the poll is outstanding even in demand mode.
func (e *Engine) beginPoll(ctx context.Context, s *Session, now time.Time, prevTx time.Duration) {
	s.logger.Debug("poll sequence started", slog.Bool("parameter_change", s.poll.proposed != nil))
	e.sendControl(ctx, s)
	e.syncTimers(s, now, prevTx)
}

func (e *Engine) finishPoll(ctx context.Context, s *Session, now time.Time) {
	prevTx := s.NegotiatedTxInterval()
	restarted := s.completePoll()
	e.metrics.IncPollSequences(s.peerAddr)
	s.logger.Debug("poll sequence completed",
		slog.Duration("desired_min_tx", s.desiredMinTxInterval),
		slog.Duration("required_min_rx", s.requiredMinRxInterval),
		slog.Uint64("detect_mult", uint64(s.detectMult)),
	)
	if restarted {
		e.beginPoll(ctx, s, now, prevTx)
	}
}

// -------------------------------------------------------------------------
// Commands
// -------------------------------------------------------------------------

func (e *Engine) execute(ctx context.Context, cmd command, now time.Time) {
	switch c := cmd.(type) {
	case registerCmd:
		snap, err := e.register(c.cfg, now)
		c.reply <- reply[SessionSnapshot]{val: snap, err: err}

	case deregisterCmd:
		c.reply <- reply[struct{}]{err: e.deregister(ctx, c.discr, now)}

	case setAdminDownCmd:
		c.reply <- reply[struct{}]{err: e.setAdminDown(ctx, c.discr, c.down, now)}

	case forcePollCmd:
		c.reply <- reply[struct{}]{err: e.forcePoll(ctx, c.discr, now)}

	case setParamsCmd:
		c.reply <- reply[struct{}]{err: e.setParams(ctx, c.discr, c.params, now)}

	case snapshotCmd:
		snaps, err := e.snapshot(c.discr)
		c.reply <- reply[[]SessionSnapshot]{val: snaps, err: err}

	case pollDemandCmd:
		c.reply <- reply[int]{val: e.pollDemandSessions(ctx, now)}

	case toggleAdminDownCmd:
		c.reply <- reply[bool]{val: e.toggleAdminDown(ctx, now)}

	case adminDownAllCmd:
		c.reply <- reply[int]{val: e.adminDownAll(ctx, now)}

	default:
		e.logger.Error("unknown command", slog.String("command", cmd.name()))
	}
}

func (e *Engine) lookup(discr uint32) (*Session, error) {
	s, ok := e.reg.ByDiscriminator(discr)
	if !ok {
		return nil, fmt.Errorf("local discriminator %d: %w", discr, ErrSessionNotFound)
	}
	return s, nil
}

func (e *Engine) register(cfg SessionConfig, now time.Time) (SessionSnapshot, error) {
	cfg = cfg.withDefaults()
	if err := e.caps.CheckSession(cfg); err != nil {
		return SessionSnapshot{}, fmt.Errorf("create session: %w", err)
	}

	s, err := e.reg.Create(cfg, now)
	if err != nil {
		return SessionSnapshot{}, err
	}

	if s.periodicWanted() {
		e.armTransmit(s, now)
	}
	e.metrics.RegisterSession(s.peerAddr, s.localPort)

	s.logger.Info("session created",
		slog.String("id", s.id.String()),
		slog.String("state", s.state.String()),
		slog.Uint64("local_port", uint64(s.localPort)),
		slog.Bool("demand_mode", s.demandModeDesired),
		slog.Uint64("detect_mult", uint64(s.detectMult)),
		slog.Duration("desired_min_tx", s.desiredMinTxInterval),
		slog.Duration("required_min_rx", s.requiredMinRxInterval),
	)

	return s.Snapshot(), nil
}

// deregister signals AdminDown to the peer, cancels both timers and only
// then frees the registry slot, so no timer can fire for a removed
// session.
func (e *Engine) deregister(ctx context.Context, discr uint32, now time.Time) error {
	s, err := e.lookup(discr)
	if err != nil {
		return err
	}

	e.apply(ctx, s, ApplyEvent(s.state, EventAdminDown), now)
	e.timers.CancelAll(s.id)
	e.reg.Remove(s.id)
	e.metrics.UnregisterSession(s.peerAddr, s.localPort)

	s.logger.Info("session deregistered")
	return nil
}

func (e *Engine) setAdminDown(ctx context.Context, discr uint32, down bool, now time.Time) error {
	s, err := e.lookup(discr)
	if err != nil {
		return err
	}
	e.setAdmin(ctx, s, down, now)
	return nil
}

func (e *Engine) setAdmin(ctx context.Context, s *Session, down bool, now time.Time) {
	event := EventAdminUp
	if down {
		event = EventAdminDown
	}
	prevTx := s.NegotiatedTxInterval()
	e.apply(ctx, s, ApplyEvent(s.state, event), now)
	e.syncTimers(s, now, prevTx)
}

func (e *Engine) forcePoll(ctx context.Context, discr uint32, now time.Time) error {
	s, err := e.lookup(discr)
	if err != nil {
		return err
	}
	if s.state != StateUp {
		return fmt.Errorf("force poll on %s session: %w", s.state, ErrSessionNotUp)
	}
	prevTx := s.NegotiatedTxInterval()
	if s.startManualPoll() {
		e.beginPoll(ctx, s, now, prevTx)
	}
	return nil
}

func (e *Engine) setParams(ctx context.Context, discr uint32, p Params, now time.Time) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("set parameters: %w", err)
	}
	s, err := e.lookup(discr)
	if err != nil {
		return err
	}

	prevTx := s.NegotiatedTxInterval()
	if s.requestParams(p) {
		e.beginPoll(ctx, s, now, prevTx)
		return nil
	}
	if s.detectWanted() && !s.poll.inProgress {
		e.timers.Arm(s.id, TimerDetect, now.Add(s.DetectionTime()))
	}
	e.syncTimers(s, now, prevTx)
	return nil
}

func (e *Engine) snapshot(discr uint32) ([]SessionSnapshot, error) {
	if discr != 0 {
		s, err := e.lookup(discr)
		if err != nil {
			return nil, err
		}
		return []SessionSnapshot{s.Snapshot()}, nil
	}

	snaps := make([]SessionSnapshot, 0, e.reg.Len())
	for s := range e.reg.All() {
		snaps = append(snaps, s.Snapshot())
	}
	return snaps, nil
}

func (e *Engine) pollDemandSessions(ctx context.Context, now time.Time) int {
	var n int
	for s := range e.reg.All() {
		if !s.wantsDemandPoll() {
			continue
		}
		prevTx := s.NegotiatedTxInterval()
		if s.startManualPoll() {
			e.beginPoll(ctx, s, now, prevTx)
			n++
		}
	}
	e.logger.Info("manual poll on demand mode sessions", slog.Int("sessions", n))
	return n
}

// toggleAdminDown moves every session to AdminDown unless all of them are
// already there, in which case every session is re-enabled. It returns
// true when the sessions end up AdminDown.
func (e *Engine) toggleAdminDown(ctx context.Context, now time.Time) bool {
	down := false
	for s := range e.reg.All() {
		if s.state != StateAdminDown {
			down = true
			break
		}
	}
	for s := range e.reg.All() {
		e.setAdmin(ctx, s, down, now)
	}
	e.logger.Info("toggled admin down on all sessions", slog.Bool("admin_down", down))
	return down
}

func (e *Engine) adminDownAll(ctx context.Context, now time.Time) int {
	var n int
	for s := range e.reg.All() {
		if s.state != StateAdminDown {
			e.setAdmin(ctx, s, true, now)
			n++
		}
	}
	return n
}

// -------------------------------------------------------------------------
// Public API — safe for concurrent use
// -------------------------------------------------------------------------

// Register creates a session and starts its timers.
func (e *Engine) Register(ctx context.Context, cfg SessionConfig) (SessionSnapshot, error) {
	ch := make(chan reply[SessionSnapshot], 1)
	return submit(ctx, e, registerCmd{cfg: cfg, reply: ch}, ch)
}

// Deregister removes the session with the given local discriminator.
func (e *Engine) Deregister(ctx context.Context, discr uint32) error {
	ch := make(chan reply[struct{}], 1)
	_, err := submit(ctx, e, deregisterCmd{discr: discr, reply: ch}, ch)
	return err
}

// SetAdminDown disables (down=true) or re-enables a session
// (RFC 5880 Section 6.8.16).
func (e *Engine) SetAdminDown(ctx context.Context, discr uint32, down bool) error {
	ch := make(chan reply[struct{}], 1)
	_, err := submit(ctx, e, setAdminDownCmd{discr: discr, down: down, reply: ch}, ch)
	return err
}

// ForcePoll starts a liveness poll sequence on an Up session. It is a
// no-op if a poll is already outstanding.
func (e *Engine) ForcePoll(ctx context.Context, discr uint32) error {
	ch := make(chan reply[struct{}], 1)
	_, err := submit(ctx, e, forcePollCmd{discr: discr, reply: ch}, ch)
	return err
}

// SetParameters changes a session's timing parameters, through a poll
// sequence when the session is Up.
func (e *Engine) SetParameters(ctx context.Context, discr uint32, p Params) error {
	ch := make(chan reply[struct{}], 1)
	_, err := submit(ctx, e, setParamsCmd{discr: discr, params: p, reply: ch}, ch)
	return err
}

// Sessions returns a point-in-time snapshot of every session.
func (e *Engine) Sessions(ctx context.Context) ([]SessionSnapshot, error) {
	ch := make(chan reply[[]SessionSnapshot], 1)
	return submit(ctx, e, snapshotCmd{reply: ch}, ch)
}

// Session returns a snapshot of one session.
func (e *Engine) Session(ctx context.Context, discr uint32) (SessionSnapshot, error) {
	if discr == 0 {
		return SessionSnapshot{}, fmt.Errorf("local discriminator 0: %w", ErrSessionNotFound)
	}
	ch := make(chan reply[[]SessionSnapshot], 1)
	snaps, err := submit(ctx, e, snapshotCmd{discr: discr, reply: ch}, ch)
	if err != nil {
		return SessionSnapshot{}, err
	}
	return snaps[0], nil
}

// PollDemandSessions starts a liveness poll on every Up session that
// wants demand mode and returns how many polls were started.
func (e *Engine) PollDemandSessions(ctx context.Context) (int, error) {
	ch := make(chan reply[int], 1)
	return submit(ctx, e, pollDemandCmd{reply: ch}, ch)
}

// ToggleAdminDown flips every session between AdminDown and enabled. It
// returns true when sessions are now AdminDown.
func (e *Engine) ToggleAdminDown(ctx context.Context) (bool, error) {
	ch := make(chan reply[bool], 1)
	return submit(ctx, e, toggleAdminDownCmd{reply: ch}, ch)
}

// AdminDownAll moves every session to AdminDown, telling peers the
// shutdown is administrative rather than a failure. It returns the number
// of sessions changed.
func (e *Engine) AdminDownAll(ctx context.Context) (int, error) {
	ch := make(chan reply[int], 1)
	return submit(ctx, e, adminDownAllCmd{reply: ch}, ch)
}
