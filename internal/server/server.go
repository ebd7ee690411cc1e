// Package server implements the ConnectRPC monitor service for the BFD daemon.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/dantte-lp/bfdd/internal/bfd"
	monitorv1 "github.com/dantte-lp/bfdd/pkg/monitor/v1"
	"github.com/dantte-lp/bfdd/pkg/monitor/v1/monitorv1connect"
)

// eventBuffer is the per-stream notifier subscription capacity.
const eventBuffer = 64

var (
	// ErrMissingDiscriminator indicates a request without a local discriminator.
	ErrMissingDiscriminator = errors.New("local discriminator is required")

	// ErrNoEventSource indicates the server was built without an event source.
	ErrNoEventSource = errors.New("event source not configured")
)

// SessionEngine is the part of bfd.Engine the monitor service uses.
type SessionEngine interface {
	Sessions(ctx context.Context) ([]bfd.SessionSnapshot, error)
	Session(ctx context.Context, discr uint32) (bfd.SessionSnapshot, error)
	ForcePoll(ctx context.Context, discr uint32) error
	SetAdminDown(ctx context.Context, discr uint32, down bool) error
}

// EventSource delivers session state changes.
type EventSource interface {
	Subscribe(buffer int) (<-chan bfd.StateChange, func())
}

// MonitorServer implements monitorv1connect.MonitorServiceHandler.
//
// Each RPC is a thin adapter that submits a command to the Engine loop;
// the server holds no session state of its own.
type MonitorServer struct {
	engine SessionEngine
	events EventSource
	logger *slog.Logger
}

// verify interface compliance at compile time.
var _ monitorv1connect.MonitorServiceHandler = (*MonitorServer)(nil)

// New creates a MonitorServer and returns the HTTP handler and path.
// A nil events source makes WatchSessionEvents return Unimplemented.
func New(engine SessionEngine, events EventSource, logger *slog.Logger, opts ...connect.HandlerOption) (string, http.Handler) {
	srv := &MonitorServer{
		engine: engine,
		events: events,
		logger: logger.With(slog.String("component", "server")),
	}
	return monitorv1connect.NewMonitorServiceHandler(srv, opts...)
}

// NewHTTPServer builds the monitor HTTP server: the monitor service with
// logging and recovery interceptors plus gRPC health, served over
// cleartext HTTP/2.
func NewHTTPServer(addr string, engine SessionEngine, events EventSource, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()

	path, handler := New(engine, events, logger,
		LoggingInterceptorOption(logger),
		RecoveryInterceptorOption(logger),
	)
	mux.Handle(path, handler)

	checker := grpchealth.NewStaticChecker(
		grpchealth.HealthV1ServiceName,
		monitorv1.ServiceName,
	)
	mux.Handle(grpchealth.NewHandler(checker))

	return &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// -------------------------------------------------------------------------
// RPCs
// -------------------------------------------------------------------------

// ListSessions returns every session ordered by local discriminator.
func (s *MonitorServer) ListSessions(ctx context.Context, _ *monitorv1.ListSessionsRequest) (*monitorv1.ListSessionsResponse, error) {
	snaps, err := s.engine.Sessions(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	out := make([]monitorv1.Session, 0, len(snaps))
	for i := range snaps {
		out = append(out, snapshotToMessage(&snaps[i]))
	}
	return &monitorv1.ListSessionsResponse{Sessions: out}, nil
}

// GetSession returns one session.
func (s *MonitorServer) GetSession(ctx context.Context, req *monitorv1.GetSessionRequest) (*monitorv1.GetSessionResponse, error) {
	if req.LocalDiscriminator == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, ErrMissingDiscriminator)
	}

	snap, err := s.engine.Session(ctx, req.LocalDiscriminator)
	if err != nil {
		return nil, mapError(err)
	}
	return &monitorv1.GetSessionResponse{Session: snapshotToMessage(&snap)}, nil
}

// ForcePoll starts a Poll Sequence on an Up session.
func (s *MonitorServer) ForcePoll(ctx context.Context, req *monitorv1.ForcePollRequest) (*monitorv1.ForcePollResponse, error) {
	if req.LocalDiscriminator == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, ErrMissingDiscriminator)
	}

	if err := s.engine.ForcePoll(ctx, req.LocalDiscriminator); err != nil {
		return nil, mapError(err)
	}

	s.logger.InfoContext(ctx, "poll sequence requested",
		slog.Uint64("local_discr", uint64(req.LocalDiscriminator)))
	return &monitorv1.ForcePollResponse{}, nil
}

// SetAdminDown moves a session into or out of AdminDown.
func (s *MonitorServer) SetAdminDown(ctx context.Context, req *monitorv1.SetAdminDownRequest) (*monitorv1.SetAdminDownResponse, error) {
	if req.LocalDiscriminator == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, ErrMissingDiscriminator)
	}

	if err := s.engine.SetAdminDown(ctx, req.LocalDiscriminator, req.AdminDown); err != nil {
		return nil, mapError(err)
	}
	s.logger.InfoContext(ctx, "admin state changed",
		slog.Uint64("local_discr", uint64(req.LocalDiscriminator)),
		slog.Bool("admin_down", req.AdminDown),
	)

	snap, err := s.engine.Session(ctx, req.LocalDiscriminator)
	if err != nil {
		return nil, mapError(err)
	}
	return &monitorv1.SetAdminDownResponse{Session: snapshotToMessage(&snap)}, nil
}

// WatchSessionEvents streams state changes until the client disconnects.
//
// The subscription is taken before the current snapshot is read, so a
// change that races with the snapshot is delivered rather than lost.
func (s *MonitorServer) WatchSessionEvents(
	ctx context.Context,
	req *monitorv1.WatchSessionEventsRequest,
	stream *connect.ServerStream[monitorv1.SessionEvent],
) error {
	if s.events == nil {
		return connect.NewError(connect.CodeUnimplemented, ErrNoEventSource)
	}

	changes, cancel := s.events.Subscribe(eventBuffer)
	defer cancel()

	if req.IncludeCurrent {
		if err := s.sendCurrent(ctx, stream); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case sc, ok := <-changes:
			if !ok {
				return nil
			}
			ev := stateChangeToEvent(sc)
			if err := stream.Send(&ev); err != nil {
				return err
			}
		}
	}
}

func (s *MonitorServer) sendCurrent(ctx context.Context, stream *connect.ServerStream[monitorv1.SessionEvent]) error {
	snaps, err := s.engine.Sessions(ctx)
	if err != nil {
		return mapError(err)
	}

	for i := range snaps {
		msg := snapshotToMessage(&snaps[i])
		ev := monitorv1.SessionEvent{
			Type:               monitorv1.EventSnapshot,
			LocalDiscriminator: msg.LocalDiscriminator,
			PeerAddress:        msg.PeerAddress,
			PeerPort:           msg.PeerPort,
			NewState:           msg.State,
			Diagnostic:         msg.LocalDiagnostic,
			Timestamp:          time.Now(),
			Session:            &msg,
		}
		if err := stream.Send(&ev); err != nil {
			return err
		}
	}
	return nil
}

// -------------------------------------------------------------------------
// Conversion
// -------------------------------------------------------------------------

func snapshotToMessage(snap *bfd.SessionSnapshot) monitorv1.Session {
	return monitorv1.Session{
		LocalDiscriminator:  snap.LocalDiscr,
		RemoteDiscriminator: snap.RemoteDiscr,
		PeerAddress:         snap.PeerAddr.String(),
		PeerPort:            snap.PeerPort,
		LocalPort:           snap.LocalPort,

		State:           snap.State.String(),
		RemoteState:     snap.RemoteState.String(),
		LocalDiagnostic: snap.LocalDiag.String(),

		DesiredMinTxInterval:       monitorv1.Duration(snap.DesiredMinTxInterval),
		RequiredMinRxInterval:      monitorv1.Duration(snap.RequiredMinRxInterval),
		DetectMultiplier:           snap.DetectMultiplier,
		RemoteMinRxInterval:        monitorv1.Duration(snap.RemoteMinRxInterval),
		RemoteDesiredMinTxInterval: monitorv1.Duration(snap.RemoteDesiredMinTxInterval),
		RemoteDetectMultiplier:     snap.RemoteDetectMultiplier,
		NegotiatedTxInterval:       monitorv1.Duration(snap.NegotiatedTxInterval),
		DetectionTime:              monitorv1.Duration(snap.DetectionTime),

		DemandMode:       snap.DemandModeDesired,
		DemandModeActive: snap.DemandModeActive,
		RemoteDemandMode: snap.RemoteDemandMode,
		PollInProgress:   snap.PollInProgress,

		CreatedAt:          snap.CreatedAt,
		LastPacketReceived: optionalTime(snap.LastPacketReceived),
		LastStateChange:    optionalTime(snap.LastStateChange),

		Counters: monitorv1.SessionCounters{
			PacketsSent:      snap.PacketsSent,
			PacketsReceived:  snap.PacketsReceived,
			PacketsDropped:   snap.PacketsDropped,
			SendErrors:       snap.SendErrors,
			StateTransitions: snap.StateTransitions,
			PollsCompleted:   snap.PollsCompleted,
		},
	}
}

func stateChangeToEvent(sc bfd.StateChange) monitorv1.SessionEvent {
	return monitorv1.SessionEvent{
		Type:               monitorv1.EventStateChange,
		LocalDiscriminator: sc.LocalDiscr,
		PeerAddress:        sc.PeerAddr.String(),
		PeerPort:           sc.PeerPort,
		OldState:           sc.OldState.String(),
		NewState:           sc.NewState.String(),
		Diagnostic:         sc.Diag.String(),
		Timestamp:          sc.Timestamp,
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// mapError converts engine errors to connect errors.
func mapError(err error) error {
	switch {
	case errors.Is(err, bfd.ErrSessionNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, bfd.ErrSessionNotUp):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, bfd.ErrEngineStopped):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
