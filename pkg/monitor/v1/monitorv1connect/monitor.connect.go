// Package monitorv1connect wires the bfdd.monitor.v1 messages to
// ConnectRPC handlers and clients.
package monitorv1connect

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	monitorv1 "github.com/dantte-lp/bfdd/pkg/monitor/v1"
)

// Procedure paths of the monitor service.
const (
	MonitorServiceListSessionsProcedure       = "/" + monitorv1.ServiceName + "/ListSessions"
	MonitorServiceGetSessionProcedure         = "/" + monitorv1.ServiceName + "/GetSession"
	MonitorServiceForcePollProcedure          = "/" + monitorv1.ServiceName + "/ForcePoll"
	MonitorServiceSetAdminDownProcedure       = "/" + monitorv1.ServiceName + "/SetAdminDown"
	MonitorServiceWatchSessionEventsProcedure = "/" + monitorv1.ServiceName + "/WatchSessionEvents"
)

// MonitorServiceHandler is the server side of the monitor service.
type MonitorServiceHandler interface {
	ListSessions(context.Context, *monitorv1.ListSessionsRequest) (*monitorv1.ListSessionsResponse, error)
	GetSession(context.Context, *monitorv1.GetSessionRequest) (*monitorv1.GetSessionResponse, error)
	ForcePoll(context.Context, *monitorv1.ForcePollRequest) (*monitorv1.ForcePollResponse, error)
	SetAdminDown(context.Context, *monitorv1.SetAdminDownRequest) (*monitorv1.SetAdminDownResponse, error)
	WatchSessionEvents(context.Context, *monitorv1.WatchSessionEventsRequest, *connect.ServerStream[monitorv1.SessionEvent]) error
}

// NewMonitorServiceHandler builds an HTTP handler for svc and returns the
// path to mount it on. The JSON codec is always installed.
func NewMonitorServiceHandler(svc MonitorServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(monitorv1.JSONCodec{})}, opts...)

	list := connect.NewUnaryHandler(MonitorServiceListSessionsProcedure, unary(svc.ListSessions), opts...)
	get := connect.NewUnaryHandler(MonitorServiceGetSessionProcedure, unary(svc.GetSession), opts...)
	poll := connect.NewUnaryHandler(MonitorServiceForcePollProcedure, unary(svc.ForcePoll), opts...)
	admin := connect.NewUnaryHandler(MonitorServiceSetAdminDownProcedure, unary(svc.SetAdminDown), opts...)
	watch := connect.NewServerStreamHandler(MonitorServiceWatchSessionEventsProcedure,
		func(ctx context.Context, req *connect.Request[monitorv1.WatchSessionEventsRequest], stream *connect.ServerStream[monitorv1.SessionEvent]) error {
			return svc.WatchSessionEvents(ctx, req.Msg, stream)
		}, opts...)

	prefix := "/" + monitorv1.ServiceName + "/"
	return prefix, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case MonitorServiceListSessionsProcedure:
			list.ServeHTTP(w, r)
		case MonitorServiceGetSessionProcedure:
			get.ServeHTTP(w, r)
		case MonitorServiceForcePollProcedure:
			poll.ServeHTTP(w, r)
		case MonitorServiceSetAdminDownProcedure:
			admin.ServeHTTP(w, r)
		case MonitorServiceWatchSessionEventsProcedure:
			watch.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

func unary[Req, Res any](fn func(context.Context, *Req) (*Res, error)) func(context.Context, *connect.Request[Req]) (*connect.Response[Res], error) {
	return func(ctx context.Context, req *connect.Request[Req]) (*connect.Response[Res], error) {
		res, err := fn(ctx, req.Msg)
		if err != nil {
			return nil, err
		}
		return connect.NewResponse(res), nil
	}
}

// -------------------------------------------------------------------------
// Client
// -------------------------------------------------------------------------

// MonitorServiceClient is the client side of the monitor service.
type MonitorServiceClient interface {
	ListSessions(context.Context, *monitorv1.ListSessionsRequest) (*monitorv1.ListSessionsResponse, error)
	GetSession(context.Context, *monitorv1.GetSessionRequest) (*monitorv1.GetSessionResponse, error)
	ForcePoll(context.Context, *monitorv1.ForcePollRequest) (*monitorv1.ForcePollResponse, error)
	SetAdminDown(context.Context, *monitorv1.SetAdminDownRequest) (*monitorv1.SetAdminDownResponse, error)
	WatchSessionEvents(context.Context, *monitorv1.WatchSessionEventsRequest) (*connect.ServerStreamForClient[monitorv1.SessionEvent], error)
}

// NewMonitorServiceClient returns a client for the service at baseURL
// (e.g. "http://127.0.0.1:3785"). The JSON codec is always used.
func NewMonitorServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) MonitorServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(monitorv1.JSONCodec{})}, opts...)

	return &monitorServiceClient{
		list: connect.NewClient[monitorv1.ListSessionsRequest, monitorv1.ListSessionsResponse](
			httpClient, baseURL+MonitorServiceListSessionsProcedure, opts...),
		get: connect.NewClient[monitorv1.GetSessionRequest, monitorv1.GetSessionResponse](
			httpClient, baseURL+MonitorServiceGetSessionProcedure, opts...),
		poll: connect.NewClient[monitorv1.ForcePollRequest, monitorv1.ForcePollResponse](
			httpClient, baseURL+MonitorServiceForcePollProcedure, opts...),
		admin: connect.NewClient[monitorv1.SetAdminDownRequest, monitorv1.SetAdminDownResponse](
			httpClient, baseURL+MonitorServiceSetAdminDownProcedure, opts...),
		watch: connect.NewClient[monitorv1.WatchSessionEventsRequest, monitorv1.SessionEvent](
			httpClient, baseURL+MonitorServiceWatchSessionEventsProcedure, opts...),
	}
}

type monitorServiceClient struct {
	list  *connect.Client[monitorv1.ListSessionsRequest, monitorv1.ListSessionsResponse]
	get   *connect.Client[monitorv1.GetSessionRequest, monitorv1.GetSessionResponse]
	poll  *connect.Client[monitorv1.ForcePollRequest, monitorv1.ForcePollResponse]
	admin *connect.Client[monitorv1.SetAdminDownRequest, monitorv1.SetAdminDownResponse]
	watch *connect.Client[monitorv1.WatchSessionEventsRequest, monitorv1.SessionEvent]
}

func (c *monitorServiceClient) ListSessions(ctx context.Context, req *monitorv1.ListSessionsRequest) (*monitorv1.ListSessionsResponse, error) {
	return callUnary(ctx, c.list, req)
}

func (c *monitorServiceClient) GetSession(ctx context.Context, req *monitorv1.GetSessionRequest) (*monitorv1.GetSessionResponse, error) {
	return callUnary(ctx, c.get, req)
}

func (c *monitorServiceClient) ForcePoll(ctx context.Context, req *monitorv1.ForcePollRequest) (*monitorv1.ForcePollResponse, error) {
	return callUnary(ctx, c.poll, req)
}

func (c *monitorServiceClient) SetAdminDown(ctx context.Context, req *monitorv1.SetAdminDownRequest) (*monitorv1.SetAdminDownResponse, error) {
	return callUnary(ctx, c.admin, req)
}

func (c *monitorServiceClient) WatchSessionEvents(ctx context.Context, req *monitorv1.WatchSessionEventsRequest) (*connect.ServerStreamForClient[monitorv1.SessionEvent], error) {
	return c.watch.CallServerStream(ctx, connect.NewRequest(req))
}

func callUnary[Req, Res any](ctx context.Context, c *connect.Client[Req, Res], req *Req) (*Res, error) {
	res, err := c.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}
