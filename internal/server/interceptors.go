package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"connectrpc.com/connect"
)

// ErrPanicRecovered indicates an RPC handler panicked and was recovered.
var ErrPanicRecovered = errors.New("panic recovered in rpc handler")

// LoggingInterceptorOption installs LoggingInterceptor on a handler.
func LoggingInterceptorOption(logger *slog.Logger) connect.HandlerOption {
	return connect.WithInterceptors(LoggingInterceptor(logger))
}

// RecoveryInterceptorOption installs RecoveryInterceptor on a handler.
func RecoveryInterceptorOption(logger *slog.Logger) connect.HandlerOption {
	return connect.WithInterceptors(RecoveryInterceptor(logger))
}

// -------------------------------------------------------------------------
// Logging
// -------------------------------------------------------------------------

// LoggingInterceptor returns a ConnectRPC interceptor that logs every
// unary call and handler stream with the procedure name, duration, and
// error (if any).
//
// Log level is Info for successful calls and Warn for calls that return errors.
func LoggingInterceptor(logger *slog.Logger) connect.Interceptor {
	return &loggingInterceptor{logger: logger}
}

type loggingInterceptor struct {
	logger *slog.Logger
}

func (i *loggingInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		i.log(ctx, req.Spec().Procedure, time.Since(start), err)
		return resp, err
	}
}

func (i *loggingInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (i *loggingInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		start := time.Now()
		err := next(ctx, conn)
		i.log(ctx, conn.Spec().Procedure, time.Since(start), err)
		return err
	}
}

func (i *loggingInterceptor) log(ctx context.Context, procedure string, d time.Duration, err error) {
	attrs := []slog.Attr{
		slog.String("procedure", procedure),
		slog.Duration("duration", d),
	}

	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		i.logger.LogAttrs(ctx, slog.LevelWarn, "rpc completed with error", attrs...)
		return
	}
	i.logger.LogAttrs(ctx, slog.LevelInfo, "rpc completed", attrs...)
}

// -------------------------------------------------------------------------
// Recovery
// -------------------------------------------------------------------------

// RecoveryInterceptor returns a ConnectRPC interceptor that recovers from
// panics in RPC handlers. On panic, it logs the panic value and stack trace
// at Error level and returns a CodeInternal error to the client.
func RecoveryInterceptor(logger *slog.Logger) connect.Interceptor {
	return &recoveryInterceptor{logger: logger}
}

type recoveryInterceptor struct {
	logger *slog.Logger
}

func (i *recoveryInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (resp connect.AnyResponse, retErr error) {
		defer i.recover(ctx, req.Spec().Procedure, &retErr)
		return next(ctx, req)
	}
}

func (i *recoveryInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (i *recoveryInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) (retErr error) {
		defer i.recover(ctx, conn.Spec().Procedure, &retErr)
		return next(ctx, conn)
	}
}

// recover must be called directly by a deferred statement.
func (i *recoveryInterceptor) recover(ctx context.Context, procedure string, retErr *error) {
	r := recover()
	if r == nil {
		return
	}

	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)

	i.logger.ErrorContext(ctx, "panic recovered in rpc handler",
		slog.String("procedure", procedure),
		slog.Any("panic", r),
		slog.String("stack", string(buf[:n])),
	)

	*retErr = connect.NewError(connect.CodeInternal,
		fmt.Errorf("%s: %w", procedure, ErrPanicRecovered))
}
