package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/bfdd/internal/bfd"
	"github.com/dantte-lp/bfdd/internal/config"
	bfdmetrics "github.com/dantte-lp/bfdd/internal/metrics"
	"github.com/dantte-lp/bfdd/internal/natsexport"
	"github.com/dantte-lp/bfdd/internal/netio"
	"github.com/dantte-lp/bfdd/internal/server"
	appversion "github.com/dantte-lp/bfdd/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// drainTimeout is the time to wait after setting sessions to AdminDown
// before stopping the engine, so the AdminDown packets leave the host
// (RFC 5880 Section 6.8.16).
const drainTimeout = 500 * time.Millisecond

// commandTimeout bounds a signal-triggered engine command.
const commandTimeout = 5 * time.Second

// bfdDaemon holds the long-lived components shared by the signal handlers.
type bfdDaemon struct {
	opts     *options
	logger   *slog.Logger
	logLevel *slog.LevelVar
	caps     bfd.Capabilities
	resolver config.Resolver

	transport *netio.Transport
	engine    *bfd.Engine
}

// runDaemon starts bfdd and blocks until SIGINT or SIGTERM.
func runDaemon(cmd *cobra.Command, opts *options) error {
	// 1. Load config.
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		// Logger is not set up yet; use a temporary stderr logger.
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %w", errReported, err)
	}

	// 2. Set up logger with dynamic level support for SIGHUP reload.
	logLevel := new(slog.LevelVar)
	logLevel.Set(effectiveLevel(cfg.Log.Level, opts.verbose))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	if err := startDaemon(cmd.Context(), cfg, opts, logger, logLevel); err != nil {
		logger.Error("bfdd exited with error", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %w", errReported, err)
	}

	logger.Info("bfdd stopped")
	return nil
}

// startDaemon wires the engine, transport and servers and runs them until
// the process is told to stop.
func startDaemon(
	parent context.Context,
	cfg *config.Config,
	opts *options,
	logger *slog.Logger,
	logLevel *slog.LevelVar,
) error {
	caps, err := cfg.Capabilities(logger, opts.extensions)
	if err != nil {
		return err
	}

	sessions, err := cfg.ResolveSessions(parent, net.DefaultResolver, caps)
	if err != nil {
		return fmt.Errorf("resolve sessions: %w", err)
	}
	config.WarnUncommonIntervals(logger, sessions)

	monAddr := monitorAddr(cfg.Monitor.Addr, opts.monitorPort)
	logger.Info("bfdd starting",
		slog.String("version", appversion.Version),
		slog.String("monitor_addr", monAddr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
		slog.Any("extensions", caps.Names()),
		slog.Int("sessions", len(sessions)),
	)

	reg := prometheus.NewRegistry()
	collector := bfdmetrics.NewCollector(reg)
	notifier := bfd.NewNotifier(logger)

	tr := netio.NewTransport(logger)
	eng := bfd.NewEngine(tr, logger,
		bfd.WithMetrics(collector),
		bfd.WithNotifier(notifier),
		bfd.WithCapabilities(caps),
	)

	d := &bfdDaemon{
		opts:      opts,
		logger:    logger,
		logLevel:  logLevel,
		caps:      caps,
		resolver:  net.DefaultResolver,
		transport: tr,
		engine:    eng,
	}
	defer d.closeTransport()

	// The engine outlives the signal context so shutdown can still send
	// AdminDown through it.
	engCtx, engCancel := context.WithCancel(context.WithoutCancel(parent))
	defer engCancel()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.openPorts(ctx, sessions); err != nil {
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(engCtx)
	})

	res, err := eng.Reconcile(gCtx, sessions)
	if err != nil {
		stop()
		engCancel()
		_ = g.Wait()
		return fmt.Errorf("create sessions: %w", err)
	}
	logger.Info("sessions created", slog.Int("created", res.Created))

	monitorSrv := server.NewHTTPServer(monAddr, eng, notifier, logger)
	servers := []*http.Server{monitorSrv}
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("monitor server listening", slog.String("addr", monAddr))
		return listenAndServe(gCtx, &lc, monitorSrv, monAddr)
	})

	if cfg.Metrics.Addr != "" {
		metricsSrv := newMetricsServer(cfg.Metrics, reg)
		servers = append(servers, metricsSrv)
		g.Go(func() error {
			logger.Info("metrics server listening",
				slog.String("addr", cfg.Metrics.Addr),
				slog.String("path", cfg.Metrics.Path),
			)
			return listenAndServe(gCtx, &lc, metricsSrv, cfg.Metrics.Addr)
		})
	}

	nc, err := startExporter(gCtx, g, cfg.NATS, notifier, logger)
	if err != nil {
		stop()
		engCancel()
		_ = g.Wait()
		return err
	}
	if nc != nil {
		defer nc.Close()
	}

	g.Go(func() error {
		return runWatchdog(gCtx, logger)
	})

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2)
	g.Go(func() error {
		defer signal.Stop(sigCh)
		d.handleSignals(gCtx, sigCh)
		return nil
	})

	notifyReady(logger)

	// Shutdown goroutine: waits for context cancellation.
	g.Go(func() error {
		<-gCtx.Done()
		return d.gracefulShutdown(gCtx, engCancel, servers...)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run daemon: %w", err)
	}
	return nil
}

// openPorts binds one socket per distinct local port of sessions.
func (d *bfdDaemon) openPorts(ctx context.Context, sessions []bfd.SessionConfig) error {
	for _, port := range localPorts(sessions) {
		if err := d.transport.Open(ctx, port, d.engine.Inbound()); err != nil {
			return fmt.Errorf("open BFD listener: %w", err)
		}
	}
	return nil
}

func (d *bfdDaemon) closeTransport() {
	if err := d.transport.Close(); err != nil {
		d.logger.Warn("failed to close BFD sockets", slog.String("error", err.Error()))
	}
}

// startExporter connects to NATS and starts the state-change exporter if
// a URL is configured. It returns the connection for the caller to close.
func startExporter(
	ctx context.Context,
	g *errgroup.Group,
	cfg config.NATSConfig,
	notifier *bfd.Notifier,
	logger *slog.Logger,
) (*nats.Conn, error) {
	if cfg.URL == "" {
		logger.Debug("nats export disabled")
		return nil, nil
	}

	nc, err := natsexport.Connect(cfg.URL, logger)
	if err != nil {
		return nil, err
	}

	x, err := natsexport.New(nc, cfg.SubjectPrefix, logger)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create nats exporter: %w", err)
	}

	g.Go(func() error {
		return x.Run(ctx, notifier)
	})
	return nc, nil
}

// -------------------------------------------------------------------------
// Signals — SIGHUP reload, SIGUSR1 demand poll, SIGUSR2 admin toggle
// -------------------------------------------------------------------------

// handleSignals turns process signals into engine commands. Nothing runs
// in signal context; each signal is handled here on its own goroutine.
// Blocks until the context is cancelled (graceful shutdown).
func (d *bfdDaemon) handleSignals(ctx context.Context, sigCh <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				d.logger.Info("received SIGHUP, reloading configuration")
				d.reloadConfig(ctx)
			case syscall.SIGUSR1:
				d.pollDemandSessions(ctx)
			case syscall.SIGUSR2:
				d.toggleAdminDown(ctx)
			}
		}
	}
}

func (d *bfdDaemon) pollDemandSessions(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	n, err := d.engine.PollDemandSessions(ctx)
	if err != nil {
		d.logger.Warn("failed to poll demand sessions", slog.String("error", err.Error()))
		return
	}
	d.logger.Info("demand mode poll started", slog.Int("sessions", n))
}

func (d *bfdDaemon) toggleAdminDown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	down, err := d.engine.ToggleAdminDown(ctx)
	if err != nil {
		d.logger.Warn("failed to toggle admin state", slog.String("error", err.Error()))
		return
	}
	d.logger.Info("admin state toggled", slog.Bool("admin_down", down))
}

// reloadConfig loads a fresh configuration, updates the dynamic log level,
// and reconciles the declarative sessions. Errors during reload are logged
// but do not stop the daemon; the previous configuration remains in effect.
// Extensions are evaluated once at startup and are not reloaded.
func (d *bfdDaemon) reloadConfig(ctx context.Context) {
	newCfg, err := config.Load(d.opts.configPath)
	if err != nil {
		d.logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()),
		)
		return
	}

	oldLevel := d.logLevel.Level()
	newLevel := effectiveLevel(newCfg.Log.Level, d.opts.verbose)
	d.logLevel.Set(newLevel)

	d.logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)

	sessions, err := newCfg.ResolveSessions(ctx, d.resolver, d.caps)
	if err != nil {
		d.logger.Error("invalid sessions in reloaded configuration, keeping current sessions",
			slog.String("error", err.Error()),
		)
		return
	}
	config.WarnUncommonIntervals(d.logger, sessions)

	if err := d.openPorts(ctx, sessions); err != nil {
		d.logger.Error("failed to open listener for reloaded sessions",
			slog.String("error", err.Error()),
		)
		return
	}

	res, err := d.engine.Reconcile(ctx, sessions)
	if err != nil {
		d.logger.Error("session reconciliation had errors",
			slog.String("error", err.Error()),
		)
	}

	d.logger.Info("session reconciliation complete",
		slog.Int("created", res.Created),
		slog.Int("destroyed", res.Destroyed),
		slog.Int("updated", res.Updated),
	)
}

// -------------------------------------------------------------------------
// Graceful Shutdown
// -------------------------------------------------------------------------

// gracefulShutdown notifies systemd, sets every session to AdminDown so
// peers see an intentional shutdown rather than a failure, stops the
// engine, then shuts down the HTTP servers.
//
// The parent context is already cancelled when this function is called.
// A fresh timeout context is created internally for the drain.
func (d *bfdDaemon) gracefulShutdown(ctx context.Context, stopEngine context.CancelFunc, servers ...*http.Server) error {
	d.logger.Info("initiating graceful shutdown")
	notifyStopping(d.logger)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	n, err := d.engine.AdminDownAll(shutdownCtx)
	if err != nil {
		d.logger.Warn("failed to set sessions AdminDown", slog.String("error", err.Error()))
	} else {
		d.logger.Info("sessions set AdminDown", slog.Int("sessions", n))
		time.Sleep(drainTimeout)
	}

	stopEngine()
	<-d.engine.Done()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

// notifyReady sends READY=1 to systemd, indicating the daemon has
// completed initialization and is ready to serve.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

// notifyStopping sends STOPPING=1 to systemd.
func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd at half the
// WatchdogSec interval. If watchdog is not configured, it returns at once.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive",
					slog.String("error", wdErr.Error()),
				)
			}
		}
	}
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

// listenAndServe creates a TCP listener using the ListenConfig and serves
// HTTP requests until the server is shut down.
func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newMetricsServer creates an HTTP server for the Prometheus metrics endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
