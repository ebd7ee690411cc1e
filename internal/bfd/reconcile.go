package bfd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
)

// ReconcileResult counts what Reconcile changed.
type ReconcileResult struct {
	Created   int
	Destroyed int
	Updated   int
}

// Reconcile diffs the desired session set against the running sessions,
// keyed by (peer address, peer port, local port).
//
// Sessions present only in desired are registered, sessions absent from
// desired are deregistered (signalling AdminDown to the peer first), and
// sessions in both get their timing parameters changed through a poll
// sequence and their administrative state aligned. A change of the demand
// mode flag cannot be negotiated on a live session and is logged only.
//
// Reconcile runs on the caller's goroutine and goes through the Engine's
// command queue for every step. All errors are collected; a failing
// session does not stop the others.
func (e *Engine) Reconcile(ctx context.Context, desired []SessionConfig) (ReconcileResult, error) {
	var res ReconcileResult

	current, err := e.Sessions(ctx)
	if err != nil {
		return res, fmt.Errorf("reconcile: %w", err)
	}

	want := make(map[PeerKey]SessionConfig, len(desired))
	for _, cfg := range desired {
		cfg = cfg.withDefaults()
		want[PeerKey{
			Peer:      netip.AddrPortFrom(cfg.PeerAddr.Unmap(), cfg.PeerPort),
			LocalPort: cfg.LocalPort,
		}] = cfg
	}

	var errs []error
	have := make(map[PeerKey]struct{}, len(current))

	for _, snap := range current {
		key := PeerKey{Peer: netip.AddrPortFrom(snap.PeerAddr, snap.PeerPort), LocalPort: snap.LocalPort}
		have[key] = struct{}{}

		cfg, ok := want[key]
		if !ok {
			e.logger.Info("reconcile: removing session",
				slog.String("key", key.String()),
				slog.Uint64("local_discr", uint64(snap.LocalDiscr)),
			)
			if dErr := e.Deregister(ctx, snap.LocalDiscr); dErr != nil {
				errs = append(errs, fmt.Errorf("reconcile remove %s: %w", key, dErr))
				continue
			}
			res.Destroyed++
			continue
		}

		changed, uErr := e.reconcileExisting(ctx, snap, cfg)
		if uErr != nil {
			errs = append(errs, fmt.Errorf("reconcile update %s: %w", key, uErr))
			continue
		}
		if changed {
			res.Updated++
		}
	}

	for key, cfg := range want {
		if _, exists := have[key]; exists {
			continue
		}
		e.logger.Info("reconcile: adding session", slog.String("key", key.String()))
		if _, cErr := e.Register(ctx, cfg); cErr != nil {
			errs = append(errs, fmt.Errorf("reconcile add %s: %w", key, cErr))
			continue
		}
		res.Created++
	}

	e.logger.Info("session reconciliation complete",
		slog.Int("created", res.Created),
		slog.Int("destroyed", res.Destroyed),
		slog.Int("updated", res.Updated),
	)

	return res, errors.Join(errs...)
}

func (e *Engine) reconcileExisting(ctx context.Context, snap SessionSnapshot, cfg SessionConfig) (bool, error) {
	var changed bool

	p := Params{
		DesiredMinTxInterval:  cfg.DesiredMinTxInterval,
		RequiredMinRxInterval: cfg.RequiredMinRxInterval,
		DetectMultiplier:      cfg.DetectMultiplier,
	}
	if p != snapshotParams(snap) {
		if err := e.SetParameters(ctx, snap.LocalDiscr, p); err != nil {
			return false, err
		}
		changed = true
	}

	if isAdminDown := snap.State == StateAdminDown; isAdminDown != cfg.AdminDown {
		if err := e.SetAdminDown(ctx, snap.LocalDiscr, cfg.AdminDown); err != nil {
			return changed, err
		}
		changed = true
	}

	if snap.DemandModeDesired != cfg.DemandMode {
		e.logger.Warn("reconcile: demand mode change ignored for running session",
			slog.Uint64("local_discr", uint64(snap.LocalDiscr)),
			slog.Bool("configured", cfg.DemandMode),
		)
	}

	return changed, nil
}

func snapshotParams(s SessionSnapshot) Params {
	return Params{
		DesiredMinTxInterval:  s.DesiredMinTxInterval,
		RequiredMinRxInterval: s.RequiredMinRxInterval,
		DetectMultiplier:      s.DetectMultiplier,
	}
}
