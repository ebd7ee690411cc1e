package bfd

import (
	"math/rand/v2"
	"time"
)

// -------------------------------------------------------------------------
// Interval Negotiation — RFC 5880 Sections 6.8.2-6.8.4
// -------------------------------------------------------------------------

// NegotiatedTxInterval returns the interval at which a session transmits:
// the larger of the local bfd.DesiredMinTxInterval and the peer's
// advertised bfd.RemoteMinRxInterval (RFC 5880 Section 6.8.7).
//
// A remoteMinRx of zero means "the peer wants no periodic packets"; the
// caller handles that case, this function only computes the maximum.
func NegotiatedTxInterval(desiredMinTx, remoteMinRx time.Duration) time.Duration {
	return max(desiredMinTx, remoteMinRx)
}

// DetectionTime returns the asynchronous-mode detection time: the peer's
// Detect Mult times the greater of the local bfd.RequiredMinRxInterval and
// the peer's last advertised Desired Min TX Interval (RFC 5880 Section
// 6.8.4).
func DetectionTime(remoteDetectMult uint8, requiredMinRx, remoteDesiredMinTx time.Duration) time.Duration {
	agreed := max(requiredMinRx, remoteDesiredMinTx)
	return time.Duration(int64(remoteDetectMult) * int64(agreed))
}

// -------------------------------------------------------------------------
// Jitter — RFC 5880 Section 6.8.7
// -------------------------------------------------------------------------

// JitterFunc shortens a transmit interval. The Engine takes one so tests
// can substitute a deterministic reduction.
type JitterFunc func(interval time.Duration, detectMult uint8) time.Duration

// ApplyJitter reduces interval by a uniformly random amount so that
// consecutive transmissions from many sessions do not synchronize.
//
// The result lies in [0.75*interval, interval). When detectMult is 1 a
// single lost packet already declares the peer down, so the reduction is
// capped at 10% and the result lies in [0.90*interval, interval).
func ApplyJitter(interval time.Duration, detectMult uint8) time.Duration {
	maxReduction := interval / 4
	if detectMult == 1 {
		maxReduction = interval / 10
	}
	if maxReduction <= 0 {
		return interval
	}
	// Reduction in [1ns, maxReduction].
	reduction := 1 + time.Duration(rand.Int64N(int64(maxReduction))) //nolint:gosec // G404: jitter is not security-sensitive
	return interval - reduction
}

// -------------------------------------------------------------------------
// RFC 7419 — Common Interval Support
// -------------------------------------------------------------------------

// CommonIntervals is the RFC 7419 Section 3 common interval set, sorted
// ascending. Intervals outside the set still work but may be rounded by
// hardware-based peers.
//
//nolint:gochecknoglobals // Lookup table is intentionally package-level.
var CommonIntervals = [...]time.Duration{
	3300 * time.Microsecond,
	10 * time.Millisecond,
	20 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	1 * time.Second,
}

// IsCommonInterval reports whether d exactly matches one of the RFC 7419
// common interval values.
func IsCommonInterval(d time.Duration) bool {
	for _, ci := range CommonIntervals {
		if d == ci {
			return true
		}
	}
	return false
}

// AlignToCommonInterval rounds d up to the nearest RFC 7419 common
// interval. Values above 1s and non-positive values are returned as-is.
func AlignToCommonInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	for _, ci := range CommonIntervals {
		if d <= ci {
			return ci
		}
	}
	return d
}

// -------------------------------------------------------------------------
// Duration <-> Microseconds conversion
// -------------------------------------------------------------------------

// durationFromMicroseconds converts a wire-format microsecond value to
// time.Duration.
func durationFromMicroseconds(us uint32) time.Duration {
	return time.Duration(us) * time.Microsecond
}

// microsecondsFromDuration converts d to wire-format microseconds,
// truncating and saturating at the uint32 range.
func microsecondsFromDuration(d time.Duration) uint32 {
	us := d / time.Microsecond
	switch {
	case us <= 0:
		return 0
	case us > 0xFFFFFFFF:
		return 0xFFFFFFFF
	default:
		return uint32(us)
	}
}
