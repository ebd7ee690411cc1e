package bfd

import "time"

// -------------------------------------------------------------------------
// Poll Sequence — RFC 5880 Section 6.5
// -------------------------------------------------------------------------

// pollState is the poll sub-state of a session. The two directions are
// independent: inProgress/proposed/queued track OUR poll, finalPending
// tracks a Poll received from the peer that still needs a Final.
type pollState struct {
	inProgress   bool
	finalPending bool

	// proposed holds the parameters advertised by the outstanding poll.
	// nil for a manual liveness poll that changes nothing.
	proposed *Params

	// queued holds parameters requested while a poll was outstanding.
	// They start a new poll once the current one completes.
	queued *Params
}

// currentParams returns the timing values in effect.
func (s *Session) currentParams() Params {
	return Params{
		DesiredMinTxInterval:  s.desiredMinTxInterval,
		RequiredMinRxInterval: s.requiredMinRxInterval,
		DetectMultiplier:      s.detectMult,
	}
}

// advertisedParams returns the values to place on the wire: the proposed
// ones while a parameter poll is outstanding, the effective ones otherwise.
func (s *Session) advertisedParams() (desired, required time.Duration, mult uint8) {
	p := s.currentParams()
	if s.poll.inProgress && s.poll.proposed != nil {
		p = *s.poll.proposed
	}
	return p.DesiredMinTxInterval, p.RequiredMinRxInterval, p.DetectMultiplier
}

func (s *Session) applyParams(p Params) {
	s.desiredMinTxInterval = p.DesiredMinTxInterval
	s.requiredMinRxInterval = p.RequiredMinRxInterval
	s.detectMult = p.DetectMultiplier
}

// requestParams handles a local parameter change.
//
// Outside Up nothing depends on the old values and p takes effect at once.
// In Up, p is proposed through a poll sequence and takes effect when the
// peer answers with Final. A change that arrives while a poll is already
// outstanding is queued; only the latest queued change is kept. A request
// that matches what is already in effect (or already proposed) starts
// nothing.
//
// It reports whether a new poll sequence was started.
func (s *Session) requestParams(p Params) bool {
	if s.state != StateUp {
		s.applyParams(p)
		return false
	}
	if s.poll.inProgress {
		if s.poll.proposed != nil && *s.poll.proposed == p {
			s.poll.queued = nil
			return false
		}
		s.poll.queued = &p
		return false
	}
	if p == s.currentParams() {
		return false
	}
	s.poll.inProgress = true
	s.poll.proposed = &p
	return true
}

// startManualPoll starts a poll that only re-validates liveness. It is a
// no-op, returning false, if a poll is already outstanding or the session
// is not Up.
func (s *Session) startManualPoll() bool {
	if s.poll.inProgress || s.state != StateUp {
		return false
	}
	s.poll.inProgress = true
	s.poll.proposed = nil
	return true
}

// completePoll ends the outstanding poll after a Final arrived: the
// proposed parameters take effect, and a queued change, if any, starts the
// next poll. It reports whether a new poll was started.
func (s *Session) completePoll() bool {
	if s.poll.proposed != nil {
		s.applyParams(*s.poll.proposed)
	}
	s.poll.inProgress = false
	s.poll.proposed = nil
	s.counters.pollsCompleted++

	if s.poll.queued == nil {
		return false
	}
	next := s.poll.queued
	s.poll.queued = nil
	if *next == s.currentParams() {
		return false
	}
	s.poll.inProgress = true
	s.poll.proposed = next
	return true
}

// abandonPoll is called when the session leaves Up. No peer is left to
// answer the poll, so proposed and queued values take effect immediately.
func (s *Session) abandonPoll() {
	if s.poll.proposed != nil {
		s.applyParams(*s.poll.proposed)
	}
	if s.poll.queued != nil {
		s.applyParams(*s.poll.queued)
	}
	s.poll.inProgress = false
	s.poll.proposed = nil
	s.poll.queued = nil
}
