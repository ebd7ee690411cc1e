package bfd

// -------------------------------------------------------------------------
// Demand Mode — RFC 5880 Section 6.6
// -------------------------------------------------------------------------

// demandEligible reports whether demand mode may be active: both sides
// asked for it and the session is Up.
func (s *Session) demandEligible() bool {
	return s.demandModeDesired && s.remoteDemandMode && s.state == StateUp
}

// updateDemand recomputes demandModeActive and reports whether it changed.
// The caller adjusts timers: entering demand mode stops periodic
// transmission and detection, leaving it restarts both.
func (s *Session) updateDemand() (changed bool) {
	active := s.demandEligible()
	if active == s.demandModeActive {
		return false
	}
	s.demandModeActive = active
	return true
}

// wantsDemandPoll reports whether a manual "poll all demand sessions"
// request applies to this session.
func (s *Session) wantsDemandPoll() bool {
	return s.demandModeDesired && s.state == StateUp
}
