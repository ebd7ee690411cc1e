package bfd

import (
	"errors"
	"testing"
	"time"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	return mustCreate(t, testRegistry(t), sessionConfig("10.0.0.2"))
}

// peerPacket is a valid packet from the peer with discriminator 200.
func peerPacket(s *Session, state State) *ControlPacket {
	pkt := &ControlPacket{
		Version:               Version,
		State:                 state,
		DetectMult:            3,
		MyDiscriminator:       200,
		DesiredMinTxInterval:  100000,
		RequiredMinRxInterval: 100000,
	}
	if state != StateDown && state != StateAdminDown {
		pkt.YourDiscriminator = s.localDiscr
	}
	return pkt
}

// -------------------------------------------------------------------------
// Reception checks — RFC 5880 Section 6.8.6
// -------------------------------------------------------------------------

func TestSessionCheckPacket(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   func(*Session)
		mutate  func(*Session, *ControlPacket)
		wantErr error
	}{
		{
			name:   "valid down",
			mutate: func(*Session, *ControlPacket) {},
		},
		{
			name:    "zero detect mult",
			mutate:  func(_ *Session, p *ControlPacket) { p.DetectMult = 0 },
			wantErr: ErrZeroDetectMult,
		},
		{
			name:    "zero my discriminator",
			mutate:  func(_ *Session, p *ControlPacket) { p.MyDiscriminator = 0 },
			wantErr: ErrZeroMyDiscriminator,
		},
		{
			name: "zero your discriminator in up",
			mutate: func(_ *Session, p *ControlPacket) {
				p.State = StateUp
				p.YourDiscriminator = 0
			},
			wantErr: ErrZeroYourDiscriminator,
		},
		{
			name: "your discriminator mismatch",
			mutate: func(s *Session, p *ControlPacket) {
				p.YourDiscriminator = s.localDiscr + 1
			},
			wantErr: ErrDiscriminatorMismatch,
		},
		{
			name:    "auth present",
			mutate:  func(_ *Session, p *ControlPacket) { p.AuthPresent = true },
			wantErr: ErrAuthUnsupported,
		},
		{
			name:    "admin down session",
			setup:   func(s *Session) { s.state = StateAdminDown },
			mutate:  func(*Session, *ControlPacket) {},
			wantErr: ErrSessionAdminDown,
		},
		{
			name: "remote discriminator changed while up",
			setup: func(s *Session) {
				s.state = StateUp
				s.remoteDiscr = 999
			},
			mutate:  func(*Session, *ControlPacket) {},
			wantErr: ErrRemoteDiscriminatorChanged,
		},
		{
			name: "remote discriminator changed while down is accepted",
			setup: func(s *Session) {
				s.remoteDiscr = 999
			},
			mutate: func(*Session, *ControlPacket) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := newTestSession(t)
			if tt.setup != nil {
				tt.setup(s)
			}
			pkt := peerPacket(s, StateDown)
			tt.mutate(s, pkt)

			err := s.checkPacket(pkt)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("checkPacket: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("checkPacket error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// -------------------------------------------------------------------------
// Negotiation — RFC 5880 Sections 6.8.2-6.8.4
// -------------------------------------------------------------------------

func TestSessionNegotiation(t *testing.T) {
	t.Parallel()

	s := newTestSession(t)

	// Nothing heard yet: local values only.
	if got := s.NegotiatedTxInterval(); got != 100*time.Millisecond {
		t.Errorf("initial tx = %v, want 100ms", got)
	}
	if got := s.DetectionTime(); got != 300*time.Millisecond {
		t.Errorf("initial detection time = %v, want 300ms", got)
	}

	pkt := peerPacket(s, StateDown)
	pkt.RequiredMinRxInterval = 150000
	pkt.DesiredMinTxInterval = 200000
	pkt.DetectMult = 4
	s.learnRemote(pkt, epoch)

	if got := s.NegotiatedTxInterval(); got != 150*time.Millisecond {
		t.Errorf("tx = %v, want 150ms", got)
	}
	// Remote mult 4 x max(local rx 100ms, remote tx 200ms).
	if got := s.DetectionTime(); got != 800*time.Millisecond {
		t.Errorf("detection time = %v, want 800ms", got)
	}
	if s.RemoteDiscriminator() != 200 || s.counters.packetsReceived != 1 {
		t.Errorf("learnRemote did not record discriminator/counter: %d/%d",
			s.RemoteDiscriminator(), s.counters.packetsReceived)
	}
}

func TestSessionMayTransmitPeriodic(t *testing.T) {
	t.Parallel()

	s := newTestSession(t)
	if !s.mayTransmitPeriodic() {
		t.Fatal("periodic transmission blocked before any packet")
	}

	pkt := peerPacket(s, StateDown)
	pkt.RequiredMinRxInterval = 0
	s.learnRemote(pkt, epoch)
	if s.mayTransmitPeriodic() {
		t.Error("periodic transmission allowed with RemoteMinRxInterval 0")
	}
}

func TestSessionResetRemoteKeepsIntervals(t *testing.T) {
	t.Parallel()

	s := newTestSession(t)
	pkt := peerPacket(s, StateDown)
	pkt.RequiredMinRxInterval = 150000
	pkt.Demand = true
	s.learnRemote(pkt, epoch)
	s.demandModeActive = true
	s.poll.finalPending = true

	s.resetRemote()

	if s.remoteDiscr != 0 || s.remoteDemandMode || s.demandModeActive || s.poll.finalPending {
		t.Errorf("resetRemote left state: %+v", s.Snapshot())
	}
	if s.NegotiatedTxInterval() != 150*time.Millisecond {
		t.Errorf("negotiated tx = %v after reset, want 150ms", s.NegotiatedTxInterval())
	}
}

// -------------------------------------------------------------------------
// Transmission
// -------------------------------------------------------------------------

func TestSessionBuildControlPacket(t *testing.T) {
	t.Parallel()

	s := newTestSession(t)
	s.state = StateUp
	s.remoteDiscr = 200
	s.demandModeDesired = true

	var pkt ControlPacket
	s.buildControlPacket(&pkt, false)

	if pkt.State != StateUp || pkt.MyDiscriminator != s.localDiscr || pkt.YourDiscriminator != 200 {
		t.Errorf("identity fields = %+v", pkt)
	}
	if !pkt.Demand || pkt.Poll || pkt.Final {
		t.Errorf("flags P=%v F=%v D=%v, want D only", pkt.Poll, pkt.Final, pkt.Demand)
	}
	if pkt.DesiredMinTxInterval != 100000 || pkt.RequiredMinRxInterval != 100000 || pkt.DetectMult != 3 {
		t.Errorf("timing fields = %+v", pkt)
	}

	// A proposed change is advertised with P set.
	s.requestParams(Params{DesiredMinTxInterval: 50 * time.Millisecond, RequiredMinRxInterval: 50 * time.Millisecond, DetectMultiplier: 5})
	s.buildControlPacket(&pkt, false)
	if !pkt.Poll || pkt.DesiredMinTxInterval != 50000 || pkt.DetectMult != 5 {
		t.Errorf("poll packet = %+v", pkt)
	}

	// A Final reply never carries P and advertises the values in effect,
	// not our outstanding proposal.
	s.buildControlPacket(&pkt, true)
	if pkt.Poll || !pkt.Final {
		t.Errorf("final packet P=%v F=%v", pkt.Poll, pkt.Final)
	}
	if pkt.DesiredMinTxInterval != 100000 || pkt.RequiredMinRxInterval != 100000 || pkt.DetectMult != 3 {
		t.Errorf("final packet timing = %d/%d/%d, want 100000/100000/3",
			pkt.DesiredMinTxInterval, pkt.RequiredMinRxInterval, pkt.DetectMult)
	}
}

func TestSessionDemandBitOnlyWhenUp(t *testing.T) {
	t.Parallel()

	s := newTestSession(t)
	s.demandModeDesired = true

	var pkt ControlPacket
	s.buildControlPacket(&pkt, false)
	if pkt.Demand {
		t.Error("D bit set while Down")
	}
}

// -------------------------------------------------------------------------
// Poll sequence — RFC 5880 Section 6.5
// -------------------------------------------------------------------------

func TestPollRequestOutsideUpAppliesImmediately(t *testing.T) {
	t.Parallel()

	s := newTestSession(t)
	p := Params{DesiredMinTxInterval: time.Second, RequiredMinRxInterval: time.Second, DetectMultiplier: 2}

	if s.requestParams(p) {
		t.Fatal("poll started in Down")
	}
	if s.currentParams() != p || s.poll.inProgress {
		t.Errorf("params = %+v, inProgress = %v", s.currentParams(), s.poll.inProgress)
	}
}

func TestPollLifecycle(t *testing.T) {
	t.Parallel()

	s := newTestSession(t)
	s.state = StateUp
	old := s.currentParams()

	first := Params{DesiredMinTxInterval: 50 * time.Millisecond, RequiredMinRxInterval: 50 * time.Millisecond, DetectMultiplier: 3}
	second := Params{DesiredMinTxInterval: 20 * time.Millisecond, RequiredMinRxInterval: 20 * time.Millisecond, DetectMultiplier: 3}

	if !s.requestParams(first) {
		t.Fatal("first request did not start a poll")
	}
	if s.currentParams() != old {
		t.Error("proposed params took effect before Final")
	}
	if s.requestParams(second) {
		t.Fatal("second request started a concurrent poll")
	}
	if s.startManualPoll() {
		t.Fatal("manual poll started while one is outstanding")
	}

	if !s.completePoll() {
		t.Fatal("queued change did not start a new poll")
	}
	if s.currentParams() != first {
		t.Errorf("after first Final params = %+v, want %+v", s.currentParams(), first)
	}

	if s.completePoll() {
		t.Fatal("poll restarted with nothing queued")
	}
	if s.currentParams() != second || s.poll.inProgress {
		t.Errorf("after second Final params = %+v, inProgress = %v", s.currentParams(), s.poll.inProgress)
	}
	if s.counters.pollsCompleted != 2 {
		t.Errorf("pollsCompleted = %d, want 2", s.counters.pollsCompleted)
	}
}

func TestPollQueuedIdenticalIsDropped(t *testing.T) {
	t.Parallel()

	s := newTestSession(t)
	s.state = StateUp
	p := Params{DesiredMinTxInterval: 50 * time.Millisecond, RequiredMinRxInterval: 50 * time.Millisecond, DetectMultiplier: 3}

	s.requestParams(p)
	s.requestParams(p)
	if s.completePoll() {
		t.Error("identical queued change restarted the poll")
	}
}

func TestPollUnchangedParamsStartNothing(t *testing.T) {
	t.Parallel()

	s := newTestSession(t)
	s.state = StateUp

	if s.requestParams(s.currentParams()) {
		t.Fatal("unchanged params started a poll")
	}
	if s.poll.inProgress {
		t.Error("poll in progress after unchanged request")
	}

	// Re-requesting the outstanding proposal discards an earlier queued change.
	first := Params{DesiredMinTxInterval: 50 * time.Millisecond, RequiredMinRxInterval: 50 * time.Millisecond, DetectMultiplier: 3}
	second := Params{DesiredMinTxInterval: 20 * time.Millisecond, RequiredMinRxInterval: 20 * time.Millisecond, DetectMultiplier: 3}
	s.requestParams(first)
	s.requestParams(second)
	s.requestParams(first)
	if s.completePoll() {
		t.Error("poll restarted although the last request matched the proposal")
	}
	if s.currentParams() != first {
		t.Errorf("params = %+v, want %+v", s.currentParams(), first)
	}
}

func TestPollAbandonAppliesPending(t *testing.T) {
	t.Parallel()

	s := newTestSession(t)
	s.state = StateUp
	first := Params{DesiredMinTxInterval: 50 * time.Millisecond, RequiredMinRxInterval: 50 * time.Millisecond, DetectMultiplier: 3}
	second := Params{DesiredMinTxInterval: 20 * time.Millisecond, RequiredMinRxInterval: 20 * time.Millisecond, DetectMultiplier: 4}

	s.requestParams(first)
	s.requestParams(second)
	s.abandonPoll()

	if s.currentParams() != second || s.poll.inProgress || s.poll.queued != nil {
		t.Errorf("after abandon params = %+v, poll = %+v", s.currentParams(), s.poll)
	}
}

func TestManualPollRequiresUp(t *testing.T) {
	t.Parallel()

	s := newTestSession(t)
	if s.startManualPoll() {
		t.Fatal("manual poll started in Down")
	}
	s.state = StateUp
	if !s.startManualPoll() {
		t.Fatal("manual poll refused in Up")
	}
	if s.poll.proposed != nil {
		t.Error("manual poll carries proposed params")
	}
}

// -------------------------------------------------------------------------
// Demand mode — RFC 5880 Section 6.6
// -------------------------------------------------------------------------

func TestDemandActivation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		local      bool
		remote     bool
		state      State
		wantActive bool
	}{
		{"both want, up", true, true, StateUp, true},
		{"only local", true, false, StateUp, false},
		{"only remote", false, true, StateUp, false},
		{"both want, init", true, true, StateInit, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := newTestSession(t)
			s.demandModeDesired = tt.local
			s.remoteDemandMode = tt.remote
			s.state = tt.state

			changed := s.updateDemand()
			if s.demandModeActive != tt.wantActive || changed != tt.wantActive {
				t.Errorf("active = %v changed = %v, want %v", s.demandModeActive, changed, tt.wantActive)
			}
		})
	}
}

func TestDemandSuppressesPeriodic(t *testing.T) {
	t.Parallel()

	s := newTestSession(t)
	s.state = StateUp
	s.demandModeDesired = true
	s.remoteDemandMode = true
	s.updateDemand()

	if s.periodicWanted() || s.detectWanted() {
		t.Fatalf("periodic=%v detect=%v in demand mode", s.periodicWanted(), s.detectWanted())
	}

	s.startManualPoll()
	if !s.periodicWanted() || !s.detectWanted() {
		t.Errorf("periodic=%v detect=%v during poll in demand mode", s.periodicWanted(), s.detectWanted())
	}
}
