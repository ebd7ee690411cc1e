package bfd_test

import (
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/dantte-lp/bfdd/internal/bfd"
)

// benchPacket returns a typical Up-state Control packet with 100ms timers.
func benchPacket() *bfd.ControlPacket {
	return &bfd.ControlPacket{
		Version:               bfd.Version,
		Diag:                  bfd.DiagNone,
		State:                 bfd.StateUp,
		DetectMult:            3,
		MyDiscriminator:       0xDEADBEEF,
		YourDiscriminator:     0xCAFEBABE,
		DesiredMinTxInterval:  100000, // 100ms in microseconds
		RequiredMinRxInterval: 100000, // 100ms in microseconds
	}
}

// -------------------------------------------------------------------------
// Codec
// -------------------------------------------------------------------------

// BenchmarkControlPacketMarshal measures serializing a Control packet into
// a pre-allocated buffer, the work done on every transmit timer.
//
// Target: zero allocations per operation.
func BenchmarkControlPacketMarshal(b *testing.B) {
	pkt := benchPacket()
	buf := make([]byte, bfd.MaxPacketSize)

	b.ReportAllocs()
	for b.Loop() {
		_, _ = bfd.MarshalControlPacket(pkt, buf)
	}
}

// BenchmarkControlPacketUnmarshal measures decoding a received packet.
func BenchmarkControlPacketUnmarshal(b *testing.B) {
	buf := make([]byte, bfd.MaxPacketSize)
	n, err := bfd.MarshalControlPacket(benchPacket(), buf)
	if err != nil {
		b.Fatal(err)
	}
	wire := buf[:n]

	var pkt bfd.ControlPacket

	b.ReportAllocs()
	for b.Loop() {
		_ = bfd.UnmarshalControlPacket(wire, &pkt)
	}
}

// BenchmarkControlPacketRoundTrip measures marshal followed by unmarshal.
func BenchmarkControlPacketRoundTrip(b *testing.B) {
	src := benchPacket()
	buf := make([]byte, bfd.MaxPacketSize)
	var dst bfd.ControlPacket

	b.ReportAllocs()
	for b.Loop() {
		n, _ := bfd.MarshalControlPacket(src, buf)
		_ = bfd.UnmarshalControlPacket(buf[:n], &dst)
	}
}

// BenchmarkPacketPool measures a receive buffer Get/Put cycle.
func BenchmarkPacketPool(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		bp, _ := bfd.PacketPool.Get().(*[]byte)
		bfd.PacketPool.Put(bp)
	}
}

// -------------------------------------------------------------------------
// FSM
// -------------------------------------------------------------------------

// BenchmarkFSMTransitionUpRecvUp measures the steady-state self-loop, the
// most frequent event on a healthy session.
func BenchmarkFSMTransitionUpRecvUp(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		_ = bfd.ApplyEvent(bfd.StateUp, bfd.EventRecvUp)
	}
}

// BenchmarkFSMTransitionDownRecvDown measures the first handshake step.
func BenchmarkFSMTransitionDownRecvDown(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		_ = bfd.ApplyEvent(bfd.StateDown, bfd.EventRecvDown)
	}
}

// BenchmarkFSMTransitionUpTimerExpired measures the failure-detection
// transition.
func BenchmarkFSMTransitionUpTimerExpired(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		_ = bfd.ApplyEvent(bfd.StateUp, bfd.EventDetectionTimeout)
	}
}

// BenchmarkRecvStateToEvent measures mapping a received state to an event.
func BenchmarkRecvStateToEvent(b *testing.B) {
	states := []bfd.State{bfd.StateAdminDown, bfd.StateDown, bfd.StateInit, bfd.StateUp}

	b.ReportAllocs()
	i := 0
	for b.Loop() {
		_ = bfd.RecvStateToEvent(states[i&3])
		i++
	}
}

// -------------------------------------------------------------------------
// Timers
// -------------------------------------------------------------------------

// BenchmarkApplyJitter measures the jitter computation for detectMult > 1.
func BenchmarkApplyJitter(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		_ = bfd.ApplyJitter(100*time.Millisecond, 3)
	}
}

// BenchmarkApplyJitterDetectMultOne measures the narrower detectMult == 1
// jitter range.
func BenchmarkApplyJitterDetectMultOne(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		_ = bfd.ApplyJitter(100*time.Millisecond, 1)
	}
}

// BenchmarkDetectionTimeCalc measures the detection time formula.
func BenchmarkDetectionTimeCalc(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		_ = bfd.DetectionTime(3, 100*time.Millisecond, 150*time.Millisecond)
	}
}

// BenchmarkTimerQueueRearm measures rearming one session's timers and
// popping the due entry, the per-packet timer work of the Engine loop
// with 1000 sessions armed.
func BenchmarkTimerQueueRearm(b *testing.B) {
	const sessions = 1000

	reg := bfd.NewRegistry(slog.New(slog.DiscardHandler))
	q := bfd.NewTimerQueue()
	base := time.Unix(1_700_000_000, 0)

	ids := make([]bfd.SessionID, 0, sessions)
	for i := range sessions {
		s, err := reg.Create(bfd.SessionConfig{
			PeerAddr:              netip.AddrFrom4([4]byte{10, 0, byte(i >> 8), byte(i)}),
			DesiredMinTxInterval:  100 * time.Millisecond,
			RequiredMinRxInterval: 100 * time.Millisecond,
			DetectMultiplier:      3,
		}, base)
		if err != nil {
			b.Fatal(err)
		}
		ids = append(ids, s.ID())
		q.Arm(s.ID(), bfd.TimerTransmit, base.Add(time.Duration(i)*time.Microsecond))
		q.Arm(s.ID(), bfd.TimerDetect, base.Add(300*time.Millisecond))
	}

	var expired []bfd.Expiry
	now := base

	b.ReportAllocs()
	i := 0
	for b.Loop() {
		id := ids[i%sessions]
		now = now.Add(time.Microsecond)
		q.Arm(id, bfd.TimerDetect, now.Add(300*time.Millisecond))
		expired = q.Expire(now, expired[:0])
		for _, e := range expired {
			q.Arm(e.ID, e.Kind, e.Deadline.Add(100*time.Millisecond))
		}
		i++
	}
}

// -------------------------------------------------------------------------
// Demultiplexing
// -------------------------------------------------------------------------

// BenchmarkRegistryDemux measures the Your Discriminator lookup among
// 1000 sessions.
func BenchmarkRegistryDemux(b *testing.B) {
	const sessions = 1000

	reg := bfd.NewRegistry(slog.New(slog.DiscardHandler))
	discrs := make([]uint32, 0, sessions)
	for i := range sessions {
		s, err := reg.Create(bfd.SessionConfig{
			PeerAddr:              netip.AddrFrom4([4]byte{10, 1, byte(i >> 8), byte(i)}),
			DesiredMinTxInterval:  time.Second,
			RequiredMinRxInterval: time.Second,
			DetectMultiplier:      3,
		}, time.Unix(0, 0))
		if err != nil {
			b.Fatal(err)
		}
		discrs = append(discrs, s.LocalDiscriminator())
	}

	src := netip.MustParseAddrPort("10.1.0.1:49152")
	var pkt bfd.ControlPacket

	b.ReportAllocs()
	i := 0
	for b.Loop() {
		pkt.YourDiscriminator = discrs[i%sessions]
		_, _ = reg.Demux(&pkt, src, bfd.DefaultPort)
		i++
	}
}
