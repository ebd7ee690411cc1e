// Package bfdmetrics exports BFD engine events as Prometheus metrics.
package bfdmetrics

import (
	"net/netip"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dantte-lp/bfdd/internal/bfd"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "bfdd"
	subsystem = "bfd"
)

// Label names for BFD metrics.
const (
	labelPeerAddr  = "peer_addr"
	labelLocalPort = "local_port"
	labelReason    = "reason"
	labelFromState = "from_state"
	labelToState   = "to_state"
)

// -------------------------------------------------------------------------
// Collector — Prometheus BFD Metrics
// -------------------------------------------------------------------------

// Collector holds all BFD Prometheus metrics and implements
// bfd.MetricsReporter.
//
// Metrics are designed for production monitoring:
//   - Session gauges track currently registered sessions.
//   - Packet counters track TX/RX volumes per peer.
//   - Drop counters are labeled by reason, since most drops happen before
//     a packet is matched to a session.
//   - State transition counters record FSM changes for alerting.
type Collector struct {
	// Sessions tracks the number of registered BFD sessions.
	// Incremented on registration, decremented on deregistration.
	Sessions *prometheus.GaugeVec

	// PacketsSent counts the BFD Control packets transmitted per peer.
	PacketsSent *prometheus.CounterVec

	// PacketsReceived counts the BFD Control packets accepted per peer.
	PacketsReceived *prometheus.CounterVec

	// PacketsDropped counts discarded BFD Control packets per reason.
	PacketsDropped *prometheus.CounterVec

	// SendErrors counts failed transmissions per peer.
	SendErrors *prometheus.CounterVec

	// StateTransitions counts FSM state transitions. Each counter is labeled
	// with the old state and new state for precise alerting (e.g., Up->Down).
	StateTransitions *prometheus.CounterVec

	// PollSequences counts completed Poll Sequences per peer.
	PollSequences *prometheus.CounterVec
}

var _ bfd.MetricsReporter = (*Collector)(nil)

// NewCollector creates a Collector with all BFD metrics registered against
// the provided prometheus.Registerer. If reg is nil, prometheus.DefaultRegisterer
// is used.
//
// All metrics are created with the "bfdd_bfd_" prefix (namespace_subsystem)
// to avoid collisions with other exporters.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Sessions,
		c.PacketsSent,
		c.PacketsReceived,
		c.PacketsDropped,
		c.SendErrors,
		c.StateTransitions,
		c.PollSequences,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	peerLabels := []string{labelPeerAddr}

	return &Collector{
		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions",
			Help:      "Number of registered BFD sessions.",
		}, []string{labelPeerAddr, labelLocalPort}),

		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_sent_total",
			Help:      "Total BFD Control packets transmitted.",
		}, peerLabels),

		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_received_total",
			Help:      "Total BFD Control packets accepted by a session.",
		}, peerLabels),

		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_dropped_total",
			Help:      "Total BFD Control packets discarded, by reason.",
		}, []string{labelReason}),

		SendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "send_errors_total",
			Help:      "Total BFD Control packet transmissions that failed.",
		}, peerLabels),

		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_transitions_total",
			Help:      "Total BFD session FSM state transitions.",
		}, []string{labelPeerAddr, labelFromState, labelToState}),

		PollSequences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "poll_sequences_total",
			Help:      "Total completed BFD Poll Sequences (RFC 5880 Section 6.5).",
		}, peerLabels),
	}
}

// -------------------------------------------------------------------------
// Session Lifecycle
// -------------------------------------------------------------------------

// RegisterSession increments the sessions gauge for the given peer.
func (c *Collector) RegisterSession(peer netip.Addr, localPort uint16) {
	c.Sessions.WithLabelValues(peer.String(), strconv.Itoa(int(localPort))).Inc()
}

// UnregisterSession decrements the sessions gauge for the given peer.
func (c *Collector) UnregisterSession(peer netip.Addr, localPort uint16) {
	c.Sessions.WithLabelValues(peer.String(), strconv.Itoa(int(localPort))).Dec()
}

// -------------------------------------------------------------------------
// Packet Counters
// -------------------------------------------------------------------------

// IncPacketsSent increments the transmitted packets counter for the given peer.
func (c *Collector) IncPacketsSent(peer netip.Addr) {
	c.PacketsSent.WithLabelValues(peer.String()).Inc()
}

// IncPacketsReceived increments the received packets counter for the given peer.
func (c *Collector) IncPacketsReceived(peer netip.Addr) {
	c.PacketsReceived.WithLabelValues(peer.String()).Inc()
}

// IncPacketsDropped increments the dropped packets counter for reason.
func (c *Collector) IncPacketsDropped(reason string) {
	c.PacketsDropped.WithLabelValues(reason).Inc()
}

// IncSendErrors increments the send failure counter for the given peer.
func (c *Collector) IncSendErrors(peer netip.Addr) {
	c.SendErrors.WithLabelValues(peer.String()).Inc()
}

// -------------------------------------------------------------------------
// State Transitions and Polls
// -------------------------------------------------------------------------

// RecordStateTransition increments the state transition counter with the
// old and new state labels. Used for alerting on session flaps.
func (c *Collector) RecordStateTransition(peer netip.Addr, from, to string) {
	c.StateTransitions.WithLabelValues(peer.String(), from, to).Inc()
}

// IncPollSequences increments the completed poll counter for the given peer.
func (c *Collector) IncPollSequences(peer netip.Addr) {
	c.PollSequences.WithLabelValues(peer.String()).Inc()
}
