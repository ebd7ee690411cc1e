package bfd

import "net/netip"

// Drop reasons reported through MetricsReporter.IncPacketsDropped.
const (
	DropMalformed             = "malformed"
	DropTTL                   = "ttl"
	DropDiscriminatorMismatch = "discriminator_mismatch"
	DropNoSession             = "no_session"
	DropRejected              = "rejected"
	DropAdminDown             = "admin_down"
)

// MetricsReporter receives engine events for export. The Engine calls it
// only from its loop goroutine; implementations must not block.
type MetricsReporter interface {
	RegisterSession(peer netip.Addr, localPort uint16)
	UnregisterSession(peer netip.Addr, localPort uint16)
	IncPacketsSent(peer netip.Addr)
	IncPacketsReceived(peer netip.Addr)
	IncPacketsDropped(reason string)
	IncSendErrors(peer netip.Addr)
	RecordStateTransition(peer netip.Addr, from, to string)
	IncPollSequences(peer netip.Addr)
}

type noopMetrics struct{}

func (noopMetrics) RegisterSession(netip.Addr, uint16) {}
func (noopMetrics) UnregisterSession(netip.Addr, uint16) {}
func (noopMetrics) IncPacketsSent(netip.Addr) {}
func (noopMetrics) IncPacketsReceived(netip.Addr) {}
func (noopMetrics) IncPacketsDropped(string) {}
func (noopMetrics) IncSendErrors(netip.Addr) {}
func (noopMetrics) RecordStateTransition(netip.Addr, string, string) {}
func (noopMetrics) IncPollSequences(netip.Addr) {}
