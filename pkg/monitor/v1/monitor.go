// Package monitorv1 defines the messages of the bfdd.monitor.v1 service.
//
// Messages are plain Go structs carried as JSON. Durations are encoded as
// Go duration strings ("150ms") and timestamps as RFC 3339.
package monitorv1

import (
	"encoding/json"
	"fmt"
	"time"
)

// ServiceName is the fully-qualified name of the monitor service.
const ServiceName = "bfdd.monitor.v1.MonitorService"

// Duration is a time.Duration that encodes as a duration string.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// -------------------------------------------------------------------------
// Session
// -------------------------------------------------------------------------

// Session is a point-in-time view of one BFD session.
type Session struct {
	LocalDiscriminator  uint32 `json:"local_discriminator"`
	RemoteDiscriminator uint32 `json:"remote_discriminator"`
	PeerAddress         string `json:"peer_address"`
	PeerPort            uint16 `json:"peer_port"`
	LocalPort           uint16 `json:"local_port"`

	State           string `json:"state"`
	RemoteState     string `json:"remote_state"`
	LocalDiagnostic string `json:"local_diagnostic"`

	DesiredMinTxInterval       Duration `json:"desired_min_tx_interval"`
	RequiredMinRxInterval      Duration `json:"required_min_rx_interval"`
	DetectMultiplier           uint8    `json:"detect_multiplier"`
	RemoteMinRxInterval        Duration `json:"remote_min_rx_interval"`
	RemoteDesiredMinTxInterval Duration `json:"remote_desired_min_tx_interval"`
	RemoteDetectMultiplier     uint8    `json:"remote_detect_multiplier"`
	NegotiatedTxInterval       Duration `json:"negotiated_tx_interval"`
	DetectionTime              Duration `json:"detection_time"`

	DemandMode       bool `json:"demand_mode"`
	DemandModeActive bool `json:"demand_mode_active"`
	RemoteDemandMode bool `json:"remote_demand_mode"`
	PollInProgress   bool `json:"poll_in_progress"`

	CreatedAt          time.Time  `json:"created_at"`
	LastPacketReceived *time.Time `json:"last_packet_received,omitempty"`
	LastStateChange    *time.Time `json:"last_state_change,omitempty"`

	Counters SessionCounters `json:"counters"`
}

// SessionCounters holds per-session packet and transition counters.
type SessionCounters struct {
	PacketsSent      uint64 `json:"packets_sent"`
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsDropped   uint64 `json:"packets_dropped"`
	SendErrors       uint64 `json:"send_errors"`
	StateTransitions uint64 `json:"state_transitions"`
	PollsCompleted   uint64 `json:"polls_completed"`
}

// -------------------------------------------------------------------------
// Requests and responses
// -------------------------------------------------------------------------

// ListSessionsRequest is the ListSessions input.
type ListSessionsRequest struct{}

// ListSessionsResponse carries every session ordered by local discriminator.
type ListSessionsResponse struct {
	Sessions []Session `json:"sessions"`
}

// GetSessionRequest selects one session.
type GetSessionRequest struct {
	LocalDiscriminator uint32 `json:"local_discriminator"`
}

// GetSessionResponse carries the selected session.
type GetSessionResponse struct {
	Session Session `json:"session"`
}

// ForcePollRequest starts a Poll Sequence on one session.
type ForcePollRequest struct {
	LocalDiscriminator uint32 `json:"local_discriminator"`
}

// ForcePollResponse is empty.
type ForcePollResponse struct{}

// SetAdminDownRequest moves a session into or out of AdminDown.
type SetAdminDownRequest struct {
	LocalDiscriminator uint32 `json:"local_discriminator"`
	AdminDown          bool   `json:"admin_down"`
}

// SetAdminDownResponse carries the session after the change.
type SetAdminDownResponse struct {
	Session Session `json:"session"`
}

// WatchSessionEventsRequest opens the event stream. With IncludeCurrent
// the stream starts with one SNAPSHOT event per existing session.
type WatchSessionEventsRequest struct {
	IncludeCurrent bool `json:"include_current"`
}

// EventType classifies a streamed session event.
type EventType string

// Event types.
const (
	EventSnapshot    EventType = "SNAPSHOT"
	EventStateChange EventType = "STATE_CHANGE"
)

// SessionEvent is one message of the WatchSessionEvents stream.
type SessionEvent struct {
	Type               EventType `json:"type"`
	LocalDiscriminator uint32    `json:"local_discriminator"`
	PeerAddress        string    `json:"peer_address"`
	PeerPort           uint16    `json:"peer_port"`
	OldState           string    `json:"old_state,omitempty"`
	NewState           string    `json:"new_state"`
	Diagnostic         string    `json:"diagnostic"`
	Timestamp          time.Time `json:"timestamp"`

	// Session is set on SNAPSHOT events.
	Session *Session `json:"session,omitempty"`
}

// -------------------------------------------------------------------------
// Codec
// -------------------------------------------------------------------------

// JSONCodec is the connect codec for these messages. It registers under
// the name "json", replacing the protobuf JSON codec, because the messages
// are not protobuf types.
type JSONCodec struct{}

// Name implements connect.Codec.
func (JSONCodec) Name() string { return "json" }

// Marshal implements connect.Codec.
func (JSONCodec) Marshal(msg any) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", msg, err)
	}
	return b, nil
}

// Unmarshal implements connect.Codec. An empty body decodes to the zero
// message.
func (JSONCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("unmarshal %T: %w", msg, err)
	}
	return nil
}
