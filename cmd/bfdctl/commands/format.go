// Package commands implements the bfdctl CLI commands.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	monitorv1 "github.com/dantte-lp/bfdd/pkg/monitor/v1"
)

const (
	formatJSON  = "json"
	formatTable = "table"
	formatYAML  = "yaml"
	valueNA     = "N/A"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

func checkFormat(format string) error {
	switch format {
	case formatJSON, formatTable, formatYAML:
		return nil
	default:
		return fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatSessions renders a slice of BFD sessions in the requested format.
func formatSessions(sessions []monitorv1.Session, format string) (string, error) {
	if format == formatTable {
		return formatSessionsTable(sessions)
	}
	return marshal(sessionsToView(sessions), format)
}

// formatSession renders a single BFD session in the requested format.
func formatSession(s *monitorv1.Session, format string) (string, error) {
	if format == formatTable {
		return formatSessionDetail(s)
	}
	return marshal(sessionToView(s), format)
}

// formatEvent renders a session event in the requested format. JSON
// events are compact, one per line.
func formatEvent(ev *monitorv1.SessionEvent, format string) (string, error) {
	switch format {
	case formatTable:
		return formatEventTable(ev), nil
	case formatJSON:
		data, err := json.Marshal(eventToView(ev))
		if err != nil {
			return "", fmt.Errorf("marshal event to JSON: %w", err)
		}
		return string(data) + "\n", nil
	default:
		out, err := marshal(eventToView(ev), format)
		if err != nil {
			return "", err
		}
		return "---\n" + out, nil
	}
}

// marshal renders v as indented JSON or YAML.
func marshal(v any, format string) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal to JSON: %w", err)
		}
		return string(data) + "\n", nil
	case formatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("marshal to YAML: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// --- Table formatters ---

func formatSessionsTable(sessions []monitorv1.Session) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DISCRIMINATOR\tPEER\tLOCAL-PORT\tSTATE\tREMOTE-STATE\tDIAG\tTX\tDETECT\tLAST-RX")

	for i := range sessions {
		s := &sessions[i]
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.LocalDiscriminator,
			peerString(s.PeerAddress, s.PeerPort),
			s.LocalPort,
			s.State,
			s.RemoteState,
			s.LocalDiagnostic,
			s.NegotiatedTxInterval.Std(),
			s.DetectionTime.Std(),
			formatTimePtr(s.LastPacketReceived),
		)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func formatSessionDetail(s *monitorv1.Session) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Peer:\t%s\n", peerString(s.PeerAddress, s.PeerPort))
	fmt.Fprintf(w, "Local Port:\t%d\n", s.LocalPort)
	fmt.Fprintf(w, "Local State:\t%s\n", s.State)
	fmt.Fprintf(w, "Remote State:\t%s\n", s.RemoteState)
	fmt.Fprintf(w, "Local Diagnostic:\t%s\n", s.LocalDiagnostic)
	fmt.Fprintf(w, "Local Discriminator:\t%d\n", s.LocalDiscriminator)
	fmt.Fprintf(w, "Remote Discriminator:\t%d\n", s.RemoteDiscriminator)
	fmt.Fprintf(w, "Detect Multiplier:\t%d\n", s.DetectMultiplier)
	fmt.Fprintf(w, "Remote Detect Multiplier:\t%d\n", s.RemoteDetectMultiplier)
	fmt.Fprintf(w, "Desired Min TX:\t%s\n", s.DesiredMinTxInterval.Std())
	fmt.Fprintf(w, "Required Min RX:\t%s\n", s.RequiredMinRxInterval.Std())
	fmt.Fprintf(w, "Remote Desired Min TX:\t%s\n", s.RemoteDesiredMinTxInterval.Std())
	fmt.Fprintf(w, "Remote Min RX:\t%s\n", s.RemoteMinRxInterval.Std())
	fmt.Fprintf(w, "Negotiated TX:\t%s\n", s.NegotiatedTxInterval.Std())
	fmt.Fprintf(w, "Detection Time:\t%s\n", s.DetectionTime.Std())
	fmt.Fprintf(w, "Demand Mode:\t%s\n", demandString(s))
	fmt.Fprintf(w, "Poll In Progress:\t%t\n", s.PollInProgress)
	fmt.Fprintf(w, "Created:\t%s\n", s.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Last State Change:\t%s\n", formatTimePtr(s.LastStateChange))
	fmt.Fprintf(w, "Last Packet Received:\t%s\n", formatTimePtr(s.LastPacketReceived))

	c := s.Counters
	fmt.Fprintf(w, "Packets Sent:\t%d\n", c.PacketsSent)
	fmt.Fprintf(w, "Packets Received:\t%d\n", c.PacketsReceived)
	fmt.Fprintf(w, "Packets Dropped:\t%d\n", c.PacketsDropped)
	fmt.Fprintf(w, "Send Errors:\t%d\n", c.SendErrors)
	fmt.Fprintf(w, "State Transitions:\t%d\n", c.StateTransitions)
	fmt.Fprintf(w, "Polls Completed:\t%d\n", c.PollsCompleted)

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func formatEventTable(ev *monitorv1.SessionEvent) string {
	ts := valueNA
	if !ev.Timestamp.IsZero() {
		ts = ev.Timestamp.Format(time.RFC3339)
	}

	transition := ev.NewState
	if ev.OldState != "" {
		transition = ev.OldState + " -> " + ev.NewState
	}

	return fmt.Sprintf("[%s] %s  discr=%d  peer=%s  state=%s  diag=%s\n",
		ts,
		shortEventType(ev.Type),
		ev.LocalDiscriminator,
		peerString(ev.PeerAddress, ev.PeerPort),
		transition,
		ev.Diagnostic,
	)
}

// --- View types (shared by JSON and YAML) ---

type sessionView struct {
	LocalDiscriminator  uint32 `json:"local_discriminator"  yaml:"local_discriminator"`
	RemoteDiscriminator uint32 `json:"remote_discriminator" yaml:"remote_discriminator"`
	PeerAddress         string `json:"peer_address"         yaml:"peer_address"`
	PeerPort            uint16 `json:"peer_port"            yaml:"peer_port"`
	LocalPort           uint16 `json:"local_port"           yaml:"local_port"`
	State               string `json:"state"                yaml:"state"`
	RemoteState         string `json:"remote_state"         yaml:"remote_state"`
	LocalDiagnostic     string `json:"local_diagnostic"     yaml:"local_diagnostic"`
	DetectMultiplier    uint8  `json:"detect_multiplier"    yaml:"detect_multiplier"`
	DesiredMinTx        string `json:"desired_min_tx"       yaml:"desired_min_tx"`
	RequiredMinRx       string `json:"required_min_rx"      yaml:"required_min_rx"`
	RemoteMinRx         string `json:"remote_min_rx"        yaml:"remote_min_rx"`
	NegotiatedTx        string `json:"negotiated_tx"        yaml:"negotiated_tx"`
	DetectionTime       string `json:"detection_time"       yaml:"detection_time"`
	DemandMode          bool   `json:"demand_mode"          yaml:"demand_mode"`
	DemandModeActive    bool   `json:"demand_mode_active"   yaml:"demand_mode_active"`
	PollInProgress      bool   `json:"poll_in_progress"     yaml:"poll_in_progress"`
	LastStateChange     string `json:"last_state_change,omitempty"    yaml:"last_state_change,omitempty"`
	LastPacketReceived  string `json:"last_packet_received,omitempty" yaml:"last_packet_received,omitempty"`

	Counters countersView `json:"counters" yaml:"counters"`
}

type countersView struct {
	PacketsSent      uint64 `json:"packets_sent"      yaml:"packets_sent"`
	PacketsReceived  uint64 `json:"packets_received"  yaml:"packets_received"`
	PacketsDropped   uint64 `json:"packets_dropped"   yaml:"packets_dropped"`
	SendErrors       uint64 `json:"send_errors"       yaml:"send_errors"`
	StateTransitions uint64 `json:"state_transitions" yaml:"state_transitions"`
	PollsCompleted   uint64 `json:"polls_completed"   yaml:"polls_completed"`
}

type eventView struct {
	EventType          string       `json:"event_type"          yaml:"event_type"`
	Timestamp          string       `json:"timestamp"           yaml:"timestamp"`
	LocalDiscriminator uint32       `json:"local_discriminator" yaml:"local_discriminator"`
	PeerAddress        string       `json:"peer_address"        yaml:"peer_address"`
	OldState           string       `json:"old_state,omitempty" yaml:"old_state,omitempty"`
	NewState           string       `json:"new_state"           yaml:"new_state"`
	Diagnostic         string       `json:"diagnostic"          yaml:"diagnostic"`
	Session            *sessionView `json:"session,omitempty"   yaml:"session,omitempty"`
}

func sessionToView(s *monitorv1.Session) *sessionView {
	return &sessionView{
		LocalDiscriminator:  s.LocalDiscriminator,
		RemoteDiscriminator: s.RemoteDiscriminator,
		PeerAddress:         s.PeerAddress,
		PeerPort:            s.PeerPort,
		LocalPort:           s.LocalPort,
		State:               s.State,
		RemoteState:         s.RemoteState,
		LocalDiagnostic:     s.LocalDiagnostic,
		DetectMultiplier:    s.DetectMultiplier,
		DesiredMinTx:        s.DesiredMinTxInterval.Std().String(),
		RequiredMinRx:       s.RequiredMinRxInterval.Std().String(),
		RemoteMinRx:         s.RemoteMinRxInterval.Std().String(),
		NegotiatedTx:        s.NegotiatedTxInterval.Std().String(),
		DetectionTime:       s.DetectionTime.Std().String(),
		DemandMode:          s.DemandMode,
		DemandModeActive:    s.DemandModeActive,
		PollInProgress:      s.PollInProgress,
		LastStateChange:     optionalTime(s.LastStateChange),
		LastPacketReceived:  optionalTime(s.LastPacketReceived),
		Counters:            countersView(s.Counters),
	}
}

func sessionsToView(sessions []monitorv1.Session) []*sessionView {
	views := make([]*sessionView, 0, len(sessions))
	for i := range sessions {
		views = append(views, sessionToView(&sessions[i]))
	}

	return views
}

func eventToView(ev *monitorv1.SessionEvent) *eventView {
	v := &eventView{
		EventType:          shortEventType(ev.Type),
		LocalDiscriminator: ev.LocalDiscriminator,
		PeerAddress:        ev.PeerAddress,
		OldState:           ev.OldState,
		NewState:           ev.NewState,
		Diagnostic:         ev.Diagnostic,
	}

	if !ev.Timestamp.IsZero() {
		v.Timestamp = ev.Timestamp.Format(time.RFC3339Nano)
	}
	if ev.Session != nil {
		v.Session = sessionToView(ev.Session)
	}

	return v
}

// --- Helpers ---

func shortEventType(t monitorv1.EventType) string {
	switch t {
	case monitorv1.EventSnapshot:
		return "Snapshot"
	case monitorv1.EventStateChange:
		return "StateChange"
	default:
		return "Unknown"
	}
}

func peerString(addr string, port uint16) string {
	if port == 0 {
		return addr
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

func demandString(s *monitorv1.Session) string {
	switch {
	case s.DemandModeActive:
		return "active"
	case s.DemandMode:
		return "requested"
	default:
		return "off"
	}
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return valueNA
	}
	return t.Format(time.RFC3339)
}

func optionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}
