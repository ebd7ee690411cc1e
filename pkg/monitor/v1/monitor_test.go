package monitorv1_test

import (
	"strings"
	"testing"
	"time"

	monitorv1 "github.com/dantte-lp/bfdd/pkg/monitor/v1"
)

func TestDurationText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		text string
	}{
		{in: 0, text: "0s"},
		{in: 150 * time.Millisecond, text: "150ms"},
		{in: 3300 * time.Microsecond, text: "3.3ms"},
		{in: time.Second, text: "1s"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()

			b, err := monitorv1.Duration(tt.in).MarshalText()
			if err != nil {
				t.Fatalf("MarshalText: %v", err)
			}
			if string(b) != tt.text {
				t.Errorf("MarshalText = %q, want %q", b, tt.text)
			}

			var d monitorv1.Duration
			if err := d.UnmarshalText(b); err != nil {
				t.Fatalf("UnmarshalText: %v", err)
			}
			if d.Std() != tt.in {
				t.Errorf("UnmarshalText = %v, want %v", d.Std(), tt.in)
			}
		})
	}
}

func TestDurationUnmarshalInvalid(t *testing.T) {
	t.Parallel()

	var d monitorv1.Duration
	if err := d.UnmarshalText([]byte("fast")); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestJSONCodec(t *testing.T) {
	t.Parallel()

	codec := monitorv1.JSONCodec{}
	if codec.Name() != "json" {
		t.Errorf("Name = %q, want json", codec.Name())
	}

	in := monitorv1.Session{
		LocalDiscriminator:   7,
		PeerAddress:          "192.0.2.1",
		State:                "Up",
		DesiredMinTxInterval: monitorv1.Duration(100 * time.Millisecond),
	}
	b, err := codec.Marshal(&in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(b), `"desired_min_tx_interval":"100ms"`) {
		t.Errorf("encoded session %s lacks duration string", b)
	}
	if strings.Contains(string(b), "last_packet_received") {
		t.Errorf("encoded session %s carries unset timestamp", b)
	}

	var out monitorv1.Session
	if err := codec.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.LocalDiscriminator != 7 || out.State != "Up" || out.DesiredMinTxInterval != in.DesiredMinTxInterval {
		t.Errorf("decoded %+v, want %+v", out, in)
	}
}

func TestJSONCodecEmptyBody(t *testing.T) {
	t.Parallel()

	var req monitorv1.GetSessionRequest
	if err := (monitorv1.JSONCodec{}).Unmarshal(nil, &req); err != nil {
		t.Fatalf("Unmarshal(nil): %v", err)
	}
	if req.LocalDiscriminator != 0 {
		t.Errorf("LocalDiscriminator = %d, want 0", req.LocalDiscriminator)
	}

	err := (monitorv1.JSONCodec{}).Unmarshal([]byte("{"), &req)
	if err == nil || !strings.Contains(err.Error(), "unmarshal") {
		t.Errorf("Unmarshal(malformed) = %v, want wrapped error", err)
	}
}
