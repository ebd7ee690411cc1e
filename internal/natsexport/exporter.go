// Package natsexport publishes BFD session state changes to NATS.
//
// Every state change becomes one JSON message on the subject
// "<prefix>.<local discriminator>", so consumers can follow one session
// or all of them with "<prefix>.>".
package natsexport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dantte-lp/bfdd/internal/bfd"
)

// subscriptionBuffer is the notifier channel capacity for the exporter.
const subscriptionBuffer = 256

// ErrEmptyPrefix indicates an exporter created without a subject prefix.
var ErrEmptyPrefix = errors.New("nats subject prefix is empty")

// Publisher sends one message. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// EventSource delivers session state changes. *bfd.Notifier satisfies it.
type EventSource interface {
	Subscribe(buffer int) (<-chan bfd.StateChange, func())
}

// Event is the JSON payload of one exported state change.
type Event struct {
	LocalDiscriminator uint32    `json:"local_discriminator"`
	PeerAddress        string    `json:"peer_address"`
	PeerPort           uint16    `json:"peer_port"`
	OldState           string    `json:"old_state"`
	NewState           string    `json:"new_state"`
	Diagnostic         string    `json:"diagnostic"`
	Timestamp          time.Time `json:"timestamp"`
}

// -------------------------------------------------------------------------
// Exporter
// -------------------------------------------------------------------------

// Exporter forwards notifier events to a Publisher.
type Exporter struct {
	pub    Publisher
	prefix string
	logger *slog.Logger
}

// New creates an Exporter publishing under prefix.
func New(pub Publisher, prefix string, logger *slog.Logger) (*Exporter, error) {
	if prefix == "" {
		return nil, ErrEmptyPrefix
	}
	return &Exporter{
		pub:    pub,
		prefix: prefix,
		logger: logger.With(slog.String("component", "natsexport")),
	}, nil
}

// Subject returns the subject a session's events are published on.
func (x *Exporter) Subject(localDiscr uint32) string {
	return x.prefix + "." + strconv.FormatUint(uint64(localDiscr), 10)
}

// Run subscribes to src and publishes every event until ctx is done.
// Publish failures are logged and the event is dropped; they never stop
// the exporter.
func (x *Exporter) Run(ctx context.Context, src EventSource) error {
	changes, cancel := src.Subscribe(subscriptionBuffer)
	defer cancel()

	x.logger.Info("exporting state changes", slog.String("subject", x.prefix+".>"))

	for {
		select {
		case <-ctx.Done():
			return nil
		case sc, ok := <-changes:
			if !ok {
				return nil
			}
			if err := x.export(sc); err != nil {
				x.logger.Warn("failed to export state change",
					slog.Uint64("local_discr", uint64(sc.LocalDiscr)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (x *Exporter) export(sc bfd.StateChange) error {
	data, err := json.Marshal(Event{
		LocalDiscriminator: sc.LocalDiscr,
		PeerAddress:        sc.PeerAddr.String(),
		PeerPort:           sc.PeerPort,
		OldState:           sc.OldState.String(),
		NewState:           sc.NewState.String(),
		Diagnostic:         sc.Diag.String(),
		Timestamp:          sc.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := x.Subject(sc.LocalDiscr)
	if err := x.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// -------------------------------------------------------------------------
// Connection
// -------------------------------------------------------------------------

// Connect dials the NATS server at url. The connection reconnects forever
// and logs disconnects and reconnects through logger.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	logger = logger.With(slog.String("component", "natsexport"))

	nc, err := nats.Connect(url,
		nats.Name("bfdd"),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrlRedacted()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return nc, nil
}
