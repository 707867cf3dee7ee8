package processor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/dcbrun/dcb/internal/store"
)

// NATSSink republishes each dispatched event to a NATS subject derived
// from its type, for services that want to react to this log without
// talking to Postgres directly. Grounded on the NATS bus retrieved for
// this domain (internal/events/nats.go), stripped of its JetStream
// consumer/subscribe half: a dispatch sink only ever publishes.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSSink(conn *nats.Conn, subjectPrefix string) *NATSSink {
	return &NATSSink{conn: conn, prefix: subjectPrefix}
}

type natsEventPayload struct {
	Type       string   `json:"type"`
	Tags       []string `json:"tags"`
	Data       []byte   `json:"data"`
	Position   int64    `json:"position"`
	OccurredAt string   `json:"occurred_at"`
}

func (s *NATSSink) Dispatch(ctx context.Context, events []store.Event) error {
	for _, e := range events {
		if err := ctx.Err(); err != nil {
			return err
		}

		tags := make([]string, len(e.Tags))
		for i, t := range e.Tags {
			tags[i] = t.Key() + "=" + t.Value()
		}
		payload, err := json.Marshal(natsEventPayload{
			Type:       e.Type,
			Tags:       tags,
			Data:       e.Data,
			Position:   e.Position,
			OccurredAt: e.OccurredAt.Format("2006-01-02T15:04:05.000Z07:00"),
		})
		if err != nil {
			return fmt.Errorf("processor: marshaling event for NATS: %w", err)
		}

		subject := s.prefix + "." + e.Type
		if err := s.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("processor: publishing to %s: %w", subject, err)
		}
	}
	return nil
}
