// Package events publishes domain events (job lifecycle, settlements,
// audited admin actions) to the message bus. Publishing is best effort:
// the database is the source of truth and a lost event is never repaired.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects.
const (
	SubjectJobFinished     = "convert.jobs.finished"
	SubjectRefundCredited  = "convert.refunds.credited"
	SubjectPaymentCredited = "convert.payments.credited"
	SubjectAuditPrefix     = "convert.audit."
)

// Event is the envelope written to the bus.
type Event struct {
	Subject    string          `json:"subject"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// Publisher is what services depend on.
type Publisher interface {
	Publish(ctx context.Context, subject string, data any) error
}

// Bus publishes JSON envelopes on a NATS connection.
type Bus struct {
	nc  *nats.Conn
	now func() time.Time
}

func NewBus(nc *nats.Conn) *Bus {
	return &Bus{nc: nc, now: time.Now}
}

func (b *Bus) Publish(ctx context.Context, subject string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := encode(subject, data, b.now())
	if err != nil {
		return err
	}
	return b.nc.Publish(subject, body)
}

func encode(subject string, data any, at time.Time) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", subject, err)
	}
	return json.Marshal(Event{Subject: subject, OccurredAt: at.UTC(), Data: raw})
}

// Noop drops every event. Used when NATS_URL is empty.
type Noop struct{}

func (Noop) Publish(context.Context, string, any) error { return nil }

// Recorder keeps published events in memory for tests.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

func (r *Recorder) Publish(_ context.Context, subject string, data any) error {
	body, err := encode(subject, data, time.Now())
	if err != nil {
		return err
	}
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, e)
	return nil
}

// Subjects returns the subjects of the recorded events in order.
func (r *Recorder) Subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.Subject
	}
	return out
}
