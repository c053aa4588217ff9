package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"
)

// NATSSink forwards bus events to a NATS subject per generation so external
// consumers (dashboards, metrics pipelines) can subscribe without touching
// the orchestrator process. Events flow one way; nothing is consumed back.
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

// NewNATSSink connects to the NATS server at url. subjectPrefix defaults to
// "appforge.generation".
func NewNATSSink(url, subjectPrefix string) (*NATSSink, error) {
	if subjectPrefix == "" {
		subjectPrefix = "appforge.generation"
	}
	conn, err := nats.Connect(url, nats.Name("appforge-events"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSSink{conn: conn, subject: subjectPrefix}, nil
}

// Run drains the subscription until it closes or ctx is cancelled. Publish
// failures are logged and dropped; the sink never propagates backpressure to
// the engine.
func (s *NATSSink) Run(ctx context.Context, sub <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("events: failed to marshal %s: %v", ev.EventType(), err)
				continue
			}
			subject := fmt.Sprintf("%s.%s", s.subject, ev.Generation())
			if err := s.conn.Publish(subject, data); err != nil {
				log.Printf("events: failed to publish %s: %v", ev.EventType(), err)
			}
		}
	}
}

// Close flushes and closes the connection.
func (s *NATSSink) Close() {
	if err := s.conn.Flush(); err != nil {
		log.Printf("events: flush on close: %v", err)
	}
	s.conn.Close()
}
