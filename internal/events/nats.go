package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSMirror republishes recognition events to a NATS subject for sites
// whose downstream analytics consume NATS instead of Redis pub/sub.
// Enabled by the FEATURE_NATS_MIRROR flag.
type NATSMirror struct {
	conn       *nats.Conn
	subject    string
	maxRetries int
}

func NewNATSMirror(conn *nats.Conn, subject string, maxRetries int) *NATSMirror {
	return &NATSMirror{
		conn:       conn,
		subject:    subject,
		maxRetries: maxRetries,
	}
}

func (m *NATSMirror) Publish(ev *RecognitionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	for i := 0; i <= m.maxRetries; i++ {
		err = m.conn.Publish(m.subject, data)
		if err == nil {
			return nil
		}

		// Backoff
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}

	return fmt.Errorf("publish failed after %d retries: %w", m.maxRetries, err)
}
