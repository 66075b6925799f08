package messaging

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Subject layout for the relay. Simulation telemetry fans out on
// tower.events.<type>; external controllers send commands on
// tower.commands.
const (
	SubjectEventPrefix = "tower.events."
	SubjectCommands    = "tower.commands"
)

// Envelope is the wire form of a relayed event.
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventSubject maps an event type to its NATS subject. Dots in the
// type become token separators, so "safety.violation" publishes on
// "tower.events.safety.violation".
func EventSubject(eventType string) string {
	return SubjectEventPrefix + eventType
}

// TypeFromSubject recovers the event type from a relay subject.
func TypeFromSubject(subject string) (string, error) {
	if !strings.HasPrefix(subject, SubjectEventPrefix) {
		return "", fmt.Errorf("subject %q is not a relay subject", subject)
	}
	return strings.TrimPrefix(subject, SubjectEventPrefix), nil
}

// NewEnvelope wraps a payload for transport.
func NewEnvelope(eventType, source string, data interface{}) (*Envelope, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		ID:        uuid.New(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now(),
		Data:      dataBytes,
	}, nil
}

// ParseEnvelopeData decodes an envelope payload into the given type.
func ParseEnvelopeData[T any](env *Envelope) (*T, error) {
	var data T
	if len(env.Data) == 0 {
		return &data, nil
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// ControlCommand is an inbound command from an external controller.
type ControlCommand struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}
