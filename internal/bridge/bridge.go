package bridge

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/airspacelab/vectorsim/pkg/events"
	"github.com/airspacelab/vectorsim/pkg/messaging"
)

// Event types relayed out to NATS. Decision events stay local; they
// are high-rate and only feed the in-process analyzers.
var relayedTypes = []string{
	events.EnvReset,
	events.EnvStep,
	events.SafetyViolation,
	events.TrainingIteration,
	events.TrainingEpisodeStart,
	events.TrainingEpisodeEnd,
}

const publishTimeout = 2 * time.Second

// Bridge relays bus events to NATS and feeds inbound controller
// commands back onto the bus. A lost NATS connection degrades to
// dropped relays; the in-process pipeline is unaffected.
type Bridge struct {
	bus    *events.Bus
	client *messaging.Client
	source string

	mu      sync.Mutex
	subIDs  []uuid.UUID
	stopped bool

	relayed   int64
	dropped   int64
	commands  int64
	statsLock sync.Mutex
}

// Stats reports relay counters.
type Stats struct {
	Relayed  int64 `json:"relayed"`
	Dropped  int64 `json:"dropped"`
	Commands int64 `json:"commands"`
}

func New(bus *events.Bus, client *messaging.Client, source string) *Bridge {
	if source == "" {
		source = "vectorsim"
	}
	return &Bridge{
		bus:    bus,
		client: client,
		source: source,
	}
}

// Start wires the outbound relay and the inbound command subscription.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return nil
	}

	for _, t := range relayedTypes {
		b.subIDs = append(b.subIDs, b.bus.Subscribe(t, b.relay))
	}

	return b.client.Subscribe(messaging.SubjectCommands, b.handleCommand)
}

func (b *Bridge) relay(event events.Event) {
	env := &messaging.Envelope{
		ID:        event.ID,
		Type:      event.Type,
		Source:    b.source,
		Timestamp: event.Timestamp,
		Data:      event.Data,
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := b.client.Publish(ctx, messaging.EventSubject(event.Type), env); err != nil {
		b.statsLock.Lock()
		b.dropped++
		b.statsLock.Unlock()
		return
	}
	b.statsLock.Lock()
	b.relayed++
	b.statsLock.Unlock()
}

func (b *Bridge) handleCommand(msg *nats.Msg) {
	var env messaging.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		log.Printf("bridge: malformed command envelope: %v", err)
		return
	}

	cmd, err := messaging.ParseEnvelopeData[messaging.ControlCommand](&env)
	if err != nil {
		log.Printf("bridge: malformed command payload: %v", err)
		return
	}

	eventType := events.TrainingCommand
	if env.Type == "scenario" {
		eventType = events.ScenarioCommand
	}

	event, err := events.New(eventType, events.CommandPayload{
		Command: cmd.Command,
		Args:    cmd.Params,
	})
	if err != nil {
		log.Printf("bridge: encode command event: %v", err)
		return
	}

	b.bus.PublishAsync(event)
	b.statsLock.Lock()
	b.commands++
	b.statsLock.Unlock()
}

// Stats returns relay counters.
func (b *Bridge) Stats() Stats {
	b.statsLock.Lock()
	defer b.statsLock.Unlock()
	return Stats{Relayed: b.relayed, Dropped: b.dropped, Commands: b.commands}
}

// Stop detaches from the bus and NATS. Safe to call more than once.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true

	for _, id := range b.subIDs {
		b.bus.Unsubscribe(id)
	}
	b.subIDs = nil

	if err := b.client.Unsubscribe(messaging.SubjectCommands); err != nil {
		log.Printf("bridge: unsubscribe commands: %v", err)
	}
}
