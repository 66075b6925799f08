package events

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler receives events for a subscription. Handlers run on bus
// worker goroutines; a panicking or slow handler never affects other
// subscribers or the publisher.
type Handler func(Event)

// Filter vetoes delivery of an event when it returns false.
type Filter func(Event) bool

// BusConfig configures a Bus.
type BusConfig struct {
	MaxHistory         int // bounded event history, default 1000
	RateLimitPerSecond int // events accepted per one-second window, default 1000
	Workers            int // fan-out worker pool size, default 4
	QueueSize          int // pending delivery queue, default 1024
}

// Bus is a thread-safe publish/subscribe hub with bounded history,
// per-second load shedding, and per-subscriber failure isolation.
// Publishes are accepted from any goroutine; fan-out happens on a
// bounded worker pool so a slow subscriber cannot block publishers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[uuid.UUID]Handler
	subTypes    map[uuid.UUID]string
	filters     map[string]Filter
	history     []Event
	maxHistory  int

	rateLimit   int
	rateCount   int
	windowStart time.Time

	tasks    chan func()
	stop     chan struct{}
	wg       sync.WaitGroup
	running  bool
	shutdown sync.Once
}

// NewBus creates and starts an event bus.
func NewBus(cfg BusConfig) *Bus {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 1000
	}
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}

	b := &Bus{
		subscribers: make(map[string]map[uuid.UUID]Handler),
		subTypes:    make(map[uuid.UUID]string),
		filters:     make(map[string]Filter),
		maxHistory:  cfg.MaxHistory,
		rateLimit:   cfg.RateLimitPerSecond,
		windowStart: time.Now(),
		tasks:       make(chan func(), cfg.QueueSize),
		stop:        make(chan struct{}),
		running:     true,
	}

	for i := 0; i < cfg.Workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}

	return b
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case task := <-b.tasks:
			task()
		case <-b.stop:
			// Drain what is already queued, then exit.
			for {
				select {
				case task := <-b.tasks:
					task()
				default:
					return
				}
			}
		}
	}
}

// Subscribe registers a handler for an event type and returns the
// subscription id used to unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) uuid.UUID {
	id := uuid.New()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[eventType] == nil {
		b.subscribers[eventType] = make(map[uuid.UUID]Handler)
	}
	b.subscribers[eventType][id] = handler
	b.subTypes[id] = eventType

	return id
}

// Unsubscribe removes a subscription. Returns false if the id is
// unknown.
func (b *Bus) Unsubscribe(id uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	eventType, ok := b.subTypes[id]
	if !ok {
		return false
	}
	delete(b.subTypes, id)
	delete(b.subscribers[eventType], id)
	if len(b.subscribers[eventType]) == 0 {
		delete(b.subscribers, eventType)
	}
	return true
}

// Publish delivers an event to all subscribers registered for its type
// at publish time. Delivery is handed to the worker pool; publishers
// must treat it as fire-and-forget. Events beyond the per-second quota
// are silently dropped in favor of recency.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}

	if !b.allowLocked() {
		b.mu.Unlock()
		return
	}

	for _, filter := range b.filters {
		if !safeFilter(filter, event) {
			b.mu.Unlock()
			return
		}
	}

	b.history = append(b.history, event)
	if len(b.history) > b.maxHistory {
		b.history = b.history[len(b.history)-b.maxHistory:]
	}

	handlers := make([]Handler, 0, 4)
	for _, h := range b.subscribers[event.Type] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h := h
		b.submit(func() { safeInvoke(h, event) })
	}
}

// PublishAsync hands the whole publish off to the worker pool and
// returns immediately. No ordering is guaranteed between async
// publishes from different goroutines.
func (b *Bus) PublishAsync(event Event) {
	b.mu.RLock()
	running := b.running
	b.mu.RUnlock()
	if !running {
		return
	}
	b.submit(func() { b.Publish(event) })
}

func (b *Bus) submit(task func()) {
	select {
	case b.tasks <- task:
	default:
		// Queue saturated; shed rather than block the publisher.
	}
}

// AddFilter installs a named filter that can veto delivery before an
// event reaches history or any subscriber.
func (b *Bus) AddFilter(name string, filter Filter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filters[name] = filter
}

// RemoveFilter removes a named filter. Returns false if absent.
func (b *Bus) RemoveFilter(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.filters[name]; !ok {
		return false
	}
	delete(b.filters, name)
	return true
}

// History returns recent events, optionally filtered by type and
// limited to the most recent n (0 means no limit).
func (b *Bus) History(eventType string, limit int) []Event {
	b.mu.RLock()
	events := make([]Event, len(b.history))
	copy(events, b.history)
	b.mu.RUnlock()

	if eventType != "" {
		filtered := events[:0]
		for _, e := range events {
			if e.Type == eventType {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events
}

// SubscriberCount returns the number of subscriptions for a type, or
// the total when eventType is empty.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if eventType != "" {
		return len(b.subscribers[eventType])
	}
	total := 0
	for _, subs := range b.subscribers {
		total += len(subs)
	}
	return total
}

// Shutdown stops the workers and clears all subscriptions, filters,
// and history. Safe to call multiple times.
func (b *Bus) Shutdown() {
	b.shutdown.Do(func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()

		close(b.stop)
		b.wg.Wait()

		b.mu.Lock()
		b.subscribers = make(map[string]map[uuid.UUID]Handler)
		b.subTypes = make(map[uuid.UUID]string)
		b.filters = make(map[string]Filter)
		b.history = nil
		b.mu.Unlock()
	})
}

// allowLocked enforces the coarse one-second reset window. Caller
// holds b.mu.
func (b *Bus) allowLocked() bool {
	now := time.Now()
	if now.Sub(b.windowStart) >= time.Second {
		b.rateCount = 0
		b.windowStart = now
	}
	if b.rateCount >= b.rateLimit {
		return false
	}
	b.rateCount++
	return true
}

func safeInvoke(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("events: subscriber panic on %s: %v", event.Type, r)
		}
	}()
	h(event)
}

func safeFilter(f Filter, event Event) (allowed bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("events: filter panic on %s: %v", event.Type, r)
			// A failing filter does not veto delivery.
			allowed = true
		}
	}()
	return f(event)
}
