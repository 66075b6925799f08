package events

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEvent(t *testing.T, eventType string, payload any) Event {
	t.Helper()
	e, err := New(eventType, payload)
	require.NoError(t, err)
	return e
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestSubscribePublish(t *testing.T) {
	t.Run("should deliver to matching subscribers", func(t *testing.T) {
		bus := NewBus(BusConfig{})
		defer bus.Shutdown()

		var count int64
		bus.Subscribe(EnvStep, func(Event) { atomic.AddInt64(&count, 1) })
		bus.Subscribe(EnvReset, func(Event) { atomic.AddInt64(&count, 100) })

		bus.Publish(mustEvent(t, EnvStep, StepPayload{Reward: 1.0}))

		waitFor(t, func() bool { return atomic.LoadInt64(&count) == 1 })
	})

	t.Run("should fan out to every subscriber of the type", func(t *testing.T) {
		bus := NewBus(BusConfig{})
		defer bus.Shutdown()

		var count int64
		for i := 0; i < 5; i++ {
			bus.Subscribe(SafetyViolation, func(Event) { atomic.AddInt64(&count, 1) })
		}

		bus.Publish(mustEvent(t, SafetyViolation, ViolationPayload{}))

		waitFor(t, func() bool { return atomic.LoadInt64(&count) == 5 })
	})

	t.Run("should stop delivery after unsubscribe", func(t *testing.T) {
		bus := NewBus(BusConfig{})
		defer bus.Shutdown()

		var count int64
		id := bus.Subscribe(EnvStep, func(Event) { atomic.AddInt64(&count, 1) })
		require.True(t, bus.Unsubscribe(id))
		assert.False(t, bus.Unsubscribe(id))

		bus.Publish(mustEvent(t, EnvStep, StepPayload{}))
		time.Sleep(50 * time.Millisecond)

		assert.Equal(t, int64(0), atomic.LoadInt64(&count))
	})
}

func TestSubscriberIsolation(t *testing.T) {
	t.Run("should survive a panicking subscriber", func(t *testing.T) {
		bus := NewBus(BusConfig{})
		defer bus.Shutdown()

		var delivered int64
		bus.Subscribe(EnvStep, func(Event) { panic("boom") })
		bus.Subscribe(EnvStep, func(Event) { atomic.AddInt64(&delivered, 1) })

		bus.Publish(mustEvent(t, EnvStep, StepPayload{}))
		bus.Publish(mustEvent(t, EnvStep, StepPayload{}))

		waitFor(t, func() bool { return atomic.LoadInt64(&delivered) == 2 })
	})
}

func TestHistory(t *testing.T) {
	t.Run("should retain bounded history most recent last", func(t *testing.T) {
		bus := NewBus(BusConfig{MaxHistory: 10})
		defer bus.Shutdown()

		for i := 0; i < 25; i++ {
			bus.Publish(mustEvent(t, EnvStep, StepPayload{StepCount: i}))
		}

		history := bus.History("", 0)
		assert.Len(t, history, 10)

		last, err := Decode[StepPayload](history[len(history)-1])
		require.NoError(t, err)
		assert.Equal(t, 24, last.StepCount)
	})

	t.Run("should filter history by type and limit", func(t *testing.T) {
		bus := NewBus(BusConfig{})
		defer bus.Shutdown()

		bus.Publish(mustEvent(t, EnvReset, ResetPayload{}))
		bus.Publish(mustEvent(t, EnvStep, StepPayload{}))
		bus.Publish(mustEvent(t, EnvStep, StepPayload{}))

		assert.Len(t, bus.History(EnvStep, 0), 2)
		assert.Len(t, bus.History(EnvStep, 1), 1)
		assert.Len(t, bus.History(EnvReset, 0), 1)
	})
}

func TestRateLimit(t *testing.T) {
	t.Run("should shed events beyond the per-second quota", func(t *testing.T) {
		bus := NewBus(BusConfig{RateLimitPerSecond: 5})
		defer bus.Shutdown()

		for i := 0; i < 50; i++ {
			bus.Publish(mustEvent(t, EnvStep, StepPayload{}))
		}

		assert.Len(t, bus.History("", 0), 5)
	})
}

func TestFilters(t *testing.T) {
	t.Run("should veto delivery when a filter rejects", func(t *testing.T) {
		bus := NewBus(BusConfig{})
		defer bus.Shutdown()

		var count int64
		bus.Subscribe(EnvStep, func(Event) { atomic.AddInt64(&count, 1) })
		bus.AddFilter("drop-steps", func(e Event) bool { return e.Type != EnvStep })

		bus.Publish(mustEvent(t, EnvStep, StepPayload{}))
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, int64(0), atomic.LoadInt64(&count))

		require.True(t, bus.RemoveFilter("drop-steps"))
		assert.False(t, bus.RemoveFilter("drop-steps"))

		bus.Publish(mustEvent(t, EnvStep, StepPayload{}))
		waitFor(t, func() bool { return atomic.LoadInt64(&count) == 1 })
	})
}

func TestSubscriberCount(t *testing.T) {
	t.Run("should count per type and in total", func(t *testing.T) {
		bus := NewBus(BusConfig{})
		defer bus.Shutdown()

		bus.Subscribe(EnvStep, func(Event) {})
		bus.Subscribe(EnvStep, func(Event) {})
		bus.Subscribe(EnvReset, func(Event) {})

		assert.Equal(t, 2, bus.SubscriberCount(EnvStep))
		assert.Equal(t, 3, bus.SubscriberCount(""))
	})
}

func TestShutdown(t *testing.T) {
	t.Run("should be idempotent and stop delivery", func(t *testing.T) {
		bus := NewBus(BusConfig{})

		var count int64
		bus.Subscribe(EnvStep, func(Event) { atomic.AddInt64(&count, 1) })

		bus.Shutdown()
		bus.Shutdown()

		bus.Publish(mustEvent(t, EnvStep, StepPayload{}))
		time.Sleep(50 * time.Millisecond)

		assert.Equal(t, int64(0), atomic.LoadInt64(&count))
		assert.Equal(t, 0, bus.SubscriberCount(""))
	})

	t.Run("should drain queued work before exiting", func(t *testing.T) {
		bus := NewBus(BusConfig{Workers: 1})

		var mu sync.Mutex
		seen := 0
		bus.Subscribe(EnvStep, func(Event) {
			mu.Lock()
			seen++
			mu.Unlock()
		})

		for i := 0; i < 10; i++ {
			bus.Publish(mustEvent(t, EnvStep, StepPayload{}))
		}
		bus.Shutdown()

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 10, seen)
	})
}

func TestConcurrentPublish(t *testing.T) {
	t.Run("should accept publishes from many goroutines", func(t *testing.T) {
		bus := NewBus(BusConfig{RateLimitPerSecond: 100000, QueueSize: 4096})
		defer bus.Shutdown()

		var count int64
		bus.Subscribe(EnvStep, func(Event) { atomic.AddInt64(&count, 1) })

		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					bus.Publish(mustEvent(t, EnvStep, StepPayload{}))
				}
			}()
		}
		wg.Wait()

		waitFor(t, func() bool { return atomic.LoadInt64(&count) == 400 })
	})
}
