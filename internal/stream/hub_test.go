package stream

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airspacelab/vectorsim/pkg/events"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newWSServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	router := gin.New()
	router.GET("/ws", h.HandleWS)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var e events.Event
	require.NoError(t, json.Unmarshal(data, &e))
	return e
}

func TestHubBroadcast(t *testing.T) {
	t.Run("should relay bus events to connected clients", func(t *testing.T) {
		bus := events.NewBus(events.BusConfig{})
		t.Cleanup(bus.Shutdown)
		h := NewHub(bus)
		t.Cleanup(h.Shutdown)

		srv := newWSServer(t, h)
		conn := dial(t, srv)

		require.Eventually(t, func() bool { return h.ClientCount() == 1 },
			time.Second, 5*time.Millisecond)

		e, err := events.New(events.EnvStep, events.StepPayload{Reward: 1.5})
		require.NoError(t, err)
		bus.Publish(e)

		got := readEvent(t, conn)
		assert.Equal(t, events.EnvStep, got.Type)
		assert.Equal(t, e.ID, got.ID)
	})

	t.Run("should skip event types outside the stream set", func(t *testing.T) {
		bus := events.NewBus(events.BusConfig{})
		t.Cleanup(bus.Shutdown)
		h := NewHub(bus)
		t.Cleanup(h.Shutdown)

		srv := newWSServer(t, h)
		conn := dial(t, srv)
		require.Eventually(t, func() bool { return h.ClientCount() == 1 },
			time.Second, 5*time.Millisecond)

		decision, err := events.New(events.PolicyDecision, events.DecisionPayload{})
		require.NoError(t, err)
		bus.Publish(decision)

		step, err := events.New(events.EnvStep, events.StepPayload{})
		require.NoError(t, err)
		bus.Publish(step)

		// Only the step should arrive; decisions are not streamed.
		got := readEvent(t, conn)
		assert.Equal(t, events.EnvStep, got.Type)
	})
}

func TestTopicFiltering(t *testing.T) {
	t.Run("should narrow to subscribed topics", func(t *testing.T) {
		client := &Client{topics: map[string]bool{}}
		assert.True(t, client.wants(events.EnvStep), "empty topic set means all")

		h := &Hub{clients: make(map[uuid.UUID]*Client)}
		msg, _ := json.Marshal(wsMessage{Type: "subscribe", Topics: []string{events.SafetyViolation}})
		h.handleMessage(client, msg)

		assert.True(t, client.wants(events.SafetyViolation))
		assert.False(t, client.wants(events.EnvStep))

		msg, _ = json.Marshal(wsMessage{Type: "unsubscribe", Topics: []string{events.SafetyViolation}})
		h.handleMessage(client, msg)
		assert.True(t, client.wants(events.EnvStep), "empty again means all")
	})

	t.Run("should ignore malformed messages", func(t *testing.T) {
		client := &Client{topics: map[string]bool{}}
		h := &Hub{clients: make(map[uuid.UUID]*Client)}
		h.handleMessage(client, []byte("not json"))

		assert.True(t, client.wants(events.EnvStep))
	})
}

func TestHubShutdown(t *testing.T) {
	t.Run("should close clients and detach from the bus", func(t *testing.T) {
		bus := events.NewBus(events.BusConfig{})
		t.Cleanup(bus.Shutdown)
		h := NewHub(bus)

		srv := newWSServer(t, h)
		conn := dial(t, srv)
		require.Eventually(t, func() bool { return h.ClientCount() == 1 },
			time.Second, 5*time.Millisecond)

		h.Shutdown()
		h.Shutdown() // idempotent

		assert.Equal(t, 0, h.ClientCount())
		assert.Equal(t, 0, bus.SubscriberCount(""))

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		_, _, err := conn.ReadMessage()
		assert.Error(t, err, "connection should be closed")
	})

	t.Run("should refuse new clients after shutdown", func(t *testing.T) {
		h := NewHub(nil)
		srv := newWSServer(t, h)
		h.Shutdown()

		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
		conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if resp != nil {
			resp.Body.Close()
		}
		if err != nil {
			return // handshake refused is also acceptable
		}
		defer conn.Close()

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		_, _, readErr := conn.ReadMessage()
		assert.Error(t, readErr)
		assert.Equal(t, 0, h.ClientCount())
	})
}
