package messaging

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventSubject(t *testing.T) {
	t.Run("should prefix the event type", func(t *testing.T) {
		assert.Equal(t, "tower.events.env.step", EventSubject("env.step"))
		assert.Equal(t, "tower.events.safety.violation", EventSubject("safety.violation"))
	})
}

func TestTypeFromSubject(t *testing.T) {
	t.Run("should recover the event type", func(t *testing.T) {
		eventType, err := TypeFromSubject("tower.events.training.iteration")
		require.NoError(t, err)
		assert.Equal(t, "training.iteration", eventType)
	})

	t.Run("should round trip with EventSubject", func(t *testing.T) {
		eventType, err := TypeFromSubject(EventSubject("env.reset"))
		require.NoError(t, err)
		assert.Equal(t, "env.reset", eventType)
	})

	t.Run("should reject foreign subjects", func(t *testing.T) {
		_, err := TypeFromSubject("orders.filled")
		assert.Error(t, err)

		_, err = TypeFromSubject(SubjectCommands)
		assert.Error(t, err)
	})
}

func TestEnvelope(t *testing.T) {
	t.Run("should carry a typed payload", func(t *testing.T) {
		env, err := NewEnvelope("safety.violation", "vectorsim", map[string]any{
			"severity": "critical",
		})
		require.NoError(t, err)

		assert.NotEqual(t, "", env.ID.String())
		assert.Equal(t, "safety.violation", env.Type)
		assert.Equal(t, "vectorsim", env.Source)
		assert.False(t, env.Timestamp.IsZero())

		parsed, err := ParseEnvelopeData[map[string]any](env)
		require.NoError(t, err)
		assert.Equal(t, "critical", (*parsed)["severity"])
	})

	t.Run("should survive the wire", func(t *testing.T) {
		env, err := NewEnvelope("training.command", "console", ControlCommand{
			Command: "pause",
			Params:  map[string]any{"reason": "drill"},
		})
		require.NoError(t, err)

		wire, err := json.Marshal(env)
		require.NoError(t, err)

		var decoded Envelope
		require.NoError(t, json.Unmarshal(wire, &decoded))
		assert.Equal(t, env.ID, decoded.ID)

		cmd, err := ParseEnvelopeData[ControlCommand](&decoded)
		require.NoError(t, err)
		assert.Equal(t, "pause", cmd.Command)
		assert.Equal(t, "drill", cmd.Params["reason"])
	})

	t.Run("should tolerate empty payloads", func(t *testing.T) {
		cmd, err := ParseEnvelopeData[ControlCommand](&Envelope{})
		require.NoError(t, err)
		assert.Equal(t, "", cmd.Command)
	})

	t.Run("should reject malformed payloads", func(t *testing.T) {
		env := &Envelope{Data: json.RawMessage(`{"command": 42`)}
		_, err := ParseEnvelopeData[ControlCommand](env)
		assert.Error(t, err)
	})
}
