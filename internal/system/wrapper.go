package system

import (
	"log"
	"time"

	"github.com/airspacelab/vectorsim/internal/env"
	"github.com/airspacelab/vectorsim/pkg/events"
)

// Violation derivation thresholds for the wrapper. These are stricter
// than the analyzer's bookkeeping minimums: the wrapper only raises
// events for situations worth analyzing.
const (
	wrapperCriticalSepNM = 3.0
	wrapperMinSepNM      = 5.0
	defaultPublishRate   = 100 // events per second
)

// EnvWrapper publishes reset, step and derived safety-violation events
// as the training loop drives the environment. Publishing is
// best-effort: a full bus or failed encode never interrupts stepping.
type EnvWrapper struct {
	*env.Env

	bus         *events.Bus
	publishRate int

	windowStart  time.Time
	windowCount  int
	episodeStart time.Time
}

// WrapEnv decorates an environment with event publishing. A rate of 0
// uses the default limit.
func WrapEnv(e *env.Env, bus *events.Bus, publishRate int) *EnvWrapper {
	if publishRate <= 0 {
		publishRate = defaultPublishRate
	}
	return &EnvWrapper{
		Env:         e,
		bus:         bus,
		publishRate: publishRate,
	}
}

// Reset resets the environment and publishes an env.reset event.
func (w *EnvWrapper) Reset(seed int64) ([]float64, env.StepInfo) {
	w.episodeStart = time.Now()
	w.windowStart = time.Time{}
	w.windowCount = 0

	obs, info := w.Env.Reset(seed)

	w.safePublish(events.EnvReset, events.ResetPayload{
		Observation: obs,
		Scenario:    w.Env.Scenario(),
		Seed:        seed,
		Config: map[string]any{
			"step_seconds": w.Env.StepSeconds(),
			"horizon":      w.Env.Horizon(),
		},
	})

	return obs, info
}

// Step steps the environment, derives safety-violation events from the
// step info, and publishes a rate-limited env.step event.
func (w *EnvWrapper) Step(action []float64) ([]float64, float64, bool, bool, env.StepInfo, error) {
	obs, reward, terminated, truncated, info, err := w.Env.Step(action)
	if err != nil {
		return obs, reward, terminated, truncated, info, err
	}

	w.checkSafetyViolations(info)

	if w.shouldPublish() {
		w.safePublish(events.EnvStep, events.StepPayload{
			Observation: obs,
			Action:      action,
			Reward:      reward,
			Done:        terminated || truncated,
			NumAlive:    info.NumAlive,
			StepCount:   info.StepCount,
			MinSepNM:    info.MinSepNM,
			LoSCount:    info.LoSCount,
			Components:  breakdownMap(info.Components),
		})
	}

	return obs, reward, terminated, truncated, info, nil
}

func (w *EnvWrapper) checkSafetyViolations(info env.StepInfo) {
	var violationType, severity string
	switch {
	case info.MinSepNM < wrapperCriticalSepNM:
		violationType = "loss_of_separation"
		severity = "critical"
	case info.MinSepNM < wrapperMinSepNM:
		violationType = "loss_of_separation"
		severity = "high"
	case info.LoSCount > 0:
		violationType = "near_miss"
		severity = "medium"
	default:
		return
	}

	// First two alive aircraft stand in for the conflict pair; the
	// step info does not carry pair identities.
	var involved []string
	for _, ac := range w.Env.States() {
		if !ac.Alive {
			continue
		}
		involved = append(involved, ac.ID)
		if len(involved) == 2 {
			break
		}
	}

	w.safePublish(events.SafetyViolation, events.ViolationPayload{
		ViolationType:      violationType,
		Severity:           severity,
		AircraftInvolved:   involved,
		SeparationDistance: info.MinSepNM,
		MinimumSeparation:  wrapperMinSepNM,
		StepNumber:         info.StepCount,
	})
}

// shouldPublish applies a per-second event budget to step events.
func (w *EnvWrapper) shouldPublish() bool {
	now := time.Now()
	if now.Sub(w.windowStart) >= time.Second {
		w.windowStart = now
		w.windowCount = 0
	}
	if w.windowCount >= w.publishRate {
		return false
	}
	w.windowCount++
	return true
}

func (w *EnvWrapper) safePublish(eventType string, payload any) {
	event, err := events.New(eventType, payload)
	if err != nil {
		log.Printf("system: encode %s event: %v", eventType, err)
		return
	}
	w.bus.PublishAsync(event)
}

func breakdownMap(b env.Breakdown) map[string]float64 {
	return map[string]float64{
		"los":         b.LoS,
		"near":        b.Near,
		"progress":    b.Progress,
		"smooth":      b.Smooth,
		"fuel":        b.Fuel,
		"terminal":    b.Terminal,
		"catastrophe": b.Catastrophe,
	}
}
