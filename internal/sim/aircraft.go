package sim

import "github.com/airspacelab/vectorsim/pkg/airspace"

// Aircraft aliases the shared snapshot type so the simulator and the
// separation geometry speak the same state.
type Aircraft = airspace.Aircraft

// IntentLabels mirrors the label set encoded by Aircraft.Intent.
var IntentLabels = airspace.IntentLabels

// Command is a per-aircraft control delta for one tick.
type Command struct {
	ID           string
	DeltaHeading float64 // radians this tick
	DeltaVS      float64 // vertical speed setpoint change, ft/min
}
