package airspace

// IntentLabels is the fixed label set encoded by the intent one-hot vector.
var IntentLabels = [5]string{"cruise", "climb", "descend", "approach", "departure"}

// Aircraft is a per-step snapshot of one aircraft in the sector.
// Snapshots are rebuilt on every simulator tick; callers must not mutate them.
type Aircraft struct {
	ID         string
	X          float64 // position east, nautical miles
	Y          float64 // position north, nautical miles
	SpeedKt    float64 // ground speed, knots
	HeadingRad float64 // heading, radians, math convention (0 = east, CCW)
	AltFt      float64 // altitude, feet
	GoalX      float64 // exit fix east, nautical miles
	GoalY      float64 // exit fix north, nautical miles
	Alive      bool
	Intent     [5]float64 // one-hot over IntentLabels
}
