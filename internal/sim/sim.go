package sim

import (
	"fmt"
	"math"
	"math/rand"
)

const (
	// ExitRadiusNM is how close an aircraft must get to its exit fix
	// before it leaves the sector and stops participating.
	ExitRadiusNM = 2.5

	maxVerticalSpeedFPM = 3000.0
)

// Sector is a synthetic radar sector simulator. It owns the aircraft
// population and advances simple kinematics one tick at a time.
//
// A Sector instance is not safe for concurrent use; the environment
// drives it from a single logical thread.
type Sector struct {
	scenario    string
	stepSeconds float64
	maxAircraft int
	seed        int64

	rng      *rand.Rand
	aircraft []Aircraft
	vs       map[string]float64 // vertical speed setpoint per aircraft, ft/min
}

// NewSector creates a sector simulator for a named scenario.
// Supported scenarios: parallel_4, crossing_4, converging_8.
func NewSector(scenario string, stepSeconds float64, maxAircraft int, seed int64) (*Sector, error) {
	switch scenario {
	case "parallel_4", "crossing_4", "converging_8":
	default:
		return nil, fmt.Errorf("unknown scenario %q", scenario)
	}
	if stepSeconds <= 0 {
		return nil, fmt.Errorf("step seconds must be positive, got %v", stepSeconds)
	}

	return &Sector{
		scenario:    scenario,
		stepSeconds: stepSeconds,
		maxAircraft: maxAircraft,
		seed:        seed,
	}, nil
}

// StepSeconds returns the simulation tick length.
func (s *Sector) StepSeconds() float64 { return s.stepSeconds }

// Scenario returns the scenario name.
func (s *Sector) Scenario() string { return s.scenario }

// Reset rebuilds the aircraft population from the scenario and seed.
// Spawn positions are an exact function of the seed; speeds carry a
// small seeded jitter.
func (s *Sector) Reset(seed int64) []Aircraft {
	s.seed = seed
	s.rng = rand.New(rand.NewSource(seed))
	s.vs = make(map[string]float64)

	switch s.scenario {
	case "parallel_4":
		s.aircraft = s.spawnParallel(4)
	case "crossing_4":
		s.aircraft = s.spawnCrossing(4)
	case "converging_8":
		s.aircraft = s.spawnConverging(8)
	}

	if len(s.aircraft) > s.maxAircraft {
		s.aircraft = s.aircraft[:s.maxAircraft]
	}
	return s.snapshot()
}

// Step applies commands to live aircraft and advances kinematics by one
// tick. It returns a fresh snapshot; previous snapshots are never
// mutated.
func (s *Sector) Step(cmds []Command) []Aircraft {
	byID := make(map[string]Command, len(cmds))
	for _, c := range cmds {
		byID[c.ID] = c
	}

	dtHours := s.stepSeconds / 3600.0
	dtMinutes := s.stepSeconds / 60.0

	next := make([]Aircraft, len(s.aircraft))
	for i, ac := range s.aircraft {
		if !ac.Alive {
			next[i] = ac
			continue
		}

		if cmd, ok := byID[ac.ID]; ok {
			ac.HeadingRad = normalizeAngle(ac.HeadingRad + cmd.DeltaHeading)
			vs := s.vs[ac.ID] + cmd.DeltaVS
			s.vs[ac.ID] = clamp(vs, -maxVerticalSpeedFPM, maxVerticalSpeedFPM)
		}

		dist := ac.SpeedKt * dtHours
		ac.X += dist * math.Cos(ac.HeadingRad)
		ac.Y += dist * math.Sin(ac.HeadingRad)
		ac.AltFt += s.vs[ac.ID] * dtMinutes

		if math.Hypot(ac.GoalX-ac.X, ac.GoalY-ac.Y) < ExitRadiusNM {
			ac.Alive = false
		}

		next[i] = ac
	}

	s.aircraft = next
	return s.snapshot()
}

func (s *Sector) snapshot() []Aircraft {
	out := make([]Aircraft, len(s.aircraft))
	copy(out, s.aircraft)
	return out
}

// spawnParallel lays out n aircraft on parallel eastbound tracks spaced
// 10 NM apart. Exit fixes sit abeam the tracks so that uncommanded
// traffic overflies the sector without exiting.
func (s *Sector) spawnParallel(n int) []Aircraft {
	aircraft := make([]Aircraft, 0, n)
	for i := 0; i < n; i++ {
		y := 20.0 + 10.0*float64(i)
		aircraft = append(aircraft, Aircraft{
			ID:         fmt.Sprintf("AC%03d", i+1),
			X:          -40.0,
			Y:          y,
			SpeedKt:    s.jitterSpeed(250.0),
			HeadingRad: 0,
			AltFt:      12000.0 + 2000.0*float64(i),
			GoalX:      90.0,
			GoalY:      y + 6.0,
			Alive:      true,
			Intent:     intentOneHot(0),
		})
	}
	return aircraft
}

// spawnCrossing lays out n aircraft on two tracks that intersect near
// sector center, each bound for an exit fix on the far side.
func (s *Sector) spawnCrossing(n int) []Aircraft {
	aircraft := make([]Aircraft, 0, n)
	for i := 0; i < n; i++ {
		var ac Aircraft
		offset := 12.0 * float64(i/2)
		if i%2 == 0 {
			// Eastbound stream.
			ac = Aircraft{
				ID:         fmt.Sprintf("AC%03d", i+1),
				X:          -45.0 - offset,
				Y:          0.0,
				HeadingRad: 0,
				GoalX:      50.0,
				GoalY:      0.0,
				AltFt:      15000.0,
			}
		} else {
			// Northbound stream, crossing at the origin.
			ac = Aircraft{
				ID:         fmt.Sprintf("AC%03d", i+1),
				X:          0.0,
				Y:          -45.0 - offset,
				HeadingRad: math.Pi / 2,
				GoalX:      0.0,
				GoalY:      50.0,
				AltFt:      15000.0,
			}
		}
		ac.SpeedKt = s.jitterSpeed(280.0)
		ac.Alive = true
		ac.Intent = intentOneHot(3)
		aircraft = append(aircraft, ac)
	}
	return aircraft
}

// spawnConverging places n aircraft on a ring, all inbound toward
// seed-chosen goals near the opposite side of the sector.
func (s *Sector) spawnConverging(n int) []Aircraft {
	aircraft := make([]Aircraft, 0, n)
	for i := 0; i < n; i++ {
		angle := 2 * math.Pi * float64(i) / float64(n)
		x := 45.0 * math.Cos(angle)
		y := 45.0 * math.Sin(angle)
		goalAngle := angle + math.Pi + (float64(i%3)-1.0)*0.15
		aircraft = append(aircraft, Aircraft{
			ID:         fmt.Sprintf("AC%03d", i+1),
			X:          x,
			Y:          y,
			SpeedKt:    s.jitterSpeed(260.0),
			HeadingRad: normalizeAngle(angle + math.Pi),
			AltFt:      10000.0 + 1000.0*float64(i),
			GoalX:      45.0 * math.Cos(goalAngle),
			GoalY:      45.0 * math.Sin(goalAngle),
			Alive:      true,
			Intent:     intentOneHot(i % 5),
		})
	}
	return aircraft
}

func (s *Sector) jitterSpeed(base float64) float64 {
	// Sub-knot jitter so equal seeds agree to well under 1 kt.
	return base + s.rng.Float64()*0.5
}

func intentOneHot(idx int) [5]float64 {
	var v [5]float64
	v[idx] = 1.0
	return v
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func normalizeAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
