package telemetry

import "math"

const (
	// Gravity converts g to m/s².
	Gravity = 9.81
	// StillAccelG is the horizontal magnitude below which the unit counts as
	// stationary for drift correction.
	StillAccelG = 0.02
	// StillSpeedMps is the speed below which drift correction may zero the estimate.
	StillSpeedMps = 0.5
)

// Integrate advances the speed estimate with one accelerometer reading taken
// at tMs. Forward acceleration is -ax because of how the board is mounted.
// The timestamp is always recorded, so a reading that goes back in time only
// moves the reference point and never produces a negative dt. The speed never
// becomes NaN or infinite; such a step keeps the previous value.
func Integrate(state VelocityState, ax, ay float64, tMs int64) VelocityState {
	next := VelocityState{SpeedMps: state.SpeedMps, LastAccelMs: &tMs}
	if state.LastAccelMs == nil || tMs <= *state.LastAccelMs {
		return next
	}

	dt := float64(tMs-*state.LastAccelMs) / 1000
	speed := state.SpeedMps - ax*Gravity*dt
	if !isFinite(speed) || !isFinite(ay) {
		// an overflowing reading only moves the reference point
		return next
	}
	next.SpeedMps = math.Max(0, speed)

	horiz := math.Sqrt(ax*ax + ay*ay)
	if horiz < StillAccelG && next.SpeedMps < StillSpeedMps {
		next.SpeedMps = 0
	}
	return next
}

// IntegrateSample applies Integrate when the sample carries all three axes
// and a timestamp; otherwise the state is returned unchanged.
func IntegrateSample(state VelocityState, s Sample) VelocityState {
	ax, ay, _, ok := s.Accel()
	if !ok || s.TMs == nil {
		return state
	}
	return Integrate(state, ax, ay, *s.TMs)
}
