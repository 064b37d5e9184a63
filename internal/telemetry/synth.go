package telemetry

import "math"

const (
	// SynthRateHz is the fixed tick rate of the waveform synthesizer.
	SynthRateHz = 60
	// SynthBufferLen is how many waveform values are kept for plotting.
	SynthBufferLen = 120
)

// Synth produces a synthetic ECG trace from the last known heart rate. It
// runs on its own clock; samples only change the rate it follows.
type Synth struct {
	heartRate float64
	phase     float64
	buf       *Ring[float64]
}

// NewSynth returns an idle synthesizer with an empty buffer.
func NewSynth() *Synth {
	return &Synth{buf: NewRing[float64](SynthBufferLen)}
}

// SetHeartRate changes the rate used from the next tick on. Negative rates
// are treated as 0.
func (s *Synth) SetHeartRate(bpm float64) {
	if bpm < 0 || math.IsNaN(bpm) {
		bpm = 0
	}
	s.heartRate = bpm
}

// HeartRate returns the current rate in bpm.
func (s *Synth) HeartRate() float64 { return s.heartRate }

// Phase returns the position within the current beat, in [0,1).
func (s *Synth) Phase() float64 { return s.phase }

// Tick advances one 1/60 s step. It returns the produced value, or false
// when the heart rate is 0 and nothing was produced.
func (s *Synth) Tick() (float64, bool) {
	if s.heartRate == 0 {
		return 0, false
	}
	period := 60 / s.heartRate
	s.phase = math.Mod(s.phase+1/(period*SynthRateHz), 1)
	v := Waveform(s.phase)
	s.buf.Push(v)
	return v, true
}

// Buffer returns the last SynthBufferLen values, oldest first.
func (s *Synth) Buffer() []float64 {
	return s.buf.Values()
}

// Waveform maps a beat phase in [0,1) to a cardiac-like amplitude:
// P wave, PR segment, QRS complex, ST segment, T wave, then baseline.
func Waveform(p float64) float64 {
	switch {
	case p < 0.08: // P
		return 0.12 * math.Sin(math.Pi*p/0.08)
	case p < 0.13: // PR
		return 0
	case p < 0.15: // Q: down to -0.22
		return -0.22 * (p - 0.13) / 0.02
	case p < 0.19: // R: up to 1.0 at 0.17, down to -0.18 at 0.19
		if p < 0.17 {
			return lerp(-0.22, 1.0, (p-0.15)/0.02)
		}
		return lerp(1.0, -0.18, (p-0.17)/0.02)
	case p < 0.23: // S: back to baseline
		return lerp(-0.18, 0, (p-0.19)/0.04)
	case p < 0.38: // ST
		return 0
	case p < 0.55: // T
		return 0.32 * math.Sin(math.Pi*(p-0.38)/0.17)
	}
	return 0
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
