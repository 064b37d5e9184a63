// Package telemetry contains the pure derivation logic for vehicle telemetry:
// frame parsing, velocity integration, path accumulation, the metrics fold and
// the heart waveform synthesizer.
// This package has NO external dependencies (no network, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package telemetry

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// IRState is the reading of the IR obstacle sensor.
type IRState string

const (
	IRObstacle IRState = "OBSTACLE_DETECTED"
	IRClear    IRState = "CLEAR"
)

// UnmarshalJSON accepts the canonical names, the frame spelling
// ("OBSTACLE DETECTED"), and boolean or 0/1 values from simpler firmware.
func (s *IRState) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case bool:
		*s = irFromBool(v)
		return nil
	case float64:
		*s = irFromBool(v != 0)
		return nil
	case string:
		st, ok := parseIR(v)
		if !ok {
			return fmt.Errorf("unknown ir value %q", v)
		}
		*s = st
		return nil
	}
	return fmt.Errorf("unsupported ir value %s", string(data))
}

func irFromBool(obstacle bool) IRState {
	if obstacle {
		return IRObstacle
	}
	return IRClear
}

func parseIR(v string) (IRState, bool) {
	norm := strings.ToUpper(strings.TrimSpace(v))
	norm = strings.ReplaceAll(norm, " ", "_")
	switch IRState(norm) {
	case IRObstacle:
		return IRObstacle, true
	case IRClear:
		return IRClear, true
	}
	return "", false
}

// Sample is one telemetry reading. Every field is optional; nil means the
// sensor did not report it this round.
type Sample struct {
	Ax   *float64 `json:"ax,omitempty"`
	Ay   *float64 `json:"ay,omitempty"`
	Az   *float64 `json:"az,omitempty"`
	Temp *float64 `json:"temp,omitempty"`
	Hum  *float64 `json:"hum,omitempty"`
	BPM  *int     `json:"bpm,omitempty"`
	Gas  *int     `json:"gas,omitempty"`
	IR   *IRState `json:"ir,omitempty"`
	TMs  *int64   `json:"t_ms,omitempty"`
}

// Accel returns the three axes when all of them are present. A reading whose
// axes or magnitude are not finite counts as no acceleration at all.
func (s Sample) Accel() (ax, ay, az float64, ok bool) {
	if s.Ax == nil || s.Ay == nil || s.Az == nil {
		return 0, 0, 0, false
	}
	ax, ay, az = *s.Ax, *s.Ay, *s.Az
	if !isFinite(magnitude(ax, ay, az)) {
		return 0, 0, 0, false
	}
	return ax, ay, az, true
}

// Magnitude is |a| in g, or 0 when the sample has no usable acceleration.
func (s Sample) Magnitude() float64 {
	ax, ay, az, ok := s.Accel()
	if !ok {
		return 0
	}
	return magnitude(ax, ay, az)
}

func magnitude(ax, ay, az float64) float64 {
	return math.Sqrt(ax*ax + ay*ay + az*az)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Clone returns a deep copy so that callers cannot reach into retained state.
func (s Sample) Clone() Sample {
	return Sample{
		Ax:   clonePtr(s.Ax),
		Ay:   clonePtr(s.Ay),
		Az:   clonePtr(s.Az),
		Temp: clonePtr(s.Temp),
		Hum:  clonePtr(s.Hum),
		BPM:  clonePtr(s.BPM),
		Gas:  clonePtr(s.Gas),
		IR:   clonePtr(s.IR),
		TMs:  clonePtr(s.TMs),
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to v. Handy for building samples in code and tests.
func Ptr[T any](v T) *T {
	return &v
}

// Severity classifies a log entry.
type Severity string

const (
	SeverityAlert Severity = "ALERT"
	SeverityOK    Severity = "OK"
)

// LogEntry is one line of the bounded event log.
type LogEntry struct {
	ID       uint64
	Time     string // time of day, 15:04:05
	Severity Severity
	Text     string
}

// Metrics is the aggregate derived from all samples folded in this session.
type Metrics struct {
	ReadingsCount int
	LastSample    *Sample
	HRPeak        float64
	GasPeak       float64
	AccelPeak     float64
	IRTotal       int
	IRAlerts      int
	FlowSpeed     float64
	Log           []LogEntry // newest first
	SessionStart  time.Time
}

// Fix is one GPS position.
type Fix struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// PathState tracks the distance travelled through successive fixes.
type PathState struct {
	DistanceMeters float64
	Points         []Fix
	LastFix        *Fix
}

// VelocityState holds the integrated forward speed.
type VelocityState struct {
	SpeedMps    float64
	LastAccelMs *int64
}
