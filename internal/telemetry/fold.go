package telemetry

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	// MaxLogEntries bounds Metrics.Log.
	MaxLogEntries = 7
	// AlertMagnitudeG marks a log entry as ALERT.
	// TODO: 10 g is far above anything a road vehicle produces; revisit once
	// real crash-test traces are available instead of guessing a lower value.
	AlertMagnitudeG = 10.0
	// FlowSpeedMin and FlowSpeedMax bound the display intensity.
	FlowSpeedMin = 0.06
	FlowSpeedMax = 1.0
	// flowSpeedScale maps |a| in g onto the intensity range.
	flowSpeedScale = 12.0
)

// NewMetrics returns the metrics of a session that starts at start.
func NewMetrics(start time.Time) Metrics {
	return Metrics{
		FlowSpeed:    FlowSpeedMin,
		SessionStart: start,
	}
}

// Fold merges one sample into the metrics and returns the result. Absent
// fields leave their running values untouched. id is the identifier of the
// log entry this sample produces.
func Fold(state Metrics, s Sample, now time.Time, id uint64) Metrics {
	next := state
	magnitude := s.Magnitude()

	next.ReadingsCount++
	if s.BPM != nil {
		next.HRPeak = math.Max(next.HRPeak, float64(*s.BPM))
	}
	if s.Gas != nil {
		next.GasPeak = math.Max(next.GasPeak, float64(*s.Gas))
	}
	if magnitude > 0 {
		next.AccelPeak = math.Max(next.AccelPeak, magnitude)
		next.FlowSpeed = clamp(magnitude/flowSpeedScale, FlowSpeedMin, FlowSpeedMax)
	}
	if s.IR != nil {
		next.IRTotal++
		if *s.IR == IRObstacle {
			next.IRAlerts++
		}
	}

	entry := NewLogEntry(s, now, id)
	log := make([]LogEntry, 0, MaxLogEntries)
	log = append(log, entry)
	for _, e := range state.Log {
		if len(log) == MaxLogEntries {
			break
		}
		log = append(log, e)
	}
	next.Log = log

	last := s.Clone()
	next.LastSample = &last
	return next
}

// NewLogEntry renders the accel, heart-rate and gas fields present on s.
func NewLogEntry(s Sample, now time.Time, id uint64) LogEntry {
	sev := SeverityOK
	if s.Magnitude() > AlertMagnitudeG || (s.IR != nil && *s.IR == IRObstacle) {
		sev = SeverityAlert
	}

	var parts []string
	if ax, ay, az, ok := s.Accel(); ok {
		parts = append(parts, fmt.Sprintf("a=%.2f/%.2f/%.2f g", ax, ay, az))
	}
	if s.BPM != nil {
		parts = append(parts, fmt.Sprintf("hr=%d bpm", *s.BPM))
	}
	if s.Gas != nil {
		parts = append(parts, fmt.Sprintf("gas=%d ppm", *s.Gas))
	}
	text := "-"
	if len(parts) > 0 {
		text = strings.Join(parts, " ")
	}

	return LogEntry{
		ID:       id,
		Time:     now.Format("15:04:05"),
		Severity: sev,
		Text:     text,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
