// Package gpio reads the IR obstacle sensor line with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"fmt"

	"github.com/sweeney/telemetry-engine/internal/telemetry"
)

// Reader reads the obstacle sensor.
type Reader interface {
	// Read reports whether an obstacle is in front of the sensor.
	// The module's output is active-low: raw 0 = obstacle.
	Read() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// DefaultPinIR is the BCM line the sensor is usually wired to.
const DefaultPinIR = 17

// State converts a line reading to the IR state carried by samples.
func State(obstacle bool) telemetry.IRState {
	if obstacle {
		return telemetry.IRObstacle
	}
	return telemetry.IRClear
}

// Overlay fills in s.IR from the line when the sample arrived without one.
// Samples that already carry an IR reading are returned unchanged.
func Overlay(s telemetry.Sample, r Reader) (telemetry.Sample, error) {
	if s.IR != nil || r == nil {
		return s, nil
	}
	obstacle, err := r.Read()
	if err != nil {
		return s, fmt.Errorf("read ir line: %w", err)
	}
	ir := State(obstacle)
	s.IR = &ir
	return s, nil
}
