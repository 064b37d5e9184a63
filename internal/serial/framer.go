package serial

import (
	"strings"

	"github.com/sweeney/telemetry-engine/internal/telemetry"
)

var frameKeys = []string{
	telemetry.KeyIR,
	telemetry.KeyAccel,
	telemetry.KeyTemp,
	telemetry.KeyHumidity,
	telemetry.KeyBPM,
	telemetry.KeyGas,
}

// Framer groups console lines into frames. A frame starts at a header line and
// ends at the next header, a blank line, or once every known key has been
// seen. Lines before the first header are discarded.
type Framer struct {
	lines []string
	seen  map[string]bool
	open  bool
}

// NewFramer returns an empty Framer.
func NewFramer() *Framer {
	return &Framer{seen: make(map[string]bool)}
}

// Push adds one line and returns a frame when one completes.
func (f *Framer) Push(line string) (string, bool) {
	line = strings.TrimRight(line, "\r")
	trimmed := strings.TrimSpace(line)

	if trimmed == telemetry.FrameHeader {
		frame, ok := f.Flush()
		f.open = true
		f.lines = append(f.lines, trimmed)
		return frame, ok
	}
	if !f.open {
		return "", false
	}
	if trimmed == "" {
		return f.Flush()
	}

	f.lines = append(f.lines, line)
	if key, _, ok := strings.Cut(trimmed, ":"); ok {
		f.seen[strings.TrimSpace(key)] = true
	}
	if f.complete() {
		return f.Flush()
	}
	return "", false
}

// Flush returns whatever has been collected since the last header, if it holds
// more than the header itself, and resets the Framer.
func (f *Framer) Flush() (string, bool) {
	defer f.reset()
	if len(f.lines) < 2 {
		return "", false
	}
	return strings.Join(f.lines, "\n") + "\n", true
}

func (f *Framer) complete() bool {
	for _, k := range frameKeys {
		if !f.seen[k] {
			return false
		}
	}
	return true
}

func (f *Framer) reset() {
	f.lines = f.lines[:0]
	f.open = false
	for k := range f.seen {
		delete(f.seen, k)
	}
}
