package telemetry

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FrameHeader is the first line of every block the vehicle firmware prints.
const FrameHeader = "------ DATA ------"

// Keys recognised in a text frame.
const (
	KeyIR       = "IR"
	KeyAccel    = "Accel"
	KeyTemp     = "Temp (C)"
	KeyHumidity = "Humidity (%)"
	KeyBPM      = "BPM"
	KeyGas      = "Gas"
)

// ErrMalformedFrame is matched by every ParseError.
var ErrMalformedFrame = errors.New("malformed frame")

// ParseError reports the first line of a frame whose key was recognised but
// whose value could not be parsed.
type ParseError struct {
	Line  int // 1-based
	Key   string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s: bad value %q: %v", e.Line, e.Key, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrMalformedFrame) hold for every ParseError.
func (e *ParseError) Is(target error) bool { return target == ErrMalformedFrame }

// ParseFrame turns a text block into a Sample. Lines may come in any order or
// be missing; unknown lines are skipped. A known key with a bad value fails the
// whole block and no partial sample is returned.
func ParseFrame(text string) (Sample, error) {
	var s Sample
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		fail := func(err error) (Sample, error) {
			return Sample{}, &ParseError{Line: i + 1, Key: key, Value: value, Err: err}
		}

		switch key {
		case KeyIR:
			ir, ok := parseFrameIR(value)
			if !ok {
				return fail(errors.New("want OBSTACLE DETECTED or CLEAR"))
			}
			s.IR = &ir
		case KeyAccel:
			parts := strings.Split(value, ",")
			if len(parts) != 3 {
				return fail(fmt.Errorf("want 3 comma-separated values, got %d", len(parts)))
			}
			axes := make([]float64, 3)
			for j, p := range parts {
				f, err := parseDecimal(p)
				if err != nil {
					return fail(err)
				}
				axes[j] = f
			}
			s.Ax, s.Ay, s.Az = &axes[0], &axes[1], &axes[2]
		case KeyTemp:
			f, err := parseDecimal(value)
			if err != nil {
				return fail(err)
			}
			s.Temp = &f
		case KeyHumidity:
			f, err := parseDecimal(value)
			if err != nil {
				return fail(err)
			}
			s.Hum = &f
		case KeyBPM:
			n, err := strconv.Atoi(value)
			if err != nil {
				return fail(err)
			}
			s.BPM = &n
		case KeyGas:
			n, err := strconv.Atoi(value)
			if err != nil {
				return fail(err)
			}
			s.Gas = &n
		}
	}
	return s, nil
}

// parseFrameIR accepts only the firmware's spellings. JSON input is more
// lenient, see IRState.UnmarshalJSON.
func parseFrameIR(v string) (IRState, bool) {
	switch v {
	case "OBSTACLE DETECTED":
		return IRObstacle, true
	case "CLEAR":
		return IRClear, true
	}
	return "", false
}

func parseDecimal(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite value %v", f)
	}
	return f, nil
}

// FormatFrame renders a sample in the firmware's text layout. Absent fields
// are left out. ParseFrame(FormatFrame(s)) reproduces s except for t_ms, which
// the text format does not carry.
func FormatFrame(s Sample) string {
	var b strings.Builder
	b.WriteString(FrameHeader)
	b.WriteByte('\n')
	if s.IR != nil {
		v := "CLEAR"
		if *s.IR == IRObstacle {
			v = "OBSTACLE DETECTED"
		}
		fmt.Fprintf(&b, "%s: %s\n", KeyIR, v)
	}
	if ax, ay, az, ok := s.Accel(); ok {
		fmt.Fprintf(&b, "%s: %s, %s, %s\n", KeyAccel, fmtDecimal(ax), fmtDecimal(ay), fmtDecimal(az))
	}
	if s.Temp != nil {
		fmt.Fprintf(&b, "%s: %s\n", KeyTemp, fmtDecimal(*s.Temp))
	}
	if s.Hum != nil {
		fmt.Fprintf(&b, "%s: %s\n", KeyHumidity, fmtDecimal(*s.Hum))
	}
	if s.BPM != nil {
		fmt.Fprintf(&b, "%s: %d\n", KeyBPM, *s.BPM)
	}
	if s.Gas != nil {
		fmt.Fprintf(&b, "%s: %d\n", KeyGas, *s.Gas)
	}
	return b.String()
}

func fmtDecimal(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
