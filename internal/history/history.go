// Package history keeps a bounded in-memory series of environmental readings
// for the historical chart, with summary statistics.
package history

import (
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultCapacity is enough for five minutes at the nominal 500 ms cadence.
const DefaultCapacity = 600

// Point is one temperature/humidity reading. Humidity is nil when the sample
// that produced the point did not carry it.
type Point struct {
	Time     time.Time `json:"time"`
	Temp     float64   `json:"temp"`
	Humidity *float64  `json:"humidity,omitempty"`
}

// Summary describes the temperature values currently in the series.
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Series is a fixed-capacity, oldest-evicted list of points.
// Not safe for concurrent use; the caller synchronizes.
type Series struct {
	points   []Point
	capacity int
}

// New returns an empty series. Capacities below 1 use DefaultCapacity.
func New(capacity int) *Series {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Series{capacity: capacity}
}

// Add appends p, dropping the oldest point when full.
func (s *Series) Add(p Point) {
	if len(s.points) == s.capacity {
		copy(s.points, s.points[1:])
		s.points = s.points[:len(s.points)-1]
	}
	s.points = append(s.points, p)
}

// Points returns a copy of the series, oldest first.
func (s *Series) Points() []Point {
	out := make([]Point, len(s.points))
	copy(out, s.points)
	return out
}

// Len returns the number of points.
func (s *Series) Len() int { return len(s.points) }

// Summary computes statistics over the temperatures. An empty series yields
// the zero Summary.
func (s *Series) Summary() Summary {
	if len(s.points) == 0 {
		return Summary{}
	}
	temps := make([]float64, len(s.points))
	for i, p := range s.points {
		temps[i] = p.Temp
	}
	sum := Summary{
		Count: len(temps),
		Min:   floats.Min(temps),
		Max:   floats.Max(temps),
	}
	if len(temps) == 1 {
		sum.Mean = temps[0]
		return sum
	}
	sum.Mean, sum.StdDev = stat.MeanStdDev(temps, nil)
	return sum
}
