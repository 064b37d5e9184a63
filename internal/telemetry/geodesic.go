package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// EarthRadiusMeters is the sphere radius used by Haversine.
const EarthRadiusMeters = 6371000

// ErrInvalidFix is returned for fixes that are not finite or out of range.
var ErrInvalidFix = errors.New("invalid gps fix")

// Validate checks that the fix is a usable WGS84 coordinate.
func (f Fix) Validate() error {
	if math.IsNaN(f.Lat) || math.IsNaN(f.Lon) || math.IsInf(f.Lat, 0) || math.IsInf(f.Lon, 0) {
		return ErrInvalidFix
	}
	if f.Lat < -90 || f.Lat > 90 || f.Lon < -180 || f.Lon > 180 {
		return ErrInvalidFix
	}
	return nil
}

// Haversine returns the great-circle distance between two fixes in meters.
func Haversine(a, b Fix) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// Accumulate appends fix to the path. The distance from the previous fix is
// added only when it is strictly positive. The returned state may share the
// Points backing array with the input; callers must not keep using the input.
func Accumulate(state PathState, fix Fix) PathState {
	next := state
	if state.LastFix != nil {
		if d := Haversine(*state.LastFix, fix); d > 0 {
			next.DistanceMeters += d
		}
	}
	next.Points = append(state.Points, fix)
	f := fix
	next.LastFix = &f
	return next
}

type fixJSON struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

// DecodeFix parses a {"lat":..,"lon":..} message. Both coordinates must be
// present and in range; every failure matches ErrInvalidFix.
func DecodeFix(data []byte) (Fix, error) {
	var p fixJSON
	if err := json.Unmarshal(data, &p); err != nil {
		return Fix{}, fmt.Errorf("%w: %v", ErrInvalidFix, err)
	}
	if p.Lat == nil || p.Lon == nil {
		return Fix{}, fmt.Errorf("%w: lat and lon are required", ErrInvalidFix)
	}
	fix := Fix{Lat: *p.Lat, Lon: *p.Lon}
	if err := fix.Validate(); err != nil {
		return Fix{}, err
	}
	return fix, nil
}
