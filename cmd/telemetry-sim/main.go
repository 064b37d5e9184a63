// Command telemetry-sim serves a fake vehicle telemetry endpoint for running
// telemetry-engine without hardware.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"math/rand/v2"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/telemetry-engine/internal/logging"
	"github.com/sweeney/telemetry-engine/internal/telemetry"
	"github.com/sweeney/telemetry-engine/internal/transport"
)

// Starting position, San Francisco.
const (
	startLat = 37.7749
	startLon = -122.4194

	// stepDeg bounds each coordinate's move per request (about 28 m).
	stepDeg = 0.00025
)

// simulator produces one document per request, walking the position and
// jittering the sensors around plausible values.
type simulator struct {
	mu    sync.Mutex
	rng   *rand.Rand
	start time.Time
	now   func() time.Time
	lat   float64
	lon   float64
}

func newSimulator(rng *rand.Rand, now func() time.Time) *simulator {
	return &simulator{rng: rng, start: now(), now: now, lat: startLat, lon: startLon}
}

func (s *simulator) next() transport.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lat += (s.rng.Float64()*2 - 1) * stepDeg
	s.lon += (s.rng.Float64()*2 - 1) * stepDeg

	ir := telemetry.IRClear
	if s.rng.IntN(10) == 0 {
		ir = telemetry.IRObstacle
	}
	tMs := s.now().Sub(s.start).Milliseconds()
	lat, lon := s.lat, s.lon

	return transport.Document{
		Sample: telemetry.Sample{
			Ax:   telemetry.Ptr(s.jitter(0, 0.3)),
			Ay:   telemetry.Ptr(s.jitter(0, 0.3)),
			Az:   telemetry.Ptr(s.jitter(1, 0.05)),
			Temp: telemetry.Ptr(s.jitter(24, 2)),
			Hum:  telemetry.Ptr(s.jitter(50, 5)),
			BPM:  telemetry.Ptr(70 + s.rng.IntN(30)),
			Gas:  telemetry.Ptr(100 + s.rng.IntN(200)),
			IR:   &ir,
			TMs:  &tMs,
		},
		Lat: &lat,
		Lon: &lon,
	}
}

// jitter returns a value uniformly within spread of center.
func (s *simulator) jitter(center, spread float64) float64 {
	return center + (s.rng.Float64()*2-1)*spread
}

func (s *simulator) handler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "application/json")

		doc := s.next()
		data, err := json.Marshal(doc)
		if err != nil {
			http.Error(w, "error generating JSON", http.StatusInternalServerError)
			return
		}
		w.Write(data)
		logger.Debug("sent telemetry", zap.Float64("lat", *doc.Lat), zap.Float64("lon", *doc.Lon))
	}
}

func main() {
	addr := flag.String("http", ":8081", "listen address")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "random seed")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger, err := logging.NewLogger(*level, "console", "telemetry-sim")
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	sim := newSimulator(rand.New(rand.NewPCG(*seed, *seed)), time.Now)
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+transport.Path, sim.handler(logger))

	logger.Info("telemetry simulator running", zap.String("addr", *addr), zap.String("path", transport.Path))
	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server error", zap.Error(err))
	}
}
