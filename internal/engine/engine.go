// Package engine owns the derived telemetry state and serializes every update
// to it. It is read by the HTTP handlers and the MQTT state publisher.
package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sweeney/telemetry-engine/internal/history"
	"github.com/sweeney/telemetry-engine/internal/telemetry"
)

// Config contains daemon configuration for display.
type Config struct {
	PollMs       int64
	PublishMs    int64
	TelemetryURL string
	Broker       string
	SerialPort   string
	ObstaclePin  int
	HTTPAddr     string
	SpeedUnits   string
}

// Snapshot is a point-in-time view of engine state.
// It is a value type with its own copies of every slice, safe to use after
// the lock is released.
type Snapshot struct {
	SessionID      string
	Metrics        telemetry.Metrics
	Path           telemetry.PathState
	Velocity       telemetry.VelocityState
	HeartRate      float64
	ECG            []float64
	History        []history.Point
	HistorySummary history.Summary
	StartTime      time.Time
	Now            time.Time
	MQTTConnected  bool
	Config         Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// SessionAge returns the duration since the last reset.
func (s Snapshot) SessionAge() time.Duration {
	return s.Now.Sub(s.Metrics.SessionStart)
}

// Engine holds the five state structures behind one RWMutex. Every mutation
// reads the current value, derives the next one with the telemetry package
// and stores it before the lock is released.
type Engine struct {
	mu     sync.RWMutex
	logger *zap.Logger

	startTime     time.Time
	cfg           Config
	sessionID     string
	metrics       telemetry.Metrics
	path          telemetry.PathState
	velocity      telemetry.VelocityState
	synth         *telemetry.Synth
	history       *history.Series
	nextLogID     uint64
	mqttConnected bool
}

// New creates an Engine whose first session starts at startTime.
func New(startTime time.Time, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		logger:    logger,
		startTime: startTime,
		cfg:       cfg,
		synth:     telemetry.NewSynth(),
	}
	e.resetLocked(startTime)
	return e
}

// Ingest folds one sample into the state and returns the log entry it produced.
func (e *Engine) Ingest(s telemetry.Sample, now time.Time) telemetry.LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.velocity = telemetry.IntegrateSample(e.velocity, s)
	if s.BPM != nil {
		e.synth.SetHeartRate(float64(*s.BPM))
	}
	e.nextLogID++
	e.metrics = telemetry.Fold(e.metrics, s, now, e.nextLogID)
	if s.Temp != nil {
		e.history.Add(history.Point{Time: now, Temp: *s.Temp, Humidity: s.Hum})
	}
	return e.metrics.Log[0]
}

// InjectFrame parses a raw text frame and ingests it. A parse failure is
// returned unchanged and leaves the state untouched.
func (e *Engine) InjectFrame(text string, now time.Time) (telemetry.LogEntry, error) {
	s, err := telemetry.ParseFrame(text)
	if err != nil {
		return telemetry.LogEntry{}, err
	}
	return e.Ingest(s, now), nil
}

// AddFix extends the path with a GPS fix.
func (e *Engine) AddFix(fix telemetry.Fix) error {
	if err := fix.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.path = telemetry.Accumulate(e.path, fix)
	e.mu.Unlock()
	return nil
}

// Tick advances the waveform synthesizer by one step.
func (e *Engine) Tick() (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.synth.Tick()
}

// Reset starts a new session. Metrics, path, velocity and history go back to
// their initial values; the synthesizer keeps following the live heart rate.
func (e *Engine) Reset(now time.Time) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked(now)
	e.logger.Info("session reset", zap.String("session_id", e.sessionID))
	return e.sessionID
}

func (e *Engine) resetLocked(now time.Time) {
	e.sessionID = uuid.NewString()
	e.metrics = telemetry.NewMetrics(now)
	e.path = telemetry.PathState{}
	e.velocity = telemetry.VelocityState{}
	e.history = history.New(history.DefaultCapacity)
}

// SetMQTTConnected sets the MQTT connection status.
func (e *Engine) SetMQTTConnected(connected bool) {
	e.mu.Lock()
	e.mqttConnected = connected
	e.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the engine state.
// The Now field is set to the current time at the moment of the call.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	s := Snapshot{
		SessionID:      e.sessionID,
		Metrics:        copyMetrics(e.metrics),
		Path:           copyPath(e.path),
		Velocity:       copyVelocity(e.velocity),
		HeartRate:      e.synth.HeartRate(),
		ECG:            e.synth.Buffer(),
		History:        e.history.Points(),
		HistorySummary: e.history.Summary(),
		StartTime:      e.startTime,
		MQTTConnected:  e.mqttConnected,
		Config:         e.cfg,
	}
	e.mu.RUnlock()
	s.Now = time.Now()
	return s
}

func copyMetrics(m telemetry.Metrics) telemetry.Metrics {
	out := m
	out.Log = append([]telemetry.LogEntry(nil), m.Log...)
	if m.LastSample != nil {
		last := m.LastSample.Clone()
		out.LastSample = &last
	}
	return out
}

func copyPath(p telemetry.PathState) telemetry.PathState {
	out := p
	out.Points = append([]telemetry.Fix(nil), p.Points...)
	if p.LastFix != nil {
		f := *p.LastFix
		out.LastFix = &f
	}
	return out
}

func copyVelocity(v telemetry.VelocityState) telemetry.VelocityState {
	out := v
	if v.LastAccelMs != nil {
		ts := *v.LastAccelMs
		out.LastAccelMs = &ts
	}
	return out
}
