package engine

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sweeney/telemetry-engine/internal/telemetry"
)

var start = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

const frame = `------ DATA ------
IR: OBSTACLE DETECTED
Accel: 0.162, 0.078, 1.013
Temp (C): 25.49
Humidity (%): 54.42
BPM: 78
Gas: 142
`

func newEngine(t *testing.T) *Engine {
	t.Helper()
	return New(start, Config{SpeedUnits: "kph", Broker: "tcp://localhost:1883"}, zap.NewNop())
}

func TestNewEngine(t *testing.T) {
	e := newEngine(t)
	snap := e.Snapshot()

	assert.True(t, snap.StartTime.Equal(start))
	assert.True(t, snap.Metrics.SessionStart.Equal(start))
	assert.NotEmpty(t, snap.SessionID)
	assert.Equal(t, telemetry.FlowSpeedMin, snap.Metrics.FlowSpeed)
	assert.Zero(t, snap.Metrics.ReadingsCount)
	assert.Empty(t, snap.Metrics.Log)
	assert.Empty(t, snap.Path.Points)
	assert.Zero(t, snap.Velocity.SpeedMps)
	assert.Empty(t, snap.ECG)
	assert.False(t, snap.MQTTConnected)
	assert.Equal(t, "kph", snap.Config.SpeedUnits)
}

func TestNewEngineNilLogger(t *testing.T) {
	e := New(start, Config{}, nil)
	assert.NotPanics(t, func() { e.Reset(start) })
}

func TestIngestUpdatesAllDerivedState(t *testing.T) {
	e := newEngine(t)

	entry := e.Ingest(telemetry.Sample{
		Ax: telemetry.Ptr(-0.2), Ay: telemetry.Ptr(0.0), Az: telemetry.Ptr(1.0),
		BPM: telemetry.Ptr(72), Temp: telemetry.Ptr(21.0),
		TMs: telemetry.Ptr(int64(1000)),
	}, start)
	assert.Equal(t, uint64(1), entry.ID)

	e.Ingest(telemetry.Sample{
		Ax: telemetry.Ptr(-0.2), Ay: telemetry.Ptr(0.0), Az: telemetry.Ptr(1.0),
		TMs: telemetry.Ptr(int64(2000)),
	}, start.Add(time.Second))

	snap := e.Snapshot()
	assert.Equal(t, 2, snap.Metrics.ReadingsCount)
	assert.Equal(t, 72.0, snap.HeartRate, "bpm reaches the synthesizer")
	assert.InDelta(t, 0.2*telemetry.Gravity, snap.Velocity.SpeedMps, 1e-9)
	require.Len(t, snap.History, 1)
	assert.Equal(t, 21.0, snap.History[0].Temp)
	assert.Equal(t, uint64(2), snap.Metrics.Log[0].ID)
}

func TestInjectFrame(t *testing.T) {
	e := newEngine(t)
	entry, err := e.InjectFrame(frame, start)
	require.NoError(t, err)
	assert.Equal(t, telemetry.SeverityAlert, entry.Severity)

	snap := e.Snapshot()
	assert.Equal(t, 1, snap.Metrics.ReadingsCount)
	assert.Equal(t, 1, snap.Metrics.IRAlerts)
	assert.Equal(t, 142.0, snap.Metrics.GasPeak)
	assert.Equal(t, 78.0, snap.HeartRate)
}

func TestInjectFrameFailureLeavesStateUntouched(t *testing.T) {
	e := newEngine(t)
	_, err := e.InjectFrame(frame, start)
	require.NoError(t, err)
	before := e.Snapshot()

	_, err = e.InjectFrame("------ DATA ------\nBPM: 200\nGas: ???", start.Add(time.Second))
	require.Error(t, err)
	assert.True(t, errors.Is(err, telemetry.ErrMalformedFrame))

	after := e.Snapshot()
	opt := cmp.FilterPath(func(p cmp.Path) bool { return p.String() == "Now" }, cmp.Ignore())
	if diff := cmp.Diff(before, after, opt); diff != "" {
		t.Errorf("state changed after parse failure (-before +after):\n%s", diff)
	}
}

func TestAddFix(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.AddFix(telemetry.Fix{Lat: 43.7347, Lon: 7.4205}))
	require.NoError(t, e.AddFix(telemetry.Fix{Lat: 43.7347, Lon: 7.4205}))
	snap := e.Snapshot()
	assert.Equal(t, 0.0, snap.Path.DistanceMeters)
	assert.Len(t, snap.Path.Points, 2)

	require.NoError(t, e.AddFix(telemetry.Fix{Lat: 43.7357, Lon: 7.4205}))
	assert.InDelta(t, 111.19, e.Snapshot().Path.DistanceMeters, 0.01)
}

func TestAddFixRejectsInvalid(t *testing.T) {
	e := newEngine(t)
	err := e.AddFix(telemetry.Fix{Lat: math.NaN(), Lon: 0})
	assert.ErrorIs(t, err, telemetry.ErrInvalidFix)
	assert.Empty(t, e.Snapshot().Path.Points)
}

func TestTickFollowsHeartRate(t *testing.T) {
	e := newEngine(t)
	_, ok := e.Tick()
	assert.False(t, ok, "idle before any heart rate")

	e.Ingest(telemetry.Sample{BPM: telemetry.Ptr(60)}, start)
	for i := 0; i < 3; i++ {
		_, ok = e.Tick()
		assert.True(t, ok)
	}
	assert.Len(t, e.Snapshot().ECG, 3)
}

func TestResetClearsSessionButNotSynth(t *testing.T) {
	e := newEngine(t)
	_, err := e.InjectFrame(frame, start)
	require.NoError(t, err)
	e.Ingest(telemetry.Sample{
		Ax: telemetry.Ptr(-1.0), Ay: telemetry.Ptr(0.0), Az: telemetry.Ptr(1.0),
		TMs: telemetry.Ptr(int64(500)),
	}, start)
	e.Ingest(telemetry.Sample{
		Ax: telemetry.Ptr(-1.0), Ay: telemetry.Ptr(0.0), Az: telemetry.Ptr(1.0),
		TMs: telemetry.Ptr(int64(1500)),
	}, start)
	require.NoError(t, e.AddFix(telemetry.Fix{Lat: 1, Lon: 1}))
	require.NoError(t, e.AddFix(telemetry.Fix{Lat: 1.01, Lon: 1}))
	e.Tick()

	old := e.Snapshot()
	require.Greater(t, old.Velocity.SpeedMps, 0.0)
	require.Greater(t, old.Path.DistanceMeters, 0.0)

	resetAt := start.Add(time.Hour)
	id := e.Reset(resetAt)
	snap := e.Snapshot()

	assert.NotEqual(t, old.SessionID, id)
	assert.Equal(t, id, snap.SessionID)
	assert.True(t, snap.Metrics.SessionStart.Equal(resetAt))
	assert.Zero(t, snap.Metrics.ReadingsCount)
	assert.Zero(t, snap.Metrics.HRPeak)
	assert.Zero(t, snap.Metrics.GasPeak)
	assert.Zero(t, snap.Metrics.AccelPeak)
	assert.Zero(t, snap.Metrics.IRTotal)
	assert.Zero(t, snap.Metrics.IRAlerts)
	assert.Equal(t, telemetry.FlowSpeedMin, snap.Metrics.FlowSpeed)
	assert.Nil(t, snap.Metrics.LastSample)
	assert.Empty(t, snap.Metrics.Log)
	assert.Zero(t, snap.Path.DistanceMeters)
	assert.Empty(t, snap.Path.Points)
	assert.Nil(t, snap.Path.LastFix)
	assert.Zero(t, snap.Velocity.SpeedMps)
	assert.Nil(t, snap.Velocity.LastAccelMs)
	assert.Empty(t, snap.History)

	assert.Equal(t, 78.0, snap.HeartRate, "synthesizer keeps the live rate")
	assert.Len(t, snap.ECG, 1, "synthesizer buffer survives reset")

	// log ids stay unique across sessions
	entry := e.Ingest(telemetry.Sample{}, resetAt)
	assert.Equal(t, uint64(4), entry.ID)
}

func TestSnapshotIsCopy(t *testing.T) {
	e := newEngine(t)
	e.Ingest(telemetry.Sample{BPM: telemetry.Ptr(70)}, start)
	require.NoError(t, e.AddFix(telemetry.Fix{Lat: 1, Lon: 2}))

	snap := e.Snapshot()
	snap.Metrics.Log[0].Text = "mutated"
	*snap.Metrics.LastSample.BPM = 1
	snap.Path.Points[0].Lat = 50
	snap.Path.LastFix.Lat = 50

	fresh := e.Snapshot()
	assert.NotEqual(t, "mutated", fresh.Metrics.Log[0].Text)
	assert.Equal(t, 70, *fresh.Metrics.LastSample.BPM)
	assert.Equal(t, 1.0, fresh.Path.Points[0].Lat)
	assert.Equal(t, 1.0, fresh.Path.LastFix.Lat)
}

func TestSetMQTTConnected(t *testing.T) {
	e := newEngine(t)
	e.SetMQTTConnected(true)
	assert.True(t, e.Snapshot().MQTTConnected)
	e.SetMQTTConnected(false)
	assert.False(t, e.Snapshot().MQTTConnected)
}

func TestSnapshotUptime(t *testing.T) {
	snap := Snapshot{StartTime: start, Now: start.Add(15 * time.Minute)}
	snap.Metrics.SessionStart = start.Add(10 * time.Minute)
	assert.Equal(t, 15*time.Minute, snap.Uptime())
	assert.Equal(t, 5*time.Minute, snap.SessionAge())
}

// TestConcurrentProducers exercises every entry point at once. Run with -race.
func TestConcurrentProducers(t *testing.T) {
	e := newEngine(t)
	var wg sync.WaitGroup
	const n = 200

	wg.Add(5)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			e.Ingest(telemetry.Sample{
				Ax: telemetry.Ptr(-0.1), Ay: telemetry.Ptr(0.0), Az: telemetry.Ptr(1.0),
				BPM: telemetry.Ptr(60 + i%40), Gas: telemetry.Ptr(i),
				IR:  telemetry.Ptr(telemetry.IRObstacle),
				TMs: telemetry.Ptr(int64(i * 100)),
			}, start)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			_ = e.AddFix(telemetry.Fix{Lat: 10 + float64(i)*1e-4, Lon: 10})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			e.Tick()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			e.Reset(start)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			snap := e.Snapshot()
			if snap.Metrics.IRAlerts > snap.Metrics.IRTotal {
				t.Errorf("irAlerts %d > irTotal %d", snap.Metrics.IRAlerts, snap.Metrics.IRTotal)
			}
			if len(snap.Metrics.Log) > telemetry.MaxLogEntries {
				t.Errorf("log length %d", len(snap.Metrics.Log))
			}
			if snap.Velocity.SpeedMps < 0 {
				t.Errorf("negative speed %v", snap.Velocity.SpeedMps)
			}
		}
	}()
	wg.Wait()

	snap := e.Snapshot()
	assert.LessOrEqual(t, snap.Metrics.ReadingsCount, n)
	assert.LessOrEqual(t, len(snap.ECG), telemetry.SynthBufferLen)
}

func TestIngestOverflowingAccelKeepsStateEncodable(t *testing.T) {
	e := newEngine(t)
	for i, ax := range []float64{-1e308, -1e308, 1e308, 1e200} {
		e.Ingest(telemetry.Sample{
			Ax:  telemetry.Ptr(ax),
			Ay:  telemetry.Ptr(1e200),
			Az:  telemetry.Ptr(1e200),
			TMs: telemetry.Ptr(int64(1000 * (i + 1))),
		}, start)
	}

	snap := e.Snapshot()
	assert.Equal(t, 4, snap.Metrics.ReadingsCount)
	assert.Zero(t, snap.Metrics.AccelPeak)
	assert.Zero(t, snap.Velocity.SpeedMps)
	assert.False(t, math.IsNaN(snap.Velocity.SpeedMps))

	data, err := FormatJSON(snap)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	_, err = FormatStatePayload(snap, "", "")
	require.NoError(t, err)
}
