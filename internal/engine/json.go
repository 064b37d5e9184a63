package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweeney/telemetry-engine/internal/history"
	"github.com/sweeney/telemetry-engine/internal/telemetry"
	"github.com/sweeney/telemetry-engine/internal/units"
)

// StateJSON is the top-level JSON envelope for state output.
type StateJSON struct {
	State StateInner `json:"state"`
}

// StateInner contains the derived metrics.
type StateInner struct {
	Event          string            `json:"event,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	SessionID      string            `json:"session_id"`
	SessionStart   string            `json:"session_start"`
	Timestamp      string            `json:"timestamp"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	Readings       int               `json:"readings"`
	Peaks          PeaksJSON         `json:"peaks"`
	IR             IRJSON            `json:"ir"`
	FlowSpeed      float64           `json:"flow_speed"`
	Speed          SpeedJSON         `json:"speed"`
	Path           PathJSON          `json:"path"`
	HeartRate      float64           `json:"heart_rate"`
	LastSample     *telemetry.Sample `json:"last_sample,omitempty"`
	Log            []LogJSON         `json:"log"`
	MQTT           MQTTStatus        `json:"mqtt"`
	Config         *ConfigJSON       `json:"config,omitempty"`
	HistorySummary history.Summary   `json:"temperature"`
}

// PeaksJSON holds the per-session maxima.
type PeaksJSON struct {
	HeartRate float64 `json:"heart_rate"`
	Gas       float64 `json:"gas"`
	Accel     float64 `json:"accel"`
}

// IRJSON holds the obstacle counters.
type IRJSON struct {
	Total  int `json:"total"`
	Alerts int `json:"alerts"`
}

// SpeedJSON reports speed in m/s and in the configured display units.
type SpeedJSON struct {
	MPS     float64 `json:"mps"`
	Display float64 `json:"display"`
	Units   string  `json:"units"`
}

// PathJSON reports the travelled path. Points are omitted from MQTT payloads.
type PathJSON struct {
	DistanceMeters float64         `json:"distance_m"`
	PointCount     int             `json:"point_count"`
	Points         []telemetry.Fix `json:"points,omitempty"`
}

// LogJSON is one event-log line.
type LogJSON struct {
	ID       uint64 `json:"id"`
	Time     string `json:"time"`
	Severity string `json:"severity"`
	Text     string `json:"text"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs       int64  `json:"poll_ms"`
	PublishMs    int64  `json:"publish_ms"`
	TelemetryURL string `json:"telemetry_url,omitempty"`
	Broker       string `json:"broker,omitempty"`
	SerialPort   string `json:"serial_port,omitempty"`
	ObstaclePin  int    `json:"obstacle_pin"`
	HTTPAddr     string `json:"http_addr"`
	SpeedUnits   string `json:"speed_units"`
}

// ECGJSON is the waveform buffer for plotting.
type ECGJSON struct {
	HeartRate float64   `json:"heart_rate"`
	RateHz    int       `json:"rate_hz"`
	Samples   []float64 `json:"samples"`
}

// HistoryJSON is the temperature series with its summary.
type HistoryJSON struct {
	Summary history.Summary `json:"summary"`
	Points  []history.Point `json:"points"`
}

func buildInner(snap Snapshot) StateInner {
	unit := snap.Config.SpeedUnits
	if !units.IsValid(unit) {
		unit = units.MPS
	}

	log := make([]LogJSON, len(snap.Metrics.Log))
	for i, e := range snap.Metrics.Log {
		log[i] = LogJSON{ID: e.ID, Time: e.Time, Severity: string(e.Severity), Text: e.Text}
	}

	return StateInner{
		SessionID:     snap.SessionID,
		SessionStart:  snap.Metrics.SessionStart.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		Readings:      snap.Metrics.ReadingsCount,
		Peaks: PeaksJSON{
			HeartRate: snap.Metrics.HRPeak,
			Gas:       snap.Metrics.GasPeak,
			Accel:     snap.Metrics.AccelPeak,
		},
		IR:        IRJSON{Total: snap.Metrics.IRTotal, Alerts: snap.Metrics.IRAlerts},
		FlowSpeed: snap.Metrics.FlowSpeed,
		Speed: SpeedJSON{
			MPS:     snap.Velocity.SpeedMps,
			Display: units.ConvertSpeed(snap.Velocity.SpeedMps, unit),
			Units:   unit,
		},
		Path: PathJSON{
			DistanceMeters: snap.Path.DistanceMeters,
			PointCount:     len(snap.Path.Points),
		},
		HeartRate:      snap.HeartRate,
		LastSample:     snap.Metrics.LastSample,
		Log:            log,
		MQTT:           MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		HistorySummary: snap.HistorySummary,
	}
}

func buildConfig(snap Snapshot) *ConfigJSON {
	return &ConfigJSON{
		PollMs:       snap.Config.PollMs,
		PublishMs:    snap.Config.PublishMs,
		TelemetryURL: snap.Config.TelemetryURL,
		Broker:       snap.Config.Broker,
		SerialPort:   snap.Config.SerialPort,
		ObstaclePin:  snap.Config.ObstaclePin,
		HTTPAddr:     snap.Config.HTTPAddr,
		SpeedUnits:   snap.Config.SpeedUnits,
	}
}

// FormatJSON returns the full state for the web endpoint, path points and
// config included.
func FormatJSON(snap Snapshot) ([]byte, error) {
	inner := buildInner(snap)
	inner.Path.Points = snap.Path.Points
	inner.Config = buildConfig(snap)

	data, err := json.MarshalIndent(StateJSON{State: inner}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return data, nil
}

// FormatStatePayload returns the compact state for MQTT. event and reason are
// set for lifecycle events and empty for periodic updates.
func FormatStatePayload(snap Snapshot, event, reason string) ([]byte, error) {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	if event == "STARTUP" {
		inner.Config = buildConfig(snap)
	}

	data, err := json.Marshal(StateJSON{State: inner})
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return data, nil
}

// FormatECGJSON returns the waveform buffer.
func FormatECGJSON(snap Snapshot) ([]byte, error) {
	samples := snap.ECG
	if samples == nil {
		samples = []float64{}
	}
	data, err := json.Marshal(ECGJSON{
		HeartRate: snap.HeartRate,
		RateHz:    telemetry.SynthRateHz,
		Samples:   samples,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal ecg: %w", err)
	}
	return data, nil
}

// FormatHistoryJSON returns the temperature series.
func FormatHistoryJSON(snap Snapshot) ([]byte, error) {
	points := snap.History
	if points == nil {
		points = []history.Point{}
	}
	data, err := json.Marshal(HistoryJSON{Summary: snap.HistorySummary, Points: points})
	if err != nil {
		return nil, fmt.Errorf("marshal history: %w", err)
	}
	return data, nil
}
