package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/telemetry-engine/internal/engine"
	"github.com/sweeney/telemetry-engine/internal/telemetry"
)

const frame = `------ DATA ------
IR: CLEAR
Accel: 0.162, 0.078, 1.013
Temp (C): 25.49
Humidity (%): 54.42
BPM: 78
Gas: 142
`

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()
	cfg := engine.Config{
		PollMs:     500,
		PublishMs:  1000,
		Broker:     "tcp://192.168.1.200:1883",
		HTTPAddr:   ":8080",
		SpeedUnits: "kph",
	}
	eng := engine.New(start, cfg, nil)
	srv := New(":0", eng, nil)
	srv.now = func() time.Time { return start.Add(time.Minute) }
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, eng
}

func post(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "text/plain", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func getState(t *testing.T, ts *httptest.Server) engine.StateInner {
	t.Helper()
	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()
	var sj engine.StateJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return sj.State
}

func TestJSONEndpoint(t *testing.T) {
	ts, eng := newTestServer(t)
	eng.SetMQTTConnected(true)

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var sj engine.StateJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if !sj.State.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.State.MQTT.Broker != "tcp://192.168.1.200:1883" {
		t.Errorf("MQTT.Broker: got %q", sj.State.MQTT.Broker)
	}
	if sj.State.Config == nil || sj.State.Config.PollMs != 500 {
		t.Errorf("Config: got %+v", sj.State.Config)
	}
	if sj.State.FlowSpeed != telemetry.FlowSpeedMin {
		t.Errorf("FlowSpeed: got %v, want %v", sj.State.FlowSpeed, telemetry.FlowSpeedMin)
	}
}

func TestHTMLEndpointRoot(t *testing.T) {
	ts, eng := newTestServer(t)
	if _, err := eng.InjectFrame(frame, start); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type: got %q, want text/html", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"Vehicle Telemetry", "hr=78 bpm", "km/h", "25.5"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestHTMLEndpointIndexHTML(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/index.html")
	if err != nil {
		t.Fatalf("GET /index.html: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/reset", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /api/reset: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", resp.StatusCode)
	}
}

func TestPostFrame(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := post(t, ts.URL+"/api/frame", frame)
	if resp.StatusCode != 200 {
		t.Fatalf("status: got %d, want 200 (%s)", resp.StatusCode, body)
	}
	var entry logEntryJSON
	if err := json.Unmarshal(body, &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry.ID != 1 || entry.Severity != "OK" || entry.Time != "00:01:00" {
		t.Errorf("entry: got %+v", entry)
	}

	state := getState(t, ts)
	if state.Readings != 1 {
		t.Errorf("Readings: got %d, want 1", state.Readings)
	}
	if state.Peaks.Gas != 142 {
		t.Errorf("Peaks.Gas: got %v, want 142", state.Peaks.Gas)
	}
}

func TestPostFrameParseError(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := post(t, ts.URL+"/api/frame", "------ DATA ------\nBPM: fast\n")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", resp.StatusCode)
	}
	var e errorJSON
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Line != 2 || e.Key != "BPM" || e.Error == "" {
		t.Errorf("error body: got %+v", e)
	}
	if getState(t, ts).Readings != 0 {
		t.Error("a rejected frame must not be counted")
	}
}

func TestPostGPS(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, body := range []string{`{"lat":43.7347,"lon":7.4205}`, `{"lat":43.7357,"lon":7.4205}`} {
		if resp, data := post(t, ts.URL+"/api/gps", body); resp.StatusCode != 200 {
			t.Fatalf("status: got %d (%s)", resp.StatusCode, data)
		}
	}

	state := getState(t, ts)
	if state.Path.PointCount != 2 {
		t.Errorf("PointCount: got %d, want 2", state.Path.PointCount)
	}
	if d := state.Path.DistanceMeters; d < 111 || d > 111.4 {
		t.Errorf("DistanceMeters: got %v, want ~111.2", d)
	}
}

func TestPostGPSRejectsInvalid(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, body := range []string{`{"lat":95,"lon":0}`, `{"lat":1}`, `nope`} {
		resp, _ := post(t, ts.URL+"/api/gps", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status got %d, want 400", body, resp.StatusCode)
		}
	}
	if getState(t, ts).Path.PointCount != 0 {
		t.Error("invalid fixes must not be recorded")
	}
}

func TestPostReset(t *testing.T) {
	ts, eng := newTestServer(t)
	if _, err := eng.InjectFrame(frame, start); err != nil {
		t.Fatal(err)
	}
	before := eng.Snapshot().SessionID

	resp, body := post(t, ts.URL+"/api/reset", "")
	if resp.StatusCode != 200 {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	var r resetJSON
	if err := json.Unmarshal(body, &r); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.SessionID == "" || r.SessionID == before {
		t.Errorf("SessionID: got %q, previous %q", r.SessionID, before)
	}

	state := getState(t, ts)
	if state.Readings != 0 || len(state.Log) != 0 {
		t.Errorf("state not reset: readings=%d log=%d", state.Readings, len(state.Log))
	}
	if state.SessionStart != start.Add(time.Minute).Format(time.RFC3339) {
		t.Errorf("SessionStart: got %q", state.SessionStart)
	}
}

func TestECGEndpoint(t *testing.T) {
	ts, eng := newTestServer(t)
	if _, err := eng.InjectFrame(frame, start); err != nil {
		t.Fatal(err)
	}
	eng.Tick()
	eng.Tick()

	resp, err := http.Get(ts.URL + "/api/ecg")
	if err != nil {
		t.Fatalf("GET /api/ecg: %v", err)
	}
	defer resp.Body.Close()

	var e engine.ECGJSON
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.HeartRate != 78 || len(e.Samples) != 2 || e.RateHz != 60 {
		t.Errorf("ecg: got %+v", e)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	ts, eng := newTestServer(t)
	if _, err := eng.InjectFrame(frame, start); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(ts.URL + "/api/history")
	if err != nil {
		t.Fatalf("GET /api/history: %v", err)
	}
	defer resp.Body.Close()

	var h engine.HistoryJSON
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(h.Points) != 1 || h.Points[0].Temp != 25.49 {
		t.Errorf("points: got %+v", h.Points)
	}
	if h.Summary.Count != 1 || h.Summary.Mean != 25.49 {
		t.Errorf("summary: got %+v", h.Summary)
	}
}

func TestPostResetFromDashboardRedirects(t *testing.T) {
	ts, _ := newTestServer(t)
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}

	resp, err := client.Post(ts.URL+"/api/reset", "application/x-www-form-urlencoded", strings.NewReader(""))
	if err != nil {
		t.Fatalf("POST /api/reset: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/" {
		t.Errorf("got %d to %q, want 303 to /", resp.StatusCode, resp.Header.Get("Location"))
	}
}

func TestOverflowingFrameKeepsJSONServed(t *testing.T) {
	ts, _ := newTestServer(t)

	huge := "------ DATA ------\nAccel: 1e200, 1e200, 1e200\nBPM: 70\n"
	if resp, body := post(t, ts.URL+"/api/frame", huge); resp.StatusCode != 200 {
		t.Fatalf("status: got %d (%s)", resp.StatusCode, body)
	}

	state := getState(t, ts)
	if state.Readings != 1 {
		t.Errorf("Readings: got %d, want 1", state.Readings)
	}
	if state.Peaks.Accel != 0 {
		t.Errorf("Peaks.Accel: got %v, want 0", state.Peaks.Accel)
	}
}
