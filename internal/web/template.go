package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/telemetry-engine/internal/engine"
	"github.com/sweeney/telemetry-engine/internal/units"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"f1": func(v float64) string { return fmt.Sprintf("%.1f", v) },
	"f2": func(v float64) string { return fmt.Sprintf("%.2f", v) },
	"pct": func(v float64) string { return fmt.Sprintf("%.0f%%", v*100) },
	"deref": func(p *float64) float64 {
		if p == nil {
			return 0
		}
		return *p
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Vehicle Telemetry</title>
<style>
body { font-family: monospace; max-width: 760px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.ALERT { color: red; font-weight: bold; }
.OK { color: green; }
.connected { color: green; }
.disconnected { color: red; }
canvas { width: 100%; height: 120px; background: #111; }
</style>
</head>
<body>
<h1>Vehicle Telemetry</h1>

<h2>Live</h2>
<table>
<tr><th>Heart rate</th><td id="hr">{{f1 .HeartRate}} bpm</td></tr>
<tr><th>Speed</th><td id="speed">{{f1 .SpeedDisplay}} {{.SpeedLabel}}</td></tr>
<tr><th>Distance</th><td id="distance">{{f1 .Path.DistanceMeters}} m ({{len .Path.Points}} fixes)</td></tr>
<tr><th>Flow</th><td id="flow">{{pct .Metrics.FlowSpeed}}</td></tr>
{{with .Metrics.LastSample}}{{if .Temp}}<tr><th>Temperature</th><td>{{f1 (deref .Temp)}} &deg;C</td></tr>{{end}}{{end}}
</table>
<canvas id="ecg" width="720" height="120"></canvas>

<h2>Session</h2>
<table>
<tr><th>Session</th><td>{{.SessionID}}</td></tr>
<tr><th>Age</th><td>{{uptime .SessionAge}}</td></tr>
<tr><th>Readings</th><td id="readings">{{.Metrics.ReadingsCount}}</td></tr>
<tr><th>Peak heart rate</th><td>{{f1 .Metrics.HRPeak}} bpm</td></tr>
<tr><th>Peak gas</th><td>{{f1 .Metrics.GasPeak}} ppm</td></tr>
<tr><th>Peak accel</th><td>{{f2 .Metrics.AccelPeak}} g</td></tr>
<tr><th>IR alerts</th><td>{{.Metrics.IRAlerts}} / {{.Metrics.IRTotal}}</td></tr>
{{if .HistorySummary.Count}}<tr><th>Temperature</th><td>{{f1 .HistorySummary.Mean}} &plusmn; {{f1 .HistorySummary.StdDev}} &deg;C ({{f1 .HistorySummary.Min}} to {{f1 .HistorySummary.Max}})</td></tr>{{end}}
</table>
<form method="post" action="/api/reset"><button type="submit">New session</button></form>

<h2>Event log</h2>
<table id="log">
{{range .Metrics.Log}}<tr><td>#{{.ID}}</td><td>{{.Time}}</td><td class="{{.Severity}}">{{.Severity}}</td><td>{{.Text}}</td></tr>
{{else}}<tr><td>no readings yet</td></tr>
{{end}}</table>

<h2>System</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
<tr><th>Telemetry URL</th><td>{{if .Config.TelemetryURL}}{{.Config.TelemetryURL}}{{else}}disabled{{end}}</td></tr>
<tr><th>Serial</th><td>{{if .Config.SerialPort}}{{.Config.SerialPort}}{{else}}disabled{{end}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
</table>

<p><a href="/index.json">JSON</a> &middot; <a href="/api/ecg">ECG</a> &middot; <a href="/api/history">History</a></p>
<script>
(function() {
  var canvas = document.getElementById("ecg");
  var ctx = canvas.getContext("2d");

  function draw(samples) {
    ctx.fillStyle = "#111";
    ctx.fillRect(0, 0, canvas.width, canvas.height);
    if (!samples.length) return;
    ctx.strokeStyle = "#3f3";
    ctx.beginPath();
    var step = canvas.width / Math.max(samples.length - 1, 1);
    samples.forEach(function(v, i) {
      var y = canvas.height * (0.7 - v * 0.5);
      if (i === 0) ctx.moveTo(0, y); else ctx.lineTo(i * step, y);
    });
    ctx.stroke();
  }

  function poll() {
    fetch("/api/ecg", { cache: "no-store" }).then(function(r) { return r.json(); }).then(function(d) {
      draw(d.samples);
      document.getElementById("hr").textContent = d.heart_rate.toFixed(1) + " bpm";
    }).catch(function() {});
    fetch("/index.json", { cache: "no-store" }).then(function(r) { return r.json(); }).then(function(d) {
      var s = d.state;
      document.getElementById("speed").textContent = s.speed.display.toFixed(1) + " " + "{{.SpeedLabel}}";
      document.getElementById("distance").textContent = s.path.distance_m.toFixed(1) + " m (" + s.path.point_count + " fixes)";
      document.getElementById("flow").textContent = Math.round(s.flow_speed * 100) + "%";
      document.getElementById("readings").textContent = s.readings;
    }).catch(function() {});
  }

  poll();
  setInterval(poll, 500);
})();
</script>
</body>
</html>
`

type pageData struct {
	engine.Snapshot
	Uptime       time.Duration
	SessionAge   time.Duration
	SpeedDisplay float64
	SpeedLabel   string
}

func renderHTML(w io.Writer, snap engine.Snapshot) error {
	unit := snap.Config.SpeedUnits
	return indexTmpl.Execute(w, pageData{
		Snapshot:     snap,
		Uptime:       snap.Uptime(),
		SessionAge:   snap.SessionAge(),
		SpeedDisplay: units.ConvertSpeed(snap.Velocity.SpeedMps, unit),
		SpeedLabel:   units.Label(unit),
	})
}
