package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/home-monitor/internal/status"
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
	"oneDP": func(v float64) string {
		return fmt.Sprintf("%.1f", v)
	},
	"stamp": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="10">
<title>Home Monitor</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Home Monitor</h1>

<h2>Climate</h2>
<table>
{{if .HasClimate}}<tr><th>Temperature</th><td id="temperature">{{oneDP .Climate.Temperature}} &deg;C</td></tr>
<tr><th>Humidity</th><td id="humidity">{{oneDP .Climate.Humidity}} %</td></tr>
<tr><th>Updated</th><td>{{stamp .Climate.Time}}</td></tr>
{{else}}<tr><th>Temperature</th><td id="temperature" class="unknown">no reading yet</td></tr>
{{end}}</table>

<h2>Motion</h2>
<table>
<tr><th>State</th><td id="motion" class="{{if .Motion}}on{{else}}off{{end}}">{{if .Motion}}DETECTED{{else}}CLEAR{{end}}</td></tr>
<tr><th>Since</th><td>{{stamp .MotionSince}}</td></tr>
<tr><th>Detections</th><td>{{.Detections}}</td></tr>
</table>

<h2>Keypad</h2>
<table>
<tr><th>Presses</th><td id="presses">{{.KeyPresses}}</td></tr>
<tr><th>Strategy</th><td>{{.Config.KeypadStrategy}}</td></tr>
</table>

<h2>Sensor</h2>
<table>
<tr><th>Attempts</th><td>{{.Sensor.Attempts}}</td></tr>
<tr><th>Published</th><td>{{.Sensor.Published}}</td></tr>
<tr><th>Failed cycles</th><td>{{.Sensor.FailedCycles}}</td></tr>
<tr><th>Checksum errors</th><td>{{.Sensor.ChecksumMismatches}}</td></tr>
<tr><th>Timeouts</th><td>{{.Sensor.HandshakeTimeouts}} handshake, {{.Sensor.BitTimeouts}} bit</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{stamp .StartTime}}</td></tr>
<tr><th>GPIO</th><td>{{.Config.Backend}} ({{.Config.Chip}})</td></tr>
<tr><th>Sample period</th><td>{{.Config.SamplePeriodMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/history.json">History</a> | <a href="/health">Health</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
