package status

import (
	"encoding/json"
	"math"
	"time"

	"github.com/sweeney/home-monitor/internal/dht"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Ready         bool         `json:"ready"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	Climate       *ClimateJSON `json:"climate,omitempty"`
	Motion        MotionJSON   `json:"motion"`
	Keypad        KeypadJSON   `json:"keypad"`
	Sensor        dht.Stats    `json:"sensor"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Config        ConfigJSON   `json:"config"`
}

// ClimateJSON is the last smoothed reading.
type ClimateJSON struct {
	Humidity    float64 `json:"humidity"`
	Temperature float64 `json:"temperature"`
	Timestamp   string  `json:"timestamp"`
}

// MotionJSON reports PIR state.
type MotionJSON struct {
	Active     bool   `json:"active"`
	Since      string `json:"since,omitempty"`
	Detections int    `json:"detections"`
}

// KeypadJSON reports keypad activity. Keys themselves are never exposed.
type KeypadJSON struct {
	Presses int `json:"presses"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Backend        string `json:"backend"`
	Chip           string `json:"chip"`
	KeypadStrategy string `json:"keypad_strategy"`
	SamplePeriodMs int64  `json:"sample_period_ms"`
	DebounceMs     int64  `json:"debounce_ms"`
	HeartbeatMs    int64  `json:"heartbeat_ms"`
	Broker         string `json:"broker"`
	HTTPAddr       string `json:"http_addr"`
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Ready:         snap.HasClimate,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Motion: MotionJSON{
			Active:     snap.Motion,
			Detections: snap.Detections,
		},
		Keypad: KeypadJSON{Presses: snap.KeyPresses},
		Sensor: snap.Sensor,
		MQTT:   MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			Backend:        snap.Config.Backend,
			Chip:           snap.Config.Chip,
			KeypadStrategy: snap.Config.KeypadStrategy,
			SamplePeriodMs: snap.Config.SamplePeriodMs,
			DebounceMs:     snap.Config.DebounceMs,
			HeartbeatMs:    snap.Config.HeartbeatMs,
			Broker:         snap.Config.Broker,
			HTTPAddr:       snap.Config.HTTPAddr,
		},
	}

	if !snap.MotionSince.IsZero() {
		inner.Motion.Since = snap.MotionSince.UTC().Format(time.RFC3339)
	}
	if snap.HasClimate {
		inner.Climate = &ClimateJSON{
			Humidity:    round1(snap.Climate.Humidity),
			Temperature: round1(snap.Climate.Temperature),
			Timestamp:   snap.Climate.Time.UTC().Format(time.RFC3339),
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
