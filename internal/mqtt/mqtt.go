// Package mqtt publishes monitor events to an MQTT broker, with a fake for
// testing.
package mqtt

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "home/monitor"

// Topics holds the full topic names derived from a prefix.
type Topics struct {
	Reading string
	Motion  string
	Keypad  string
	System  string
}

// NewTopics builds the topic set under prefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{
		Reading: prefix + "/reading",
		Motion:  prefix + "/motion",
		Keypad:  prefix + "/keypad",
		System:  prefix + "/system",
	}
}

// Publisher publishes monitor events.
type Publisher interface {
	// PublishReading sends a smoothed climate reading.
	PublishReading(event ReadingEvent) error

	// PublishMotion sends a motion state change.
	PublishMotion(event MotionEvent) error

	// PublishKeypad sends keypad activity. Key characters are never included.
	PublishKeypad(event KeypadEvent) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// ReadingEvent is one smoothed humidity/temperature value.
type ReadingEvent struct {
	Timestamp   time.Time
	Humidity    float64
	Temperature float64
}

// MotionEvent is a PIR state change.
type MotionEvent struct {
	Timestamp time.Time
	Detected  bool
}

// KeypadEvent reports that a key was pressed and the running press count.
type KeypadEvent struct {
	Timestamp time.Time
	Presses   int
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Motion states as published.
const (
	MotionDetected = "DETECTED"
	MotionClear    = "CLEAR"
)

// ReadingPayload is the JSON envelope for readings.
type ReadingPayload struct {
	Reading ReadingInner `json:"reading"`
}

// ReadingInner contains the reading details.
type ReadingInner struct {
	Timestamp   string  `json:"timestamp"`
	Humidity    float64 `json:"humidity"`
	Temperature float64 `json:"temperature"`
}

// MotionPayload is the JSON envelope for motion events.
type MotionPayload struct {
	Motion MotionInner `json:"motion"`
}

// MotionInner contains the motion details.
type MotionInner struct {
	Timestamp string `json:"timestamp"`
	State     string `json:"state"`
}

// KeypadPayload is the JSON envelope for keypad activity.
type KeypadPayload struct {
	Keypad KeypadInner `json:"keypad"`
}

// KeypadInner contains the keypad details.
type KeypadInner struct {
	Timestamp string `json:"timestamp"`
	Presses   int    `json:"presses"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// round1 keeps one decimal place, the sensor's resolution.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// FormatReadingPayload creates the JSON payload for a reading.
func FormatReadingPayload(event ReadingEvent) ([]byte, error) {
	return json.Marshal(ReadingPayload{
		Reading: ReadingInner{
			Timestamp:   formatTime(event.Timestamp),
			Humidity:    round1(event.Humidity),
			Temperature: round1(event.Temperature),
		},
	})
}

// FormatMotionPayload creates the JSON payload for a motion event.
func FormatMotionPayload(event MotionEvent) ([]byte, error) {
	state := MotionClear
	if event.Detected {
		state = MotionDetected
	}
	return json.Marshal(MotionPayload{
		Motion: MotionInner{Timestamp: formatTime(event.Timestamp), State: state},
	})
}

// FormatKeypadPayload creates the JSON payload for keypad activity.
func FormatKeypadPayload(event KeypadEvent) ([]byte, error) {
	return json.Marshal(KeypadPayload{
		Keypad: KeypadInner{Timestamp: formatTime(event.Timestamp), Presses: event.Presses},
	})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: formatTime(event.Timestamp),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// WillPayload is the last-will message the broker publishes if the
// connection drops without a clean disconnect.
func WillPayload() []byte {
	data, _ := json.Marshal(SystemPayload{System: SystemPayloadInner{Event: "OFFLINE"}})
	return data
}
