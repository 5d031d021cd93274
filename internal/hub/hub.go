// Package hub fans sensor readings, motion changes and key presses out to
// the daemon's sinks: MQTT, the status tracker, history and telemetry.
package hub

import (
	"context"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/home-monitor/internal/dht"
	"github.com/sweeney/home-monitor/internal/history"
	"github.com/sweeney/home-monitor/internal/keypad"
	"github.com/sweeney/home-monitor/internal/motion"
	"github.com/sweeney/home-monitor/internal/mqtt"
	"github.com/sweeney/home-monitor/internal/status"
)

const storeTimeout = 5 * time.Second

// Store is the write side of the history store.
type Store interface {
	AddReading(ctx context.Context, r history.Reading) error
	AddEvent(ctx context.Context, e history.Event) error
}

// Telemetry receives points for a time-series database.
type Telemetry interface {
	WriteReading(humidity, temperature float64, at time.Time)
	WriteMotion(detected bool, at time.Time)
}

// Alarm sounds on motion.
type Alarm interface {
	Beep(d time.Duration) error
}

// Option configures a Hub.
type Option func(*Hub)

// WithHistory records readings and events in s.
func WithHistory(s Store) Option {
	return func(h *Hub) { h.store = s }
}

// WithTelemetry forwards readings and motion to t.
func WithTelemetry(t Telemetry) Option {
	return func(h *Hub) { h.telemetry = t }
}

// WithAlarm beeps a for d whenever motion is detected.
func WithAlarm(a Alarm, d time.Duration) Option {
	return func(h *Hub) {
		h.alarm = a
		h.beep = d
	}
}

// WithSensorStats copies decoder counters into the tracker on every reading.
func WithSensorStats(fn func() dht.Stats) Option {
	return func(h *Hub) { h.stats = fn }
}

// Hub routes events to sinks. Sink failures are logged and never propagate
// back to the producer.
type Hub struct {
	tracker   *status.Tracker
	pub       mqtt.Publisher
	store     Store
	telemetry Telemetry
	alarm     Alarm
	beep      time.Duration
	stats     func() dht.Stats
}

// New creates a Hub. pub and tracker are required; other sinks are optional.
func New(tracker *status.Tracker, pub mqtt.Publisher, opts ...Option) *Hub {
	h := &Hub{tracker: tracker, pub: pub}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleReading processes a smoothed climate reading.
func (h *Hub) HandleReading(r dht.Reading) {
	h.tracker.SetClimate(r.Humidity, r.Temperature, r.Time)
	h.SyncStats()

	if err := h.pub.PublishReading(mqtt.ReadingEvent{
		Timestamp:   r.Time,
		Humidity:    r.Humidity,
		Temperature: r.Temperature,
	}); err != nil {
		log.Warnf("hub: publish reading: %v", err)
	}
	h.syncConnected()

	if h.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		err := h.store.AddReading(ctx, history.Reading{
			Time:        r.Time,
			Humidity:    r.Humidity,
			Temperature: r.Temperature,
		})
		cancel()
		if err != nil {
			log.Warnf("hub: store reading: %v", err)
		}
	}
	if h.telemetry != nil {
		h.telemetry.WriteReading(r.Humidity, r.Temperature, r.Time)
	}
}

// HandleMotion processes a PIR state change.
func (h *Hub) HandleMotion(ev motion.Event) {
	h.tracker.SetMotion(ev.Detected, ev.Time)
	if ev.Detected {
		log.Infof("hub: motion detected")
	} else {
		log.Infof("hub: motion cleared")
	}

	if ev.Detected && h.alarm != nil {
		if err := h.alarm.Beep(h.beep); err != nil {
			log.Warnf("hub: alarm: %v", err)
		}
	}

	if err := h.pub.PublishMotion(mqtt.MotionEvent{
		Timestamp: ev.Time,
		Detected:  ev.Detected,
	}); err != nil {
		log.Warnf("hub: publish motion: %v", err)
	}
	h.syncConnected()

	h.record(history.KindMotion, motionDetail(ev.Detected), ev.Time)
	if h.telemetry != nil {
		h.telemetry.WriteMotion(ev.Detected, ev.Time)
	}
}

// HandleKey processes a debounced key press. Only the running press count
// leaves the process; the key itself is dropped here.
func (h *Hub) HandleKey(ev keypad.KeyEvent) {
	n := h.tracker.AddKeyPress()
	log.Debugf("hub: key press %d", n)

	if err := h.pub.PublishKeypad(mqtt.KeypadEvent{
		Timestamp: ev.Time,
		Presses:   n,
	}); err != nil {
		log.Warnf("hub: publish keypad: %v", err)
	}
	h.syncConnected()

	h.record(history.KindKeypad, strconv.Itoa(n), ev.Time)
}

// RecordSystem stores a lifecycle event in history.
func (h *Hub) RecordSystem(event string, at time.Time) {
	h.record(history.KindSystem, event, at)
}

// SyncStats copies the decoder counters into the tracker.
func (h *Hub) SyncStats() {
	if h.stats != nil {
		h.tracker.SetSensorStats(h.stats())
	}
}

func (h *Hub) syncConnected() {
	if cs, ok := h.pub.(mqtt.ConnectionStatus); ok {
		h.tracker.SetMQTTConnected(cs.IsConnected())
	}
}

func (h *Hub) record(kind, detail string, at time.Time) {
	if h.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := h.store.AddEvent(ctx, history.Event{Time: at, Kind: kind, Detail: detail}); err != nil {
		log.Warnf("hub: store %s event: %v", kind, err)
	}
}

func motionDetail(detected bool) string {
	if detected {
		return "DETECTED"
	}
	return "CLEAR"
}
