// Package status provides a thread-safe status tracker for the home-monitor
// daemon. It is read by the HTTP server and the heartbeat publisher.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/home-monitor/internal/dht"
)

// Config contains daemon configuration for display.
type Config struct {
	Backend        string
	Chip           string
	KeypadStrategy string
	SamplePeriodMs int64
	DebounceMs     int64
	HeartbeatMs    int64
	Broker         string
	HTTPAddr       string
}

// Climate is the last smoothed sensor reading.
type Climate struct {
	Humidity    float64
	Temperature float64
	Time        time.Time
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Climate       Climate
	HasClimate    bool
	Motion        bool
	MotionSince   time.Time
	Detections    int
	KeyPresses    int
	Sensor        dht.Stats
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// SetClimate records the latest smoothed reading.
func (t *Tracker) SetClimate(humidity, temperature float64, at time.Time) {
	t.mu.Lock()
	t.snap.Climate = Climate{Humidity: humidity, Temperature: temperature, Time: at}
	t.snap.HasClimate = true
	t.mu.Unlock()
}

// SetMotion records a motion state change. Detections counts rising changes.
func (t *Tracker) SetMotion(detected bool, at time.Time) {
	t.mu.Lock()
	if detected && !t.snap.Motion {
		t.snap.Detections++
	}
	t.snap.Motion = detected
	t.snap.MotionSince = at
	t.mu.Unlock()
}

// AddKeyPress increments the key press counter and returns the new total.
func (t *Tracker) AddKeyPress() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.KeyPresses++
	return t.snap.KeyPresses
}

// SetSensorStats records the decoder counters.
func (t *Tracker) SetSensorStats(s dht.Stats) {
	t.mu.Lock()
	t.snap.Sensor = s
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
