// Package motion turns PIR line edges into motion events.
package motion

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/home-monitor/internal/gpio"
)

// Event reports that motion started (Detected) or stopped.
type Event struct {
	Detected bool
	Time     time.Time
}

// Sensor subscribes to the PIR line: a rising edge is motion detected and a
// falling edge is motion cleared.
type Sensor struct {
	line int
	now  func() time.Time

	mu        sync.Mutex
	active    bool
	since     time.Time
	count     int
	listeners []func(Event)
}

// NewSensor creates a sensor for the given PIR line.
func NewSensor(line int) *Sensor {
	return &Sensor{line: line, now: time.Now}
}

// Line returns the PIR line offset.
func (s *Sensor) Line() int { return s.line }

// OnMotion registers fn for every state change.
func (s *Sensor) OnMotion(fn func(Event)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// OnEdge implements dispatch.Subscriber. Repeated edges in the same direction
// are collapsed.
func (s *Sensor) OnEdge(ev gpio.EdgeEvent) {
	if ev.Line != s.line {
		return
	}
	detected := ev.Type == gpio.RisingEdge

	s.mu.Lock()
	if detected == s.active {
		s.mu.Unlock()
		return
	}
	at := s.now()
	s.active = detected
	s.since = at
	if detected {
		s.count++
	}
	listeners := append([]func(Event){}, s.listeners...)
	s.mu.Unlock()

	if detected {
		log.Infof("motion: detected on line %d", s.line)
	} else {
		log.Debugf("motion: cleared on line %d", s.line)
	}

	out := Event{Detected: detected, Time: at}
	for _, fn := range listeners {
		fn(out)
	}
}

// State returns whether motion is currently active and since when.
func (s *Sensor) State() (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.since
}

// Count returns how many times motion has been detected.
func (s *Sensor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
