// Package dispatch turns edge-configured lines into callback delivery using a
// single polling goroutine.
package dispatch

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/home-monitor/internal/gpio"
)

// DefaultEdgeTimeout bounds each per-line wait.
const DefaultEdgeTimeout = 50 * time.Millisecond

// Subscriber receives edge events for the lines it registered on.
type Subscriber interface {
	OnEdge(ev gpio.EdgeEvent)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ev gpio.EdgeEvent)

// OnEdge calls f(ev).
func (f SubscriberFunc) OnEdge(ev gpio.EdgeEvent) { f(ev) }

// Lines is the part of the line controller the dispatcher needs.
type Lines interface {
	EdgeLines() []int
	WaitForEdge(offset int, timeout time.Duration) (bool, error)
	ReadEdge(offset int) (gpio.EdgeEvent, error)
}

// Dispatcher waits round-robin on every edge line with a bounded timeout and
// fans each event out to that line's subscribers in registration order.
//
// Worst-case latency is roughly (number of edge lines) x timeout.
type Dispatcher struct {
	lines   Lines
	timeout time.Duration

	mu      sync.Mutex
	subs    map[int][]Subscriber
	running bool
	quit    chan struct{}
	done    chan struct{}
}

// New creates a stopped Dispatcher. A timeout <= 0 selects DefaultEdgeTimeout.
func New(lines Lines, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultEdgeTimeout
	}
	return &Dispatcher{
		lines:   lines,
		timeout: timeout,
		subs:    make(map[int][]Subscriber),
	}
}

// Register adds sub to the subscribers of line. Subscribers are never removed
// individually.
func (d *Dispatcher) Register(line int, sub Subscriber) {
	d.mu.Lock()
	d.subs[line] = append(d.subs[line], sub)
	d.mu.Unlock()
}

// Start spawns the worker loop. Starting a running dispatcher is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return
	}
	d.running = true
	d.quit = make(chan struct{})
	d.done = make(chan struct{})
	go d.run(d.quit, d.done)
}

// Stop signals the loop and waits for it to exit. After Stop returns no
// callback is in flight and none will start. Stopping twice is safe.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	quit, done := d.quit, d.done
	d.mu.Unlock()

	close(quit)
	<-done
}

// Running reports whether the worker loop is active.
func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Dispatcher) run(quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-quit:
			return
		default:
		}

		lines := d.lines.EdgeLines()
		if len(lines) == 0 {
			select {
			case <-quit:
				return
			case <-time.After(d.timeout):
			}
			continue
		}

		for _, line := range lines {
			select {
			case <-quit:
				return
			default:
			}
			d.poll(line)
		}
	}
}

// poll waits on one line and delivers at most one event from it.
func (d *Dispatcher) poll(line int) {
	ok, err := d.lines.WaitForEdge(line, d.timeout)
	if err != nil {
		log.Warnf("dispatch: wait on line %d: %v", line, err)
		return
	}
	if !ok {
		return
	}

	ev, err := d.lines.ReadEdge(line)
	if err != nil {
		log.Warnf("dispatch: read edge on line %d: %v", line, err)
		return
	}

	d.mu.Lock()
	subs := append([]Subscriber(nil), d.subs[line]...)
	d.mu.Unlock()

	for _, sub := range subs {
		deliver(sub, ev)
	}
}

// deliver isolates one subscriber: a panic is logged and swallowed.
func deliver(sub Subscriber, ev gpio.EdgeEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("dispatch: subscriber panic on line %d: %v", ev.Line, r)
		}
	}()
	sub.OnEdge(ev)
}
