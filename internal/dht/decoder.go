package dht

import (
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/home-monitor/internal/gpio"
)

// Lines is the part of the line controller the decoder drives.
type Lines interface {
	Configure(offset int, mode gpio.Mode) error
	Read(offset int) (int, error)
	Write(offset int, level int) error
}

// Option customizes a Decoder.
type Option func(*Decoder)

// WithClock replaces the wall clock and sleep used for protocol timing.
func WithClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(d *Decoder) {
		d.now = now
		d.sleep = sleep
	}
}

// Decoder reads the sensor on a fixed period, smooths successful readings and
// hands them to listeners. The sensor line must not be touched by anything
// else while the decoder owns it.
type Decoder struct {
	lines Lines
	cfg   Config
	now   func() time.Time
	sleep func(time.Duration)

	mu        sync.Mutex
	history   *window
	last      Reading
	hasLast   bool
	stats     Stats
	listeners []func(Reading)

	runMu   sync.Mutex
	running bool
	quit    chan struct{}
	done    chan struct{}
}

// NewDecoder creates a stopped decoder for cfg.Line.
func NewDecoder(lines Lines, cfg Config, opts ...Option) *Decoder {
	d := &Decoder{
		lines:   lines,
		cfg:     cfg,
		now:     time.Now,
		sleep:   time.Sleep,
		history: newWindow(cfg.Window),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OnReading registers fn to receive every smoothed reading. Listeners run on
// the sampling goroutine in registration order.
func (d *Decoder) OnReading(fn func(Reading)) {
	d.mu.Lock()
	d.listeners = append(d.listeners, fn)
	d.mu.Unlock()
}

// Last returns the most recent smoothed reading.
func (d *Decoder) Last() (Reading, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.hasLast
}

// Stats returns a copy of the attempt counters.
func (d *Decoder) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// ReadOnce performs a single request/acknowledge/decode attempt and returns
// the raw, unsmoothed reading.
func (d *Decoder) ReadOnce() (Reading, error) {
	frame, err := d.readFrame()
	if err != nil {
		return Reading{}, err
	}
	r, err := DecodeFrame(frame)
	if err != nil {
		return Reading{}, err
	}
	r.Time = d.now()
	return r, nil
}

// Sample runs one sampling cycle: up to Retries attempts with Backoff between
// them. On success the reading is smoothed and published and true is
// returned. On failure the previous reading is kept and nothing is published.
func (d *Decoder) Sample() bool {
	retries := d.cfg.Retries
	if retries < 1 {
		retries = 1
	}

	for attempt := 1; attempt <= retries; attempt++ {
		r, err := d.ReadOnce()

		d.mu.Lock()
		d.stats.Attempts++
		if err != nil {
			d.stats.record(err)
		}
		d.mu.Unlock()

		if err == nil {
			d.publish(r)
			return true
		}

		log.Debugf("dht: attempt %d/%d on line %d: %v", attempt, retries, d.cfg.Line, err)
		if attempt < retries {
			d.sleep(d.cfg.Backoff)
		}
	}

	d.mu.Lock()
	d.stats.FailedCycles++
	d.mu.Unlock()
	log.Debugf("dht: cycle failed after %d attempts, keeping previous reading", retries)
	return false
}

func (d *Decoder) publish(r Reading) {
	d.mu.Lock()
	d.history.push(r)
	smoothed := d.history.mean()
	d.last = smoothed
	d.hasLast = true
	d.stats.Published++
	listeners := append([]func(Reading){}, d.listeners...)
	d.mu.Unlock()

	for _, fn := range listeners {
		fn(smoothed)
	}
}

// Start samples immediately and then every Period on its own goroutine.
// Starting a running decoder is a no-op.
func (d *Decoder) Start() {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	if d.running {
		return
	}
	d.running = true
	d.quit = make(chan struct{})
	d.done = make(chan struct{})
	go d.loop(d.quit, d.done)
}

// Stop ends sampling and waits for an in-flight cycle to finish. Stopping
// twice is safe.
func (d *Decoder) Stop() {
	d.runMu.Lock()
	if !d.running {
		d.runMu.Unlock()
		return
	}
	d.running = false
	quit, done := d.quit, d.done
	d.runMu.Unlock()

	close(quit)
	<-done
}

func (d *Decoder) loop(quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	period := d.cfg.Period
	if period <= 0 {
		period = DefaultConfig(d.cfg.Line).Period
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	d.Sample()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			d.Sample()
		}
	}
}

// readFrame wakes the sensor and reads 40 bits, MSB first.
func (d *Decoder) readFrame() (Frame, error) {
	var f Frame
	line := d.cfg.Line

	if err := d.lines.Configure(line, gpio.Output); err != nil {
		return f, err
	}
	if err := d.lines.Write(line, 0); err != nil {
		return f, err
	}
	d.sleep(d.cfg.WakeLow)
	if err := d.lines.Write(line, 1); err != nil {
		return f, err
	}
	d.sleep(d.cfg.WakeHigh)
	if err := d.lines.Configure(line, gpio.Input); err != nil {
		return f, err
	}

	// Sensor response: pulls low, then high, then low again before the data.
	for i, level := range []int{0, 1, 0} {
		if _, err := d.waitFor(level); err != nil {
			if err == errWaitTimeout {
				return f, fmt.Errorf("%w: phase %d", ErrHandshakeTimeout, i)
			}
			return f, err
		}
	}

	for i := 0; i < 40; i++ {
		if _, err := d.waitFor(1); err != nil {
			return f, d.bitErr(i, err)
		}
		high, err := d.waitFor(0)
		if err != nil {
			return f, d.bitErr(i, err)
		}
		f[i/8] <<= 1
		if high > d.cfg.OneThreshold {
			f[i/8] |= 1
		}
	}
	return f, nil
}

func (d *Decoder) bitErr(bit int, err error) error {
	if err == errWaitTimeout {
		return fmt.Errorf("%w: bit %d", ErrBitTimeout, bit)
	}
	return err
}

var errWaitTimeout = errors.New("wait timeout")

// waitFor busy-polls the sensor line until it reads level, returning how long
// that took. It gives up after BitTimeout.
func (d *Decoder) waitFor(level int) (time.Duration, error) {
	start := d.now()
	for {
		v, err := d.lines.Read(d.cfg.Line)
		if err != nil {
			return 0, err
		}
		elapsed := d.now().Sub(start)
		if v == level {
			return elapsed, nil
		}
		if elapsed > d.cfg.BitTimeout {
			return elapsed, errWaitTimeout
		}
	}
}
