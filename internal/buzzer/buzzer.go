// Package buzzer drives an on/off alarm output through the line controller.
package buzzer

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Lines is the part of the line controller the buzzer needs.
type Lines interface {
	Write(offset int, level int) error
}

// Buzzer switches a single output line. Beep schedules the switch-off with a
// timer so callers never block.
type Buzzer struct {
	lines Lines
	line  int

	mu    sync.Mutex
	on    bool
	timer *time.Timer
	gen   uint64
	beeps int
}

// New creates a buzzer on an output-configured line.
func New(lines Lines, line int) *Buzzer {
	return &Buzzer{lines: lines, line: line}
}

// On drives the buzzer and cancels any pending switch-off.
func (b *Buzzer) On() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopTimer()
	return b.set(true)
}

// Off silences the buzzer.
func (b *Buzzer) Off() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopTimer()
	return b.set(false)
}

// Beep sounds the buzzer for d. A beep while one is sounding extends it.
func (b *Buzzer) Beep(d time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopTimer()
	if err := b.set(true); err != nil {
		return err
	}
	b.beeps++
	gen := b.gen
	b.timer = time.AfterFunc(d, func() { b.expire(gen) })
	return nil
}

// expire switches off the beep started under gen. A timer that fired after
// a later On, Off or Beep has nothing to do.
func (b *Buzzer) expire(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.gen {
		return
	}
	b.timer = nil
	if err := b.set(false); err != nil {
		log.Warnf("buzzer: switch off line %d: %v", b.line, err)
	}
}

// IsOn reports whether the buzzer is currently driven.
func (b *Buzzer) IsOn() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.on
}

// Beeps returns how many beeps have been started.
func (b *Buzzer) Beeps() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.beeps
}

// Close silences the buzzer.
func (b *Buzzer) Close() error {
	return b.Off()
}

func (b *Buzzer) stopTimer() {
	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Buzzer) set(on bool) error {
	level := 0
	if on {
		level = 1
	}
	if err := b.lines.Write(b.line, level); err != nil {
		return err
	}
	b.on = on
	return nil
}
