// Package gpio owns the hardware line handles used by the monitor.
//
// A Controller is the only thing that talks to a Backend. Every other
// component (dispatcher, sensor decoder, keypad scanner) configures, reads,
// writes and waits on lines through it and never holds a hardware handle.
// The real backends use the Linux GPIO character device (go-gpiocdev) or
// periph.io host drivers; the fake backend allows testing without hardware.
package gpio

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode is the single request mode a line is held under.
type Mode int

const (
	Input Mode = iota
	Output
	InputPullUp
	InputPullDown
	EdgeRising
	EdgeFalling
	EdgeBoth
)

var modeNames = map[Mode]string{
	Input:         "input",
	Output:        "output",
	InputPullUp:   "input-pull-up",
	InputPullDown: "input-pull-down",
	EdgeRising:    "edge-rising",
	EdgeFalling:   "edge-falling",
	EdgeBoth:      "edge-both",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// IsEdge reports whether the mode delivers edge events.
func (m Mode) IsEdge() bool {
	return m == EdgeRising || m == EdgeFalling || m == EdgeBoth
}

// ParseMode converts a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("gpio: unknown mode %q", s)
}

// Bias is the pull applied to an input or edge line.
type Bias int

const (
	BiasNone Bias = iota
	BiasPullUp
	BiasPullDown
)

func (b Bias) String() string {
	switch b {
	case BiasPullUp:
		return "pull-up"
	case BiasPullDown:
		return "pull-down"
	}
	return "none"
}

// Bias returns the pull implied by the mode itself.
func (m Mode) Bias() Bias {
	switch m {
	case InputPullUp:
		return BiasPullUp
	case InputPullDown:
		return BiasPullDown
	}
	return BiasNone
}

// Edge is the direction of a transition.
type Edge int

const (
	RisingEdge Edge = iota + 1
	FallingEdge
)

func (e Edge) String() string {
	switch e {
	case RisingEdge:
		return "rising"
	case FallingEdge:
		return "falling"
	}
	return "unknown"
}

// EdgeEvent is one observed transition on a line. It is passed by value and
// never mutated after the dispatcher reads it.
type EdgeEvent struct {
	Line int
	Type Edge
	// Timestamp is monotonic time as reported by the backend.
	Timestamp time.Duration
}

// Errors returned by the Controller. Use errors.Is to test for them.
var (
	// ErrLineUnavailable means the backend refused the request (line busy,
	// invalid offset or chip closed).
	ErrLineUnavailable = errors.New("gpio: line unavailable")

	// ErrNotConfigured means the line was never configured.
	ErrNotConfigured = errors.New("gpio: line not configured")

	// ErrWrongMode means the operation does not match the line's current mode.
	ErrWrongMode = errors.New("gpio: wrong line mode")

	// ErrClosed means the controller has been torn down.
	ErrClosed = errors.New("gpio: controller closed")

	// ErrNoEdge is returned by ReadEdge when no event is pending.
	ErrNoEdge = errors.New("gpio: no edge pending")
)

// Backend grants line requests on one chip.
type Backend interface {
	// Request acquires offset in the given mode. Output lines start low.
	// Bias applies to input and edge modes and is ignored for outputs.
	Request(offset int, mode Mode, bias Bias) (Handle, error)

	// Close releases the chip.
	Close() error
}

// Handle is one granted line request.
type Handle interface {
	Value() (int, error)
	SetValue(v int) error

	// WaitEdge blocks up to timeout and reports whether an edge is pending.
	WaitEdge(timeout time.Duration) (bool, error)

	// ReadEdge consumes the pending edge.
	ReadEdge() (EdgeEvent, error)

	// Close releases the line.
	Close() error
}
