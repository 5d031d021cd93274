package gpio

import (
	"fmt"
	"time"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphBackend requests lines through periph.io host drivers. Offsets map to
// BCM pin names ("GPIO17").
type PeriphBackend struct {
	epoch time.Time
}

// NewPeriphBackend initialises the periph host drivers.
func NewPeriphBackend() (*PeriphBackend, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}
	return &PeriphBackend{epoch: time.Now()}, nil
}

// Request acquires offset in mode.
func (b *PeriphBackend) Request(offset int, mode Mode, bias Bias) (Handle, error) {
	name := fmt.Sprintf("GPIO%d", offset)
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("invalid pin %s", name)
	}

	pull := pgpio.PullNoChange
	switch bias {
	case BiasPullUp:
		pull = pgpio.PullUp
	case BiasPullDown:
		pull = pgpio.PullDown
	}

	var err error
	switch mode {
	case Input:
		if bias == BiasNone {
			pull = pgpio.Float
		}
		err = p.In(pull, pgpio.NoEdge)
	case Output:
		err = p.Out(pgpio.Low)
	case InputPullUp:
		err = p.In(pgpio.PullUp, pgpio.NoEdge)
	case InputPullDown:
		err = p.In(pgpio.PullDown, pgpio.NoEdge)
	case EdgeRising:
		err = p.In(pull, pgpio.RisingEdge)
	case EdgeFalling:
		err = p.In(pull, pgpio.FallingEdge)
	case EdgeBoth:
		err = p.In(pull, pgpio.BothEdges)
	default:
		return nil, fmt.Errorf("unsupported mode %s", mode)
	}
	if err != nil {
		return nil, fmt.Errorf("configure %s: %w", name, err)
	}
	return &periphHandle{pin: p, mode: mode, offset: offset, epoch: b.epoch}, nil
}

// Close is a no-op: periph keeps no per-chip handle.
func (b *PeriphBackend) Close() error {
	return nil
}

type periphHandle struct {
	pin     pgpio.PinIO
	mode    Mode
	offset  int
	epoch   time.Time
	pending *EdgeEvent
}

func (h *periphHandle) Value() (int, error) {
	if h.pin.Read() == pgpio.High {
		return 1, nil
	}
	return 0, nil
}

func (h *periphHandle) SetValue(v int) error {
	return h.pin.Out(pgpio.Level(v != 0))
}

// WaitEdge infers the edge direction from the mode, or from the level read
// right after the edge for edge-both lines.
func (h *periphHandle) WaitEdge(timeout time.Duration) (bool, error) {
	if h.pending != nil {
		return true, nil
	}
	if !h.pin.WaitForEdge(timeout) {
		return false, nil
	}
	e := EdgeEvent{Line: h.offset, Timestamp: time.Since(h.epoch)}
	switch h.mode {
	case EdgeRising:
		e.Type = RisingEdge
	case EdgeFalling:
		e.Type = FallingEdge
	default:
		e.Type = FallingEdge
		if h.pin.Read() == pgpio.High {
			e.Type = RisingEdge
		}
	}
	h.pending = &e
	return true, nil
}

func (h *periphHandle) ReadEdge() (EdgeEvent, error) {
	if h.pending == nil {
		return EdgeEvent{}, ErrNoEdge
	}
	e := *h.pending
	h.pending = nil
	return e, nil
}

func (h *periphHandle) Close() error {
	if h.mode.IsEdge() {
		if err := h.pin.In(pgpio.PullNoChange, pgpio.NoEdge); err != nil {
			return err
		}
	}
	return h.pin.Halt()
}
