//go:build linux

package gpio

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/warthog618/go-gpiocdev"
)

// consumer is the label shown for our requests in gpioinfo.
const consumer = "home-monitor"

// edgeBuffer is the number of edge events held per line before new ones are dropped.
const edgeBuffer = 16

// CdevBackend requests lines from a Linux GPIO character device.
type CdevBackend struct {
	chip *gpiocdev.Chip
}

// NewCdevBackend opens the named chip, e.g. "gpiochip0".
func NewCdevBackend(chipName string) (*CdevBackend, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	return &CdevBackend{chip: chip}, nil
}

// Request acquires offset in mode.
// Edge lines get an event handler that queues events for WaitEdge/ReadEdge.
func (b *CdevBackend) Request(offset int, mode Mode, bias Bias) (Handle, error) {
	h := &cdevHandle{offset: offset}

	var opts []gpiocdev.LineReqOption
	switch mode {
	case Input:
		opts = append(opts, gpiocdev.AsInput)
		opts = append(opts, cdevBias(bias)...)
	case Output:
		opts = append(opts, gpiocdev.AsOutput(0))
	case InputPullUp:
		opts = append(opts, gpiocdev.AsInput, gpiocdev.WithPullUp)
	case InputPullDown:
		opts = append(opts, gpiocdev.AsInput, gpiocdev.WithPullDown)
	case EdgeRising, EdgeFalling, EdgeBoth:
		h.events = make(chan EdgeEvent, edgeBuffer)
		opts = append(opts, gpiocdev.AsInput, gpiocdev.WithEventHandler(h.handle))
		opts = append(opts, cdevBias(bias)...)
		switch mode {
		case EdgeRising:
			opts = append(opts, gpiocdev.WithRisingEdge)
		case EdgeFalling:
			opts = append(opts, gpiocdev.WithFallingEdge)
		default:
			opts = append(opts, gpiocdev.WithBothEdges)
		}
	default:
		return nil, fmt.Errorf("unsupported mode %s", mode)
	}

	l, err := b.chip.RequestLine(offset, opts...)
	if err != nil {
		return nil, err
	}
	h.line = l
	return h, nil
}

func cdevBias(bias Bias) []gpiocdev.LineReqOption {
	switch bias {
	case BiasPullUp:
		return []gpiocdev.LineReqOption{gpiocdev.WithPullUp}
	case BiasPullDown:
		return []gpiocdev.LineReqOption{gpiocdev.WithPullDown}
	}
	return nil
}

// Close releases the chip.
func (b *CdevBackend) Close() error {
	return b.chip.Close()
}

type cdevHandle struct {
	offset  int
	line    *gpiocdev.Line
	events  chan EdgeEvent
	pending *EdgeEvent
}

// handle runs on the gpiocdev watcher goroutine and must not block.
func (h *cdevHandle) handle(evt gpiocdev.LineEvent) {
	e := EdgeEvent{Line: h.offset, Timestamp: evt.Timestamp, Type: FallingEdge}
	if evt.Type == gpiocdev.LineEventRisingEdge {
		e.Type = RisingEdge
	}
	select {
	case h.events <- e:
	default:
		log.Warnf("gpio: line %d edge queue full, dropping %s edge", h.offset, e.Type)
	}
}

func (h *cdevHandle) Value() (int, error) {
	return h.line.Value()
}

func (h *cdevHandle) SetValue(v int) error {
	return h.line.SetValue(v)
}

func (h *cdevHandle) WaitEdge(timeout time.Duration) (bool, error) {
	if h.events == nil {
		return false, ErrWrongMode
	}
	if h.pending != nil {
		return true, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case e := <-h.events:
		h.pending = &e
		return true, nil
	case <-timer.C:
		return false, nil
	}
}

func (h *cdevHandle) ReadEdge() (EdgeEvent, error) {
	if h.pending != nil {
		e := *h.pending
		h.pending = nil
		return e, nil
	}
	select {
	case e := <-h.events:
		return e, nil
	default:
		return EdgeEvent{}, ErrNoEdge
	}
}

func (h *cdevHandle) Close() error {
	return h.line.Close()
}
