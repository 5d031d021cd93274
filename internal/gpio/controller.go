package gpio

import (
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Controller is the sole owner of the chip and every requested line.
//
// The mutex guards the line table only. Hardware calls are made outside it,
// so a long WaitForEdge on one line never delays a reconfigure on another.
// Callers partition lines between goroutines (edge lines belong to the
// dispatcher, protocol lines to the decoder or scanner) and must keep that
// partition when they reconfigure.
type Controller struct {
	backend Backend

	mu     sync.Mutex
	lines  map[int]*line
	closed bool
}

type line struct {
	handle Handle
	mode   Mode
	last   int
}

// NewController creates a Controller that requests lines from backend.
func NewController(backend Backend) *Controller {
	return &Controller{
		backend: backend,
		lines:   make(map[int]*line),
	}
}

// Configure releases any prior request on offset and requests it in mode.
// The line is never held under two modes at once.
func (c *Controller) Configure(offset int, mode Mode) error {
	return c.ConfigureBiased(offset, mode, mode.Bias())
}

// ConfigureBiased is Configure with an explicit pull, for edge lines that
// would otherwise float.
func (c *Controller) ConfigureBiased(offset int, mode Mode, bias Bias) error {
	if mb := mode.Bias(); mb != BiasNone {
		bias = mb
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("%w: line %d: %w", ErrLineUnavailable, offset, ErrClosed)
	}

	if prev, ok := c.lines[offset]; ok {
		delete(c.lines, offset)
		if err := prev.handle.Close(); err != nil {
			log.Warnf("gpio: release line %d (%s): %v", offset, prev.mode, err)
		}
	}

	h, err := c.backend.Request(offset, mode, bias)
	if err != nil {
		return fmt.Errorf("%w: line %d as %s (%s): %w", ErrLineUnavailable, offset, mode, bias, err)
	}

	c.lines[offset] = &line{handle: h, mode: mode}
	return nil
}

func (c *Controller) lookup(offset int) (*line, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	l, ok := c.lines[offset]
	if !ok {
		return nil, fmt.Errorf("%w: line %d", ErrNotConfigured, offset)
	}
	return l, nil
}

// Read returns the level of an input or edge line. Output lines are refused:
// protocol code must reconfigure to input before sampling.
func (c *Controller) Read(offset int) (int, error) {
	l, err := c.lookup(offset)
	if err != nil {
		return 0, err
	}
	if l.mode == Output {
		return 0, fmt.Errorf("%w: read line %d in %s mode", ErrWrongMode, offset, l.mode)
	}
	v, err := l.handle.Value()
	if err != nil {
		return 0, fmt.Errorf("read line %d: %w", offset, err)
	}
	return v, nil
}

// Write drives an output line. Any non-zero level is treated as high.
func (c *Controller) Write(offset int, level int) error {
	l, err := c.lookup(offset)
	if err != nil {
		return err
	}
	if l.mode != Output {
		return fmt.Errorf("%w: write line %d in %s mode", ErrWrongMode, offset, l.mode)
	}
	if level != 0 {
		level = 1
	}
	if err := l.handle.SetValue(level); err != nil {
		return fmt.Errorf("write line %d: %w", offset, err)
	}

	c.mu.Lock()
	l.last = level
	c.mu.Unlock()
	return nil
}

// WaitForEdge blocks up to timeout and reports whether an edge is pending on
// offset. It is meant to be called from the single dispatcher goroutine.
func (c *Controller) WaitForEdge(offset int, timeout time.Duration) (bool, error) {
	l, err := c.lookup(offset)
	if err != nil {
		return false, err
	}
	if !l.mode.IsEdge() {
		return false, fmt.Errorf("%w: wait on line %d in %s mode", ErrWrongMode, offset, l.mode)
	}
	return l.handle.WaitEdge(timeout)
}

// ReadEdge consumes the edge reported by WaitForEdge.
func (c *Controller) ReadEdge(offset int) (EdgeEvent, error) {
	l, err := c.lookup(offset)
	if err != nil {
		return EdgeEvent{}, err
	}
	if !l.mode.IsEdge() {
		return EdgeEvent{}, fmt.Errorf("%w: read edge on line %d in %s mode", ErrWrongMode, offset, l.mode)
	}
	ev, err := l.handle.ReadEdge()
	if err != nil {
		return EdgeEvent{}, err
	}
	ev.Line = offset
	return ev, nil
}

// Mode returns the current mode of offset.
func (c *Controller) Mode(offset int) (Mode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lines[offset]
	if !ok {
		return 0, false
	}
	return l.mode, true
}

// LastOutput returns the last level written to an output line.
func (c *Controller) LastOutput(offset int) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lines[offset]
	if !ok || l.mode != Output {
		return 0, false
	}
	return l.last, true
}

// EdgeLines returns the offsets currently configured for edge events, sorted.
func (c *Controller) EdgeLines() []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []int
	for offset, l := range c.lines {
		if l.mode.IsEdge() {
			out = append(out, offset)
		}
	}
	sort.Ints(out)
	return out
}

// Close releases every requested line and then the chip. Repeated calls are
// no-ops.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	offsets := make([]int, 0, len(c.lines))
	for offset := range c.lines {
		offsets = append(offsets, offset)
	}
	sort.Ints(offsets)
	for _, offset := range offsets {
		if err := c.lines[offset].handle.Close(); err != nil {
			errs = append(errs, fmt.Errorf("release line %d: %w", offset, err))
		}
	}
	c.lines = map[int]*line{}

	if err := c.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close chip: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// ConfigureLine is the boolean form of Configure used by collaborators that
// only need success or failure. Failures are logged.
func (c *Controller) ConfigureLine(offset int, mode Mode) bool {
	if err := c.Configure(offset, mode); err != nil {
		log.Warnf("gpio: %v", err)
		return false
	}
	return true
}

// ReadLine returns 0 or 1, or -1 on error.
func (c *Controller) ReadLine(offset int) int {
	v, err := c.Read(offset)
	if err != nil {
		log.Warnf("gpio: %v", err)
		return -1
	}
	return v
}

// WriteLine drives offset to value and reports success.
func (c *Controller) WriteLine(offset int, value int) bool {
	if err := c.Write(offset, value); err != nil {
		log.Warnf("gpio: %v", err)
		return false
	}
	return true
}
