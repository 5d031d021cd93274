package gpio

import (
	"fmt"
	"sync"
	"time"
)

// FakeBackend is a test double that grants line requests in memory.
//
// It refuses to grant a line that is still held, so any caller that acquires
// before releasing fails loudly. Every request and release is appended to Log
// in order ("request 4 output", "release 4").
type FakeBackend struct {
	mu sync.Mutex

	// Log records request/release calls in order.
	Log []string

	// InputFunc, if set, supplies the level of every non-output read.
	// It is called without the backend lock held, so it may call Output.
	InputFunc func(offset int) int

	// RequestErrors forces Request to fail for the given offsets.
	RequestErrors map[int]error

	// Closed tracks if Close was called; CloseCount how many times.
	Closed     bool
	CloseCount int

	held    map[int]Mode
	biases  map[int]Bias
	levels  map[int]int
	outputs map[int]int
	writes  map[int][]int
	edges   map[int]chan EdgeEvent
}

// NewFakeBackend creates an empty FakeBackend.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		RequestErrors: make(map[int]error),
		held:          make(map[int]Mode),
		biases:        make(map[int]Bias),
		levels:        make(map[int]int),
		outputs:       make(map[int]int),
		writes:        make(map[int][]int),
		edges:         make(map[int]chan EdgeEvent),
	}
}

// Request grants offset in mode unless it is already held.
func (f *FakeBackend) Request(offset int, mode Mode, bias Bias) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Closed {
		return nil, fmt.Errorf("fake: chip closed")
	}
	if err := f.RequestErrors[offset]; err != nil {
		return nil, err
	}
	if prev, ok := f.held[offset]; ok {
		return nil, fmt.Errorf("fake: line %d busy (held as %s)", offset, prev)
	}

	f.held[offset] = mode
	f.biases[offset] = bias
	if mode == Output {
		f.outputs[offset] = 0
	}
	f.Log = append(f.Log, fmt.Sprintf("request %d %s", offset, mode))
	return &fakeHandle{f: f, offset: offset, mode: mode}, nil
}

// Close marks the backend as closed.
func (f *FakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	f.CloseCount++
	return nil
}

// SetLevel sets the level returned for reads of offset when InputFunc is nil.
func (f *FakeBackend) SetLevel(offset, level int) {
	f.mu.Lock()
	f.levels[offset] = level
	f.mu.Unlock()
}

// Output returns the level last driven on offset.
func (f *FakeBackend) Output(offset int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outputs[offset]
}

// Writes returns every level written to offset, in order.
func (f *FakeBackend) Writes(offset int) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.writes[offset]...)
}

// Held reports the mode offset is currently held under.
func (f *FakeBackend) Held(offset int) (Mode, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.held[offset]
	return m, ok
}

// Bias reports the pull offset was last requested with.
func (f *FakeBackend) Bias(offset int) Bias {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.biases[offset]
}

// Emit queues an edge event on ev.Line.
func (f *FakeBackend) Emit(ev EdgeEvent) {
	f.edgeChan(ev.Line) <- ev
}

// ResetLog clears the request/release log.
func (f *FakeBackend) ResetLog() {
	f.mu.Lock()
	f.Log = nil
	f.mu.Unlock()
}

func (f *FakeBackend) edgeChan(offset int) chan EdgeEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.edges[offset]
	if !ok {
		ch = make(chan EdgeEvent, 64)
		f.edges[offset] = ch
	}
	return ch
}

type fakeHandle struct {
	f       *FakeBackend
	offset  int
	mode    Mode
	pending *EdgeEvent
	closed  bool
}

func (h *fakeHandle) Value() (int, error) {
	h.f.mu.Lock()
	if h.closed {
		h.f.mu.Unlock()
		return 0, fmt.Errorf("fake: line %d released", h.offset)
	}
	if h.mode == Output {
		v := h.f.outputs[h.offset]
		h.f.mu.Unlock()
		return v, nil
	}
	fn := h.f.InputFunc
	v := h.f.levels[h.offset]
	h.f.mu.Unlock()

	if fn != nil {
		return fn(h.offset), nil
	}
	return v, nil
}

func (h *fakeHandle) SetValue(v int) error {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	if h.closed {
		return fmt.Errorf("fake: line %d released", h.offset)
	}
	h.f.outputs[h.offset] = v
	h.f.writes[h.offset] = append(h.f.writes[h.offset], v)
	return nil
}

func (h *fakeHandle) WaitEdge(timeout time.Duration) (bool, error) {
	if h.pending != nil {
		return true, nil
	}
	ch := h.f.edgeChan(h.offset)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev := <-ch:
		h.pending = &ev
		return true, nil
	case <-timer.C:
		return false, nil
	}
}

func (h *fakeHandle) ReadEdge() (EdgeEvent, error) {
	if h.pending == nil {
		return EdgeEvent{}, ErrNoEdge
	}
	ev := *h.pending
	h.pending = nil
	return ev, nil
}

func (h *fakeHandle) Close() error {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	delete(h.f.held, h.offset)
	h.f.Log = append(h.f.Log, fmt.Sprintf("release %d", h.offset))
	return nil
}
