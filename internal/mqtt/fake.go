package mqtt

import "sync"

// FakePublisher records published events for test assertions. Fields may be
// read directly once publishing goroutines have finished.
type FakePublisher struct {
	mu sync.Mutex

	// Readings, Motions, Keypads and SystemEvents hold published events in order.
	Readings     []ReadingEvent
	Motions      []MotionEvent
	Keypads      []KeypadEvent
	SystemEvents []SystemEvent

	// Payloads contains every JSON payload that was published, in order.
	Payloads [][]byte

	// PublishError, if set, is returned by every publish method.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishReading records the reading.
func (f *FakePublisher) PublishReading(event ReadingEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatReadingPayload(event)
	if err != nil {
		return err
	}
	f.Readings = append(f.Readings, event)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishMotion records the motion event.
func (f *FakePublisher) PublishMotion(event MotionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatMotionPayload(event)
	if err != nil {
		return err
	}
	f.Motions = append(f.Motions, event)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishKeypad records the keypad event.
func (f *FakePublisher) PublishKeypad(event KeypadEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatKeypadPayload(event)
	if err != nil {
		return err
	}
	f.Keypads = append(f.Keypads, event)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// SystemEventNames returns the Event field of every system event, in order.
func (f *FakePublisher) SystemEventNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.SystemEvents))
	for i, e := range f.SystemEvents {
		names[i] = e.Event
	}
	return names
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Readings = nil
	f.Motions = nil
	f.Keypads = nil
	f.SystemEvents = nil
	f.Payloads = nil
	f.Closed = false
	f.PublishError = nil
	f.Connected = false
}
