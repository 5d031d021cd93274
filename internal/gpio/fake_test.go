package gpio

import (
	"errors"
	"testing"
	"time"
)

func TestFakeBackendRefusesDoubleRequest(t *testing.T) {
	f := NewFakeBackend()

	if _, err := f.Request(4, Output, BiasNone); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.Request(4, Input, BiasNone); err == nil {
		t.Error("expected error requesting a held line")
	}
}

func TestFakeBackendReleaseAllowsRequest(t *testing.T) {
	f := NewFakeBackend()

	h, err := f.Request(4, Output, BiasNone)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.Request(4, Input, BiasNone); err != nil {
		t.Errorf("expected request after release to succeed, got %v", err)
	}

	want := []string{"request 4 output", "release 4", "request 4 input"}
	if len(f.Log) != len(want) {
		t.Fatalf("log: got %v, want %v", f.Log, want)
	}
	for i := range want {
		if f.Log[i] != want[i] {
			t.Errorf("log[%d]: got %q, want %q", i, f.Log[i], want[i])
		}
	}
}

func TestFakeBackendInputFunc(t *testing.T) {
	f := NewFakeBackend()
	f.SetLevel(3, 1)

	h, _ := f.Request(3, Input, BiasNone)
	v, err := h.Value()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 1 {
		t.Errorf("level: got %d, want 1", v)
	}

	f.InputFunc = func(offset int) int { return 0 }
	v, _ = h.Value()
	if v != 0 {
		t.Errorf("InputFunc level: got %d, want 0", v)
	}
}

func TestFakeBackendRequestError(t *testing.T) {
	f := NewFakeBackend()
	f.RequestErrors[9] = errors.New("simulated error")

	if _, err := f.Request(9, Input, BiasNone); err == nil || err.Error() != "simulated error" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFakeBackendEdges(t *testing.T) {
	f := NewFakeBackend()
	h, _ := f.Request(6, EdgeBoth, BiasNone)

	ok, err := h.WaitEdge(5 * time.Millisecond)
	if err != nil || ok {
		t.Fatalf("expected timeout, got (%v, %v)", ok, err)
	}
	if _, err := h.ReadEdge(); !errors.Is(err, ErrNoEdge) {
		t.Errorf("expected ErrNoEdge, got %v", err)
	}

	f.Emit(EdgeEvent{Line: 6, Type: RisingEdge, Timestamp: time.Second})
	ok, err = h.WaitEdge(time.Second)
	if err != nil || !ok {
		t.Fatalf("expected edge, got (%v, %v)", ok, err)
	}
	// A second wait does not consume the pending edge.
	if ok, _ := h.WaitEdge(time.Millisecond); !ok {
		t.Error("pending edge lost")
	}
	ev, err := h.ReadEdge()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Type != RisingEdge || ev.Timestamp != time.Second {
		t.Errorf("event: got %+v", ev)
	}
}

func TestFakeBackendClose(t *testing.T) {
	f := NewFakeBackend()

	if f.Closed {
		t.Error("should not be closed initially")
	}
	if err := f.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !f.Closed {
		t.Error("should be closed after Close()")
	}
	if _, err := f.Request(1, Input, BiasNone); err == nil {
		t.Error("expected error requesting from a closed chip")
	}
}
