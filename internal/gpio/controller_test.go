package gpio

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

var allModes = []Mode{Input, Output, InputPullUp, InputPullDown, EdgeRising, EdgeFalling, EdgeBoth}

func TestConfigureReleasesBeforeAcquire(t *testing.T) {
	for _, from := range allModes {
		for _, to := range allModes {
			t.Run(fmt.Sprintf("%s->%s", from, to), func(t *testing.T) {
				f := NewFakeBackend()
				c := NewController(f)

				if err := c.Configure(18, from); err != nil {
					t.Fatalf("configure %s: %v", from, err)
				}
				if err := c.Configure(18, to); err != nil {
					t.Fatalf("reconfigure %s: %v", to, err)
				}

				want := []string{
					fmt.Sprintf("request 18 %s", from),
					"release 18",
					fmt.Sprintf("request 18 %s", to),
				}
				if len(f.Log) != len(want) {
					t.Fatalf("log: got %v, want %v", f.Log, want)
				}
				for i := range want {
					if f.Log[i] != want[i] {
						t.Errorf("log[%d]: got %q, want %q", i, f.Log[i], want[i])
					}
				}

				if m, ok := c.Mode(18); !ok || m != to {
					t.Errorf("mode: got (%s, %v), want (%s, true)", m, ok, to)
				}
				if m, ok := f.Held(18); !ok || m != to {
					t.Errorf("held: got (%s, %v), want (%s, true)", m, ok, to)
				}
			})
		}
	}
}

func TestConfigureUnavailable(t *testing.T) {
	f := NewFakeBackend()
	f.RequestErrors[5] = errors.New("device busy")
	c := NewController(f)

	err := c.Configure(5, Input)
	if !errors.Is(err, ErrLineUnavailable) {
		t.Fatalf("expected ErrLineUnavailable, got %v", err)
	}
	if _, ok := c.Mode(5); ok {
		t.Error("failed line should not be in the mode table")
	}
	if _, err := c.Read(5); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured after failed configure, got %v", err)
	}
}

func TestReadErrors(t *testing.T) {
	c := NewController(NewFakeBackend())

	if _, err := c.Read(2); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("unconfigured: expected ErrNotConfigured, got %v", err)
	}

	c.Configure(2, Output)
	if _, err := c.Read(2); !errors.Is(err, ErrWrongMode) {
		t.Errorf("output: expected ErrWrongMode, got %v", err)
	}
}

func TestReadInputAndEdgeLines(t *testing.T) {
	f := NewFakeBackend()
	c := NewController(f)
	f.SetLevel(3, 1)
	f.SetLevel(4, 1)

	c.Configure(3, InputPullUp)
	c.Configure(4, EdgeFalling)

	for _, offset := range []int{3, 4} {
		v, err := c.Read(offset)
		if err != nil {
			t.Fatalf("line %d: unexpected error: %v", offset, err)
		}
		if v != 1 {
			t.Errorf("line %d: got %d, want 1", offset, v)
		}
	}
}

func TestConfigureBias(t *testing.T) {
	f := NewFakeBackend()
	c := NewController(f)

	tests := []struct {
		offset int
		mode   Mode
		bias   Bias
		want   Bias
	}{
		{20, EdgeBoth, BiasPullUp, BiasPullUp},
		{21, EdgeFalling, BiasPullDown, BiasPullDown},
		{22, EdgeRising, BiasNone, BiasNone},
		{23, InputPullUp, BiasPullDown, BiasPullUp},
		{24, InputPullDown, BiasNone, BiasPullDown},
	}
	for _, tt := range tests {
		if err := c.ConfigureBiased(tt.offset, tt.mode, tt.bias); err != nil {
			t.Fatalf("line %d: %v", tt.offset, err)
		}
		if got := f.Bias(tt.offset); got != tt.want {
			t.Errorf("line %d as %s: bias %s, want %s", tt.offset, tt.mode, got, tt.want)
		}
	}

	if err := c.Configure(25, InputPullUp); err != nil {
		t.Fatal(err)
	}
	if got := f.Bias(25); got != BiasPullUp {
		t.Errorf("Configure(InputPullUp): bias %s, want pull-up", got)
	}
}

func TestWrite(t *testing.T) {
	f := NewFakeBackend()
	c := NewController(f)

	if err := c.Write(15, 1); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("unconfigured: expected ErrNotConfigured, got %v", err)
	}

	c.Configure(15, Input)
	if err := c.Write(15, 1); !errors.Is(err, ErrWrongMode) {
		t.Errorf("input: expected ErrWrongMode, got %v", err)
	}

	c.Configure(15, Output)
	if err := c.Write(15, 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.Output(15); got != 1 {
		t.Errorf("driven level: got %d, want 1", got)
	}
	if last, ok := c.LastOutput(15); !ok || last != 1 {
		t.Errorf("LastOutput: got (%d, %v), want (1, true)", last, ok)
	}
}

func TestWaitForEdge(t *testing.T) {
	f := NewFakeBackend()
	c := NewController(f)
	c.Configure(14, EdgeBoth)

	ok, err := c.WaitForEdge(14, 5*time.Millisecond)
	if err != nil || ok {
		t.Fatalf("expected timeout without edge, got (%v, %v)", ok, err)
	}

	f.Emit(EdgeEvent{Line: 14, Type: FallingEdge, Timestamp: 42})
	ok, err = c.WaitForEdge(14, time.Second)
	if err != nil || !ok {
		t.Fatalf("expected edge, got (%v, %v)", ok, err)
	}

	ev, err := c.ReadEdge(14)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Line != 14 || ev.Type != FallingEdge || ev.Timestamp != 42 {
		t.Errorf("event: got %+v", ev)
	}
}

func TestWaitForEdgeWrongMode(t *testing.T) {
	c := NewController(NewFakeBackend())
	c.Configure(14, Input)

	if _, err := c.WaitForEdge(14, time.Millisecond); !errors.Is(err, ErrWrongMode) {
		t.Errorf("expected ErrWrongMode, got %v", err)
	}
	if _, err := c.ReadEdge(14); !errors.Is(err, ErrWrongMode) {
		t.Errorf("expected ErrWrongMode, got %v", err)
	}
}

func TestEdgeLines(t *testing.T) {
	c := NewController(NewFakeBackend())
	c.Configure(21, EdgeFalling)
	c.Configure(14, EdgeBoth)
	c.Configure(18, Input)
	c.Configure(13, EdgeRising)

	got := c.EdgeLines()
	want := []int{13, 14, 21}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("EdgeLines[%d]: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestCloseIdempotent(t *testing.T) {
	f := NewFakeBackend()
	c := NewController(f)
	c.Configure(1, Input)
	c.Configure(2, Output)

	if err := c.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: unexpected error: %v", err)
	}

	if f.CloseCount != 1 {
		t.Errorf("chip closed %d times, want 1", f.CloseCount)
	}
	for _, offset := range []int{1, 2} {
		if _, ok := f.Held(offset); ok {
			t.Errorf("line %d still held after Close", offset)
		}
	}

	err := c.Configure(1, Input)
	if !errors.Is(err, ErrLineUnavailable) || !errors.Is(err, ErrClosed) {
		t.Errorf("configure after close: got %v", err)
	}
	if _, err := c.Read(1); !errors.Is(err, ErrClosed) {
		t.Errorf("read after close: expected ErrClosed, got %v", err)
	}
}

func TestLineSurface(t *testing.T) {
	f := NewFakeBackend()
	c := NewController(f)

	if c.ReadLine(8) != -1 {
		t.Error("ReadLine of unconfigured line should be -1")
	}
	if c.WriteLine(8, 1) {
		t.Error("WriteLine of unconfigured line should fail")
	}
	if !c.ConfigureLine(8, Output) {
		t.Fatal("ConfigureLine failed")
	}
	if !c.WriteLine(8, 1) {
		t.Error("WriteLine failed")
	}
	if c.ReadLine(8) != -1 {
		t.Error("ReadLine of output line should be -1")
	}

	f.RequestErrors[9] = errors.New("busy")
	if c.ConfigureLine(9, Input) {
		t.Error("ConfigureLine should report failure")
	}
}

func TestParseMode(t *testing.T) {
	for _, m := range allModes {
		got, err := ParseMode(m.String())
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", m, err)
		}
		if got != m {
			t.Errorf("ParseMode(%q): got %s, want %s", m.String(), got, m)
		}
	}
	if _, err := ParseMode("sideways"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
