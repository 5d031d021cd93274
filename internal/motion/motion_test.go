package motion

import (
	"testing"
	"time"

	"github.com/sweeney/home-monitor/internal/dispatch"
	"github.com/sweeney/home-monitor/internal/gpio"
)

func TestSensorEdges(t *testing.T) {
	s := NewSensor(14)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	var got []Event
	s.OnMotion(func(ev Event) { got = append(got, ev) })

	s.OnEdge(gpio.EdgeEvent{Line: 14, Type: gpio.RisingEdge})
	s.OnEdge(gpio.EdgeEvent{Line: 14, Type: gpio.RisingEdge}) // duplicate
	now = now.Add(time.Second)
	s.OnEdge(gpio.EdgeEvent{Line: 14, Type: gpio.FallingEdge})
	s.OnEdge(gpio.EdgeEvent{Line: 15, Type: gpio.RisingEdge}) // other line

	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if !got[0].Detected || got[1].Detected {
		t.Errorf("expected detected then cleared, got %+v", got)
	}
	if !got[1].Time.Equal(now) {
		t.Errorf("expected cleared at %v, got %v", now, got[1].Time)
	}

	active, since := s.State()
	if active || !since.Equal(now) {
		t.Errorf("expected inactive since %v, got %v %v", now, active, since)
	}
	if s.Count() != 1 {
		t.Errorf("expected 1 detection, got %d", s.Count())
	}
}

func TestSensorThroughDispatcher(t *testing.T) {
	f := gpio.NewFakeBackend()
	c := gpio.NewController(f)
	if err := c.Configure(14, gpio.EdgeBoth); err != nil {
		t.Fatalf("configure: %v", err)
	}

	s := NewSensor(14)
	events := make(chan Event, 4)
	s.OnMotion(func(ev Event) { events <- ev })

	d := dispatch.New(c, 5*time.Millisecond)
	d.Register(14, s)
	d.Start()
	defer d.Stop()

	f.Emit(gpio.EdgeEvent{Line: 14, Type: gpio.RisingEdge})
	select {
	case ev := <-events:
		if !ev.Detected {
			t.Error("expected motion detected")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no motion event delivered")
	}
}
