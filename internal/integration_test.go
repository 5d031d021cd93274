package internal

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/home-monitor/internal/buzzer"
	"github.com/sweeney/home-monitor/internal/dht"
	"github.com/sweeney/home-monitor/internal/dispatch"
	"github.com/sweeney/home-monitor/internal/gpio"
	"github.com/sweeney/home-monitor/internal/history"
	"github.com/sweeney/home-monitor/internal/hub"
	"github.com/sweeney/home-monitor/internal/keypad"
	"github.com/sweeney/home-monitor/internal/motion"
	"github.com/sweeney/home-monitor/internal/mqtt"
	"github.com/sweeney/home-monitor/internal/status"
)

const (
	pirLine    = 14
	buzzerLine = 15
)

// board simulates an active-low keypad wired to a FakeBackend.
type board struct {
	mu      sync.Mutex
	f       *gpio.FakeBackend
	cfg     keypad.Config
	pressed map[keypad.Coord]bool
}

func newBoard(cfg keypad.Config) *board {
	b := &board{f: gpio.NewFakeBackend(), cfg: cfg, pressed: make(map[keypad.Coord]bool)}
	b.f.InputFunc = b.level
	return b
}

func (b *board) press(c keypad.Coord, down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if down {
		b.pressed[c] = true
	} else {
		delete(b.pressed, c)
	}
}

func (b *board) level(offset int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ri, row := range b.cfg.Rows {
		if row != offset {
			continue
		}
		for ci, col := range b.cfg.Cols {
			if b.pressed[keypad.Coord{Row: ri, Col: ci}] && b.f.Output(col) == 0 {
				return 0
			}
		}
	}
	return 1
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// TestIntegrationFullFlow drives motion and keypad edges through the
// controller and dispatcher into every sink.
func TestIntegrationFullFlow(t *testing.T) {
	kcfg := keypad.DefaultConfig()
	kcfg.Strategy = keypad.StrategyEvent
	b := newBoard(kcfg)
	ctrl := gpio.NewController(b.f)

	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	defer store.Close()

	if err := ctrl.Configure(buzzerLine, gpio.Output); err != nil {
		t.Fatalf("configure buzzer: %v", err)
	}
	bz := buzzer.New(ctrl, buzzerLine)

	tracker := status.NewTracker(time.Now(), status.Config{KeypadStrategy: string(kcfg.Strategy)})
	pub := mqtt.NewFakePublisher()
	h := hub.New(tracker, pub, hub.WithHistory(store), hub.WithAlarm(bz, 5*time.Millisecond))

	disp := dispatch.New(ctrl, 5*time.Millisecond)

	if err := ctrl.Configure(pirLine, gpio.EdgeBoth); err != nil {
		t.Fatalf("configure pir: %v", err)
	}
	pir := motion.NewSensor(pirLine)
	pir.OnMotion(h.HandleMotion)
	disp.Register(pir.Line(), pir)

	scanner, err := keypad.NewScanner(ctrl, kcfg, keypad.WithClock(time.Now, func(time.Duration) {}))
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	if err := scanner.Init(); err != nil {
		t.Fatalf("scanner.Init: %v", err)
	}
	scanner.OnKeyEvent(h.HandleKey)
	scanner.Subscribe(disp)

	disp.Start()
	scanner.Start()

	// Motion detected sounds the alarm.
	b.f.Emit(gpio.EdgeEvent{Line: pirLine, Type: gpio.RisingEdge})
	waitFor(t, "motion detected", func() bool { return tracker.Snapshot().Detections == 1 })

	// Row 0, column 3 is 'A'.
	b.press(keypad.Coord{Row: 0, Col: 3}, true)
	b.f.Emit(gpio.EdgeEvent{Line: kcfg.Rows[0], Type: gpio.FallingEdge})
	waitFor(t, "key press", func() bool { return tracker.Snapshot().KeyPresses == 1 })
	b.press(keypad.Coord{Row: 0, Col: 3}, false)
	b.f.Emit(gpio.EdgeEvent{Line: kcfg.Rows[0], Type: gpio.RisingEdge})

	b.f.Emit(gpio.EdgeEvent{Line: pirLine, Type: gpio.FallingEdge})
	waitFor(t, "motion cleared", func() bool { return !tracker.Snapshot().Motion })

	h.HandleReading(dht.Reading{Humidity: 45, Temperature: 21.5, Time: time.Now()})

	scanner.Stop()
	disp.Stop()

	if len(pub.Motions) != 2 || !pub.Motions[0].Detected || pub.Motions[1].Detected {
		t.Errorf("published motions: got %+v", pub.Motions)
	}
	if len(pub.Keypads) != 1 || pub.Keypads[0].Presses != 1 {
		t.Errorf("published keypad events: got %+v", pub.Keypads)
	}
	if len(pub.Readings) != 1 {
		t.Errorf("published readings: got %d, want 1", len(pub.Readings))
	}
	if bz.Beeps() != 1 {
		t.Errorf("beeps: got %d, want 1", bz.Beeps())
	}

	ctx := context.Background()
	motions, err := store.RecentEvents(ctx, history.KindMotion, 10)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(motions) != 2 {
		t.Errorf("stored motion events: got %d, want 2", len(motions))
	}
	keys, err := store.RecentEvents(ctx, history.KindKeypad, 10)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(keys) != 1 || keys[0].Detail != "1" {
		t.Errorf("stored keypad events: got %+v", keys)
	}
	readings, err := store.RecentReadings(ctx, 10)
	if err != nil {
		t.Fatalf("RecentReadings: %v", err)
	}
	if len(readings) != 1 || readings[0].Temperature != 21.5 {
		t.Errorf("stored readings: got %+v", readings)
	}

	if err := bz.Close(); err != nil {
		t.Errorf("buzzer close: %v", err)
	}
	if err := ctrl.Close(); err != nil {
		t.Errorf("controller close: %v", err)
	}
	if !b.f.Closed {
		t.Error("expected backend closed")
	}
}

// TestIntegrationUnavailableLineDegrades checks that a denied PIR request
// leaves the rest of the pipeline working.
func TestIntegrationUnavailableLineDegrades(t *testing.T) {
	kcfg := keypad.DefaultConfig()
	kcfg.Strategy = keypad.StrategyEvent
	b := newBoard(kcfg)
	b.f.RequestErrors[pirLine] = errors.New("line busy")
	ctrl := gpio.NewController(b.f)
	defer ctrl.Close()

	if ctrl.ConfigureLine(pirLine, gpio.EdgeBoth) {
		t.Fatal("expected PIR configure to fail")
	}
	if got := ctrl.ReadLine(pirLine); got != -1 {
		t.Errorf("ReadLine on unavailable line: got %d, want -1", got)
	}

	tracker := status.NewTracker(time.Now(), status.Config{})
	pub := mqtt.NewFakePublisher()
	h := hub.New(tracker, pub)

	disp := dispatch.New(ctrl, 5*time.Millisecond)
	scanner, err := keypad.NewScanner(ctrl, kcfg, keypad.WithClock(time.Now, func(time.Duration) {}))
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	if err := scanner.Init(); err != nil {
		t.Fatalf("scanner.Init: %v", err)
	}
	scanner.OnKeyEvent(h.HandleKey)
	scanner.Subscribe(disp)

	disp.Start()
	scanner.Start()
	defer func() {
		scanner.Stop()
		disp.Stop()
	}()

	b.press(keypad.Coord{Row: 3, Col: 1}, true)
	b.f.Emit(gpio.EdgeEvent{Line: kcfg.Rows[3], Type: gpio.FallingEdge})
	waitFor(t, "key press", func() bool { return tracker.Snapshot().KeyPresses == 1 })
}
