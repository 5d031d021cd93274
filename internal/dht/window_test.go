package dht

import "testing"

func TestWindowMeanPartial(t *testing.T) {
	w := newWindow(5)
	if w.len() != 0 {
		t.Fatalf("expected empty window, got %d", w.len())
	}

	w.push(Reading{Humidity: 40, Temperature: 20})
	w.push(Reading{Humidity: 50, Temperature: 22})

	m := w.mean()
	if m.Humidity != 45 || m.Temperature != 21 {
		t.Errorf("expected 45/21, got %v/%v", m.Humidity, m.Temperature)
	}
}

func TestWindowOverwritesOldest(t *testing.T) {
	w := newWindow(3)
	for _, v := range []float64{10, 20, 30, 40} {
		w.push(Reading{Temperature: v})
	}
	if w.len() != 3 {
		t.Fatalf("expected 3 filled slots, got %d", w.len())
	}
	// 10 dropped: mean of 20, 30, 40
	if m := w.mean(); m.Temperature != 30 {
		t.Errorf("expected 30, got %v", m.Temperature)
	}
}

func TestWindowMinimumCapacity(t *testing.T) {
	w := newWindow(0)
	w.push(Reading{Temperature: 1})
	w.push(Reading{Temperature: 2})
	if m := w.mean(); m.Temperature != 2 {
		t.Errorf("expected latest value only, got %v", m.Temperature)
	}
}
