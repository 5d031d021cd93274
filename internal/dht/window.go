package dht

// window is a fixed-capacity ring of readings used for smoothing.
// Not safe for concurrent use; the decoder synchronizes access.
type window struct {
	buf      []Reading
	capacity int
	head     int // next write position
	count    int
}

func newWindow(capacity int) *window {
	if capacity < 1 {
		capacity = 1
	}
	return &window{
		buf:      make([]Reading, capacity),
		capacity: capacity,
	}
}

// push overwrites the oldest slot once the ring is full.
func (w *window) push(r Reading) {
	w.buf[w.head] = r
	w.head = (w.head + 1) % w.capacity
	if w.count < w.capacity {
		w.count++
	}
}

// mean averages the filled slots. Time is taken from the newest reading.
func (w *window) mean() Reading {
	if w.count == 0 {
		return Reading{}
	}

	var out Reading
	for i := 0; i < w.count; i++ {
		r := w.buf[i]
		out.Humidity += r.Humidity
		out.Temperature += r.Temperature
	}
	out.Humidity /= float64(w.count)
	out.Temperature /= float64(w.count)
	out.Time = w.buf[(w.head-1+w.capacity)%w.capacity].Time
	return out
}

func (w *window) len() int {
	return w.count
}
