package keypad

import "time"

// Coord is a row/column intersection on the matrix.
type Coord struct {
	Row int
	Col int
}

// Sample is one observation of the matrix: either a single active
// intersection or nothing pressed.
type Sample struct {
	Active bool
	Coord  Coord
	Time   time.Time
}

// Debouncer turns raw matrix observations into at most one report per
// physical press.
//
// The same key is reported again only after it has stayed released for the
// quiet interval; a re-press sooner than that is bounce and re-latches
// silently. A different key is reported once the quiet interval has elapsed
// since the last report.
type Debouncer struct {
	window     time.Duration
	latched    Coord
	hasLatch   bool
	released   bool
	releasedAt time.Time
	lastReport time.Time
}

// NewDebouncer creates a debouncer with the given quiet interval.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{window: window}
}

// Process feeds one observation and returns the coordinate to report, if any.
func (d *Debouncer) Process(s Sample) (Coord, bool) {
	if !s.Active {
		if d.hasLatch && !d.released {
			d.released = true
			d.releasedAt = s.Time
		}
		return Coord{}, false
	}

	if !d.hasLatch {
		return d.report(s), true
	}

	if s.Coord == d.latched {
		switch {
		case !d.released:
			// Still held.
			return Coord{}, false
		case s.Time.Sub(d.releasedAt) < d.window:
			// Bounce: pressed again before the release settled.
			d.released = false
			return Coord{}, false
		}
		return d.report(s), true
	}

	if s.Time.Sub(d.lastReport) < d.window {
		return Coord{}, false
	}
	return d.report(s), true
}

func (d *Debouncer) report(s Sample) Coord {
	d.latched = s.Coord
	d.hasLatch = true
	d.released = false
	d.lastReport = s.Time
	return s.Coord
}

// Latched returns the last reported coordinate and whether it is still held.
func (d *Debouncer) Latched() (Coord, bool) {
	return d.latched, d.hasLatch && !d.released
}
