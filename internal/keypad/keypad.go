// Package keypad resolves presses on a row/column matrix keypad and reports
// each physical press exactly once.
package keypad

import (
	"fmt"
	"strings"
	"time"
)

// Strategy selects how the matrix is observed.
type Strategy string

const (
	// StrategyActive drives each column in turn on a timer and reads the rows.
	StrategyActive Strategy = "active"
	// StrategyEvent waits for row edges from the dispatcher and scans the
	// columns only when one arrives.
	StrategyEvent Strategy = "event"
)

// ParseStrategy converts a configuration string into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyActive:
		return StrategyActive, nil
	case StrategyEvent:
		return StrategyEvent, nil
	}
	return "", fmt.Errorf("keypad: unknown strategy %q", s)
}

// Layout maps [row][col] to the character printed on the key.
type Layout [][]rune

// DefaultLayout is the standard 4x4 membrane keypad.
var DefaultLayout = Layout{
	{'1', '2', '3', 'A'},
	{'4', '5', '6', 'B'},
	{'7', '8', '9', 'C'},
	{'*', '0', '#', 'D'},
}

// ParseLayout builds a layout from one string per row.
func ParseLayout(rows []string) Layout {
	l := make(Layout, len(rows))
	for i, r := range rows {
		l[i] = []rune(r)
	}
	return l
}

// Key returns the character at c.
func (l Layout) Key(c Coord) (rune, bool) {
	if c.Row < 0 || c.Row >= len(l) || c.Col < 0 || c.Col >= len(l[c.Row]) {
		return 0, false
	}
	return l[c.Row][c.Col], true
}

// Fits reports whether every row has exactly cols entries and there are rows rows.
func (l Layout) Fits(rows, cols int) bool {
	if len(l) != rows {
		return false
	}
	for _, r := range l {
		if len(r) != cols {
			return false
		}
	}
	return true
}

// KeyEvent is one debounced press.
type KeyEvent struct {
	Row  int
	Col  int
	Key  rune
	Time time.Time
}

// Config describes the matrix wiring and timing.
type Config struct {
	Rows      []int // sense lines
	Cols      []int // drive lines
	Layout    Layout
	ActiveLow bool
	Strategy  Strategy
	Settle    time.Duration // delay after driving a column before sampling
	Debounce  time.Duration // quiet interval
	Interval  time.Duration // active scan period
}

// DefaultConfig returns the wiring of the reference board.
func DefaultConfig() Config {
	return Config{
		Rows:      []int{13, 16, 20, 21},
		Cols:      []int{1, 7, 8, 26},
		Layout:    DefaultLayout,
		ActiveLow: true,
		Strategy:  StrategyActive,
		Settle:    10 * time.Microsecond,
		Debounce:  50 * time.Millisecond,
		Interval:  10 * time.Millisecond,
	}
}
