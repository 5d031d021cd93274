package keypad

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/home-monitor/internal/dispatch"
	"github.com/sweeney/home-monitor/internal/gpio"
)

// Lines is the part of the line controller the scanner drives.
type Lines interface {
	Configure(offset int, mode gpio.Mode) error
	ConfigureBiased(offset int, mode gpio.Mode, bias gpio.Bias) error
	Read(offset int) (int, error)
	Write(offset int, level int) error
}

// Registrar accepts edge subscriptions; satisfied by *dispatch.Dispatcher.
type Registrar interface {
	Register(line int, sub dispatch.Subscriber)
}

// Option customizes a Scanner.
type Option func(*Scanner)

// WithClock replaces the wall clock and sleep used for debounce and settling.
func WithClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(s *Scanner) {
		s.now = now
		s.sleep = sleep
	}
}

// Scanner owns the keypad row and column lines.
type Scanner struct {
	lines  Lines
	cfg    Config
	now    func() time.Time
	sleep  func(time.Duration)
	rowIdx map[int]int

	mu        sync.Mutex
	deb       *Debouncer
	keyFns    []func(rune)
	eventFns  []func(KeyEvent)
	presses   int
	listening bool
	resolving bool

	runMu   sync.Mutex
	running bool
	quit    chan struct{}
	done    chan struct{}
}

// NewScanner validates cfg and returns an idle scanner. Lines are not touched
// until Init.
func NewScanner(lines Lines, cfg Config, opts ...Option) (*Scanner, error) {
	if len(cfg.Rows) == 0 || len(cfg.Cols) == 0 {
		return nil, fmt.Errorf("keypad: need at least one row and one column")
	}
	if !cfg.Layout.Fits(len(cfg.Rows), len(cfg.Cols)) {
		return nil, fmt.Errorf("keypad: layout does not match %dx%d matrix", len(cfg.Rows), len(cfg.Cols))
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyActive
	}

	s := &Scanner{
		lines:  lines,
		cfg:    cfg,
		now:    time.Now,
		sleep:  time.Sleep,
		rowIdx: make(map[int]int, len(cfg.Rows)),
		deb:    NewDebouncer(cfg.Debounce),
	}
	for i, r := range cfg.Rows {
		s.rowIdx[r] = i
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Scanner) active() int {
	if s.cfg.ActiveLow {
		return 0
	}
	return 1
}

func (s *Scanner) inactive() int {
	return 1 - s.active()
}

// Init configures the lines for the selected strategy. Columns are outputs in
// both; rows are biased inputs for active scanning and biased edge-both lines
// for event mode, where every column is held active so any press produces an
// edge.
func (s *Scanner) Init() error {
	rowMode, bias := gpio.InputPullUp, gpio.BiasPullUp
	if !s.cfg.ActiveLow {
		rowMode, bias = gpio.InputPullDown, gpio.BiasPullDown
	}
	idle := s.inactive()
	if s.cfg.Strategy == StrategyEvent {
		rowMode = gpio.EdgeBoth
		idle = s.active()
	}

	for _, c := range s.cfg.Cols {
		if err := s.lines.Configure(c, gpio.Output); err != nil {
			return fmt.Errorf("keypad: column %d: %w", c, err)
		}
		if err := s.lines.Write(c, idle); err != nil {
			return fmt.Errorf("keypad: column %d: %w", c, err)
		}
	}
	for _, r := range s.cfg.Rows {
		if err := s.lines.ConfigureBiased(r, rowMode, bias); err != nil {
			return fmt.Errorf("keypad: row %d: %w", r, err)
		}
	}
	return nil
}

// Subscribe registers the scanner on every row line. Only meaningful for the
// event strategy.
func (s *Scanner) Subscribe(r Registrar) {
	for _, row := range s.cfg.Rows {
		r.Register(row, s)
	}
}

// OnKey registers fn to receive the character of every debounced press.
func (s *Scanner) OnKey(fn func(rune)) {
	s.mu.Lock()
	s.keyFns = append(s.keyFns, fn)
	s.mu.Unlock()
}

// OnKeyEvent registers fn to receive full key events.
func (s *Scanner) OnKeyEvent(fn func(KeyEvent)) {
	s.mu.Lock()
	s.eventFns = append(s.eventFns, fn)
	s.mu.Unlock()
}

// Presses returns the number of debounced presses reported so far.
func (s *Scanner) Presses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presses
}

// ScanOnce drives each column active in turn and returns the first active
// intersection. It restores every column to inactive before returning.
func (s *Scanner) ScanOnce() (Coord, bool, error) {
	for ci, col := range s.cfg.Cols {
		if err := s.lines.Write(col, s.active()); err != nil {
			return Coord{}, false, err
		}
		s.sleep(s.cfg.Settle)

		ri, err := s.readRows()
		if werr := s.lines.Write(col, s.inactive()); werr != nil && err == nil {
			err = werr
		}
		if err != nil {
			return Coord{}, false, err
		}
		if ri >= 0 {
			return Coord{Row: ri, Col: ci}, true, nil
		}
	}
	return Coord{}, false, nil
}

// readRows returns the index of the first active row, or -1.
func (s *Scanner) readRows() (int, error) {
	for ri, row := range s.cfg.Rows {
		v, err := s.lines.Read(row)
		if err != nil {
			return -1, err
		}
		if v == s.active() {
			return ri, nil
		}
	}
	return -1, nil
}

// Poll runs one active scan and feeds the result through the debouncer.
func (s *Scanner) Poll() {
	c, ok, err := s.ScanOnce()
	if err != nil {
		log.Debugf("keypad: scan: %v", err)
		return
	}
	s.observe(Sample{Active: ok, Coord: c, Time: s.now()})
}

// OnEdge handles a row edge in event mode. Edges on lines that are not rows
// are ignored.
//
// The edge type is not trusted: resolving a column toggles the column lines,
// which makes the row itself edge. After the settle delay the row level is
// read back with every column active, and only that level decides between
// a release, a still-held key, and a new press.
func (s *Scanner) OnEdge(ev gpio.EdgeEvent) {
	row, ok := s.rowIdx[ev.Line]
	if !ok {
		log.Debugf("keypad: ignoring edge on unmapped line %d", ev.Line)
		return
	}

	s.mu.Lock()
	if !s.listening || s.resolving {
		s.mu.Unlock()
		return
	}
	held, isHeld := s.deb.Latched()
	s.mu.Unlock()
	heldHere := isHeld && held.Row == row

	s.sleep(s.cfg.Settle)
	v, err := s.lines.Read(ev.Line)
	if err != nil {
		log.Debugf("keypad: read row %d: %v", row, err)
		return
	}

	if v != s.active() {
		if heldHere {
			s.observe(Sample{Time: s.now()})
		}
		return
	}
	if heldHere {
		return
	}

	s.mu.Lock()
	if s.resolving {
		s.mu.Unlock()
		return
	}
	s.resolving = true
	s.mu.Unlock()
	col, err := s.resolveColumn(row)
	s.mu.Lock()
	s.resolving = false
	s.mu.Unlock()

	if err != nil {
		log.Debugf("keypad: resolve column for row %d: %v", row, err)
		return
	}
	if col < 0 {
		// Released before we could resolve it.
		return
	}
	s.observe(Sample{Active: true, Coord: Coord{Row: row, Col: col}, Time: s.now()})
}

// resolveColumn finds which column closes the given row. Columns are
// released, probed one at a time, then all driven active again.
func (s *Scanner) resolveColumn(row int) (int, error) {
	rowLine := s.cfg.Rows[row]
	found := -1

	for _, col := range s.cfg.Cols {
		if err := s.lines.Write(col, s.inactive()); err != nil {
			return -1, err
		}
	}
	for ci, col := range s.cfg.Cols {
		if err := s.lines.Write(col, s.active()); err != nil {
			return -1, err
		}
		s.sleep(s.cfg.Settle)
		v, err := s.lines.Read(rowLine)
		if werr := s.lines.Write(col, s.inactive()); werr != nil && err == nil {
			err = werr
		}
		if err != nil {
			return -1, err
		}
		if v == s.active() {
			found = ci
			break
		}
	}
	for _, col := range s.cfg.Cols {
		if err := s.lines.Write(col, s.active()); err != nil {
			return -1, err
		}
	}
	return found, nil
}

func (s *Scanner) observe(sample Sample) {
	s.mu.Lock()
	c, ok := s.deb.Process(sample)
	if !ok {
		s.mu.Unlock()
		return
	}
	key, mapped := s.cfg.Layout.Key(c)
	if !mapped {
		s.mu.Unlock()
		return
	}
	s.presses++
	keyFns := append([]func(rune){}, s.keyFns...)
	eventFns := append([]func(KeyEvent){}, s.eventFns...)
	s.mu.Unlock()

	ev := KeyEvent{Row: c.Row, Col: c.Col, Key: key, Time: sample.Time}
	log.Debugf("keypad: press at row %d col %d", c.Row, c.Col)
	for _, fn := range keyFns {
		fn(ev.Key)
	}
	for _, fn := range eventFns {
		fn(ev)
	}
}

// Start begins observing. In active mode a goroutine polls every Interval;
// in event mode edges start being processed. Starting twice is a no-op.
func (s *Scanner) Start() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.running {
		return
	}
	s.running = true

	s.mu.Lock()
	s.listening = true
	s.mu.Unlock()

	if s.cfg.Strategy != StrategyActive {
		return
	}
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.quit, s.done)
}

// Stop ends observation and joins the polling goroutine. Stopping twice is
// safe.
func (s *Scanner) Stop() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	s.running = false
	quit, done := s.quit, s.done
	s.quit, s.done = nil, nil
	s.runMu.Unlock()

	s.mu.Lock()
	s.listening = false
	s.mu.Unlock()

	if quit != nil {
		close(quit)
		<-done
	}
}

func (s *Scanner) loop(quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := s.cfg.Interval
	if interval <= 0 {
		interval = DefaultConfig().Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			s.Poll()
		}
	}
}
