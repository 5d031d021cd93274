// Package dht decodes the single-wire temperature/humidity sensor protocol by
// bit-banging one line through the line controller.
package dht

import (
	"errors"
	"fmt"
	"time"
)

// Sensor faults. All of them are transient: the decoder retries locally and a
// failed cycle never reaches reading listeners.
var (
	ErrHandshakeTimeout = errors.New("dht: handshake timeout")
	ErrBitTimeout       = errors.New("dht: bit timeout")
	ErrChecksumMismatch = errors.New("dht: checksum mismatch")
	ErrOutOfRange       = errors.New("dht: reading out of range")
)

// Sanity bounds for the target sensor class.
const (
	MinHumidity    = 0.0
	MaxHumidity    = 100.0
	MinTemperature = -10.0
	MaxTemperature = 50.0
)

// Config holds protocol timings and sampling parameters.
type Config struct {
	Line         int
	Period       time.Duration // sampling period
	Retries      int           // attempts per cycle
	Backoff      time.Duration // pause between attempts
	WakeLow      time.Duration // host low pulse, >= 18ms
	WakeHigh     time.Duration // host high pulse, 20-40us
	BitTimeout   time.Duration // bound on every busy-wait
	OneThreshold time.Duration // high segment longer than this decodes to 1
	Window       int           // smoothing window size
}

// DefaultConfig returns the timings used for a DHT11-class sensor.
func DefaultConfig(line int) Config {
	return Config{
		Line:         line,
		Period:       2 * time.Second,
		Retries:      3,
		Backoff:      100 * time.Millisecond,
		WakeLow:      20 * time.Millisecond,
		WakeHigh:     30 * time.Microsecond,
		BitTimeout:   100 * time.Microsecond,
		OneThreshold: 50 * time.Microsecond,
		Window:       5,
	}
}

// Frame is the raw 5-byte payload: humidity integer, humidity fraction,
// temperature integer, temperature fraction, checksum.
type Frame [5]byte

// Valid reports whether the checksum byte equals the low byte of the sum of
// the first four.
func (f Frame) Valid() bool {
	return f[0]+f[1]+f[2]+f[3] == f[4]
}

// Reading converts the frame to physical units. Bit 7 of the temperature
// fraction byte marks a negative temperature.
func (f Frame) Reading() Reading {
	temp := float64(f[2]) + float64(f[3]&0x7f)/10
	if f[3]&0x80 != 0 {
		temp = -temp
	}
	return Reading{
		Humidity:    float64(f[0]) + float64(f[1])/10,
		Temperature: temp,
	}
}

// DecodeFrame validates f and returns its reading.
func DecodeFrame(f Frame) (Reading, error) {
	if !f.Valid() {
		return Reading{}, fmt.Errorf("%w: got %d, want %d", ErrChecksumMismatch, f[4], f[0]+f[1]+f[2]+f[3])
	}
	r := f.Reading()
	if err := r.check(); err != nil {
		return Reading{}, err
	}
	return r, nil
}

// Reading is one humidity/temperature measurement.
type Reading struct {
	Humidity    float64   // percent
	Temperature float64   // degrees Celsius
	Time        time.Time // when the sample was taken
}

func (r Reading) check() error {
	if r.Humidity < MinHumidity || r.Humidity > MaxHumidity {
		return fmt.Errorf("%w: humidity %.1f", ErrOutOfRange, r.Humidity)
	}
	if r.Temperature < MinTemperature || r.Temperature > MaxTemperature {
		return fmt.Errorf("%w: temperature %.1f", ErrOutOfRange, r.Temperature)
	}
	return nil
}

// Stats counts decode attempts and failures by kind.
type Stats struct {
	Attempts           int `json:"attempts"`
	Published          int `json:"published"`
	FailedCycles       int `json:"failed_cycles"`
	HandshakeTimeouts  int `json:"handshake_timeouts"`
	BitTimeouts        int `json:"bit_timeouts"`
	ChecksumMismatches int `json:"checksum_mismatches"`
	OutOfRange         int `json:"out_of_range"`
	LineErrors         int `json:"line_errors"`
}

func (s *Stats) record(err error) {
	switch {
	case errors.Is(err, ErrHandshakeTimeout):
		s.HandshakeTimeouts++
	case errors.Is(err, ErrBitTimeout):
		s.BitTimeouts++
	case errors.Is(err, ErrChecksumMismatch):
		s.ChecksumMismatches++
	case errors.Is(err, ErrOutOfRange):
		s.OutOfRange++
	default:
		s.LineErrors++
	}
}
