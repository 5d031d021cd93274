// Package telemetry writes readings and motion events to InfluxDB.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrDisabled indicates InfluxDB output is disabled in configuration.
	ErrDisabled = errors.New("telemetry: disabled in configuration")

	// ErrConnectionFailed indicates the initial ping failed.
	ErrConnectionFailed = errors.New("telemetry: connection failed")
)

const (
	connectTimeout        = 10 * time.Second
	millisecondsPerSecond = 1000

	// Measurements written.
	MeasurementClimate = "climate"
	MeasurementMotion  = "motion"
)

// Config holds InfluxDB connection settings.
type Config struct {
	Enabled       bool
	URL           string
	Token         string
	Org           string
	Bucket        string
	Sensor        string // value of the "sensor" tag
	BatchSize     int
	FlushInterval int // seconds
}

// Writer batches points through the non-blocking InfluxDB write API.
type Writer struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	sensor   string

	mu     sync.RWMutex
	closed bool
}

// Connect pings the server and returns a Writer. It returns ErrDisabled when
// cfg.Enabled is false.
func Connect(cfg Config) (*Writer, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 10
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*millisecondsPerSecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	w := &Writer{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		sensor:   sensorTag(cfg.Sensor),
	}
	go w.logErrors(w.writeAPI.Errors())
	return w, nil
}

func sensorTag(s string) string {
	if s == "" {
		return "dht"
	}
	return s
}

func (w *Writer) logErrors(errs <-chan error) {
	for err := range errs {
		log.Warnf("telemetry: write: %v", err)
	}
}

// ClimatePoint builds the point for one reading.
func ClimatePoint(sensor string, humidity, temperature float64, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementClimate,
		map[string]string{"sensor": sensorTag(sensor)},
		map[string]interface{}{
			"humidity":    humidity,
			"temperature": temperature,
		},
		at,
	)
}

// MotionPoint builds the point for one motion change.
func MotionPoint(detected bool, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementMotion,
		map[string]string{"sensor": "pir"},
		map[string]interface{}{"detected": detected},
		at,
	)
}

// WriteReading queues a climate point.
func (w *Writer) WriteReading(humidity, temperature float64, at time.Time) {
	w.write(ClimatePoint(w.sensor, humidity, temperature, at))
}

// WriteMotion queues a motion point.
func (w *Writer) WriteMotion(detected bool, at time.Time) {
	w.write(MotionPoint(detected, at))
}

func (w *Writer) write(p *write.Point) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	w.writeAPI.WritePoint(p)
}

// Close flushes pending points and closes the client. Safe to call twice.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.writeAPI.Flush()
	w.client.Close()
	return nil
}
