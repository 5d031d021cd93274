// Command home-monitor watches a PIR sensor, a single-wire climate sensor and
// a matrix keypad, and publishes what it sees to MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/sweeney/home-monitor/internal/buzzer"
	"github.com/sweeney/home-monitor/internal/config"
	"github.com/sweeney/home-monitor/internal/dht"
	"github.com/sweeney/home-monitor/internal/dispatch"
	"github.com/sweeney/home-monitor/internal/gpio"
	"github.com/sweeney/home-monitor/internal/history"
	"github.com/sweeney/home-monitor/internal/hub"
	"github.com/sweeney/home-monitor/internal/keypad"
	"github.com/sweeney/home-monitor/internal/logging"
	"github.com/sweeney/home-monitor/internal/motion"
	"github.com/sweeney/home-monitor/internal/mqtt"
	"github.com/sweeney/home-monitor/internal/status"
	"github.com/sweeney/home-monitor/internal/telemetry"
	"github.com/sweeney/home-monitor/internal/web"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "home-monitor",
		Usage: "monitor motion, climate and keypad lines and publish to MQTT",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to YAML config file (defaults only if empty)",
				EnvVars: []string{"HOMEMON_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log",
				Aliases: []string{"l"},
				Usage:   "log level (debug, info, warn, error)",
			},
			&cli.BoolFlag{
				Name:  "print-state",
				Usage: "print current line levels and one sensor reading, then exit",
			},
			&cli.StringFlag{
				Name:  "http",
				Usage: `HTTP status address ("" to disable)`,
			},
		},
		Action: action,
	}
}

func action(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	closer, err := logging.Setup(cfg.Logging)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer closer.Close()

	return run(cfg, c.Bool("print-state"))
}

// loadConfig reads the config file and applies flag overrides on top.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if c.IsSet("log") {
		cfg.Logging.Level = c.String("log")
	}
	if c.IsSet("http") {
		cfg.HTTP.Addr = c.String("http")
	}
	return cfg, nil
}

func openBackend(cfg config.GPIOConfig) (gpio.Backend, error) {
	switch cfg.Backend {
	case "periph":
		return gpio.NewPeriphBackend()
	case "gpiocdev", "":
		return gpio.NewCdevBackend(cfg.Chip)
	default:
		return nil, fmt.Errorf("unknown gpio backend %q", cfg.Backend)
	}
}

func run(cfg *config.Config, printState bool) error {
	backend, err := openBackend(cfg.GPIO)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	ctrl := gpio.NewController(backend)
	// Runs last: every worker below is stopped and joined first.
	defer ctrl.Close()

	if printState {
		return printLineState(ctrl, cfg, os.Stdout)
	}

	tracker := status.NewTracker(time.Now(), status.Config{
		Backend:        cfg.GPIO.Backend,
		Chip:           cfg.GPIO.Chip,
		KeypadStrategy: cfg.Keypad.Strategy,
		SamplePeriodMs: cfg.DHT.Period.Milliseconds(),
		DebounceMs:     cfg.Keypad.Debounce.Milliseconds(),
		HeartbeatMs:    cfg.Heartbeat.Milliseconds(),
		Broker:         cfg.MQTT.Broker,
		HTTPAddr:       cfg.HTTP.Addr,
	})

	publisher, err := mqtt.NewRealPublisher(mqtt.Config{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		BufferSize:  cfg.MQTT.BufferSize,
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	decoder := dht.NewDecoder(ctrl, cfg.DecoderConfig())
	opts := []hub.Option{hub.WithSensorStats(decoder.Stats)}

	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.Open(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("init history: %w", err)
		}
		defer store.Close()
		opts = append(opts, hub.WithHistory(store))
		log.Infof("history: recording to %s", store.Path())
	}

	tw, err := telemetry.Connect(telemetry.Config{
		Enabled:       cfg.InfluxDB.Enabled,
		URL:           cfg.InfluxDB.URL,
		Token:         cfg.InfluxDB.Token,
		Org:           cfg.InfluxDB.Org,
		Bucket:        cfg.InfluxDB.Bucket,
		BatchSize:     cfg.InfluxDB.BatchSize,
		FlushInterval: cfg.InfluxDB.FlushInterval,
	})
	switch {
	case errors.Is(err, telemetry.ErrDisabled):
	case err != nil:
		log.Warnf("telemetry: %v, continuing without it", err)
	default:
		defer tw.Close()
		opts = append(opts, hub.WithTelemetry(tw))
	}

	if err := ctrl.Configure(cfg.GPIO.Buzzer, gpio.Output); err != nil {
		log.Warnf("buzzer: %v, alarm disabled", err)
	} else {
		bz := buzzer.New(ctrl, cfg.GPIO.Buzzer)
		defer bz.Close()
		if cfg.Alarm.OnMotion {
			opts = append(opts, hub.WithAlarm(bz, cfg.Alarm.Beep))
		}
	}

	h := hub.New(tracker, publisher, opts...)
	decoder.OnReading(h.HandleReading)

	disp := dispatch.New(ctrl, cfg.Dispatch.EdgeTimeout)

	if err := ctrl.Configure(cfg.GPIO.PIR, gpio.EdgeBoth); err != nil {
		log.Warnf("motion: %v, motion sensing disabled", err)
	} else {
		pir := motion.NewSensor(cfg.GPIO.PIR)
		pir.OnMotion(h.HandleMotion)
		disp.Register(pir.Line(), pir)
	}

	scanCfg := cfg.ScannerConfig()
	scanner, err := keypad.NewScanner(ctrl, scanCfg)
	if err != nil {
		return fmt.Errorf("init keypad: %w", err)
	}
	keypadReady := true
	if err := scanner.Init(); err != nil {
		log.Warnf("keypad: %v, keypad disabled", err)
		keypadReady = false
	} else {
		scanner.OnKeyEvent(h.HandleKey)
		if scanCfg.Strategy == keypad.StrategyEvent {
			scanner.Subscribe(disp)
		}
	}

	if cfg.HTTP.Addr != "" {
		var hist web.HistorySource
		if store != nil {
			hist = store
		}
		srv := web.New(cfg.HTTP.Addr, tracker, hist)
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				log.Warnf("web: server error: %v", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			srv.Shutdown(ctx)
		}()
		log.Infof("web: status server listening on %s", cfg.HTTP.Addr)
	}

	// Deferred in reverse so the scanner stops first and the dispatcher last.
	disp.Start()
	defer disp.Stop()
	decoder.Start()
	defer decoder.Stop()
	if keypadReady {
		scanner.Start()
		defer scanner.Stop()
	}

	snap := tracker.Snapshot()
	if err := publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}); err != nil {
		log.Warnf("failed to publish startup event: %v", err)
	} else {
		log.Infof("published startup event")
	}
	h.RecordSystem("STARTUP", snap.Now)

	log.Infof("started: backend=%s broker=%s period=%v keypad=%s heartbeat=%v",
		cfg.GPIO.Backend, cfg.MQTT.Broker, cfg.DHT.Period, cfg.Keypad.Strategy, cfg.Heartbeat)

	var heartbeat <-chan time.Time
	if cfg.Heartbeat > 0 {
		ticker := time.NewTicker(cfg.Heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var maintain func(time.Time)
	if store != nil && cfg.History.Retention > 0 {
		maintain = pruneHistory(store, cfg.History.Retention)
	}

	return runLoop(publisher, publisher, tracker, h, maintain, time.Now, heartbeat, sigCh)
}

func runLoop(publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, h *hub.Hub, maintain func(time.Time), now func() time.Time, heartbeat <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			log.Infof("received %v, shutting down", s)
			reason := signalName(s)
			t := now()

			h.SyncStats()
			if mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}
			snap := tracker.Snapshot()
			event := mqtt.SystemEvent{
				Timestamp:  t,
				Event:      "SHUTDOWN",
				Reason:     reason,
				Retained:   true,
				RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", reason),
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Warnf("failed to publish shutdown event: %v", err)
			} else {
				log.Infof("published shutdown event")
			}
			h.RecordSystem("SHUTDOWN", t)
			return nil

		case <-heartbeat:
			t := now()
			h.SyncStats()
			if mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}
			snap := tracker.Snapshot()
			log.Infof("heartbeat: uptime=%v detections=%d presses=%d published=%d failed=%d",
				snap.Uptime().Truncate(time.Second), snap.Detections, snap.KeyPresses,
				snap.Sensor.Published, snap.Sensor.FailedCycles)

			if err := publisher.PublishSystem(mqtt.SystemEvent{
				Timestamp:  t,
				Event:      "HEARTBEAT",
				RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
			}); err != nil {
				log.Warnf("heartbeat publish error: %v", err)
			}
			if maintain != nil {
				maintain(t)
			}
		}
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}

type pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// pruneHistory returns a maintenance hook that drops rows older than retention.
func pruneHistory(p pruner, retention time.Duration) func(time.Time) {
	return func(t time.Time) {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		n, err := p.Prune(ctx, t.Add(-retention))
		if err != nil {
			log.Warnf("history: prune: %v", err)
			return
		}
		if n > 0 {
			log.Debugf("history: pruned %d rows", n)
		}
	}
}

// printLineState reads every input line once and attempts one sensor read.
func printLineState(ctrl *gpio.Controller, cfg *config.Config, w io.Writer) error {
	if err := ctrl.Configure(cfg.GPIO.PIR, gpio.Input); err != nil {
		return fmt.Errorf("configure pir: %w", err)
	}
	pir, err := ctrl.Read(cfg.GPIO.PIR)
	if err != nil {
		return fmt.Errorf("read pir: %w", err)
	}
	fmt.Fprintf(w, "PIR: %s\n", motionState(pir))

	bias := gpio.InputPullDown
	if cfg.Keypad.ActiveLow {
		bias = gpio.InputPullUp
	}
	rows := make([]int, len(cfg.GPIO.KeypadRows))
	for i, line := range cfg.GPIO.KeypadRows {
		if err := ctrl.Configure(line, bias); err != nil {
			return fmt.Errorf("configure keypad row %d: %w", line, err)
		}
		if rows[i], err = ctrl.Read(line); err != nil {
			return fmt.Errorf("read keypad row %d: %w", line, err)
		}
	}
	fmt.Fprintf(w, "Keypad rows: %v\n", rows)

	r, err := dht.NewDecoder(ctrl, cfg.DecoderConfig()).ReadOnce()
	if err != nil {
		fmt.Fprintf(w, "DHT: %v\n", err)
		return nil
	}
	fmt.Fprintf(w, "DHT: %.1f%% %.1fC\n", r.Humidity, r.Temperature)
	return nil
}

func motionState(level int) string {
	if level == 1 {
		return "DETECTED"
	}
	return "CLEAR"
}
