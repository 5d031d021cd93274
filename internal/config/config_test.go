package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/home-monitor/internal/keypad"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.GPIO.DHT != 18 || cfg.GPIO.PIR != 14 || cfg.GPIO.Buzzer != 15 {
		t.Errorf("unexpected default pins: %+v", cfg.GPIO)
	}
	if len(cfg.Keypad.Layout) != 4 || cfg.Keypad.Layout[1] != "456B" {
		t.Errorf("unexpected default layout: %v", cfg.Keypad.Layout)
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DHT.Period != 2*time.Second {
		t.Errorf("DHT.Period = %v, want 2s", cfg.DHT.Period)
	}
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
gpio:
  backend: periph
  pir: 4
  buzzer: 5
  dht: 6
  keypad_rows: [10, 11]
  keypad_cols: [12, 13, 19]
dht:
  period: 5s
  retries: 5
  window: 3
keypad:
  strategy: event
  debounce: 30ms
  layout: ["123", "456"]
mqtt:
  broker: "tcp://192.168.1.200:1883"
  topic_prefix: "house/hall"
heartbeat: 1m
alarm:
  on_motion: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.GPIO.Backend != "periph" || cfg.GPIO.DHT != 6 {
		t.Errorf("GPIO = %+v", cfg.GPIO)
	}
	if len(cfg.GPIO.KeypadRows) != 2 || len(cfg.GPIO.KeypadCols) != 3 {
		t.Errorf("keypad lines = %v x %v", cfg.GPIO.KeypadRows, cfg.GPIO.KeypadCols)
	}
	if cfg.DHT.Period != 5*time.Second || cfg.DHT.Retries != 5 || cfg.DHT.Window != 3 {
		t.Errorf("DHT = %+v", cfg.DHT)
	}
	// Unset keys keep their defaults.
	if cfg.DHT.BitTimeout != 100*time.Microsecond {
		t.Errorf("DHT.BitTimeout = %v, want default 100us", cfg.DHT.BitTimeout)
	}
	if cfg.Keypad.Debounce != 30*time.Millisecond {
		t.Errorf("Keypad.Debounce = %v", cfg.Keypad.Debounce)
	}
	if cfg.Heartbeat != time.Minute || !cfg.Alarm.OnMotion {
		t.Errorf("Heartbeat = %v, Alarm = %+v", cfg.Heartbeat, cfg.Alarm)
	}

	dc := cfg.DecoderConfig()
	if dc.Line != 6 || dc.Period != 5*time.Second || dc.Window != 3 {
		t.Errorf("DecoderConfig = %+v", dc)
	}

	sc := cfg.ScannerConfig()
	if sc.Strategy != keypad.StrategyEvent || !sc.Layout.Fits(2, 3) {
		t.Errorf("ScannerConfig = %+v", sc)
	}
	if k, _ := sc.Layout.Key(keypad.Coord{Row: 1, Col: 2}); k != '6' {
		t.Errorf("layout (1,2) = %q, want '6'", k)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "gpio: [not a map")
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HOMEMON_MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("HOMEMON_GPIO_CHIP", "gpiochip4")
	t.Setenv("HOMEMON_HTTP_ADDR", ":9090")
	t.Setenv("HOMEMON_INFLUXDB_TOKEN", "secret")
	t.Setenv("HOMEMON_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MQTT.Broker != "tcp://broker:1883" {
		t.Errorf("MQTT.Broker = %q", cfg.MQTT.Broker)
	}
	if cfg.GPIO.Chip != "gpiochip4" {
		t.Errorf("GPIO.Chip = %q", cfg.GPIO.Chip)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("HTTP.Addr = %q", cfg.HTTP.Addr)
	}
	if cfg.InfluxDB.Token != "secret" {
		t.Errorf("InfluxDB.Token = %q", cfg.InfluxDB.Token)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "shared line",
			mutate:  func(c *Config) { c.GPIO.Buzzer = c.GPIO.DHT },
			wantErr: "line 18 assigned to both gpio.buzzer and gpio.dht",
		},
		{
			name:    "keypad row shares pir",
			mutate:  func(c *Config) { c.GPIO.KeypadRows[0] = c.GPIO.PIR },
			wantErr: "gpio.keypad_rows[0]",
		},
		{
			name:    "layout mismatch",
			mutate:  func(c *Config) { c.Keypad.Layout = []string{"12", "34"} },
			wantErr: "keypad.layout must be 4x4",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.GPIO.Backend = "sysfs" },
			wantErr: "gpio.backend",
		},
		{
			name:    "unknown strategy",
			mutate:  func(c *Config) { c.Keypad.Strategy = "irq" },
			wantErr: "keypad.strategy",
		},
		{
			name:    "zero duration",
			mutate:  func(c *Config) { c.DHT.BitTimeout = 0 },
			wantErr: "dht.bit_timeout",
		},
		{
			name:    "short wake pulse",
			mutate:  func(c *Config) { c.DHT.WakeLow = 10 * time.Millisecond },
			wantErr: "at least 18ms",
		},
		{
			name:    "wake release too short",
			mutate:  func(c *Config) { c.DHT.WakeHigh = 10 * time.Microsecond },
			wantErr: "dht.wake_high must be between 20us and 40us",
		},
		{
			name:    "wake release too long",
			mutate:  func(c *Config) { c.DHT.WakeHigh = 80 * time.Microsecond },
			wantErr: "dht.wake_high must be between 20us and 40us",
		},
		{
			name:    "empty window",
			mutate:  func(c *Config) { c.DHT.Window = 0 },
			wantErr: "dht.window",
		},
		{
			name:    "history without path",
			mutate:  func(c *Config) { c.History.Enabled = true; c.History.Path = "" },
			wantErr: "history.path",
		},
		{
			name:    "influx without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: "influxdb.url",
		},
		{
			name:    "missing broker",
			mutate:  func(c *Config) { c.MQTT.Broker = "" },
			wantErr: "mqtt.broker",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateWakeBoundsAccepted(t *testing.T) {
	for _, high := range []time.Duration{20 * time.Microsecond, 40 * time.Microsecond} {
		cfg := Default()
		cfg.DHT.WakeLow = 18 * time.Millisecond
		cfg.DHT.WakeHigh = high
		if err := cfg.Validate(); err != nil {
			t.Errorf("wake_low 18ms, wake_high %v: %v", high, err)
		}
	}
}
