// Package config loads the home-monitor configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/home-monitor/internal/dht"
	"github.com/sweeney/home-monitor/internal/keypad"
)

// Config is the complete daemon configuration.
type Config struct {
	GPIO      GPIOConfig     `yaml:"gpio"`
	Dispatch  DispatchConfig `yaml:"dispatch"`
	DHT       DHTConfig      `yaml:"dht"`
	Keypad    KeypadConfig   `yaml:"keypad"`
	Alarm     AlarmConfig    `yaml:"alarm"`
	MQTT      MQTTConfig     `yaml:"mqtt"`
	HTTP      HTTPConfig     `yaml:"http"`
	History   HistoryConfig  `yaml:"history"`
	InfluxDB  InfluxDBConfig `yaml:"influxdb"`
	Heartbeat time.Duration  `yaml:"heartbeat"`
	Logging   LoggingConfig  `yaml:"logging"`
}

// GPIOConfig selects the line backend and assigns a line to every role.
type GPIOConfig struct {
	Backend    string `yaml:"backend"` // gpiocdev | periph
	Chip       string `yaml:"chip"`
	PIR        int    `yaml:"pir"`
	Buzzer     int    `yaml:"buzzer"`
	DHT        int    `yaml:"dht"`
	KeypadRows []int  `yaml:"keypad_rows"`
	KeypadCols []int  `yaml:"keypad_cols"`
}

// DispatchConfig tunes the edge polling loop.
type DispatchConfig struct {
	EdgeTimeout time.Duration `yaml:"edge_timeout"`
}

// DHTConfig holds sensor protocol timings.
type DHTConfig struct {
	Period       time.Duration `yaml:"period"`
	Retries      int           `yaml:"retries"`
	Backoff      time.Duration `yaml:"backoff"`
	WakeLow      time.Duration `yaml:"wake_low"`
	WakeHigh     time.Duration `yaml:"wake_high"`
	BitTimeout   time.Duration `yaml:"bit_timeout"`
	OneThreshold time.Duration `yaml:"one_threshold"`
	Window       int           `yaml:"window"`
}

// KeypadConfig holds matrix scanning settings.
type KeypadConfig struct {
	Strategy     string        `yaml:"strategy"` // active | event
	ActiveLow    bool          `yaml:"active_low"`
	Settle       time.Duration `yaml:"settle"`
	Debounce     time.Duration `yaml:"debounce"`
	ScanInterval time.Duration `yaml:"scan_interval"`
	Layout       []string      `yaml:"layout"`
}

// AlarmConfig controls the buzzer response to motion.
type AlarmConfig struct {
	OnMotion bool          `yaml:"on_motion"`
	Beep     time.Duration `yaml:"beep"`
}

// MQTTConfig holds broker settings.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	BufferSize  int    `yaml:"buffer_size"`
}

// HTTPConfig holds the status server address. Empty disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// HistoryConfig controls the SQLite history store.
type HistoryConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// InfluxDBConfig holds optional telemetry output settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
	Output string `yaml:"output"` // stdout | stderr | file path
}

// Default returns the configuration for the reference board wiring.
func Default() *Config {
	d := dht.DefaultConfig(18)
	k := keypad.DefaultConfig()

	layout := make([]string, len(k.Layout))
	for i, row := range k.Layout {
		layout[i] = string(row)
	}

	return &Config{
		GPIO: GPIOConfig{
			Backend:    "gpiocdev",
			Chip:       "gpiochip0",
			PIR:        14,
			Buzzer:     15,
			DHT:        d.Line,
			KeypadRows: append([]int(nil), k.Rows...),
			KeypadCols: append([]int(nil), k.Cols...),
		},
		Dispatch: DispatchConfig{EdgeTimeout: 50 * time.Millisecond},
		DHT: DHTConfig{
			Period:       d.Period,
			Retries:      d.Retries,
			Backoff:      d.Backoff,
			WakeLow:      d.WakeLow,
			WakeHigh:     d.WakeHigh,
			BitTimeout:   d.BitTimeout,
			OneThreshold: d.OneThreshold,
			Window:       d.Window,
		},
		Keypad: KeypadConfig{
			Strategy:     string(k.Strategy),
			ActiveLow:    k.ActiveLow,
			Settle:       k.Settle,
			Debounce:     k.Debounce,
			ScanInterval: k.Interval,
			Layout:       layout,
		},
		Alarm: AlarmConfig{
			OnMotion: false,
			Beep:     500 * time.Millisecond,
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "home-monitor",
			TopicPrefix: "home/monitor",
			BufferSize:  100,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		History: HistoryConfig{
			Enabled:   false,
			Path:      "./data/history.db",
			Retention: 30 * 24 * time.Hour,
		},
		InfluxDB: InfluxDBConfig{
			Enabled:       false,
			BatchSize:     50,
			FlushInterval: 10,
		},
		Heartbeat: 15 * time.Minute,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path uses defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies HOMEMON_SECTION_KEY environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HOMEMON_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("HOMEMON_GPIO_CHIP"); v != "" {
		cfg.GPIO.Chip = v
	}
	if v := os.Getenv("HOMEMON_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("HOMEMON_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("HOMEMON_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration. Every role must own distinct lines so
// the dispatcher, decoder and scanner never share one.
func (c *Config) Validate() error {
	var errs []string

	switch c.GPIO.Backend {
	case "gpiocdev", "periph":
	default:
		errs = append(errs, fmt.Sprintf("gpio.backend must be gpiocdev or periph, got %q", c.GPIO.Backend))
	}
	if c.GPIO.Backend == "gpiocdev" && c.GPIO.Chip == "" {
		errs = append(errs, "gpio.chip is required for the gpiocdev backend")
	}

	owner := make(map[int]string)
	claim := func(line int, role string) {
		if line < 0 {
			errs = append(errs, fmt.Sprintf("%s: invalid line %d", role, line))
			return
		}
		if prev, ok := owner[line]; ok {
			errs = append(errs, fmt.Sprintf("line %d assigned to both %s and %s", line, prev, role))
			return
		}
		owner[line] = role
	}
	claim(c.GPIO.PIR, "gpio.pir")
	claim(c.GPIO.Buzzer, "gpio.buzzer")
	claim(c.GPIO.DHT, "gpio.dht")
	for i, l := range c.GPIO.KeypadRows {
		claim(l, fmt.Sprintf("gpio.keypad_rows[%d]", i))
	}
	for i, l := range c.GPIO.KeypadCols {
		claim(l, fmt.Sprintf("gpio.keypad_cols[%d]", i))
	}

	if len(c.GPIO.KeypadRows) == 0 || len(c.GPIO.KeypadCols) == 0 {
		errs = append(errs, "gpio.keypad_rows and gpio.keypad_cols are required")
	} else if !keypad.ParseLayout(c.Keypad.Layout).Fits(len(c.GPIO.KeypadRows), len(c.GPIO.KeypadCols)) {
		errs = append(errs, fmt.Sprintf("keypad.layout must be %dx%d", len(c.GPIO.KeypadRows), len(c.GPIO.KeypadCols)))
	}
	if _, err := keypad.ParseStrategy(c.Keypad.Strategy); err != nil {
		errs = append(errs, "keypad.strategy must be active or event")
	}

	positive := map[string]time.Duration{
		"dispatch.edge_timeout": c.Dispatch.EdgeTimeout,
		"dht.period":            c.DHT.Period,
		"dht.backoff":           c.DHT.Backoff,
		"dht.wake_low":          c.DHT.WakeLow,
		"dht.wake_high":         c.DHT.WakeHigh,
		"dht.bit_timeout":       c.DHT.BitTimeout,
		"dht.one_threshold":     c.DHT.OneThreshold,
		"keypad.debounce":       c.Keypad.Debounce,
		"keypad.scan_interval":  c.Keypad.ScanInterval,
	}
	var bad []string
	for name, d := range positive {
		if d <= 0 {
			bad = append(bad, name)
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		errs = append(errs, "durations must be positive: "+strings.Join(bad, ", "))
	}
	if c.DHT.WakeLow > 0 && c.DHT.WakeLow < 18*time.Millisecond {
		errs = append(errs, "dht.wake_low must be at least 18ms")
	}
	if c.DHT.WakeHigh > 0 && (c.DHT.WakeHigh < 20*time.Microsecond || c.DHT.WakeHigh > 40*time.Microsecond) {
		errs = append(errs, "dht.wake_high must be between 20us and 40us")
	}
	if c.DHT.Retries < 1 {
		errs = append(errs, "dht.retries must be at least 1")
	}
	if c.DHT.Window < 1 {
		errs = append(errs, "dht.window must be at least 1")
	}
	if c.Keypad.Settle < 0 {
		errs = append(errs, "keypad.settle must not be negative")
	}

	if c.MQTT.Broker == "" {
		errs = append(errs, "mqtt.broker is required")
	}
	if c.Heartbeat < 0 {
		errs = append(errs, "heartbeat must not be negative")
	}
	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, "history.path is required when history is enabled")
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DecoderConfig converts the DHT section into decoder settings.
func (c *Config) DecoderConfig() dht.Config {
	return dht.Config{
		Line:         c.GPIO.DHT,
		Period:       c.DHT.Period,
		Retries:      c.DHT.Retries,
		Backoff:      c.DHT.Backoff,
		WakeLow:      c.DHT.WakeLow,
		WakeHigh:     c.DHT.WakeHigh,
		BitTimeout:   c.DHT.BitTimeout,
		OneThreshold: c.DHT.OneThreshold,
		Window:       c.DHT.Window,
	}
}

// ScannerConfig converts the keypad section into scanner settings.
func (c *Config) ScannerConfig() keypad.Config {
	strategy, _ := keypad.ParseStrategy(c.Keypad.Strategy)
	return keypad.Config{
		Rows:      append([]int(nil), c.GPIO.KeypadRows...),
		Cols:      append([]int(nil), c.GPIO.KeypadCols...),
		Layout:    keypad.ParseLayout(c.Keypad.Layout),
		ActiveLow: c.Keypad.ActiveLow,
		Strategy:  strategy,
		Settle:    c.Keypad.Settle,
		Debounce:  c.Keypad.Debounce,
		Interval:  c.Keypad.ScanInterval,
	}
}
