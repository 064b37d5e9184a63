// Package config loads daemon settings from an optional .env file, the
// environment and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/sweeney/telemetry-engine/internal/units"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config holds every runtime setting. Empty TelemetryURL, MQTTBroker and
// SerialPort disable their inputs; a negative ObstaclePin disables the IR line.
type Config struct {
	HTTPAddr        string
	TelemetryURL    string
	PollInterval    time.Duration
	MQTTBroker      string
	MQTTClientID    string
	PublishInterval time.Duration
	SerialPort      string
	SerialBaud      int
	ObstaclePin     int
	LogLevel        string
	LogFormat       string
	SpeedUnits      string
	PrintIR         bool
}

// Defaults returns the built-in settings.
func Defaults() Config {
	return Config{
		HTTPAddr:        ":8080",
		PollInterval:    500 * time.Millisecond,
		MQTTClientID:    "telemetry-engine",
		PublishInterval: time.Second,
		SerialBaud:      9600,
		ObstaclePin:     -1,
		LogLevel:        "info",
		LogFormat:       "json",
		SpeedUnits:      units.KPH,
	}
}

// Load reads .env (if present) into the environment, builds a Config from the
// environment on top of Defaults, then applies flags parsed from args.
func Load(args []string) (Config, error) {
	_ = godotenv.Load()

	cfg, err := fromEnv(Defaults())
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("telemetry-engine", flag.ContinueOnError)
	fs.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "HTTP dashboard address (empty to disable)")
	fs.StringVar(&cfg.TelemetryURL, "telemetry-url", cfg.TelemetryURL, "Base URL of the vehicle telemetry endpoint (empty to disable polling)")
	fs.DurationVar(&cfg.PollInterval, "poll", cfg.PollInterval, "Telemetry polling interval")
	fs.StringVar(&cfg.MQTTBroker, "broker", cfg.MQTTBroker, "MQTT broker address (empty to disable)")
	fs.StringVar(&cfg.MQTTClientID, "client-id", cfg.MQTTClientID, "MQTT client ID")
	fs.DurationVar(&cfg.PublishInterval, "publish", cfg.PublishInterval, "MQTT state publish interval")
	fs.StringVar(&cfg.SerialPort, "serial", cfg.SerialPort, "Serial device carrying raw frames (empty to disable)")
	fs.IntVar(&cfg.SerialBaud, "baud", cfg.SerialBaud, "Serial baud rate")
	fs.IntVar(&cfg.ObstaclePin, "pin-ir", cfg.ObstaclePin, "BCM pin of the IR obstacle sensor (-1 to disable)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: json or console")
	fs.StringVar(&cfg.SpeedUnits, "units", cfg.SpeedUnits, "Speed display units: "+units.ValidUnitsString())
	fs.BoolVar(&cfg.PrintIR, "print-ir", false, "Print the IR obstacle line state and exit")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func fromEnv(cfg Config) (Config, error) {
	var err error
	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.TelemetryURL = getEnv("TELEMETRY_URL", cfg.TelemetryURL)
	cfg.MQTTBroker = getEnv("MQTT_BROKER", cfg.MQTTBroker)
	cfg.MQTTClientID = getEnv("MQTT_CLIENT_ID", cfg.MQTTClientID)
	cfg.SerialPort = getEnv("SERIAL_PORT", cfg.SerialPort)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	cfg.SpeedUnits = getEnv("SPEED_UNITS", cfg.SpeedUnits)

	if cfg.PollInterval, err = getEnvDuration("POLL_INTERVAL", cfg.PollInterval); err != nil {
		return cfg, err
	}
	if cfg.PublishInterval, err = getEnvDuration("PUBLISH_INTERVAL", cfg.PublishInterval); err != nil {
		return cfg, err
	}
	if cfg.SerialBaud, err = getEnvInt("SERIAL_BAUD", cfg.SerialBaud); err != nil {
		return cfg, err
	}
	if cfg.ObstaclePin, err = getEnvInt("OBSTACLE_PIN", cfg.ObstaclePin); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive, got %v", ErrInvalid, c.PollInterval)
	}
	if c.PublishInterval <= 0 {
		return fmt.Errorf("%w: publish interval must be positive, got %v", ErrInvalid, c.PublishInterval)
	}
	if c.SerialBaud <= 0 {
		return fmt.Errorf("%w: baud rate must be positive, got %d", ErrInvalid, c.SerialBaud)
	}
	if !units.IsValid(c.SpeedUnits) {
		return fmt.Errorf("%w: speed units %q, want one of %s", ErrInvalid, c.SpeedUnits, units.ValidUnitsString())
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("%w: log format %q, want json or console", ErrInvalid, c.LogFormat)
	}
	if c.TelemetryURL != "" {
		u, err := url.Parse(c.TelemetryURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: telemetry url %q", ErrInvalid, c.TelemetryURL)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
	}
	return d, nil
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
	}
	return n, nil
}
