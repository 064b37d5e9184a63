// Command telemetry-engine ingests vehicle sensor frames, derives session
// state from them and serves it over HTTP and MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/telemetry-engine/internal/config"
	"github.com/sweeney/telemetry-engine/internal/engine"
	"github.com/sweeney/telemetry-engine/internal/gpio"
	"github.com/sweeney/telemetry-engine/internal/logging"
	"github.com/sweeney/telemetry-engine/internal/mqtt"
	"github.com/sweeney/telemetry-engine/internal/serial"
	"github.com/sweeney/telemetry-engine/internal/telemetry"
	"github.com/sweeney/telemetry-engine/internal/transport"
	"github.com/sweeney/telemetry-engine/internal/web"
)

// inboxSize bounds the channels fed from MQTT callbacks, which must not block.
const inboxSize = 16

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, "telemetry-engine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("fatal", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	var irReader gpio.Reader
	if cfg.ObstaclePin >= 0 {
		r, err := gpio.NewRealReader(cfg.ObstaclePin)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer r.Close()
		irReader = r
	}

	if cfg.PrintIR {
		if irReader == nil {
			return errors.New("print-ir needs an obstacle pin")
		}
		obstacle, err := irReader.Read()
		if err != nil {
			return fmt.Errorf("read gpio: %w", err)
		}
		fmt.Printf("IR: %s\n", gpio.State(obstacle))
		return nil
	}

	eng := engine.New(time.Now(), engine.Config{
		PollMs:       cfg.PollInterval.Milliseconds(),
		PublishMs:    cfg.PublishInterval.Milliseconds(),
		TelemetryURL: cfg.TelemetryURL,
		Broker:       cfg.MQTTBroker,
		SerialPort:   cfg.SerialPort,
		ObstaclePin:  cfg.ObstaclePin,
		HTTPAddr:     cfg.HTTPAddr,
		SpeedUnits:   cfg.SpeedUnits,
	}, logger)

	docs := make(chan transport.Document)
	frames := make(chan string, inboxSize)
	fixes := make(chan telemetry.Fix, inboxSize)

	var (
		publisher  mqtt.Publisher
		mqttStatus mqtt.ConnectionStatus
	)
	if cfg.MQTTBroker != "" {
		client, err := mqtt.NewRealClient(mqtt.Options{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
		}, logger)
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer client.Close()
		if err := subscribeInputs(client, frames, fixes, logger); err != nil {
			return err
		}
		publisher, mqttStatus = client, client

		if mqttStatus.IsConnected() {
			eng.SetMQTTConnected(true)
		}
		snap := eng.Snapshot()
		startup := mqtt.SystemEvent{
			Timestamp: snap.Now,
			Event:     mqtt.EventStartup,
			Retained:  true,
		}
		if startup.RawPayload, err = engine.FormatStatePayload(snap, mqtt.EventStartup, ""); err != nil {
			logger.Warn("startup snapshot not encodable, sending bare event", zap.Error(err))
		}
		if err := publisher.PublishSystem(startup); err != nil {
			logger.Warn("failed to publish startup event", zap.Error(err))
		} else {
			logger.Info("published startup event")
		}
	}

	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, eng, logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", zap.Error(err))
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.TelemetryURL != "" {
		poller := transport.NewPoller(cfg.TelemetryURL, cfg.PollInterval, logger)
		go func() {
			if err := poller.Run(ctx, docs); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("poller stopped", zap.Error(err))
			}
		}()
	}

	if cfg.SerialPort != "" {
		port, err := serial.Open(cfg.SerialPort, serial.PortOptions{BaudRate: cfg.SerialBaud})
		if err != nil {
			return fmt.Errorf("open serial: %w", err)
		}
		defer port.Close()
		reader := serial.NewReader(port, logger)
		go func() {
			if err := reader.Run(ctx, frames); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("serial reader stopped", zap.Error(err))
			}
		}()
	}

	logger.Info("started",
		zap.String("telemetry_url", cfg.TelemetryURL),
		zap.Duration("poll", cfg.PollInterval),
		zap.String("broker", cfg.MQTTBroker),
		zap.Duration("publish", cfg.PublishInterval),
		zap.String("serial", cfg.SerialPort),
		zap.Int("pin_ir", cfg.ObstaclePin),
	)

	synthTicker := time.NewTicker(time.Second / telemetry.SynthRateHz)
	defer synthTicker.Stop()
	publishTicker := time.NewTicker(cfg.PublishInterval)
	defer publishTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(eng, irReader, publisher, mqttStatus, time.Now, inputs{
		docs:    docs,
		frames:  frames,
		fixes:   fixes,
		synth:   synthTicker.C,
		publish: publishTicker.C,
		sig:     sigCh,
	}, logger)
}

// subscribeInputs routes GPS fixes and raw frames from the broker into the
// main loop. Handlers run on the MQTT client's goroutine, so a full inbox
// drops the message instead of stalling it.
func subscribeInputs(sub mqtt.Subscriber, frames chan<- string, fixes chan<- telemetry.Fix, logger *zap.Logger) error {
	err := sub.Subscribe(mqtt.TopicGPS, func(payload []byte) {
		fix, err := telemetry.DecodeFix(payload)
		if err != nil {
			logger.Warn("dropping gps fix", zap.Error(err))
			return
		}
		select {
		case fixes <- fix:
		default:
			logger.Warn("gps inbox full, dropping fix")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", mqtt.TopicGPS, err)
	}

	err = sub.Subscribe(mqtt.TopicRaw, func(payload []byte) {
		select {
		case frames <- string(payload):
		default:
			logger.Warn("frame inbox full, dropping frame")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", mqtt.TopicRaw, err)
	}
	return nil
}

// inputs are the event sources runLoop selects over. A nil channel is never
// ready, so absent inputs need no special casing.
type inputs struct {
	docs    <-chan transport.Document
	frames  <-chan string
	fixes   <-chan telemetry.Fix
	synth   <-chan time.Time
	publish <-chan time.Time
	sig     <-chan os.Signal
}

func runLoop(eng *engine.Engine, irReader gpio.Reader, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, now func() time.Time, in inputs, logger *zap.Logger) error {
	for {
		select {
		case s := <-in.sig:
			logger.Info("shutting down", zap.Stringer("signal", s))
			if publisher == nil {
				return nil
			}
			reason := signalName(s)
			if mqttStatus != nil {
				eng.SetMQTTConnected(mqttStatus.IsConnected())
			}
			snap := eng.Snapshot()
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     mqtt.EventShutdown,
				Reason:    reason,
				Retained:  true,
			}
			payload, err := engine.FormatStatePayload(snap, mqtt.EventShutdown, reason)
			if err != nil {
				logger.Warn("shutdown snapshot not encodable, sending bare event", zap.Error(err))
			}
			event.RawPayload = payload
			if err := publisher.PublishSystem(event); err != nil {
				logger.Warn("failed to publish shutdown event", zap.Error(err))
			} else {
				logger.Info("published shutdown event")
			}
			return nil

		case doc := <-in.docs:
			ingest(eng, irReader, doc.Sample, now(), logger)
			if fix, ok := doc.Fix(); ok {
				if err := eng.AddFix(fix); err != nil {
					logger.Debug("ignoring document position", zap.Error(err))
				}
			}

		case text := <-in.frames:
			s, err := telemetry.ParseFrame(text)
			if err != nil {
				logger.Warn("dropping frame", zap.Error(err))
				continue
			}
			ingest(eng, irReader, s, now(), logger)

		case fix := <-in.fixes:
			if err := eng.AddFix(fix); err != nil {
				logger.Warn("dropping gps fix", zap.Error(err))
			}

		case <-in.synth:
			eng.Tick()

		case <-in.publish:
			if mqttStatus != nil {
				eng.SetMQTTConnected(mqttStatus.IsConnected())
			}
			if publisher == nil {
				continue
			}
			payload, err := engine.FormatStatePayload(eng.Snapshot(), "", "")
			if err != nil {
				logger.Error("encode state", zap.Error(err))
				continue
			}
			if err := publisher.PublishState(payload); err != nil {
				logger.Warn("state publish error", zap.Error(err))
			}
		}
	}
}

// ingest folds one sample into the engine, taking the IR reading from the
// local line when the sample has none.
func ingest(eng *engine.Engine, irReader gpio.Reader, s telemetry.Sample, now time.Time, logger *zap.Logger) {
	s, err := gpio.Overlay(s, irReader)
	if err != nil {
		logger.Warn("gpio read error", zap.Error(err))
	}
	entry := eng.Ingest(s, now)
	if entry.Severity != telemetry.SeverityOK {
		logger.Info("reading", zap.Uint64("id", entry.ID), zap.String("severity", string(entry.Severity)), zap.String("text", entry.Text))
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
