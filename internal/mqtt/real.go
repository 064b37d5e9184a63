package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	publishTimeout   = 5 * time.Second
	subscribeTimeout = 5 * time.Second
)

// Options configures a RealClient.
type Options struct {
	Broker         string
	ClientID       string
	ConnectTimeout time.Duration // default 10s
	BufferCapacity int           // default DefaultBufferCapacity
}

// RealClient publishes to and subscribes on an actual MQTT broker. While the
// connection is down, publishes are held in a ring buffer and replayed, in
// order, once the client reconnects. Subscriptions are restored on reconnect.
type RealClient struct {
	client paho.Client
	logger *zap.Logger
	now    func() time.Time

	mu            sync.Mutex
	buffer        *ringBuffer
	subs          map[string]func([]byte)
	connectedOnce bool
}

// NewRealClient connects to opts.Broker. An unreachable broker is not an
// error: paho keeps retrying in the background and publishes are buffered.
func NewRealClient(opts Options, logger *zap.Logger) (*RealClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	c := newClient(logger, opts.BufferCapacity)

	will, err := FormatSystemPayload(SystemEvent{Timestamp: c.now(), Event: EventOffline, Reason: "LWT"})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	po := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(will), 1, true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)
	c.client = paho.NewClient(po)

	token := c.client.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) {
		logger.Warn("mqtt broker unreachable, buffering until connected",
			zap.String("broker", opts.Broker), zap.Duration("timeout", opts.ConnectTimeout))
		return c, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return c, nil
}

func newClient(logger *zap.Logger, capacity int) *RealClient {
	return &RealClient{
		logger: logger,
		now:    time.Now,
		buffer: newRingBuffer(capacity),
		subs:   make(map[string]func([]byte)),
	}
}

// PublishState sends a state snapshot. QoS 0, not retained.
func (c *RealClient) PublishState(payload []byte) error {
	return c.publish(TopicState, 0, false, payload)
}

// PublishSystem sends a lifecycle event. QoS 1 so shutdown is delivered.
func (c *RealClient) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return c.publish(TopicSystem, 1, event.Retained, payload)
}

func (c *RealClient) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		c.mu.Lock()
		firstDrop := c.buffer.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		c.mu.Unlock()
		if firstDrop {
			c.logger.Warn("mqtt buffer full, dropping oldest", zap.Int("capacity", c.buffer.capacity))
		}
		return nil
	}
	return send(c.client, topic, qos, retained, payload)
}

func send(pc paho.Client, topic string, qos byte, retained bool, payload []byte) error {
	token := pc.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler for topic. The subscription is made now if
// connected and again after every reconnect.
func (c *RealClient) Subscribe(topic string, handler func(payload []byte)) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		return nil
	}
	return subscribe(c.client, topic, handler)
}

func subscribe(pc paho.Client, topic string, handler func([]byte)) error {
	token := pc.Subscribe(topic, 1, func(_ paho.Client, m paho.Message) {
		handler(m.Payload())
	})
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// onConnect restores subscriptions, replays buffered messages and, on
// reconnects, announces RECONNECTED.
func (c *RealClient) onConnect(pc paho.Client) {
	c.mu.Lock()
	first := !c.connectedOnce
	c.connectedOnce = true
	pending := c.buffer.drainAll()
	subs := make(map[string]func([]byte), len(c.subs))
	for t, h := range c.subs {
		subs[t] = h
	}
	c.mu.Unlock()

	for topic, handler := range subs {
		if err := subscribe(pc, topic, handler); err != nil {
			c.logger.Error("mqtt resubscribe failed", zap.Error(err))
		}
	}

	for _, m := range pending {
		if err := send(pc, m.topic, m.qos, m.retained, m.payload); err != nil {
			c.logger.Error("mqtt replay failed", zap.Error(err))
		}
	}
	if len(pending) > 0 {
		c.logger.Info("mqtt replayed buffered messages", zap.Int("count", len(pending)))
	}

	if first {
		c.logger.Info("mqtt connected")
		return
	}
	payload, _ := FormatSystemPayload(SystemEvent{Timestamp: c.now(), Event: EventReconnected})
	if err := send(pc, TopicSystem, 1, false, payload); err != nil {
		c.logger.Error("mqtt reconnect announce failed", zap.Error(err))
	}
	c.logger.Info("mqtt reconnected")
}

func (c *RealClient) onConnectionLost(_ paho.Client, err error) {
	c.logger.Warn("mqtt connection lost", zap.Error(err))
}

// IsConnected reports whether the broker connection is currently open.
func (c *RealClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a connection.
func (c *RealClient) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer.len()
}

// Close disconnects from the broker.
func (c *RealClient) Close() error {
	c.client.Disconnect(1000)
	return nil
}
