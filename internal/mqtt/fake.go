package mqtt

import "sync"

// FakeClient records published messages and lets tests deliver inbound ones.
// Safe for concurrent use.
type FakeClient struct {
	mu sync.Mutex

	// StatePayloads contains every state payload that was published.
	StatePayloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by PublishState.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool

	handlers map[string]func([]byte)
}

// NewFakeClient creates a FakeClient for testing.
func NewFakeClient() *FakeClient {
	return &FakeClient{handlers: make(map[string]func([]byte))}
}

// PublishState records the payload.
func (f *FakeClient) PublishState(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.StatePayloads = append(f.StatePayloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakeClient) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Subscribe records handler for Deliver.
func (f *FakeClient) Subscribe(topic string, handler func([]byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

// Deliver invokes the handler subscribed to topic, as the broker would.
// It reports false if nothing is subscribed.
func (f *FakeClient) Deliver(topic string, payload []byte) bool {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h(payload)
	return true
}

// Close marks the client as closed.
func (f *FakeClient) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake is "connected".
func (f *FakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// SetConnected changes the value IsConnected returns.
func (f *FakeClient) SetConnected(connected bool) {
	f.mu.Lock()
	f.Connected = connected
	f.mu.Unlock()
}

// States returns a copy of the recorded state payloads.
func (f *FakeClient) States() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.StatePayloads...)
}

// Events returns a copy of the recorded system events.
func (f *FakeClient) Events() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.SystemEvents...)
}
