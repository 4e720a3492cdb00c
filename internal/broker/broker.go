// Package broker wraps the MQTT pub/sub client used to move PCM chunks
// between the sensor node and this process: a thin layer over
// paho.mqtt.golang that owns connection lifecycle (connect, reconnect with
// backoff, shutdown) so the rest of the engine only sees Subscribe/Publish.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/anclab/ancd/internal/metrics"
)

// TransportError wraps a broker connect/publish/subscribe failure, per
// spec §7's error taxonomy.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("broker: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Config holds broker connection settings.
type Config struct {
	// Host and Port address the MQTT broker over TCP.
	Host string
	Port int

	// ConnectTimeout bounds the initial connect attempt. Default 10s.
	ConnectTimeout time.Duration

	// ReconnectMinDelay / ReconnectMaxDelay bound the exponential backoff
	// used between reconnect attempts after a disconnect.
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration

	// MaxReconnectAttempts is how many consecutive reconnect attempts are
	// started before the client gives up: when the attempt counter reaches
	// this value it disconnects and closes the channel returned by
	// [Client.Disconnected] (spec §7: "after exhausting retries the process
	// exits non-zero"). Zero means retry forever.
	MaxReconnectAttempts int
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ReconnectMinDelay == 0 {
		c.ReconnectMinDelay = 500 * time.Millisecond
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	return c
}

// MessageHandler is invoked for every message received on a subscribed
// topic. Handlers run on the MQTT client's own callback goroutine and must
// hand off to a single-consumer queue rather than touching shared DSP state
// directly (spec §5).
type MessageHandler func(topic string, payload []byte)

// Client is a reconnecting MQTT client bound to a fresh client ID for this
// process (spec §6: "a fresh client identifier per process").
type Client struct {
	cfg      Config
	opts     *mqtt.ClientOptions
	client   mqtt.Client
	handlers map[string]MessageHandler

	reconnects int64 // atomic: consecutive reconnect attempts since the last clean connect

	exhaustedOnce sync.Once
	exhausted     chan struct{}
}

// New builds a [Client] for the given broker, generating a fresh UUID-based
// client identifier. Call Connect to actually dial the broker.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()

	clientID := "anc-" + uuid.NewString()

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetMaxReconnectInterval(cfg.ReconnectMaxDelay).
		SetConnectRetry(true).
		SetConnectRetryInterval(cfg.ReconnectMinDelay).
		SetCleanSession(true)

	c := &Client{cfg: cfg, opts: opts, handlers: make(map[string]MessageHandler), exhausted: make(chan struct{})}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		atomic.StoreInt64(&c.reconnects, 0)
		slog.Info("broker connected", "client_id", clientID)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("broker connection lost, reconnecting", "err", err)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		metrics.ReconnectAttempts.Inc()
		n := atomic.AddInt64(&c.reconnects, 1)
		if c.cfg.MaxReconnectAttempts > 0 && n >= int64(c.cfg.MaxReconnectAttempts) {
			slog.Error("broker: max reconnect attempts exhausted, giving up", "attempts", n)
			c.exhaustedOnce.Do(func() { close(c.exhausted) })
			c.client.Disconnect(0)
		}
	})

	c.client = mqtt.NewClient(opts)
	return c
}

// Disconnected returns a channel that is closed when the reconnecting
// handler fires for the MaxReconnectAttempts-th consecutive time without an
// intervening clean connect (spec §7: "after exhausting retries the process
// exits non-zero").
// A zero MaxReconnectAttempts means retry forever, and the channel is never
// closed.
func (c *Client) Disconnected() <-chan struct{} {
	return c.exhausted
}

// Connect dials the broker, blocking up to ConnectTimeout. It returns a
// *[TransportError] on failure.
func (c *Client) Connect(ctx context.Context) error {
	token := c.client.Connect()
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return &TransportError{Op: "connect", Err: context.DeadlineExceeded}
	}
	if err := token.Error(); err != nil {
		return &TransportError{Op: "connect", Err: err}
	}
	return nil
}

// Subscribe registers handler for topic at QoS 0 (fire-and-forget, adequate
// for a real-time audio stream per spec §6).
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	c.handlers[topic] = handler

	token := c.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return &TransportError{Op: "subscribe " + topic, Err: err}
	}
	return nil
}

// Publish fire-and-forgets payload to topic at QoS 0.
func (c *Client) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, 0, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return &TransportError{Op: "publish " + topic, Err: err}
	}
	return nil
}

// IsConnected reports whether the underlying MQTT client currently holds an
// open connection.
func (c *Client) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Shutdown unsubscribes from every registered topic and disconnects,
// waiting up to quiesce for in-flight work to drain (spec §5: "shutdown
// signal: unsubscribe, flush, and exit").
func (c *Client) Shutdown(quiesce time.Duration) {
	topics := make([]string, 0, len(c.handlers))
	for t := range c.handlers {
		topics = append(topics, t)
	}
	if len(topics) > 0 {
		if token := c.client.Unsubscribe(topics...); token.WaitTimeout(quiesce) {
			_ = token.Error()
		}
	}
	c.client.Disconnect(uint(quiesce.Milliseconds()))
}
