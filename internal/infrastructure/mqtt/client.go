package mqtt

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/ziggy/internal/infrastructure/config"
)

// Logger defines the logging interface for the connection manager.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Metrics receives connection lifecycle events. telemetry.Ops implements it.
type Metrics interface {
	ConnectionAttempt()
	ConnectionFailure(reason string)
	ConnectionState(state string, connected bool)
	SubscriptionAttempt(topic string)
	SubscriptionFailure(topic string)
	SubscriptionsActive(n int)
	ClientInfo(clientID, host string, port int, hasCredentials bool)
}

type noopMetrics struct{}

func (noopMetrics) ConnectionAttempt()                   {}
func (noopMetrics) ConnectionFailure(string)             {}
func (noopMetrics) ConnectionState(string, bool)         {}
func (noopMetrics) SubscriptionAttempt(string)           {}
func (noopMetrics) SubscriptionFailure(string)           {}
func (noopMetrics) SubscriptionsActive(int)              {}
func (noopMetrics) ClientInfo(string, string, int, bool) {}

// MessageHandler is the callback signature for received messages.
//
// It runs on paho's delivery goroutine and must not block; the ingestion
// pipeline only enqueues here.
//
// Parameters:
//   - topic: The topic the message was received on (wildcards expanded)
//   - payload: The raw message payload
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
type MessageHandler func(topic string, payload []byte) error

// Options configures New.
type Options struct {
	// Topics are the filters subscribed on every session.
	Topics []string

	// Handler receives every inbound message through paho's default
	// publish handler, so overlapping filters deliver a message once.
	Handler MessageHandler

	Metrics Metrics
	Logger  Logger
}

// Client owns the broker session lifecycle: connect, subscribe, and
// reconnect with bounded exponential backoff until shut down.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - State transitions happen only on the Run goroutine.
//   - State listeners are called synchronously on the Run goroutine.
type Client struct {
	cfg      config.MQTTConfig
	clientID string
	topics   []string
	handler  MessageHandler
	metrics  Metrics

	// Test seams.
	newClient      func(*pahomqtt.ClientOptions) pahomqtt.Client
	after          func(time.Duration) <-chan time.Time
	connectTimeout time.Duration

	mu            sync.RWMutex
	state         ConnectionState
	session       pahomqtt.Client
	subscribed    []string
	attempts      uint64
	failures      uint64
	lastErr       error
	authRejected  bool
	lastConnected time.Time
	running       bool
	cancel        context.CancelFunc
	done          chan struct{}

	listenerMu sync.RWMutex
	listeners  []func(StateChange)

	// logger for error/panic logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// New validates the topic set and creates a manager in the Disconnected
// state. Nothing touches the network until Run.
func New(cfg config.MQTTConfig, opts Options) (*Client, error) {
	if cfg.QoS < 0 || cfg.QoS > maxQoS {
		return nil, ErrInvalidQoS
	}
	for _, topic := range opts.Topics {
		if err := ValidateFilter(topic); err != nil {
			return nil, err
		}
	}

	c := &Client{
		cfg:            cfg,
		clientID:       resolveClientID(cfg),
		topics:         append([]string(nil), opts.Topics...),
		handler:        opts.Handler,
		metrics:        opts.Metrics,
		newClient:      pahomqtt.NewClient,
		after:          time.After,
		connectTimeout: defaultConnectTimeout,
		state:          StateDisconnected,
		logger:         opts.Logger,
	}
	if c.handler == nil {
		c.handler = func(string, []byte) error { return nil }
	}
	if c.metrics == nil {
		c.metrics = noopMetrics{}
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}

	c.metrics.ClientInfo(c.clientID, cfg.Broker.Host, cfg.Broker.Port, c.hasCredentials())
	c.metrics.ConnectionState(StateDisconnected.String(), false)

	return c, nil
}

func (c *Client) hasCredentials() bool {
	return c.cfg.Auth.Username != "" || c.cfg.Auth.Password != ""
}

// Run connects and keeps the session alive until ctx is cancelled or
// Close is called. Transport errors never end Run; they are counted,
// logged and retried after a backoff delay.
//
// Returns:
//   - nil after shutdown
//   - ErrDisabled if MQTT is disabled, ErrAlreadyRunning on a second call
func (c *Client) Run(parent context.Context) error {
	if !c.cfg.Enabled {
		return ErrDisabled
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.mu.Unlock()
		close(done)
	}()

	bo := c.newBackOff()
	for {
		established, reason, err := c.runSession(ctx)
		if ctx.Err() != nil {
			c.transition(StateDisconnected, "shutdown", nil)
			return nil
		}
		if established {
			bo.Reset()
		}

		delay := min(bo.NextBackOff(), c.cfg.Reconnect.MaxDelay)
		c.getLogger().Warn("mqtt session ended, retrying",
			"reason", reason,
			"error", err,
			"retry_in", delay,
		)
		c.transition(StateReconnecting, reason, err)

		select {
		case <-ctx.Done():
			c.transition(StateDisconnected, "shutdown", nil)
			return nil
		case <-c.after(delay):
		}
	}
}

// newBackOff builds the reconnect schedule from config.
func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.Reconnect.InitialDelay
	bo.MaxInterval = c.cfg.Reconnect.MaxDelay
	bo.Multiplier = c.cfg.Reconnect.Multiplier
	bo.RandomizationFactor = 0.2
	bo.Reset()
	return bo
}

// runSession performs one connect → subscribe → wait-for-loss cycle.
// established reports whether the session reached Connected.
func (c *Client) runSession(ctx context.Context) (established bool, reason string, err error) {
	c.transition(StateConnecting, "", nil)
	c.recordAttempt()

	lost := make(chan error, 1)
	opts := buildClientOptions(c.cfg, c.clientID)
	opts.SetDefaultPublishHandler(c.wrapHandler(c.handler))
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		select {
		case lost <- err:
		default:
		}
	})

	cli := c.newClient(opts)

	if err := waitToken(ctx, cli.Connect(), c.connectTimeout); err != nil {
		if ctx.Err() != nil {
			return false, "", ctx.Err()
		}
		cli.Disconnect(0)
		reason := classifyConnectError(err)
		err = fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		c.recordFailure(reason, err)
		return false, reason, err
	}

	c.mu.Lock()
	c.session = cli
	c.mu.Unlock()
	defer c.clearSession()

	if err := c.subscribeAll(ctx, cli); err != nil {
		cli.Disconnect(defaultDisconnectQuiesce)
		if ctx.Err() != nil {
			return false, "", ctx.Err()
		}
		c.recordFailure(ReasonSubscribeFailed, err)
		return false, ReasonSubscribeFailed, err
	}

	c.mu.Lock()
	c.authRejected = false
	c.lastErr = nil
	c.lastConnected = time.Now()
	c.mu.Unlock()
	c.transition(StateConnected, "", nil)
	c.getLogger().Info("mqtt connected",
		"broker", fmt.Sprintf("%s:%d", c.cfg.Broker.Host, c.cfg.Broker.Port),
		"client_id", c.clientID,
		"topics", c.topics,
	)

	select {
	case <-ctx.Done():
		cli.Disconnect(defaultDisconnectQuiesce)
		return true, "", ctx.Err()
	case lostErr := <-lost:
		err := fmt.Errorf("%w: %w", ErrConnectionLost, lostErr)
		c.recordFailure(ReasonConnectionLost, err)
		return true, ReasonConnectionLost, err
	}
}

func (c *Client) clearSession() {
	c.mu.Lock()
	c.session = nil
	c.subscribed = nil
	c.mu.Unlock()
	c.metrics.SubscriptionsActive(0)
}

// waitToken waits for a paho token, a timeout or cancellation.
func waitToken(ctx context.Context, tok pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
		return tok.Error()
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// classifyConnectError maps a connect error to a failure reason.
func classifyConnectError(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return ReasonTimeout
	case errors.Is(err, packets.ErrorRefusedNotAuthorised):
		return ReasonNotAuthorized
	case errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword):
		return ReasonBadCredentials
	case errors.Is(err, packets.ErrorRefusedBadProtocolVersion),
		errors.Is(err, packets.ErrorRefusedIDRejected),
		errors.Is(err, packets.ErrorRefusedServerUnavailable):
		return ReasonRefused
	default:
		return ReasonNetwork
	}
}

func (c *Client) recordAttempt() {
	c.mu.Lock()
	c.attempts++
	c.mu.Unlock()
	c.metrics.ConnectionAttempt()
}

func (c *Client) recordFailure(reason string, err error) {
	c.mu.Lock()
	c.failures++
	c.lastErr = err
	if isAuthReason(reason) {
		c.authRejected = true
	}
	c.mu.Unlock()
	c.metrics.ConnectionFailure(reason)

	if isAuthReason(reason) {
		c.getLogger().Error("mqtt broker rejected credentials", "reason", reason)
	}
}

// transition moves to state and notifies metrics and listeners.
func (c *Client) transition(to ConnectionState, reason string, err error) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()

	c.metrics.ConnectionState(to.String(), to == StateConnected)

	if from == to {
		return
	}

	change := StateChange{From: from, To: to, Reason: reason, Timestamp: time.Now().UTC()}
	if err != nil {
		change.Error = err.Error()
	}
	c.getLogger().Debug("mqtt state changed", "from", from.String(), "to", to.String(), "reason", reason)

	c.listenerMu.RLock()
	listeners := slices.Clone(c.listeners)
	c.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(change)
	}
}

// AddStateListener registers fn for every state transition.
// fn runs on the Run goroutine and must not block.
func (c *Client) AddStateListener(fn func(StateChange)) {
	c.listenerMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.listenerMu.Unlock()
}

// Status is a read-only view of the connection with credentials masked.
type Status struct {
	Enabled            bool            `json:"enabled"`
	State              ConnectionState `json:"state"`
	Connected          bool            `json:"connected"`
	BrokerHost         string          `json:"broker_host"`
	BrokerPort         int             `json:"broker_port"`
	ClientID           string          `json:"client_id"`
	TLS                bool            `json:"tls"`
	HasCredentials     bool            `json:"has_credentials"`
	SubscribedTopics   []string        `json:"subscribed_topics"`
	ConnectionAttempts uint64          `json:"connection_attempts"`
	ConnectionFailures uint64          `json:"connection_failures"`
	LastError          string          `json:"last_error,omitempty"`
	AuthRejected       bool            `json:"auth_rejected"`
	LastConnected      *time.Time      `json:"last_connected,omitempty"`
}

// Status returns the current connection state plus masked configuration.
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Status{
		Enabled:            c.cfg.Enabled,
		State:              c.state,
		Connected:          c.state == StateConnected,
		BrokerHost:         c.cfg.Broker.Host,
		BrokerPort:         c.cfg.Broker.Port,
		ClientID:           c.clientID,
		TLS:                c.cfg.Broker.TLS,
		HasCredentials:     c.hasCredentials(),
		SubscribedTopics:   append([]string{}, c.subscribed...),
		ConnectionAttempts: c.attempts,
		ConnectionFailures: c.failures,
		AuthRejected:       c.authRejected,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	if !c.lastConnected.IsZero() {
		t := c.lastConnected
		st.LastConnected = &t
	}
	return st
}

// State returns the current lifecycle state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether the manager holds a subscribed session.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// HealthCheck verifies the MQTT connection is alive and functioning.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, ErrNotConnected otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close stops Run, disconnecting any live session, and waits for it to
// return. Safe to call when Run was never started.
func (c *Client) Close() error {
	c.mu.RLock()
	cancel, done, running := c.cancel, c.done, c.running
	c.mu.RUnlock()

	if !running {
		return nil
	}
	cancel()
	<-done
	return nil
}

// SetLogger sets a logger for lifecycle, error and panic logging.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler wraps a MessageHandler with panic recovery and logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.getLogger().Error("MQTT handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.getLogger().Warn("MQTT handler returned error",
				"topic", msg.Topic(),
				"error", err,
			)
		}
	}
}
