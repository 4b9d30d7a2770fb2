package mqtt

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/ziggy/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "ziggy-test",
		},
		QoS:       0,
		KeepAlive: 30,
		QueueSize: 16,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
		},
	}
}

// =============================================================================
// Fake paho client
// =============================================================================

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	done := make(chan struct{})
	close(done)
	return &fakeToken{err: err, done: done}
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// fakeBroker hands out fakeClients whose Connect results follow a script.
type fakeBroker struct {
	mu            sync.Mutex
	connectErrs   []error // consumed per Connect; exhausted means success
	alwaysFail    error
	subscribeErrs []error // consumed per Subscribe; exhausted means success
	clients       []*fakeClient
}

func (b *fakeBroker) newClient(opts *pahomqtt.ClientOptions) pahomqtt.Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := &fakeClient{broker: b, opts: opts}
	b.clients = append(b.clients, c)
	return c
}

func (b *fakeBroker) nextConnectErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.alwaysFail != nil {
		return b.alwaysFail
	}
	if len(b.connectErrs) == 0 {
		return nil
	}
	err := b.connectErrs[0]
	b.connectErrs = b.connectErrs[1:]
	return err
}

func (b *fakeBroker) nextSubscribeErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.subscribeErrs) == 0 {
		return nil
	}
	err := b.subscribeErrs[0]
	b.subscribeErrs = b.subscribeErrs[1:]
	return err
}

func (b *fakeBroker) latest() *fakeClient {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.clients) == 0 {
		return nil
	}
	return b.clients[len(b.clients)-1]
}

type fakeClient struct {
	broker    *fakeBroker
	opts      *pahomqtt.ClientOptions
	connected atomic.Bool

	mu   sync.Mutex
	subs []string
}

func (c *fakeClient) IsConnected() bool      { return c.connected.Load() }
func (c *fakeClient) IsConnectionOpen() bool { return c.connected.Load() }

func (c *fakeClient) Connect() pahomqtt.Token {
	err := c.broker.nextConnectErr()
	if err == nil {
		c.connected.Store(true)
	}
	return newFakeToken(err)
}

func (c *fakeClient) Disconnect(uint) { c.connected.Store(false) }

func (c *fakeClient) Publish(string, byte, bool, interface{}) pahomqtt.Token {
	return newFakeToken(nil)
}

func (c *fakeClient) Subscribe(topic string, _ byte, _ pahomqtt.MessageHandler) pahomqtt.Token {
	err := c.broker.nextSubscribeErr()
	if err == nil {
		c.mu.Lock()
		c.subs = append(c.subs, topic)
		c.mu.Unlock()
	}
	return newFakeToken(err)
}

func (c *fakeClient) SubscribeMultiple(map[string]byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return newFakeToken(nil)
}

func (c *fakeClient) Unsubscribe(...string) pahomqtt.Token     { return newFakeToken(nil) }
func (c *fakeClient) AddRoute(string, pahomqtt.MessageHandler) {}

func (c *fakeClient) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.NewOptionsReader(c.opts)
}

// drop simulates a transport failure on an established session.
func (c *fakeClient) drop(err error) {
	c.connected.Store(false)
	c.opts.OnConnectionLost(c, err)
}

// deliver simulates an inbound publish.
func (c *fakeClient) deliver(topic string, payload []byte) {
	c.opts.DefaultPublishHandler(c, fakeMessage{topic: topic, payload: payload})
}

// =============================================================================
// Recording metrics
// =============================================================================

type recordingMetrics struct {
	mu       sync.Mutex
	attempts int
	failures map[string]int
	subFails map[string]int
	active   int
	client   string
	hasCreds bool
	states   []string
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{failures: map[string]int{}, subFails: map[string]int{}}
}

func (m *recordingMetrics) ConnectionAttempt() {
	m.mu.Lock()
	m.attempts++
	m.mu.Unlock()
}

func (m *recordingMetrics) ConnectionFailure(reason string) {
	m.mu.Lock()
	m.failures[reason]++
	m.mu.Unlock()
}

func (m *recordingMetrics) ConnectionState(state string, _ bool) {
	m.mu.Lock()
	m.states = append(m.states, state)
	m.mu.Unlock()
}

func (m *recordingMetrics) SubscriptionAttempt(string) {}

func (m *recordingMetrics) SubscriptionFailure(topic string) {
	m.mu.Lock()
	m.subFails[topic]++
	m.mu.Unlock()
}

func (m *recordingMetrics) SubscriptionsActive(n int) {
	m.mu.Lock()
	m.active = n
	m.mu.Unlock()
}

func (m *recordingMetrics) ClientInfo(clientID, _ string, _ int, hasCredentials bool) {
	m.mu.Lock()
	m.client = clientID
	m.hasCreds = hasCredentials
	m.mu.Unlock()
}

// =============================================================================
// Helpers
// =============================================================================

func immediate(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func newTestClient(t *testing.T, broker *fakeBroker, opts Options) *Client {
	t.Helper()
	if opts.Topics == nil {
		opts.Topics = []string{"zigbee2mqtt/bridge/health", "zigbee2mqtt/+"}
	}
	c, err := New(testConfig(), opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.newClient = broker.newClient
	c.after = immediate
	return c
}

func startRun(t *testing.T, c *Client) {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(context.Background()) }()
	t.Cleanup(func() {
		c.Close()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Run() error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Run() did not return after Close()")
		}
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestNewStartsDisconnected(t *testing.T) {
	c, err := New(testConfig(), Options{Topics: []string{"zigbee2mqtt/#"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := c.State(); got != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", got)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true, want false")
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() before Run error = %v", err)
	}
}

func TestNewRejectsInvalidInput(t *testing.T) {
	if _, err := New(testConfig(), Options{Topics: []string{"a/#/b"}}); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("New() bad filter error = %v, want ErrInvalidTopic", err)
	}

	cfg := testConfig()
	cfg.QoS = 3
	if _, err := New(cfg, Options{}); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("New() bad qos error = %v, want ErrInvalidQoS", err)
	}
}

func TestRunDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	c, err := New(cfg, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Run(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Errorf("Run() error = %v, want ErrDisabled", err)
	}
}

func TestRunConnectsAndSubscribes(t *testing.T) {
	broker := &fakeBroker{}
	metrics := newRecordingMetrics()
	c := newTestClient(t, broker, Options{Metrics: metrics})
	startRun(t, c)

	waitFor(t, "connected", c.IsConnected)

	st := c.Status()
	if len(st.SubscribedTopics) != 2 {
		t.Errorf("SubscribedTopics = %v, want 2 topics", st.SubscribedTopics)
	}
	if st.ConnectionAttempts != 1 || st.ConnectionFailures != 0 {
		t.Errorf("attempts/failures = %d/%d, want 1/0", st.ConnectionAttempts, st.ConnectionFailures)
	}
	if st.LastConnected == nil {
		t.Error("LastConnected = nil, want set")
	}
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	metrics.mu.Lock()
	active := metrics.active
	metrics.mu.Unlock()
	if active != 2 {
		t.Errorf("SubscriptionsActive = %d, want 2", active)
	}
}

// TestFailuresThenSuccess: a successful connect after N failed attempts
// leaves the failure counter at N.
func TestFailuresThenSuccess(t *testing.T) {
	const n = 4
	refused := make([]error, n)
	for i := range refused {
		refused[i] = packets.ErrorRefusedServerUnavailable
	}

	broker := &fakeBroker{connectErrs: refused}
	metrics := newRecordingMetrics()
	c := newTestClient(t, broker, Options{Metrics: metrics})
	startRun(t, c)

	waitFor(t, "connected", c.IsConnected)

	st := c.Status()
	if st.ConnectionFailures != n {
		t.Errorf("ConnectionFailures = %d, want %d", st.ConnectionFailures, n)
	}
	if st.ConnectionAttempts != n+1 {
		t.Errorf("ConnectionAttempts = %d, want %d", st.ConnectionAttempts, n+1)
	}
	if st.LastError != "" {
		t.Errorf("LastError = %q, want cleared after connect", st.LastError)
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.failures[ReasonRefused] != n {
		t.Errorf("failures[refused] = %d, want %d", metrics.failures[ReasonRefused], n)
	}
	if metrics.attempts != n+1 {
		t.Errorf("metrics attempts = %d, want %d", metrics.attempts, n+1)
	}
}

func TestStateSequence(t *testing.T) {
	broker := &fakeBroker{connectErrs: []error{errors.New("dial tcp: connection refused")}}
	c := newTestClient(t, broker, Options{})

	var mu sync.Mutex
	var changes []StateChange
	c.AddStateListener(func(sc StateChange) {
		mu.Lock()
		changes = append(changes, sc)
		mu.Unlock()
	})

	startRun(t, c)
	waitFor(t, "connected", c.IsConnected)

	mu.Lock()
	defer mu.Unlock()

	want := []ConnectionState{StateConnecting, StateReconnecting, StateConnecting, StateConnected}
	if len(changes) != len(want) {
		t.Fatalf("got %d transitions %+v, want %d", len(changes), changes, len(want))
	}
	for i, sc := range changes {
		if sc.To != want[i] {
			t.Errorf("transition[%d].To = %v, want %v", i, sc.To, want[i])
		}
	}
	if changes[1].Reason != ReasonNetwork {
		t.Errorf("reconnect reason = %q, want %q", changes[1].Reason, ReasonNetwork)
	}
}

func TestStateAlwaysEnumerated(t *testing.T) {
	valid := map[ConnectionState]bool{}
	for _, s := range AllStates() {
		valid[s] = true
	}

	broker := &fakeBroker{connectErrs: []error{errors.New("boom"), errors.New("boom")}}
	c := newTestClient(t, broker, Options{})
	c.AddStateListener(func(sc StateChange) {
		if !valid[sc.From] || !valid[sc.To] {
			t.Errorf("transition outside enumerated set: %+v", sc)
		}
	})
	startRun(t, c)
	waitFor(t, "connected", c.IsConnected)
}

func TestConnectionLostReconnects(t *testing.T) {
	broker := &fakeBroker{}
	metrics := newRecordingMetrics()
	c := newTestClient(t, broker, Options{Metrics: metrics})
	startRun(t, c)

	waitFor(t, "first connect", c.IsConnected)
	first := broker.latest()
	first.drop(errors.New("EOF"))

	waitFor(t, "second session", func() bool {
		return broker.latest() != first && c.IsConnected()
	})

	st := c.Status()
	if st.ConnectionFailures != 1 {
		t.Errorf("ConnectionFailures = %d, want 1", st.ConnectionFailures)
	}
	if st.ConnectionAttempts != 2 {
		t.Errorf("ConnectionAttempts = %d, want 2", st.ConnectionAttempts)
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.failures[ReasonConnectionLost] != 1 {
		t.Errorf("failures[connection_lost] = %d, want 1", metrics.failures[ReasonConnectionLost])
	}
}

func TestSubscribeFailureRetriesNextCycle(t *testing.T) {
	broker := &fakeBroker{subscribeErrs: []error{errors.New("not authorised to subscribe")}}
	metrics := newRecordingMetrics()
	c := newTestClient(t, broker, Options{Metrics: metrics})
	startRun(t, c)

	waitFor(t, "connected", c.IsConnected)

	st := c.Status()
	if st.ConnectionAttempts != 2 {
		t.Errorf("ConnectionAttempts = %d, want 2", st.ConnectionAttempts)
	}
	if len(st.SubscribedTopics) != 2 {
		t.Errorf("SubscribedTopics = %v, want both topics after retry", st.SubscribedTopics)
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.subFails["zigbee2mqtt/bridge/health"] != 1 {
		t.Errorf("subscription failures = %v, want 1 on first topic", metrics.subFails)
	}
	if metrics.failures[ReasonSubscribeFailed] != 1 {
		t.Errorf("failures[subscribe_failed] = %d, want 1", metrics.failures[ReasonSubscribeFailed])
	}
}

func TestAuthRejectionIsPersistentNotFatal(t *testing.T) {
	broker := &fakeBroker{alwaysFail: packets.ErrorRefusedNotAuthorised}
	c := newTestClient(t, broker, Options{})
	startRun(t, c)

	waitFor(t, "several attempts", func() bool {
		return c.Status().ConnectionFailures >= 3
	})

	st := c.Status()
	if !st.AuthRejected {
		t.Error("AuthRejected = false, want true")
	}
	if st.Connected {
		t.Error("Connected = true, want false")
	}

	// Broker starts accepting: flag clears on the next successful connect.
	broker.mu.Lock()
	broker.alwaysFail = nil
	broker.mu.Unlock()

	waitFor(t, "connected", c.IsConnected)
	if c.Status().AuthRejected {
		t.Error("AuthRejected still set after successful connect")
	}
}

func TestCloseReturnsToDisconnected(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(t, broker, Options{})

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(context.Background()) }()
	waitFor(t, "connected", c.IsConnected)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := <-errCh; err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if got := c.State(); got != StateDisconnected {
		t.Errorf("State() after Close = %v, want disconnected", got)
	}
	if broker.latest().IsConnected() {
		t.Error("paho session still connected after Close")
	}
}

func TestRunTwice(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(t, broker, Options{})
	startRun(t, c)
	waitFor(t, "connected", c.IsConnected)

	if err := c.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v, want ErrAlreadyRunning", err)
	}
}

// =============================================================================
// Status / Delivery Tests
// =============================================================================

func TestStatusMasksCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "ziggy"
	cfg.Auth.Password = "hunter2-super-secret"
	metrics := newRecordingMetrics()

	c, err := New(cfg, Options{Metrics: metrics})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	st := c.Status()
	if !st.HasCredentials {
		t.Error("HasCredentials = false, want true")
	}
	if st.BrokerHost != "127.0.0.1" || st.BrokerPort != 1883 {
		t.Errorf("broker = %s:%d", st.BrokerHost, st.BrokerPort)
	}
	if !metrics.hasCreds {
		t.Error("ClientInfo hasCredentials = false, want true")
	}
}

func TestUniqueClientID(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.UniqueClientID = true

	a := resolveClientID(cfg)
	b := resolveClientID(cfg)
	if a == b {
		t.Errorf("resolveClientID() returned %q twice", a)
	}
	if len(a) != len("ziggy-test")+9 {
		t.Errorf("resolveClientID() = %q, want 8-char suffix", a)
	}
}

func TestDefaultHandlerDelivery(t *testing.T) {
	broker := &fakeBroker{}

	var mu sync.Mutex
	var got []string
	c := newTestClient(t, broker, Options{
		Handler: func(topic string, payload []byte) error {
			mu.Lock()
			got = append(got, topic+"="+string(payload))
			mu.Unlock()
			return nil
		},
	})
	startRun(t, c)
	waitFor(t, "connected", c.IsConnected)

	broker.latest().deliver("zigbee2mqtt/bridge/state", []byte("online"))

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "zigbee2mqtt/bridge/state=online" {
		t.Errorf("handler received %v", got)
	}
}

func TestHandlerPanicRecovered(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(t, broker, Options{
		Handler: func(string, []byte) error { panic("boom") },
	})
	startRun(t, c)
	waitFor(t, "connected", c.IsConnected)

	broker.latest().deliver("zigbee2mqtt/x", nil)

	if !c.IsConnected() {
		t.Error("session lost after handler panic")
	}
}

// =============================================================================
// Classification / Topic Tests
// =============================================================================

func TestClassifyConnectError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrTimeout, ReasonTimeout},
		{packets.ErrorRefusedNotAuthorised, ReasonNotAuthorized},
		{packets.ErrorRefusedBadUsernameOrPassword, ReasonBadCredentials},
		{packets.ErrorRefusedIDRejected, ReasonRefused},
		{packets.ErrorRefusedServerUnavailable, ReasonRefused},
		{errors.New("dial tcp: i/o timeout"), ReasonNetwork},
	}
	for _, tt := range tests {
		if got := classifyConnectError(tt.err); got != tt.want {
			t.Errorf("classifyConnectError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		filter, topic string
		want          bool
	}{
		{"zigbee2mqtt/+", "zigbee2mqtt/kitchen", true},
		{"zigbee2mqtt/+", "zigbee2mqtt/kitchen/set", false},
		{"zigbee2mqtt/+", "zigbee2mqtt", false},
		{"zigbee2mqtt/#", "zigbee2mqtt/bridge/health", true},
		{"zigbee2mqtt/#", "zigbee2mqtt", true},
		{"zigbee2mqtt/bridge/state", "zigbee2mqtt/bridge/state", true},
		{"+/bridge/+", "z2m/bridge/info", true},
		{"#", "$SYS/broker/uptime", false},
	}
	for _, tt := range tests {
		if got := MatchTopic(tt.filter, tt.topic); got != tt.want {
			t.Errorf("MatchTopic(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
		}
	}
}

func TestValidateFilter(t *testing.T) {
	valid := []string{"a", "a/+", "a/#", "+/b/#", "#"}
	for _, f := range valid {
		if err := ValidateFilter(f); err != nil {
			t.Errorf("ValidateFilter(%q) error = %v", f, err)
		}
	}
	invalid := []string{"", "a/#/b", "a/b+", "a/#x"}
	for _, f := range invalid {
		if err := ValidateFilter(f); !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("ValidateFilter(%q) error = %v, want ErrInvalidTopic", f, err)
		}
	}
}

func TestStateString(t *testing.T) {
	want := []string{"disconnected", "connecting", "connected", "reconnecting"}
	for i, s := range AllStates() {
		if s.String() != want[i] {
			t.Errorf("String() = %q, want %q", s.String(), want[i])
		}
	}
	if got := ConnectionState(42).String(); got != "unknown(42)" {
		t.Errorf("String() = %q, want unknown(42)", got)
	}
}
