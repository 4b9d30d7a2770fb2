package mqtt

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	mochipackets "github.com/mochi-mqtt/server/v2/packets"

	"github.com/nerrad567/ziggy/internal/infrastructure/config"
)

// End-to-end tests against an embedded broker. No external Mosquitto needed.

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

// startBroker runs an embedded broker with the given auth hook.
func startBroker(t *testing.T, hook mochi.Hook) (*mochi.Server, int) {
	t.Helper()

	server := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err := server.AddHook(hook, nil); err != nil {
		t.Fatalf("AddHook() error = %v", err)
	}

	port := freePort(t)
	tcp := listeners.NewTCP(listeners.Config{ID: "t1", Address: "127.0.0.1:" + strconv.Itoa(port)})
	if err := server.AddListener(tcp); err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}
	go func() {
		_ = server.Serve()
	}()
	t.Cleanup(func() { server.Close() })

	return server, port
}

// denyHook refuses every CONNECT.
type denyHook struct {
	mochi.HookBase
}

func (h *denyHook) ID() string { return "deny-all" }

func (h *denyHook) Provides(b byte) bool {
	return bytes.Contains([]byte{mochi.OnConnectAuthenticate, mochi.OnACLCheck}, []byte{b})
}

func (h *denyHook) OnConnectAuthenticate(*mochi.Client, mochipackets.Packet) bool { return false }

func (h *denyHook) OnACLCheck(*mochi.Client, string, bool) bool { return true }

func brokerConfig(port int) config.MQTTConfig {
	cfg := testConfig()
	cfg.Broker.Port = port
	cfg.Reconnect.InitialDelay = 10 * time.Millisecond
	cfg.Reconnect.MaxDelay = 50 * time.Millisecond
	return cfg
}

func TestIntegration_ReceivesPublishedMessages(t *testing.T) {
	server, port := startBroker(t, new(auth.AllowHook))

	var mu sync.Mutex
	received := map[string]string{}
	c, err := New(brokerConfig(port), Options{
		Topics: []string{"zigbee2mqtt/bridge/state", "zigbee2mqtt/+"},
		Handler: func(topic string, payload []byte) error {
			mu.Lock()
			received[topic] = string(payload)
			mu.Unlock()
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	waitFor(t, "connected", c.IsConnected)

	// bridge/state matches only the exact filter; the device topic matches "+".
	if err := server.Publish("zigbee2mqtt/bridge/state", []byte(`{"state":"online"}`), false, 0); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := server.Publish("zigbee2mqtt/kitchen_lamp", []byte(`{"state":"ON"}`), false, 0); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	waitFor(t, "both messages", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if received["zigbee2mqtt/bridge/state"] != `{"state":"online"}` {
		t.Errorf("bridge/state payload = %q", received["zigbee2mqtt/bridge/state"])
	}

	st := c.Status()
	if st.State != StateConnected || st.ConnectionAttempts != 1 {
		t.Errorf("Status() = %+v, want connected after one attempt", st)
	}
}

func TestIntegration_AuthRejected(t *testing.T) {
	_, port := startBroker(t, new(denyHook))

	cfg := brokerConfig(port)
	cfg.Auth.Username = "ziggy"
	cfg.Auth.Password = "wrong"

	c, err := New(cfg, Options{Topics: []string{"zigbee2mqtt/#"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, "auth rejection", func() bool {
		return c.Status().AuthRejected
	})

	st := c.Status()
	if st.Connected {
		t.Error("Connected = true with rejected credentials")
	}
	if !st.HasCredentials {
		t.Error("HasCredentials = false, want true")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not stop after cancel")
	}
}

func TestIntegration_BrokerDownThenUp(t *testing.T) {
	port := freePort(t)

	c, err := New(brokerConfig(port), Options{Topics: []string{"zigbee2mqtt/#"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	waitFor(t, "failed attempts", func() bool {
		return c.Status().ConnectionFailures >= 2
	})

	// Bring the broker up on the port the manager keeps dialling.
	server := mochi.New(&mochi.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		t.Fatalf("AddHook() error = %v", err)
	}
	if err := server.AddListener(listeners.NewTCP(listeners.Config{ID: "late", Address: "127.0.0.1:" + strconv.Itoa(port)})); err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}
	go func() { _ = server.Serve() }()
	defer server.Close()

	waitFor(t, "connected", c.IsConnected)

	st := c.Status()
	if st.ConnectionAttempts != st.ConnectionFailures+1 {
		t.Errorf("attempts = %d, failures = %d; want attempts = failures+1", st.ConnectionAttempts, st.ConnectionFailures)
	}
}
