package zigbee2mqtt

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/ziggy/internal/telemetry"
)

// DefaultQueueSize is used when Options.QueueSize is not positive.
const DefaultQueueSize = 1024

// Logger defines the logging interface for the pipeline.
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

// Metrics receives message accounting. *telemetry.Ops implements it.
type Metrics interface {
	MessageReceived(category string, size int)
	MessageDropped()
	ProcessingDuration(category string, d time.Duration)
	ProcessingError(category, errorType string)
}

type noopMetrics struct{}

func (noopMetrics) MessageReceived(string, int)              {}
func (noopMetrics) MessageDropped()                          {}
func (noopMetrics) ProcessingDuration(string, time.Duration) {}
func (noopMetrics) ProcessingError(string, string)           {}

// Options configures a Pipeline.
type Options struct {
	QueueSize int
	Metrics   Metrics
	Logger    Logger
}

type inbound struct {
	topic      string
	payload    []byte
	receivedAt time.Time
}

// Pipeline turns inbound MQTT messages into bridge telemetry. Enqueue is
// called from the broker client; a single Run goroutine consumes the queue
// and commits one store update per message.
type Pipeline struct {
	router  *Router
	fields  *FieldRegistry
	store   *telemetry.Store
	metrics Metrics
	logger  Logger
	now     func() time.Time

	queue chan inbound

	mu      sync.RWMutex
	stopped bool

	// commit is only used inside store.Update.
	commit *committer

	listenerMu sync.RWMutex
	listeners  []func(BridgeStateChange)
	lastState  atomic.Pointer[BridgeStateChange]
}

// NewPipeline creates a pipeline committing into store. It registers the
// info families and publishes the base topic info series.
func NewPipeline(router *Router, fields *FieldRegistry, store *telemetry.Store, opts Options) (*Pipeline, error) {
	if router == nil || fields == nil || store == nil {
		return nil, errors.New("zigbee2mqtt: router, fields and store are required")
	}

	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}

	p := &Pipeline{
		router:  router,
		fields:  fields,
		store:   store,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		now:     time.Now,
		queue:   make(chan inbound, size),
		commit:  &committer{bridge: store.BridgeName(), fields: fields},
	}
	if p.metrics == nil {
		p.metrics = noopMetrics{}
	}
	if p.logger == nil {
		p.logger = noopLogger{}
	}

	for _, cat := range InfoCategories {
		store.Register(telemetry.InfoFamily(cat))
	}

	err := store.Update(func(tx *telemetry.Tx) error {
		return tx.Replace(setBaseTopic, []telemetry.Sample{{
			Name: telemetry.FamilyBaseTopicInfo,
			Labels: []telemetry.Label{
				{Name: telemetry.LabelBridgeName, Value: store.BridgeName()},
				{Name: "base_topic", Value: router.BaseTopic()},
				{Name: "health_topic", Value: router.HealthTopic()},
				{Name: "state_topic", Value: router.StateTopic()},
				{Name: "info_topic", Value: router.InfoTopic()},
				{Name: "device_topic", Value: router.DeviceFilter()},
			},
			Value: 1,
		}})
	})
	if err != nil {
		return nil, fmt.Errorf("publishing base topic info: %w", err)
	}

	return p, nil
}

// Router returns the topic router.
func (p *Pipeline) Router() *Router { return p.router }

// Fields returns the field registry.
func (p *Pipeline) Fields() *FieldRegistry { return p.fields }

// Enqueue hands a message to the consumer without blocking. When the queue
// is full the message is dropped, counted and ErrQueueFull returned.
// Its signature matches mqtt.MessageHandler.
func (p *Pipeline) Enqueue(topic string, payload []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrStopped
	}

	select {
	case p.queue <- inbound{topic: topic, payload: payload, receivedAt: p.now()}:
		return nil
	default:
		p.metrics.MessageDropped()
		return ErrQueueFull
	}
}

// Stop closes the queue to new messages. Queued messages are still
// processed by Run. Safe to call more than once.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	p.stopped = true
	close(p.queue)
}

// Run consumes the queue until ctx is cancelled or Stop is called, then
// drains what is left and returns nil.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.Stop()
			for msg := range p.queue {
				_ = p.Process(msg.topic, msg.payload, msg.receivedAt)
			}
			return nil

		case msg, ok := <-p.queue:
			if !ok {
				return nil
			}
			_ = p.Process(msg.topic, msg.payload, msg.receivedAt)
		}
	}
}

// Process classifies, parses and commits one message. Malformed payloads
// increment the processing error counter and change nothing else.
func (p *Pipeline) Process(topic string, payload []byte, receivedAt time.Time) error {
	cat := p.router.Classify(topic)
	p.metrics.MessageReceived(string(cat), len(payload))

	if cat == CategoryBridgeOther || cat == CategoryUnrecognized {
		return nil
	}

	start := p.now()
	change, err := p.handle(cat, payload, receivedAt)
	if err != nil {
		errType := ErrorType(err)
		p.metrics.ProcessingError(string(cat), errType)
		p.logger.Debug("zigbee2mqtt payload rejected",
			"topic", topic,
			"category", string(cat),
			"error_type", errType,
			"error", err,
		)
		return &PayloadError{Category: cat, Err: err}
	}
	p.metrics.ProcessingDuration(string(cat), p.now().Sub(start))

	if change != nil {
		p.notify(*change)
	}
	return nil
}

// handle parses and commits one payload. It returns the bridge state
// change the commit produced, if any.
func (p *Pipeline) handle(cat Category, payload []byte, receivedAt time.Time) (change *BridgeStateChange, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("zigbee2mqtt handler panic recovered",
				"category", string(cat),
				"panic", r,
			)
			change, err = nil, fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	rec, err := parse(cat, payload, receivedAt)
	if err != nil || rec == nil {
		return nil, err
	}

	err = p.store.Update(func(tx *telemetry.Tx) error {
		p.commit.stateChange = nil
		if err := rec.apply(tx, p.commit); err != nil {
			return err
		}
		change = p.commit.stateChange
		return nil
	})
	if err != nil {
		return nil, err
	}

	if change != nil {
		p.lastState.Store(change)
	}
	return change, nil
}

// AddField enables an info field and re-renders that category from the
// last info payload so the next scrape reflects it.
func (p *Pipeline) AddField(category, field string) (bool, error) {
	changed, err := p.fields.Add(category, field)
	if err != nil || !changed {
		return changed, err
	}
	return true, p.reproject(category)
}

// RemoveField disables an info field and re-renders that category.
func (p *Pipeline) RemoveField(category, field string) (bool, error) {
	changed, err := p.fields.Remove(category, field)
	if err != nil || !changed {
		return changed, err
	}
	return true, p.reproject(category)
}

func (p *Pipeline) reproject(category string) error {
	return p.store.Update(func(tx *telemetry.Tx) error {
		return p.commit.reproject(tx, category)
	})
}

// AddBridgeStateListener registers fn for bridge online/offline changes.
// fn runs on the consumer goroutine after the change is committed and must
// not block. A panicking listener is logged and does not affect the
// message or the other listeners.
func (p *Pipeline) AddBridgeStateListener(fn func(BridgeStateChange)) {
	p.listenerMu.Lock()
	p.listeners = append(p.listeners, fn)
	p.listenerMu.Unlock()
}

// BridgeState returns the last committed bridge state, or false before the
// first state message.
func (p *Pipeline) BridgeState() (BridgeStateChange, bool) {
	if st := p.lastState.Load(); st != nil {
		return *st, true
	}
	return BridgeStateChange{}, false
}

func (p *Pipeline) notify(change BridgeStateChange) {
	p.listenerMu.RLock()
	listeners := slices.Clone(p.listeners)
	p.listenerMu.RUnlock()

	for _, fn := range listeners {
		p.callListener(fn, change)
	}
}

func (p *Pipeline) callListener(fn func(BridgeStateChange), change BridgeStateChange) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("bridge state listener panic recovered",
				"online", change.Online,
				"panic", r,
			)
		}
	}()
	fn(change)
}

// SweepDevices applies the tracker's eviction policy every interval until
// ctx is cancelled. A non-positive interval disables sweeping.
func (p *Pipeline) SweepDevices(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if evicted := p.store.EvictDevices(p.now()); len(evicted) > 0 {
				p.logger.Info("evicted inactive devices", "count", len(evicted), "devices", evicted)
			}
		}
	}
}
