package telemetry

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Histogram buckets for operational metrics.
var (
	messageSizeBuckets        = []float64{10, 50, 100, 500, 1000, 5000, 10000}
	processingDurationBuckets = []float64{.001, .005, .01, .05, .1, .5, 1}
)

// Ops holds the subscriber's own operational metrics.
// Every method is safe for concurrent use.
type Ops struct {
	connectionStatus     prometheus.Gauge
	connectionState      *prometheus.GaugeVec
	connectionAttempts   prometheus.Counter
	connectionFailures   *prometheus.CounterVec
	messagesReceived     *prometheus.CounterVec
	messagesDropped      prometheus.Counter
	messageSize          *prometheus.HistogramVec
	processingDuration   *prometheus.HistogramVec
	processingErrors     *prometheus.CounterVec
	subscriptionsActive  prometheus.Gauge
	subscriptionAttempts *prometheus.CounterVec
	subscriptionFailures *prometheus.CounterVec
	clientInfo           *prometheus.GaugeVec

	families []Family

	stateMu sync.Mutex
	states  map[string]struct{}
}

// newOps creates and registers the operational metrics on reg.
func newOps(reg prometheus.Registerer) *Ops {
	factory := promauto.With(reg)
	o := &Ops{states: make(map[string]struct{})}

	o.connectionStatus = factory.NewGauge(o.gaugeOpts("connection_status",
		"Whether the subscriber holds a broker session (1 connected, 0 otherwise)"))
	o.connectionState = factory.NewGaugeVec(o.gaugeOpts("connection_state",
		"Current connection manager state (1 for the active state)", "state"), []string{"state"})
	o.connectionAttempts = factory.NewCounter(o.counterOpts("connection_attempts_total",
		"Broker connection attempts"))
	o.connectionFailures = factory.NewCounterVec(o.counterOpts("connection_failures_total",
		"Failed connection attempts and lost sessions by reason", "reason"), []string{"reason"})
	o.messagesReceived = factory.NewCounterVec(o.counterOpts("messages_received_total",
		"Messages taken off the ingestion queue by topic category", "category"), []string{"category"})
	o.messagesDropped = factory.NewCounter(o.counterOpts("messages_dropped_total",
		"Messages dropped because the ingestion queue was full or closed"))
	o.messageSize = factory.NewHistogramVec(o.histogramOpts("message_size_bytes",
		"Payload size of received messages", messageSizeBuckets, "category"), []string{"category"})
	o.processingDuration = factory.NewHistogramVec(o.histogramOpts("message_processing_duration_seconds",
		"Parse and handler time of successfully processed messages", processingDurationBuckets, "category"), []string{"category"})
	o.processingErrors = factory.NewCounterVec(o.counterOpts("message_processing_errors_total",
		"Messages rejected during parsing or handling", "category", "error_type"), []string{"category", "error_type"})
	o.subscriptionsActive = factory.NewGauge(o.gaugeOpts("subscriptions_active",
		"Topic filters currently subscribed"))
	o.subscriptionAttempts = factory.NewCounterVec(o.counterOpts("subscription_attempts_total",
		"Subscribe requests by topic filter", "topic"), []string{"topic"})
	o.subscriptionFailures = factory.NewCounterVec(o.counterOpts("subscription_failures_total",
		"Failed subscribe requests by topic filter", "topic"), []string{"topic"})
	o.clientInfo = factory.NewGaugeVec(o.gaugeOpts("client_info",
		"Broker client identity", "client_id", "broker_host", "broker_port", "has_credentials"),
		[]string{"client_id", "broker_host", "broker_port", "has_credentials"})

	return o
}

func (o *Ops) gaugeOpts(name, help string, labels ...string) prometheus.GaugeOpts {
	o.describe(name, help, prometheus.GaugeValue, labels)
	return prometheus.GaugeOpts{Namespace: Namespace, Subsystem: "mqtt", Name: name, Help: help}
}

func (o *Ops) counterOpts(name, help string, labels ...string) prometheus.CounterOpts {
	o.describe(name, help, prometheus.CounterValue, labels)
	return prometheus.CounterOpts{Namespace: Namespace, Subsystem: "mqtt", Name: name, Help: help}
}

func (o *Ops) histogramOpts(name, help string, buckets []float64, labels ...string) prometheus.HistogramOpts {
	o.describe(name, help, prometheus.UntypedValue, labels)
	return prometheus.HistogramOpts{Namespace: Namespace, Subsystem: "mqtt", Name: name, Help: help, Buckets: buckets}
}

func (o *Ops) describe(name, help string, t prometheus.ValueType, labels []string) {
	o.families = append(o.families, Family{Name: MQTTPrefix + name, Help: help, Type: t, Labels: labels})
}

// Families returns the operational family descriptions.
func (o *Ops) Families() []FamilyInfo {
	out := make([]FamilyInfo, len(o.families))
	for i, f := range o.families {
		out[i] = f.Info()
		if f.Type == prometheus.UntypedValue {
			out[i].Type = "histogram"
		}
	}
	return out
}

// ConnectionAttempt counts one connect attempt.
func (o *Ops) ConnectionAttempt() {
	o.connectionAttempts.Inc()
}

// ConnectionFailure counts one failed attempt or lost session.
func (o *Ops) ConnectionFailure(reason string) {
	o.connectionFailures.WithLabelValues(reason).Inc()
}

// ConnectionState marks state as active and every previously seen state inactive.
func (o *Ops) ConnectionState(state string, connected bool) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	o.states[state] = struct{}{}
	for s := range o.states {
		v := 0.0
		if s == state {
			v = 1
		}
		o.connectionState.WithLabelValues(s).Set(v)
	}

	if connected {
		o.connectionStatus.Set(1)
	} else {
		o.connectionStatus.Set(0)
	}
}

// SubscriptionAttempt counts one subscribe request.
func (o *Ops) SubscriptionAttempt(topic string) {
	o.subscriptionAttempts.WithLabelValues(topic).Inc()
}

// SubscriptionFailure counts one failed subscribe request.
func (o *Ops) SubscriptionFailure(topic string) {
	o.subscriptionFailures.WithLabelValues(topic).Inc()
}

// SubscriptionsActive sets the number of active subscriptions.
func (o *Ops) SubscriptionsActive(n int) {
	o.subscriptionsActive.Set(float64(n))
}

// ClientInfo publishes the broker client identity. Credentials are reported
// as presence only.
func (o *Ops) ClientInfo(clientID, host string, port int, hasCredentials bool) {
	o.clientInfo.Reset()
	o.clientInfo.WithLabelValues(clientID, host, strconv.Itoa(port), strconv.FormatBool(hasCredentials)).Set(1)
}

// MessageReceived counts a dequeued message and observes its size.
func (o *Ops) MessageReceived(category string, size int) {
	o.messagesReceived.WithLabelValues(category).Inc()
	o.messageSize.WithLabelValues(category).Observe(float64(size))
}

// MessageDropped counts a message that never reached the queue.
func (o *Ops) MessageDropped() {
	o.messagesDropped.Inc()
}

// ProcessingDuration observes parse + handler time for category.
func (o *Ops) ProcessingDuration(category string, d time.Duration) {
	o.processingDuration.WithLabelValues(category).Observe(d.Seconds())
}

// ProcessingError counts a rejected message.
func (o *Ops) ProcessingError(category, errorType string) {
	o.processingErrors.WithLabelValues(category, errorType).Inc()
}
