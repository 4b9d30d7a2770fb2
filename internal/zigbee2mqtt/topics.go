package zigbee2mqtt

import (
	"fmt"
	"strings"

	"github.com/nerrad567/ziggy/internal/infrastructure/mqtt"
)

// Category is the payload category a topic maps to.
type Category string

const (
	CategoryHealth       Category = "health"
	CategoryState        Category = "state"
	CategoryInfo         Category = "info"
	CategoryDevice       Category = "device"
	CategoryBridgeOther  Category = "bridge_other"
	CategoryUnrecognized Category = "unrecognized"
)

// Router classifies inbound topics against one bridge's base topic.
type Router struct {
	base         string
	health       string
	state        string
	info         string
	bridgePrefix string
	deviceFilter string
}

// NewRouter creates a router for baseTopic. deviceFilter is an MQTT filter
// for device topics, normally "{base}/+" already expanded.
func NewRouter(baseTopic, deviceFilter string) (*Router, error) {
	if baseTopic == "" || strings.ContainsAny(baseTopic, "+#") {
		return nil, fmt.Errorf("%w: base topic %q", mqtt.ErrInvalidTopic, baseTopic)
	}
	if err := mqtt.ValidateFilter(deviceFilter); err != nil {
		return nil, err
	}

	return &Router{
		base:         baseTopic,
		health:       baseTopic + "/bridge/health",
		state:        baseTopic + "/bridge/state",
		info:         baseTopic + "/bridge/info",
		bridgePrefix: baseTopic + "/bridge/",
		deviceFilter: deviceFilter,
	}, nil
}

// Classify maps topic to a category. The exact bridge topics win over the
// device filter; other bridge topics are bridge_other even when the device
// filter would match them.
func (r *Router) Classify(topic string) Category {
	switch topic {
	case r.health:
		return CategoryHealth
	case r.state:
		return CategoryState
	case r.info:
		return CategoryInfo
	}

	if strings.HasPrefix(topic, r.bridgePrefix) {
		return CategoryBridgeOther
	}
	if mqtt.MatchTopic(r.deviceFilter, topic) {
		return CategoryDevice
	}
	return CategoryUnrecognized
}

// Subscriptions returns the filters to subscribe: the three bridge topics
// followed by the device filter.
func (r *Router) Subscriptions() []string {
	return []string{r.health, r.state, r.info, r.deviceFilter}
}

// BaseTopic returns the configured base topic.
func (r *Router) BaseTopic() string { return r.base }

// HealthTopic returns "{base}/bridge/health".
func (r *Router) HealthTopic() string { return r.health }

// StateTopic returns "{base}/bridge/state".
func (r *Router) StateTopic() string { return r.state }

// InfoTopic returns "{base}/bridge/info".
func (r *Router) InfoTopic() string { return r.info }

// DeviceFilter returns the device topic filter.
func (r *Router) DeviceFilter() string { return r.deviceFilter }
