package zigbee2mqtt

import (
	"time"

	"github.com/nerrad567/ziggy/internal/device"
	"github.com/nerrad567/ziggy/internal/telemetry"
)

// Store sample-set keys. Info categories use infoSetPrefix + category.
const (
	setHealth     = "health"
	setState      = "state"
	setInfo       = "info"
	setBaseTopic  = "base_topic"
	infoSetPrefix = "info."
)

// record is a parsed payload ready to commit. Parsing happens outside the
// store lock; apply runs inside it.
type record interface {
	apply(tx *telemetry.Tx, c *committer) error
}

// parse decodes payload for cat. Device payloads are validated but produce
// no record.
func parse(cat Category, payload []byte, receivedAt time.Time) (record, error) {
	switch cat {
	case CategoryHealth:
		h, err := ParseHealth(payload)
		if err != nil {
			return nil, err
		}
		return &healthRecord{report: h, at: h.Timestamp(receivedAt)}, nil

	case CategoryState:
		s, err := ParseState(payload)
		if err != nil {
			return nil, err
		}
		return &stateRecord{state: s, at: receivedAt}, nil

	case CategoryInfo:
		info, err := ParseInfo(payload)
		if err != nil {
			return nil, err
		}
		return &infoRecord{info: info, at: receivedAt}, nil

	case CategoryDevice:
		return nil, ValidateDevicePayload(payload)

	default:
		return nil, nil
	}
}

// committer holds what handlers need to build samples, plus the last
// committed state and info. Its mutable fields are only touched inside
// store.Update.
type committer struct {
	bridge string
	fields *FieldRegistry

	lastInfo   *BridgeInfo
	lastOnline *bool

	// stateChange is set by a state record that changed the bridge state.
	stateChange *BridgeStateChange
}

func (c *committer) labels() []telemetry.Label {
	return []telemetry.Label{{Name: telemetry.LabelBridgeName, Value: c.bridge}}
}

func (c *committer) gauge(name string, v float64) telemetry.Sample {
	return telemetry.Sample{Name: name, Labels: c.labels(), Value: v}
}

// ---------------------------------------------------------------------------
// health
// ---------------------------------------------------------------------------

type healthRecord struct {
	report *HealthReport
	at     time.Time
}

func (r *healthRecord) apply(tx *telemetry.Tx, c *committer) error {
	h := r.report
	samples := []telemetry.Sample{c.gauge(telemetry.FamilyHealthTimestamp, telemetry.UnixSeconds(r.at))}

	opt := func(name string, v *float64) {
		if v != nil {
			samples = append(samples, c.gauge(name, *v))
		}
	}

	if h.OS != nil {
		if len(h.OS.LoadAverage) >= 3 {
			samples = append(samples,
				c.gauge(telemetry.FamilyLoadAverage1m, h.OS.LoadAverage[0]),
				c.gauge(telemetry.FamilyLoadAverage5m, h.OS.LoadAverage[1]),
				c.gauge(telemetry.FamilyLoadAverage15m, h.OS.LoadAverage[2]),
			)
		}
		opt(telemetry.FamilyOSMemoryUsedMB, h.OS.MemoryUsedMB)
		opt(telemetry.FamilyOSMemoryPercent, h.OS.MemoryPercent)
	}
	if h.Process != nil {
		opt(telemetry.FamilyProcessUptime, h.Process.UptimeSec)
		opt(telemetry.FamilyProcessMemoryUsedMB, h.Process.MemoryUsedMB)
		opt(telemetry.FamilyProcessMemoryPercent, h.Process.MemoryPercent)
	}
	if h.MQTT != nil {
		if h.MQTT.Connected != nil {
			samples = append(samples, c.gauge(telemetry.FamilyMQTTConnected, boolValue(*h.MQTT.Connected)))
		}
		opt(telemetry.FamilyMQTTQueued, h.MQTT.Queued)
		opt(telemetry.FamilyMQTTPublished, h.MQTT.Published)
		opt(telemetry.FamilyMQTTReceived, h.MQTT.Received)
	}

	if err := tx.Replace(setHealth, samples); err != nil {
		return err
	}

	observations := make([]device.Observation, 0, len(h.Devices))
	seen := make(map[string]struct{}, len(h.Devices))
	for _, e := range h.Devices {
		raw := e.Key
		if raw == "" {
			raw = e.FriendlyName
		}
		id, err := device.NormalizeID(e.IEEEAddress, raw)
		if err != nil {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		friendly := e.FriendlyName
		if friendly == "" && e.Key != "" && e.Key != id {
			friendly = e.Key
		}
		observations = append(observations, device.Observation{
			ID:                    id,
			FriendlyName:          friendly,
			LeaveCount:            e.LeaveCount,
			NetworkAddressChanges: e.NetworkAddressChanges,
			Messages:              e.Messages,
		})
	}

	tracker := tx.Devices()
	for _, obs := range observations {
		if _, err := tracker.Observe(obs, r.at); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// state
// ---------------------------------------------------------------------------

// BridgeStateChange is emitted when the bridge goes online or offline.
type BridgeStateChange struct {
	BridgeName string    `json:"bridge_name"`
	Online     bool      `json:"online"`
	Timestamp  time.Time `json:"timestamp"`
}

type stateRecord struct {
	state BridgeState
	at    time.Time
}

func (r *stateRecord) apply(tx *telemetry.Tx, c *committer) error {
	err := tx.Replace(setState, []telemetry.Sample{
		c.gauge(telemetry.FamilyBridgeState, boolValue(r.state.Online)),
		c.gauge(telemetry.FamilyBridgeStateTimestamp, telemetry.UnixSeconds(r.at)),
	})
	if err != nil {
		return err
	}

	if c.lastOnline == nil || *c.lastOnline != r.state.Online {
		online := r.state.Online
		c.lastOnline = &online
		c.stateChange = &BridgeStateChange{BridgeName: c.bridge, Online: online, Timestamp: r.at}
	}
	return nil
}

// ---------------------------------------------------------------------------
// info
// ---------------------------------------------------------------------------

type infoRecord struct {
	info *BridgeInfo
	at   time.Time
}

func (r *infoRecord) apply(tx *telemetry.Tx, c *committer) error {
	for _, cat := range InfoCategories {
		if err := c.projectInfo(tx, r.info, cat); err != nil {
			return err
		}
	}
	if err := tx.Replace(setInfo, []telemetry.Sample{
		c.gauge(telemetry.FamilyInfoTimestamp, telemetry.UnixSeconds(r.at)),
	}); err != nil {
		return err
	}
	c.lastInfo = r.info
	return nil
}

// projectInfo renders one info category from info through the field
// registry. A category missing from the payload clears its series.
func (c *committer) projectInfo(tx *telemetry.Tx, info *BridgeInfo, cat string) error {
	values, ok := info.Categories[cat]
	if !ok {
		tx.Clear(infoSetPrefix + cat)
		return nil
	}
	return tx.Replace(infoSetPrefix+cat, []telemetry.Sample{{
		Name:   telemetry.InfoFamily(cat).Name,
		Labels: c.fields.Project(cat, values),
		Value:  1,
	}})
}

// reproject re-renders cat from the last info payload after a field change.
func (c *committer) reproject(tx *telemetry.Tx, cat string) error {
	if c.lastInfo == nil {
		return nil
	}
	return c.projectInfo(tx, c.lastInfo, cat)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
