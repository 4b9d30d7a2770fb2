package zigbee2mqtt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// HealthReport is a decoded {base}/bridge/health payload.
// Pointer fields are nil when the bridge omitted them.
type HealthReport struct {
	ResponseTime *int64         `json:"response_time"`
	OS           *OSHealth      `json:"os"`
	Process      *ProcessHealth `json:"process"`
	MQTT         *MQTTHealth    `json:"mqtt"`
	Devices      DeviceEntries  `json:"devices"`
}

// OSHealth is the bridge host section of a health report.
type OSHealth struct {
	LoadAverage   []float64 `json:"load_average"`
	MemoryUsedMB  *float64  `json:"memory_used_mb"`
	MemoryPercent *float64  `json:"memory_percent"`
}

// ProcessHealth is the zigbee2mqtt process section of a health report.
type ProcessHealth struct {
	UptimeSec     *float64 `json:"uptime_sec"`
	MemoryUsedMB  *float64 `json:"memory_used_mb"`
	MemoryPercent *float64 `json:"memory_percent"`
}

// MQTTHealth is the bridge's view of its own broker connection.
type MQTTHealth struct {
	Connected *bool    `json:"connected"`
	Queued    *float64 `json:"queued"`
	Published *float64 `json:"published"`
	Received  *float64 `json:"received"`
}

// DeviceEntry is one device in a health report.
type DeviceEntry struct {
	// Key is the object key the entry was listed under, empty for array form.
	Key string `json:"-"`

	IEEEAddress           string   `json:"ieee_address"`
	FriendlyName          string   `json:"friendly_name"`
	LeaveCount            *uint64  `json:"leave_count"`
	NetworkAddressChanges *uint64  `json:"network_address_changes"`
	Messages              *uint64  `json:"messages"`
	MessagesPerSec        *float64 `json:"messages_per_sec"`
}

// DeviceEntries accepts both device list encodings: an object keyed by
// IEEE address (zigbee2mqtt 2.x) or an array of entries.
type DeviceEntries []DeviceEntry

// UnmarshalJSON implements json.Unmarshaler.
func (d *DeviceEntries) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*d = nil
		return nil
	}

	switch data[0] {
	case '[':
		var list []DeviceEntry
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*d = list
		return nil

	case '{':
		var byKey map[string]DeviceEntry
		if err := json.Unmarshal(data, &byKey); err != nil {
			return err
		}
		keys := make([]string, 0, len(byKey))
		for k := range byKey {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		list := make([]DeviceEntry, 0, len(keys))
		for _, k := range keys {
			e := byKey[k]
			e.Key = k
			list = append(list, e)
		}
		*d = list
		return nil

	default:
		return fmt.Errorf("%w: devices must be an object or array", ErrUnexpectedShape)
	}
}

// Timestamp returns response_time, or fallback when the bridge omitted it.
func (h *HealthReport) Timestamp(fallback time.Time) time.Time {
	if h.ResponseTime == nil || *h.ResponseTime <= 0 {
		return fallback
	}
	return time.UnixMilli(*h.ResponseTime)
}

// ParseHealth decodes a health payload.
func ParseHealth(payload []byte) (*HealthReport, error) {
	var h HealthReport
	if err := decodeObject(payload, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// BridgeState is a decoded {base}/bridge/state payload.
type BridgeState struct {
	Online bool
}

// ParseState decodes a state payload: {"state":"online"}, a JSON string,
// or a bare online/offline token.
func ParseState(payload []byte) (BridgeState, error) {
	trimmed := bytes.TrimSpace(payload)

	if token, ok := stateToken(string(trimmed)); ok {
		return BridgeState{Online: token}, nil
	}

	if !json.Valid(trimmed) {
		return BridgeState{}, ErrMalformedJSON
	}

	var raw any
	_ = json.Unmarshal(trimmed, &raw)

	var value string
	switch v := raw.(type) {
	case string:
		value = v
	case map[string]any:
		s, present := v["state"]
		if !present {
			return BridgeState{}, fmt.Errorf("%w: missing \"state\"", ErrUnexpectedShape)
		}
		str, isString := s.(string)
		if !isString {
			return BridgeState{}, fmt.Errorf("%w: \"state\" is %T", ErrUnexpectedShape, s)
		}
		value = str
	default:
		return BridgeState{}, fmt.Errorf("%w: state payload is %T", ErrUnexpectedShape, raw)
	}

	online, ok := stateToken(value)
	if !ok {
		return BridgeState{}, fmt.Errorf("%w: state %q", ErrInvalidValue, value)
	}
	return BridgeState{Online: online}, nil
}

func stateToken(s string) (online bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "online":
		return true, true
	case "offline":
		return false, true
	default:
		return false, false
	}
}

// Info categories. rootCategories read scalar fields from the top level of
// the info payload; the rest read the sub-object of the same name.
var (
	InfoCategories = []string{"version", "coordinator", "network", "bridge", "os", "mqtt", "config"}
	rootCategories = map[string]bool{"version": true, "bridge": true}
)

// BridgeInfo is a decoded {base}/bridge/info payload: per category, the
// flattened scalar fields rendered as label values.
type BridgeInfo struct {
	Categories map[string]map[string]string
}

// ParseInfo decodes an info payload. Nested objects are flattened with "_"
// ("meta": {"revision": 1} becomes "meta_revision"). Arrays and nulls are
// skipped.
func ParseInfo(payload []byte) (*BridgeInfo, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var root map[string]any
	if err := decodeWith(dec, payload, &root); err != nil {
		return nil, err
	}

	info := &BridgeInfo{Categories: make(map[string]map[string]string, len(InfoCategories))}

	rootFields := make(map[string]string)
	for k, v := range root {
		if isSubObjectCategory(k) {
			continue
		}
		flatten(rootFields, k, v)
	}

	for _, cat := range InfoCategories {
		if rootCategories[cat] {
			info.Categories[cat] = rootFields
			continue
		}

		sub, present := root[cat]
		if !present || sub == nil {
			continue
		}
		obj, ok := sub.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q is %T, want object", ErrUnexpectedShape, cat, sub)
		}
		fields := make(map[string]string, len(obj))
		for k, v := range obj {
			flatten(fields, k, v)
		}
		info.Categories[cat] = fields
	}

	return info, nil
}

// isSubObjectCategory reports whether a root key holds a category sub-object.
func isSubObjectCategory(k string) bool {
	for _, cat := range InfoCategories {
		if cat == k && !rootCategories[cat] {
			return true
		}
	}
	return false
}

func flatten(out map[string]string, prefix string, v any) {
	switch val := v.(type) {
	case map[string]any:
		for k, inner := range val {
			flatten(out, prefix+"_"+k, inner)
		}
	case string:
		out[prefix] = val
	case json.Number:
		out[prefix] = val.String()
	case bool:
		if val {
			out[prefix] = "true"
		} else {
			out[prefix] = "false"
		}
	}
}

// ValidateDevicePayload checks that a device topic carried JSON.
func ValidateDevicePayload(payload []byte) error {
	if !json.Valid(payload) {
		return ErrMalformedJSON
	}
	return nil
}

// decodeObject decodes a JSON object into v, classifying failures.
func decodeObject(payload []byte, v any) error {
	return decodeWith(json.NewDecoder(bytes.NewReader(payload)), payload, v)
}

func decodeWith(dec *json.Decoder, payload []byte, v any) error {
	trimmed := bytes.TrimSpace(payload)
	if !json.Valid(trimmed) {
		return ErrMalformedJSON
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("%w: payload is not a JSON object", ErrUnexpectedShape)
	}

	if err := dec.Decode(v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return fmt.Errorf("%w: %s: %v", ErrUnexpectedShape, typeErr.Field, err)
		}
		if errors.Is(err, ErrUnexpectedShape) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	return nil
}
