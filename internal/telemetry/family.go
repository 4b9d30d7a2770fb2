package telemetry

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric name prefixes.
const (
	Namespace       = "ziggy"
	MQTTPrefix      = Namespace + "_mqtt_"
	BridgePrefix    = Namespace + "_zigbee2mqtt_"
	InfoFamilyStem  = BridgePrefix + "bridge_info_"
	LabelBridgeName = "bridge_name"
	LabelDevice     = "device"
)

// Bridge telemetry family names.
const (
	FamilyHealthTimestamp      = BridgePrefix + "bridge_health_timestamp"
	FamilyLoadAverage1m        = BridgePrefix + "os_load_average_1m"
	FamilyLoadAverage5m        = BridgePrefix + "os_load_average_5m"
	FamilyLoadAverage15m       = BridgePrefix + "os_load_average_15m"
	FamilyOSMemoryUsedMB       = BridgePrefix + "os_memory_used_mb"
	FamilyOSMemoryPercent      = BridgePrefix + "os_memory_percent"
	FamilyProcessUptime        = BridgePrefix + "process_uptime_seconds"
	FamilyProcessMemoryUsedMB  = BridgePrefix + "process_memory_used_mb"
	FamilyProcessMemoryPercent = BridgePrefix + "process_memory_percent"
	FamilyMQTTConnected        = BridgePrefix + "mqtt_connected"
	FamilyMQTTQueued           = BridgePrefix + "mqtt_queued_messages"
	FamilyMQTTPublished        = BridgePrefix + "mqtt_published_messages"
	FamilyMQTTReceived         = BridgePrefix + "mqtt_received_messages"
	FamilyBridgeState          = BridgePrefix + "bridge_state"
	FamilyBridgeStateTimestamp = BridgePrefix + "bridge_state_timestamp"
	FamilyInfoTimestamp        = BridgePrefix + "bridge_info_timestamp"
	FamilyBaseTopicInfo        = BridgePrefix + "base_topic_info"

	FamilyDeviceLeaveCount     = BridgePrefix + "device_leave_count"
	FamilyDeviceAddressChanges = BridgePrefix + "device_network_address_changes"
	FamilyDeviceMessages       = BridgePrefix + "device_messages"
	FamilyDeviceMessagesPerSec = BridgePrefix + "device_messages_per_sec"
	FamilyDeviceAppearances    = BridgePrefix + "device_appearances_total"
	FamilyDeviceLastSeen       = BridgePrefix + "device_last_seen_timestamp"
	FamilyDevicesTracked       = BridgePrefix + "devices_tracked"
)

// Family describes one exported metric family.
type Family struct {
	Name string
	Help string
	Type prometheus.ValueType

	// Labels lists fixed label names. Nil means the label set is chosen per
	// sample (bridge info families).
	Labels []string
}

// FamilyInfo is the JSON form of a family for the description endpoints.
type FamilyInfo struct {
	Name   string   `json:"name"`
	Help   string   `json:"help"`
	Type   string   `json:"type"`
	Labels []string `json:"labels,omitempty"`
}

// Info converts f for the description endpoints.
func (f Family) Info() FamilyInfo {
	return FamilyInfo{
		Name:   f.Name,
		Help:   f.Help,
		Type:   valueTypeName(f.Type),
		Labels: f.Labels,
	}
}

func valueTypeName(t prometheus.ValueType) string {
	switch t {
	case prometheus.CounterValue:
		return "counter"
	case prometheus.GaugeValue:
		return "gauge"
	default:
		return "untyped"
	}
}

// InfoFamily returns the family for bridge info category cat.
func InfoFamily(cat string) Family {
	return Family{
		Name: InfoFamilyStem + cat,
		Help: "Zigbee2MQTT bridge " + strings.ReplaceAll(cat, "_", " ") + " information; labels are the enabled fields",
		Type: prometheus.GaugeValue,
	}
}

var bridgeLabels = []string{LabelBridgeName}
var deviceLabels = []string{LabelBridgeName, LabelDevice}

// builtinFamilies are the bridge telemetry families known without registration.
var builtinFamilies = []Family{
	{FamilyHealthTimestamp, "Timestamp of the last Zigbee2MQTT bridge health report in seconds", prometheus.GaugeValue, bridgeLabels},
	{FamilyLoadAverage1m, "1-minute CPU load average of the bridge host", prometheus.GaugeValue, bridgeLabels},
	{FamilyLoadAverage5m, "5-minute CPU load average of the bridge host", prometheus.GaugeValue, bridgeLabels},
	{FamilyLoadAverage15m, "15-minute CPU load average of the bridge host", prometheus.GaugeValue, bridgeLabels},
	{FamilyOSMemoryUsedMB, "Memory used on the bridge host in MB", prometheus.GaugeValue, bridgeLabels},
	{FamilyOSMemoryPercent, "Memory used on the bridge host in percent", prometheus.GaugeValue, bridgeLabels},
	{FamilyProcessUptime, "Uptime of the Zigbee2MQTT process in seconds", prometheus.GaugeValue, bridgeLabels},
	{FamilyProcessMemoryUsedMB, "Memory used by the Zigbee2MQTT process in MB", prometheus.GaugeValue, bridgeLabels},
	{FamilyProcessMemoryPercent, "Memory used by the Zigbee2MQTT process in percent", prometheus.GaugeValue, bridgeLabels},
	{FamilyMQTTConnected, "Whether Zigbee2MQTT reports being connected to MQTT", prometheus.GaugeValue, bridgeLabels},
	{FamilyMQTTQueued, "Messages queued by Zigbee2MQTT for MQTT", prometheus.GaugeValue, bridgeLabels},
	{FamilyMQTTPublished, "Messages published by Zigbee2MQTT as reported by the bridge", prometheus.GaugeValue, bridgeLabels},
	{FamilyMQTTReceived, "Messages received by Zigbee2MQTT as reported by the bridge", prometheus.GaugeValue, bridgeLabels},
	{FamilyBridgeState, "Zigbee2MQTT bridge state (1 online, 0 offline)", prometheus.GaugeValue, bridgeLabels},
	{FamilyBridgeStateTimestamp, "Timestamp of the last bridge state message in seconds", prometheus.GaugeValue, bridgeLabels},
	{FamilyInfoTimestamp, "Timestamp of the last bridge info message in seconds", prometheus.GaugeValue, bridgeLabels},
	{FamilyBaseTopicInfo, "Topics ziggy subscribes to for this bridge", prometheus.GaugeValue, []string{LabelBridgeName, "base_topic", "health_topic", "state_topic", "info_topic", "device_topic"}},
	{FamilyDeviceLeaveCount, "Times the device left the network, as reported by the bridge", prometheus.GaugeValue, deviceLabels},
	{FamilyDeviceAddressChanges, "Times the device changed its network address, as reported by the bridge", prometheus.GaugeValue, deviceLabels},
	{FamilyDeviceMessages, "Messages received from the device, as reported by the bridge", prometheus.GaugeValue, deviceLabels},
	{FamilyDeviceMessagesPerSec, "Message rate derived from consecutive health reports", prometheus.GaugeValue, deviceLabels},
	{FamilyDeviceAppearances, "Health reports that listed the device", prometheus.CounterValue, deviceLabels},
	{FamilyDeviceLastSeen, "Timestamp of the last health report listing the device in seconds", prometheus.GaugeValue, deviceLabels},
	{FamilyDevicesTracked, "Devices currently held by the activity tracker", prometheus.GaugeValue, bridgeLabels},
}

// Label is one name/value pair on a sample.
type Label struct {
	Name  string
	Value string
}

// Sample is one value of a family with its complete label set.
type Sample struct {
	Name   string
	Labels []Label
	Value  float64
}

// LabelMap returns the sample's labels as a map.
func (s Sample) LabelMap() map[string]string {
	m := make(map[string]string, len(s.Labels))
	for _, l := range s.Labels {
		m[l.Name] = l.Value
	}
	return m
}

func (s Sample) clone() Sample {
	c := s
	c.Labels = append([]Label(nil), s.Labels...)
	return c
}
