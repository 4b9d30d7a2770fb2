package mqtt

import (
	"fmt"
	"strings"
)

// ValidateFilter checks an MQTT topic filter: non-empty, "+" occupying a
// whole level, "#" only as the whole last level.
func ValidateFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#":
			if i != len(levels)-1 {
				return fmt.Errorf("%w: %q: '#' must be the last level", ErrInvalidTopic, filter)
			}
		case level == "+":
		case strings.ContainsAny(level, "+#"):
			return fmt.Errorf("%w: %q: wildcard must occupy a whole level", ErrInvalidTopic, filter)
		}
	}
	return nil
}

// MatchTopic reports whether topic matches filter using MQTT wildcard rules.
//
//	MatchTopic("zigbee2mqtt/+", "zigbee2mqtt/kitchen")        // true
//	MatchTopic("zigbee2mqtt/+", "zigbee2mqtt/kitchen/set")    // false
//	MatchTopic("zigbee2mqtt/#", "zigbee2mqtt/bridge/health")  // true
//
// Topics starting with '$' never match a filter that starts with a wildcard.
func MatchTopic(filter, topic string) bool {
	if strings.HasPrefix(topic, "$") && (strings.HasPrefix(filter, "+") || strings.HasPrefix(filter, "#")) {
		return false
	}

	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")

	for i, level := range f {
		if level == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}
