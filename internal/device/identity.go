package device

import (
	"strings"
)

// ieeeHexDigits is the length of an IEEE 802.15.4 extended address in hex.
const ieeeHexDigits = 16

// NormalizeID returns the tracker key for a device entry.
//
// ieee is the entry's explicit ieee_address (may be empty); raw is the key
// the entry was listed under. The IEEE address wins when it parses, so a
// rename never forks a device into two records.
func NormalizeID(ieee, raw string) (string, error) {
	if id, ok := canonicalIEEE(ieee); ok {
		return id, nil
	}
	if id, ok := canonicalIEEE(raw); ok {
		return id, nil
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidID
	}
	return raw, nil
}

// canonicalIEEE lower-cases an IEEE address and ensures the "0x" prefix.
func canonicalIEEE(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")
	if len(s) != ieeeHexDigits {
		return "", false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return "", false
		}
	}
	return "0x" + s, true
}
