package device

import "time"

// EvictionPolicy decides whether a record should be dropped from the tracker.
type EvictionPolicy interface {
	Expired(rec Record, now time.Time) bool
}

// NeverEvict keeps every device for the life of the process.
type NeverEvict struct{}

// Expired always reports false.
func (NeverEvict) Expired(Record, time.Time) bool { return false }

// TTLEviction drops devices whose last report is older than TTL.
type TTLEviction struct {
	TTL time.Duration
}

// Expired reports whether rec was last seen more than TTL before now.
func (p TTLEviction) Expired(rec Record, now time.Time) bool {
	if p.TTL <= 0 {
		return false
	}
	return now.Sub(rec.LastSeen) > p.TTL
}

// PolicyForTTL returns TTLEviction for a positive ttl and NeverEvict otherwise.
func PolicyForTTL(ttl time.Duration) EvictionPolicy {
	if ttl <= 0 {
		return NeverEvict{}
	}
	return TTLEviction{TTL: ttl}
}
