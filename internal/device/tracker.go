package device

import (
	"sort"
	"time"
)

// Record is the activity state kept for one device.
type Record struct {
	ID           string `json:"id"`
	FriendlyName string `json:"friendly_name,omitempty"`

	// Bridge-reported point-in-time counters.
	LeaveCount            uint64 `json:"leave_count"`
	NetworkAddressChanges uint64 `json:"network_address_changes"`
	MessageCount          uint64 `json:"message_count"`

	// MessagesPerSec is derived from consecutive MessageCount observations.
	MessagesPerSec float64 `json:"messages_per_sec"`

	// AppearancesTotal counts health reports listing this device. Never decreases.
	AppearancesTotal uint64 `json:"appearances_total"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Observation is one device entry from a bridge health report.
// Nil counters were absent from the payload and leave the record untouched.
type Observation struct {
	ID                    string
	FriendlyName          string
	LeaveCount            *uint64
	NetworkAddressChanges *uint64
	Messages              *uint64
}

// Tracker maintains activity records keyed by normalised device ID.
// See the package documentation for the concurrency contract.
type Tracker struct {
	records map[string]*Record
	policy  EvictionPolicy
}

// NewTracker creates an empty tracker. A nil policy means NeverEvict.
func NewTracker(policy EvictionPolicy) *Tracker {
	if policy == nil {
		policy = NeverEvict{}
	}
	return &Tracker{
		records: make(map[string]*Record),
		policy:  policy,
	}
}

// Observe applies one device observation taken at the given payload time
// and returns a copy of the updated record.
//
// The rate is (messages - previous messages) / (at - last_seen). When the
// elapsed time is not positive the previous rate is kept. A message count
// lower than the previous one (the bridge restarted and reset its
// counters) is handled the same way, so the rate is never negative.
// last_seen is updated last.
func (t *Tracker) Observe(obs Observation, at time.Time) (Record, error) {
	if obs.ID == "" {
		return Record{}, ErrInvalidID
	}

	rec, ok := t.records[obs.ID]
	if !ok {
		rec = &Record{ID: obs.ID, FirstSeen: at}
		t.records[obs.ID] = rec
	} else if obs.Messages != nil {
		elapsed := at.Sub(rec.LastSeen).Seconds()
		if elapsed > 0 && *obs.Messages >= rec.MessageCount {
			rec.MessagesPerSec = float64(*obs.Messages-rec.MessageCount) / elapsed
		}
	}

	if obs.FriendlyName != "" {
		rec.FriendlyName = obs.FriendlyName
	}
	if obs.LeaveCount != nil {
		rec.LeaveCount = *obs.LeaveCount
	}
	if obs.NetworkAddressChanges != nil {
		rec.NetworkAddressChanges = *obs.NetworkAddressChanges
	}
	if obs.Messages != nil {
		rec.MessageCount = *obs.Messages
	}
	rec.AppearancesTotal++
	rec.LastSeen = at

	return *rec, nil
}

// Get returns a copy of the record for id.
func (t *Tracker) Get(id string) (Record, bool) {
	rec, ok := t.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Len returns the number of tracked devices.
func (t *Tracker) Len() int {
	return len(t.records)
}

// Snapshot returns copies of all records ordered by ID.
func (t *Tracker) Snapshot() []Record {
	out := make([]Record, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Evict removes every record the policy reports as expired and returns
// their IDs in sorted order.
func (t *Tracker) Evict(now time.Time) []string {
	var evicted []string
	for id, rec := range t.records {
		if t.policy.Expired(*rec, now) {
			delete(t.records, id)
			evicted = append(evicted, id)
		}
	}
	sort.Strings(evicted)
	return evicted
}
