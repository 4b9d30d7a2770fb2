package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/ziggy/internal/device"
)

// Store holds the live bridge telemetry: one sample set per payload
// category plus the device activity tracker.
//
// Store implements prometheus.Collector as an unchecked collector (Describe
// sends nothing) because bridge info families carry a label set chosen at
// render time.
//
// Thread Safety:
//   - Update takes the exclusive lock for the whole callback.
//   - Collect, Samples, Devices take the shared lock and return copies.
type Store struct {
	bridgeName string

	mu       sync.RWMutex
	families map[string]Family
	sets     map[string][]Sample
	devices  *device.Tracker
}

// NewStore creates an empty store. A nil tracker gets a NeverEvict tracker.
func NewStore(bridgeName string, tracker *device.Tracker) *Store {
	if tracker == nil {
		tracker = device.NewTracker(nil)
	}
	s := &Store{
		bridgeName: bridgeName,
		families:   make(map[string]Family, len(builtinFamilies)),
		sets:       make(map[string][]Sample),
		devices:    tracker,
	}
	for _, f := range builtinFamilies {
		s.families[f.Name] = f
	}
	return s
}

// BridgeName returns the value of the bridge_name label.
func (s *Store) BridgeName() string {
	return s.bridgeName
}

// Register adds a family. Registering an existing name replaces it.
func (s *Store) Register(f Family) {
	s.mu.Lock()
	s.families[f.Name] = f
	s.mu.Unlock()
}

// Tx is the write handle passed to Update callbacks. It is only valid
// inside the callback. Sample set changes are staged and only swapped in
// when the whole callback succeeds.
type Tx struct {
	s      *Store
	staged map[string][]Sample // nil value marks a cleared set
	err    error
}

// Replace stages category's sample set wholesale. Samples are validated
// first; on error nothing is staged and the error is returned (and
// remembered for Update's result).
func (tx *Tx) Replace(category string, samples []Sample) error {
	if err := tx.s.validate(samples); err != nil {
		if tx.err == nil {
			tx.err = err
		}
		return err
	}

	set := make([]Sample, len(samples))
	for i, smp := range samples {
		set[i] = smp.clone()
	}
	tx.staged[category] = set
	return nil
}

// Clear stages the removal of category's sample set.
func (tx *Tx) Clear(category string) {
	tx.staged[category] = nil
}

// Devices returns the tracker for in-transaction updates. Tracker changes
// are applied immediately, so callers validate observations before making
// them.
func (tx *Tx) Devices() *device.Tracker {
	return tx.s.devices
}

// Update runs fn under the exclusive lock. When fn returns nil and no
// Replace failed, every staged set is swapped in at once; otherwise the
// staged sets are discarded and the first error is returned.
func (s *Store) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{s: s, staged: make(map[string][]Sample)}
	if err := fn(tx); err != nil {
		return err
	}
	if tx.err != nil {
		return tx.err
	}

	for category, set := range tx.staged {
		if set == nil {
			delete(s.sets, category)
			continue
		}
		s.sets[category] = set
	}
	return nil
}

// validate checks that every sample names a known family with matching
// labels and that no label set repeats. Caller holds the write lock.
func (s *Store) validate(samples []Sample) error {
	seen := make(map[string]struct{}, len(samples))
	for _, smp := range samples {
		fam, ok := s.families[smp.Name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownFamily, smp.Name)
		}
		if fam.Labels != nil {
			if len(fam.Labels) != len(smp.Labels) {
				return fmt.Errorf("%w: %s", ErrLabelMismatch, smp.Name)
			}
			for i, name := range fam.Labels {
				if smp.Labels[i].Name != name {
					return fmt.Errorf("%w: %s wants %q at %d", ErrLabelMismatch, smp.Name, name, i)
				}
			}
		}

		key := seriesKey(smp)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateSeries, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func seriesKey(smp Sample) string {
	var b strings.Builder
	b.WriteString(smp.Name)
	labels := append([]Label(nil), smp.Labels...)
	sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })
	for _, l := range labels {
		b.WriteByte(0xff)
		b.WriteString(l.Name)
		b.WriteByte('=')
		b.WriteString(l.Value)
	}
	return b.String()
}

// Samples returns a copy of the current sample set for category.
func (s *Store) Samples(category string) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.sets[category]
	out := make([]Sample, len(set))
	for i, smp := range set {
		out[i] = smp.clone()
	}
	return out
}

// Devices returns a copy of all device activity records ordered by ID.
func (s *Store) Devices() []device.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devices.Snapshot()
}

// Families returns the registered bridge families ordered by name.
func (s *Store) Families() []Family {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Family, 0, len(s.families))
	for _, f := range s.families {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Device returns a copy of the activity record for id.
func (s *Store) Device(id string) (device.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devices.Get(id)
}

// DeviceCount returns the number of tracked devices.
func (s *Store) DeviceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devices.Len()
}

// EvictDevices applies the tracker's eviction policy.
func (s *Store) EvictDevices(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devices.Evict(now)
}

// Describe implements prometheus.Collector. It sends nothing, which makes
// Store an unchecked collector.
func (s *Store) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (s *Store) Collect(ch chan<- prometheus.Metric) {
	for _, m := range s.snapshot() {
		ch <- m
	}
}

// snapshot builds const metrics for every sample and device under the read lock.
func (s *Store) snapshot() []prometheus.Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]string, 0, len(s.sets))
	for c := range s.sets {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var out []prometheus.Metric
	for _, c := range categories {
		for _, smp := range s.sets[c] {
			if m, ok := s.constMetric(smp); ok {
				out = append(out, m)
			}
		}
	}

	for _, smp := range s.deviceSamples() {
		if m, ok := s.constMetric(smp); ok {
			out = append(out, m)
		}
	}
	return out
}

// deviceSamples renders tracker records. Caller holds the read lock.
func (s *Store) deviceSamples() []Sample {
	records := s.devices.Snapshot()
	out := make([]Sample, 0, len(records)*6+1)
	for _, rec := range records {
		labels := []Label{{LabelBridgeName, s.bridgeName}, {LabelDevice, rec.ID}}
		out = append(out,
			Sample{Name: FamilyDeviceLeaveCount, Labels: labels, Value: float64(rec.LeaveCount)},
			Sample{Name: FamilyDeviceAddressChanges, Labels: labels, Value: float64(rec.NetworkAddressChanges)},
			Sample{Name: FamilyDeviceMessages, Labels: labels, Value: float64(rec.MessageCount)},
			Sample{Name: FamilyDeviceMessagesPerSec, Labels: labels, Value: rec.MessagesPerSec},
			Sample{Name: FamilyDeviceAppearances, Labels: labels, Value: float64(rec.AppearancesTotal)},
			Sample{Name: FamilyDeviceLastSeen, Labels: labels, Value: UnixSeconds(rec.LastSeen)},
		)
	}
	out = append(out, Sample{
		Name:   FamilyDevicesTracked,
		Labels: []Label{{LabelBridgeName, s.bridgeName}},
		Value:  float64(s.devices.Len()),
	})
	return out
}

// constMetric converts a sample. Invalid samples are skipped so one bad
// series cannot fail the whole scrape.
func (s *Store) constMetric(smp Sample) (prometheus.Metric, bool) {
	fam, ok := s.families[smp.Name]
	if !ok {
		return nil, false
	}

	names := make([]string, len(smp.Labels))
	values := make([]string, len(smp.Labels))
	for i, l := range smp.Labels {
		names[i] = l.Name
		values[i] = l.Value
	}

	desc := prometheus.NewDesc(fam.Name, fam.Help, names, nil)
	m, err := prometheus.NewConstMetric(desc, fam.Type, smp.Value, values...)
	if err != nil {
		return nil, false
	}
	return m, true
}

// UnixSeconds converts t to fractional Unix seconds; the zero time maps to 0.
func UnixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}
