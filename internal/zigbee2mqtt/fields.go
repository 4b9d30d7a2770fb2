package zigbee2mqtt

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/common/model"

	"github.com/nerrad567/ziggy/internal/telemetry"
)

// DefaultFields are the info fields exported when configuration does not
// name any for a category. config has no defaults.
var DefaultFields = map[string][]string{
	"version":     {"version", "commit"},
	"coordinator": {"ieee_address", "type"},
	"network":     {"channel", "pan_id", "extended_pan_id"},
	"bridge":      {"log_level", "permit_join", "permit_join_end", "restart_required"},
	"os":          {"version", "node_version", "cpus", "memory_mb"},
	"mqtt":        {"server", "version"},
	"config":      {},
}

// ValidateFieldName reports whether name can be used as a classic
// Prometheus label name. Names starting with "__" are reserved.
func ValidateFieldName(name string) error {
	if !model.LabelName(name).IsValidLegacy() || strings.HasPrefix(name, "__") {
		return fmt.Errorf("%w: %q", ErrInvalidFieldName, name)
	}
	return nil
}

// FieldRegistry holds the enabled info fields per category. It is safe for
// concurrent use; the projection at commit time and API mutations may race.
type FieldRegistry struct {
	mu     sync.RWMutex
	fields map[string]map[string]struct{}
}

// NewFieldRegistry creates a registry from DefaultFields, with seed
// replacing the defaults of every category it names. An unknown category or
// invalid field name in seed is an error.
func NewFieldRegistry(seed map[string][]string) (*FieldRegistry, error) {
	r := &FieldRegistry{fields: make(map[string]map[string]struct{}, len(InfoCategories))}

	for _, cat := range InfoCategories {
		names := DefaultFields[cat]
		if override, ok := seed[cat]; ok {
			names = override
		}
		set := make(map[string]struct{}, len(names))
		for _, name := range names {
			if err := ValidateFieldName(name); err != nil {
				return nil, fmt.Errorf("fields.%s: %w", cat, err)
			}
			set[name] = struct{}{}
		}
		r.fields[cat] = set
	}

	for cat := range seed {
		if _, ok := r.fields[cat]; !ok {
			return nil, fmt.Errorf("fields: %w: %q", ErrUnknownCategory, cat)
		}
	}

	return r, nil
}

// Add enables field for category. It reports whether the set changed.
func (r *FieldRegistry) Add(category, field string) (bool, error) {
	if err := ValidateFieldName(field); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.fields[category]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	if _, exists := set[field]; exists {
		return false, nil
	}
	set[field] = struct{}{}
	return true, nil
}

// Remove disables field for category. Removing a field that is not enabled
// is not an error.
func (r *FieldRegistry) Remove(category, field string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.fields[category]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	if _, exists := set[field]; !exists {
		return false, nil
	}
	delete(set, field)
	return true, nil
}

// Enabled returns the sorted enabled fields for category, or nil for an
// unknown category.
func (r *FieldRegistry) Enabled(category string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.fields[category]
	if !ok {
		return nil
	}
	return sortedKeys(set)
}

// Snapshot returns a copy of every category's enabled fields.
func (r *FieldRegistry) Snapshot() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string, len(r.fields))
	for cat, set := range r.fields {
		out[cat] = sortedKeys(set)
	}
	return out
}

// Project selects the enabled fields present in values as labels, sorted
// by name.
func (r *FieldRegistry) Project(category string, values map[string]string) []telemetry.Label {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var labels []telemetry.Label
	for name := range r.fields[category] {
		if v, ok := values[name]; ok {
			labels = append(labels, telemetry.Label{Name: name, Value: v})
		}
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })
	return labels
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
