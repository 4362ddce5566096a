package coordinator

import (
	"sort"
	"time"
)

// Snapshot is the immutable result of one poll cycle.
//
// When Success is false, Properties holds the map of the most recent
// successful cycle, or is empty if there never was one. Properties is shared
// between snapshots and must not be modified.
type Snapshot struct {
	Properties map[string]any `json:"properties"`
	FetchedAt  time.Time      `json:"fetched_at"`
	Success    bool           `json:"success"`
}

// Get returns the value of a property
func (s Snapshot) Get(name string) (any, bool) {
	v, ok := s.Properties[name]
	return v, ok
}

// Names returns the property names in sorted order
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsZero reports whether no poll cycle has run yet
func (s Snapshot) IsZero() bool {
	return s.FetchedAt.IsZero()
}

// Stale reports whether the snapshot holds data from an earlier cycle
func (s Snapshot) Stale() bool {
	return !s.Success && len(s.Properties) > 0
}

func emptySnapshot() *Snapshot {
	return &Snapshot{Properties: map[string]any{}}
}

func copyProperties(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
