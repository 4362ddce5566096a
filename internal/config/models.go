package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	// ModelSolarFlow800 is the only supported device model
	ModelSolarFlow800 = "SolarFlow800"

	// Manufacturer is reported in device info
	Manufacturer = "Zendure"

	// DefaultUpdateInterval is the polling interval in seconds when none is set
	DefaultUpdateInterval = 30

	// MinUpdateInterval is the shortest accepted polling interval in seconds
	MinUpdateInterval = 10

	// MaxUpdateInterval is the longest accepted polling interval in seconds
	MaxUpdateInterval = 600

	// DefaultDiscoverTimeout is the mDNS resolve timeout in seconds
	DefaultDiscoverTimeout = 5

	// DefaultReportPath is the HTTP path the device report is fetched from
	DefaultReportPath = "/"
)

// SupportedModels lists the models an Entry may name
var SupportedModels = []string{ModelSolarFlow800}

var (
	// ErrInvalidSerial is returned for an empty or malformed serial number
	ErrInvalidSerial = errors.New("invalid serial number")

	// ErrUnsupportedModel is returned for a model outside SupportedModels
	ErrUnsupportedModel = errors.New("unsupported model")

	// ErrDuplicateEntry is returned when an entry for the serial already exists
	ErrDuplicateEntry = errors.New("device already configured")
)

// Registry represents the entire user configuration file.
type Registry struct {
	Version     int               `yaml:"version"`
	Entries     map[string]*Entry `yaml:"entries,omitempty"` // Keyed by Entry.ID()
	Preferences *Preferences      `yaml:"preferences,omitempty"`
}

// Entry describes one device to discover and poll.
type Entry struct {
	Serial         string    `yaml:"serial"`
	Model          string    `yaml:"model"`
	UpdateInterval int       `yaml:"update_interval,omitempty"` // Seconds, clamped to [10, 600]
	Nickname       string    `yaml:"nickname,omitempty"`        // User-friendly name
	LastIP         string    `yaml:"last_ip,omitempty"`         // Last resolved IP address
	LastSeen       time.Time `yaml:"last_seen,omitempty"`       // Last successful setup
}

// Preferences represents application-wide user preferences.
type Preferences struct {
	DiscoverTimeout int    `yaml:"discover_timeout"`      // mDNS resolve timeout in seconds
	ReportPath      string `yaml:"report_path,omitempty"` // HTTP path of the device report
	Listen          string `yaml:"listen,omitempty"`      // Status server address, empty disables it
	RedisURL        string `yaml:"redis_url,omitempty"`   // Snapshot mirror, empty disables it
}

// NewRegistry creates a new Registry with default values.
func NewRegistry() *Registry {
	return &Registry{
		Version:     1,
		Entries:     make(map[string]*Entry),
		Preferences: DefaultPreferences(),
	}
}

// DefaultPreferences returns the preferences used when the file has none.
func DefaultPreferences() *Preferences {
	return &Preferences{
		DiscoverTimeout: DefaultDiscoverTimeout,
		ReportPath:      DefaultReportPath,
	}
}

// ClampUpdateInterval bounds seconds to [MinUpdateInterval, MaxUpdateInterval].
// Zero or negative selects DefaultUpdateInterval.
func ClampUpdateInterval(seconds int) int {
	switch {
	case seconds <= 0:
		return DefaultUpdateInterval
	case seconds < MinUpdateInterval:
		return MinUpdateInterval
	case seconds > MaxUpdateInterval:
		return MaxUpdateInterval
	default:
		return seconds
	}
}

// NormalizeModel returns the canonical spelling of a supported model.
func NormalizeModel(model string) (string, error) {
	for _, m := range SupportedModels {
		if strings.EqualFold(m, strings.TrimSpace(model)) {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedModel, model, strings.Join(SupportedModels, ", "))
}

// Validate checks the entry and normalizes its model spelling.
func (e *Entry) Validate() error {
	e.Serial = strings.TrimSpace(e.Serial)
	if e.Serial == "" {
		return fmt.Errorf("%w: serial is required", ErrInvalidSerial)
	}
	for _, r := range e.Serial {
		if !(r >= '0' && r <= '9' || r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z') {
			return fmt.Errorf("%w: %q must be alphanumeric", ErrInvalidSerial, e.Serial)
		}
	}

	model, err := NormalizeModel(e.Model)
	if err != nil {
		return err
	}
	e.Model = model

	return nil
}

// ID returns the key the entry is registered under. One entry per serial.
func (e *Entry) ID() string {
	return e.Serial
}

// Interval returns the clamped polling interval.
func (e *Entry) Interval() time.Duration {
	return time.Duration(ClampUpdateInterval(e.UpdateInterval)) * time.Second
}

// Title returns the display title, e.g. "SolarFlow800 (2345)".
func (e *Entry) Title() string {
	if e.Nickname != "" {
		return e.Nickname
	}
	return fmt.Sprintf("%s (%s)", e.Model, ShortSerial(e.Serial))
}

// ShortSerial returns the last four characters of a serial number.
func ShortSerial(serial string) string {
	if len(serial) <= 4 {
		return serial
	}
	return serial[len(serial)-4:]
}

// DiscoverTimeoutDuration returns the resolve timeout as a duration.
func (p *Preferences) DiscoverTimeoutDuration() time.Duration {
	if p == nil || p.DiscoverTimeout <= 0 {
		return DefaultDiscoverTimeout * time.Second
	}
	return time.Duration(p.DiscoverTimeout) * time.Second
}

// GetEntry retrieves an entry by id.
// Returns nil if the entry doesn't exist in the registry.
func (r *Registry) GetEntry(id string) *Entry {
	return r.Entries[id]
}

// AddEntry validates e and adds it. A second entry for the same serial is rejected.
func (r *Registry) AddEntry(e *Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if r.Entries == nil {
		r.Entries = make(map[string]*Entry)
	}
	if _, exists := r.Entries[e.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, e.ID())
	}
	r.Entries[e.ID()] = e
	return nil
}

// RemoveEntry deletes an entry. It reports whether the entry existed.
func (r *Registry) RemoveEntry(id string) bool {
	if _, exists := r.Entries[id]; !exists {
		return false
	}
	delete(r.Entries, id)
	return true
}

// EntryIDs returns the configured entry ids in sorted order.
func (r *Registry) EntryIDs() []string {
	ids := make([]string, 0, len(r.Entries))
	for id := range r.Entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UpdateEntryLastSeen records the address an entry was last resolved to.
func (r *Registry) UpdateEntryLastSeen(id, ip string) {
	entry := r.Entries[id]
	if entry == nil {
		return
	}
	entry.LastSeen = time.Now()
	entry.LastIP = ip
}
