package sensor

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/zendure-tools/zendure-poller/internal/config"
	"github.com/zendure-tools/zendure-poller/internal/coordinator"
	"github.com/zendure-tools/zendure-poller/internal/logging"
)

// DeviceInfo describes the physical device the sensors belong to
type DeviceInfo struct {
	Identifier   string `json:"identifier"`
	Name         string `json:"name"`
	Model        string `json:"model"`
	Manufacturer string `json:"manufacturer"`
}

// NewDeviceInfo builds device info for a serial and model,
// e.g. "SolarFlow800 (2345)"
func NewDeviceInfo(serial, model string) DeviceInfo {
	return DeviceInfo{
		Identifier:   serial,
		Name:         fmt.Sprintf("%s (%s)", model, config.ShortSerial(serial)),
		Model:        model,
		Manufacturer: config.Manufacturer,
	}
}

// Sensor exposes one device property
type Sensor struct {
	UniqueID string
	Name     string
	Property string

	source *coordinator.Coordinator
}

// Value returns the property's last known value. It never fetches.
func (s *Sensor) Value() (any, bool) {
	return s.source.Property(s.Property)
}

// Available reports whether the last refresh succeeded
func (s *Sensor) Available() bool {
	return s.source.LastSuccess()
}

// Platform owns the sensors of one device
type Platform struct {
	Device DeviceInfo

	source     *coordinator.Coordinator
	translator *Translator
	listenerID coordinator.ListenerID
	onAdd      func(*Sensor)

	mu      sync.RWMutex
	sensors map[string]*Sensor
}

// NewPlatform creates sensors for every property of the coordinator's
// current snapshot and subscribes for properties that appear later.
// onAdd, if not nil, is called for every new sensor.
func NewPlatform(c *coordinator.Coordinator, info DeviceInfo, tr *Translator, onAdd func(*Sensor)) *Platform {
	if tr == nil {
		tr = DefaultTranslator()
	}
	p := &Platform{
		Device:     info,
		source:     c,
		translator: tr,
		onAdd:      onAdd,
		sensors:    make(map[string]*Sensor),
	}
	p.sync(c.Snapshot())
	p.listenerID = c.AddListener(coordinator.ListenerFunc(p.sync))
	return p
}

func (p *Platform) sync(s coordinator.Snapshot) {
	var added []*Sensor

	p.mu.Lock()
	for _, name := range s.Names() {
		if _, exists := p.sensors[name]; exists {
			continue
		}
		sensor := &Sensor{
			UniqueID: p.Device.Identifier + "-" + name,
			Name:     p.translator.Translate(name),
			Property: name,
			source:   p.source,
		}
		p.sensors[name] = sensor
		added = append(added, sensor)
	}
	p.mu.Unlock()

	for _, sensor := range added {
		logging.Debug("Sensor added",
			zap.String("unique_id", sensor.UniqueID),
			zap.String("name", sensor.Name),
		)
		if p.onAdd != nil {
			p.onAdd(sensor)
		}
	}
}

// Sensors returns all sensors sorted by property name
func (p *Platform) Sensors() []*Sensor {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*Sensor, 0, len(p.sensors))
	for _, s := range p.sensors {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Property < out[j].Property })
	return out
}

// Sensor returns the sensor of a property
func (p *Platform) Sensor(property string) (*Sensor, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sensors[property]
	return s, ok
}

// Close unsubscribes the platform from its coordinator
func (p *Platform) Close() {
	p.source.RemoveListener(p.listenerID)
}
