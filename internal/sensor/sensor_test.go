package sensor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/zendure-tools/zendure-poller/internal/coordinator"
)

// stepFetcher returns the next scripted property map on each call
type stepFetcher struct {
	mu    sync.Mutex
	steps []map[string]any
	errs  []error
	i     int
}

func (f *stepFetcher) Fetch(ctx context.Context) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.i
	f.i++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return f.steps[i], nil
}

func TestNewDeviceInfo(t *testing.T) {
	info := NewDeviceInfo("HOA12345", "SolarFlow800")

	if info.Identifier != "HOA12345" {
		t.Errorf("Identifier = %q", info.Identifier)
	}
	if info.Name != "SolarFlow800 (2345)" {
		t.Errorf("Name = %q, want SolarFlow800 (2345)", info.Name)
	}
	if info.Manufacturer != "Zendure" {
		t.Errorf("Manufacturer = %q, want Zendure", info.Manufacturer)
	}
}

func TestPlatform(t *testing.T) {
	fetcher := &stepFetcher{
		steps: []map[string]any{
			{"electricLevel": int64(87), "outputHomePower": int64(312)},
			nil,
			{"electricLevel": int64(86), "outputHomePower": int64(300), "hyperTmp": 2981.5},
		},
		errs: []error{nil, errors.New("unreachable"), nil},
	}
	c := coordinator.New("test", fetcher, coordinator.Options{})
	if err := c.RefreshNow(context.Background()); err != nil {
		t.Fatalf("RefreshNow() error = %v", err)
	}

	var added []string
	p := NewPlatform(c, NewDeviceInfo("HOA12345", "SolarFlow800"), nil, func(s *Sensor) {
		added = append(added, s.Property)
	})
	defer p.Close()

	if len(p.Sensors()) != 2 {
		t.Fatalf("len(Sensors()) = %d, want 2 from the first snapshot", len(p.Sensors()))
	}
	if len(added) != 2 || added[0] != "electricLevel" || added[1] != "outputHomePower" {
		t.Errorf("onAdd calls = %v, want sorted property names", added)
	}

	level, ok := p.Sensor("electricLevel")
	if !ok {
		t.Fatal("electricLevel sensor missing")
	}
	if level.UniqueID != "HOA12345-electricLevel" {
		t.Errorf("UniqueID = %q", level.UniqueID)
	}
	if level.Name != "electric Füllstand" {
		t.Errorf("Name = %q", level.Name)
	}

	// Failed refresh: values stay, availability drops
	_ = c.RefreshNow(context.Background())
	if v, _ := level.Value(); v != int64(87) {
		t.Errorf("Value() after failure = %v, want stale 87", v)
	}
	if level.Available() {
		t.Error("Available() should be false after a failed refresh")
	}

	// A new property appears
	if err := c.RefreshNow(context.Background()); err != nil {
		t.Fatalf("RefreshNow() error = %v", err)
	}
	if _, ok := p.Sensor("hyperTmp"); !ok {
		t.Error("sensor for a late property should be added")
	}
	if len(added) != 3 {
		t.Errorf("onAdd calls = %d, want 3", len(added))
	}
	if v, _ := level.Value(); v != int64(86) {
		t.Errorf("Value() = %v, want 86", v)
	}
	if !level.Available() {
		t.Error("Available() should be true after a successful refresh")
	}
}

func TestPlatform_Close(t *testing.T) {
	c := coordinator.New("test", &stepFetcher{steps: []map[string]any{{"a": int64(1)}}}, coordinator.Options{})

	p := NewPlatform(c, NewDeviceInfo("HOA12345", "SolarFlow800"), nil, nil)
	if c.ListenerCount() != 1 {
		t.Fatalf("ListenerCount() = %d, want 1", c.ListenerCount())
	}
	if len(p.Sensors()) != 0 {
		t.Errorf("no sensors expected before the first refresh, got %d", len(p.Sensors()))
	}

	p.Close()
	if c.ListenerCount() != 0 {
		t.Errorf("ListenerCount() = %d after Close, want 0", c.ListenerCount())
	}
}
