package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/zendure-tools/zendure-poller/internal/config"
	"github.com/zendure-tools/zendure-poller/internal/discovery"
	"github.com/zendure-tools/zendure-poller/internal/setup"
)

func resetDeviceFlags(t *testing.T) {
	t.Helper()
	serial, model, interval, timeout = "", config.ModelSolarFlow800, 0, 0
	t.Cleanup(func() {
		serial, model, interval, timeout = "", config.ModelSolarFlow800, 0, 0
	})
}

func registryWith(t *testing.T, entries ...*config.Entry) *config.Registry {
	t.Helper()
	reg := config.NewRegistry()
	for _, e := range entries {
		if err := reg.AddEntry(e); err != nil {
			t.Fatalf("AddEntry() error = %v", err)
		}
	}
	return reg
}

func TestSelectEntry(t *testing.T) {
	balcony := &config.Entry{Serial: "HOA12345", Model: config.ModelSolarFlow800, UpdateInterval: 15, Nickname: "Balcony"}
	garage := &config.Entry{Serial: "HOB67890", Model: config.ModelSolarFlow800}

	tests := []struct {
		name         string
		reg          *config.Registry
		serial       string
		interval     int
		wantSerial   string
		wantInterval time.Duration
		wantNickname string
		wantErr      string
	}{
		{
			name:         "configured serial keeps saved settings",
			reg:          registryWith(t, balcony, garage),
			serial:       "HOA12345",
			wantSerial:   "HOA12345",
			wantInterval: 15 * time.Second,
			wantNickname: "Balcony",
		},
		{
			name:         "unknown serial uses flags",
			reg:          registryWith(t),
			serial:       "HOC11111",
			wantSerial:   "HOC11111",
			wantInterval: 30 * time.Second,
		},
		{
			name:         "interval flag overrides and is clamped",
			reg:          registryWith(t, balcony),
			serial:       "HOA12345",
			interval:     3,
			wantSerial:   "HOA12345",
			wantInterval: 10 * time.Second,
			wantNickname: "Balcony",
		},
		{
			name:         "single configured entry is the default",
			reg:          registryWith(t, garage),
			wantSerial:   "HOB67890",
			wantInterval: 30 * time.Second,
		},
		{
			name:    "nothing configured",
			reg:     registryWith(t),
			wantErr: "no devices configured",
		},
		{
			name:    "ambiguous",
			reg:     registryWith(t, balcony, garage),
			wantErr: "pass --serial",
		},
		{
			name:    "invalid serial",
			reg:     registryWith(t),
			serial:  "HOA-1",
			wantErr: "invalid serial",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetDeviceFlags(t)
			serial, interval = tt.serial, tt.interval

			entry, err := selectEntry(tt.reg)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("selectEntry() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("selectEntry() error = %v", err)
			}
			if entry.Serial != tt.wantSerial {
				t.Errorf("Serial = %q, want %q", entry.Serial, tt.wantSerial)
			}
			if entry.Interval() != tt.wantInterval {
				t.Errorf("Interval() = %v, want %v", entry.Interval(), tt.wantInterval)
			}
			if entry.Nickname != tt.wantNickname {
				t.Errorf("Nickname = %q, want %q", entry.Nickname, tt.wantNickname)
			}
		})
	}
}

func TestSelectEntry_DoesNotMutateRegistry(t *testing.T) {
	resetDeviceFlags(t)
	reg := registryWith(t, &config.Entry{Serial: "HOA12345", Model: config.ModelSolarFlow800, UpdateInterval: 60})

	serial, interval = "HOA12345", 20
	if _, err := selectEntry(reg); err != nil {
		t.Fatalf("selectEntry() error = %v", err)
	}
	if got := reg.GetEntry("HOA12345").UpdateInterval; got != 60 {
		t.Errorf("saved UpdateInterval = %d, want 60", got)
	}
}

func TestRunEntries(t *testing.T) {
	resetDeviceFlags(t)
	reg := registryWith(t,
		&config.Entry{Serial: "HOB67890", Model: config.ModelSolarFlow800},
		&config.Entry{Serial: "HOA12345", Model: config.ModelSolarFlow800, UpdateInterval: 120},
	)

	entries, err := runEntries(reg)
	if err != nil {
		t.Fatalf("runEntries() error = %v", err)
	}
	if len(entries) != 2 || entries[0].Serial != "HOA12345" || entries[1].Serial != "HOB67890" {
		t.Fatalf("entries = %+v, want both in serial order", entries)
	}
	if entries[0].Interval() != 2*time.Minute {
		t.Errorf("Interval() = %v, want 2m", entries[0].Interval())
	}

	interval = 45
	entries, err = runEntries(reg)
	if err != nil {
		t.Fatalf("runEntries() error = %v", err)
	}
	for _, e := range entries {
		if e.Interval() != 45*time.Second {
			t.Errorf("%s Interval() = %v, want 45s", e.Serial, e.Interval())
		}
	}

	serial = "HOB67890"
	entries, err = runEntries(reg)
	if err != nil {
		t.Fatalf("runEntries() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Serial != "HOB67890" {
		t.Errorf("entries = %+v, want only HOB67890", entries)
	}

	resetDeviceFlags(t)
	if _, err := runEntries(registryWith(t)); err == nil {
		t.Error("runEntries() on an empty registry should fail")
	}
}

func TestSecondsOrDefault(t *testing.T) {
	if got := secondsOrDefault(0, 5*time.Second); got != 5*time.Second {
		t.Errorf("secondsOrDefault(0) = %v, want 5s", got)
	}
	if got := secondsOrDefault(12, 5*time.Second); got != 12*time.Second {
		t.Errorf("secondsOrDefault(12) = %v, want 12s", got)
	}
}

func TestDiffEntries(t *testing.T) {
	balcony := config.Entry{Serial: "HOA12345", Model: config.ModelSolarFlow800, UpdateInterval: 30, Nickname: "Balcony"}
	garage := config.Entry{Serial: "HOB67890", Model: config.ModelSolarFlow800}
	shed := config.Entry{Serial: "HOC11111", Model: config.ModelSolarFlow800}

	running := map[string]config.Entry{
		balcony.ID(): balcony,
		garage.ID():  garage,
	}

	slower := balcony
	slower.UpdateInterval = 60
	renamed := balcony
	renamed.Nickname = "Terrace"
	seen := balcony
	seen.LastIP = "192.168.1.50"
	seen.LastSeen = time.Now()
	defaulted := garage
	defaulted.UpdateInterval = config.DefaultUpdateInterval

	tests := []struct {
		name        string
		wanted      []config.Entry
		wantAdded   []string
		wantChanged []string
		wantRemoved []string
	}{
		{
			name:   "unchanged",
			wanted: []config.Entry{balcony, garage},
		},
		{
			name:      "added",
			wanted:    []config.Entry{balcony, garage, shed},
			wantAdded: []string{"HOC11111"},
		},
		{
			name:        "changed interval",
			wanted:      []config.Entry{slower, garage},
			wantChanged: []string{"HOA12345"},
		},
		{
			name:        "changed nickname",
			wanted:      []config.Entry{renamed, garage},
			wantChanged: []string{"HOA12345"},
		},
		{
			name:        "removed",
			wanted:      []config.Entry{garage},
			wantRemoved: []string{"HOA12345"},
		},
		{
			name:        "everything removed",
			wanted:      nil,
			wantRemoved: []string{"HOA12345", "HOB67890"},
		},
		{
			name:   "last seen fields are ignored",
			wanted: []config.Entry{seen, garage},
		},
		{
			name:   "same clamped interval",
			wanted: []config.Entry{balcony, defaulted},
		},
		{
			name:        "mixed",
			wanted:      []config.Entry{shed, slower},
			wantAdded:   []string{"HOC11111"},
			wantChanged: []string{"HOA12345"},
			wantRemoved: []string{"HOB67890"},
		},
	}

	ids := func(entries []config.Entry) []string {
		var out []string
		for _, e := range entries {
			out = append(out, e.ID())
		}
		return out
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := diffEntries(running, tt.wanted)
			if got := ids(diff.Added); !reflect.DeepEqual(got, tt.wantAdded) {
				t.Errorf("Added = %v, want %v", got, tt.wantAdded)
			}
			if got := ids(diff.Changed); !reflect.DeepEqual(got, tt.wantChanged) {
				t.Errorf("Changed = %v, want %v", got, tt.wantChanged)
			}
			if !reflect.DeepEqual(diff.Removed, tt.wantRemoved) {
				t.Errorf("Removed = %v, want %v", diff.Removed, tt.wantRemoved)
			}
			wantEmpty := tt.wantAdded == nil && tt.wantChanged == nil && tt.wantRemoved == nil
			if diff.empty() != wantEmpty {
				t.Errorf("empty() = %v, want %v", diff.empty(), wantEmpty)
			}
		})
	}
}

func TestEntryUpdate(t *testing.T) {
	intPtr := func(v int) *int { return &v }
	strPtr := func(v string) *string { return &v }

	tests := []struct {
		name         string
		update       entryUpdate
		id           string
		wantInterval int
		wantNickname string
		wantErr      string
	}{
		{
			name:         "interval",
			update:       entryUpdate{Interval: intPtr(60)},
			id:           "HOA12345",
			wantInterval: 60,
			wantNickname: "Balcony",
		},
		{
			name:         "interval is clamped",
			update:       entryUpdate{Interval: intPtr(5000)},
			id:           "HOA12345",
			wantInterval: config.MaxUpdateInterval,
			wantNickname: "Balcony",
		},
		{
			name:         "nickname",
			update:       entryUpdate{Nickname: strPtr("Terrace")},
			id:           "HOA12345",
			wantInterval: 15,
			wantNickname: "Terrace",
		},
		{
			name:         "empty nickname clears it",
			update:       entryUpdate{Nickname: strPtr("")},
			id:           "HOA12345",
			wantInterval: 15,
		},
		{
			name:    "unknown device",
			update:  entryUpdate{Interval: intPtr(60)},
			id:      "HOC11111",
			wantErr: "not configured",
		},
		{
			name:    "nothing to change",
			id:      "HOA12345",
			wantErr: "nothing to change",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := registryWith(t, &config.Entry{Serial: "HOA12345", Model: config.ModelSolarFlow800, UpdateInterval: 15, Nickname: "Balcony"})
			before := reg.GetEntry("HOA12345")

			entry, err := tt.update.apply(reg, tt.id)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("apply() error = %v, want %q", err, tt.wantErr)
				}
				if reg.GetEntry("HOA12345").UpdateInterval != 15 {
					t.Error("a failed update must not change the registry")
				}
				return
			}
			if err != nil {
				t.Fatalf("apply() error = %v", err)
			}
			if entry.UpdateInterval != tt.wantInterval || entry.Nickname != tt.wantNickname {
				t.Errorf("entry = %+v, want interval %d nickname %q", entry, tt.wantInterval, tt.wantNickname)
			}
			if saved := reg.GetEntry("HOA12345"); saved.UpdateInterval != tt.wantInterval || saved.Nickname != tt.wantNickname {
				t.Errorf("registry entry = %+v", saved)
			}
			if before.UpdateInterval != 15 || before.Nickname != "Balcony" {
				t.Error("apply() must store a copy, not edit the previous entry in place")
			}
		})
	}
}

type staticResolver struct {
	ep *discovery.Endpoint
}

func (r staticResolver) Resolve(ctx context.Context, q discovery.Query) (*discovery.Endpoint, error) {
	ep := *r.ep
	ep.Name = q.ExpectedName
	return &ep, nil
}

func newTestOrchestrator(t *testing.T) *setup.Orchestrator {
	t.Helper()
	dev := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"sn":"HOA12345","product":"solarFlow800","properties":{"electricLevel":87}}`))
	}))
	t.Cleanup(dev.Close)

	host, portStr, err := net.SplitHostPort(dev.Listener.Addr().String())
	if err != nil {
		t.Fatalf("SplitHostPort() error = %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	orch := setup.New(staticResolver{ep: &discovery.Endpoint{IP: host, Port: port}}, setup.Options{})
	t.Cleanup(func() { _ = orch.Close(context.Background()) })
	return orch
}

func TestDeviceRunner_Apply(t *testing.T) {
	orch := newTestOrchestrator(t)
	r := newDeviceRunner(orch, io.Discard, io.Discard)
	t.Cleanup(r.close)
	ctx := context.Background()

	balcony := config.Entry{Serial: "HOA12345", Model: config.ModelSolarFlow800, UpdateInterval: 30}
	garage := config.Entry{Serial: "HOB67890", Model: config.ModelSolarFlow800}

	diff := r.apply(ctx, []config.Entry{balcony, garage})
	r.wait()
	if len(diff.Added) != 2 {
		t.Fatalf("Added = %d entries, want 2", len(diff.Added))
	}
	if got := orch.IDs(); !reflect.DeepEqual(got, []string{"HOA12345", "HOB67890"}) {
		t.Fatalf("loaded = %v", got)
	}
	first, _ := orch.Get("HOA12345")

	balcony.UpdateInterval = 60
	diff = r.apply(ctx, []config.Entry{balcony})
	r.wait()
	if len(diff.Changed) != 1 || len(diff.Removed) != 1 {
		t.Fatalf("diff = %+v, want one changed and one removed", diff)
	}

	d, ok := orch.Get("HOA12345")
	if !ok {
		t.Fatal("changed device should be loaded again")
	}
	if d == first {
		t.Error("changed device should have been set up again")
	}
	if d.Coordinator.Interval() != time.Minute {
		t.Errorf("Interval() = %v, want 1m", d.Coordinator.Interval())
	}
	if first.Coordinator.ListenerCount() != 0 {
		t.Error("listeners of the replaced coordinator should be gone")
	}
	if _, ok := orch.Get("HOB67890"); ok {
		t.Error("removed device should be unloaded")
	}

	r.mu.Lock()
	platforms, entries := len(r.platform), len(r.entries)
	r.mu.Unlock()
	if platforms != 1 || entries != 1 {
		t.Errorf("runner tracks %d platforms and %d entries, want 1 each", platforms, entries)
	}

	if diff := r.apply(ctx, []config.Entry{balcony}); !diff.empty() {
		t.Errorf("unchanged entries gave diff %+v", diff)
	}

	r.apply(ctx, nil)
	r.wait()
	if got := orch.IDs(); len(got) != 0 {
		t.Errorf("loaded = %v, want none", got)
	}
}
