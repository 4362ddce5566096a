package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestGetConfigDir(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG layout is only used on Linux")
	}

	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}
	if configDir != filepath.Join("/tmp/xdg", "zendure") {
		t.Errorf("GetConfigDir() = %v, want /tmp/xdg/zendure", configDir)
	}

	t.Setenv("XDG_CONFIG_HOME", "")
	configDir, err = GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}
	if !strings.Contains(configDir, ".config") {
		t.Errorf("Unix config dir should contain '.config', got: %v", configDir)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "")
	configPath, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}
	if filepath.Base(configPath) != "config.yaml" {
		t.Errorf("GetConfigPath() should end with 'config.yaml', got: %v", configPath)
	}

	t.Setenv(ConfigPathEnvVar, "/etc/zendure.yaml")
	configPath, err = GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}
	if configPath != "/etc/zendure.yaml" {
		t.Errorf("GetConfigPath() = %v, want the %s override", configPath, ConfigPathEnvVar)
	}
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()

	if reg.Version != 1 {
		t.Errorf("NewRegistry().Version = %v, want 1", reg.Version)
	}
	if reg.Entries == nil {
		t.Error("NewRegistry().Entries should not be nil")
	}
	if reg.Preferences == nil {
		t.Fatal("NewRegistry().Preferences should not be nil")
	}
	if reg.Preferences.DiscoverTimeout != DefaultDiscoverTimeout {
		t.Errorf("DiscoverTimeout = %v, want %v", reg.Preferences.DiscoverTimeout, DefaultDiscoverTimeout)
	}
	if reg.Preferences.ReportPath != "/" {
		t.Errorf("ReportPath = %q, want /", reg.Preferences.ReportPath)
	}
}

func TestRegistryAddEntry(t *testing.T) {
	reg := NewRegistry()

	if err := reg.AddEntry(&Entry{Serial: " HOA12345 ", Model: "solarflow800"}); err != nil {
		t.Fatalf("AddEntry() error = %v", err)
	}

	entry := reg.GetEntry("HOA12345")
	if entry == nil {
		t.Fatal("entry should be registered under its trimmed serial")
	}
	if entry.Model != ModelSolarFlow800 {
		t.Errorf("Model = %q, want canonical %q", entry.Model, ModelSolarFlow800)
	}

	err := reg.AddEntry(&Entry{Serial: "HOA12345", Model: ModelSolarFlow800})
	if !errors.Is(err, ErrDuplicateEntry) {
		t.Errorf("second AddEntry() error = %v, want ErrDuplicateEntry", err)
	}
}

func TestRegistryRemoveEntry(t *testing.T) {
	reg := NewRegistry()
	_ = reg.AddEntry(&Entry{Serial: "B2", Model: ModelSolarFlow800})
	_ = reg.AddEntry(&Entry{Serial: "A1", Model: ModelSolarFlow800})

	ids := reg.EntryIDs()
	if len(ids) != 2 || ids[0] != "A1" || ids[1] != "B2" {
		t.Errorf("EntryIDs() = %v, want [A1 B2]", ids)
	}

	if !reg.RemoveEntry("A1") {
		t.Error("RemoveEntry() = false for an existing entry")
	}
	if reg.RemoveEntry("A1") {
		t.Error("RemoveEntry() = true for a removed entry")
	}
}

func TestRegistryUpdateEntryLastSeen(t *testing.T) {
	reg := NewRegistry()
	_ = reg.AddEntry(&Entry{Serial: "HOA12345", Model: ModelSolarFlow800})

	before := time.Now()
	reg.UpdateEntryLastSeen("HOA12345", "192.168.1.50")
	after := time.Now()

	entry := reg.GetEntry("HOA12345")
	if entry.LastIP != "192.168.1.50" {
		t.Errorf("LastIP = %v, want 192.168.1.50", entry.LastIP)
	}
	if entry.LastSeen.Before(before) || entry.LastSeen.After(after) {
		t.Errorf("LastSeen = %v, should be between %v and %v", entry.LastSeen, before, after)
	}

	// Unknown ids are ignored
	reg.UpdateEntryLastSeen("missing", "10.0.0.1")
	if reg.GetEntry("missing") != nil {
		t.Error("UpdateEntryLastSeen() must not create entries")
	}
}

func TestRegistrySaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	reg := NewRegistry()
	if err := reg.AddEntry(&Entry{Serial: "HOA12345", Model: ModelSolarFlow800, UpdateInterval: 45, Nickname: "Balcony"}); err != nil {
		t.Fatalf("AddEntry() error = %v", err)
	}
	reg.Preferences.Listen = ":8080"

	if err := reg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() error = %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file should not remain after save")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := LoadRegistryFrom(path)
	if err != nil {
		t.Fatalf("LoadRegistryFrom() error = %v", err)
	}

	entry := loaded.GetEntry("HOA12345")
	if entry == nil {
		t.Fatal("entry should exist in loaded registry")
	}
	if entry.UpdateInterval != 45 || entry.Nickname != "Balcony" {
		t.Errorf("loaded entry = %+v", entry)
	}
	if loaded.Preferences.Listen != ":8080" {
		t.Errorf("Listen = %q, want :8080", loaded.Preferences.Listen)
	}
}

func TestUpdateLastSeen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	stale := NewRegistry()
	if err := stale.AddEntry(&Entry{Serial: "HOA12345", Model: ModelSolarFlow800, UpdateInterval: 30}); err != nil {
		t.Fatalf("AddEntry() error = %v", err)
	}
	if err := stale.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() error = %v", err)
	}

	// Saved by another command after the stale copy was loaded.
	edited := NewRegistry()
	if err := edited.AddEntry(&Entry{Serial: "HOA12345", Model: ModelSolarFlow800, UpdateInterval: 60, Nickname: "Garage"}); err != nil {
		t.Fatalf("AddEntry() error = %v", err)
	}
	if err := edited.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() error = %v", err)
	}

	if err := UpdateLastSeen(path, "HOA12345", "192.168.1.50"); err != nil {
		t.Fatalf("UpdateLastSeen() error = %v", err)
	}
	if err := UpdateLastSeen(path, "missing", "10.0.0.1"); err != nil {
		t.Fatalf("UpdateLastSeen() for an unknown id error = %v", err)
	}

	loaded, err := LoadRegistryFrom(path)
	if err != nil {
		t.Fatalf("LoadRegistryFrom() error = %v", err)
	}
	entry := loaded.GetEntry("HOA12345")
	if entry == nil {
		t.Fatal("entry should exist")
	}
	if entry.LastIP != "192.168.1.50" || entry.LastSeen.IsZero() {
		t.Errorf("LastIP = %q, LastSeen = %v", entry.LastIP, entry.LastSeen)
	}
	if entry.UpdateInterval != 60 || entry.Nickname != "Garage" {
		t.Errorf("UpdateLastSeen() dropped a concurrent edit: %+v", entry)
	}
	if loaded.GetEntry("missing") != nil {
		t.Error("UpdateLastSeen() must not create entries")
	}
}

func TestLoadRegistryFrom_Missing(t *testing.T) {
	reg, err := LoadRegistryFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadRegistryFrom() error = %v", err)
	}
	if len(reg.Entries) != 0 || reg.Version != 1 {
		t.Errorf("missing file should yield a default registry, got %+v", reg)
	}
}

func TestLoadRegistryFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "wrong version",
			yaml: "version: 2\n",
		},
		{
			name: "not yaml",
			yaml: "version: [1\n",
		},
		{
			name: "unsupported model",
			yaml: "version: 1\nentries:\n  HOA1:\n    serial: HOA1\n    model: Hyper2000\n",
		},
		{
			name: "key does not match serial",
			yaml: "version: 1\nentries:\n  HOA1:\n    serial: HOA2\n    model: SolarFlow800\n",
		},
		{
			name: "empty entry",
			yaml: "version: 1\nentries:\n  HOA1:\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0600); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}
			if _, err := LoadRegistryFrom(path); err == nil {
				t.Error("LoadRegistryFrom() error = nil, want failure")
			}
		})
	}
}

func TestLoadRegistryFrom_DefaultsPreferences(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "version: 1\nentries:\n  HOA1:\n    serial: HOA1\n    model: SolarFlow800\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	reg, err := LoadRegistryFrom(path)
	if err != nil {
		t.Fatalf("LoadRegistryFrom() error = %v", err)
	}
	if reg.Preferences == nil || reg.Preferences.DiscoverTimeout != DefaultDiscoverTimeout {
		t.Errorf("Preferences = %+v, want defaults", reg.Preferences)
	}
	if reg.GetEntry("HOA1").Interval() != 30*time.Second {
		t.Errorf("Interval() = %v, want default 30s", reg.GetEntry("HOA1").Interval())
	}
}
