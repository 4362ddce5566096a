// Package config manages the zendure-poller configuration file.
//
// The file is YAML and holds one Entry per configured device plus a few
// application preferences. An entry is what the poller needs to find and
// poll a device: its serial number, its model and the update interval.
//
// # Configuration File Location
//
//   - Linux: $XDG_CONFIG_HOME/zendure/config.yaml or $HOME/.config/zendure/config.yaml
//   - macOS: $HOME/.config/zendure/config.yaml
//   - Windows: %LOCALAPPDATA%\zendure\config.yaml
//
// # Usage Example
//
//	registry, err := config.LoadRegistry()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	entry := &config.Entry{Serial: "HOA1B2C3", Model: config.ModelSolarFlow800}
//	if err := registry.AddEntry(entry); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Save changes atomically
//	if err := registry.Save(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Environment
//
// LoadDotEnv reads the nearest .env file so that ZENDURE_* variables can be
// kept next to a checkout. Preferences.ApplyEnv lets those variables override
// the file.
//
// # Thread Safety
//
// The global registry uses sync.Once for safe initialization across goroutines.
// File operations are protected by a mutex to ensure atomic writes.
package config
