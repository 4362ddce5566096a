// Package setup brings configured devices online and tracks them.
//
// Setup runs the fixed sequence for one config.Entry: resolve the device's
// mDNS name, build an HTTP client for the resolved address, create a
// polling coordinator, refresh it once and only then register it and start
// scheduled polling. If the device cannot be found, or is found but does not
// answer the first refresh, Setup fails with ErrNotReady and nothing is
// registered; callers retry later (SetupWithRetry does that).
//
// Loaded devices live in a Registry owned by the Orchestrator. Unload,
// Reload and Close tear them down again.
package setup
