// Package logging provides structured logging for the Zendure poller.
//
// This package wraps a zap logger with convenience functions for the common
// logging patterns of the discovery and polling code. It provides both general
// logging functions and specialized helpers for resolve and refresh events.
//
// # Log Levels
//
//   - Debug: Detailed debugging info (ignored advertisements, raw property maps)
//   - Info: Normal operations (device resolved, coordinator started, unloads)
//   - Warn: Non-fatal issues (refresh failures, discovery timeouts)
//   - Error: Failures that abort a command (setup gave up, server errors)
//
// # Structured Logging
//
//	logging.Info("Coordinator started",
//	    zap.String("name", "Zendure-SolarFlow800-12345"),
//	    zap.Duration("interval", 30*time.Second),
//	)
//
// Domain helpers:
//
//	logging.LogResolve(name, addr, err)
//	logging.LogRefresh(name, addr, success, failures, err)
//
// # Configuration
//
// Logging is silent unless a level is passed to Initialize or the
// ZENDURE_LOG_LEVEL environment variable is set:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// # Thread Safety
//
// All logging functions are safe for concurrent use. The underlying zap logger
// handles synchronization automatically.
package logging
