// Package ui provides terminal output for the zendure-poller CLI.
//
// Two kinds of output are provided:
//
//   - Printer: run-once styled output for commands such as scan and resolve
//   - WatchModel: an interactive Bubble Tea screen that follows one
//     coordinator and redraws on every published snapshot
//
// The watch screen subscribes through the coordinator listener API, so it
// never triggers a fetch on its own except when the user presses "r".
//
// Example:
//
//	err := ui.RunWatch(ctx, device.Title(), device.Coordinator)
//
// Logging is controlled by the ZENDURE_LOG_LEVEL environment variable. When
// unset, zap is silent so log lines do not corrupt the screen.
package ui
