// Package logging provides structured logging for the OTA fleet service.
//
// This package wraps a global zap logger with convenience functions for the
// events the service cares about: device observations, operator decisions,
// firmware transfers and connections.
//
// # Log Levels
//
//   - Debug: registry merges, re-keys, HTTP request lines
//   - Info: observations, approvals, transfer start/complete
//   - Warn: rejected operator actions, aborted transfers, malformed input
//   - Error: startup failures, listener errors
//
// # Configuration
//
// Initialize logging at startup:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// An empty level falls back to OTAFLEET_LOG_LEVEL; when that is also empty the
// logger is a no-op so CLI commands produce no log noise.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use.
package logging
