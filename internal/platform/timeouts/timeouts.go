// Package timeouts defines shared timeout constants used across services.
package timeouts

import "time"

// BackendPing caps the wait for a log or cache server to answer at startup.
const BackendPing = 5 * time.Second

// Shutdown limits how long a runtime waits for telemetry to flush and for
// in-flight health calls during graceful shutdown.
const Shutdown = 5 * time.Second

// LogPoll is the default interval at which SQL logs re-read for records
// written by other processes.
const LogPoll = time.Second
