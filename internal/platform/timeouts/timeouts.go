// Package timeouts defines shared timeout constants used across the service.
package timeouts

import "time"

// CommandExecution caps how long one command may hold its transaction.
const CommandExecution = 30 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight work during graceful
// shutdown.
const Shutdown = 5 * time.Second

// SinkReport caps one error-tracking delivery.
const SinkReport = 2 * time.Second
