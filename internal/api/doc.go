// Package api implements the HTTP API and WebSocket change stream for the
// NASA bridge.
//
// This package provides:
//   - Read-only views of devices, diagnostics, the attribute catalog and
//     last known values
//   - Fresh reads, attribute writes and high-level commands
//   - Local attribute history from SQLite
//   - A WebSocket hub relaying attribute changes, HVAC actions and
//     availability as they happen
//   - The Prometheus scrape endpoint
//
// # Architecture
//
// The server sits beside the MQTT bridge and talks to the same NASA
// engine. Reads and writes go straight to the engine; commands run
// through the bridge's planner so MQTT and HTTP behave alike.
//
// # Graceful Degradation
//
// Command, history and device record endpoints answer 503 when their
// dependency is not configured; everything else keeps working.
//
// The server lifecycle:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
