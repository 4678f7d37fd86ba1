// Command nasabridge connects Samsung EHS heat pumps to home automation.
//
// The bridge talks the
// Samsung NASA protocol to an RS485 gateway (TCP, WebSocket or a local
// serial port) and exposes the heat pump over MQTT, a REST/WebSocket API,
// Prometheus metrics and InfluxDB.
//
// Besides the daemon (serve) it offers one-shot read, write and monitor
// commands for commissioning.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Set with -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
