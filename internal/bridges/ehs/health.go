package ehs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/nasa-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/nasa-bridge/internal/nasa"
)

const defaultHealthInterval = 30 * time.Second

// HealthPublisher is the MQTT side of health reporting.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthSource supplies the engine state folded into each report.
type HealthSource interface {
	Online() bool
	Stats() nasa.ClientStats
	DeviceList() []nasa.Device
	Diagnostics(device nasa.Address) (DeviceDiagnostics, bool)
}

// HealthReporterConfig configures a HealthReporter. Interval defaults to
// 30s.
type HealthReporterConfig struct {
	BridgeID  string
	Version   string
	Endpoint  string
	Interval  time.Duration
	Publisher HealthPublisher
	Engine    HealthSource
}

// HealthReporter publishes a retained health message on
// nasabridge/health/nasa at a fixed interval, plus "starting" and
// "stopping" markers around the bridge's lifetime.
type HealthReporter struct {
	cfg     HealthReporterConfig
	topic   string
	started time.Time

	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	logMu  sync.RWMutex
	logger Logger
}

// NewHealthReporter creates a reporter. Nothing is published until Start
// or one of the Publish methods is called.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	return &HealthReporter{
		cfg:     cfg,
		topic:   mqtt.Topics{}.BridgeHealth(mqtt.ProtocolNASA),
		started: time.Now(),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// SetLogger sets the logger for publish failures.
func (h *HealthReporter) SetLogger(l Logger) {
	h.logMu.Lock()
	h.logger = l
	h.logMu.Unlock()
}

// Start publishes immediately and then every interval until ctx ends or
// Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	go func() {
		defer close(h.stopped)

		tick := time.NewTicker(h.cfg.Interval)
		defer tick.Stop()

		for {
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-h.stop:
				return
			case <-tick.C:
			}
		}
	}()
}

// Stop ends the loop started by Start and publishes a final "stopping"
// report. Safe to call more than once, and without Start.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
		select {
		case <-h.stopped:
		case <-time.After(h.cfg.Interval):
		}
		_ = h.publish(HealthStopping, "")
	})
}

// PublishStarting publishes the "starting" marker.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// PublishNow publishes the current status.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publish(status, reason)
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	switch {
	case h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected():
		return HealthDegraded, "MQTT disconnected"
	case h.cfg.Engine == nil || !h.cfg.Engine.Online():
		return HealthDegraded, "NASA gateway disconnected"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) message(status HealthStatus) HealthMessage {
	eng := h.cfg.Engine
	if eng == nil {
		return HealthMessage{
			Bridge:        h.cfg.BridgeID,
			Timestamp:     time.Now().UTC(),
			Status:        status,
			Version:       h.cfg.Version,
			UptimeSeconds: int64(time.Since(h.started).Seconds()),
		}
	}

	msg := NewHealthMessage(h.cfg.BridgeID, h.cfg.Version, status, eng.Stats(), h.started)
	msg.Connection.Endpoint = h.cfg.Endpoint
	for _, d := range eng.DeviceList() {
		if diag, ok := eng.Diagnostics(d.Address); ok {
			msg.Devices = append(msg.Devices, diag)
		}
	}
	return msg
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil {
		return nil
	}
	msg := h.message(status)
	msg.Reason = reason

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(h.topic, payload, qosAtLeastOnce, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.logMu.RLock()
	l := h.logger
	h.logMu.RUnlock()
	if l != nil {
		l.Error(msg, "error", err)
	}
}
