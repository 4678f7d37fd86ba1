package ehs

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestNewHealthReporter_DefaultInterval(t *testing.T) {
	hr := NewHealthReporter(HealthReporterConfig{BridgeID: "b"})
	if hr.cfg.Interval != defaultHealthInterval {
		t.Errorf("interval = %v, want %v", hr.cfg.Interval, defaultHealthInterval)
	}
	if hr.topic != "nasabridge/health/nasa" {
		t.Errorf("topic = %q", hr.topic)
	}
}

func TestHealthReporter_DetermineStatus(t *testing.T) {
	tests := []struct {
		name          string
		mqttConnected bool
		online        bool
		want          HealthStatus
		wantReason    string
	}{
		{"all connected", true, true, HealthHealthy, ""},
		{"mqtt down", false, true, HealthDegraded, "MQTT disconnected"},
		{"gateway down", true, false, HealthDegraded, "NASA gateway disconnected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := NewMockMQTTClient()
			pub.SetConnected(tt.mqttConnected)
			engine := newFakeEngine()
			engine.online = tt.online

			hr := NewHealthReporter(HealthReporterConfig{BridgeID: "b", Publisher: pub, Engine: engine})
			status, reason := hr.determineStatus()
			if status != tt.want || reason != tt.wantReason {
				t.Errorf("determineStatus() = %q, %q; want %q, %q", status, reason, tt.want, tt.wantReason)
			}
		})
	}
}

func TestHealthReporter_PublishNow(t *testing.T) {
	pub := NewMockMQTTClient()
	hr := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "ehs-01",
		Version:   "0.3.0",
		Endpoint:  "tcp://192.168.1.50:8899",
		Publisher: pub,
		Engine:    newFakeEngine(),
	})

	if err := hr.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	pubs := pub.PublishedTo("nasabridge/health/nasa")
	if len(pubs) != 1 {
		t.Fatalf("publishes = %d, want 1", len(pubs))
	}
	if !pubs[0].Retained || pubs[0].QoS != 1 {
		t.Errorf("qos=%d retained=%v", pubs[0].QoS, pubs[0].Retained)
	}

	var msg HealthMessage
	if err := json.Unmarshal(pubs[0].Payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Status != HealthHealthy || msg.Bridge != "ehs-01" || msg.Version != "0.3.0" {
		t.Errorf("message = %+v", msg)
	}
	if msg.Connection == nil || msg.Connection.Status != "connected" || msg.Connection.Endpoint != "tcp://192.168.1.50:8899" {
		t.Errorf("connection = %+v", msg.Connection)
	}
	if msg.Statistics == nil || msg.Statistics.FramesReceived != 12 {
		t.Errorf("statistics = %+v", msg.Statistics)
	}
	if msg.DevicesManaged != 2 || len(msg.Devices) != 2 {
		t.Errorf("devices managed=%d listed=%d, want 2", msg.DevicesManaged, len(msg.Devices))
	}
}

func TestHealthReporter_StartStop(t *testing.T) {
	pub := NewMockMQTTClient()
	hr := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "b",
		Interval:  10 * time.Millisecond,
		Publisher: pub,
		Engine:    newFakeEngine(),
	})

	hr.Start(context.Background())

	deadline := time.After(2 * time.Second)
	for len(pub.PublishedTo("nasabridge/health/nasa")) < 3 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for periodic health")
		case <-time.After(5 * time.Millisecond):
		}
	}

	hr.Stop()
	hr.Stop() // idempotent

	pubs := pub.PublishedTo("nasabridge/health/nasa")
	var last HealthMessage
	if err := json.Unmarshal(pubs[len(pubs)-1].Payload, &last); err != nil {
		t.Fatal(err)
	}
	if last.Status != HealthStopping {
		t.Errorf("last status = %q, want stopping", last.Status)
	}

	n := len(pubs)
	time.Sleep(30 * time.Millisecond)
	if got := len(pub.PublishedTo("nasabridge/health/nasa")); got != n {
		t.Errorf("published after Stop: %d -> %d", n, got)
	}
}

func TestHealthReporter_ContextCancel(t *testing.T) {
	pub := NewMockMQTTClient()
	hr := NewHealthReporter(HealthReporterConfig{BridgeID: "b", Interval: time.Hour, Publisher: pub})

	ctx, cancel := context.WithCancel(context.Background())
	hr.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		hr.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after context cancel")
	}
}

func TestHealthReporter_StopWithoutStart(t *testing.T) {
	pub := NewMockMQTTClient()
	hr := NewHealthReporter(HealthReporterConfig{BridgeID: "b", Interval: 20 * time.Millisecond, Publisher: pub})

	hr.Stop()

	pubs := pub.PublishedTo("nasabridge/health/nasa")
	if len(pubs) != 1 {
		t.Fatalf("publishes = %d, want the stopping marker only", len(pubs))
	}
	var msg HealthMessage
	if err := json.Unmarshal(pubs[0].Payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Status != HealthStopping || msg.Connection != nil {
		t.Errorf("message = %+v", msg)
	}
}
