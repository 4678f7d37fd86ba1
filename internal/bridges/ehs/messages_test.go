package ehs

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/nasa-bridge/internal/nasa"
)

func TestCommandMessageJSON(t *testing.T) {
	payload := `{"id":"c1","command":"set_dhw_mode","parameters":{"mode":"eco"},"source":"automation"}`

	var cmd CommandMessage
	if err := json.Unmarshal([]byte(payload), &cmd); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if cmd.ID != "c1" || cmd.Command != "set_dhw_mode" || cmd.Source != "automation" {
		t.Errorf("cmd = %+v", cmd)
	}
	if cmd.Parameters["mode"] != "eco" {
		t.Errorf("Parameters = %v", cmd.Parameters)
	}
	if !cmd.Timestamp.IsZero() {
		t.Errorf("Timestamp = %v, want zero", cmd.Timestamp)
	}
}

func TestNewAckError(t *testing.T) {
	cmd := CommandMessage{ID: "c1", Command: "set_power"}

	tests := []struct {
		code string
		want AckStatus
	}{
		{ErrCodeTimeout, AckTimeout},
		{ErrCodeRejected, AckFailed},
		{ErrCodeInvalidParameters, AckFailed},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			ack := NewAckError(cmd, "20.00.00", tt.code, "boom")
			if ack.Status != tt.want {
				t.Errorf("Status = %q, want %q", ack.Status, tt.want)
			}
			if ack.Error == nil || ack.Error.Code != tt.code || ack.Error.Message != "boom" {
				t.Errorf("Error = %+v", ack.Error)
			}
			if ack.CommandID != "c1" || ack.Address != "20.00.00" || ack.Protocol != "nasa" {
				t.Errorf("ack = %+v", ack)
			}
		})
	}
}

func TestAckMessageJSON(t *testing.T) {
	ack := NewAckMessage(CommandMessage{ID: "c1", Command: "set_power"}, "20.00.00", AckAccepted, []string{"0x4000"})

	data, err := json.Marshal(ack)
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	for _, want := range []string{`"status":"accepted"`, `"writes":["0x4000"]`, `"address":"20.00.00"`} {
		if !strings.Contains(s, want) {
			t.Errorf("JSON %s missing %s", s, want)
		}
	}
	if strings.Contains(s, `"error"`) {
		t.Errorf("accepted ack carries error: %s", s)
	}
}

func TestNewStateMessage(t *testing.T) {
	updated := time.Date(2026, 2, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	st := nasa.AttributeState{
		Device:  nasa.MustParseAddress("20.00.00"),
		ID:      nasa.AttrDHWMode,
		Name:    "dhw_mode",
		Kind:    nasa.KindEnum,
		Value:   nasa.EnumValue(2),
		Updated: updated,
		Stale:   true,
	}
	spec, _ := nasa.DefaultCatalog().Lookup(nasa.AttrDHWMode)

	msg := NewStateMessage(st, spec)

	if msg.Address != "20.00.00" || msg.Attribute != "0x4066" || msg.Name != "dhw_mode" {
		t.Errorf("msg = %+v", msg)
	}
	if msg.Value != 2 || msg.Kind != "enum" || !msg.Stale {
		t.Errorf("value/kind/stale = %v/%s/%v", msg.Value, msg.Kind, msg.Stale)
	}
	if msg.Timestamp.Location() != time.UTC || !msg.Timestamp.Equal(updated) {
		t.Errorf("Timestamp = %v", msg.Timestamp)
	}
}

func TestStateMessageJSON_Raw(t *testing.T) {
	st := nasa.AttributeState{
		Device: nasa.MustParseAddress("10.00.00"),
		ID:     0x0600,
		Kind:   nasa.KindRaw,
		Value:  nasa.RawValue([]byte{0xDE, 0xAD}),
	}
	data, err := json.Marshal(NewStateMessage(st, nasa.AttributeSpec{}))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"value":"dead"`) {
		t.Errorf("raw value not hex encoded: %s", data)
	}
	if strings.Contains(string(data), `"unit"`) {
		t.Errorf("empty unit should be omitted: %s", data)
	}
}

func TestNewHealthMessage(t *testing.T) {
	last := time.Now().Add(-time.Second)
	stats := nasa.ClientStats{
		Session: nasa.SessionStats{
			State:         nasa.StateConnected,
			FramesRx:      100,
			FramesTx:      20,
			FramingErrors: 3,
			BytesDropped:  17,
			Reconnects:    1,
			LastActivity:  last,
		},
		Correlator: nasa.CorrelatorStats{Issued: 20, TimedOut: 2, Rejected: 1},
		Poller:     nasa.PollerStats{Cycles: 5},
		Mismatches: 1,
		Devices:    2,
	}

	msg := NewHealthMessage("ehs-01", "1.0.0", HealthHealthy, stats, time.Now().Add(-time.Minute))

	if msg.UptimeSeconds < 59 {
		t.Errorf("UptimeSeconds = %d", msg.UptimeSeconds)
	}
	if msg.Connection.Status != "connected" || msg.Connection.LastActivity == nil {
		t.Errorf("Connection = %+v", msg.Connection)
	}
	want := BridgeStatistics{
		FramesReceived: 100, FramesSent: 20, FramingErrors: 3, BytesDropped: 17, Reconnects: 1,
		Requests: 20, Timeouts: 2, Rejected: 1, PollCycles: 5, TypeMismatches: 1,
	}
	if *msg.Statistics != want {
		t.Errorf("Statistics = %+v, want %+v", *msg.Statistics, want)
	}
	if msg.DevicesManaged != 2 {
		t.Errorf("DevicesManaged = %d", msg.DevicesManaged)
	}
}

func TestNewHealthMessage_NoActivity(t *testing.T) {
	msg := NewHealthMessage("b", "v", HealthDegraded, nasa.ClientStats{}, time.Now())
	if msg.Connection.LastActivity != nil {
		t.Error("LastActivity should be nil before any traffic")
	}
	if msg.Connection.Status != "disconnected" {
		t.Errorf("Status = %q", msg.Connection.Status)
	}
}
