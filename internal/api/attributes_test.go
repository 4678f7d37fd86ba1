package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/nasa-bridge/internal/bridges/ehs"
	"github.com/nerrad567/nasa-bridge/internal/nasa"
)

func roomTemperature(v float64) nasa.AttributeState {
	return nasa.AttributeState{
		Device:  indoor,
		ID:      nasa.AttrRoomTemperature,
		Name:    "room_temperature",
		Kind:    nasa.KindNumeric,
		Value:   nasa.NumericValue(v),
		Updated: time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestListAttributes(t *testing.T) {
	env := testServer(t)
	env.engine.addDevice(nasa.Device{Address: indoor, Reachable: true})
	env.engine.set(roomTemperature(21.5))
	env.engine.set(nasa.AttributeState{Device: indoor, ID: nasa.AttrIndoorPower, Value: nasa.BoolValue(true)})
	env.engine.set(nasa.AttributeState{Device: outdoor, ID: nasa.AttrOutdoorTemperature, Value: nasa.NumericValue(4)})

	w := env.do(t, http.MethodGet, "/api/v1/devices/20.00.00/attributes", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Attributes []ehs.StateMessage `json:"attributes"`
		Count      int                `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2", resp.Count)
	}
	// Ordered by id: 0x4000 before 0x4203.
	if resp.Attributes[0].Attribute != "0x4000" || resp.Attributes[0].Name != "indoor_power" {
		t.Errorf("first = %+v, want indoor_power", resp.Attributes[0])
	}
	if resp.Attributes[1].Unit != "°C" || resp.Attributes[1].Value != 21.5 {
		t.Errorf("second = %+v, want 21.5 °C", resp.Attributes[1])
	}
}

func TestListAttributes_UnknownDevice(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/devices/20.00.00/attributes", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("list status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestGetAttribute(t *testing.T) {
	env := testServer(t)
	env.engine.set(roomTemperature(21.5))

	tests := []struct {
		name string
		path string
		want int
	}{
		{"by name", "/api/v1/devices/20.00.00/attributes/room_temperature", http.StatusOK},
		{"by hex id", "/api/v1/devices/20.00.00/attributes/0x4203", http.StatusOK},
		{"unknown value", "/api/v1/devices/20.00.00/attributes/room_target", http.StatusNotFound},
		{"bad attribute", "/api/v1/devices/20.00.00/attributes/nope", http.StatusBadRequest},
		{"bad address", "/api/v1/devices/zz/attributes/room_temperature", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, tt.path, "")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestGetAttribute_Refresh(t *testing.T) {
	env := testServer(t)
	env.engine.set(roomTemperature(21.5))

	w := env.do(t, http.MethodGet, "/api/v1/devices/20.00.00/attributes/room_temperature?refresh=true", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var msg ehs.StateMessage
	if err := json.Unmarshal(w.Body.Bytes(), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	// The fake stamps fresh reads with the current time.
	if !msg.Timestamp.After(roomTemperature(0).Updated) {
		t.Errorf("timestamp = %v, want a fresh read", msg.Timestamp)
	}
}

func TestReadAttribute(t *testing.T) {
	env := testServer(t)
	env.engine.set(roomTemperature(19))

	w := env.do(t, http.MethodPost, "/api/v1/devices/20.00.00/attributes/room_temperature/read", "")
	if w.Code != http.StatusOK {
		t.Fatalf("read status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decode(t, w)
	if resp["value"] != float64(19) || resp["address"] != "20.00.00" {
		t.Errorf("read = %v", resp)
	}
}

func TestReadAttribute_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"timeout", &nasa.TimeoutError{Device: indoor, Attribute: nasa.AttrRoomTemperature}, http.StatusGatewayTimeout, ErrCodeTimeout},
		{"not connected", nasa.ErrNotConnected, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{"in flight", fmt.Errorf("read: %w", nasa.ErrRequestInFlight), http.StatusConflict, ErrCodeConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t)
			env.engine.readErr = tt.err

			w := env.do(t, http.MethodPost, "/api/v1/devices/20.00.00/attributes/room_temperature/read", "")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if got := decode(t, w)["code"]; got != tt.code {
				t.Errorf("code = %v, want %s", got, tt.code)
			}
		})
	}
}

func TestReadAttribute_RecordsMetrics(t *testing.T) {
	env := testServer(t)
	env.engine.readErr = nasa.ErrNotConnected

	env.do(t, http.MethodPost, "/api/v1/devices/20.00.00/attributes/room_temperature/read", "")

	w := env.do(t, http.MethodGet, "/metrics", "")
	want := `nasabridge_service_requests_total{operation="read",outcome="error"} 1`
	if !strings.Contains(w.Body.String(), want) {
		t.Errorf("metrics output missing %q", want)
	}
}

func TestWriteAttribute(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodPut, "/api/v1/devices/20.00.00/attributes/quiet_mode", `{"value": true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("write status = %d, want %d (%s)", w.Code, http.StatusOK, w.Body.String())
	}

	resp := decode(t, w)
	if resp["attribute"] != "0x406E" || resp["value"] != true || resp["echo"] != true {
		t.Errorf("write = %v", resp)
	}
	if len(env.engine.writes) != 1 || !env.engine.writes[0].Equal(nasa.BoolValue(true)) {
		t.Errorf("writes = %v, want [true]", env.engine.writes)
	}
}

func TestWriteAttribute_Invalid(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"bad json", "/api/v1/devices/20.00.00/attributes/quiet_mode", `{`, http.StatusBadRequest},
		{"missing value", "/api/v1/devices/20.00.00/attributes/quiet_mode", `{}`, http.StatusBadRequest},
		{"boolean out of range", "/api/v1/devices/20.00.00/attributes/quiet_mode", `{"value": 2}`, http.StatusBadRequest},
		{"out of range", "/api/v1/devices/20.00.00/attributes/room_target", `{"value": 99}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t)

			w := env.do(t, http.MethodPut, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
			if len(env.engine.writes) != 0 {
				t.Errorf("writes = %v, want none", env.engine.writes)
			}
		})
	}
}

func TestWriteAttribute_Rejected(t *testing.T) {
	env := testServer(t)
	env.engine.writeErr = fmt.Errorf("write 0x406E: %w", nasa.ErrRejected)

	w := env.do(t, http.MethodPut, "/api/v1/devices/20.00.00/attributes/quiet_mode", `{"value": false}`)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	if got := decode(t, w)["code"]; got != ErrCodeRejected {
		t.Errorf("code = %v, want %s", got, ErrCodeRejected)
	}
}

func TestWriteEngineError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nasa.ErrUnknownDevice, http.StatusNotFound},
		{nasa.ErrUnknownAttribute, http.StatusNotFound},
		{nasa.ErrInvalidValue, http.StatusBadRequest},
		{nasa.ErrInvalidAddress, http.StatusBadRequest},
		{nasa.ErrTimeout, http.StatusGatewayTimeout},
		{nasa.ErrRejected, http.StatusConflict},
		{nasa.ErrRequestInFlight, http.StatusConflict},
		{nasa.ErrNotConnected, http.StatusServiceUnavailable},
		{nasa.ErrClosed, http.StatusServiceUnavailable},
		{nasa.ErrCancelled, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			w := httptest.NewRecorder()
			writeEngineError(w, fmt.Errorf("wrapped: %w", tt.err))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

// ─── Commands ──────────────────────────────────────────────────────

func TestCommand(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodPost, "/api/v1/devices/20.00.00/commands",
		`{"command": "set_quiet_mode", "parameters": {"on": true}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("command status = %d, want %d (%s)", w.Code, http.StatusOK, w.Body.String())
	}

	var ack ehs.AckMessage
	if err := json.Unmarshal(w.Body.Bytes(), &ack); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ack.Status != ehs.AckAccepted || ack.Address != "20.00.00" {
		t.Errorf("ack = %+v", ack)
	}
	if len(env.commands.cmds) != 1 || env.commands.cmds[0].Source != "api" {
		t.Errorf("executed = %+v, want one command from api", env.commands.cmds)
	}
}

func TestCommand_Failures(t *testing.T) {
	tests := []struct {
		name string
		code string
		want int
	}{
		{"invalid parameters", ehs.ErrCodeInvalidParameters, http.StatusBadRequest},
		{"rejected", ehs.ErrCodeRejected, http.StatusConflict},
		{"timeout", ehs.ErrCodeTimeout, http.StatusGatewayTimeout},
		{"unreachable", ehs.ErrCodeDeviceUnreachable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t)
			env.commands.ack = func(address string, cmd ehs.CommandMessage) ehs.AckMessage {
				return ehs.NewAckError(cmd, address, tt.code, tt.name)
			}

			w := env.do(t, http.MethodPost, "/api/v1/devices/20.00.00/commands", `{"command": "set_power"}`)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestCommand_BadRequests(t *testing.T) {
	env := testServer(t)

	if w := env.do(t, http.MethodPost, "/api/v1/devices/20.00.00/commands", `{`); w.Code != http.StatusBadRequest {
		t.Errorf("bad json status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/devices/20.00.00/commands", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing command status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if len(env.commands.cmds) != 0 {
		t.Errorf("executed = %d commands, want 0", len(env.commands.cmds))
	}
}

func TestCommand_NoExecutor(t *testing.T) {
	srv, err := New(testDeps(newFakeEngine(), 0))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/20.00.00/commands", nil)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// ─── History ───────────────────────────────────────────────────────

func TestAttributeHistory(t *testing.T) {
	env := testServer(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	for i, v := range []float64{20, 20.5, 21} {
		st := roomTemperature(v)
		st.Updated = base.Add(time.Duration(i) * time.Hour)
		if err := env.history.RecordChange(ctx, st); err != nil {
			t.Fatalf("RecordChange() error = %v", err)
		}
	}

	w := env.do(t, http.MethodGet, "/api/v1/devices/20.00.00/attributes/room_temperature/history", "")
	if w.Code != http.StatusOK {
		t.Fatalf("history status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decode(t, w)
	if resp["count"] != float64(3) {
		t.Errorf("count = %v, want 3", resp["count"])
	}

	since := base.Add(90 * time.Minute).Format(time.RFC3339)
	w = env.do(t, http.MethodGet, "/api/v1/devices/20.00.00/attributes/room_temperature/history?since="+since, "")
	if w.Code != http.StatusOK {
		t.Fatalf("history status = %d, want %d", w.Code, http.StatusOK)
	}
	resp = decode(t, w)
	if resp["count"] != float64(1) {
		t.Errorf("count since %s = %v, want 1", since, resp["count"])
	}

	w = env.do(t, http.MethodGet, "/api/v1/devices/20.00.00/attributes/room_temperature/history?limit=2", "")
	if got := decode(t, w)["count"]; got != float64(2) {
		t.Errorf("count with limit=2 = %v, want 2", got)
	}
}

func TestAttributeHistory_BadParams(t *testing.T) {
	env := testServer(t)

	for _, q := range []string{"limit=0", "limit=abc", "limit=501", "since=yesterday"} {
		w := env.do(t, http.MethodGet, "/api/v1/devices/20.00.00/attributes/room_temperature/history?"+q, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want %d", q, w.Code, http.StatusBadRequest)
		}
	}
}

func TestAttributeHistory_NoRepository(t *testing.T) {
	srv, err := New(testDeps(newFakeEngine(), 0))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/20.00.00/attributes/room_temperature/history", nil)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}
