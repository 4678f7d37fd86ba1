package ehs

import (
	"time"

	"github.com/nerrad567/nasa-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/nasa-bridge/internal/nasa"
)

// MQTT message types exchanged between the bridge and home automation.

// CommandMessage asks the bridge to operate a unit.
// Topic: nasabridge/command/nasa/{address}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	// Generated by the bridge when empty.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp,omitzero"`

	// Command is the control name (e.g., "set_power", "set_dhw_mode").
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"on": true} for set_power
	//   {"mode": "heat"} for set_hvac_mode
	//   {"temperature": 21.5} for set_target_temperature
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated.
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates every write of the command was acknowledged by the unit.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the unit did not respond within the timeout.
	AckTimeout AckStatus = "timeout"
)

// AckMessage reports the outcome of a command.
// Topic: nasabridge/ack/nasa/{address}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`

	// Address is the unit address (e.g., "20.00.00").
	Address string `json:"address"`

	// Writes lists the attributes written, in order.
	Writes []string `json:"writes,omitempty"`

	// Error contains details if status is "failed" or "timeout".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command and request failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeRejected          = "REJECTED"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage carries the value of one attribute.
// Topic: nasabridge/state/nasa/{address}/{attribute}
// QoS: 1, Retained: Yes
type StateMessage struct {
	Address   string    `json:"address"`
	Attribute string    `json:"attribute"` // hex id
	Name      string    `json:"name,omitempty"`
	Value     any       `json:"value"`
	Kind      string    `json:"kind"`
	Unit      string    `json:"unit,omitempty"`
	Stale     bool      `json:"stale,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Protocol  string    `json:"protocol"`
}

// ActionMessage carries the derived HVAC action of an indoor unit.
// Topic: nasabridge/state/nasa/{address}/hvac_action
// QoS: 1, Retained: Yes
type ActionMessage struct {
	Address   string    `json:"address"`
	Action    string    `json:"action"`
	Previous  string    `json:"previous,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthOffline   HealthStatus = "offline"
	HealthStarting  HealthStatus = "starting"
	HealthStopping  HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: nasabridge/health/nasa
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	Connection *ConnectionStatus   `json:"connection,omitempty"`
	Statistics *BridgeStatistics   `json:"statistics,omitempty"`
	Devices    []DeviceDiagnostics `json:"devices,omitempty"`

	// DevicesManaged is the number of known units.
	DevicesManaged int `json:"devices_managed"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// DeviceDiagnostics is the per-unit summary in health messages.
type DeviceDiagnostics = nasa.DeviceDiagnostics

// ConnectionStatus describes the gateway connection.
type ConnectionStatus struct {
	// Status is "connected", "connecting" or "disconnected".
	Status   string `json:"status"`
	Endpoint string `json:"endpoint"`

	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	FramesReceived uint64 `json:"frames_received"`
	FramesSent     uint64 `json:"frames_sent"`
	FramingErrors  uint64 `json:"framing_errors"`
	BytesDropped   uint64 `json:"bytes_dropped"`
	Reconnects     uint64 `json:"reconnects"`
	Requests       uint64 `json:"requests"`
	Timeouts       uint64 `json:"timeouts"`
	Rejected       uint64 `json:"rejected"`
	PollCycles     uint64 `json:"poll_cycles"`
	TypeMismatches uint64 `json:"type_mismatches"`
}

// RequestMessage asks the bridge for a read/write style operation.
// Topic: nasabridge/request/nasa/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp,omitzero"`

	// Action is "read", "write", "poll_now", "track" or "diagnostics".
	Action string `json:"action"`

	// Address is the target unit (for device-specific actions).
	Address string `json:"address,omitempty"`

	// Attribute is a hex id or catalog name for read and write.
	Attribute string `json:"attribute,omitempty"`

	// Attributes lists ids or names for track.
	Attributes []string `json:"attributes,omitempty"`

	// Value is the value for write.
	Value any `json:"value,omitempty"`
}

// ResponseMessage answers a RequestMessage.
// Topic: nasabridge/response/nasa/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Availability payloads.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// NewStateMessage builds the state message for an attribute.
func NewStateMessage(st nasa.AttributeState, spec nasa.AttributeSpec) StateMessage {
	return StateMessage{
		Address:   st.Device.String(),
		Attribute: st.ID.String(),
		Name:      st.Name,
		Value:     st.Value.Interface(),
		Kind:      st.Value.Kind.String(),
		Unit:      spec.Unit,
		Stale:     st.Stale,
		Timestamp: st.Updated.UTC(),
		Protocol:  mqtt.ProtocolNASA,
	}
}

// NewAckMessage creates an acknowledgment for a command.
func NewAckMessage(cmd CommandMessage, address string, status AckStatus, writes []string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		Command:   cmd.Command,
		Status:    status,
		Protocol:  mqtt.ProtocolNASA,
		Address:   address,
		Writes:    writes,
	}
}

// NewAckError creates a failed acknowledgment.
func NewAckError(cmd CommandMessage, address, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	ack := NewAckMessage(cmd, address, status, nil)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(bridgeID, version string, status HealthStatus, stats nasa.ClientStats, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		Bridge:         bridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		DevicesManaged: stats.Devices,
		Connection: &ConnectionStatus{
			Status: stats.Session.State.String(),
		},
		Statistics: &BridgeStatistics{
			FramesReceived: stats.Session.FramesRx,
			FramesSent:     stats.Session.FramesTx,
			FramingErrors:  stats.Session.FramingErrors,
			BytesDropped:   stats.Session.BytesDropped,
			Reconnects:     stats.Session.Reconnects,
			Requests:       stats.Correlator.Issued,
			Timeouts:       stats.Correlator.TimedOut,
			Rejected:       stats.Correlator.Rejected,
			PollCycles:     stats.Poller.Cycles,
			TypeMismatches: stats.Mismatches,
		},
	}
	if !stats.Session.LastActivity.IsZero() {
		last := stats.Session.LastActivity.UTC()
		msg.Connection.LastActivity = &last
	}
	return msg
}
