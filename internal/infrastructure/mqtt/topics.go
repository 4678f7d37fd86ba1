package mqtt

import "fmt"

// Topic prefixes for the NASA bridge.
//
// All bridge topics use the flat scheme: nasabridge/{category}/{protocol}/{address}
const (
	// TopicPrefixBridge is the base for all bridge topics.
	TopicPrefixBridge = "nasabridge"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "nasabridge/system"

	// ProtocolNASA is the protocol segment used by the heat pump bridge.
	ProtocolNASA = "nasa"
)

// Topics provides builders for the bridge's MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.AttributeState("nasa", "20.00.00", "room_temperature")
//	// Returns: "nasabridge/state/nasa/20.00.00/room_temperature"
type Topics struct{}

// =============================================================================
// Bridge Topics
// =============================================================================

// AttributeState returns the topic for one attribute of one device.
//
// Example: nasabridge/state/nasa/20.00.00/room_temperature
func (Topics) AttributeState(protocol, address, attr string) string {
	return fmt.Sprintf("%s/state/%s/%s/%s", TopicPrefixBridge, protocol, address, attr)
}

// Availability returns the retained online/offline topic for a device.
//
// Example: nasabridge/availability/nasa/20.00.00
func (Topics) Availability(protocol, address string) string {
	return fmt.Sprintf("%s/availability/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeCommand returns the topic for commands to a device.
//
// Example: nasabridge/command/nasa/20.00.00
func (Topics) BridgeCommand(protocol, address string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeAck returns the topic for command acknowledgements.
//
// Example: nasabridge/ack/nasa/20.00.00
func (Topics) BridgeAck(protocol, address string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeRequest returns the topic for requests to the bridge.
//
// Example: nasabridge/request/nasa/req-abc123
func (Topics) BridgeRequest(protocol, requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefixBridge, protocol, requestID)
}

// BridgeResponse returns the topic for request responses.
//
// Example: nasabridge/response/nasa/req-abc123
func (Topics) BridgeResponse(protocol, requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefixBridge, protocol, requestID)
}

// BridgeHealth returns the topic for bridge health status.
//
// Example: nasabridge/health/nasa
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixBridge, protocol)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the process status topic carrying the LWT.
//
// Example: nasabridge/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllCommands returns a pattern matching commands to any device.
//
// Pattern: nasabridge/command/nasa/+
func (Topics) AllCommands(protocol string) string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefixBridge, protocol)
}

// AllRequests returns a pattern matching all bridge requests.
//
// Pattern: nasabridge/request/nasa/+
func (Topics) AllRequests(protocol string) string {
	return fmt.Sprintf("%s/request/%s/+", TopicPrefixBridge, protocol)
}

// AllStates returns a pattern matching every attribute state.
//
// Pattern: nasabridge/state/nasa/#
func (Topics) AllStates(protocol string) string {
	return fmt.Sprintf("%s/state/%s/#", TopicPrefixBridge, protocol)
}

// AllTopics returns a pattern matching all bridge topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: nasabridge/#
func (Topics) AllTopics() string {
	return TopicPrefixBridge + "/#"
}
