package nasa

import (
	"errors"
	"fmt"
	"time"
)

// Domain-specific errors for NASA operations.
// Use errors.Is() to check for these errors in calling code; the typed
// errors below unwrap to them.
var (
	// ErrFraming is the class of every malformed or checksum-failed frame.
	ErrFraming = errors.New("nasa: framing error")

	// ErrChecksum is returned when a frame's CRC does not match its contents.
	ErrChecksum = errors.New("nasa: checksum mismatch")

	// ErrMalformedFrame is returned when a frame's structure cannot be parsed.
	ErrMalformedFrame = errors.New("nasa: malformed frame")

	// ErrNotConnected is returned when the bridge connection is unavailable.
	ErrNotConnected = errors.New("nasa: not connected to bridge")

	// ErrTimeout is returned when a request receives no reply before its deadline.
	ErrTimeout = errors.New("nasa: request timed out")

	// ErrUnknownAttribute is returned for attribute ids never observed or catalogued.
	ErrUnknownAttribute = errors.New("nasa: unknown attribute")

	// ErrUnknownDevice is returned for device addresses never observed or configured.
	ErrUnknownDevice = errors.New("nasa: unknown device")

	// ErrTypeMismatch is returned when a decoded value changes kind.
	ErrTypeMismatch = errors.New("nasa: attribute type mismatch")

	// ErrRejected is returned when the device answers a request with a NACK.
	ErrRejected = errors.New("nasa: request rejected by device")

	// ErrCancelled is returned for requests pending at shutdown.
	ErrCancelled = errors.New("nasa: request cancelled")

	// ErrRequestInFlight is returned when an identical request is already pending.
	ErrRequestInFlight = errors.New("nasa: request already in flight")

	// ErrInvalidValue is returned when a value cannot be encoded for an attribute.
	ErrInvalidValue = errors.New("nasa: invalid value")

	// ErrInvalidAddress is returned when a device address cannot be parsed.
	ErrInvalidAddress = errors.New("nasa: invalid address")

	// ErrClosed is returned by operations on a closed client or session.
	ErrClosed = errors.New("nasa: closed")
)

// FramingError describes a frame that was discarded by the decoder.
type FramingError struct {
	// Err is ErrChecksum or ErrMalformedFrame.
	Err error

	// Detail is a human-readable description of the problem.
	Detail string

	// Raw holds the discarded bytes (may be truncated to the declared frame).
	Raw []byte
}

func (e *FramingError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v (%d bytes)", e.Err, len(e.Raw))
	}
	return fmt.Sprintf("%v: %s (%d bytes)", e.Err, e.Detail, len(e.Raw))
}

// Unwrap exposes both ErrFraming and the specific cause.
func (e *FramingError) Unwrap() []error {
	return []error{ErrFraming, e.Err}
}

// ConnectionError reports a transport failure towards the bridge.
type ConnectionError struct {
	Op       string
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("nasa: %s %s: not connected", e.Op, e.Endpoint)
	}
	return fmt.Sprintf("nasa: %s %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrNotConnected}
	}
	return []error{ErrNotConnected, e.Err}
}

// TimeoutError reports a request that got no reply before its deadline.
type TimeoutError struct {
	Device    Address
	Attribute AttributeID
	Class     MessageClass
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("nasa: %s %s/%s: no reply after %v", e.Class, e.Device, e.Attribute, e.After)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// UnknownAttributeError reports a lookup for a device or attribute that was
// never observed. It is returned without any network round trip.
type UnknownAttributeError struct {
	Device        Address
	Attribute     AttributeID
	UnknownDevice bool
}

func (e *UnknownAttributeError) Error() string {
	if e.UnknownDevice {
		return fmt.Sprintf("nasa: unknown device %s", e.Device)
	}
	return fmt.Sprintf("nasa: unknown attribute %s on %s", e.Attribute, e.Device)
}

func (e *UnknownAttributeError) Unwrap() []error {
	if e.UnknownDevice {
		return []error{ErrUnknownDevice, ErrUnknownAttribute}
	}
	return []error{ErrUnknownAttribute}
}

// TypeMismatchError reports a decoded value whose kind conflicts with the
// kind established by the first decode of the same attribute.
type TypeMismatchError struct {
	Device      Address
	Attribute   AttributeID
	Established Kind
	Got         Kind
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("nasa: %s/%s: established kind %s, got %s",
		e.Device, e.Attribute, e.Established, e.Got)
}

func (e *TypeMismatchError) Unwrap() error { return ErrTypeMismatch }
