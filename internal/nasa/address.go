package nasa

import (
	"fmt"
	"strconv"
	"strings"
)

// AddressClass identifies the kind of device on the NASA bus.
// It is the first byte of every 3-byte address.
type AddressClass uint8

// Known address classes.
const (
	ClassOutdoor               AddressClass = 0x10
	ClassHTU                   AddressClass = 0x11
	ClassIndoor                AddressClass = 0x20
	ClassERV                   AddressClass = 0x30
	ClassDiffuser              AddressClass = 0x35
	ClassMCU                   AddressClass = 0x38
	ClassRMC                   AddressClass = 0x40
	ClassWiredRemote           AddressClass = 0x50
	ClassPIM                   AddressClass = 0x58
	ClassSIM                   AddressClass = 0x59
	ClassPeak                  AddressClass = 0x5A
	ClassPowerDivider          AddressClass = 0x5B
	ClassOnOffController       AddressClass = 0x60
	ClassWiFiKit               AddressClass = 0x62
	ClassCentralController     AddressClass = 0x65
	ClassDMS                   AddressClass = 0x6A
	ClassJIGTester             AddressClass = 0x80
	ClassBroadcastSelfLayer    AddressClass = 0xB0
	ClassBroadcastControlLayer AddressClass = 0xB1
	ClassBroadcastSetLayer     AddressClass = 0xB2
	ClassBroadcastCSLayer      AddressClass = 0xB3
	ClassBroadcastControlSet   AddressClass = 0xB4
	ClassBroadcastModuleLayer  AddressClass = 0xB5
	ClassBroadcastCSM          AddressClass = 0xB7
	ClassBroadcastLocalLayer   AddressClass = 0xB8
	ClassBroadcastCSML         AddressClass = 0xBF
	ClassUndefined             AddressClass = 0xFF
)

var addressClassNames = map[AddressClass]string{
	ClassOutdoor:               "outdoor",
	ClassHTU:                   "htu",
	ClassIndoor:                "indoor",
	ClassERV:                   "erv",
	ClassDiffuser:              "diffuser",
	ClassMCU:                   "mcu",
	ClassRMC:                   "rmc",
	ClassWiredRemote:           "wired_remote",
	ClassPIM:                   "pim",
	ClassSIM:                   "sim",
	ClassPeak:                  "peak",
	ClassPowerDivider:          "power_divider",
	ClassOnOffController:       "on_off_controller",
	ClassWiFiKit:               "wifi_kit",
	ClassCentralController:     "central_controller",
	ClassDMS:                   "dms",
	ClassJIGTester:             "jig_tester",
	ClassBroadcastSelfLayer:    "broadcast_self_layer",
	ClassBroadcastControlLayer: "broadcast_control_layer",
	ClassBroadcastSetLayer:     "broadcast_set_layer",
	ClassBroadcastCSLayer:      "broadcast_cs_layer",
	ClassBroadcastControlSet:   "broadcast_control_and_set_layer",
	ClassBroadcastModuleLayer:  "broadcast_module_layer",
	ClassBroadcastCSM:          "broadcast_csm",
	ClassBroadcastLocalLayer:   "broadcast_local_layer",
	ClassBroadcastCSML:         "broadcast_csml",
	ClassUndefined:             "undefined",
}

func (c AddressClass) String() string {
	if name, ok := addressClassNames[c]; ok {
		return name
	}
	return fmt.Sprintf("class_0x%02X", uint8(c))
}

// addressLen is the wire size of an address.
const addressLen = 3

// Address is a 3-byte NASA device address: class, channel and unit.
//
// Textual form is three hex pairs separated by dots, e.g. "20.00.00" for the
// first indoor unit and "10.00.00" for the outdoor unit.
type Address struct {
	Class   AddressClass
	Channel uint8
	Unit    uint8
}

// BroadcastAddress is the destination used for bus-wide notifications.
var BroadcastAddress = Address{Class: ClassBroadcastSetLayer, Channel: 0xFF, Unit: 0xFF}

// ParseAddress parses a device address.
//
// Accepts formats:
//   - "20.00.00" (dotted hex)
//   - "200000" (compact hex)
//   - "0x200000"
func ParseAddress(s string) (Address, error) {
	raw := strings.TrimSpace(s)
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")

	var parts []string
	if strings.Contains(raw, ".") {
		parts = strings.Split(raw, ".")
	} else if len(raw) == 2*addressLen {
		parts = []string{raw[0:2], raw[2:4], raw[4:6]}
	}
	if len(parts) != addressLen {
		return Address{}, fmt.Errorf("%w: expected CC.HH.UU, got %q", ErrInvalidAddress, s)
	}

	var b [addressLen]uint8
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return Address{}, fmt.Errorf("%w: byte %d of %q is not hex", ErrInvalidAddress, i, s)
		}
		b[i] = uint8(v)
	}

	return Address{Class: AddressClass(b[0]), Channel: b[1], Unit: b[2]}, nil
}

// MustParseAddress is like ParseAddress but panics on error.
// Intended for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the dotted hex form, e.g. "20.00.00".
func (a Address) String() string {
	return fmt.Sprintf("%02X.%02X.%02X", uint8(a.Class), a.Channel, a.Unit)
}

// Compact returns the address without separators, e.g. "200000".
// Used in MQTT topics and database keys.
func (a Address) Compact() string {
	return fmt.Sprintf("%02X%02X%02X", uint8(a.Class), a.Channel, a.Unit)
}

// IsOutdoor reports whether the address belongs to an outdoor unit.
func (a Address) IsOutdoor() bool { return a.Class == ClassOutdoor }

// IsIndoor reports whether the address belongs to an indoor unit.
func (a Address) IsIndoor() bool { return a.Class == ClassIndoor }

// IsBroadcast reports whether the address is one of the broadcast layers.
func (a Address) IsBroadcast() bool {
	return a.Class >= ClassBroadcastSelfLayer && a.Class <= ClassBroadcastCSML
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so addresses can be used
// directly in YAML and JSON documents.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (a Address) appendTo(b []byte) []byte {
	return append(b, uint8(a.Class), a.Channel, a.Unit)
}

func addressFromBytes(b []byte) Address {
	return Address{Class: AddressClass(b[0]), Channel: b[1], Unit: b[2]}
}

// AttributeID is the 16-bit message number identifying a data point.
//
// Bits 10-9 encode the payload size of the value on the wire:
//   - 0: 1 byte (enum)
//   - 1: 2 bytes (variable)
//   - 2: 4 bytes (long variable)
//   - 3: structure (variable length, last field of a frame)
type AttributeID uint16

// structurePayload is returned by PayloadSize for structure attributes.
const structurePayload = -1

// ParseAttributeID parses a 16-bit hex attribute id such as "0x4201" or "4201".
func ParseAttributeID(s string) (AttributeID, error) {
	raw := strings.TrimSpace(s)
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	if raw == "" || len(raw) > 4 {
		return 0, fmt.Errorf("%w: attribute id must be 16-bit hex, got %q", ErrUnknownAttribute, s)
	}
	v, err := strconv.ParseUint(raw, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: attribute id must be 16-bit hex, got %q", ErrUnknownAttribute, s)
	}
	return AttributeID(v), nil
}

// String returns the id as "0x4201".
func (id AttributeID) String() string {
	return fmt.Sprintf("0x%04X", uint16(id))
}

// PayloadSize returns the fixed wire size of the id's value, or -1 for
// structure attributes whose size is given by the enclosing frame.
func (id AttributeID) PayloadSize() int {
	switch (uint16(id) >> 9) & 0x03 { //nolint:mnd // bits 10-9
	case 0:
		return 1
	case 1:
		return 2 //nolint:mnd // variable
	case 2: //nolint:mnd // long variable
		return 4 //nolint:mnd // long variable
	default:
		return structurePayload
	}
}

// IsStructure reports whether the id carries a variable-length payload.
func (id AttributeID) IsStructure() bool {
	return id.PayloadSize() == structurePayload
}

// MarshalText implements encoding.TextMarshaler.
func (id AttributeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *AttributeID) UnmarshalText(text []byte) error {
	parsed, err := ParseAttributeID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
