package nasa

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Attribute scopes select which device class an attribute is polled on.
const (
	ScopeIndoor  = "indoor"
	ScopeOutdoor = "outdoor"
)

// Well-known attribute ids used by the derivation engine and the controls.
const (
	AttrIndoorPower            AttributeID = 0x4000
	AttrIndoorMode             AttributeID = 0x4001
	AttrHumidity               AttributeID = 0x4038
	AttrDHWPower               AttributeID = 0x4065
	AttrDHWMode                AttributeID = 0x4066
	AttrOutingMode             AttributeID = 0x406D
	AttrQuietMode              AttributeID = 0x406E
	AttrRoomTarget             AttributeID = 0x4201
	AttrRoomTemperature        AttributeID = 0x4203
	AttrDHWTarget              AttributeID = 0x4235
	AttrDHWTank                AttributeID = 0x4237
	AttrWaterOutlet            AttributeID = 0x4238
	AttrWaterOutletTarget      AttributeID = 0x4247
	AttrWaterLawOffset         AttributeID = 0x4248
	AttrOutdoorOperationStatus AttributeID = 0x8001
	AttrDefrostStep            AttributeID = 0x8061
	AttrOutdoorTemperature     AttributeID = 0x8204
	AttrCompressorTargetFreq   AttributeID = 0x8237
	AttrFanSpeed               AttributeID = 0x823D
	AttrOutdoorTopSensorTemp   AttributeID = 0x8280
)

// NameCompressorFrequencyRatio is the catalog name of the compressor
// frequency ratio control. It has no built-in id and must come from a
// catalog file.
const NameCompressorFrequencyRatio = "compressor_frequency_ratio"

// AttributeSpec is the catalog metadata for one attribute id.
type AttributeSpec struct {
	ID   AttributeID `yaml:"id"`
	Name string      `yaml:"name"`
	Kind Kind        `yaml:"kind"`

	// Scale multiplies the wire integer into engineering units (default 1).
	Scale float64 `yaml:"scale,omitempty"`

	// Unsigned selects unsigned decoding of numeric values.
	Unsigned bool `yaml:"unsigned,omitempty"`

	Unit     string `yaml:"unit,omitempty"`
	Writable bool   `yaml:"writable,omitempty"`

	// Min and Max bound writes when Max > Min.
	Min  float64 `yaml:"min,omitempty"`
	Max  float64 `yaml:"max,omitempty"`
	Step float64 `yaml:"step,omitempty"`

	// Options names enum values, e.g. 4: heat.
	Options map[int]string `yaml:"options,omitempty"`

	// Poll marks the attribute as tracked by default on devices of Scope.
	Poll  bool   `yaml:"poll,omitempty"`
	Scope string `yaml:"scope,omitempty"`
}

func (s AttributeSpec) scale() float64 {
	if s.Scale == 0 {
		return 1
	}
	return s.Scale
}

// OptionValue resolves an enum option name to its integer.
func (s AttributeSpec) OptionValue(name string) (int, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for v, n := range s.Options {
		if n == name {
			return v, true
		}
	}
	return 0, false
}

// OptionName returns the name for an enum integer, if catalogued.
func (s AttributeSpec) OptionName(v int) (string, bool) {
	n, ok := s.Options[v]
	return n, ok
}

// Catalog maps attribute ids to their metadata.
//
// A Catalog is immutable once built and safe for concurrent use. Attributes
// that are not catalogued still decode, with a kind inferred from their wire
// size.
type Catalog struct {
	byID   map[AttributeID]AttributeSpec
	byName map[string]AttributeID
}

// NewCatalog builds a catalog from specs. Later specs replace earlier ones
// with the same id.
func NewCatalog(specs ...AttributeSpec) (*Catalog, error) {
	c := &Catalog{
		byID:   make(map[AttributeID]AttributeSpec, len(specs)),
		byName: make(map[string]AttributeID, len(specs)),
	}
	for _, s := range specs {
		if err := c.add(s); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) add(s AttributeSpec) error {
	if s.Name == "" {
		return fmt.Errorf("catalog: attribute %s has no name", s.ID)
	}
	if s.Kind == KindUnknown {
		return fmt.Errorf("catalog: attribute %s (%s) has no kind", s.ID, s.Name)
	}
	if s.ID.IsStructure() != (s.Kind == KindRaw) {
		return fmt.Errorf("catalog: attribute %s: kind raw is reserved for structure ids", s.ID)
	}
	if s.Scope != "" && s.Scope != ScopeIndoor && s.Scope != ScopeOutdoor {
		return fmt.Errorf("catalog: attribute %s has unknown scope %q", s.ID, s.Scope)
	}
	if other, ok := c.byName[s.Name]; ok && other != s.ID {
		return fmt.Errorf("catalog: name %q used by %s and %s", s.Name, other, s.ID)
	}
	if old, ok := c.byID[s.ID]; ok {
		delete(c.byName, old.Name)
	}
	c.byID[s.ID] = s
	c.byName[s.Name] = s.ID
	return nil
}

func (c *Catalog) clone() *Catalog {
	out := &Catalog{
		byID:   make(map[AttributeID]AttributeSpec, len(c.byID)),
		byName: make(map[string]AttributeID, len(c.byName)),
	}
	for id, s := range c.byID {
		out.byID[id] = s
	}
	for n, id := range c.byName {
		out.byName[n] = id
	}
	return out
}

var (
	modeOptions = map[int]string{
		0: "auto", 1: "cool", 2: "dry", 3: "fan", 4: "heat", 21: "cool_storage", 24: "hot_water",
	}
	dhwModeOptions = map[int]string{
		0: "eco", 1: "standard", 2: "power", 3: "force",
	}
	outdoorStatusOptions = map[int]string{
		0: "stop", 1: "safety", 2: "normal", 3: "balance", 4: "recovery",
		5: "preventive", 6: "oil_recovery", 7: "defrost",
	}
)

// DefaultCatalog returns the built-in catalog for Samsung EHS heat pumps.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(defaultSpecs()...)
	if err != nil {
		panic(err) // built-in table is static
	}
	return c
}

func defaultSpecs() []AttributeSpec {
	return []AttributeSpec{
		{ID: AttrIndoorPower, Name: "indoor_power", Kind: KindBoolean, Writable: true, Poll: true, Scope: ScopeIndoor},
		{ID: AttrIndoorMode, Name: "indoor_mode", Kind: KindEnum, Writable: true, Options: modeOptions, Poll: true, Scope: ScopeIndoor},
		{ID: AttrHumidity, Name: "humidity", Kind: KindNumeric, Unsigned: true, Unit: "%", Scope: ScopeIndoor},
		{ID: AttrDHWPower, Name: "dhw_power", Kind: KindBoolean, Writable: true, Poll: true, Scope: ScopeIndoor},
		{ID: AttrDHWMode, Name: "dhw_mode", Kind: KindEnum, Writable: true, Options: dhwModeOptions, Poll: true, Scope: ScopeIndoor},
		{ID: AttrOutingMode, Name: "outing_mode", Kind: KindBoolean, Writable: true, Poll: true, Scope: ScopeIndoor},
		{ID: AttrQuietMode, Name: "quiet_mode", Kind: KindBoolean, Writable: true, Poll: true, Scope: ScopeIndoor},
		{ID: AttrRoomTarget, Name: "room_target", Kind: KindNumeric, Scale: 0.1, Unit: "°C", Writable: true, Min: 8, Max: 30, Step: 0.5, Poll: true, Scope: ScopeIndoor},
		{ID: AttrRoomTemperature, Name: "room_temperature", Kind: KindNumeric, Scale: 0.1, Unit: "°C", Poll: true, Scope: ScopeIndoor},
		{ID: AttrDHWTarget, Name: "dhw_target", Kind: KindNumeric, Scale: 0.1, Unit: "°C", Writable: true, Min: 30, Max: 70, Step: 1, Poll: true, Scope: ScopeIndoor},
		{ID: AttrDHWTank, Name: "dhw_tank_temperature", Kind: KindNumeric, Scale: 0.1, Unit: "°C", Poll: true, Scope: ScopeIndoor},
		{ID: AttrWaterOutlet, Name: "water_outlet_temperature", Kind: KindNumeric, Scale: 0.1, Unit: "°C", Poll: true, Scope: ScopeIndoor},
		{ID: AttrWaterOutletTarget, Name: "water_outlet_target", Kind: KindNumeric, Scale: 0.1, Unit: "°C", Writable: true, Scope: ScopeIndoor},
		{ID: AttrWaterLawOffset, Name: "water_law_offset", Kind: KindNumeric, Scale: 0.1, Unit: "°C", Writable: true, Min: -5, Max: 5, Step: 0.5, Scope: ScopeIndoor},
		{ID: AttrOutdoorOperationStatus, Name: "outdoor_operation_status", Kind: KindEnum, Options: outdoorStatusOptions, Poll: true, Scope: ScopeOutdoor},
		{ID: AttrDefrostStep, Name: "defrost_step", Kind: KindEnum, Poll: true, Scope: ScopeOutdoor},
		{ID: AttrOutdoorTemperature, Name: "outdoor_temperature", Kind: KindNumeric, Scale: 0.1, Unit: "°C", Poll: true, Scope: ScopeOutdoor},
		{ID: AttrCompressorTargetFreq, Name: "compressor_target_frequency", Kind: KindNumeric, Unsigned: true, Unit: "Hz", Poll: true, Scope: ScopeOutdoor},
		{ID: AttrFanSpeed, Name: "fan_speed", Kind: KindNumeric, Unsigned: true, Unit: "rpm", Poll: true, Scope: ScopeOutdoor},
		{ID: AttrOutdoorTopSensorTemp, Name: "outdoor_top_sensor_temperature_1", Kind: KindNumeric, Scale: 0.1, Unit: "°C", Scope: ScopeOutdoor},
	}
}

// catalogFile is the on-disk YAML layout.
type catalogFile struct {
	Attributes []AttributeSpec `yaml:"attributes"`
}

// LoadCatalog reads a YAML catalog file and layers it over base.
//
// Entries with an id already in base replace it; new ids are added. A nil
// base starts from an empty catalog.
//
// Example file:
//
//	attributes:
//	  - id: "0x42F1"
//	    name: compressor_frequency_ratio
//	    kind: numeric
//	    unsigned: true
//	    unit: "%"
//	    writable: true
//	    min: 50
//	    max: 150
//	    step: 10
func LoadCatalog(path string, base *Catalog) (*Catalog, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator configuration
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}

	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog file: %w", err)
	}

	out := &Catalog{byID: map[AttributeID]AttributeSpec{}, byName: map[string]AttributeID{}}
	if base != nil {
		out = base.clone()
	}
	for i, s := range f.Attributes {
		if err := out.add(s); err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i, err)
		}
	}
	return out, nil
}

// Lookup returns the spec for id.
func (c *Catalog) Lookup(id AttributeID) (AttributeSpec, bool) {
	s, ok := c.byID[id]
	return s, ok
}

// LookupName returns the spec registered under name.
func (c *Catalog) LookupName(name string) (AttributeSpec, bool) {
	id, ok := c.byName[name]
	if !ok {
		return AttributeSpec{}, false
	}
	return c.byID[id], true
}

// Resolve returns the id named by s, which is either a catalog name
// ("room_target") or a hex id ("0x4201"). Names take precedence.
func (c *Catalog) Resolve(s string) (AttributeID, error) {
	if spec, ok := c.LookupName(strings.TrimSpace(s)); ok {
		return spec.ID, nil
	}
	return ParseAttributeID(s)
}

// Specs returns every spec ordered by id.
func (c *Catalog) Specs() []AttributeSpec {
	out := make([]AttributeSpec, 0, len(c.byID))
	for _, s := range c.byID {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b AttributeSpec) int { return int(a.ID) - int(b.ID) })
	return out
}

// DefaultTracked returns the ids polled by default on devices of class.
func (c *Catalog) DefaultTracked(class AddressClass) []AttributeID {
	var scope string
	switch class {
	case ClassIndoor:
		scope = ScopeIndoor
	case ClassOutdoor:
		scope = ScopeOutdoor
	default:
		return nil
	}

	var ids []AttributeID
	for _, s := range c.Specs() {
		if s.Poll && s.Scope == scope {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// KindOf returns the kind a value for id decodes to.
func (c *Catalog) KindOf(id AttributeID) Kind {
	if s, ok := c.byID[id]; ok {
		return s.Kind
	}
	return inferKind(id)
}

func inferKind(id AttributeID) Kind {
	switch id.PayloadSize() {
	case 1:
		return KindEnum
	case structurePayload:
		return KindRaw
	default:
		return KindNumeric
	}
}

// Decode converts wire bytes into a Value.
//
// A boolean attribute only accepts 0 and 1; any other byte decodes as an
// enum so the registry reports the kind conflict instead of coercing it.
func (c *Catalog) Decode(id AttributeID, raw []byte) (Value, error) {
	size := id.PayloadSize()
	if size != structurePayload && len(raw) != size {
		return Value{}, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrInvalidValue, id, size, len(raw))
	}

	spec, ok := c.byID[id]
	if !ok {
		spec = AttributeSpec{ID: id, Kind: inferKind(id), Unsigned: size == 1}
	}

	switch spec.Kind {
	case KindRaw:
		return RawValue(raw), nil
	case KindBoolean:
		n := readUint(raw)
		if n > 1 {
			return EnumValue(int(n)), nil //nolint:gosec // at most 4 bytes
		}
		return BoolValue(n == 1), nil
	case KindEnum:
		return EnumValue(int(readUint(raw))), nil //nolint:gosec // at most 4 bytes
	default:
		var n float64
		if spec.Unsigned {
			n = float64(readUint(raw))
		} else {
			n = float64(readInt(raw))
		}
		return NumericValue(roundScaled(n * spec.scale())), nil
	}
}

// Encode converts a value into wire bytes for id.
//
// Returns ErrInvalidValue when the value's kind does not match the catalog,
// falls outside the catalogued bounds, or does not fit the wire size.
func (c *Catalog) Encode(id AttributeID, v Value) ([]byte, error) {
	spec, ok := c.byID[id]
	if !ok {
		spec = AttributeSpec{ID: id, Kind: inferKind(id), Unsigned: id.PayloadSize() == 1}
	}

	size := id.PayloadSize()
	if size == structurePayload {
		if v.Kind != KindRaw {
			return nil, fmt.Errorf("%w: structure %s needs raw bytes", ErrInvalidValue, id)
		}
		return cloneBytes(v.Raw), nil
	}

	if v.Kind == KindRaw {
		if len(v.Raw) != size {
			return nil, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrInvalidValue, id, size, len(v.Raw))
		}
		return cloneBytes(v.Raw), nil
	}

	if spec.Kind == KindBoolean && v.Kind != KindBoolean {
		return nil, fmt.Errorf("%w: %s is boolean, got %s", ErrInvalidValue, id, v.Kind)
	}
	if spec.Kind == KindEnum && len(spec.Options) > 0 {
		if _, ok := spec.Options[v.Int()]; !ok {
			return nil, fmt.Errorf("%w: %s has no option %d", ErrInvalidValue, id, v.Int())
		}
	}
	if spec.Max > spec.Min && (v.Number < spec.Min || v.Number > spec.Max) {
		return nil, fmt.Errorf("%w: %s value %v outside [%v, %v]", ErrInvalidValue, id, v.Number, spec.Min, spec.Max)
	}

	n := v.Number
	if spec.Kind == KindNumeric {
		n /= spec.scale()
	}
	wire := int64(math.Round(n))

	lo, hi := intRange(size, spec.Unsigned || spec.Kind != KindNumeric)
	if wire < lo || wire > hi {
		return nil, fmt.Errorf("%w: %s value %v does not fit %d bytes", ErrInvalidValue, id, v.Number, size)
	}

	buf := make([]byte, size)
	switch size {
	case 1:
		buf[0] = byte(wire)
	case 2: //nolint:mnd // variable
		binary.BigEndian.PutUint16(buf, uint16(wire)) //nolint:gosec // range checked above
	default:
		binary.BigEndian.PutUint32(buf, uint32(wire)) //nolint:gosec // range checked above
	}
	return buf, nil
}

// ParseValue converts user input (CLI flag, JSON payload) into a Value for id.
//
// Accepted inputs:
//   - bool, or "on"/"off"/"true"/"false" for boolean attributes
//   - an option name such as "heat" for enum attributes with options
//   - any JSON or text number
//   - a hex string for structure attributes
//
// The parsed value is checked against the catalogued bounds, options and
// wire size, so a value ParseValue accepts always encodes.
func (c *Catalog) ParseValue(id AttributeID, in any) (Value, error) {
	v, err := c.parseValue(id, in)
	if err != nil {
		return Value{}, err
	}
	if _, err := c.Encode(id, v); err != nil {
		return Value{}, err
	}
	return v, nil
}

func (c *Catalog) parseValue(id AttributeID, in any) (Value, error) {
	spec, ok := c.byID[id]
	if !ok {
		spec = AttributeSpec{ID: id, Kind: inferKind(id)}
	}

	switch x := in.(type) {
	case Value:
		return x, nil
	case bool:
		if spec.Kind != KindBoolean {
			return Value{}, fmt.Errorf("%w: %s is %s, got bool", ErrInvalidValue, id, spec.Kind)
		}
		return BoolValue(x), nil
	case float64:
		return numberValue(spec, x)
	case int:
		return numberValue(spec, float64(x))
	case int64:
		return numberValue(spec, float64(x))
	case string:
		return parseStringValue(spec, x)
	default:
		return Value{}, fmt.Errorf("%w: unsupported value type %T", ErrInvalidValue, in)
	}
}

func numberValue(spec AttributeSpec, n float64) (Value, error) {
	switch spec.Kind {
	case KindBoolean:
		if n != 0 && n != 1 {
			return Value{}, fmt.Errorf("%w: %s is boolean, got %v", ErrInvalidValue, spec.ID, n)
		}
		return BoolValue(n == 1), nil
	case KindEnum:
		if n != math.Trunc(n) {
			return Value{}, fmt.Errorf("%w: %s is an enum, got %v", ErrInvalidValue, spec.ID, n)
		}
		return EnumValue(int(n)), nil
	case KindRaw:
		return Value{}, fmt.Errorf("%w: %s is a structure, expected hex", ErrInvalidValue, spec.ID)
	default:
		return NumericValue(n), nil
	}
}

func parseStringValue(spec AttributeSpec, s string) (Value, error) {
	s = strings.TrimSpace(s)

	switch spec.Kind {
	case KindRaw:
		b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
		if err != nil {
			return Value{}, fmt.Errorf("%w: %s expects hex: %v", ErrInvalidValue, spec.ID, err)
		}
		return RawValue(b), nil
	case KindBoolean:
		switch strings.ToLower(s) {
		case "on", "true", "1", "yes":
			return BoolValue(true), nil
		case "off", "false", "0", "no":
			return BoolValue(false), nil
		}
		return Value{}, fmt.Errorf("%w: %s is boolean, got %q", ErrInvalidValue, spec.ID, s)
	case KindEnum:
		if v, ok := spec.OptionValue(s); ok {
			return EnumValue(v), nil
		}
	}

	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %s cannot parse %q", ErrInvalidValue, spec.ID, s)
	}
	return numberValue(spec, n)
}

func readUint(raw []byte) uint32 {
	var n uint32
	for _, b := range raw {
		n = n<<8 | uint32(b)
	}
	return n
}

func readInt(raw []byte) int64 {
	switch len(raw) {
	case 1:
		return int64(int8(raw[0])) //nolint:gosec // sign reinterpretation
	case 2: //nolint:mnd // variable
		return int64(int16(binary.BigEndian.Uint16(raw))) //nolint:gosec // sign reinterpretation
	case 4: //nolint:mnd // long variable
		return int64(int32(binary.BigEndian.Uint32(raw))) //nolint:gosec // sign reinterpretation
	default:
		return 0
	}
}

func intRange(size int, unsigned bool) (lo, hi int64) {
	bits := uint(size * 8) //nolint:gosec,mnd // size is 1, 2 or 4
	if unsigned {
		return 0, 1<<bits - 1
	}
	return -(1 << (bits - 1)), 1<<(bits-1) - 1
}

// roundScaled trims binary noise from scaled values, e.g. 215*0.1.
func roundScaled(f float64) float64 {
	const places = 1e6
	return math.Round(f*places) / places
}
