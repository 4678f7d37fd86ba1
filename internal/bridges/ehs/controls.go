package ehs

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"

	"github.com/nerrad567/nasa-bridge/internal/nasa"
)

// Frequency ratio control bounds, in percent.
const (
	frequencyRatioMin  = 50
	frequencyRatioMax  = 150
	frequencyRatioStep = 10
)

// hvacModeOff is the pseudo-mode that switches an indoor unit off.
const hvacModeOff = "off"

// attrWrite is one attribute write of a command plan.
type attrWrite struct {
	ID    nasa.AttributeID
	Value nasa.Value
}

// StateLookup returns the last known state of an attribute.
type StateLookup func(id nasa.AttributeID) (nasa.AttributeState, bool)

// planner turns a high-level command into an ordered list of writes.
type planner struct {
	catalog            *nasa.Catalog
	state              StateLookup
	waterOutletControl bool
}

type controlFunc func(p *planner, params map[string]any) ([]attrWrite, error)

// controls maps command names to their planners.
var controls = map[string]controlFunc{
	"set_power":                  boolControl(nasa.AttrIndoorPower, "on"),
	"set_mode":                   enumControl(nasa.AttrIndoorMode, "mode"),
	"set_hvac_mode":              (*planner).hvacMode,
	"set_target_temperature":     (*planner).targetTemperature,
	"set_dhw_power":              boolControl(nasa.AttrDHWPower, "on"),
	"set_dhw_mode":               (*planner).dhwMode,
	"set_dhw_target_temperature": numberControl(nasa.AttrDHWTarget, "temperature"),
	"set_outing_mode":            boolControl(nasa.AttrOutingMode, "on"),
	"set_quiet_mode":             boolControl(nasa.AttrQuietMode, "on"),
	"set_frequency_ratio":        (*planner).frequencyRatio,
	"write_attribute":            (*planner).writeAttribute,
}

// Commands returns the supported command names, sorted.
func Commands() []string {
	return slices.Sorted(maps.Keys(controls))
}

// plan resolves a command into writes.
//
// Returns ErrUnknownCommand, ErrInvalidParameters (also for values the
// catalog rejects) or ErrNotSupported.
func (p *planner) plan(command string, params map[string]any) ([]attrWrite, error) {
	fn, ok := controls[command]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
	return fn(p, params)
}

func (p *planner) value(id nasa.AttributeID, in any) (nasa.Value, error) {
	v, err := p.catalog.ParseValue(id, in)
	if err != nil {
		return nasa.Value{}, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	if spec, ok := p.catalog.Lookup(id); ok && v.Kind == nasa.KindNumeric && spec.Max > spec.Min {
		if v.Number < spec.Min || v.Number > spec.Max {
			return nasa.Value{}, fmt.Errorf("%w: %s must be between %v and %v", ErrInvalidParameters, spec.Name, spec.Min, spec.Max)
		}
	}
	return v, nil
}

func boolControl(id nasa.AttributeID, param string) controlFunc {
	return func(p *planner, params map[string]any) ([]attrWrite, error) {
		on, err := boolParam(params, param)
		if err != nil {
			return nil, err
		}
		return []attrWrite{{ID: id, Value: nasa.BoolValue(on)}}, nil
	}
}

func enumControl(id nasa.AttributeID, param string) controlFunc {
	return func(p *planner, params map[string]any) ([]attrWrite, error) {
		raw, ok := params[param]
		if !ok {
			return nil, fmt.Errorf("%w: %s is required", ErrInvalidParameters, param)
		}
		v, err := p.value(id, raw)
		if err != nil {
			return nil, err
		}
		return []attrWrite{{ID: id, Value: v}}, nil
	}
}

func numberControl(id nasa.AttributeID, param string) controlFunc {
	return func(p *planner, params map[string]any) ([]attrWrite, error) {
		n, err := numberParam(params, param)
		if err != nil {
			return nil, err
		}
		v, err := p.value(id, n)
		if err != nil {
			return nil, err
		}
		return []attrWrite{{ID: id, Value: v}}, nil
	}
}

// hvacMode switches the unit off, or selects a mode and powers it on.
func (p *planner) hvacMode(params map[string]any) ([]attrWrite, error) {
	mode, err := stringParam(params, "mode")
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(mode, hvacModeOff) {
		return []attrWrite{{ID: nasa.AttrIndoorPower, Value: nasa.BoolValue(false)}}, nil
	}
	v, err := p.value(nasa.AttrIndoorMode, strings.ToLower(mode))
	if err != nil {
		return nil, err
	}
	return []attrWrite{
		{ID: nasa.AttrIndoorMode, Value: v},
		{ID: nasa.AttrIndoorPower, Value: nasa.BoolValue(true)},
	}, nil
}

// dhwMode accepts "off" like hvacMode: off powers hot water down, any other
// mode powers it up and selects the mode.
func (p *planner) dhwMode(params map[string]any) ([]attrWrite, error) {
	mode, err := stringParam(params, "mode")
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(mode, hvacModeOff) {
		return []attrWrite{{ID: nasa.AttrDHWPower, Value: nasa.BoolValue(false)}}, nil
	}
	v, err := p.value(nasa.AttrDHWMode, strings.ToLower(mode))
	if err != nil {
		return nil, err
	}
	return []attrWrite{
		{ID: nasa.AttrDHWPower, Value: nasa.BoolValue(true)},
		{ID: nasa.AttrDHWMode, Value: v},
	}, nil
}

// targetTemperature picks the setpoint attribute from the current mode.
//
// With water outlet control, heat and cool write the water outlet target
// and auto writes the water law offset. Otherwise the room target is used.
func (p *planner) targetTemperature(params map[string]any) ([]attrWrite, error) {
	t, err := numberParam(params, "temperature")
	if err != nil {
		return nil, err
	}

	id := nasa.AttrRoomTarget
	if p.waterOutletControl {
		if st, ok := p.state(nasa.AttrIndoorMode); ok && !st.Value.IsZero() {
			switch st.Value.Int() {
			case nasa.ModeHeat, nasa.ModeCool:
				id = nasa.AttrWaterOutletTarget
			case nasa.ModeAuto:
				id = nasa.AttrWaterLawOffset
			}
		}
	}

	v, err := p.value(id, t)
	if err != nil {
		return nil, err
	}
	return []attrWrite{{ID: id, Value: v}}, nil
}

// frequencyRatio needs the control attribute in the catalog.
func (p *planner) frequencyRatio(params map[string]any) ([]attrWrite, error) {
	spec, ok := p.catalog.LookupName(nasa.NameCompressorFrequencyRatio)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not in the catalog", ErrNotSupported, nasa.NameCompressorFrequencyRatio)
	}
	pct, err := numberParam(params, "percent")
	if err != nil {
		return nil, err
	}
	if pct != math.Trunc(pct) || pct < frequencyRatioMin || pct > frequencyRatioMax || int(pct)%frequencyRatioStep != 0 {
		return nil, fmt.Errorf("%w: percent must be %d..%d in steps of %d",
			ErrInvalidParameters, frequencyRatioMin, frequencyRatioMax, frequencyRatioStep)
	}
	v, err := p.value(spec.ID, pct)
	if err != nil {
		return nil, err
	}
	return []attrWrite{{ID: spec.ID, Value: v}}, nil
}

// writeAttribute writes any attribute by id or catalog name.
func (p *planner) writeAttribute(params map[string]any) ([]attrWrite, error) {
	name, err := stringParam(params, "attribute")
	if err != nil {
		return nil, err
	}
	id, err := p.catalog.Resolve(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	raw, ok := params["value"]
	if !ok {
		return nil, fmt.Errorf("%w: value is required", ErrInvalidParameters)
	}
	v, err := p.value(id, raw)
	if err != nil {
		return nil, err
	}
	return []attrWrite{{ID: id, Value: v}}, nil
}

func boolParam(params map[string]any, key string) (bool, error) {
	switch v := params[key].(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(v) {
		case "on", "true":
			return true, nil
		case "off", "false":
			return false, nil
		}
	case nil:
		return false, fmt.Errorf("%w: %s is required", ErrInvalidParameters, key)
	}
	return false, fmt.Errorf("%w: %s must be a boolean", ErrInvalidParameters, key)
}

func numberParam(params map[string]any, key string) (float64, error) {
	switch v := params[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case nil:
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidParameters, key)
	}
	return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidParameters, key)
}

func stringParam(params map[string]any, key string) (string, error) {
	switch v := params[key].(type) {
	case string:
		if v == "" {
			break
		}
		return v, nil
	case nil:
	default:
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidParameters, key)
	}
	return "", fmt.Errorf("%w: %s is required", ErrInvalidParameters, key)
}
