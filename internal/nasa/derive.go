package nasa

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// HVACAction is the derived activity of an indoor unit.
type HVACAction uint8

// HVAC actions.
const (
	ActionUnknown HVACAction = iota
	ActionOff
	ActionHeating
	ActionCooling
	ActionIdle
	ActionPreheating
	ActionDefrosting
)

func (a HVACAction) String() string {
	switch a {
	case ActionOff:
		return "off"
	case ActionHeating:
		return "heating"
	case ActionCooling:
		return "cooling"
	case ActionIdle:
		return "idle"
	case ActionPreheating:
		return "preheating"
	case ActionDefrosting:
		return "defrosting"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a HVACAction) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// Indoor operation modes (0x4001).
const (
	ModeAuto = 0
	ModeCool = 1
	ModeDry  = 2
	ModeFan  = 3
	ModeHeat = 4
)

// Outdoor operation status values (0x8001).
const (
	OutdoorStop   = 0
	OutdoorSafety = 1
	OutdoorNormal = 2
)

// defrostInactive is reported by some units instead of 0.
const defrostInactive = 0xFF

// HVACInputs are the raw attributes the action is derived from.
// A nil field means the attribute has not been observed.
type HVACInputs struct {
	Power         *bool
	Mode          *int
	OutdoorStatus *int
	DefrostStep   *int
}

// DeriveHVACAction computes the HVAC action from its inputs.
//
// Precedence, first match wins:
//  1. power off -> Off
//  2. outdoor status safety -> Preheating
//  3. defrost active -> Defrosting
//  4. mode heat and outdoor normal -> Heating
//  5. mode cool and outdoor normal -> Cooling
//  6. otherwise Idle
//
// Inputs are consulted in that order; if one is needed and unobserved
// before a rule decides, the result is Unknown.
func DeriveHVACAction(in HVACInputs) HVACAction {
	if in.Power == nil {
		return ActionUnknown
	}
	if !*in.Power {
		return ActionOff
	}

	if in.OutdoorStatus == nil {
		return ActionUnknown
	}
	if *in.OutdoorStatus == OutdoorSafety {
		return ActionPreheating
	}

	if in.DefrostStep == nil {
		return ActionUnknown
	}
	if defrostActive(*in.DefrostStep) {
		return ActionDefrosting
	}

	if in.Mode == nil {
		return ActionUnknown
	}
	if *in.OutdoorStatus == OutdoorNormal {
		switch *in.Mode {
		case ModeHeat:
			return ActionHeating
		case ModeCool:
			return ActionCooling
		}
	}
	return ActionIdle
}

func defrostActive(step int) bool {
	return step != 0 && step != defrostInactive
}

// DerivedChange reports a new HVAC action for an indoor unit.
type DerivedChange struct {
	Device Address
	Old    HVACAction
	New    HVACAction
	At     time.Time
}

// Deriver keeps the HVAC action of every indoor unit current.
//
// Power and mode come from the indoor unit; outdoor status and defrost step
// come from the outdoor unit, which serves every indoor unit. The action is
// recomputed on each relevant registry change and listeners are told only
// when it differs.
type Deriver struct {
	registry *Registry
	outdoor  func() (Address, bool)

	mu        sync.Mutex
	actions   map[Address]HVACAction
	listeners []func(DerivedChange)

	log logHolder
}

// NewDeriver subscribes a deriver to registry changes. outdoor resolves
// the outdoor unit address; nil uses the first observed outdoor device.
func NewDeriver(registry *Registry, outdoor func() (Address, bool)) *Deriver {
	d := &Deriver{
		registry: registry,
		outdoor:  outdoor,
		actions:  make(map[Address]HVACAction),
	}
	if d.outdoor == nil {
		d.outdoor = d.firstOutdoor
	}
	registry.SubscribeAll(d.onChange)
	return d
}

// SetLogger sets the logger for this deriver.
func (d *Deriver) SetLogger(logger Logger) {
	d.log.set(logger)
}

// OnChange registers fn for HVAC action changes.
func (d *Deriver) OnChange(fn func(DerivedChange)) {
	d.mu.Lock()
	d.listeners = append(d.listeners, fn)
	d.mu.Unlock()
}

// Action returns the current derived action of an indoor unit.
func (d *Deriver) Action(device Address) HVACAction {
	return DeriveHVACAction(d.inputs(device))
}

// Actions returns the last computed action per indoor unit.
func (d *Deriver) Actions() map[Address]HVACAction {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[Address]HVACAction, len(d.actions))
	for k, v := range d.actions {
		out[k] = v
	}
	return out
}

func (d *Deriver) onChange(c Change) {
	switch c.ID {
	case AttrIndoorPower, AttrIndoorMode:
		if c.Device.IsIndoor() {
			d.recompute(c.Device, c.At)
		}
	case AttrOutdoorOperationStatus, AttrDefrostStep:
		if !c.Device.IsOutdoor() {
			return
		}
		for _, dev := range d.registry.Devices() {
			if dev.IsIndoor() {
				d.recompute(dev, c.At)
			}
		}
	}
}

// Recompute re-evaluates every indoor unit, e.g. after a snapshot restore.
func (d *Deriver) Recompute() {
	now := time.Now()
	for _, dev := range d.registry.Devices() {
		if dev.IsIndoor() {
			d.recompute(dev, now)
		}
	}
}

func (d *Deriver) recompute(device Address, at time.Time) {
	action := DeriveHVACAction(d.inputs(device))

	d.mu.Lock()
	old, seen := d.actions[device]
	if seen && old == action {
		d.mu.Unlock()
		return
	}
	d.actions[device] = action
	fns := slices.Clone(d.listeners)
	d.mu.Unlock()

	change := DerivedChange{Device: device, Old: old, New: action, At: at}
	d.log.get().Debug("nasa hvac action changed", "device", device.String(), "from", old.String(), "to", action.String())
	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.log.get().Error("nasa derived callback panic", "error", fmt.Sprint(r))
				}
			}()
			fn(change)
		}()
	}
}

func (d *Deriver) inputs(indoor Address) HVACInputs {
	var in HVACInputs
	if st, ok := d.registry.Get(indoor, AttrIndoorPower); ok && !st.Rejected {
		v := st.Value.Bool()
		in.Power = &v
	}
	if st, ok := d.registry.Get(indoor, AttrIndoorMode); ok && !st.Rejected {
		v := st.Value.Int()
		in.Mode = &v
	}
	if out, ok := d.outdoor(); ok {
		if st, ok := d.registry.Get(out, AttrOutdoorOperationStatus); ok && !st.Rejected {
			v := st.Value.Int()
			in.OutdoorStatus = &v
		}
		if st, ok := d.registry.Get(out, AttrDefrostStep); ok && !st.Rejected {
			v := st.Value.Int()
			in.DefrostStep = &v
		}
	}
	return in
}

func (d *Deriver) firstOutdoor() (Address, bool) {
	for _, dev := range d.registry.Devices() {
		if dev.IsOutdoor() {
			return dev, true
		}
	}
	return Address{}, false
}
