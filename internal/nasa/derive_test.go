package nasa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestDeriveHVACAction(t *testing.T) {
	tests := []struct {
		name string
		in   HVACInputs
		want HVACAction
	}{
		{name: "nothing observed", in: HVACInputs{}, want: ActionUnknown},
		{name: "power off wins", in: HVACInputs{Power: ptr(false)}, want: ActionOff},
		{name: "power off with defrost", in: HVACInputs{Power: ptr(false), DefrostStep: ptr(3), OutdoorStatus: ptr(OutdoorSafety)}, want: ActionOff},
		{name: "outdoor unknown", in: HVACInputs{Power: ptr(true), Mode: ptr(ModeHeat)}, want: ActionUnknown},
		{name: "preheating", in: HVACInputs{Power: ptr(true), OutdoorStatus: ptr(OutdoorSafety)}, want: ActionPreheating},
		{name: "preheating beats defrost", in: HVACInputs{Power: ptr(true), OutdoorStatus: ptr(OutdoorSafety), DefrostStep: ptr(2)}, want: ActionPreheating},
		{name: "defrost unknown", in: HVACInputs{Power: ptr(true), OutdoorStatus: ptr(OutdoorNormal), Mode: ptr(ModeHeat)}, want: ActionUnknown},
		{name: "defrosting", in: HVACInputs{Power: ptr(true), OutdoorStatus: ptr(OutdoorNormal), DefrostStep: ptr(1), Mode: ptr(ModeHeat)}, want: ActionDefrosting},
		{name: "defrost 0xFF inactive", in: HVACInputs{Power: ptr(true), OutdoorStatus: ptr(OutdoorNormal), DefrostStep: ptr(0xFF), Mode: ptr(ModeHeat)}, want: ActionHeating},
		{name: "mode unknown", in: HVACInputs{Power: ptr(true), OutdoorStatus: ptr(OutdoorNormal), DefrostStep: ptr(0)}, want: ActionUnknown},
		{name: "heating", in: HVACInputs{Power: ptr(true), OutdoorStatus: ptr(OutdoorNormal), DefrostStep: ptr(0), Mode: ptr(ModeHeat)}, want: ActionHeating},
		{name: "cooling", in: HVACInputs{Power: ptr(true), OutdoorStatus: ptr(OutdoorNormal), DefrostStep: ptr(0), Mode: ptr(ModeCool)}, want: ActionCooling},
		{name: "heat mode outdoor stopped", in: HVACInputs{Power: ptr(true), OutdoorStatus: ptr(OutdoorStop), DefrostStep: ptr(0), Mode: ptr(ModeHeat)}, want: ActionIdle},
		{name: "fan mode", in: HVACInputs{Power: ptr(true), OutdoorStatus: ptr(OutdoorNormal), DefrostStep: ptr(0), Mode: ptr(ModeFan)}, want: ActionIdle},
		{name: "auto mode", in: HVACInputs{Power: ptr(true), OutdoorStatus: ptr(OutdoorNormal), DefrostStep: ptr(0), Mode: ptr(ModeAuto)}, want: ActionIdle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveHVACAction(tt.in))
		})
	}
}

func TestHVACActionText(t *testing.T) {
	b, err := ActionDefrosting.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "defrosting", string(b))
	assert.Equal(t, "unknown", HVACAction(99).String())
}

func TestDeriverFollowsRegistry(t *testing.T) {
	r := newTestRegistry()
	d := NewDeriver(r, nil)

	var changes []DerivedChange
	d.OnChange(func(c DerivedChange) { changes = append(changes, c) })

	r.Apply(notification(indoor, field(AttrIndoorPower, 1), field(AttrIndoorMode, ModeHeat)))
	assert.Equal(t, ActionUnknown, d.Action(indoor), "outdoor unit not yet seen")

	r.Apply(notification(outdoor, field(AttrOutdoorOperationStatus, OutdoorNormal), field(AttrDefrostStep, 0)))
	assert.Equal(t, ActionHeating, d.Action(indoor))

	r.Apply(notification(outdoor, field(AttrDefrostStep, 2)))
	assert.Equal(t, ActionDefrosting, d.Action(indoor))

	r.Apply(notification(indoor, field(AttrIndoorPower, 0)))
	assert.Equal(t, ActionOff, d.Action(indoor))

	var seq []HVACAction
	for _, c := range changes {
		assert.Equal(t, indoor, c.Device)
		seq = append(seq, c.New)
	}
	assert.Equal(t, []HVACAction{ActionUnknown, ActionHeating, ActionDefrosting, ActionOff}, seq)
	assert.Equal(t, map[Address]HVACAction{indoor: ActionOff}, d.Actions())
}

func TestDeriverIgnoresUnrelatedChanges(t *testing.T) {
	r := newTestRegistry()
	d := NewDeriver(r, nil)

	var n int
	d.OnChange(func(DerivedChange) { n++ })

	r.Apply(notification(indoor, field(AttrRoomTemperature, 0x00, 0xD7)))
	r.Apply(notification(outdoor, field(AttrOutdoorTemperature, 0x00, 0x10)))
	assert.Zero(t, n)
}

func TestDeriverExplicitOutdoor(t *testing.T) {
	r := newTestRegistry()
	second := MustParseAddress("10.00.01")
	d := NewDeriver(r, func() (Address, bool) { return second, true })

	r.Apply(notification(indoor, field(AttrIndoorPower, 1), field(AttrIndoorMode, ModeCool)))
	r.Apply(notification(outdoor, field(AttrOutdoorOperationStatus, OutdoorSafety), field(AttrDefrostStep, 0)))
	assert.Equal(t, ActionUnknown, d.Action(indoor), "first outdoor unit is not the configured one")

	r.Apply(notification(second, field(AttrOutdoorOperationStatus, OutdoorNormal), field(AttrDefrostStep, 0)))
	assert.Equal(t, ActionCooling, d.Action(indoor))
}

func TestDeriverRejectedInputIsUnknown(t *testing.T) {
	r := newTestRegistry()
	d := NewDeriver(r, nil)

	r.Apply(notification(indoor, field(AttrIndoorPower, 0)))
	assert.Equal(t, ActionOff, d.Action(indoor))

	r.Apply(notification(indoor, field(AttrIndoorPower, 5)))
	assert.Equal(t, ActionUnknown, d.Action(indoor))
}
