package ehs

import (
	"errors"
	"slices"
	"testing"

	"github.com/nerrad567/nasa-bridge/internal/nasa"
)

func newTestPlanner(t *testing.T, catalog *nasa.Catalog) *planner {
	t.Helper()
	if catalog == nil {
		catalog = nasa.DefaultCatalog()
	}
	return &planner{
		catalog: catalog,
		state:   func(nasa.AttributeID) (nasa.AttributeState, bool) { return nasa.AttributeState{}, false },
	}
}

func TestPlan_SimpleControls(t *testing.T) {
	tests := []struct {
		command string
		params  map[string]any
		id      nasa.AttributeID
		want    nasa.Value
	}{
		{"set_power", map[string]any{"on": true}, nasa.AttrIndoorPower, nasa.BoolValue(true)},
		{"set_power", map[string]any{"on": "off"}, nasa.AttrIndoorPower, nasa.BoolValue(false)},
		{"set_mode", map[string]any{"mode": "cool"}, nasa.AttrIndoorMode, nasa.EnumValue(nasa.ModeCool)},
		{"set_mode", map[string]any{"mode": 4.0}, nasa.AttrIndoorMode, nasa.EnumValue(nasa.ModeHeat)},
		{"set_dhw_power", map[string]any{"on": false}, nasa.AttrDHWPower, nasa.BoolValue(false)},
		{"set_dhw_target_temperature", map[string]any{"temperature": 48.0}, nasa.AttrDHWTarget, nasa.NumericValue(48)},
		{"set_outing_mode", map[string]any{"on": true}, nasa.AttrOutingMode, nasa.BoolValue(true)},
		{"set_quiet_mode", map[string]any{"on": "true"}, nasa.AttrQuietMode, nasa.BoolValue(true)},
		{"write_attribute", map[string]any{"attribute": "0x4201", "value": 22.5}, nasa.AttrRoomTarget, nasa.NumericValue(22.5)},
		{"write_attribute", map[string]any{"attribute": "dhw_mode", "value": "eco"}, nasa.AttrDHWMode, nasa.EnumValue(0)},
	}

	p := newTestPlanner(t, nil)
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			writes, err := p.plan(tt.command, tt.params)
			if err != nil {
				t.Fatalf("plan() error = %v", err)
			}
			if len(writes) != 1 {
				t.Fatalf("writes = %d, want 1", len(writes))
			}
			if writes[0].ID != tt.id {
				t.Errorf("ID = %s, want %s", writes[0].ID, tt.id)
			}
			if !writes[0].Value.Equal(tt.want) {
				t.Errorf("Value = %s, want %s", writes[0].Value, tt.want)
			}
		})
	}
}

func TestPlan_HVACModeOff(t *testing.T) {
	p := newTestPlanner(t, nil)

	writes, err := p.plan("set_hvac_mode", map[string]any{"mode": "OFF"})
	if err != nil {
		t.Fatalf("plan() error = %v", err)
	}
	if len(writes) != 1 || writes[0].ID != nasa.AttrIndoorPower || writes[0].Value.Bool() {
		t.Errorf("writes = %+v, want single power off", writes)
	}
}

func TestPlan_DHWMode(t *testing.T) {
	p := newTestPlanner(t, nil)

	writes, err := p.plan("set_dhw_mode", map[string]any{"mode": "force"})
	if err != nil {
		t.Fatalf("plan() error = %v", err)
	}
	if len(writes) != 2 {
		t.Fatalf("writes = %d, want power then mode", len(writes))
	}
	if writes[0].ID != nasa.AttrDHWPower || !writes[0].Value.Bool() {
		t.Errorf("first write = %+v", writes[0])
	}
	if writes[1].ID != nasa.AttrDHWMode || writes[1].Value.Int() != 3 {
		t.Errorf("second write = %+v", writes[1])
	}

	writes, err = p.plan("set_dhw_mode", map[string]any{"mode": "off"})
	if err != nil {
		t.Fatalf("plan() error = %v", err)
	}
	if len(writes) != 1 || writes[0].ID != nasa.AttrDHWPower || writes[0].Value.Bool() {
		t.Errorf("off writes = %+v", writes)
	}
}

func TestPlan_InvalidParameters(t *testing.T) {
	tests := []struct {
		name    string
		command string
		params  map[string]any
	}{
		{"missing on", "set_power", nil},
		{"wrong type on", "set_power", map[string]any{"on": 3.0}},
		{"unknown mode", "set_mode", map[string]any{"mode": "turbo"}},
		{"missing mode", "set_hvac_mode", map[string]any{}},
		{"numeric hvac mode", "set_hvac_mode", map[string]any{"mode": 4.0}},
		{"room target too high", "set_target_temperature", map[string]any{"temperature": 45.0}},
		{"room target not a number", "set_target_temperature", map[string]any{"temperature": "warm"}},
		{"dhw target too low", "set_dhw_target_temperature", map[string]any{"temperature": 10.0}},
		{"write without value", "write_attribute", map[string]any{"attribute": "room_target"}},
		{"write unknown name", "write_attribute", map[string]any{"attribute": "warp_drive", "value": 1.0}},
	}

	p := newTestPlanner(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.plan(tt.command, tt.params)
			if !errors.Is(err, ErrInvalidParameters) {
				t.Errorf("plan() error = %v, want ErrInvalidParameters", err)
			}
		})
	}
}

func TestPlan_UnknownCommand(t *testing.T) {
	p := newTestPlanner(t, nil)
	if _, err := p.plan("self_destruct", nil); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("plan() error = %v, want ErrUnknownCommand", err)
	}
}

func TestPlan_FrequencyRatio(t *testing.T) {
	const ratioID nasa.AttributeID = 0x42F1

	catalog, err := nasa.NewCatalog(nasa.AttributeSpec{
		ID:       ratioID,
		Name:     nasa.NameCompressorFrequencyRatio,
		Kind:     nasa.KindNumeric,
		Unit:     "%",
		Writable: true,
	})
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	p := newTestPlanner(t, catalog)

	writes, err := p.plan("set_frequency_ratio", map[string]any{"percent": 120.0})
	if err != nil {
		t.Fatalf("plan() error = %v", err)
	}
	if len(writes) != 1 || writes[0].ID != ratioID || writes[0].Value.Number != 120 {
		t.Errorf("writes = %+v", writes)
	}

	for _, bad := range []float64{40, 160, 105, 99.5} {
		if _, err := p.plan("set_frequency_ratio", map[string]any{"percent": bad}); !errors.Is(err, ErrInvalidParameters) {
			t.Errorf("percent %v: error = %v, want ErrInvalidParameters", bad, err)
		}
	}

	if _, err := newTestPlanner(t, nil).plan("set_frequency_ratio", map[string]any{"percent": 100.0}); !errors.Is(err, ErrNotSupported) {
		t.Errorf("default catalog: error = %v, want ErrNotSupported", err)
	}
}

func TestPlan_TargetTemperatureWithoutModeState(t *testing.T) {
	p := newTestPlanner(t, nil)
	p.waterOutletControl = true

	writes, err := p.plan("set_target_temperature", map[string]any{"temperature": 21.0})
	if err != nil {
		t.Fatalf("plan() error = %v", err)
	}
	if writes[0].ID != nasa.AttrRoomTarget {
		t.Errorf("unknown mode wrote %s, want room target", writes[0].ID)
	}
}

func TestCommands(t *testing.T) {
	cmds := Commands()
	if !slices.IsSorted(cmds) {
		t.Errorf("Commands() not sorted: %v", cmds)
	}
	for _, want := range []string{"set_hvac_mode", "set_target_temperature", "set_dhw_mode", "set_frequency_ratio"} {
		if !slices.Contains(cmds, want) {
			t.Errorf("Commands() missing %s", want)
		}
	}
}
