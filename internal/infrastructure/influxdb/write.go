package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	MeasurementAttribute  = "nasa_attribute"
	MeasurementHVACAction = "nasa_hvac_action"
	MeasurementLink       = "nasa_link"
)

// AttributePoint is one decoded attribute reading.
type AttributePoint struct {
	Device    string // "20.00.00"
	Attribute string // "0x4203"
	Name      string // catalog name, may be empty
	Unit      string
	Value     float64

	// Label is the option name of enum values ("heat"). Empty otherwise.
	Label string

	Time time.Time
}

// WriteAttribute records an attribute reading.
//
// Tags are the device address, the hex attribute id and (when known) the
// catalog name and unit. The write is non-blocking; points are batched.
//
// Example:
//
//	client.WriteAttribute(influxdb.AttributePoint{
//	    Device: "20.00.00", Attribute: "0x4203", Name: "room_temperature",
//	    Unit: "°C", Value: 21.5, Time: time.Now(),
//	})
func (c *Client) WriteAttribute(p AttributePoint) {
	tags := map[string]string{
		"device":    p.Device,
		"attribute": p.Attribute,
	}
	if p.Name != "" {
		tags["name"] = p.Name
	}
	if p.Unit != "" {
		tags["unit"] = p.Unit
	}

	fields := map[string]interface{}{"value": p.Value}
	if p.Label != "" {
		fields["label"] = p.Label
	}

	c.writePoint(write.NewPoint(MeasurementAttribute, tags, fields, pointTime(p.Time)))
}

// WriteHVACAction records a derived HVAC action transition for a device.
//
// The "active" field is false for "off" and "idle" so dashboards can plot
// run time without parsing the action string.
func (c *Client) WriteHVACAction(device, action string, ts time.Time) {
	c.writePoint(write.NewPoint(
		MeasurementHVACAction,
		map[string]string{"device": device},
		map[string]interface{}{
			"action": action,
			"active": action != "off" && action != "idle" && action != "unknown",
		},
		pointTime(ts),
	))
}

// WriteLinkStats records gateway link counters (frames, framing errors,
// reconnects). Keys become field names.
func (c *Client) WriteLinkStats(endpoint string, counters map[string]uint64) {
	if len(counters) == 0 {
		return
	}

	fields := make(map[string]interface{}, len(counters))
	for k, v := range counters {
		fields[k] = v
	}

	c.writePoint(write.NewPoint(MeasurementLink, map[string]string{"endpoint": endpoint}, fields, time.Now()))
}

func pointTime(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now()
	}
	return ts
}
