// Package influxdb records heat pump telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health monitoring.
//
// # Measurements
//
//   - nasa_attribute: every decoded attribute value, tagged by device and id
//   - nasa_hvac_action: derived action transitions (heating, defrosting, ...)
//   - nasa_link: gateway link counters
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteAttribute(influxdb.AttributePoint{
//	    Device: "10.00.00", Attribute: "0x8204", Name: "outdoor_temperature",
//	    Value: -2.5, Time: time.Now(),
//	})
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered to the
// callback set with SetOnError. Connection and health check errors are
// returned directly.
package influxdb
