// Package config loads the bridge configuration.
//
// Values come from the built-in defaults, then the YAML file, then
// NASABRIDGE_* environment variables. Validate reports every problem in a
// single error. Secrets (the MQTT password and the InfluxDB token) are
// best supplied through the environment; their structs redact them when
// formatted.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	endpoint := cfg.NASA.Endpoint()
package config
