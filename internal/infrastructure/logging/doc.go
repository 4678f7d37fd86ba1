// Package logging builds the bridge's structured logger on log/slog.
//
// Output is JSON by default and plain text when logging.format is "text".
// Every entry carries service and version fields; subsystems add a
// component field through Logger.Component.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Secrets must not be logged. The MQTT password and InfluxDB token are
// redacted by their config types' String methods.
package logging
