// Package ehs bridges a Samsung EHS heat pump's NASA bus to MQTT.
//
// The bus side is the nasa engine; this package translates its attribute
// changes, derived HVAC actions and availability into retained MQTT state,
// and turns MQTT commands and requests into attribute reads and writes.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐           ┌──────────┐
//	│  Home automation│   MQTT   │   EHS Bridge    │  TCP/WS/  │ RS-485   │
//	│     system      │◄────────►│   (this pkg)    │◄─────────►│ gateway  │◄──► NASA bus
//	└─────────────────┘          └─────────────────┘  serial   └──────────┘
//
// # Topics
//
//	nasabridge/state/nasa/{address}/{attribute}   retained attribute state
//	nasabridge/state/nasa/{address}/hvac_action   retained derived action
//	nasabridge/availability/nasa/{address}        retained online/offline
//	nasabridge/health/nasa                        retained bridge health
//	nasabridge/command/nasa/{address}             climate, hot water and switch controls
//	nasabridge/ack/nasa/{address}                 command results
//	nasabridge/request/nasa/{request_id}          read, write, poll_now, track, diagnostics
//	nasabridge/response/nasa/{request_id}         request results
//
// # Controls
//
// Indoor units accept set_power, set_mode, set_hvac_mode and
// set_target_temperature (room, water outlet or water-law target depending
// on mode and configuration), the hot water controls set_dhw_power,
// set_dhw_mode and set_dhw_target_temperature, the outing and quiet mode
// switches, and set_frequency_ratio when the catalog defines it.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package ehs
