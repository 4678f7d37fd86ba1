// Package nasa implements the Samsung NASA protocol engine.
//
// NASA is the framed serial protocol spoken on the F1/F2 bus of Samsung EHS
// heat pumps. A UART-to-network bridge carries the bus over TCP; this package
// frames and parses messages on that byte stream, polls and writes
// attributes, and derives composite state from the raw values.
//
// # Architecture
//
//	┌──────────┐   bytes   ┌─────────┐  Message  ┌─────────────┐
//	│ Session  │──────────►│ Decoder │──────────►│ DeviceTable │
//	│ tcp/ws/  │◄──────────│ Encode  │           │ Registry    │──► Deriver
//	│ serial   │   frames  └─────────┘           │ Correlator  │
//	└──────────┘                                 └─────────────┘
//	      ▲                                             ▲
//	      └──────────── Poller / Client.Read/Write ─────┘
//
// # Key Responsibilities
//
//   - Keep one connection to the bridge, reconnecting with backoff
//   - Decode a noisy stream, resynchronising after corrupt frames
//   - Match replies to outstanding reads and writes by (device, attribute)
//   - Hold the latest value of every attribute, notifying on change
//   - Poll a tracked set of attributes on a fixed interval
//   - Derive the HVAC action of indoor units
//
// # Addresses and attributes
//
// Devices are 3-byte addresses written "CC.HH.UU" in hex: 10.00.00 is the
// outdoor unit, 20.00.00 the first indoor unit. Attributes are 16-bit ids
// whose bits 10-9 fix the payload size.
//
// Example:
//
//	st, err := client.Read(ctx, nasa.MustParseAddress("20.00.00"), "0x4203")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(st.Value) // 21.5
//
// # Thread Safety
//
// All exported types are safe for concurrent use, except Decoder, which
// belongs to a single reader.
package nasa
