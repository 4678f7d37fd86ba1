// Package mqtt wraps the Paho client for the bridge.
//
// A Client keeps its subscriptions across reconnects, publishes an online
// status when a session comes up, and registers a retained will so the
// broker marks the bridge offline if it drops without a clean close.
// Handlers run on Paho's callback goroutines and must not block.
//
// Topic layout is built with Topics:
//
//	nasabridge/state/nasa/<address>/<attribute>   retained attribute values
//	nasabridge/availability/nasa/<address>        retained online/offline
//	nasabridge/command/nasa/<address>             inbound commands, acked on ack/
//	nasabridge/request/nasa/<request-id>          reads, answered on response/
//	nasabridge/health/nasa                        bridge health
//	nasabridge/system/status                      process status and will
//
// Typical use:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.AttributeState(mqtt.ProtocolNASA, "20.00.00", "room_temperature")
//	err = client.Publish(topic, []byte(`{"value":21.5}`), 1, true)
package mqtt
