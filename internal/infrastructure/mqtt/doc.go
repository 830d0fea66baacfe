// Package mqtt connects the ESD core to the plant message bus.
//
// The broker sits between the core and the DCS bridge:
//
//	ESD core ↔ MQTT broker ↔ DCS bridge / telemetry publishers
//
// Device commands go out on esd/command/{system}/{point} and the bridge
// answers on esd/ack/{system}/{command_id}. Live tag values arrive on
// esd/tag/{system}/{tag}. The core publishes its own status (retained, with
// a last will) and per-execution status under esd/core. See Topics.
//
// Subscriptions are tracked and restored on reconnect. Handlers run on
// paho goroutines and are wrapped with panic recovery.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllTagValues(), 1, cache.HandleMessage)
package mqtt
