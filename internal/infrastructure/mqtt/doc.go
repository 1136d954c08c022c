// Package mqtt mirrors relay state onto an MQTT broker.
//
// When enabled, every accepted relay mutation is published as a retained
// JSON document so dashboards and home automation systems see the current
// table without polling the HTTP API. The client also listens on a command
// topic per relay, giving the broker side the same mutation path as
// POST /data, and announces the service's presence with a retained status
// message backed by a Last Will.
//
// Topic layout:
//
//	relayboard/state/relay/{id}     retained item JSON, published by the core
//	relayboard/command/relay/{id}   item JSON, consumed by the core
//	relayboard/system/status        retained online/offline status (LWT)
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishRetained(mqtt.Topics{}.RelayState(3), payload)
package mqtt
