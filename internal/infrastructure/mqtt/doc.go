// Package mqtt provides MQTT client connectivity for Gray Modbus Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// MQTT is the engine's integration surface: every decoded register value
// is published to a retained state topic, writable registers accept
// commands on command topics, and per-device availability topics track
// which field devices are reachable. External consumers (Home Assistant,
// Node-RED, dashboards) subscribe to the retained topics and see current
// state immediately.
//
//	Modbus devices ↔ Gray Modbus Core ↔ MQTT Broker ↔ Consumers
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff 1s-60s
//   - Message throughput: Broker-limited (typically 10K+ msg/sec)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Consume register commands
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish a retained entity state
//	topic := mqtt.Topics{}.State("heat-pump", "hp_flow_temp")
//	client.Publish(topic, []byte(`{"value":42.5}`), 1, true)
package mqtt
