// Package mqtt provides MQTT client connectivity for SoundMesh Core.
//
// This package manages:
//   - Connection to Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// SoundMesh uses MQTT as the outbound event bus. Speaker attribute
// updates, connection transitions, and group topology changes are
// published so dashboards and home automation integrations can follow
// the mesh without polling the REST API.
//
//	SoundMesh Core → MQTT Broker → Integrations / Dashboards
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
//   - Reconnect: Exponential backoff 1s-60s with jitter
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
//	// Subscribe to all speaker state updates
//	err = client.Subscribe(mqtt.Topics{}.AllSpeakerStates(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish a state update
//	topic := mqtt.Topics{}.SpeakerState("living-room")
//	client.Publish(topic, []byte(`{"volume":30,"muted":false}`), 1, true)
package mqtt
