// Package mqtt provides MQTT client connectivity for brewlogic.
//
// MQTT is the link between brewlogic and the appliance bridge:
//
//	brewlogic ↔ MQTT Broker ↔ appliance bridge (entity states / commands)
//
// The bridge publishes retained entity states on
// brewlogic/state/{bridge}/{entity_id} and accepts commands on
// brewlogic/command/{bridge}/{entity_id}. brewlogic publishes its run
// snapshot, lifecycle events and user notifications on the brew and ui
// subtrees. Use Topics to build every topic.
//
// Production deployments should enable TLS (mqtt.broker.tls) and set the
// broker password through BREWLOGIC_MQTT_PASSWORD.
package mqtt
