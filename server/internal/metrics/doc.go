// Package metrics holds the relay's Prometheus instruments.
//
// A Metrics value owns its own registry, so tests and multiple relays in one
// process never collide on registration. Every recording method is safe on a
// nil *Metrics, which lets components run without instrumentation.
//
// Exposed series (namespace opendlv_relay):
//
//	envelopes_total{direction}        bus_to_clients | clients_to_bus
//	bus_send_errors_total
//	invalid_bytes_total               bytes discarded from client streams
//	invalid_envelopes_total{source}   client | bus
//	rate_limited_total                client envelopes dropped by the limiter
//	broadcast_bytes_total
//	clients_connected
//	client_connections_total
//	clients_dropped_total             slow clients disconnected by the hub
//	map_objects
//	map_reloads_total{result}         ok | error
package metrics
