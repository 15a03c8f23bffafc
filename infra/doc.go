// Package infra holds the adapters between the control core and the outside
// world: MQTT transport, Modbus sampling, spot prices, metrics sinks and
// SQLite state. Packages below it import core, never the reverse.
package infra
