// Package infra contains technical adapters such as the MQTT and Redis
// transports, the in-memory market and metrics exporters. These packages
// should depend only on the interfaces defined in the core packages.
package infra
