// Package connection: factory wiring, one constructor per transport type.
package connection

import (
	"fmt"

	"github.com/fleetpower/dcmesh/internal/config"
)

// New creates a Connection based on the configured transport type.
func New(cfg config.ConnectionConfig) (Connection, error) {
	switch cfg.Type {
	case "serial":
		return NewSerial(cfg.Serial)
	case "tcp":
		return NewTCP(cfg.TCP)
	case "mqtt":
		return NewMQTT(cfg.MQTT)
	default:
		return nil, fmt.Errorf("unknown connection type: %s", cfg.Type)
	}
}
