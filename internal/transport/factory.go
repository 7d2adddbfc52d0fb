package transport

import (
	"fmt"

	"meshbridge/internal/config"
)

// New builds the transport matching a parsed target.
func New(target config.TransportTarget) (Transport, error) {
	switch target.Kind {
	case config.TransportSerial:
		return NewSerialTransport(target.SerialPort, target.Baud), nil
	case config.TransportTCP:
		return NewTCPTransport(target.HostPort()), nil
	default:
		return nil, fmt.Errorf("unsupported transport kind %q", target.Kind)
	}
}
