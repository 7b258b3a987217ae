package database

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// ConnectNATS dials the NATS server used for cross-node event delivery.
func ConnectNATS(address string) (*nats.Conn, error) {
	if address == "" {
		return nil, fmt.Errorf("nats address must not be empty")
	}

	conn, err := nats.Connect(address, nats.Name("crewtalk-api"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	return conn, nil
}
