package kafka

import "errors"

// Sentinel errors for the Kafka transport.
var (
	// ErrNotConnected indicates no producer session is bound.
	ErrNotConnected = errors.New("kafka: not connected")

	// ErrNoBrokers indicates the config lists no brokers.
	ErrNoBrokers = errors.New("kafka: no brokers configured")

	// ErrBrokerUnreachable indicates no broker accepted a connection.
	ErrBrokerUnreachable = errors.New("kafka: no broker reachable")

	// ErrProduceFailed indicates the broker did not acknowledge a message.
	ErrProduceFailed = errors.New("kafka: produce failed")
)
