package transport

import "errors"

var (
	// ErrConfig indicates an unusable connection configuration.
	ErrConfig = errors.New("transport: invalid configuration")

	// ErrNotConnected indicates a request on a client without a live
	// session.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrConnect indicates the link failed; the session is dropped and
	// must be re-established.
	ErrConnect = errors.New("transport: connection failed")

	// ErrTimeout indicates a bounded call elapsed without a reply.
	ErrTimeout = errors.New("transport: request timed out")

	// ErrProtocol indicates the slave replied with a Modbus exception.
	// The session stays up.
	ErrProtocol = errors.New("transport: protocol exception")
)
