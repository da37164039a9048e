package graphql

import (
	"errors"
	"fmt"
)

// TransportError is returned when a call never produced an HTTP response:
// connection refused, DNS failure, timeout, or a body that could not be read.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError is returned when the server answered but the payload is not
// usable: non-2xx status, invalid JSON, GraphQL errors, or missing fields.
type ProtocolError struct {
	Op         string
	StatusCode int
	Reason     string
}

func (e *ProtocolError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: protocol error (status %d): %s", e.Op, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("%s: protocol error: %s", e.Op, e.Reason)
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsProtocol reports whether err is a ProtocolError.
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// Kind returns a short label for err, used as a log field.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsTransport(err):
		return "transport"
	case IsProtocol(err):
		return "protocol"
	default:
		return "other"
	}
}
