package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocol marks a producer/consumer mismatch (header, beamlet set,
	// payload size). It is never transient.
	ErrProtocol = errors.New("beamflow: protocol mismatch")
	// ErrTransport marks a failed send or receive on the interconnect.
	ErrTransport = errors.New("beamflow: transport failure")
	// ErrClosed is returned by stages that have been terminated.
	ErrClosed = errors.New("beamflow: closed")
	// ErrTruncated is returned when a message does not fit the posted buffer.
	ErrTruncated = errors.New("beamflow: message truncated")
)

// ProtocolError identifies the offending station, beamlet and block.
type ProtocolError struct {
	Station int
	Beamlet int
	Block   int64
	Reason  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error at station %d beamlet %d block %d: %s", e.Station, e.Beamlet, e.Block, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }

// TransportError wraps a failed transfer with the key it was posted for.
type TransportError struct {
	Key   MessageKey
	Block int64
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error on %s block %d: %v", e.Key, e.Block, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }
