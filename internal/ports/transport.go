package ports

import "github.com/ghalamif/beamflow/internal/domain"

// Request is an in-flight asynchronous transfer.
type Request interface {
	// Wait blocks until the transfer completes and returns the number of
	// bytes moved.
	Wait() (int, error)
	Done() <-chan struct{}
}

// Transport is a tagged point-to-point interconnect. Receives posted for the
// same key complete in posting order against messages in sending order.
type Transport interface {
	Irecv(key domain.MessageKey, buf []byte) (Request, error)
	Isend(key domain.MessageKey, payload []byte) (Request, error)
	Close() error
}
