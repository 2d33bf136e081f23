package transport

import (
	"github.com/ghalamif/beamflow/internal/domain"
	"github.com/ghalamif/beamflow/internal/ports"
)

// MemTransport connects senders and receivers inside one process. Sends are
// eager: the payload is copied and the send completes immediately.
type MemTransport struct {
	box *mailbox
}

func NewMemTransport() *MemTransport {
	return &MemTransport{box: newMailbox()}
}

func (t *MemTransport) Irecv(key domain.MessageKey, buf []byte) (ports.Request, error) {
	return t.box.post(key, buf)
}

func (t *MemTransport) Isend(key domain.MessageKey, payload []byte) (ports.Request, error) {
	tag, err := key.Encode()
	if err != nil {
		return nil, err
	}
	if err := t.box.deliver(tag, payload); err != nil {
		return nil, err
	}
	return completed(len(payload), nil), nil
}

// Pending is the number of messages sent but not yet received.
func (t *MemTransport) Pending() int { return t.box.pending() }

func (t *MemTransport) Close() error {
	t.box.close()
	return nil
}

var _ ports.Transport = (*MemTransport)(nil)
