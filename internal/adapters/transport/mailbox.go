package transport

import (
	"fmt"
	"sync"

	"github.com/ghalamif/beamflow/internal/domain"
	"github.com/ghalamif/beamflow/internal/ports"
)

// request is a posted receive or a completed send.
type request struct {
	buf  []byte
	n    int
	err  error
	done chan struct{}
}

func newRequest(buf []byte) *request {
	return &request{buf: buf, done: make(chan struct{})}
}

func completed(n int, err error) *request {
	r := &request{n: n, err: err, done: make(chan struct{})}
	close(r.done)
	return r
}

func (r *request) complete(n int, err error) {
	r.n, r.err = n, err
	close(r.done)
}

func (r *request) Wait() (int, error) {
	<-r.done
	return r.n, r.err
}

func (r *request) Done() <-chan struct{} { return r.done }

type slot struct {
	recvs []*request
	msgs  [][]byte
}

// mailbox matches posted receives with arriving messages per tag in FIFO
// order on both sides.
type mailbox struct {
	mu     sync.Mutex
	slots  map[uint32]*slot
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{slots: make(map[uint32]*slot)}
}

func (m *mailbox) slot(tag uint32) *slot {
	s, ok := m.slots[tag]
	if !ok {
		s = &slot{}
		m.slots[tag] = s
	}
	return s
}

func (m *mailbox) post(key domain.MessageKey, buf []byte) (ports.Request, error) {
	tag, err := key.Encode()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, domain.ErrClosed
	}

	s := m.slot(tag)
	r := newRequest(buf)
	if len(s.msgs) > 0 {
		msg := s.msgs[0]
		s.msgs[0] = nil
		s.msgs = s.msgs[1:]
		m.gc(tag, s)
		fill(r, key, msg)
		return r, nil
	}
	s.recvs = append(s.recvs, r)
	return r, nil
}

// deliver hands payload to the oldest pending receive, or queues a private
// copy until one is posted.
func (m *mailbox) deliver(tag uint32, payload []byte) error {
	key, err := domain.DecodeKey(tag)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return domain.ErrClosed
	}

	s := m.slot(tag)
	if len(s.recvs) > 0 {
		r := s.recvs[0]
		s.recvs[0] = nil
		s.recvs = s.recvs[1:]
		m.gc(tag, s)
		fill(r, key, payload)
		return nil
	}
	s.msgs = append(s.msgs, append([]byte(nil), payload...))
	return nil
}

func (m *mailbox) gc(tag uint32, s *slot) {
	if len(s.recvs) == 0 && len(s.msgs) == 0 {
		delete(m.slots, tag)
	}
}

// pending reports queued messages nobody has received yet.
func (m *mailbox) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.slots {
		n += len(s.msgs)
	}
	return n
}

// close fails every posted receive.
func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for tag, s := range m.slots {
		for _, r := range s.recvs {
			r.complete(0, domain.ErrClosed)
		}
		delete(m.slots, tag)
	}
}

func fill(r *request, key domain.MessageKey, payload []byte) {
	if len(payload) > len(r.buf) {
		r.complete(0, fmt.Errorf("%s: %d byte message into %d byte buffer: %w",
			key, len(payload), len(r.buf), domain.ErrTruncated))
		return
	}
	r.complete(copy(r.buf, payload), nil)
}
