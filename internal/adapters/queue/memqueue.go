package queue

import (
	"sync"

	"github.com/ghalamif/beamflow/internal/domain"
	"github.com/ghalamif/beamflow/internal/ports"
)

// MemQueue is a bounded in-memory queue that preserves FIFO ordering. The
// writers use it to stage batches and to hold a failed batch for retry.
type MemQueue struct {
	mu   sync.Mutex
	data []*domain.DeliveryItem
	cap  int
}

func NewMemQueue(capacity int) *MemQueue {
	return &MemQueue{
		data: make([]*domain.DeliveryItem, 0, capacity),
		cap:  capacity,
	}
}

func (q *MemQueue) Enqueue(item *domain.DeliveryItem) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) >= q.cap {
		return false
	}
	q.data = append(q.data, item)
	return true
}

// DequeueBatch removes up to max items from the front; max <= 0 takes all.
func (q *MemQueue) DequeueBatch(max int) []*domain.DeliveryItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return nil
	}
	if max <= 0 || max > len(q.data) {
		max = len(q.data)
	}
	out := make([]*domain.DeliveryItem, max)
	copy(out, q.data[:max])
	n := copy(q.data, q.data[max:])
	clear(q.data[n:])
	q.data = q.data[:n]
	return out
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

var _ ports.ItemQueue = (*MemQueue)(nil)
