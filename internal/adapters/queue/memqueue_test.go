package queue

import (
	"testing"

	"github.com/ghalamif/beamflow/internal/domain"
)

func item(seq uint64) *domain.DeliveryItem {
	return domain.NewDeliveryItem("beam-0", seq, nil, domain.NewStokesData(1, 1, 1, domain.Float32), nil)
}

func TestMemQueueEnqueueDequeueOrder(t *testing.T) {
	q := NewMemQueue(4)

	if !q.Enqueue(item(1)) || !q.Enqueue(item(2)) {
		t.Fatalf("expected successful enqueue")
	}

	batch := q.DequeueBatch(1)
	if len(batch) != 1 || batch[0].Seq != 1 {
		t.Fatalf("unexpected first batch: %+v", batch)
	}

	remaining := q.DequeueBatch(10)
	if len(remaining) != 1 || remaining[0].Seq != 2 {
		t.Fatalf("unexpected second batch: %+v", remaining)
	}

	if q.Len() != 0 {
		t.Fatalf("queue should be empty, got %d", q.Len())
	}
	if q.DequeueBatch(1) != nil {
		t.Fatalf("expected nil batch from an empty queue")
	}
}

func TestMemQueueCapacity(t *testing.T) {
	q := NewMemQueue(2)

	if !q.Enqueue(item(1)) || !q.Enqueue(item(2)) {
		t.Fatalf("expected enqueue within capacity")
	}
	if q.Enqueue(item(3)) {
		t.Fatalf("enqueue should fail when capacity exceeded")
	}

	q.DequeueBatch(1)
	if !q.Enqueue(item(4)) {
		t.Fatalf("expected enqueue to succeed after dequeue")
	}
	all := q.DequeueBatch(0)
	if len(all) != 2 || all[0].Seq != 2 || all[1].Seq != 4 {
		t.Fatalf("expected seqs 2 and 4, got %+v", all)
	}
}
