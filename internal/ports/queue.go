package ports

import "github.com/ghalamif/beamflow/internal/domain"

// ItemQueue is a bounded FIFO of delivery items.
type ItemQueue interface {
	Enqueue(item *domain.DeliveryItem) bool
	DequeueBatch(max int) []*domain.DeliveryItem
	Len() int
}
