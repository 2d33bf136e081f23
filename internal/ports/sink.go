package ports

import "github.com/ghalamif/beamflow/internal/domain"

// Sink is the storage writer hand-off. It owns the on-disk or table format.
type Sink interface {
	WriteBatch(items []*domain.DeliveryItem) error
	Name() string
}
