package ports

import (
	"context"

	"github.com/ghalamif/beamflow/internal/domain"
)

// CoreReader reads one compute core's partial result for a subband. The
// read is mandatory each round, even when the result will be discarded.
type CoreReader interface {
	ReadPartial(ctx context.Context, core, subband int, dst *domain.IntegratedResult) error
}
