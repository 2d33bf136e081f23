package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ghalamif/beamflow/internal/domain"
	"github.com/ghalamif/beamflow/internal/ports"
)

type TimescaleSink struct {
	db        *sql.DB
	tableName string
	runID     string
}

func NewTimescaleSink(db *sql.DB, table, runID string) *TimescaleSink {
	return &TimescaleSink{db: db, tableName: table, runID: runID}
}

func (t *TimescaleSink) Name() string { return "timescaledb" }

// EnsureSchema creates the output table when it does not exist yet.
func (t *TimescaleSink) EnsureSchema(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+t.tableName+
		" (run_id TEXT NOT NULL, stream TEXT NOT NULL, seq BIGINT NOT NULL, kind TEXT NOT NULL,"+
		" flagged_fraction DOUBLE PRECISION NOT NULL, payload BYTEA NOT NULL,"+
		" written_at TIMESTAMPTZ NOT NULL DEFAULT now(), PRIMARY KEY (run_id, stream, seq))")
	return err
}

func (t *TimescaleSink) WriteBatch(items []*domain.DeliveryItem) error {
	if len(items) == 0 {
		return nil
	}

	// idempotent via the (run_id, stream, seq) key, so a retried batch is harmless
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(t.tableName)
	b.WriteString(" (run_id, stream, seq, kind, flagged_fraction, payload) VALUES ")

	args := make([]any, 0, len(items)*6)
	for i, item := range items {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d)",
			len(args)+1, len(args)+2, len(args)+3, len(args)+4, len(args)+5, len(args)+6))
		payload, err := EncodeItem(item)
		if err != nil {
			return fmt.Errorf("encode item: %w", err)
		}

		kind := "stokes"
		if item.Result != nil {
			kind = "integrated"
		}
		var flagged float64
		if f := item.Flags(); f != nil {
			flagged = f.Fraction()
		}
		args = append(args,
			t.runID,
			item.Stream,
			int64(item.Seq),
			kind,
			flagged,
			payload,
		)
	}

	b.WriteString(" ON CONFLICT (run_id, stream, seq) DO NOTHING")

	_, err := t.db.Exec(b.String(), args...)
	return err
}

var _ ports.Sink = (*TimescaleSink)(nil)
