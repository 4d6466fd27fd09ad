package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/game_downloader/internal/storage"
	"github.com/italolelis/game_downloader/internal/telemetry"
)

// InstrumentedLedgerRepository wraps LedgerRepository with telemetry.
type InstrumentedLedgerRepository struct {
	repo      *LedgerRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedLedgerRepository creates a new instrumented ledger repository.
func NewInstrumentedLedgerRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedLedgerRepository {
	return &InstrumentedLedgerRepository{
		repo:      NewLedgerRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedLedgerRepository) AddRecord(ctx context.Context, record storage.DownloadRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "add_record", func(ctx context.Context) error {
		return r.repo.AddRecord(ctx, record)
	})
}

func (r *InstrumentedLedgerRepository) RemoveRecord(ctx context.Context, name string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "remove_record", func(ctx context.Context) error {
		return r.repo.RemoveRecord(ctx, name)
	})
}

func (r *InstrumentedLedgerRepository) ListRecords(ctx context.Context) ([]storage.DownloadRecord, error) {
	var records []storage.DownloadRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "list_records", func(ctx context.Context) error {
		var err error

		records, err = r.repo.ListRecords(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}
