package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/game_downloader/internal/storage"
)

// LedgerRepository is the SQLite implementation of storage.LedgerRepository.
type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(dbConn *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: dbConn}
}

func (r *LedgerRepository) AddRecord(ctx context.Context, record storage.DownloadRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO downloads (name, title, transfer_identifier, source_name, destination_path)
		VALUES (?, ?, ?, ?, ?)`,
		record.Name, record.Title, record.TransferIdentifier, record.SourceName, record.DestinationPath,
	)
	if err != nil {
		return &storage.OpError{Op: "add_record", Err: err}
	}

	return nil
}

// RemoveRecord deletes every record with the given display name. Removing a
// record does not affect a transfer that is already running.
func (r *LedgerRepository) RemoveRecord(ctx context.Context, name string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM downloads WHERE name = ?`, name)
	if err != nil {
		return &storage.OpError{Op: "remove_record", Err: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return &storage.OpError{Op: "remove_record", Err: err}
	}

	if affected == 0 {
		return &storage.OpError{Op: "remove_record", Err: storage.ErrRecordNotFound}
	}

	return nil
}

// ListRecords returns records in insertion order.
func (r *LedgerRepository) ListRecords(ctx context.Context) ([]storage.DownloadRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name, title, transfer_identifier, source_name, destination_path FROM downloads ORDER BY id`)
	if err != nil {
		return nil, &storage.OpError{Op: "list_records", Err: err}
	}
	defer rows.Close()

	var records []storage.DownloadRecord

	for rows.Next() {
		var record storage.DownloadRecord
		if err := rows.Scan(
			&record.Name,
			&record.Title,
			&record.TransferIdentifier,
			&record.SourceName,
			&record.DestinationPath,
		); err != nil {
			return nil, &storage.OpError{Op: "list_records", Err: err}
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, &storage.OpError{Op: "list_records", Err: err}
	}

	return records, nil
}
