package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/italolelis/game_downloader/internal/logctx"
	"github.com/italolelis/game_downloader/internal/storage"
)

// PruneMissing removes ledger records whose destination directory no longer
// exists on disk, so a startup resume does not download them again. It
// returns the number of removed records.
func PruneMissing(ctx context.Context, ledger storage.LedgerRepository) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	records, err := ledger.ListRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list records: %w", err)
	}

	removed := 0

	for _, rec := range records {
		_, err := os.Stat(rec.DestinationPath)
		if err == nil {
			continue
		}

		if !os.IsNotExist(err) {
			logger.Error("Failed to stat destination", "name", rec.Name, "destination", rec.DestinationPath, "err", err)

			return removed, err
		}

		if err := ledger.RemoveRecord(ctx, rec.Name); err != nil && !errors.Is(err, storage.ErrRecordNotFound) {
			logger.Error("Failed to prune record", "name", rec.Name, "err", err)

			return removed, err
		}

		removed++

		logger.Info("Pruned record with missing destination", "name", rec.Name, "destination", rec.DestinationPath)
	}

	return removed, nil
}
