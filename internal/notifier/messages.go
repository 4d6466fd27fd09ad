package notifier

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/game_downloader/internal/transfer"
)

// TransferFinished renders the notification for a completed transfer.
func TransferFinished(snap transfer.Snapshot) string {
	return fmt.Sprintf("Download finished: %s (%s) in %s",
		snap.Name, humanize.Bytes(uint64(snap.BytesTotal)), snap.Destination)
}

// TransferFailed renders the notification for a failed transfer.
func TransferFailed(snap transfer.Snapshot) string {
	return fmt.Sprintf("Download failed: %s after %s: %s",
		snap.Name, humanize.Bytes(uint64(snap.BytesDone)), snap.Error)
}
