// Package downloader wires discovery, resolution, the transfer orchestrator and
// the ledger into the operations exposed to users.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/game_downloader/internal/discovery"
	"github.com/italolelis/game_downloader/internal/logctx"
	"github.com/italolelis/game_downloader/internal/storage"
	"github.com/italolelis/game_downloader/internal/transfer"
)

// ErrInvalidRequest is returned when a start request lacks a detail URL.
var ErrInvalidRequest = errors.New("invalid request")

type Discoverer interface {
	Discover(ctx context.Context, title string) ([]discovery.Candidate, error)
}

type Resolver interface {
	Resolve(ctx context.Context, detailURL string) (string, error)
}

type Orchestrator interface {
	Start(ctx context.Context, identifier, destination string) (*transfer.Transfer, bool, error)
	StatusAll(ctx context.Context) []transfer.Snapshot
	ResumeAll(ctx context.Context, records []storage.DownloadRecord) int
}

// StartRequest describes the candidate a user picked.
type StartRequest struct {
	DetailURL   string `json:"detail_url"`
	DisplayName string `json:"display_name"`
	Title       string `json:"title"`
	SourceName  string `json:"source_name"`
	// Destination is optional. Relative paths are placed under the download dir.
	Destination string `json:"destination"`
}

// StartResult acknowledges a started transfer.
type StartResult struct {
	ContentID   string         `json:"content_id"`
	Name        string         `json:"name"`
	Destination string         `json:"destination"`
	State       transfer.State `json:"state"`
	Created     bool           `json:"created"`
}

type Downloader struct {
	downloadDir  string
	discoverer   Discoverer
	resolver     Resolver
	orchestrator Orchestrator
	ledger       storage.LedgerRepository
}

func NewDownloader(
	downloadDir string,
	discoverer Discoverer,
	resolver Resolver,
	orchestrator Orchestrator,
	ledger storage.LedgerRepository,
) *Downloader {
	return &Downloader{
		downloadDir:  downloadDir,
		discoverer:   discoverer,
		resolver:     resolver,
		orchestrator: orchestrator,
		ledger:       ledger,
	}
}

// Discover returns the trusted candidates for title.
func (d *Downloader) Discover(ctx context.Context, title string) ([]discovery.Candidate, error) {
	candidates, err := d.discoverer.Discover(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("failed to discover candidates: %w", err)
	}

	return candidates, nil
}

// ResolveAndStart resolves the candidate's transfer identifier and starts it.
// A ledger record is written only when a new transfer was registered; failing
// to write it is logged and does not fail the start.
func (d *Downloader) ResolveAndStart(ctx context.Context, req StartRequest) (StartResult, error) {
	if strings.TrimSpace(req.DetailURL) == "" {
		return StartResult{}, fmt.Errorf("%w: detail_url is required", ErrInvalidRequest)
	}

	logger := logctx.LoggerFromContext(ctx).With("detail_url", req.DetailURL)
	destination := d.destination(req.Destination)

	identifier, err := d.resolver.Resolve(ctx, req.DetailURL)
	if err != nil {
		return StartResult{}, fmt.Errorf("failed to resolve candidate: %w", err)
	}

	t, created, err := d.orchestrator.Start(ctx, identifier, destination)
	if err != nil {
		return StartResult{}, fmt.Errorf("failed to start transfer: %w", err)
	}

	if created {
		name := req.DisplayName
		if name == "" {
			name = t.Name()
		}

		record := storage.DownloadRecord{
			Name:               name,
			Title:              req.Title,
			TransferIdentifier: identifier,
			SourceName:         req.SourceName,
			DestinationPath:    t.Destination,
		}

		if err := d.ledger.AddRecord(context.WithoutCancel(ctx), record); err != nil {
			logger.ErrorContext(ctx, "failed to record download", "content_id", t.ContentID, "err", err)
		}
	}

	return StartResult{
		ContentID:   t.ContentID,
		Name:        t.Name(),
		Destination: t.Destination,
		State:       t.State(),
		Created:     created,
	}, nil
}

func (d *Downloader) StatusAll(ctx context.Context) []transfer.Snapshot {
	return d.orchestrator.StatusAll(ctx)
}

func (d *Downloader) Records(ctx context.Context) ([]storage.DownloadRecord, error) {
	return d.ledger.ListRecords(ctx)
}

// RemoveRecord deletes the ledger entry. A running transfer keeps running.
func (d *Downloader) RemoveRecord(ctx context.Context, name string) error {
	return d.ledger.RemoveRecord(ctx, name)
}

// Resume replays the ledger into the orchestrator and returns how many
// transfers were started.
func (d *Downloader) Resume(ctx context.Context) (int, error) {
	records, err := d.ledger.ListRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list download records: %w", err)
	}

	return d.orchestrator.ResumeAll(ctx, records), nil
}

// WatchProgress logs the progress of every running transfer each interval
// until ctx is done. A non-positive interval disables it.
func (d *Downloader) WatchProgress(ctx context.Context, interval time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	if interval <= 0 {
		logger.Debug("progress logging disabled")

		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("progress watcher panic",
					"operation", "watch_progress",
					"panic", r,
					"stack", string(debug.Stack()))
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("shutting down progress watcher")

				return
			case <-ticker.C:
				d.logProgress(ctx)
			}
		}
	}()
}

func (d *Downloader) logProgress(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	for _, snap := range d.orchestrator.StatusAll(ctx) {
		if snap.State != transfer.StateRunning {
			continue
		}

		logger.Info("transfer progress",
			"content_id", snap.ContentID,
			"name", snap.Name,
			"downloaded", humanize.Bytes(uint64(snap.BytesDone)),
			"total", humanize.Bytes(uint64(snap.BytesTotal)),
			"percent", humanize.FtoaWithDigits(snap.Progress()*100, 2),
			"peers", snap.Peers,
			"engine_status", snap.EngineStatus)
	}
}

func (d *Downloader) destination(requested string) string {
	requested = strings.TrimSpace(requested)

	switch {
	case requested == "":
		return d.downloadDir
	case filepath.IsAbs(requested):
		return filepath.Clean(requested)
	default:
		return filepath.Join(d.downloadDir, requested)
	}
}
