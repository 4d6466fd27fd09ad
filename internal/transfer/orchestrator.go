package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/italolelis/game_downloader/internal/engine"
	"github.com/italolelis/game_downloader/internal/logctx"
	"github.com/italolelis/game_downloader/internal/storage"
	"github.com/italolelis/game_downloader/internal/telemetry"
)

const (
	defaultMaxParallel = 5
	defaultEventBuffer = 16
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTelemetry records transfer metrics.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(o *Orchestrator) {
		o.telemetry = tel
	}
}

// WithMaxParallel bounds how many records ResumeAll starts at once.
func WithMaxParallel(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxParallel = n
		}
	}
}

// WithEventBuffer sets the capacity of the event channels. Events that do not
// fit are dropped.
func WithEventBuffer(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.eventBuffer = n
		}
	}
}

// Orchestrator owns the registry of running transfers keyed by content id,
// one engine session per destination directory, and one completion watcher
// per transfer.
type Orchestrator struct {
	engine      engine.Engine
	telemetry   *telemetry.Telemetry
	maxParallel int
	eventBuffer int

	mu       sync.Mutex
	registry map[string]*Transfer
	closed   bool

	sessionsMu   sync.Mutex
	sessions     map[string]engine.Session
	sessionGroup singleflight.Group

	watchCtx    context.Context
	stopWatches context.CancelFunc
	watchers    sync.WaitGroup
	closeOnce   sync.Once
	closeErr    error

	// OnTransferFinished and OnTransferFailed receive a snapshot when a
	// watcher records a terminal state. Both are closed by Close.
	OnTransferFinished chan Snapshot
	OnTransferFailed   chan Snapshot
}

func NewOrchestrator(eng engine.Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine:      eng,
		maxParallel: defaultMaxParallel,
		eventBuffer: defaultEventBuffer,
		registry:    make(map[string]*Transfer),
		sessions:    make(map[string]engine.Session),
	}

	for _, opt := range opts {
		opt(o)
	}

	o.watchCtx, o.stopWatches = context.WithCancel(context.Background())
	o.OnTransferFinished = make(chan Snapshot, o.eventBuffer)
	o.OnTransferFailed = make(chan Snapshot, o.eventBuffer)

	return o
}

// Start adds identifier to the engine session rooted at destination and
// registers the resulting transfer. Starting content that is already
// registered returns the existing transfer and created=false. Failures after
// Start returns are recorded on the transfer, never returned.
func (o *Orchestrator) Start(ctx context.Context, identifier, destination string) (*Transfer, bool, error) {
	if destination == "" {
		return nil, false, &SessionError{Destination: destination, Err: errors.New("destination is required")}
	}

	destination = filepath.Clean(destination)
	logger := logctx.LoggerFromContext(ctx).With("destination", destination)

	if o.isClosed() {
		return nil, false, ErrClosed
	}

	// Cheap path for repeated starts: skip the engine entirely.
	if contentID, err := engine.ContentID(identifier); err == nil {
		if existing := o.Get(contentID); existing != nil {
			logger.DebugContext(ctx, "transfer already registered", "content_id", contentID)

			return existing, false, nil
		}
	}

	ses, err := o.session(ctx, destination)
	if err != nil {
		o.telemetry.RecordTransfer(ctx, "start", "error")

		return nil, false, &SessionError{Destination: destination, Err: err}
	}

	h, err := ses.Add(ctx, identifier, engine.AddOptions{Overwrite: true})
	if err != nil {
		o.telemetry.RecordTransfer(ctx, "start", "error")

		return nil, false, &EngineAddError{Identifier: identifier, Err: err}
	}

	t := newTransfer(h.ContentID(), identifier, destination, h)

	o.mu.Lock()

	if o.closed {
		o.mu.Unlock()

		return nil, false, ErrClosed
	}

	if existing, ok := o.registry[t.ContentID]; ok {
		o.mu.Unlock()

		return existing, false, nil
	}

	o.registry[t.ContentID] = t
	o.watchers.Add(1)

	o.mu.Unlock()

	logger = logger.With("content_id", t.ContentID)

	o.telemetry.RecordTransfer(ctx, "start", "success")
	o.telemetry.IncrementActiveTransfers(ctx)

	go o.watch(logger, t)

	logger.InfoContext(ctx, "transfer started", "name", t.Name())

	return t, true, nil
}

// StatusAll returns one snapshot per registered transfer, oldest first.
// Statistics are read after the registry lock is released, so entries are
// independently fresh rather than a consistent point in time.
func (o *Orchestrator) StatusAll(_ context.Context) []Snapshot {
	o.mu.Lock()
	transfers := make([]*Transfer, 0, len(o.registry))

	for _, t := range o.registry {
		transfers = append(transfers, t)
	}
	o.mu.Unlock()

	snapshots := make([]Snapshot, 0, len(transfers))
	for _, t := range transfers {
		snapshots = append(snapshots, t.Snapshot())
	}

	sort.SliceStable(snapshots, func(i, j int) bool {
		if snapshots[i].StartedAt.Equal(snapshots[j].StartedAt) {
			return snapshots[i].ContentID < snapshots[j].ContentID
		}

		return snapshots[i].StartedAt.Before(snapshots[j].StartedAt)
	})

	return snapshots
}

// ResumeAll starts every record and returns how many starts succeeded,
// including records whose content was already registered. A failing record is
// logged and skipped.
func (o *Orchestrator) ResumeAll(ctx context.Context, records []storage.DownloadRecord) int {
	logger := logctx.LoggerFromContext(ctx)

	var (
		g       errgroup.Group
		started atomic.Int64
	)

	g.SetLimit(o.maxParallel)

	for _, record := range records {
		record := record

		g.Go(func() error {
			if _, _, err := o.Start(ctx, record.TransferIdentifier, record.DestinationPath); err != nil {
				logger.ErrorContext(ctx, "failed to resume transfer",
					"name", record.Name,
					"destination", record.DestinationPath,
					"err", err)
				o.telemetry.RecordTransfer(ctx, "resume", "error")

				return nil
			}

			started.Add(1)
			o.telemetry.RecordTransfer(ctx, "resume", "success")

			return nil
		})
	}

	_ = g.Wait()

	logger.InfoContext(ctx, "resumed transfers", "records", len(records), "started", started.Load())

	return int(started.Load())
}

// Get returns the registered transfer for contentID, or nil.
func (o *Orchestrator) Get(contentID string) *Transfer {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.registry[contentID]
}

// Len returns the number of registered transfers.
func (o *Orchestrator) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return len(o.registry)
}

// Close stops the watchers without recording a terminal state, closes the
// event channels and then every engine session.
func (o *Orchestrator) Close() error {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		o.mu.Unlock()

		o.stopWatches()
		o.watchers.Wait()

		close(o.OnTransferFinished)
		close(o.OnTransferFailed)

		o.sessionsMu.Lock()
		sessions := o.sessions
		o.sessions = make(map[string]engine.Session)
		o.sessionsMu.Unlock()

		var errs []error

		for destination, ses := range sessions {
			if err := ses.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close session for %s: %w", destination, err))
			}
		}

		o.closeErr = errors.Join(errs...)
	})

	return o.closeErr
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.closed
}

// session returns the session rooted at destination, creating it on first use.
// Concurrent first uses of the same destination share one creation.
func (o *Orchestrator) session(ctx context.Context, destination string) (engine.Session, error) {
	o.sessionsMu.Lock()
	ses, ok := o.sessions[destination]
	o.sessionsMu.Unlock()

	if ok {
		return ses, nil
	}

	v, err, _ := o.sessionGroup.Do(destination, func() (any, error) {
		o.sessionsMu.Lock()
		ses, ok := o.sessions[destination]
		o.sessionsMu.Unlock()

		if ok {
			return ses, nil
		}

		ses, err := o.engine.CreateSession(ctx, destination)
		if err != nil {
			return nil, err
		}

		o.sessionsMu.Lock()
		defer o.sessionsMu.Unlock()

		if o.isClosed() {
			_ = ses.Close()

			return nil, ErrClosed
		}

		o.sessions[destination] = ses

		return ses, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(engine.Session), nil
}

// watch waits for the engine to finish the transfer and records the outcome on
// the entry. A panic is recovered and recorded as a failure so the registry is
// never left in an unknown state.
func (o *Orchestrator) watch(logger *slog.Logger, t *Transfer) {
	ctx := o.watchCtx

	defer o.watchers.Done()
	defer o.telemetry.DecrementActiveTransfers(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("transfer watcher panic",
				"operation", "watch_transfer",
				"panic", r,
				"stack", string(debug.Stack()))

			o.telemetry.RecordSystemError(ctx, "transfer_watcher", "panic")
			t.finish(fmt.Errorf("watcher panic: %v", r))
			o.publish(o.OnTransferFailed, t.Snapshot())
		}
	}()

	err := t.handle.Wait(ctx)
	if ctx.Err() != nil {
		logger.Debug("transfer watcher stopped", "reason", "orchestrator_closed")

		return
	}

	t.finish(err)

	if err != nil {
		logger.Error("transfer failed", "err", err)
		o.telemetry.RecordTransfer(ctx, "complete", "error")
		o.publish(o.OnTransferFailed, t.Snapshot())

		return
	}

	logger.Info("transfer completed", "name", t.Name())
	o.telemetry.RecordTransfer(ctx, "complete", "success")
	o.publish(o.OnTransferFinished, t.Snapshot())
}

func (o *Orchestrator) publish(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
	default:
	}
}
