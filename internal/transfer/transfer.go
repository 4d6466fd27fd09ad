package transfer

import (
	"sync"
	"time"

	"github.com/italolelis/game_downloader/internal/engine"
)

// State is the lifecycle position of a transfer. Registration and running are
// the same observable state because engines begin downloading on add.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Transfer is a registry entry. The engine handle is shared read-only between
// the completion watcher and status callers; the terminal state is written
// once by the watcher.
type Transfer struct {
	ContentID   string
	Identifier  string
	Destination string
	StartedAt   time.Time

	handle engine.Handle

	mu         sync.RWMutex
	state      State
	err        error
	finishedAt time.Time
}

func newTransfer(contentID, identifier, destination string, h engine.Handle) *Transfer {
	return &Transfer{
		ContentID:   contentID,
		Identifier:  identifier,
		Destination: destination,
		StartedAt:   time.Now().UTC(),
		handle:      h,
		state:       StateRunning,
	}
}

// Name is the engine's display name, falling back to the content id while
// metadata is still unknown.
func (t *Transfer) Name() string {
	if name := t.handle.Name(); name != "" {
		return name
	}

	return t.ContentID
}

func (t *Transfer) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.state
}

// Err is the failure recorded by the watcher, if any.
func (t *Transfer) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.err
}

func (t *Transfer) finish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateRunning {
		return
	}

	t.state = StateCompleted
	t.err = err
	t.finishedAt = time.Now().UTC()

	if err != nil {
		t.state = StateFailed
	}
}

// Snapshot is an independent reading of one transfer.
type Snapshot struct {
	ContentID    string     `json:"content_id"`
	Name         string     `json:"name"`
	Destination  string     `json:"destination"`
	State        State      `json:"state"`
	EngineStatus string     `json:"engine_status"`
	BytesDone    int64      `json:"bytes_done"`
	BytesTotal   int64      `json:"bytes_total"`
	Peers        int        `json:"peers"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Progress returns the completed fraction in [0, 1], or 0 when the size is unknown.
func (s Snapshot) Progress() float64 {
	if s.BytesTotal <= 0 {
		return 0
	}

	return float64(s.BytesDone) / float64(s.BytesTotal)
}

// Snapshot reads live engine statistics. It may block on the engine and must
// not be called with the registry lock held.
func (t *Transfer) Snapshot() Snapshot {
	stats := t.handle.Stats()

	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := Snapshot{
		ContentID:    t.ContentID,
		Name:         t.Name(),
		Destination:  t.Destination,
		State:        t.state,
		EngineStatus: stats.Status,
		BytesDone:    stats.BytesCompleted,
		BytesTotal:   stats.BytesTotal,
		Peers:        stats.Peers,
		StartedAt:    t.StartedAt,
	}

	if t.err != nil {
		snap.Error = t.err.Error()
	}

	if !t.finishedAt.IsZero() {
		finished := t.finishedAt
		snap.FinishedAt = &finished
	}

	return snap
}
