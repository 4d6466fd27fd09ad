// Package anacrolix adapts github.com/anacrolix/torrent to the engine contract.
// Each session is its own torrent.Client with a data directory at the session root.
package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anacrolix/torrent"

	"github.com/italolelis/game_downloader/internal/engine"
)

const (
	Name = "anacrolix"

	completionPollInterval = time.Second
)

// Option tweaks the client configuration of every session.
type Option func(*torrent.ClientConfig)

// WithoutNetwork disables DHT, trackers and incoming connections.
func WithoutNetwork() Option {
	return func(cfg *torrent.ClientConfig) {
		cfg.NoDHT = true
		cfg.DisableTrackers = true
		cfg.DisableIPv6 = true
	}
}

// Engine creates anacrolix-backed sessions.
type Engine struct {
	opts []Option
}

func New(opts ...Option) *Engine {
	return &Engine{opts: opts}
}

func (e *Engine) Name() string {
	return Name
}

// CreateSession starts a client whose data directory is root. The listen port is
// picked by the OS so several sessions can coexist in one process.
func (e *Engine) CreateSession(_ context.Context, root string) (engine.Session, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session root: %w", err)
	}

	cfg := torrent.NewDefaultClientConfig()
	cfg.DataDir = root
	cfg.ListenPort = 0
	cfg.Seed = false

	for _, opt := range e.opts {
		opt(cfg)
	}

	client, err := torrent.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create torrent client: %w", err)
	}

	return &session{client: client}, nil
}

type session struct {
	client *torrent.Client
}

// Add registers the magnet with the client and starts downloading every piece
// once metadata arrives. Existing files under the root are verified and reused,
// which is how the client honours Overwrite.
func (s *session) Add(_ context.Context, identifier string, _ engine.AddOptions) (engine.Handle, error) {
	t, err := s.client.AddMagnet(identifier)
	if err != nil {
		return nil, err
	}

	go func() {
		select {
		case <-t.GotInfo():
			t.DownloadAll()
		case <-t.Closed():
		}
	}()

	return &handle{t: t}, nil
}

func (s *session) Close() error {
	return errors.Join(s.client.Close()...)
}

type handle struct {
	t *torrent.Torrent
}

func (h *handle) ContentID() string {
	return strings.ToLower(h.t.InfoHash().HexString())
}

func (h *handle) Name() string {
	return h.t.Name()
}

func (h *handle) Stats() engine.Stats {
	stats := engine.Stats{
		BytesCompleted: h.t.BytesCompleted(),
		Peers:          h.t.Stats().TotalPeers,
		Status:         "fetching_metadata",
	}

	if h.t.Info() == nil {
		return stats
	}

	stats.BytesTotal = h.t.Length()
	stats.Status = "downloading"

	if stats.BytesCompleted >= stats.BytesTotal {
		stats.Status = "complete"
	}

	return stats
}

func (h *handle) Wait(ctx context.Context) error {
	select {
	case <-h.t.GotInfo():
	case <-h.t.Closed():
		return engine.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	ticker := time.NewTicker(completionPollInterval)
	defer ticker.Stop()

	for {
		if h.t.BytesCompleted() >= h.t.Length() {
			return nil
		}

		select {
		case <-ticker.C:
		case <-h.t.Closed():
			return engine.ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
