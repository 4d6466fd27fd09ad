// Package rain adapts github.com/cenkalti/rain to the engine contract. Each
// session is a rain session whose data directory is the session root and whose
// resume database lives in a hidden directory beneath it.
package rain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/cenkalti/rain/torrent"

	"github.com/italolelis/game_downloader/internal/engine"
)

const (
	Name = "rain"

	// Every session gets its own slice of the port space so sessions for
	// different destinations can run side by side.
	portBlock     = 200
	basePort      = 50000
	baseDHTPort   = 7246
	stateDirName  = ".rain"
	stateFileName = "session.db"
)

// Option tweaks the configuration of every session.
type Option func(*torrent.Config)

// WithoutNetwork disables DHT and peer exchange.
func WithoutNetwork() Option {
	return func(cfg *torrent.Config) {
		cfg.DHTEnabled = false
		cfg.PEXEnabled = false
	}
}

// Engine creates rain-backed sessions.
type Engine struct {
	opts     []Option
	sessions atomic.Uint32
}

func New(opts ...Option) *Engine {
	return &Engine{opts: opts}
}

func (e *Engine) Name() string {
	return Name
}

func (e *Engine) CreateSession(_ context.Context, root string) (engine.Session, error) {
	stateDir := filepath.Join(root, stateDirName)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session state dir: %w", err)
	}

	slot := e.sessions.Add(1) - 1

	cfg := torrent.DefaultConfig
	cfg.DataDir = root
	cfg.DataDirIncludesTorrentID = false
	cfg.Database = filepath.Join(stateDir, stateFileName)
	cfg.RPCEnabled = false
	cfg.PortBegin = uint16(basePort + slot*portBlock)
	cfg.PortEnd = cfg.PortBegin + portBlock
	cfg.DHTPort = uint16(baseDHTPort + slot)

	for _, opt := range e.opts {
		opt(&cfg)
	}

	ses, err := torrent.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create rain session: %w", err)
	}

	return &session{ses: ses}, nil
}

type session struct {
	ses *torrent.Session
}

// Add returns the torrent already known to the session for the same info hash,
// including ones restored from the resume database. Rain verifies existing
// files under the root before downloading, which is how it honours Overwrite.
func (s *session) Add(_ context.Context, identifier string, _ engine.AddOptions) (engine.Handle, error) {
	contentID, err := engine.ContentID(identifier)
	if err != nil {
		return nil, err
	}

	for _, t := range s.ses.ListTorrents() {
		if t.InfoHash().String() == contentID {
			return &handle{t: t}, nil
		}
	}

	t, err := s.ses.AddURI(identifier, &torrent.AddTorrentOptions{StopAfterDownload: true})
	if err != nil {
		return nil, err
	}

	return &handle{t: t}, nil
}

func (s *session) Close() error {
	return s.ses.Close()
}

type handle struct {
	t *torrent.Torrent
}

func (h *handle) ContentID() string {
	return h.t.InfoHash().String()
}

func (h *handle) Name() string {
	return h.t.Name()
}

func (h *handle) Stats() engine.Stats {
	st := h.t.Stats()

	return engine.Stats{
		BytesCompleted: st.Bytes.Completed,
		BytesTotal:     st.Bytes.Total,
		Peers:          st.Peers.Total,
		Status:         st.Status.String(),
	}
}

// Wait treats a stop without error after the last byte arrived as completion,
// since StopAfterDownload stops the torrent as soon as it finishes.
func (h *handle) Wait(ctx context.Context) error {
	select {
	case <-h.t.NotifyComplete():
		return nil
	case err := <-h.t.NotifyStop():
		if err != nil {
			return err
		}

		if st := h.t.Stats(); st.Bytes.Total > 0 && st.Bytes.Completed >= st.Bytes.Total {
			return nil
		}

		return errors.New("transfer stopped before completion")
	case <-ctx.Done():
		return ctx.Err()
	}
}
