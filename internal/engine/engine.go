// Package engine defines the torrent engine contract the transfer orchestrator
// drives. Adapters for concrete libraries live in the subpackages.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
)

// ErrClosed is returned by Handle.Wait when the engine drops the transfer
// before it completes, typically because its session was closed.
var ErrClosed = errors.New("transfer closed before completion")

// Engine creates sessions rooted at a destination directory.
type Engine interface {
	Name() string
	CreateSession(ctx context.Context, root string) (Session, error)
}

// AddOptions tunes how a transfer is added to a session.
type AddOptions struct {
	// Overwrite allows the engine to reuse and overwrite files already
	// present under the session root.
	Overwrite bool
}

// Session adds transfers whose files land under one root directory.
type Session interface {
	Add(ctx context.Context, identifier string, opts AddOptions) (Handle, error)
	Close() error
}

// Handle is a live reference to one transfer. Its methods are safe for
// concurrent use.
type Handle interface {
	// ContentID is the lowercase hex info hash of the content.
	ContentID() string
	Name() string
	Stats() Stats
	// Wait blocks until the transfer completes, fails, or ctx is done.
	Wait(ctx context.Context) error
}

// Stats is a point-in-time reading of a transfer.
type Stats struct {
	BytesCompleted int64
	BytesTotal     int64
	Peers          int
	Status         string
}

// ContentID extracts the info hash from a magnet identifier.
func ContentID(identifier string) (string, error) {
	m, err := metainfo.ParseMagnetUri(identifier)
	if err != nil {
		return "", fmt.Errorf("invalid magnet identifier: %w", err)
	}

	return strings.ToLower(m.InfoHash.HexString()), nil
}
