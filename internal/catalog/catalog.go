// Package catalog looks up game metadata from a third-party catalog.
package catalog

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when the catalog has no game with the requested id.
var ErrNotFound = errors.New("game not found")

// Game is the provider-neutral view of a catalog entry.
type Game struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Released    string   `json:"released,omitempty"`
	Rating      float64  `json:"rating,omitempty"`
	ImageURL    string   `json:"image_url,omitempty"`
	Description string   `json:"description,omitempty"`
	Website     string   `json:"website,omitempty"`
	Platforms   []string `json:"platforms,omitempty"`
	Genres      []string `json:"genres,omitempty"`
}

// Client searches a catalog and fetches game details.
type Client interface {
	Search(ctx context.Context, query string) ([]Game, error)
	Details(ctx context.Context, id int64) (Game, error)
}

// APIError reports a non-success answer from a catalog provider.
type APIError struct {
	Provider   string
	Operation  string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Provider, e.Operation, e.StatusCode)
}
