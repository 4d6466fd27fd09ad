// Package igdb implements catalog.Client against the IGDB API, authenticating
// with a Twitch application through the OAuth2 client credentials flow.
package igdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/italolelis/game_downloader/internal/catalog"
)

const (
	provider = "igdb"

	DefaultBaseURL  = "https://api.igdb.com/v4"
	DefaultTokenURL = "https://id.twitch.tv/oauth2/token"

	gameFields = "name,first_release_date,total_rating,summary,url,cover.url,genres.name,platforms.name"
)

// Config holds the Twitch application credentials and endpoints.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// Client represents an IGDB API client.
type Client struct {
	client   *http.Client
	baseURL  string
	clientID string
}

// NewClient creates a client whose requests carry a bearer token obtained and
// refreshed with the client credentials grant. base is used for both the token
// and API calls; nil means http.DefaultClient.
func NewClient(ctx context.Context, base *http.Client, cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}

	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	httpClient := cc.Client(ctx)
	if base != nil && base.Timeout > 0 {
		httpClient.Timeout = base.Timeout
	}

	return &Client{
		client:   httpClient,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		clientID: cfg.ClientID,
	}
}

type named struct {
	Name string `json:"name"`
}

type game struct {
	ID               int64   `json:"id"`
	Name             string  `json:"name"`
	FirstReleaseDate int64   `json:"first_release_date"`
	TotalRating      float64 `json:"total_rating"`
	Summary          string  `json:"summary"`
	URL              string  `json:"url"`
	Cover            *struct {
		URL string `json:"url"`
	} `json:"cover"`
	Genres    []named `json:"genres"`
	Platforms []named `json:"platforms"`
}

func (g game) toCatalog() catalog.Game {
	out := catalog.Game{
		ID:          g.ID,
		Name:        g.Name,
		Rating:      g.TotalRating,
		Description: g.Summary,
		Website:     g.URL,
	}

	if g.FirstReleaseDate > 0 {
		out.Released = time.Unix(g.FirstReleaseDate, 0).UTC().Format(time.DateOnly)
	}

	if g.Cover != nil && g.Cover.URL != "" {
		out.ImageURL = g.Cover.URL
		if strings.HasPrefix(out.ImageURL, "//") {
			out.ImageURL = "https:" + out.ImageURL
		}
	}

	for _, genre := range g.Genres {
		out.Genres = append(out.Genres, genre.Name)
	}

	for _, p := range g.Platforms {
		out.Platforms = append(out.Platforms, p.Name)
	}

	return out
}

// Search lists up to ten games matching query.
func (c *Client) Search(ctx context.Context, query string) ([]catalog.Game, error) {
	body := fmt.Sprintf(`search "%s"; fields %s; limit 10;`, escape(query), gameFields)

	games, err := c.query(ctx, "search", body)
	if err != nil {
		return nil, err
	}

	return games, nil
}

// Details fetches one game by its IGDB id.
func (c *Client) Details(ctx context.Context, id int64) (catalog.Game, error) {
	body := fmt.Sprintf(`fields %s; where id = %d;`, gameFields, id)

	games, err := c.query(ctx, "details", body)
	if err != nil {
		return catalog.Game{}, err
	}

	if len(games) == 0 {
		return catalog.Game{}, catalog.ErrNotFound
	}

	return games[0], nil
}

func (c *Client) query(ctx context.Context, operation, body string) ([]catalog.Game, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/games", bytes.NewBufferString(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Client-ID", c.clientID)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &catalog.APIError{Provider: provider, Operation: operation, StatusCode: resp.StatusCode}
	}

	var raw []game
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	games := make([]catalog.Game, 0, len(raw))
	for _, g := range raw {
		games = append(games, g.toCatalog())
	}

	return games, nil
}

func escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
