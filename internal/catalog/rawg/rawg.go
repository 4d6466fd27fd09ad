// Package rawg implements catalog.Client against the RAWG video game database.
package rawg

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/italolelis/game_downloader/internal/catalog"
)

const (
	provider = "rawg"

	DefaultBaseURL = "https://api.rawg.io"

	// PC, Xbox and PlayStation families; Steam, GOG and Epic stores.
	parentPlatforms = "1,6,5"
	stores          = "1,5,11"
	pageSize        = "10"
)

// Client represents a RAWG API client.
type Client struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

// NewClient creates a new RAWG API client. A nil httpClient gets a default one.
func NewClient(httpClient *http.Client, apiKey, baseURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		client:  httpClient,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type namedRef struct {
	Name string `json:"name"`
}

type game struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	Released        string  `json:"released"`
	Rating          float64 `json:"rating"`
	BackgroundImage string  `json:"background_image"`
	DescriptionRaw  string  `json:"description_raw"`
	Website         string  `json:"website"`
	ParentPlatforms []struct {
		Platform namedRef `json:"platform"`
	} `json:"parent_platforms"`
	Genres []namedRef `json:"genres"`
}

type searchResponse struct {
	Count   int    `json:"count"`
	Results []game `json:"results"`
}

func (g game) toCatalog() catalog.Game {
	out := catalog.Game{
		ID:          g.ID,
		Name:        g.Name,
		Released:    g.Released,
		Rating:      g.Rating,
		ImageURL:    g.BackgroundImage,
		Description: g.DescriptionRaw,
		Website:     g.Website,
	}

	for _, p := range g.ParentPlatforms {
		out.Platforms = append(out.Platforms, p.Platform.Name)
	}

	for _, genre := range g.Genres {
		out.Genres = append(out.Genres, genre.Name)
	}

	return out
}

// Search lists up to ten games matching query on the supported platforms and stores.
func (c *Client) Search(ctx context.Context, query string) ([]catalog.Game, error) {
	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("search", query)
	params.Set("page_size", pageSize)
	params.Set("parent_platforms", parentPlatforms)
	params.Set("stores", stores)

	var resp searchResponse
	if err := c.get(ctx, "search", "/api/games?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	games := make([]catalog.Game, 0, len(resp.Results))
	for _, g := range resp.Results {
		games = append(games, g.toCatalog())
	}

	return games, nil
}

// Details fetches one game by its RAWG id.
func (c *Client) Details(ctx context.Context, id int64) (catalog.Game, error) {
	params := url.Values{}
	params.Set("key", c.apiKey)

	var g game
	if err := c.get(ctx, "details", "/api/games/"+strconv.FormatInt(id, 10)+"?"+params.Encode(), &g); err != nil {
		return catalog.Game{}, err
	}

	return g.toCatalog(), nil
}

func (c *Client) get(ctx context.Context, operation, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound && operation == "details":
		return catalog.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return &catalog.APIError{Provider: provider, Operation: operation, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
