package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/italolelis/game_downloader/internal/logctx"
	"github.com/italolelis/game_downloader/internal/telemetry"
)

const defaultTimeout = 30 * time.Second

// ScraperConfig describes where the listing lives and how its table is laid out.
// Selectors are evaluated relative to each row.
type ScraperConfig struct {
	BaseURL        string
	SearchPath     string // printf template receiving the path-escaped query
	TopPath        string // listing used for an empty query
	RowSelector    string
	NameSelector   string
	SourceSelector string
	UserAgent      string
}

// Option configures a Scraper or Resolver.
type Option func(*options)

type options struct {
	telemetry *telemetry.Telemetry
}

// WithTelemetry records scrape metrics and spans.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(o *options) {
		o.telemetry = tel
	}
}

// Scraper queries the listing site and returns trusted candidates.
type Scraper struct {
	client  *http.Client
	cfg     ScraperConfig
	base    *url.URL
	trusted TrustedSources
	options
}

// NewScraper creates a scraper. A nil client gets a default one with a timeout.
func NewScraper(client *http.Client, cfg ScraperConfig, trusted TrustedSources, opts ...Option) (*Scraper, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}

	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", cfg.BaseURL)
	}

	if !strings.Contains(cfg.SearchPath, "%s") {
		return nil, errors.New("search path must contain a %s placeholder")
	}

	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	s := &Scraper{
		client:  client,
		cfg:     cfg,
		base:    base,
		trusted: trusted,
	}

	for _, opt := range opts {
		opt(&s.options)
	}

	return s, nil
}

// Discover returns the trusted candidates for title, in page order. Rows that
// cannot be parsed are skipped. An empty result is not an error.
func (s *Scraper) Discover(ctx context.Context, title string) ([]Candidate, error) {
	var candidates []Candidate

	err := s.telemetry.InstrumentScrape(ctx, "discover", func(ctx context.Context) error {
		var err error

		candidates, err = s.discover(ctx, title)

		return err
	})

	return candidates, err
}

func (s *Scraper) discover(ctx context.Context, title string) ([]Candidate, error) {
	pageURL := s.listingURL(title)
	logger := logctx.LoggerFromContext(ctx).With("listing_url", pageURL)

	doc, err := fetchDocument(ctx, s.client, pageURL, s.cfg.UserAgent)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0)
	rows := doc.Find(s.cfg.RowSelector)

	rows.Each(func(i int, row *goquery.Selection) {
		candidate, reason := s.parseRow(row)
		if reason != "" {
			logger.DebugContext(ctx, "skipping listing row", "row", i, "reason", reason)
			s.telemetry.RecordRowSkipped(ctx, reason)

			return
		}

		if !s.trusted.Contains(candidate.SourceName) {
			s.telemetry.RecordCandidateFiltered(ctx)

			return
		}

		candidates = append(candidates, candidate)
	})

	logger.DebugContext(ctx, "listing parsed", "rows", rows.Length(), "candidates", len(candidates))

	return candidates, nil
}

// parseRow extracts a candidate from one table row. A non-empty reason means
// the row is malformed and must be skipped.
func (s *Scraper) parseRow(row *goquery.Selection) (Candidate, string) {
	link := row.Find(s.cfg.NameSelector).First()
	if link.Length() == 0 {
		return Candidate{}, "missing_name"
	}

	name := strings.TrimSpace(link.Text())
	if name == "" {
		return Candidate{}, "missing_name"
	}

	href, ok := link.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return Candidate{}, "missing_link"
	}

	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return Candidate{}, "invalid_link"
	}

	source := strings.TrimSpace(row.Find(s.cfg.SourceSelector).First().Text())
	if source == "" {
		return Candidate{}, "missing_source"
	}

	return Candidate{
		DisplayName: name,
		DetailURL:   s.base.ResolveReference(ref).String(),
		SourceName:  source,
	}, ""
}

func (s *Scraper) listingURL(title string) string {
	title = strings.TrimSpace(title)

	path := s.cfg.TopPath
	if title != "" {
		path = fmt.Sprintf(s.cfg.SearchPath, url.PathEscape(title))
	}

	return strings.TrimRight(s.cfg.BaseURL, "/") + path
}
