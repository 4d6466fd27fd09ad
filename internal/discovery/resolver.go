package discovery

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/italolelis/game_downloader/internal/logctx"
)

// ErrIdentifierNotFound is returned when a detail page carries no transfer link.
var ErrIdentifierNotFound = errors.New("transfer identifier not found on detail page")

// Resolver extracts the transfer identifier from a candidate's detail page.
type Resolver struct {
	client    *http.Client
	prefix    string
	userAgent string
	options
}

// NewResolver creates a resolver matching anchors whose href starts with prefix.
func NewResolver(client *http.Client, prefix, userAgent string, opts ...Option) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	r := &Resolver{
		client:    client,
		prefix:    prefix,
		userAgent: userAgent,
	}

	for _, opt := range opts {
		opt(&r.options)
	}

	return r
}

// Resolve returns the href of the first anchor on the page that starts with
// the identifier prefix, unchanged.
func (r *Resolver) Resolve(ctx context.Context, detailURL string) (string, error) {
	var identifier string

	err := r.telemetry.InstrumentScrape(ctx, "resolve", func(ctx context.Context) error {
		doc, err := fetchDocument(ctx, r.client, detailURL, r.userAgent)
		if err != nil {
			return err
		}

		doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			href, _ := a.Attr("href")
			if strings.HasPrefix(href, r.prefix) {
				identifier = href

				return false
			}

			return true
		})

		if identifier == "" {
			return ErrIdentifierNotFound
		}

		return nil
	})
	if err != nil {
		return "", err
	}

	logctx.LoggerFromContext(ctx).DebugContext(ctx, "resolved transfer identifier", "detail_url", detailURL)

	return identifier, nil
}
