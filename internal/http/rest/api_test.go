package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/game_downloader/internal/catalog"
	"github.com/italolelis/game_downloader/internal/discovery"
	"github.com/italolelis/game_downloader/internal/downloader"
	"github.com/italolelis/game_downloader/internal/storage"
	"github.com/italolelis/game_downloader/internal/transfer"
)

// mockService implements Service for testing.
type mockService struct {
	discoverFunc        func(ctx context.Context, title string) ([]discovery.Candidate, error)
	resolveAndStartFunc func(ctx context.Context, req downloader.StartRequest) (downloader.StartResult, error)
	statusAllFunc       func(ctx context.Context) []transfer.Snapshot
	recordsFunc         func(ctx context.Context) ([]storage.DownloadRecord, error)
	removeRecordFunc    func(ctx context.Context, name string) error
}

func (m *mockService) Discover(ctx context.Context, title string) ([]discovery.Candidate, error) {
	return m.discoverFunc(ctx, title)
}

func (m *mockService) ResolveAndStart(ctx context.Context, req downloader.StartRequest) (downloader.StartResult, error) {
	return m.resolveAndStartFunc(ctx, req)
}

func (m *mockService) StatusAll(ctx context.Context) []transfer.Snapshot {
	return m.statusAllFunc(ctx)
}

func (m *mockService) Records(ctx context.Context) ([]storage.DownloadRecord, error) {
	return m.recordsFunc(ctx)
}

func (m *mockService) RemoveRecord(ctx context.Context, name string) error {
	return m.removeRecordFunc(ctx, name)
}

type mockCatalog struct {
	searchFunc  func(ctx context.Context, query string) ([]catalog.Game, error)
	detailsFunc func(ctx context.Context, id int64) (catalog.Game, error)
}

func (m *mockCatalog) Search(ctx context.Context, query string) ([]catalog.Game, error) {
	return m.searchFunc(ctx, query)
}

func (m *mockCatalog) Details(ctx context.Context, id int64) (catalog.Game, error) {
	return m.detailsFunc(ctx, id)
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var resp errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	return resp.Error
}

func TestHandleSearch(t *testing.T) {
	var gotTitle string

	svc := &mockService{
		discoverFunc: func(_ context.Context, title string) ([]discovery.Candidate, error) {
			gotTitle = title

			return []discovery.Candidate{{DisplayName: "Portal 2", DetailURL: "https://idx/torrent/1/", SourceName: "FitGirl"}}, nil
		},
	}

	rec := serve(NewAPIHandler("", "", svc, nil).Routes(), http.MethodGet, "/search?title=portal+2", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "portal 2", gotTitle)
	assert.JSONEq(t, `[{"display_name":"Portal 2","detail_url":"https://idx/torrent/1/","source_name":"FitGirl"}]`, rec.Body.String())
}

func TestHandleStartDownload(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "accepted",
			body:       `{"detail_url":"https://idx/torrent/1/","display_name":"Portal 2","title":"Portal 2","source_name":"FitGirl"}`,
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "malformed body",
			body:       `{`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid request body",
		},
		{
			name:       "missing detail url",
			body:       `{}`,
			err:        fmt.Errorf("%w: detail_url is required", downloader.ErrInvalidRequest),
			wantStatus: http.StatusBadRequest,
			wantError:  "detail_url is required",
		},
		{
			name:       "no magnet on page",
			body:       `{"detail_url":"https://idx/torrent/1/"}`,
			err:        fmt.Errorf("failed to resolve candidate: %w", discovery.ErrIdentifierNotFound),
			wantStatus: http.StatusNotFound,
			wantError:  "no magnet link found on the detail page",
		},
		{
			name:       "engine rejected",
			body:       `{"detail_url":"https://idx/torrent/1/"}`,
			err:        &transfer.EngineAddError{Identifier: "magnet:?", Err: errors.New("bad")},
			wantStatus: http.StatusBadGateway,
			wantError:  "torrent engine rejected the transfer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got downloader.StartRequest

			svc := &mockService{
				resolveAndStartFunc: func(_ context.Context, req downloader.StartRequest) (downloader.StartResult, error) {
					got = req

					if tt.err != nil {
						return downloader.StartResult{}, tt.err
					}

					return downloader.StartResult{
						ContentID:   "0123",
						Name:        "Portal 2",
						Destination: "/downloads",
						State:       transfer.StateRunning,
						Created:     true,
					}, nil
				},
			}

			rec := serve(NewAPIHandler("", "", svc, nil).Routes(), http.MethodPost, "/downloads", tt.body)
			require.Equal(t, tt.wantStatus, rec.Code)

			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, decodeError(t, rec))

				return
			}

			assert.Equal(t, "FitGirl", got.SourceName)

			var res downloader.StartResult
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
			assert.Equal(t, "0123", res.ContentID)
			assert.Equal(t, transfer.StateRunning, res.State)
		})
	}
}

func TestHandleListDownloads(t *testing.T) {
	svc := &mockService{
		statusAllFunc: func(context.Context) []transfer.Snapshot {
			return []transfer.Snapshot{{ContentID: "abc", Name: "Portal 2", State: transfer.StateCompleted, BytesDone: 10, BytesTotal: 10}}
		},
	}

	rec := serve(NewAPIHandler("", "", svc, nil).Routes(), http.MethodGet, "/downloads", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snaps []transfer.Snapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snaps))
	require.Len(t, snaps, 1)
	assert.Equal(t, transfer.StateCompleted, snaps[0].State)
}

func TestHandleRecords(t *testing.T) {
	t.Run("empty ledger is an empty list", func(t *testing.T) {
		svc := &mockService{
			recordsFunc: func(context.Context) ([]storage.DownloadRecord, error) { return nil, nil },
		}

		rec := serve(NewAPIHandler("", "", svc, nil).Routes(), http.MethodGet, "/records", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})

	t.Run("ledger failure", func(t *testing.T) {
		svc := &mockService{
			recordsFunc: func(context.Context) ([]storage.DownloadRecord, error) {
				return nil, &storage.OpError{Op: "list_records", Err: errors.New("database is locked")}
			},
		}

		rec := serve(NewAPIHandler("", "", svc, nil).Routes(), http.MethodGet, "/records", "")
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "download ledger is unavailable", decodeError(t, rec))
	})
}

func TestHandleRemoveRecord(t *testing.T) {
	var removed string

	svc := &mockService{
		removeRecordFunc: func(_ context.Context, name string) error {
			if name == "missing" {
				return &storage.OpError{Op: "remove_record", Err: storage.ErrRecordNotFound}
			}

			removed = name

			return nil
		},
	}
	h := NewAPIHandler("", "", svc, nil).Routes()

	rec := serve(h, http.MethodDelete, "/records/Portal%202%20%5BFitGirl%5D", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "Portal 2 [FitGirl]", removed)

	rec = serve(h, http.MethodDelete, "/records/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "record not found", decodeError(t, rec))
}

func TestHandleGames(t *testing.T) {
	t.Run("catalog not configured", func(t *testing.T) {
		h := NewAPIHandler("", "", &mockService{}, nil).Routes()

		rec := serve(h, http.MethodGet, "/games?search=portal", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = serve(h, http.MethodGet, "/games/1", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	cat := &mockCatalog{
		searchFunc: func(_ context.Context, query string) ([]catalog.Game, error) {
			return []catalog.Game{{ID: 4200, Name: query}}, nil
		},
		detailsFunc: func(_ context.Context, id int64) (catalog.Game, error) {
			switch id {
			case 4200:
				return catalog.Game{ID: id, Name: "Portal 2"}, nil
			case 500:
				return catalog.Game{}, &catalog.APIError{Provider: "rawg", Operation: "details", StatusCode: 500}
			default:
				return catalog.Game{}, catalog.ErrNotFound
			}
		},
	}
	h := NewAPIHandler("", "", &mockService{}, cat).Routes()

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantBody   string
	}{
		{name: "search", target: "/games?search=portal", wantStatus: http.StatusOK, wantBody: `[{"id":4200,"name":"portal"}]`},
		{name: "details", target: "/games/4200", wantStatus: http.StatusOK, wantBody: `{"id":4200,"name":"Portal 2"}`},
		{name: "unknown game", target: "/games/1", wantStatus: http.StatusNotFound, wantBody: `{"error":"game not found"}`},
		{name: "invalid id", target: "/games/abc", wantStatus: http.StatusBadRequest, wantBody: `{"error":"invalid game id"}`},
		{name: "provider down", target: "/games/500", wantStatus: http.StatusBadGateway, wantBody: `{"error":"rawg catalog is unavailable"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, http.MethodGet, tt.target, "")
			require.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestBasicAuth(t *testing.T) {
	svc := &mockService{
		statusAllFunc: func(context.Context) []transfer.Snapshot { return nil },
	}
	h := NewAPIHandler("admin", "secret", svc, nil).Routes()

	tests := []struct {
		name       string
		user, pass string
		setAuth    bool
		wantStatus int
	}{
		{name: "missing credentials", wantStatus: http.StatusUnauthorized},
		{name: "wrong password", user: "admin", pass: "nope", setAuth: true, wantStatus: http.StatusUnauthorized},
		{name: "valid credentials", user: "admin", pass: "secret", setAuth: true, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/downloads", nil)
			if tt.setAuth {
				req.SetBasicAuth(tt.user, tt.pass)
			}

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestFormatError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "listing status",
			err:        &discovery.FetchError{URL: "https://idx", StatusCode: 503},
			wantStatus: http.StatusBadGateway,
			wantMsg:    "torrent site answered with status 503",
		},
		{
			name:       "listing unreachable",
			err:        &discovery.FetchError{URL: "https://idx", Err: errors.New("dial tcp: refused")},
			wantStatus: http.StatusBadGateway,
			wantMsg:    "torrent site is unreachable",
		},
		{
			name:       "session",
			err:        fmt.Errorf("start: %w", &transfer.SessionError{Destination: "/ro", Err: errors.New("read-only")}),
			wantStatus: http.StatusInternalServerError,
			wantMsg:    `cannot download to "/ro"`,
		},
		{
			name:       "closed",
			err:        transfer.ErrClosed,
			wantStatus: http.StatusServiceUnavailable,
			wantMsg:    "shutting down",
		},
		{
			name:       "unknown",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := formatError(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantMsg, msg)
		})
	}
}
