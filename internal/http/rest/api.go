package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/game_downloader/internal/catalog"
	"github.com/italolelis/game_downloader/internal/discovery"
	"github.com/italolelis/game_downloader/internal/downloader"
	"github.com/italolelis/game_downloader/internal/logctx"
	"github.com/italolelis/game_downloader/internal/storage"
	"github.com/italolelis/game_downloader/internal/transfer"
)

// Service is the set of operations exposed over HTTP.
type Service interface {
	Discover(ctx context.Context, title string) ([]discovery.Candidate, error)
	ResolveAndStart(ctx context.Context, req downloader.StartRequest) (downloader.StartResult, error)
	StatusAll(ctx context.Context) []transfer.Snapshot
	Records(ctx context.Context) ([]storage.DownloadRecord, error)
	RemoveRecord(ctx context.Context, name string) error
}

type errorResponse struct {
	Error string `json:"error"`
}

type APIHandler struct {
	username string
	password string
	svc      Service
	catalog  catalog.Client
}

// NewAPIHandler creates the handler. Basic auth is enforced only when a
// username is configured; a nil catalog disables the /games routes.
func NewAPIHandler(username, password string, svc Service, cat catalog.Client) *APIHandler {
	return &APIHandler{
		username: username,
		password: password,
		svc:      svc,
		catalog:  cat,
	}
}

func (h *APIHandler) Routes() http.Handler {
	r := chi.NewRouter()

	if h.username != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Get("/search", h.HandleSearch)
	r.Get("/downloads", h.HandleListDownloads)
	r.Post("/downloads", h.HandleStartDownload)
	r.Get("/records", h.HandleListRecords)
	r.Delete("/records/{name}", h.HandleRemoveRecord)
	r.Get("/games", h.HandleSearchGames)
	r.Get("/games/{id}", h.HandleGameDetails)

	return r
}

// HandleSearch lists trusted candidates for ?title=. An empty title returns the top listing.
func (h *APIHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.svc.Discover(r.Context(), r.URL.Query().Get("title"))
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusOK, candidates)
}

// HandleStartDownload resolves the chosen candidate and starts its transfer.
func (h *APIHandler) HandleStartDownload(w http.ResponseWriter, r *http.Request) {
	var req downloader.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid request body"})

		return
	}

	res, err := h.svc.ResolveAndStart(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusAccepted, res)
}

func (h *APIHandler) HandleListDownloads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.svc.StatusAll(r.Context()))
}

func (h *APIHandler) HandleListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.Records(r.Context())
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	if records == nil {
		records = []storage.DownloadRecord{}
	}

	writeJSON(w, r, http.StatusOK, records)
}

// HandleRemoveRecord deletes a ledger entry. It does not stop a running transfer.
func (h *APIHandler) HandleRemoveRecord(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil || name == "" {
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid record name"})

		return
	}

	if err := h.svc.RemoveRecord(r.Context(), name); err != nil {
		h.writeError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) HandleSearchGames(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		writeJSON(w, r, http.StatusNotFound, errorResponse{Error: "catalog is not configured"})

		return
	}

	games, err := h.catalog.Search(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusOK, games)
}

func (h *APIHandler) HandleGameDetails(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		writeJSON(w, r, http.StatusNotFound, errorResponse{Error: "catalog is not configured"})

		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid game id"})

		return
	}

	game, err := h.catalog.Details(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusOK, game)
}

func (h *APIHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := formatError(err)

	logger := logctx.LoggerFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "path", r.URL.Path, "err", err)
	} else {
		logger.Debug("request rejected", "path", r.URL.Path, "err", err)
	}

	writeJSON(w, r, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}

// formatError converts internal errors into a status code and a short
// message suitable for users.
func formatError(err error) (int, string) {
	if errors.Is(err, downloader.ErrInvalidRequest) {
		return http.StatusBadRequest, "detail_url is required"
	}

	if errors.Is(err, discovery.ErrIdentifierNotFound) {
		return http.StatusNotFound, "no magnet link found on the detail page"
	}

	var fetchErr *discovery.FetchError
	if errors.As(err, &fetchErr) {
		if fetchErr.StatusCode != 0 {
			return http.StatusBadGateway, fmt.Sprintf("torrent site answered with status %d", fetchErr.StatusCode)
		}

		return http.StatusBadGateway, "torrent site is unreachable"
	}

	var sessionErr *transfer.SessionError
	if errors.As(err, &sessionErr) {
		return http.StatusInternalServerError, fmt.Sprintf("cannot download to %q", sessionErr.Destination)
	}

	var addErr *transfer.EngineAddError
	if errors.As(err, &addErr) {
		return http.StatusBadGateway, "torrent engine rejected the transfer"
	}

	if errors.Is(err, transfer.ErrClosed) {
		return http.StatusServiceUnavailable, "shutting down"
	}

	if errors.Is(err, storage.ErrRecordNotFound) {
		return http.StatusNotFound, "record not found"
	}

	var opErr *storage.OpError
	if errors.As(err, &opErr) {
		return http.StatusInternalServerError, "download ledger is unavailable"
	}

	if errors.Is(err, catalog.ErrNotFound) {
		return http.StatusNotFound, "game not found"
	}

	var apiErr *catalog.APIError
	if errors.As(err, &apiErr) {
		return http.StatusBadGateway, fmt.Sprintf("%s catalog is unavailable", apiErr.Provider)
	}

	return http.StatusInternalServerError, "internal error"
}
