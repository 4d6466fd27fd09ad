package downloader

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/game_downloader/internal/discovery"
	"github.com/italolelis/game_downloader/internal/engine"
	"github.com/italolelis/game_downloader/internal/logctx"
	"github.com/italolelis/game_downloader/internal/storage"
	"github.com/italolelis/game_downloader/internal/transfer"
)

const testMagnet = "magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567&dn=Portal+2"

type mockDiscoverer struct {
	DiscoverFunc func(ctx context.Context, title string) ([]discovery.Candidate, error)
}

func (m *mockDiscoverer) Discover(ctx context.Context, title string) ([]discovery.Candidate, error) {
	return m.DiscoverFunc(ctx, title)
}

type mockResolver struct {
	ResolveFunc func(ctx context.Context, detailURL string) (string, error)
}

func (m *mockResolver) Resolve(ctx context.Context, detailURL string) (string, error) {
	return m.ResolveFunc(ctx, detailURL)
}

type mockLedger struct {
	mu      sync.Mutex
	records []storage.DownloadRecord
	addErr  error
	listErr error
}

func (m *mockLedger) AddRecord(_ context.Context, record storage.DownloadRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.addErr != nil {
		return m.addErr
	}

	m.records = append(m.records, record)

	return nil
}

func (m *mockLedger) RemoveRecord(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, r := range m.records {
		if r.Name == name {
			m.records = append(m.records[:i], m.records[i+1:]...)

			return nil
		}
	}

	return storage.ErrRecordNotFound
}

func (m *mockLedger) ListRecords(context.Context) ([]storage.DownloadRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listErr != nil {
		return nil, m.listErr
	}

	return append([]storage.DownloadRecord(nil), m.records...), nil
}

type stubHandle struct {
	id string
}

func (h *stubHandle) ContentID() string { return h.id }
func (h *stubHandle) Name() string { return "Portal 2" }

func (h *stubHandle) Stats() engine.Stats {
	return engine.Stats{BytesCompleted: 512 << 20, BytesTotal: 1 << 30, Peers: 4, Status: "downloading"}
}

func (h *stubHandle) Wait(ctx context.Context) error {
	<-ctx.Done()

	return ctx.Err()
}

type stubEngine struct {
	mu    sync.Mutex
	roots []string
}

func (e *stubEngine) Name() string { return "stub" }

func (e *stubEngine) CreateSession(_ context.Context, root string) (engine.Session, error) {
	e.mu.Lock()
	e.roots = append(e.roots, root)
	e.mu.Unlock()

	return e, nil
}

func (e *stubEngine) Add(_ context.Context, identifier string, _ engine.AddOptions) (engine.Handle, error) {
	id, err := engine.ContentID(identifier)
	if err != nil {
		return nil, err
	}

	return &stubHandle{id: id}, nil
}

func (e *stubEngine) Close() error { return nil }

func newTestDownloader(t *testing.T, resolver Resolver, ledger *mockLedger) (*Downloader, *transfer.Orchestrator) {
	t.Helper()

	o := transfer.NewOrchestrator(&stubEngine{})
	t.Cleanup(func() { _ = o.Close() })

	discoverer := &mockDiscoverer{
		DiscoverFunc: func(_ context.Context, title string) ([]discovery.Candidate, error) {
			return []discovery.Candidate{{DisplayName: title, DetailURL: "https://idx/torrent/1/", SourceName: "FitGirl"}}, nil
		},
	}

	return NewDownloader("/downloads", discoverer, resolver, o, ledger), o
}

func staticResolver(identifier string) *mockResolver {
	return &mockResolver{
		ResolveFunc: func(context.Context, string) (string, error) {
			return identifier, nil
		},
	}
}

func TestResolveAndStart(t *testing.T) {
	ledger := &mockLedger{}
	d, o := newTestDownloader(t, staticResolver(testMagnet), ledger)

	res, err := d.ResolveAndStart(context.Background(), StartRequest{
		DetailURL:   "https://idx/torrent/1/",
		DisplayName: "Portal 2 [FitGirl Repack]",
		Title:       "Portal 2",
		SourceName:  "FitGirl",
		Destination: "portal",
	})
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.Equal(t, "0123456789abcdef0123456789abcdef01234567", res.ContentID)
	assert.Equal(t, "/downloads/portal", res.Destination)
	assert.Equal(t, transfer.StateRunning, res.State)
	assert.Equal(t, 1, o.Len())

	require.Len(t, ledger.records, 1)
	assert.Equal(t, storage.DownloadRecord{
		Name:               "Portal 2 [FitGirl Repack]",
		Title:              "Portal 2",
		TransferIdentifier: testMagnet,
		SourceName:         "FitGirl",
		DestinationPath:    "/downloads/portal",
	}, ledger.records[0])
}

func TestResolveAndStart_RepeatedStartWritesOneRecord(t *testing.T) {
	ledger := &mockLedger{}
	d, o := newTestDownloader(t, staticResolver(testMagnet), ledger)

	req := StartRequest{DetailURL: "https://idx/torrent/1/", Title: "Portal 2"}

	_, err := d.ResolveAndStart(context.Background(), req)
	require.NoError(t, err)

	res, err := d.ResolveAndStart(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, res.Created)
	assert.Equal(t, 1, o.Len())
	require.Len(t, ledger.records, 1)
	assert.Equal(t, "Portal 2", ledger.records[0].Name, "falls back to the engine name")
	assert.Equal(t, "/downloads", ledger.records[0].DestinationPath)
}

func TestResolveAndStart_Errors(t *testing.T) {
	t.Run("missing detail url", func(t *testing.T) {
		d, _ := newTestDownloader(t, staticResolver(testMagnet), &mockLedger{})

		_, err := d.ResolveAndStart(context.Background(), StartRequest{})
		require.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("resolver failure is surfaced and nothing is recorded", func(t *testing.T) {
		ledger := &mockLedger{}
		d, o := newTestDownloader(t, &mockResolver{
			ResolveFunc: func(context.Context, string) (string, error) {
				return "", discovery.ErrIdentifierNotFound
			},
		}, ledger)

		_, err := d.ResolveAndStart(context.Background(), StartRequest{DetailURL: "https://idx/torrent/1/"})
		require.ErrorIs(t, err, discovery.ErrIdentifierNotFound)
		assert.Zero(t, o.Len())
		assert.Empty(t, ledger.records)
	})

	t.Run("engine rejection is surfaced and nothing is recorded", func(t *testing.T) {
		ledger := &mockLedger{}
		d, _ := newTestDownloader(t, staticResolver("magnet:?dn=broken"), ledger)

		_, err := d.ResolveAndStart(context.Background(), StartRequest{DetailURL: "https://idx/torrent/1/"})

		var addErr *transfer.EngineAddError
		require.ErrorAs(t, err, &addErr)
		assert.Empty(t, ledger.records)
	})

	t.Run("ledger failure does not fail the start", func(t *testing.T) {
		var buf bytes.Buffer

		ctx := logctx.WithLogger(context.Background(), slog.New(slog.NewJSONHandler(&buf, nil)))

		ledger := &mockLedger{addErr: &storage.OpError{Op: "add_record", Err: errors.New("disk I/O error")}}
		d, o := newTestDownloader(t, staticResolver(testMagnet), ledger)

		res, err := d.ResolveAndStart(ctx, StartRequest{DetailURL: "https://idx/torrent/1/"})
		require.NoError(t, err)
		assert.True(t, res.Created)
		assert.Equal(t, 1, o.Len())
		assert.Contains(t, buf.String(), "failed to record download")
	})
}

func TestResume(t *testing.T) {
	ledger := &mockLedger{records: []storage.DownloadRecord{
		{Name: "good", TransferIdentifier: testMagnet, DestinationPath: "/downloads/a"},
		{Name: "bad", TransferIdentifier: "garbage", DestinationPath: "/downloads/b"},
	}}
	d, o := newTestDownloader(t, staticResolver(testMagnet), ledger)

	started, err := d.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, o.Len())

	ledger.listErr = errors.New("database is locked")

	_, err = d.Resume(context.Background())
	require.ErrorIs(t, err, ledger.listErr)
}

func TestRecordsAndRemove(t *testing.T) {
	ledger := &mockLedger{records: []storage.DownloadRecord{{Name: "a"}, {Name: "b"}}}
	d, _ := newTestDownloader(t, staticResolver(testMagnet), ledger)

	require.NoError(t, d.RemoveRecord(context.Background(), "a"))
	require.ErrorIs(t, d.RemoveRecord(context.Background(), "a"), storage.ErrRecordNotFound)

	records, err := d.Records(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []storage.DownloadRecord{{Name: "b"}}, records)
}

func TestDiscover(t *testing.T) {
	d, _ := newTestDownloader(t, staticResolver(testMagnet), &mockLedger{})

	candidates, err := d.Discover(context.Background(), "Portal 2")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "Portal 2", candidates[0].DisplayName)

	d.discoverer = &mockDiscoverer{
		DiscoverFunc: func(context.Context, string) ([]discovery.Candidate, error) {
			return nil, &discovery.FetchError{URL: "https://idx", StatusCode: 503}
		},
	}

	_, err = d.Discover(context.Background(), "Portal 2")

	var fetchErr *discovery.FetchError
	require.ErrorAs(t, err, &fetchErr)
}

func TestDestination(t *testing.T) {
	d := &Downloader{downloadDir: "/downloads"}

	assert.Equal(t, "/downloads", d.destination(""))
	assert.Equal(t, "/downloads/games/portal", d.destination("games/portal"))
	assert.Equal(t, "/mnt/games", d.destination("/mnt/games/"))
}

func TestWatchProgress_LogsRunningTransfers(t *testing.T) {
	var (
		mu  sync.Mutex
		buf bytes.Buffer
	)

	logger := slog.New(slog.NewJSONHandler(&lockedWriter{mu: &mu, w: &buf}, nil))
	ctx, cancel := context.WithCancel(logctx.WithLogger(context.Background(), logger))

	defer cancel()

	d, _ := newTestDownloader(t, staticResolver(testMagnet), &mockLedger{})

	_, err := d.ResolveAndStart(ctx, StartRequest{DetailURL: "https://idx/torrent/1/"})
	require.NoError(t, err)

	d.WatchProgress(ctx, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return strings.Contains(buf.String(), `"msg":"transfer progress"`)
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	out := buf.String()
	mu.Unlock()

	assert.Contains(t, out, `"downloaded":"537 MB"`)
	assert.Contains(t, out, `"total":"1.1 GB"`)
	assert.Contains(t, out, `"percent":"50"`)
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.w.Write(p)
}
