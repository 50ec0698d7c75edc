package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igfetch/internal/downloader"
	"igfetch/pkg/accounts"
	"igfetch/pkg/errors"
	"igfetch/pkg/extractor"
	"igfetch/pkg/instagram"
	"igfetch/pkg/logger"
	"igfetch/pkg/media"
	"igfetch/pkg/metrics"
	"igfetch/pkg/urlrouter"
)

type fakeAuthenticator struct{}

func (fakeAuthenticator) Setup(ctx context.Context, account *accounts.Account) error {
	return nil
}

// heavyStub fabricates heavy clients bound to whatever account the
// orchestrator hands the factory.
type heavyStub struct {
	failAuthFor map[string]bool
	fetchedBy   []string
	fetchedURLs []string
	meta        *Metadata
	metaErr     error
}

func (h *heavyStub) factory() HeavyClientFactory {
	return func(account *accounts.Account) (HeavyClient, error) {
		return &boundHeavy{stub: h, account: account}, nil
	}
}

type boundHeavy struct {
	stub    *heavyStub
	account *accounts.Account
}

func (b *boundHeavy) Fetch(ctx context.Context, url, outputDir string) ([]media.Item, error) {
	b.stub.fetchedBy = append(b.stub.fetchedBy, b.account.Username)
	b.stub.fetchedURLs = append(b.stub.fetchedURLs, url)
	if b.stub.failAuthFor[b.account.Username] {
		return nil, errors.New(errors.ErrorTypeAuth, "session expired")
	}
	return []media.Item{{Path: filepath.Join(outputDir, "heavy.mp4"), Type: media.TypeVideo}}, nil
}

func (b *boundHeavy) Metadata(ctx context.Context, url string) (*Metadata, error) {
	return b.stub.meta, b.stub.metaErr
}

func newTestManager(t *testing.T) *accounts.Manager {
	t.Helper()
	dir := t.TempDir()
	accountsFile := filepath.Join(dir, "accounts.txt")
	require.NoError(t, os.WriteFile(accountsFile, []byte("alice|pw1|SEED1\nbob|pw2|SEED2\ncarol|pw3|SEED3\n"), 0600))

	m, err := accounts.NewManager(accounts.Options{
		AccountsFile:                accountsFile,
		StateFile:                   filepath.Join(dir, "state.json"),
		SessionsDir:                 filepath.Join(dir, "sessions"),
		Authenticator:               fakeAuthenticator{},
		Logger:                      logger.NewNop(),
		DisableRecencyRandomization: true,
	})
	require.NoError(t, err)
	return m
}

func newTestClient(t *testing.T, mux *http.ServeMux) *instagram.Client {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client, err := instagram.NewClient(instagram.ClientOptions{
		Endpoints: &instagram.Endpoints{MobileBase: server.URL, WebBase: server.URL},
		Logger:    logger.NewNop(),
	})
	require.NoError(t, err)
	return client
}

// failingFastParts returns a fast extractor and fetcher whose every
// endpoint answers 404, so the fast path always comes up empty.
func failingFastParts(t *testing.T) (*extractor.FastExtractor, *downloader.Fetcher) {
	t.Helper()
	client := newTestClient(t, http.NewServeMux())
	fast := extractor.New(client, extractor.Options{Logger: logger.NewNop()})
	fetcher := downloader.NewFetcher(client, nil, logger.NewNop())
	return fast, fetcher
}

func findAccount(t *testing.T, m *accounts.Manager, username string) *accounts.Account {
	t.Helper()
	for _, a := range m.All() {
		if a.Username == username {
			return a
		}
	}
	t.Fatalf("account %s not in pool", username)
	return nil
}

func TestHeavyPathSucceedsOnFirstAccount(t *testing.T) {
	manager := newTestManager(t)
	stub := &heavyStub{meta: &Metadata{Caption: "from metadata"}}
	fast, fetcher := failingFastParts(t)

	orch := New(Options{
		Manager:      manager,
		Fast:         fast,
		Fetcher:      fetcher,
		HeavyFactory: stub.factory(),
		OutputDir:    t.TempDir(),
		Logger:       logger.NewNop(),
	})

	result, err := orch.Extract(context.Background(), "https://www.instagram.com/p/ABC123/")
	require.NoError(t, err)

	assert.Equal(t, "ABC123", result.Shortcode)
	assert.Equal(t, "from metadata", result.Caption)
	require.Len(t, result.Items, 1)

	// Only the first account is touched and nothing is banned.
	assert.Equal(t, []string{"alice"}, stub.fetchedBy)
	assert.NotNil(t, findAccount(t, manager, "alice").LastUsed)
	assert.Nil(t, findAccount(t, manager, "bob").LastUsed)
	assert.Nil(t, findAccount(t, manager, "carol").LastUsed)
	assert.Len(t, manager.Available(), 3)
}

func TestAuthFailureBansRotatesAndRetries(t *testing.T) {
	manager := newTestManager(t)
	stub := &heavyStub{failAuthFor: map[string]bool{"alice": true}}
	fast, fetcher := failingFastParts(t)

	orch := New(Options{
		Manager:      manager,
		Fast:         fast,
		Fetcher:      fetcher,
		HeavyFactory: stub.factory(),
		OutputDir:    t.TempDir(),
		Logger:       logger.NewNop(),
	})

	result, err := orch.Extract(context.Background(), "https://www.instagram.com/reel/XYZ789/")
	require.NoError(t, err)
	require.Len(t, result.Items, 1)

	assert.Equal(t, []string{"alice", "bob"}, stub.fetchedBy)

	alice := findAccount(t, manager, "alice")
	assert.True(t, alice.Banned)
	assert.Equal(t, accounts.BanAuthFailed, alice.BanReason)
	assert.NotNil(t, alice.BannedAt)

	require.NotNil(t, manager.Current())
	assert.Equal(t, "bob", manager.Current().Username)
	assert.NotNil(t, findAccount(t, manager, "bob").LastUsed)
}

func TestSecondAuthFailureIsTerminal(t *testing.T) {
	manager := newTestManager(t)
	stub := &heavyStub{failAuthFor: map[string]bool{"alice": true, "bob": true, "carol": true}}
	fast, fetcher := failingFastParts(t)

	orch := New(Options{
		Manager:      manager,
		Fast:         fast,
		Fetcher:      fetcher,
		HeavyFactory: stub.factory(),
		OutputDir:    t.TempDir(),
		Logger:       logger.NewNop(),
	})

	_, err := orch.Extract(context.Background(), "https://www.instagram.com/p/ABC123/")
	require.Error(t, err)
	assert.True(t, errors.IsAuthClass(err))

	// Exactly one ban-and-rotate, then the retry failure is terminal.
	assert.Len(t, stub.fetchedBy, 2)
	assert.True(t, findAccount(t, manager, "alice").Banned)
	assert.False(t, findAccount(t, manager, "bob").Banned)

	// The terminal error carries the fast path cause for diagnostics.
	assert.Contains(t, err.Error(), "fast path")
}

func TestStoryRouteSkipsFastPath(t *testing.T) {
	manager := newTestManager(t)
	stub := &heavyStub{}

	var fastHits int
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fastHits++
		w.WriteHeader(http.StatusNotFound)
	})
	client := newTestClient(t, mux)
	fast := extractor.New(client, extractor.Options{Logger: logger.NewNop()})
	fetcher := downloader.NewFetcher(client, nil, logger.NewNop())

	orch := New(Options{
		Manager:      manager,
		Fast:         fast,
		Fetcher:      fetcher,
		HeavyFactory: stub.factory(),
		OutputDir:    t.TempDir(),
		Logger:       logger.NewNop(),
	})

	result, err := orch.Extract(context.Background(), "https://www.instagram.com/stories/someuser/99887766/")
	require.NoError(t, err)
	require.Len(t, result.Items, 1)

	assert.Zero(t, fastHits, "story URLs must go straight to the heavy path")
	require.Len(t, stub.fetchedURLs, 1)
	assert.Contains(t, stub.fetchedURLs[0], "/stories/someuser/99887766")
	assert.Equal(t, "99887766", result.Shortcode)
}

func TestFastPathSuccessSkipsHeavy(t *testing.T) {
	manager := newTestManager(t)

	var serverURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/oembed/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"media_id": "42_7"})
	})
	mux.HandleFunc("/api/v1/media/42/info/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []map[string]interface{}{{
				"caption": map[string]string{"text": "fast caption"},
				"image_versions2": map[string]interface{}{
					"candidates": []map[string]interface{}{
						{"url": serverURL + "/img.jpg", "width": 1080, "height": 1080},
					},
				},
			}},
		})
	})
	mux.HandleFunc("/img.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpegbytes"))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	serverURL = server.URL

	client, err := instagram.NewClient(instagram.ClientOptions{
		Endpoints: &instagram.Endpoints{MobileBase: server.URL, WebBase: server.URL},
		Logger:    logger.NewNop(),
	})
	require.NoError(t, err)

	outputDir := t.TempDir()
	orch := New(Options{
		Manager: manager,
		Fast:    extractor.New(client, extractor.Options{Logger: logger.NewNop()}),
		Fetcher: downloader.NewFetcher(client, nil, logger.NewNop()),
		HeavyFactory: func(account *accounts.Account) (HeavyClient, error) {
			t.Fatal("heavy path must not run when the fast path succeeds")
			return nil, nil
		},
		OutputDir: outputDir,
		Logger:    logger.NewNop(),
	})

	result, err := orch.Extract(context.Background(), "https://www.instagram.com/p/ABC123/")
	require.NoError(t, err)

	assert.Equal(t, "fast caption", result.Caption)
	require.Len(t, result.Items, 1)
	assert.Equal(t, media.TypePhoto, result.Items[0].Type)
	assert.FileExists(t, filepath.Join(outputDir, "instagram_ABC123_1.jpg"))

	// No account was borrowed.
	assert.Nil(t, manager.Current())
}

func TestShareURLResolvedBeforeHeavyPath(t *testing.T) {
	manager := newTestManager(t)
	stub := &heavyStub{}

	mux := http.NewServeMux()
	mux.HandleFunc("/share/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><a href="https://www.instagram.com/reel/FOUND99/">post</a></html>`))
	})
	client := newTestClient(t, mux)

	orch := New(Options{
		Manager:         manager,
		Resolver:        urlrouter.NewResolver(client),
		HeavyFactory:    stub.factory(),
		OutputDir:       t.TempDir(),
		DisableFastPath: true,
		Logger:          logger.NewNop(),
	})

	result, err := orch.Extract(context.Background(), "https://www.instagram.com/share/p/xyz123/")
	require.NoError(t, err)

	assert.Equal(t, "FOUND99", result.Shortcode)
	require.Len(t, stub.fetchedURLs, 1)
	assert.Equal(t, "https://www.instagram.com/p/FOUND99/", stub.fetchedURLs[0])
}

func TestUnsupportedURLRejected(t *testing.T) {
	orch := New(Options{Logger: logger.NewNop()})

	_, err := orch.Extract(context.Background(), "https://example.com/not/instagram")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnsupportedURL))
}

func TestMetadataFailureDoesNotInvalidateDownload(t *testing.T) {
	manager := newTestManager(t)
	stub := &heavyStub{metaErr: errors.New(errors.ErrorTypeNetwork, "metadata endpoint down")}

	orch := New(Options{
		Manager:         manager,
		HeavyFactory:    stub.factory(),
		OutputDir:       t.TempDir(),
		DisableFastPath: true,
		Logger:          logger.NewNop(),
	})

	result, err := orch.Extract(context.Background(), "https://www.instagram.com/p/ABC123/")
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Empty(t, result.Caption)
}

func TestFastFailureCountedInExtractionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("igfetch", reg)

	manager := newTestManager(t)
	stub := &heavyStub{}
	fast, fetcher := failingFastParts(t)

	orch := New(Options{
		Manager:      manager,
		Fast:         fast,
		Fetcher:      fetcher,
		HeavyFactory: stub.factory(),
		OutputDir:    t.TempDir(),
		Metrics:      collector,
		Logger:       logger.NewNop(),
	})

	_, err := orch.Extract(context.Background(), "https://www.instagram.com/p/ABC123/")
	require.NoError(t, err)

	assert.Equal(t, 1.0, counterValue(t, reg, "igfetch_extractions_total", "path", "fast", "outcome", "failure"))
	assert.Equal(t, 1.0, counterValue(t, reg, "igfetch_extractions_total", "path", "heavy", "outcome", "success"))
	assert.Equal(t, 0.0, counterValue(t, reg, "igfetch_extractions_total", "path", "fast", "outcome", "success"))
}

// counterValue reads one labeled counter from the registry. The label
// pairs are name, value, name, value.
func counterValue(t *testing.T, reg *prometheus.Registry, metric string, labelPairs ...string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	want := make(map[string]string, len(labelPairs)/2)
	for i := 0; i+1 < len(labelPairs); i += 2 {
		want[labelPairs[i]] = labelPairs[i+1]
	}

	for _, family := range families {
		if family.GetName() != metric {
			continue
		}
		for _, m := range family.GetMetric() {
			got := make(map[string]string, len(m.GetLabel()))
			for _, label := range m.GetLabel() {
				got[label.GetName()] = label.GetValue()
			}
			matched := true
			for name, value := range want {
				if got[name] != value {
					matched = false
					break
				}
			}
			if matched {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}
