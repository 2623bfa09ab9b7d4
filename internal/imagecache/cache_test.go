package imagecache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/javi11/plansync/internal/httpclient"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory store.Store for metadata persistence tests.
type memStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[key]
	return value, ok, nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStore) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *memStore) Close() error { return nil }

func newTestCache(t *testing.T, opts Options) *Cache {
	t.Helper()

	if opts.Fs == nil {
		opts.Fs = afero.NewMemMapFs()
	}
	if opts.Dir == "" {
		opts.Dir = "/images"
	}
	if opts.Store == nil {
		opts.Store = newMemStore()
	}
	if opts.DebounceInterval == 0 {
		opts.DebounceInterval = 10 * time.Millisecond
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Millisecond
	}

	c, err := New(opts)
	require.NoError(t, err)
	c.Initialize(context.Background())
	return c
}

func imageServer(t *testing.T, hits *atomic.Int32, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestDownloadAndGet(t *testing.T) {
	var hits atomic.Int32
	server := imageServer(t, &hits, "png-bytes")

	c := newTestCache(t, Options{})

	data, err := c.Download(context.Background(), server.URL, "user-1", false)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
	assert.Equal(t, int32(1), hits.Load())

	got, ok := c.Get("user-1")
	require.True(t, ok)
	assert.Equal(t, []byte("png-bytes"), got)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Downloads)
	assert.Equal(t, 1, stats.EntryCount)
	assert.Equal(t, int64(len("png-bytes")), stats.TotalBytes)
}

func TestFreshCacheShortCircuitsNetwork(t *testing.T) {
	var hits atomic.Int32
	server := imageServer(t, &hits, "img")

	c := newTestCache(t, Options{DefaultMaxAge: time.Hour})

	_, err := c.Download(context.Background(), server.URL, "user-1", false)
	require.NoError(t, err)

	// Second download without force serves from cache
	_, err = c.Download(context.Background(), server.URL, "user-1", false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	// Force bypasses the freshness check
	_, err = c.Download(context.Background(), server.URL, "user-1", true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestInvalidURLEntersCooldown(t *testing.T) {
	c := newTestCache(t, Options{FailureCooldown: time.Hour})

	_, err := c.Download(context.Background(), "not a url://", "user-1", true)
	require.Error(t, err)

	// Cooldown suppresses further attempts and returns nil without error
	data, err := c.Download(context.Background(), "not a url://", "user-1", true)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestFailureCooldownSkipsNetwork(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "gone", http.StatusForbidden)
	}))
	defer server.Close()

	c := newTestCache(t, Options{FailureCooldown: time.Hour, RetryAttempts: 3})

	_, err := c.Download(context.Background(), server.URL, "user-1", true)
	require.Error(t, err)

	// 4xx is not retried
	assert.Equal(t, int32(1), hits.Load())

	// Within the cooldown window nothing touches the network
	_, err = c.Download(context.Background(), server.URL, "user-1", true)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestServerErrorIsRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "flaky", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer server.Close()

	c := newTestCache(t, Options{RetryAttempts: 3})

	data, err := c.Download(context.Background(), server.URL, "user-1", true)
	require.NoError(t, err)
	assert.Equal(t, []byte("recovered"), data)
	assert.Equal(t, int32(3), hits.Load())
}

func TestDownloadCoalescesConcurrentCallers(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte("shared"))
	}))
	defer server.Close()

	c := newTestCache(t, Options{Client: httpclient.NewImageDownload()})

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := c.Download(context.Background(), server.URL, "user-1", true)
			require.NoError(t, err)
			results[i] = data
		}(i)
	}

	// Let callers pile up on the in-flight transfer before releasing it
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	for _, data := range results {
		assert.Equal(t, []byte("shared"), data)
	}
}

func TestDownloadSurvivesCallerCancellation(t *testing.T) {
	var hits atomic.Int32
	server := imageServer(t, &hits, "shared")

	c := newTestCache(t, Options{})

	// The transfer is shared by all coalesced waiters, so one caller's dead
	// context must not fail it
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	data, err := c.Download(ctx, server.URL, "user-1", true)
	require.NoError(t, err)
	assert.Equal(t, []byte("shared"), data)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDownloadFailureServesStaleCopy(t *testing.T) {
	var fail atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("original"))
	}))
	defer server.Close()

	c := newTestCache(t, Options{RetryAttempts: 0})

	_, err := c.Download(context.Background(), server.URL, "user-1", true)
	require.NoError(t, err)

	fail.Store(true)
	data, err := c.Download(context.Background(), server.URL, "user-1", true)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), data)
}

func TestIsStale(t *testing.T) {
	var hits atomic.Int32
	server := imageServer(t, &hits, "img")

	c := newTestCache(t, Options{})

	assert.True(t, c.IsStale("user-1", time.Hour))

	_, err := c.Download(context.Background(), server.URL, "user-1", true)
	require.NoError(t, err)

	assert.False(t, c.IsStale("user-1", time.Hour))
	assert.True(t, c.IsStale("user-1", 0))
}

func TestEvictionBoundsTotalSize(t *testing.T) {
	body := strings.Repeat("x", 400)
	var hits atomic.Int32
	server := imageServer(t, &hits, body)

	// Cap of 1000 bytes, entries of 400: the third download overflows and
	// evicts down to 750
	c := newTestCache(t, Options{MaxTotalBytes: 1000})

	for _, id := range []string{"u1", "u2", "u3"} {
		_, err := c.Download(context.Background(), server.URL, id, true)
		require.NoError(t, err)
		c.touchAccess(id)
	}

	stats := c.Stats()
	assert.LessOrEqual(t, stats.TotalBytes, int64(750))
	assert.Equal(t, 1, stats.EntryCount)
	assert.GreaterOrEqual(t, stats.Evictions, uint64(1))

	// The most recently written entry survives
	_, ok := c.Get("u3")
	assert.True(t, ok)
	_, ok = c.Get("u1")
	assert.False(t, ok)
}

func TestStartupEvictsExpiredEntries(t *testing.T) {
	var hits atomic.Int32
	server := imageServer(t, &hits, "old-img")

	fs := afero.NewMemMapFs()
	st := newMemStore()

	c := newTestCache(t, Options{Fs: fs, Store: st, MaxEntryAge: time.Hour})
	_, err := c.Download(context.Background(), server.URL, "ancient", true)
	require.NoError(t, err)
	c.Flush()

	// Age the entry past the cap and persist
	c.metaMu.Lock()
	m := c.meta["ancient"]
	m.CachedAt = time.Now().Add(-2 * time.Hour)
	c.meta["ancient"] = m
	c.metaMu.Unlock()
	c.persistMetadata(context.Background())

	// A fresh cache over the same disk state drops it at Initialize
	c2 := newTestCache(t, Options{Fs: fs, Store: st, MaxEntryAge: time.Hour})
	_, ok := c2.Get("ancient")
	assert.False(t, ok)
	assert.Equal(t, 0, c2.Stats().EntryCount)
}

func TestMetadataSurvivesRestart(t *testing.T) {
	var hits atomic.Int32
	server := imageServer(t, &hits, "persisted")

	fs := afero.NewMemMapFs()
	st := newMemStore()

	c := newTestCache(t, Options{Fs: fs, Store: st})
	_, err := c.Download(context.Background(), server.URL, "user-1", true)
	require.NoError(t, err)
	c.Flush()

	c2 := newTestCache(t, Options{Fs: fs, Store: st})
	assert.False(t, c2.IsStale("user-1", time.Hour))

	data, ok := c2.Get("user-1")
	require.True(t, ok)
	assert.Equal(t, []byte("persisted"), data)
}

func TestGetWithRefreshServesCachedImmediately(t *testing.T) {
	var hits atomic.Int32
	server := imageServer(t, &hits, "img")

	c := newTestCache(t, Options{})

	_, err := c.Download(context.Background(), server.URL, "user-1", true)
	require.NoError(t, err)

	// Stale entry: cached copy returned now, refresh happens in background
	c.metaMu.Lock()
	m := c.meta["user-1"]
	m.CachedAt = time.Now().Add(-48 * time.Hour)
	c.meta["user-1"] = m
	c.metaMu.Unlock()

	data, ok := c.GetWithRefresh(context.Background(), "user-1", server.URL, time.Hour)
	require.True(t, ok)
	assert.Equal(t, []byte("img"), data)

	assert.Eventually(t, func() bool {
		return hits.Load() == 2
	}, time.Second, 10*time.Millisecond)
}

func TestRemoveAndClear(t *testing.T) {
	var hits atomic.Int32
	server := imageServer(t, &hits, "img")

	c := newTestCache(t, Options{})

	for _, id := range []string{"u1", "u2"} {
		_, err := c.Download(context.Background(), server.URL, id, true)
		require.NoError(t, err)
	}

	c.Remove("u1")
	_, ok := c.Get("u1")
	assert.False(t, ok)
	_, ok = c.Get("u2")
	assert.True(t, ok)

	c.Clear()
	_, ok = c.Get("u2")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().EntryCount)
}

func TestRefreshStaleSkipsFreshAndEmptyURLs(t *testing.T) {
	var hits atomic.Int32
	server := imageServer(t, &hits, "img")

	c := newTestCache(t, Options{DefaultMaxAge: time.Hour})

	_, err := c.Download(context.Background(), server.URL, "fresh", true)
	require.NoError(t, err)
	hits.Store(0)

	c.RefreshStale(context.Background(), []AvatarRef{
		{UserID: "fresh", URL: server.URL},
		{UserID: "no-url", URL: ""},
		{UserID: "stale", URL: server.URL},
	})

	// Only the stale entry with a URL was fetched
	assert.Equal(t, int32(1), hits.Load())
	_, ok := c.Get("stale")
	assert.True(t, ok)
}
