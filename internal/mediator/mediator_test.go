// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mediator

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/voxsync/internal/mediator/cachestore"
	"github.com/ManuGH/voxsync/internal/metrics"
)

const bigBody = 2048

type origin struct {
	srv     *httptest.Server
	version atomic.Value
	mu      sync.Mutex
	hits    map[string]int
	failOn  string
	release chan struct{}
	entered chan struct{}
}

func newOrigin(t *testing.T) *origin {
	t.Helper()
	o := &origin{hits: make(map[string]int)}
	o.version.Store("v1")
	o.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		o.hits[r.Method+" "+r.URL.Path]++
		fail := o.failOn
		o.mu.Unlock()

		if r.URL.Path == "/slow" {
			o.entered <- struct{}{}
			<-o.release
		}
		if r.URL.Path == fail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		if r.URL.Path == "/big" {
			_, _ = io.WriteString(w, strings.Repeat("a", bigBody))
			return
		}
		_, _ = io.WriteString(w, o.version.Load().(string)+":"+r.URL.Path)
	}))
	t.Cleanup(o.srv.Close)
	return o
}

func (o *origin) fail(path string) {
	o.mu.Lock()
	o.failOn = path
	o.mu.Unlock()
}

func (o *origin) count(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[key]
}

func (o *origin) total() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, v := range o.hits {
		n += v
	}
	return n
}

type stubAPI struct {
	next  http.RoundTripper
	calls atomic.Int32
}

func (s *stubAPI) RoundTrip(req *http.Request) (*http.Response, error) {
	if strings.HasSuffix(req.URL.Hostname(), "googleapis.com") {
		s.calls.Add(1)
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader("api")),
			Request:    req,
		}, nil
	}
	return s.next.RoundTrip(req)
}

func newMediator(t *testing.T, o *origin, store cachestore.Store) (*Mediator, *stubAPI) {
	t.Helper()
	api := &stubAPI{next: o.srv.Client().Transport}
	m, err := New(store, Config{
		Origin:    o.srv.URL,
		Manifest:  []string{"/", "/index.html", "/app.js"},
		Transport: api,
	})
	require.NoError(t, err)
	return m, api
}

func get(t *testing.T, m *Mediator, url string, hdr map[string]string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	return m.RoundTrip(req)
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func installActive(t *testing.T, m *Mediator, gen string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.Install(ctx, gen))
	require.NoError(t, m.Activate(ctx, gen))
}

func TestMediator_CacheHitMakesNoNetworkCall(t *testing.T) {
	o := newOrigin(t)
	m, _ := newMediator(t, o, cachestore.NewMemory())
	installActive(t, m, "v1")

	before := o.total()
	resp, err := get(t, m, o.srv.URL+"/app.js", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "v1:/app.js", body(t, resp))
	assert.Equal(t, before, o.total())
}

func TestMediator_MissFetchesOnceAndStoresOnce(t *testing.T) {
	o := newOrigin(t)
	store := cachestore.NewMemory()
	m, _ := newMediator(t, o, store)
	installActive(t, m, "v1")

	stores := testutil.ToFloat64(metrics.MediatorStoresTotal)
	resp, err := get(t, m, o.srv.URL+"/img/logo.png", nil)
	require.NoError(t, err)
	assert.Equal(t, "v1:/img/logo.png", body(t, resp))
	assert.Equal(t, 1, o.count("GET /img/logo.png"))
	assert.Equal(t, stores+1, testutil.ToFloat64(metrics.MediatorStoresTotal))

	_, ok, err := store.Get(context.Background(), "v1", "GET "+o.srv.URL+"/img/logo.png")
	require.NoError(t, err)
	assert.True(t, ok)

	resp, err = get(t, m, o.srv.URL+"/img/logo.png", nil)
	require.NoError(t, err)
	_ = body(t, resp)
	assert.Equal(t, 1, o.count("GET /img/logo.png"))
	assert.Equal(t, stores+1, testutil.ToFloat64(metrics.MediatorStoresTotal))
}

func TestMediator_NonOKResponsesAreNotStored(t *testing.T) {
	o := newOrigin(t)
	m, _ := newMediator(t, o, cachestore.NewMemory())
	installActive(t, m, "v1")
	o.fail("/broken")

	for i := 0; i < 2; i++ {
		resp, err := get(t, m, o.srv.URL+"/broken", nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		_ = body(t, resp)
	}
	assert.Equal(t, 2, o.count("GET /broken"))
}

func TestMediator_OversizeResponsePassesThroughUncached(t *testing.T) {
	o := newOrigin(t)
	store := cachestore.NewMemory()
	m, err := New(store, Config{
		Origin:       o.srv.URL,
		Manifest:     []string{"/", "/index.html"},
		Transport:    o.srv.Client().Transport,
		MaxBodyBytes: bigBody / 2,
	})
	require.NoError(t, err)
	installActive(t, m, "v1")

	stores := testutil.ToFloat64(metrics.MediatorStoresTotal)
	for i := 0; i < 2; i++ {
		resp, err := get(t, m, o.srv.URL+"/big", nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, body(t, resp), bigBody, "body must not be truncated")
	}

	_, ok, err := store.Get(context.Background(), "v1", "GET "+o.srv.URL+"/big")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, stores, testutil.ToFloat64(metrics.MediatorStoresTotal))
}

func TestMediator_InstallRejectsOversizeEntry(t *testing.T) {
	o := newOrigin(t)
	m, err := New(cachestore.NewMemory(), Config{
		Origin:       o.srv.URL,
		Manifest:     []string{"/", "/big"},
		Transport:    o.srv.Client().Transport,
		MaxBodyBytes: bigBody / 2,
	})
	require.NoError(t, err)

	err = m.Install(context.Background(), "v1")
	require.ErrorIs(t, err, ErrInstallIncomplete)
	assert.ErrorIs(t, m.Activate(context.Background(), "v1"), ErrGenerationNotReady)
}

func TestMediator_ActivatePurgesOlderGenerations(t *testing.T) {
	ctx := context.Background()
	o := newOrigin(t)
	store := cachestore.NewMemory()
	m, _ := newMediator(t, o, store)

	installActive(t, m, "v1")
	o.version.Store("v2")
	installActive(t, m, "v2")

	assert.Equal(t, "v2", m.Version())
	gens, err := store.Generations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v2"}, gens)

	_, ok, err := store.Get(ctx, "v1", "GET "+o.srv.URL+"/app.js")
	require.NoError(t, err)
	assert.False(t, ok)

	resp, err := get(t, m, o.srv.URL+"/app.js", nil)
	require.NoError(t, err)
	assert.Equal(t, "v2:/app.js", body(t, resp))
}

func TestMediator_PartialInstallIsDiscarded(t *testing.T) {
	ctx := context.Background()
	o := newOrigin(t)
	store := cachestore.NewMemory()
	m, _ := newMediator(t, o, store)
	o.fail("/app.js")

	err := m.Install(ctx, "v1")
	require.ErrorIs(t, err, ErrInstallIncomplete)

	ready, err := store.Ready(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, ready)
	gens, err := store.Generations(ctx)
	require.NoError(t, err)
	assert.Empty(t, gens)

	require.ErrorIs(t, m.Activate(ctx, "v1"), ErrGenerationNotReady)
	assert.Empty(t, m.Version())
}

func TestMediator_NavigationFallsBackToCachedShell(t *testing.T) {
	o := newOrigin(t)
	m, _ := newMediator(t, o, cachestore.NewMemory())
	installActive(t, m, "v1")
	base := o.srv.URL
	o.srv.Close()

	resp, err := get(t, m, base+"/settings", map[string]string{"Sec-Fetch-Mode": "navigate"})
	require.NoError(t, err)
	assert.Equal(t, "v1:/index.html", body(t, resp))

	resp, err = get(t, m, base+"/settings", map[string]string{"Accept": "text/html,application/xhtml+xml"})
	require.NoError(t, err)
	assert.Equal(t, "v1:/index.html", body(t, resp))

	_, err = get(t, m, base+"/missing.js", map[string]string{"Accept": "*/*"})
	require.Error(t, err)
}

func TestMediator_FallbackUsesRootWhenIndexMissing(t *testing.T) {
	ctx := context.Background()
	o := newOrigin(t)
	store := cachestore.NewMemory()
	m, _ := newMediator(t, o, store)
	m.manifest = []string{"/"}
	installActive(t, m, "v1")
	base := o.srv.URL
	o.srv.Close()

	resp, err := get(t, m, base+"/deep/link", map[string]string{"Sec-Fetch-Dest": "document"})
	require.NoError(t, err)
	assert.Equal(t, "v1:/", body(t, resp))
	_, ok, _ := store.Get(ctx, "v1", "GET "+base+"/index.html")
	assert.False(t, ok)
}

func TestMediator_BypassesProviderHostsAndNonGET(t *testing.T) {
	o := newOrigin(t)
	store := cachestore.NewMemory()
	m, api := newMediator(t, o, store)
	installActive(t, m, "v1")

	for i := 0; i < 2; i++ {
		resp, err := get(t, m, "https://www.googleapis.com/drive/v3/files", nil)
		require.NoError(t, err)
		assert.Equal(t, "api", body(t, resp))
	}
	assert.EqualValues(t, 2, api.calls.Load())

	for i := 0; i < 2; i++ {
		req, err := http.NewRequest(http.MethodPost, o.srv.URL+"/app.js", strings.NewReader("x"))
		require.NoError(t, err)
		resp, err := m.RoundTrip(req)
		require.NoError(t, err)
		_ = body(t, resp)
	}
	assert.Equal(t, 2, o.count("POST /app.js"))
	_, ok, _ := store.Get(context.Background(), "v1", "POST "+o.srv.URL+"/app.js")
	assert.False(t, ok)
}

func TestMediator_ConcurrentMissesAreCoalesced(t *testing.T) {
	o := newOrigin(t)
	o.release = make(chan struct{})
	o.entered = make(chan struct{}, 8)
	m, _ := newMediator(t, o, cachestore.NewMemory())
	installActive(t, m, "v1")

	const callers = 5
	var wg sync.WaitGroup
	bodies := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := get(t, m, o.srv.URL+"/slow", nil)
			if err == nil {
				bodies[i] = body(t, resp)
			}
		}(i)
	}

	select {
	case <-o.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("origin never reached")
	}
	time.Sleep(50 * time.Millisecond)
	close(o.release)
	wg.Wait()

	assert.Equal(t, 1, o.count("GET /slow"))
	for _, b := range bodies {
		assert.Equal(t, "v1:/slow", b)
	}
}

func TestMediator_LoadRestoresGeneration(t *testing.T) {
	o := newOrigin(t)
	store := cachestore.NewMemory()
	m, _ := newMediator(t, o, store)
	installActive(t, m, "v7")

	again, _ := newMediator(t, o, store)
	assert.Empty(t, again.Version())
	require.NoError(t, again.Load(context.Background()))
	assert.Equal(t, "v7", again.Version())
}

func TestMediator_BeforeActivatePassesThrough(t *testing.T) {
	o := newOrigin(t)
	m, _ := newMediator(t, o, cachestore.NewMemory())

	for i := 0; i < 2; i++ {
		resp, err := get(t, m, o.srv.URL+"/app.js", nil)
		require.NoError(t, err)
		_ = body(t, resp)
	}
	assert.Equal(t, 2, o.count("GET /app.js"))
}

func TestNew_RejectsBadOrigin(t *testing.T) {
	_, err := New(cachestore.NewMemory(), Config{Origin: "not a url"})
	require.Error(t, err)
}

func TestHandler_ServesShell(t *testing.T) {
	o := newOrigin(t)
	m, _ := newMediator(t, o, cachestore.NewMemory())
	installActive(t, m, "v1")
	before := o.total()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index.html", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v1:/index.html", rec.Body.String())
	assert.Equal(t, "v1", rec.Header().Get("X-Shell-Version"))
	assert.Equal(t, before, o.total())
}

func TestHandler_OriginDownWithoutCache(t *testing.T) {
	o := newOrigin(t)
	m, _ := newMediator(t, o, cachestore.NewMemory())
	o.srv.Close()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app.js", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

