package offlinecache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/always-cache/offline-cache/cache"
	responsetransformer "github.com/always-cache/offline-cache/pkg/response-transformer"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// site is a small web application that counts how often each path was requested.
type site struct {
	mux   *http.ServeMux
	calls map[string]*atomic.Int32
}

func newSite(pages map[string]string) *site {
	s := &site{mux: http.NewServeMux(), calls: map[string]*atomic.Int32{}}
	for path, body := range pages {
		path, body := path, body
		counter := &atomic.Int32{}
		s.calls[path] = counter
		s.mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != path {
				http.NotFound(w, r)
				return
			}
			n := counter.Add(1)
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprintf(w, "%s (call %d)", body, n)
		})
	}
	return s
}

func (s *site) count(path string) int {
	return int(s.calls[path].Load())
}

func newWorker(t *testing.T, store cache.CacheProvider, network http.RoundTripper, version string, manifest ...string) *Worker {
	logger := zerolog.Nop()
	w, err := CreateWorker(Config{
		Cache:    store,
		Version:  version,
		Manifest: manifest,
		Network:  network,
		Logger:   &logger,
	})
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", path, nil))
	return rr
}

func keys(t *testing.T, store cache.CacheProvider, version string) []string {
	out := make([]string, 0)
	if err := store.Keys(version, func(k string) { out = append(out, k) }); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestInstallThenServeFromCache(t *testing.T) {
	s := newSite(map[string]string{"/": "Hello world", "/static/app.css": "body {}"})
	store := cache.NewMemCache()
	w := newWorker(t, store, HandlerTransport{s.mux}, "app-v1", "/", "/static/app.css")

	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if k := keys(t, store, "app-v1"); len(k) != 2 {
		t.Fatalf("Stored keys are %v", k)
	}

	rr := get(w, "/")
	if body := rr.Body.String(); body != "Hello world (call 1)" {
		t.Fatalf("Body is %s", body)
	}
	if s.count("/") != 1 {
		t.Fatalf("Handler called %d times", s.count("/"))
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/plain" {
		t.Fatalf("Content-Type is %s", ct)
	}
	if cs := rr.Header().Get("Cache-Status"); !strings.Contains(cs, "; hit") {
		t.Fatalf("Cache-Status is %s", cs)
	}
}

func TestMissGoesToNetworkEveryTime(t *testing.T) {
	s := newSite(map[string]string{"/": "Hello world", "/unknown.png": "png"})
	store := cache.NewMemCache()
	w := newWorker(t, store, HandlerTransport{s.mux}, "app-v1", "/")
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	rr := get(w, "/unknown.png")
	if body := rr.Body.String(); body != "png (call 1)" {
		t.Fatalf("Body is %s", body)
	}
	if cs := rr.Header().Get("Cache-Status"); !strings.Contains(cs, "fwd=uri-miss") {
		t.Fatalf("Cache-Status is %s", cs)
	}
	rr = get(w, "/unknown.png")
	if body := rr.Body.String(); body != "png (call 2)" {
		t.Fatalf("Miss was written back, body is %s", body)
	}
	if k := keys(t, store, "app-v1"); len(k) != 1 {
		t.Fatalf("Stored keys are %v", k)
	}
}

func TestRepeatedHitsAreIdentical(t *testing.T) {
	s := newSite(map[string]string{"/dashboard": "dash"})
	w := newWorker(t, cache.NewMemCache(), HandlerTransport{s.mux}, "app-v1", "/dashboard")
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := get(w, "/dashboard").Body.String()
	second := get(w, "/dashboard").Body.String()
	if first != second || first != "dash (call 1)" {
		t.Fatalf("Bodies are %q and %q", first, second)
	}
}

func TestPopulationIsAtomic(t *testing.T) {
	s := newSite(map[string]string{"/": "Hello world", "/static/app.css": "body {}"})
	store := cache.NewMemCache()
	w := newWorker(t, store, HandlerTransport{s.mux}, "app-v1", "/", "/missing", "/static/app.css")

	err := w.Install(context.Background())
	var perr *CachePopulationError
	if !errors.As(err, &perr) {
		t.Fatalf("Install returned %v", err)
	}
	if perr.URL != "/missing" || perr.StatusCode != http.StatusNotFound {
		t.Fatalf("Population error is %+v", perr)
	}
	if versions, _ := store.Versions(); len(versions) != 0 {
		t.Fatalf("Versions after failed install are %v", versions)
	}
	if w.State() != StateFailed {
		t.Fatalf("State is %s", w.State())
	}
	if err := w.Activate(); !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("Activate returned %v", err)
	}
	if w.ActiveVersion() != "" {
		t.Fatalf("Active version is %s", w.ActiveVersion())
	}
}

func TestUnreachableOrigin(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	origin, _ := url.Parse(server.URL)
	server.Close()

	store := cache.NewMemCache()
	err := OnInstall(context.Background(), store, NewOriginTransport(*origin, ""), []string{"/"}, "app-v1")
	var perr *CachePopulationError
	if !errors.As(err, &perr) || perr.Err == nil || perr.URL != "/" {
		t.Fatalf("OnInstall returned %v", err)
	}
	if k := keys(t, store, "app-v1"); len(k) != 0 {
		t.Fatalf("Stored keys are %v", k)
	}
}

func TestFailedInstallKeepsPreviousVersion(t *testing.T) {
	s := newSite(map[string]string{"/": "Hello world"})
	store := cache.NewMemCache()
	v1 := newWorker(t, store, HandlerTransport{s.mux}, "app-v1", "/")
	if err := v1.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	v2 := newWorker(t, store, HandlerTransport{s.mux}, "app-v2", "/", "/gone")
	if v2.ActiveVersion() != "app-v1" {
		t.Fatalf("New worker serves %q", v2.ActiveVersion())
	}
	if err := v2.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded with unreachable manifest entry")
	}
	if body := get(v2, "/").Body.String(); body != "Hello world (call 1)" {
		t.Fatalf("Body is %s", body)
	}
	if active, _ := store.Active(); active != "app-v1" {
		t.Fatalf("Active version is %s", active)
	}
}

func TestActivateRetiresOldVersions(t *testing.T) {
	s := newSite(map[string]string{"/": "Hello world"})
	store := cache.NewMemCache()
	if err := newWorker(t, store, HandlerTransport{s.mux}, "app-v1", "/").Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	v2 := newWorker(t, store, HandlerTransport{s.mux}, "app-v2", "/")
	if err := v2.Install(context.Background()); err != nil {
		t.Fatal(err)
	}
	// installing does not touch the active version
	if versions, _ := store.Versions(); len(versions) != 2 {
		t.Fatalf("Versions are %v", versions)
	}
	if v2.ActiveVersion() != "app-v1" {
		t.Fatalf("Active version is %s", v2.ActiveVersion())
	}
	if err := v2.Activate(); err != nil {
		t.Fatal(err)
	}
	if versions, _ := store.Versions(); len(versions) != 1 || versions[0] != "app-v2" {
		t.Fatalf("Versions are %v", versions)
	}
	if body := get(v2, "/").Body.String(); body != "Hello world (call 2)" {
		t.Fatalf("Body is %s", body)
	}
}

func TestKeepOldVersions(t *testing.T) {
	s := newSite(map[string]string{"/": "Hello world"})
	store := cache.NewMemCache()
	logger := zerolog.Nop()
	for _, version := range []string{"app-v1", "app-v2"} {
		w, err := CreateWorker(Config{
			Cache:           store,
			Version:         version,
			Manifest:        []string{"/"},
			Network:         HandlerTransport{s.mux},
			KeepOldVersions: true,
			Logger:          &logger,
		})
		if err != nil {
			t.Fatal(err)
		}
		if err := w.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if versions, _ := store.Versions(); len(versions) != 2 {
		t.Fatalf("Versions are %v", versions)
	}
}

func TestRetireIsIdempotent(t *testing.T) {
	store := cache.NewMemCache()
	network := HandlerTransport{newSite(map[string]string{"/": "x"}).mux}
	for _, v := range []string{"app-v1", "app-v2", "app-v3"} {
		if err := OnInstall(context.Background(), store, network, []string{"/"}, v); err != nil {
			t.Fatal(err)
		}
	}
	deleted, err := Retire(store, "app-v3")
	if err != nil {
		t.Fatal(err)
	}
	if len(deleted) != 2 {
		t.Fatalf("Deleted %v", deleted)
	}
	deleted, err = Retire(store, "app-v3")
	if err != nil || len(deleted) != 0 {
		t.Fatalf("Second retire deleted %v (%v)", deleted, err)
	}
	if k := keys(t, store, "app-v3"); len(k) != 1 {
		t.Fatalf("Current version keys are %v", k)
	}
}

func TestOnFetchHitDoesNotUseNetwork(t *testing.T) {
	store := cache.NewMemCache()
	if err := OnInstall(context.Background(), store, HandlerTransport{newSite(map[string]string{"/": "cached"}).mux}, []string{"/"}, "app-v1"); err != nil {
		t.Fatal(err)
	}
	network := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		t.Fatalf("Network called for %s", r.URL)
		return nil, nil
	})
	req := httptest.NewRequest("GET", "/", nil)
	res, hit, err := OnFetch(store, "app-v1", network, req)
	if err != nil || !hit {
		t.Fatalf("OnFetch returned hit=%v err=%v", hit, err)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != "cached (call 1)" {
		t.Fatalf("Body is %s", body)
	}
}

func TestOnFetchMissReturnsNetworkResponse(t *testing.T) {
	want := &http.Response{StatusCode: http.StatusTeapot, Header: http.Header{}, Body: http.NoBody}
	calls := 0
	network := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		return want, nil
	})
	res, hit, err := OnFetch(cache.NewMemCache(), "app-v1", network, httptest.NewRequest("GET", "/unknown.png", nil))
	if err != nil || hit {
		t.Fatalf("OnFetch returned hit=%v err=%v", hit, err)
	}
	if res != want || calls != 1 {
		t.Fatalf("Response %+v after %d calls", res, calls)
	}
}

func TestNetworkError(t *testing.T) {
	network := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	_, _, err := OnFetch(cache.NewMemCache(), "", network, httptest.NewRequest("GET", "/unknown.png", nil))
	var nerr *NetworkFetchError
	if !errors.As(err, &nerr) || nerr.Method != "GET" {
		t.Fatalf("OnFetch returned %v", err)
	}

	w := newWorker(t, cache.NewMemCache(), network, "app-v1")
	rr := get(w, "/unknown.png")
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("Status is %d", rr.Code)
	}
}

func TestNoActiveVersionBypasses(t *testing.T) {
	s := newSite(map[string]string{"/": "Hello world"})
	w := newWorker(t, cache.NewMemCache(), HandlerTransport{s.mux}, "app-v1", "/")
	rr := get(w, "/")
	if body := rr.Body.String(); body != "Hello world (call 1)" {
		t.Fatalf("Body is %s", body)
	}
	if cs := rr.Header().Get("Cache-Status"); !strings.Contains(cs, "fwd=bypass") {
		t.Fatalf("Cache-Status is %s", cs)
	}
}

func TestOnlyGetIsServedFromCache(t *testing.T) {
	s := newSite(map[string]string{"/": "Hello world"})
	w := newWorker(t, cache.NewMemCache(), HandlerTransport{s.mux}, "app-v1", "/")
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	rr := httptest.NewRecorder()
	w.ServeHTTP(rr, httptest.NewRequest("POST", "/", strings.NewReader("a=b")))
	if body := rr.Body.String(); body != "Hello world (call 2)" {
		t.Fatalf("Body is %s", body)
	}
}

func TestRulesApplyToSnapshotOnly(t *testing.T) {
	s := newSite(map[string]string{"/static/app.css": "body {}"})
	logger := zerolog.Nop()
	w, err := CreateWorker(Config{
		Cache:    cache.NewMemCache(),
		Version:  "app-v1",
		Manifest: []string{"/static/app.css"},
		Network:  HandlerTransport{s.mux},
		Rules:    responsetransformer.Rules{{Prefix: "/static/", Override: "max-age=3600"}},
		Logger:   &logger,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if cc := get(w, "/static/app.css").Header().Get("Cache-Control"); cc != "max-age=3600" {
		t.Fatalf("Cache-Control is %s", cc)
	}
	if cc := get(w, "/static/other.css").Header().Get("Cache-Control"); cc != "" {
		t.Fatalf("Rule applied to miss: %s", cc)
	}
}

func TestOriginServer(t *testing.T) {
	var hosts atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hosts.Store(r.Host)
		w.Write([]byte("from origin " + r.URL.Path))
	}))
	defer server.Close()
	origin, _ := url.Parse(server.URL)

	logger := zerolog.Nop()
	metrics := NewMetrics()
	w, err := CreateWorker(Config{
		Cache:     cache.NewMemCache(),
		Version:   "app-v1",
		Manifest:  []string{"/", "/static/app.css"},
		OriginURL: *origin,
		Logger:    &logger,
		Metrics:   metrics,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if host := hosts.Load().(string); host != origin.Host {
		t.Fatalf("Origin saw host %s", host)
	}
	server.Close()

	if body := get(w, "/static/app.css").Body.String(); body != "from origin /static/app.css" {
		t.Fatalf("Body is %s", body)
	}
	if rr := get(w, "/unknown.png"); rr.Code != http.StatusBadGateway {
		t.Fatalf("Status is %d", rr.Code)
	}

	scrape := get(metrics.Handler(), "/metrics").Body.String()
	for _, want := range []string{
		`offline_cache_resolves_total{result="hit"} 1`,
		`offline_cache_resolves_total{result="error"} 1`,
		`offline_cache_installs_total{result="ok"} 1`,
		`offline_cache_active_version{version="app-v1"} 1`,
		`offline_cache_active_entries 2`,
	} {
		if !strings.Contains(scrape, want) {
			t.Fatalf("Metrics do not contain %s:\n%s", want, scrape)
		}
	}
}

func TestChiMiddleware(t *testing.T) {
	listLength := 0
	r := chi.NewRouter()
	r.Get("/list", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fmt.Sprintf("List %d items", listLength)))
	})
	r.Post("/list", func(w http.ResponseWriter, r *http.Request) {
		listLength++
		w.Write([]byte("post"))
	})
	w := newWorker(t, cache.NewMemCache(), HandlerTransport{r}, "app-v1", "/list")
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	w.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/list", nil))
	rec := get(w, "/list")

	if rec.Code != http.StatusOK {
		t.Fatalf("Status code is %d", rec.Code)
	}
	// the snapshot is not refreshed by writes
	if rec.Body.String() != "List 0 items" {
		t.Fatalf("body is %s", rec.Body.String())
	}
	if listLength != 1 {
		t.Fatalf("List length is %d", listLength)
	}
}

func TestDuplicateManifestEntries(t *testing.T) {
	s := newSite(map[string]string{"/": "Hello world"})
	store := cache.NewMemCache()
	if err := OnInstall(context.Background(), store, HandlerTransport{s.mux}, []string{"/", "/#top", "/"}, "app-v1"); err != nil {
		t.Fatal(err)
	}
	if s.count("/") != 1 {
		t.Fatalf("Handler called %d times", s.count("/"))
	}
	if k := keys(t, store, "app-v1"); len(k) != 1 {
		t.Fatalf("Stored keys are %v", k)
	}
}

func TestMiddleware(t *testing.T) {
	s := newSite(map[string]string{"/": "Hello world", "/api": "api"})
	w := newWorker(t, cache.NewMemCache(), HandlerTransport{s.mux}, "app-v1", "/")
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	next := http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("X-Next", "1")
		if r.Method == http.MethodPost {
			rw.WriteHeader(http.StatusCreated)
		}
		rw.Write([]byte("next " + r.URL.Path))
	})
	h := w.Middleware(next)

	if body := get(h, "/").Body.String(); body != "Hello world (call 1)" {
		t.Fatalf("Body is %s", body)
	}
	if body := get(h, "/api").Body.String(); body != "next /api" {
		t.Fatalf("Body is %s", body)
	}
	if s.count("/api") != 0 {
		t.Fatalf("Install network used for miss")
	}

	// misses are passed through from next as written
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api", nil))
	if rec.Code != http.StatusCreated || rec.Header().Get("X-Next") != "1" || rec.Body.String() != "next /api" {
		t.Fatalf("Response is %d %v %s", rec.Code, rec.Header(), rec.Body.String())
	}
	if cs := rec.Header().Get("Cache-Status"); !strings.Contains(cs, "fwd=uri-miss") {
		t.Fatalf("Cache-Status is %s", cs)
	}
}

func TestAbsoluteFormRequestStaysOnOrigin(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("origin " + r.URL.Path))
	}))
	defer origin.Close()
	var otherHits atomic.Int32
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		otherHits.Add(1)
		w.Write([]byte("other host"))
	}))
	defer other.Close()
	originURL, _ := url.Parse(origin.URL)
	otherURL, _ := url.Parse(other.URL)

	logger := zerolog.Nop()
	w, err := CreateWorker(Config{
		Cache:     cache.NewMemCache(),
		Version:   "app-v1",
		Manifest:  []string{"/"},
		OriginURL: *originURL,
		Logger:    &logger,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	front := httptest.NewServer(w)
	defer front.Close()

	conn, err := net.Dial("tcp", front.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	fmt.Fprintf(conn, "GET http://%s/secret HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n\r\n", otherURL.Host, otherURL.Host)
	res, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)

	if string(body) != "origin /secret" {
		t.Fatalf("Body is %q (status %d)", body, res.StatusCode)
	}
	if n := otherHits.Load(); n != 0 {
		t.Fatalf("Other host was requested %d times", n)
	}
}

func TestRelativeManifestEntries(t *testing.T) {
	s := newSite(map[string]string{"/static/app.css": "body {}"})
	store := cache.NewMemCache()
	if err := OnInstall(context.Background(), store, HandlerTransport{s.mux}, []string{"static/app.css"}, "app-v1"); err != nil {
		t.Fatal(err)
	}
	if k := keys(t, store, "app-v1"); len(k) != 1 || k[0] != "GET:/static/app.css" {
		t.Fatalf("Stored keys are %v", k)
	}
}
