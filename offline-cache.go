package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/always-cache/offline-cache/cache"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	responsetransformer "github.com/always-cache/offline-cache/pkg/response-transformer"
	tee "github.com/always-cache/offline-cache/pkg/response-writer-tee"
	"github.com/always-cache/offline-cache/rfc9211"

	"github.com/rs/zerolog"
)

type Config struct {
	// Storage for snapshots.
	Cache cache.CacheProvider
	// Version identifier of the snapshot this worker installs.
	// Changing it is the only way to invalidate cached content.
	Version string
	// Paths (or same-origin URLs) that must be cached at install time.
	Manifest []string
	// URL of the origin server, used as the network unless Network is set.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Optional network to use instead of the origin URL,
	// e.g. HandlerTransport for middleware use.
	Network http.RoundTripper
	// Rules applied to responses before they are stored at install time.
	Rules responsetransformer.Rules
	// Keep superseded versions on activation instead of retiring them.
	KeepOldVersions bool
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
	// Optional metrics.
	Metrics *Metrics
}

// State is the lifecycle state of a worker.
type State string

const (
	StateNew        State = "new"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateFailed     State = "failed"
	StateActivated  State = "activated"
)

// Worker installs a versioned snapshot and resolves requests against it, cache first.
// It implements http.Handler.
type Worker struct {
	cache    cache.CacheProvider
	version  string
	manifest []string
	network  http.RoundTripper
	rules    responsetransformer.Rules
	retire   bool
	log      zerolog.Logger
	metrics  *Metrics

	// lifecycle transitions are serialized
	lifecycle sync.Mutex
	state     atomic.Value
	// active is the version trusted for resolving requests
	active atomic.Value
}

// CreateWorker initializes a worker.
// The version that was active in the store before (e.g. from a previous deployment)
// keeps being served until the new version is installed and activated.
func CreateWorker(config Config) (*Worker, error) {
	if config.Cache == nil {
		return nil, errors.New("no cache provider configured")
	}
	if err := cache.CheckVersion(config.Version); err != nil {
		return nil, err
	}

	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	logger = logger.With().
		Str("version", config.Version).
		Logger()

	network := config.Network
	if network == nil {
		if config.OriginURL.Host == "" {
			return nil, errors.New("no origin or network configured")
		}
		network = NewOriginTransport(config.OriginURL, config.OriginHost)
	}

	w := &Worker{
		cache:    config.Cache,
		version:  config.Version,
		manifest: append([]string{}, config.Manifest...),
		network:  network,
		rules:    config.Rules,
		retire:   !config.KeepOldVersions,
		log:      logger,
		metrics:  config.Metrics,
	}
	w.state.Store(StateNew)

	active, err := w.cache.Active()
	if err != nil {
		return nil, fmt.Errorf("read active version: %w", err)
	}
	w.setActive(active)
	if active != "" {
		w.log.Info().Str("active", active).Msg("Serving previously active version")
	}
	return w, nil
}

// State returns the lifecycle state.
func (w *Worker) State() State {
	return w.state.Load().(State)
}

// ActiveVersion returns the version requests are resolved against, or "" if none.
func (w *Worker) ActiveVersion() string {
	return w.active.Load().(string)
}

// Version returns the version this worker installs.
func (w *Worker) Version() string {
	return w.version
}

func (w *Worker) setActive(version string) {
	w.active.Store(version)
	entries := 0
	if version != "" && w.metrics != nil {
		w.cache.Keys(version, func(string) { entries++ })
	}
	w.metrics.SetActive(version, entries)
}

// Install populates the snapshot for the worker's version from its manifest.
// On failure the worker does not become installed and the previously active
// version, if any, stays active.
func (w *Worker) Install(ctx context.Context) error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	w.state.Store(StateInstalling)
	w.log.Info().Int("entries", len(w.manifest)).Msg("Installing snapshot")
	network := http.RoundTripper(rulesTransport{next: w.network, rules: w.rules})
	if err := OnInstall(ctx, w.cache, network, w.manifest, w.version); err != nil {
		w.state.Store(StateFailed)
		w.metrics.ObserveInstall("failed")
		w.log.Error().Err(err).Msg("Could not install snapshot")
		return err
	}
	w.state.Store(StateInstalled)
	w.metrics.ObserveInstall("ok")
	w.log.Info().Msg("Snapshot installed")
	return nil
}

// Activate makes the installed version the one requests are resolved against.
// Unless old versions are kept, every other version is retired afterwards.
func (w *Worker) Activate() error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	if s := w.State(); s != StateInstalled && s != StateActivated {
		return fmt.Errorf("activate %s: %w (state %s)", w.version, ErrNotInstalled, s)
	}
	if err := w.cache.SetActive(w.version); err != nil {
		return fmt.Errorf("activate %s: %w", w.version, err)
	}
	w.setActive(w.version)
	w.state.Store(StateActivated)
	w.log.Info().Msg("Snapshot activated")

	if w.retire {
		deleted, err := Retire(w.cache, w.version)
		w.metrics.ObserveRetired(len(deleted))
		if len(deleted) > 0 {
			w.log.Info().Strs("retired", deleted).Msg("Retired old versions")
		}
		if err != nil {
			return fmt.Errorf("retire old versions: %w", err)
		}
	}
	return nil
}

// Start installs and activates the worker's version.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.Install(ctx); err != nil {
		return err
	}
	return w.Activate()
}

// Status describes the worker and its store.
type Status struct {
	Version  string   `json:"version"`
	State    State    `json:"state"`
	Active   string   `json:"active"`
	Versions []string `json:"versions"`
	Keys     []string `json:"keys"`
}

func (w *Worker) Status() (Status, error) {
	s := Status{
		Version: w.version,
		State:   w.State(),
		Active:  w.ActiveVersion(),
		Keys:    make([]string, 0),
	}
	versions, err := w.cache.Versions()
	if err != nil {
		return s, err
	}
	s.Versions = versions
	if s.Active != "" {
		err = w.cache.Keys(s.Active, func(k string) { s.Keys = append(s.Keys, k) })
	}
	return s, err
}

// ServeHTTP implements the http.Handler interface.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	version := w.ActiveVersion()
	r, log, cs := w.prepare(r)

	res, hit, err := OnFetch(w.cache, version, w.network, r)
	if err != nil {
		w.metrics.ObserveResolve("error")
		log.Error().Err(err).Msg("Could not fetch response from network")
		cs.Forward(rfc9211.FwdReasonUriMiss)
		cs.Detail = "network error"
		rw.Header().Set(rfc9211.HeaderName, cs.String())
		http.Error(rw, "Could not connect to origin", http.StatusBadGateway)
		return
	}
	if hit {
		cs.Hit()
		w.metrics.ObserveResolve("hit")
	} else {
		w.forwarded(&cs, version)
	}
	w.send(rw, r, res, cs)
}

// Middleware serves requests from the active snapshot and passes misses to next.
// Misses are streamed to the client as next writes them and are not stored.
// The worker's own network is still used for installing.
func (w *Worker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		version := w.ActiveVersion()
		r, log, cs := w.prepare(r)

		if res, ok := lookup(w.cache, version, r); ok {
			cs.Hit()
			w.metrics.ObserveResolve("hit")
			w.send(rw, r, res, cs)
			return
		}
		w.forwarded(&cs, version)
		rw.Header().Set(rfc9211.HeaderName, cs.String())
		rs := tee.NewResponseSaver(rw)
		next.ServeHTTP(rs, r)
		w.logRequest(r, rs.StatusCode(), cs)
		log.Trace().Msgf("Wrote body (%d bytes)", len(rs.Body()))
	})
}

// prepare attaches a request logger to r and starts its cache status.
func (w *Worker) prepare(r *http.Request) (*http.Request, zerolog.Logger, rfc9211.CacheStatus) {
	key := cachekey.GetKey(r)
	log := w.log.With().Str("key", key).Logger()
	log.Trace().Msgf("Incoming request: %s %s", r.Method, r.URL.Path)
	return r.WithContext(log.WithContext(r.Context())), log, rfc9211.CacheStatus{Key: key}
}

func (w *Worker) forwarded(cs *rfc9211.CacheStatus, version string) {
	w.metrics.ObserveResolve("miss")
	if version == "" {
		cs.Forward(rfc9211.FwdReasonBypass)
		cs.Detail = "no active version"
		return
	}
	cs.Forward(rfc9211.FwdReasonUriMiss)
}

func (w *Worker) send(rw http.ResponseWriter, r *http.Request, res *http.Response, cs rfc9211.CacheStatus) {
	defer res.Body.Close()
	copyHeader(rw.Header(), res.Header)
	rw.Header().Add(rfc9211.HeaderName, cs.String())
	rw.WriteHeader(res.StatusCode)
	bytesWritten, err := io.Copy(rw, res.Body)
	if err != nil {
		w.log.Error().Err(err).Msg("Could not write response body to client")
	}
	w.logRequest(r, res.StatusCode, cs)
	w.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
}

func (w *Worker) logRequest(r *http.Request, statusCode int, cs rfc9211.CacheStatus) {
	isHit := 0
	if cs.Status == rfc9211.StatusHit {
		isHit = 1
	}
	w.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Int("code", statusCode).
		Str("status", string(cs.Status)).
		Str("fwd", string(cs.FwdReason)).
		Int("hit", isHit).
		Msg("Sending response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	ip := ipAndPort[:portSepIdx]
	return ip
}

// hop-by-hop headers are not forwarded to the client
var hopHeaders = map[string]bool{
	"Connection":        true,
	"Keep-Alive":        true,
	"Proxy-Connection":  true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		if hopHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
