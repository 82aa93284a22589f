package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rohmanhakim/media-pipeline/internal/build"
	"github.com/rohmanhakim/media-pipeline/internal/cacherouter"
	"github.com/rohmanhakim/media-pipeline/internal/cachestore"
	"github.com/rohmanhakim/media-pipeline/internal/config"
	"github.com/rohmanhakim/media-pipeline/internal/eviction"
	"github.com/rohmanhakim/media-pipeline/internal/fallback"
	"github.com/rohmanhakim/media-pipeline/internal/loader"
	"github.com/rohmanhakim/media-pipeline/internal/netmon"
	"github.com/rohmanhakim/media-pipeline/internal/prefetch"
	"github.com/rohmanhakim/media-pipeline/internal/telemetry"
	"github.com/rohmanhakim/media-pipeline/internal/visibility"
	"github.com/rohmanhakim/media-pipeline/internal/writequeue"
	"github.com/rohmanhakim/media-pipeline/pkg/limiter"
	"github.com/rohmanhakim/media-pipeline/pkg/retry"
	"github.com/rohmanhakim/media-pipeline/pkg/timeutil"
)

// offlineDocument is served for navigation requests that fail while the
// origin is unreachable and no cached copy exists.
const offlineDocument = `<!DOCTYPE html>
<html>
<head><title>Offline</title></head>
<body>
<h1>You are offline</h1>
<p>This page is not available offline yet. It will load once the connection returns.</p>
</body>
</html>`

const shutdownGrace = 5 * time.Second

// daemon wires the pipeline components behind one HTTP surface: the
// cache relay on every unclaimed path, plus control endpoints for
// deferred writes, connection signals, and prefetch placeholders.
type daemon struct {
	cfg        config.Config
	logger     zerolog.Logger
	store      *cachestore.Store
	queue      *writequeue.Queue
	monitor    *netmon.Monitor
	relay      *cacherouter.Router
	prefetcher *prefetch.Prefetcher
	handler    http.Handler
}

func runDaemon(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(ctx, cfg, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer d.close()

	return d.run(ctx)
}

func newDaemon(ctx context.Context, cfg config.Config, registry *prometheus.Registry) (*daemon, error) {
	registry.MustRegister(collectors.NewGoCollector())

	logger := zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()

	sink := telemetry.NewMultiSink(
		telemetry.NewRecorder(),
		telemetry.NewMetrics(registry),
	)

	store, err := cachestore.Open(cfg.DataDir(), cfg.CacheVersion())
	if err != nil {
		return nil, err
	}

	queue, err := writequeue.Open(cfg.DataDir(), sink, cfg.FlushInterval())
	if err != nil {
		store.Close()
		return nil, err
	}

	monitor := netmon.NewMonitor()
	// a band change can mean connectivity came back; a spurious flush
	// against a still-dead endpoint is harmless
	monitor.OnChange(func(policy netmon.QualityPolicy) {
		queue.NotifyOnline()
	})

	evictor := eviction.NewManager(store, map[cachestore.CacheName]int{
		cachestore.CacheStatic:      cfg.StaticCacheLimit(),
		cachestore.CacheDynamic:     cfg.DynamicCacheLimit(),
		cachestore.CacheImage:       cfg.ImageCacheLimit(),
		cachestore.CacheRemoteMedia: cfg.RemoteMediaCacheLimit(),
	}, sink)

	classifier := cacherouter.NewClassifier(cfg.MediaHosts(), cfg.WritePrefixes(), cfg.StablePrefixes())
	relay := cacherouter.NewRouter(
		cfg.OriginURL(),
		classifier,
		store,
		&evictor,
		sink,
		map[cachestore.CacheName]time.Duration{
			cachestore.CacheImage:       cfg.ImageMaxAge(),
			cachestore.CacheRemoteMedia: cfg.RemoteMediaMaxAge(),
		},
		[]byte(offlineDocument),
	)
	relay.SetUpstreamTimeout(cfg.Timeout())
	if wErr := relay.WarmPlaceholders(); wErr != nil {
		logger.Warn().Err(wErr).Msg("placeholder warmup failed; placeholders fall back to the built-in payload")
	}

	backoffParam := timeutil.NewBackoffParam(
		cfg.BackoffInitialDuration(),
		cfg.BackoffMultiplier(),
		cfg.BackoffMaxDuration(),
	)
	pacer := limiter.NewConcurrentHostPacer()
	pacer.SetBaseDelay(cfg.BaseDelay())
	pacer.SetJitter(cfg.Jitter())
	pacer.SetRandomSeed(cfg.RandomSeed())
	pacer.SetBackoffParam(backoffParam)
	retryParam := retry.NewRetryParam(
		cfg.BaseDelay(),
		cfg.Jitter(),
		cfg.RandomSeed(),
		cfg.MaxAttempt(),
		backoffParam,
	)
	imageLoader := loader.NewImageLoader(monitor, sink, pacer, retryParam, cfg.OriginURL(), cfg.UserAgent())

	prefetcher := prefetch.NewPrefetcher(ctx, monitor, &imageLoader, classifier, store, &evictor, sink, cfg.PreloadMargin())

	d := &daemon{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		queue:      queue,
		monitor:    monitor,
		relay:      relay,
		prefetcher: prefetcher,
	}
	d.handler = d.routes(registry)
	return d, nil
}

// routes builds the HTTP surface. Control endpoints take precedence;
// everything else is relayed to the origin through the cache router.
func (d *daemon) routes(registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", d.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Post("/defer/{queue}", d.handleDefer)
	r.Post("/signals/connection", d.handleConnectionSignal)
	r.Post("/signals/viewport", d.handleViewport)
	r.Post("/placeholders", d.handleRegisterPlaceholder)
	r.Delete("/placeholders", d.handleUnregisterPlaceholder)

	r.Handle("/*", d.relay)
	return r
}

func (d *daemon) run(ctx context.Context) error {
	server := &http.Server{
		Addr:    d.cfg.ListenAddr(),
		Handler: d.handler,
	}

	go d.queue.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	origin := d.cfg.OriginURL()
	d.logger.Info().
		Str("listen_addr", d.cfg.ListenAddr()).
		Str("origin", origin.String()).
		Str("version", build.FullVersion()).
		Msg("media pipeline daemon started")

	select {
	case <-ctx.Done():
		d.logger.Info().Msg("received signal, shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (d *daemon) close() {
	if err := d.queue.Close(); err != nil {
		d.logger.Warn().Err(err).Msg("failed to close write queue")
	}
	if err := d.store.Close(); err != nil {
		d.logger.Warn().Err(err).Msg("failed to close cache store")
	}
}

func (d *daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": build.FullVersion(),
	})
}

// deferRequestDTO is the envelope for deferred write submissions.
type deferRequestDTO struct {
	Endpoint string          `json:"endpoint"`
	Payload  json.RawMessage `json:"payload"`
}

func (d *daemon) handleDefer(w http.ResponseWriter, r *http.Request) {
	queueName := writequeue.QueueName(chi.URLParam(r, "queue"))

	var dto deferRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	if dto.Endpoint == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "endpoint is required"})
		return
	}

	if err := d.queue.Submit(r.Context(), queueName, dto.Endpoint, dto.Payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	// delivered or persisted for replay; the caller cannot tell which
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// connectionSignalDTO mirrors the host environment's connection report.
type connectionSignalDTO struct {
	EffectiveType string `json:"effectiveType"`
	SaveData      bool   `json:"saveData"`
}

func (d *daemon) handleConnectionSignal(w http.ResponseWriter, r *http.Request) {
	var dto connectionSignalDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	if err := d.monitor.Observe(netmon.ConnectionSignal{
		EffectiveType: dto.EffectiveType,
		SaveData:      dto.SaveData,
	}); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"band": d.monitor.CurrentBand().String()})
}

// extentDTO is an axis-aligned box in layout coordinates.
type extentDTO struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Bottom float64 `json:"bottom"`
	Right  float64 `json:"right"`
}

func (e extentDTO) toExtent() visibility.Extent {
	return visibility.Extent{
		Top:    e.Top,
		Left:   e.Left,
		Bottom: e.Bottom,
		Right:  e.Right,
	}
}

func (d *daemon) handleViewport(w http.ResponseWriter, r *http.Request) {
	var dto extentDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	d.prefetcher.SetViewport(dto.toExtent())
	w.WriteHeader(http.StatusNoContent)
}

// placeholderDTO registers one media slot for visibility-driven prefetch.
type placeholderDTO struct {
	Ref      string    `json:"ref"`
	Kind     string    `json:"kind"`
	Category string    `json:"category"`
	Extent   extentDTO `json:"extent"`
}

func (d *daemon) handleRegisterPlaceholder(w http.ResponseWriter, r *http.Request) {
	var dto placeholderDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	ref, err := url.Parse(dto.Ref)
	if err != nil || ref.Host == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ref must be an absolute URL"})
		return
	}

	kind, known := fallback.ParseKind(dto.Kind)
	if !known && dto.Kind != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown media kind: " + dto.Kind})
		return
	}

	d.prefetcher.Register(visibility.NewPlaceholder(*ref, kind, dto.Category, dto.Extent.toExtent(), relayTarget{}))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "tracked"})
}

func (d *daemon) handleUnregisterPlaceholder(w http.ResponseWriter, r *http.Request) {
	refStr := r.URL.Query().Get("ref")
	ref, err := url.Parse(refStr)
	if err != nil || refStr == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ref query parameter is required"})
		return
	}

	d.prefetcher.Unregister(*ref)
	w.WriteHeader(http.StatusNoContent)
}

// relayTarget is the render surface for daemon-driven prefetches. The
// daemon has no visible surface; load outcomes show up in telemetry and
// the warmed image cache instead.
type relayTarget struct{}

func (relayTarget) SetSource(source url.URL) {}
func (relayTarget) MarkLoaded()              {}
func (relayTarget) MarkDegraded()            {}
func (relayTarget) MarkFailed()              {}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
