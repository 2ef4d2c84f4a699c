// Package server exposes the HTTP surface: chunked uploads, live
// streaming sessions, and batch transcription management. Handlers
// translate between the wire shapes in types and the domain services;
// no business logic lives here.
package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/AuralStack/ScribeFlow/cache"
	"github.com/AuralStack/ScribeFlow/events"
	"github.com/AuralStack/ScribeFlow/jobs"
	"github.com/AuralStack/ScribeFlow/live"
	"github.com/AuralStack/ScribeFlow/pipeline"
	"github.com/AuralStack/ScribeFlow/ratelimit"
	"github.com/AuralStack/ScribeFlow/storage"
	"github.com/AuralStack/ScribeFlow/telemetry"
	"github.com/AuralStack/ScribeFlow/upload"
)

const (
	// defaultReadHeaderTimeout prevents Slowloris attacks.
	defaultReadHeaderTimeout = 10 * time.Second

	// defaultReadTimeout is the maximum duration for reading the entire
	// request, including the body. Chunk uploads fit comfortably.
	defaultReadTimeout = 2 * time.Minute

	// defaultWriteTimeout is the maximum duration before timing out
	// writes of the response.
	defaultWriteTimeout = 60 * time.Second

	// defaultIdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled.
	defaultIdleTimeout = 120 * time.Second

	// defaultMaxJSONBody bounds JSON request bodies (1 MB).
	defaultMaxJSONBody int64 = 1 << 20

	// defaultMaxChunkBody bounds multipart chunk bodies (64 MB).
	defaultMaxChunkBody int64 = 64 << 20

	// signedURLTTL is how long artifact download links stay valid.
	signedURLTTL = 15 * time.Minute
)

// Deps bundles the domain services the handlers call into.
type Deps struct {
	Uploads *upload.Manager
	Live    *live.Engine
	Jobs    *jobs.Service
	Runner  *pipeline.Runner
	Records *events.RecordStore
	Blobs   storage.ObjectStore
	Cache   cache.Cache
	Limiter ratelimit.Limiter
	Quota   *ratelimit.QuotaManager
	Bus     *events.EventBus
}

// Option configures a [Server].
type Option func(*Server)

// WithAddr sets the listen address for ListenAndServe.
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithCacheTTL sets the TTL for cached job-status responses.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Server) { s.cacheTTL = ttl }
}

// WithReadTimeout sets the maximum duration for reading the entire
// request. Default: 2m.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) { s.readTimeout = d }
}

// WithWriteTimeout sets the maximum duration before timing out writes
// of the response. Default: 60s.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.writeTimeout = d }
}

// WithMaxChunkBody sets the maximum allowed multipart chunk body size.
func WithMaxChunkBody(n int64) Option {
	return func(s *Server) { s.maxChunkBody = n }
}

// Server is the HTTP front of the transcription platform.
type Server struct {
	deps Deps
	addr string

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration
	maxJSONBody  int64
	maxChunkBody int64
	cacheTTL     time.Duration

	httpSrv   *http.Server
	httpSrvMu sync.Mutex

	hubsMu sync.Mutex
	hubs   map[string]*sessionHub // session_id → websocket fan-out
}

// New creates the server and installs its event-bus subscriptions for
// the websocket fan-out.
func New(deps Deps, opts ...Option) *Server {
	s := &Server{
		deps:         deps,
		addr:         ":8080",
		readTimeout:  defaultReadTimeout,
		writeTimeout: defaultWriteTimeout,
		idleTimeout:  defaultIdleTimeout,
		maxJSONBody:  defaultMaxJSONBody,
		maxChunkBody: defaultMaxChunkBody,
		cacheTTL:     cache.TTLJobStatus,
		hubs:         make(map[string]*sessionHub),
	}
	for _, opt := range opts {
		opt(s)
	}
	if deps.Bus != nil {
		for _, et := range []events.EventType{
			events.EventTranscriptPartial,
			events.EventTranscriptCommit,
			events.EventTranscriptFinal,
			events.EventSessionFinalized,
		} {
			deps.Bus.Subscribe(et, s.fanOut)
		}
	}
	return s
}

// Handler returns the routed HTTP handler with tracing middleware
// applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.Handle("POST /api/uploads/sessions",
		s.route(ratelimit.ClassAPIUpload, s.handleUploadCreate))
	mux.Handle("POST /api/uploads/sessions/{id}/chunks/{idx}",
		s.route(ratelimit.ClassAPIUpload, s.handleUploadChunk))
	mux.Handle("GET /api/uploads/sessions/{id}/status",
		s.route(ratelimit.ClassAPIGeneral, s.handleUploadStatus))
	mux.Handle("POST /api/uploads/sessions/{id}/complete",
		s.route(ratelimit.ClassAPIUpload, s.handleUploadComplete))
	mux.Handle("DELETE /api/uploads/sessions/{id}",
		s.route(ratelimit.ClassAPIGeneral, s.handleUploadCancel))

	mux.Handle("POST /api/live/sessions/{session_id}/chunks/{idx}",
		s.route(ratelimit.ClassAPITranscription, s.handleLiveChunk))
	mux.Handle("POST /api/live/sessions/{session_id}/finalize",
		s.route(ratelimit.ClassAPITranscription, s.handleLiveFinalize))
	mux.Handle("GET /api/live/sessions/{session_id}/live",
		s.route(ratelimit.ClassAPIGeneral, s.handleLiveTranscript))
	mux.Handle("GET /api/live/sessions/{session_id}/events",
		s.route(ratelimit.ClassAPIGeneral, s.handleLiveEvents))
	mux.Handle("GET /api/live/sessions/{session_id}/ws",
		s.authenticated(s.handleLiveWS))

	mux.Handle("GET /api/transcriptions",
		s.route(ratelimit.ClassAPIGeneral, s.handleJobList))
	mux.Handle("GET /api/transcriptions/{job_id}",
		s.route(ratelimit.ClassAPIGeneral, s.handleJobGet))
	mux.Handle("GET /api/transcriptions/{job_id}/download",
		s.route(ratelimit.ClassAPIGeneral, s.handleJobDownload))
	mux.Handle("POST /api/transcriptions/{job_id}/retry",
		s.route(ratelimit.ClassAPITranscription, s.handleJobRetry))
	mux.Handle("POST /api/transcriptions/{job_id}/cancel",
		s.route(ratelimit.ClassAPIGeneral, s.handleJobCancel))
	mux.Handle("DELETE /api/transcriptions/{job_id}",
		s.route(ratelimit.ClassAPIGeneral, s.handleJobDelete))

	return telemetry.TraceMiddleware(otelhttp.NewHandler(mux, "scribeflow-api"))
}

// ListenAndServe starts the HTTP server on the configured address.
func (s *Server) ListenAndServe() error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       s.idleTimeout,
	}

	s.httpSrvMu.Lock()
	s.httpSrv = srv
	s.httpSrvMu.Unlock()

	return srv.ListenAndServe()
}

// Serve starts the HTTP server on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       s.idleTimeout,
	}

	s.httpSrvMu.Lock()
	s.httpSrv = srv
	s.httpSrvMu.Unlock()

	return srv.Serve(ln)
}

// Shutdown drains in-flight requests and closes every websocket hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.httpSrvMu.Lock()
	srv := s.httpSrv
	s.httpSrvMu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.closeAllHubs()
	return err
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
