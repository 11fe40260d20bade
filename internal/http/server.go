package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"backoffice/internal/assistant"
	"backoffice/internal/books"
	"backoffice/internal/cache"
	"backoffice/internal/log"
	"backoffice/internal/middleware/ratelimit"
	"backoffice/internal/middleware/security"
	"backoffice/internal/middleware/trace"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CacheStats is anything that can report lookup statistics.
type CacheStats interface {
	Stats() cache.Stats
}

type Options struct {
	Addr               string
	Books              *books.Service
	Assistant          *assistant.Service
	Store              Pinger
	Logger             *log.Logger
	RateLimitPerMinute int
	// Caches are reported on /metrics by name.
	Caches map[string]CacheStats
}

type Server struct {
	http.Server
	books     *books.Service
	assistant *assistant.Service
	store     Pinger
	logger    *log.Logger
	caches    map[string]CacheStats
	started   time.Time

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		books:            opts.Books,
		assistant:        opts.Assistant,
		store:            opts.Store,
		logger:           logger,
		caches:           opts.Caches,
		started:          time.Now(),
		rateLimiter:      ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		securityDetector: security.NewDetector(),
	}
	s.traceMiddleware = trace.NewMiddleware(logger, s.securityDetector.ExtractClientIP)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	booksScope := log.ComponentMiddleware(log.ComponentBooks)
	booksRoute := func(pattern string, h http.HandlerFunc) { mux.Handle(pattern, booksScope(h)) }
	assistantScope := log.ComponentMiddleware(log.ComponentAssistant)
	assistantRoute := func(pattern string, h http.HandlerFunc) { mux.Handle(pattern, assistantScope(h)) }

	booksRoute("GET /api/books/receipts", s.handleListReceipts)
	booksRoute("GET /api/books/receipts/counts", s.handleCounts)
	booksRoute("POST /api/books/receipts", s.handleUploadReceipt)
	booksRoute("POST /api/books/bank-statements", s.handleUploadStatement)
	booksRoute("POST /api/books/rematch", s.handleRematch)
	booksRoute("POST /api/books/suggestions/{id}/confirm", s.handleConfirm)
	booksRoute("POST /api/books/suggestions/{id}/reject", s.handleReject)
	booksRoute("POST /api/books/suggestions/bulk-confirm", s.handleBulkConfirm)
	booksRoute("POST /api/books/suggestions/bulk-reject", s.handleBulkReject)
	booksRoute("POST /api/books/receipts/confirm-all", s.handleConfirmAll)
	booksRoute("POST /api/books/receipts/reject-all", s.handleRejectAll)

	assistantRoute("POST /api/chat", s.handleChat)
	assistantRoute("POST /api/assistant/knowledge", s.handleIndexKnowledge)

	onLimit := func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldClientIP, s.securityDetector.ExtractClientIP(r),
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path)
		TooManyRequestsError().Write(w)
	}

	var handler http.Handler = mux
	handler = s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, onLimit)(handler)
	handler = s.securityDetector.Middleware(logger)(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = s.traceMiddleware.Middleware(handler)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// respondError logs server-side failures and writes the mapped error response.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := StatusFor(err)
	logger := log.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.NewStructuredLogger(logger).LogError(r.Context(), "Request failed", err, logger.Component(), op,
			log.NewFields().WithRequestID(trace.GetRequestID(r.Context())).
				WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, "", ""))
	} else {
		logger.DebugContext(r.Context(), "Request rejected",
			log.FieldOperation, op,
			log.FieldStatusCode, status,
			log.FieldError, err)
	}
	ErrorFor(err).Write(w)
}
