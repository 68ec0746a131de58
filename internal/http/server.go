package http

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"invoicer/internal/auth"
	"invoicer/internal/invoice/render"
	applog "invoicer/internal/log"
	"invoicer/internal/middleware/ratelimit"
	"invoicer/internal/middleware/security"
	"invoicer/internal/middleware/trace"
	"invoicer/internal/services"
	appweb "invoicer/web"
)

// Options configures the HTTP server.
type Options struct {
	Addr               string
	TempDir            string
	RateLimitPerMinute int
	Logger             *applog.Logger
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Invoices *services.InvoiceService
	Earnings *services.EarningsService
	Renderer render.Renderer
	Auth     *auth.Authenticator
	// Ready reports whether the backend is reachable.
	Ready func(ctx context.Context) error
}

type Server struct {
	http.Server
	templates *template.Template
	invoices  *services.InvoiceService
	earnings  *services.EarningsService
	renderer  render.Renderer
	ready     func(ctx context.Context) error
	tempDir   string
	logger    *applog.Logger
	events    *applog.StructuredLogger

	limiter      *ratelimit.Limiter
	detector     *security.Detector
	tracer       *trace.Middleware
	shutdownOnce sync.Once
}

func NewServer(opts Options, deps Deps) (*Server, error) {
	if deps.Invoices == nil || deps.Earnings == nil || deps.Renderer == nil || deps.Auth == nil {
		return nil, fmt.Errorf("http server: missing dependency")
	}
	logger := opts.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentHTTP)

	tmpl, err := template.ParseFS(appweb.TemplatesFS, "templates/earnings.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	static, err := fs.Sub(appweb.StaticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("mount static assets: %w", err)
	}

	s := &Server{
		templates: tmpl,
		invoices:  deps.Invoices,
		earnings:  deps.Earnings,
		renderer:  deps.Renderer,
		ready:     deps.Ready,
		tempDir:   opts.TempDir,
		logger:    logger,
		events:    applog.NewStructuredLogger(logger),
		limiter:   ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		detector:  security.NewDetector(),
	}
	s.tracer = trace.NewMiddleware(logger, s.detector.ExtractClientIP)

	protected := func(h http.HandlerFunc) http.Handler {
		return deps.Auth.Middleware(security.NoStore(h))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(
		http.StripPrefix("/static/", http.FileServer(http.FS(static)))))

	mux.Handle("POST /api/invoices", protected(s.handleCreateInvoice))
	mux.Handle("GET /api/payments/{id}/invoice", protected(s.handleDownloadInvoice))
	mux.Handle("GET /api/earnings", protected(s.handleEarnings))
	mux.Handle("GET /ui/earnings", protected(s.handleEarningsUI))

	var handler http.Handler = mux
	handler = s.limiter.Middleware(s.detector.ExtractClientIP, s.onRateLimit, http.MethodPost)(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = s.detector.Middleware(logger.WithComponent(applog.ComponentSecurity).Slog())(handler)
	handler = s.tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
	return s, nil
}

// Shutdown stops background goroutines and drains connections.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	s.logger.WithComponent(applog.ComponentRateLimit).WarnContext(r.Context(), "Rate limit exceeded",
		applog.FieldClientIP, s.detector.ExtractClientIP(r),
		applog.FieldPath, r.URL.Path)
	writeJSONError(w, http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded, try again later")
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", applog.FieldError, err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
