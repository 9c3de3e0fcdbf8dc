// Package http serves the dashboard: the JSON API used by the page, the
// CSV exports, and a websocket that streams live dashboard snapshots.
package http

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"gastos/internal/auth"
	"gastos/internal/cache"
	"gastos/internal/export"
	"gastos/internal/log"
	"gastos/internal/middleware/ratelimit"
	"gastos/internal/middleware/security"
	"gastos/internal/middleware/trace"
	"gastos/internal/report"
	"gastos/internal/resilience"
	"gastos/internal/services"
	"gastos/web"
)

// SessionCookie holds the opaque session id.
const SessionCookie = "gastos_session"

const (
	defaultLoginAttempts = 10
	staticMaxAge         = 3600
)

// Deps are the services behind the handlers.
type Deps struct {
	Sessions *auth.Sessions
	Records  *services.Service
	Reports  *report.Service
	Exporter *export.Exporter
	// Durable persists live dashboard snapshots across restarts. Optional.
	Durable cache.Durable
	// Ready reports whether the backend answers. Optional.
	Ready        func(context.Context) error
	Connectivity *resilience.Connectivity
	Logger       *log.Logger
}

type Options struct {
	CookieSecure bool
	SessionTTL   time.Duration
	// CacheTTL is how long a live dashboard snapshot is served before
	// refetching.
	CacheTTL    time.Duration
	AutoRefresh time.Duration
	// LoginAttempts per minute and client address.
	LoginAttempts  int
	TrustedProxies []string
	Now            func() time.Time
}

type Server struct {
	http.Server

	sessions     *auth.Sessions
	records      *services.Service
	reports      *report.Service
	exporter     *export.Exporter
	durable      cache.Durable
	ready        func(context.Context) error
	connectivity *resilience.Connectivity

	templates *template.Template
	limiter   *ratelimit.Limiter
	clientIP  *security.ClientIP
	upgrader  websocket.Upgrader

	cookieSecure bool
	sessionTTL   time.Duration
	cacheTTL     time.Duration
	autoRefresh  time.Duration
	now          func() time.Time
	logger       *log.Logger

	// live tracks open dashboard sockets so Shutdown can wait for them.
	live     sync.WaitGroup
	liveStop chan struct{}
	stopOnce sync.Once
}

// NewServer builds the router. Handler errors never leak backend details;
// see translate.
func NewServer(addr string, deps Deps, opts Options) (*Server, error) {
	if deps.Sessions == nil || deps.Records == nil || deps.Reports == nil || deps.Exporter == nil {
		return nil, errors.New("http: sessions, records, reports and exporter are required")
	}
	if deps.Logger == nil {
		deps.Logger = log.Discard()
	}
	if deps.Connectivity == nil {
		deps.Connectivity = resilience.NewConnectivity()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = auth.DefaultSessionTTL
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = cache.DefaultTTL
	}
	if opts.LoginAttempts <= 0 {
		opts.LoginAttempts = defaultLoginAttempts
	}

	clientIP, err := security.NewClientIP(opts.TrustedProxies...)
	if err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(web.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	s := &Server{
		sessions:     deps.Sessions,
		records:      deps.Records,
		reports:      deps.Reports,
		exporter:     deps.Exporter,
		durable:      deps.Durable,
		ready:        deps.Ready,
		connectivity: deps.Connectivity,
		templates:    tmpl,
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			Requests:        opts.LoginAttempts,
			Window:          time.Minute,
			CleanupInterval: 5 * time.Minute,
			Now:             opts.Now,
		}),
		clientIP: clientIP,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		cookieSecure: opts.CookieSecure,
		sessionTTL:   opts.SessionTTL,
		cacheTTL:     opts.CacheTTL,
		autoRefresh:  opts.AutoRefresh,
		now:          opts.Now,
		logger:       deps.Logger.WithComponent(log.ComponentHTTP),
		liveStop:     make(chan struct{}),
	}

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.RegisterOnShutdown(s.stopLive)
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(trace.Middleware)
	r.Use(log.Middleware(s.logger, trace.RequestID))
	r.Use(chimw.Recoverer)
	r.Use(security.Headers(security.DefaultHeadersConfig()))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Recurso no encontrado")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Método no permitido")
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	static, _ := fs.Sub(web.StaticFS, "static")
	r.With(security.StaticAssetMiddleware(staticMaxAge)).
		Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))

	r.Group(func(r chi.Router) {
		r.Use(security.NoStore)

		r.Get("/", s.handleIndex)
		r.With(s.limiter.Middleware(s.clientIP.Resolve, s.tooManyAttempts)).Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)

			r.Get("/ws/dashboard", s.handleLiveDashboard)

			r.Route("/api", func(r chi.Router) {
				r.Get("/me", s.handleMe)
				r.Post("/me/refresh-role", s.handleRefreshRole)

				r.Route("/expenses", func(r chi.Router) {
					r.Get("/", s.handleListExpenses)
					r.Post("/", s.handleCreateExpense)
					r.Put("/{id}", s.handleUpdateExpense)
					r.Delete("/{id}", s.handleDeleteExpense)
					r.With(s.requireAdmin).Patch("/{id}/status", s.handleExpenseStatus)
				})
				r.Route("/incomes", func(r chi.Router) {
					r.Get("/", s.handleListIncomes)
					r.Post("/", s.handleCreateIncome)
					r.Put("/{id}", s.handleUpdateIncome)
					r.Delete("/{id}", s.handleDeleteIncome)
				})

				r.Get("/categories", s.handleListCategories)
				r.Post("/categories", s.handleCreateCategory)
				r.Get("/payment-methods", s.handleListPaymentMethods)

				r.With(s.requireAdmin).Get("/dashboard", s.handleAdminDashboard)
				r.Get("/dashboard/employee", s.handleEmployeeDashboard)

				r.Get("/export/month", s.handleExportMonth)
				r.Get("/export/{collection}", s.handleExportList)

				r.Route("/admin", func(r chi.Router) {
					r.Use(s.requireAdmin)
					r.Get("/users", s.handleListUsers)
					r.Patch("/users/{id}/role", s.handleUserRole)
					r.Patch("/users/{id}/status", s.handleUserStatus)
					r.Patch("/categories/{id}", s.handleCategoryActive)
					r.Post("/payment-methods", s.handleCreatePaymentMethod)
					r.Patch("/payment-methods/{id}", s.handlePaymentMethodActive)
					r.Post("/cache/clear", s.handleClearCache)
				})
			})
		})
	})
	return r
}

func (s *Server) tooManyAttempts(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Login rate limit exceeded",
		log.FieldClientIP, s.clientIP.Resolve(r))
	writeError(w, http.StatusTooManyRequests, msgTooMany)
}

// stopLive closes the live dashboard sockets. http.Server does not track
// hijacked connections, so Shutdown would otherwise leave them open.
func (s *Server) stopLive() {
	s.stopOnce.Do(func() {
		close(s.liveStop)
		s.limiter.Stop()
	})
}

// Shutdown stops accepting requests, closes live sockets and waits for
// them, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Server.Shutdown(ctx)
	s.stopLive()

	done := make(chan struct{})
	go func() {
		s.live.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}
