// Package apiapp serves the tiffin ledger JSON API.
package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tiffinledger/tiffin/internal/docstore"
	"github.com/tiffinledger/tiffin/internal/envutil"
	"github.com/tiffinledger/tiffin/internal/middleware"
	"github.com/tiffinledger/tiffin/internal/notify"
	"go.uber.org/zap"
)

const (
	sessionCookieName = "tiffin_session"
	csrfHeaderName    = "X-CSRF-Token"
	defaultPerPage    = 25
	maxPerPage        = 100
)

type contextKey string

const sessionContextKey contextKey = "session"

type Config struct {
	Addr          string
	DataDir       string
	AdminUsername string
	AdminPassword string
	SessionTTL    time.Duration
	TimeZone      string
	GCInterval    time.Duration
}

func DefaultConfigFromEnv() Config {
	return Config{
		Addr:          envutil.String("API_ADDR", ":8080"),
		DataDir:       envutil.String("DATA_DIR", "data"),
		AdminUsername: envutil.String("ADMIN_USERNAME", ""),
		AdminPassword: envutil.String("ADMIN_PASSWORD", ""),
		SessionTTL:    envutil.Duration("SESSION_TTL", 12*time.Hour),
		TimeZone:      envutil.String("TIME_ZONE", "Asia/Kolkata"),
		GCInterval:    envutil.Duration("STORE_GC_INTERVAL", 10*time.Minute),
	}
}

type server struct {
	store      *docstore.Store
	service    *Service
	notifier   notify.Notifier
	logger     *zap.Logger
	sessionTTL time.Duration
	location   *time.Location
	now        func() time.Time
}

type Deps struct {
	Store    *docstore.Store
	Notifier notify.Notifier
	Logger   *zap.Logger
}

// Run serves the API until ctx is cancelled.
func Run(ctx context.Context, cfg Config, deps Deps) error {
	if cfg.AdminUsername == "" || cfg.AdminPassword == "" {
		return errors.New("ADMIN_USERNAME and ADMIN_PASSWORD are required")
	}
	s, err := newServer(cfg, deps)
	if err != nil {
		return err
	}
	if err := s.service.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		return fmt.Errorf("ensure admin user: %w", err)
	}
	if cfg.GCInterval > 0 {
		s.store.StartGC(ctx, cfg.GCInterval)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", zap.String("addr", cfg.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func newServer(cfg Config, deps Deps) (*server, error) {
	if deps.Store == nil {
		return nil, errors.New("document store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 12 * time.Hour
	}
	loc := time.UTC
	if cfg.TimeZone != "" {
		loaded, err := time.LoadLocation(cfg.TimeZone)
		if err != nil {
			return nil, fmt.Errorf("load time zone %q: %w", cfg.TimeZone, err)
		}
		loc = loaded
	}
	return &server{
		store:      deps.Store,
		service:    NewService(deps.Store, logger),
		notifier:   notifier,
		logger:     logger.Named("api"),
		sessionTTL: cfg.SessionTTL,
		location:   loc,
		now:        time.Now,
	}, nil
}

func (s *server) handler() http.Handler {
	user := func(h http.HandlerFunc) http.Handler {
		return middleware.Chain(h, s.requireRole(roleUser), s.csrfProtect)
	}
	vendor := func(h http.HandlerFunc) http.Handler {
		return middleware.Chain(h, s.requireRole(roleVendor), s.csrfProtect)
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return middleware.Chain(h, s.requireRole(roleAdmin), s.csrfProtect)
	}
	anyone := func(h http.HandlerFunc) http.Handler {
		return middleware.Chain(h, s.requireRole(roleUser, roleVendor, roleAdmin), s.csrfProtect)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/health", http.HandlerFunc(s.health))
	mux.Handle("/api/auth/register", http.HandlerFunc(s.register))
	mux.Handle("/api/auth/login", http.HandlerFunc(s.login))
	mux.Handle("/api/auth/me", anyone(s.me))
	mux.Handle("/api/auth/csrf", anyone(s.csrfToken))
	mux.Handle("/api/auth/logout", anyone(s.logout))

	mux.Handle("/api/vendors", http.HandlerFunc(s.listVendors))
	mux.Handle("/api/public/vendor-logo/", http.HandlerFunc(s.vendorLogo))

	mux.Handle("/api/profile", user(s.profileHandler))
	mux.Handle("/api/profile/", user(s.profileRoutes))
	mux.Handle("/api/menu", user(s.userMenu))
	mux.Handle("/api/tracking/", user(s.trackingRoutes))
	mux.Handle("/api/paid-tracking/", user(s.paidTrackingRoutes))
	mux.Handle("/api/payments", user(s.paymentsHandler))
	mux.Handle("/api/payments/", user(s.paymentRoutes))
	mux.Handle("/api/bills", user(s.listBills))
	mux.Handle("/api/bills/", user(s.billRoutes))

	mux.Handle("/api/vendor/", vendor(s.vendorRoutes))

	mux.Handle("/api/admin/vendors", admin(s.adminListVendors))
	mux.Handle("/api/admin/users", admin(s.adminListUsers))

	csp := strings.Join([]string{
		"default-src 'none'",
		"img-src 'self' data:",
		"frame-ancestors 'none'",
	}, "; ")

	return middleware.Chain(
		mux,
		middleware.RequestLogger(s.logger),
		middleware.Recover(s.logger),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{ContentSecurityPolicy: csp}),
	)
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// today is the current date in the configured zone.
func (s *server) today() time.Time {
	now := s.now().In(s.location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
