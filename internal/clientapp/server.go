package clientapp

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/tiffinledger/tiffin/internal/envutil"
	"github.com/tiffinledger/tiffin/internal/middleware"
	"go.uber.org/zap"
)

//go:embed static
var staticFS embed.FS

var securityHeaderNames = []string{
	"Content-Security-Policy",
	"X-Frame-Options",
	"X-Content-Type-Options",
	"Referrer-Policy",
	"Permissions-Policy",
}

type Config struct {
	Addr         string
	APIBaseURL   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type server struct {
	api    *httputil.ReverseProxy
	assets http.Handler
	index  []byte
	logger *zap.Logger
}

func DefaultConfigFromEnv() Config {
	return Config{
		Addr:         envutil.String("CLIENT_ADDR", ":3000"),
		APIBaseURL:   envutil.String("API_BASE_URL", "http://localhost:8080"),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

func Run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	handler, err := newHandler(cfg, logger)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("client listening", zap.String("addr", cfg.Addr), zap.String("api", cfg.APIBaseURL))
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

func newHandler(cfg Config, logger *zap.Logger) (http.Handler, error) {
	target, err := url.Parse(strings.TrimRight(cfg.APIBaseURL, "/"))
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid API_BASE_URL %q", cfg.APIBaseURL)
	}
	assets, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, err
	}
	index, err := fs.ReadFile(assets, "index.html")
	if err != nil {
		return nil, err
	}

	s := &server{
		api:    newAPIProxy(target, logger),
		assets: http.FileServer(http.FS(assets)),
		index:  index,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", s.api)
	mux.Handle("/assets/", s.assets)
	mux.Handle("/healthz", http.HandlerFunc(s.health))
	mux.Handle("/", http.HandlerFunc(s.app))

	csp := strings.Join([]string{
		"default-src 'self'",
		"style-src 'self'",
		"img-src 'self' data: blob:",
		"script-src 'self'",
		"connect-src 'self'",
		"frame-ancestors 'none'",
	}, "; ")

	return middleware.Chain(
		mux,
		middleware.RequestLogger(logger),
		middleware.Recover(logger),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{ContentSecurityPolicy: csp}),
	), nil
}

// newAPIProxy forwards /api/ untouched, so the session cookie and CSRF header
// travel both ways without the client knowing about either.
func newAPIProxy(target *url.URL, logger *zap.Logger) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.SetXForwarded()
		},
		// The client's own security headers are already on the response.
		ModifyResponse: func(resp *http.Response) error {
			for _, name := range securityHeaderNames {
				resp.Header.Del(name)
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("api unavailable", zap.String("path", r.URL.Path), zap.Error(err))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"api unavailable"}`))
		},
	}
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// app serves the single page for every client route; the script picks the
// view from the path.
func (s *server) app(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(s.index)
}
