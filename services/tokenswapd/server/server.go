package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tokenswap/core"
	"tokenswap/core/types"
	"tokenswap/gateway/middleware"
	"tokenswap/native/tokenswap"
	"tokenswap/services/tokenswapd/storage"
)

const maxCallBytes = 64 << 10

// Backend is the executor surface the HTTP server drives.
type Backend interface {
	Apply(ctx context.Context, call *types.Call) (*core.Result, error)
	Quote(ctx context.Context, asset string, amount *big.Int) (*tokenswap.Quote, error)
	TreasuryState() (*tokenswap.TreasuryState, error)
	Account(addr [20]byte) (*types.Account, []types.Balance, error)
	Token(symbol string) (*types.TokenMetadata, error)
	Program() [20]byte
	Engine() *tokenswap.Engine
}

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
	CertFile      string
	KeyFile       string
	RateLimits    map[string]middleware.RateLimit
}

// Server exposes the exchange over HTTP.
type Server struct {
	cfg     Config
	backend Backend
	storage *storage.Storage
	logger  *slog.Logger
	limiter *middleware.RateLimiter
	now     func() time.Time
	router  http.Handler
}

// New constructs a new HTTP server.
func New(cfg Config, backend Backend, store *storage.Storage, logger *slog.Logger) (*Server, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend required")
	}
	if store == nil {
		return nil, fmt.Errorf("storage required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "http"))
	srv := &Server{
		cfg:     cfg,
		backend: backend,
		storage: store,
		logger:  logger,
		limiter: middleware.NewRateLimiter(cfg.RateLimits, logger),
		now:     time.Now,
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	route := func(name, ratelimit string, h http.HandlerFunc) http.Handler {
		var handler http.Handler = h
		handler = middleware.Instrument(s.logger, "tokenswapd", name)(handler)
		if ratelimit != "" {
			handler = s.limiter.Middleware(ratelimit)(handler)
		}
		return otelhttp.NewHandler(handler, "tokenswapd."+name)
	}

	r.Method(http.MethodGet, "/healthz", route("health", "", s.handleHealth))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/v1", func(v1 chi.Router) {
		v1.Method(http.MethodPost, "/calls", route("calls", "calls", s.handleCall))
		v1.Method(http.MethodGet, "/quote", route("quote", "reads", s.handleQuote))
		v1.Method(http.MethodGet, "/state", route("state", "reads", s.handleState))
		v1.Method(http.MethodGet, "/accounts/{address}", route("accounts", "reads", s.handleAccount))
		v1.Method(http.MethodGet, "/receipts/{id}", route("receipts", "reads", s.handleReceipt))
	})
	return r
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	tlsEnabled := strings.TrimSpace(s.cfg.CertFile) != "" && strings.TrimSpace(s.cfg.KeyFile) != ""
	if tlsEnabled {
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", slog.String("addr", s.cfg.ListenAddress), slog.Bool("tls", tlsEnabled))
	var err error
	if tlsEnabled {
		err = srv.ListenAndServeTLS(s.cfg.CertFile, s.cfg.KeyFile)
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}
