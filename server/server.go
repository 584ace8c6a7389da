// Package server exposes an oracle over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/defistate/defistate-oracle-go/engine"
	"github.com/defistate/defistate-oracle-go/oracles/aggregator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Logger is the logging surface of the server.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Assignments reports which backend prices a pair.
type Assignments interface {
	AssignedBackend(ctx context.Context, tokenA, tokenB common.Address) (aggregator.Assignment, error)
}

// Multicaller runs ABI encoded batches atomically.
type Multicaller interface {
	Multicall(ctx context.Context, calls [][]byte) ([][]byte, error)
}

// Config holds the dependencies of a Server.
type Config struct {
	Oracle      engine.PriceOracle
	Assignments Assignments
	Multicall   Multicaller
	Logger      Logger
	Registerer  prometheus.Registerer
	// Gatherer backs /metrics. Nil disables the route.
	Gatherer prometheus.Gatherer

	RequestsPerMinute float64
	Burst             int
	// MaxBatch caps the number of calls in one multicall request.
	MaxBatch int
}

func (c *Config) validate() error {
	if c.Oracle == nil {
		return errors.New("config: Oracle cannot be nil")
	}
	if c.Assignments == nil {
		return errors.New("config: Assignments cannot be nil")
	}
	if c.Multicall == nil {
		return errors.New("config: Multicall cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.Registerer == nil {
		return errors.New("config: Registerer cannot be nil")
	}
	return nil
}

const DefaultMaxBatch = 256

// Server serves quotes and pair configuration. Requests carry no caller, so
// nothing reachable over HTTP holds a role.
type Server struct {
	oracle      engine.PriceOracle
	assignments Assignments
	multicall   Multicaller
	logger      Logger
	metrics     *Metrics
	limiter     *RateLimiter
	maxBatch    int
	router      http.Handler
}

// New builds the router.
func New(cfg *Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &Server{
		oracle:      cfg.Oracle,
		assignments: cfg.Assignments,
		multicall:   cfg.Multicall,
		logger:      cfg.Logger,
		metrics:     NewMetrics(cfg.Registerer),
		limiter:     NewRateLimiter(cfg.RequestsPerMinute, cfg.Burst, time.Now),
		maxBatch:    cfg.MaxBatch,
	}
	if s.maxBatch <= 0 {
		s.maxBatch = DefaultMaxBatch
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(s.limiter.Middleware)
		v1.Get("/quote", s.handleQuote)
		v1.Get("/pairs/{tokenA}/{tokenB}", s.handlePair)
		v1.Post("/pairs/{tokenA}/{tokenB}/support", s.handleSupport)
		v1.Post("/multicall", s.handleMulticall)
	})
	s.router = r
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}
