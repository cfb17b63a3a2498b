package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vitos/crypto_trade_pinbar/internal/domain"
	"go.uber.org/zap"
)

// StrategyManager is the registry surface the API needs.
type StrategyManager interface {
	Start(ctx context.Context, cfg domain.StrategyConfig) (string, error)
	Stop(ctx context.Context, id string) (bool, error)
	List() []domain.InstanceSummary
	Get(id string) (*domain.InstanceRecord, bool)
}

type Server struct {
	router   *http.ServeMux
	server   *http.Server
	registry StrategyManager
	events   http.Handler
	logger   *zap.Logger
}

// NewServer wires the API. events may be nil, in which case /ws/events is not served.
func NewServer(port int, registry StrategyManager, events http.Handler, logger *zap.Logger) *Server {
	s := &Server{
		router:   http.NewServeMux(),
		registry: registry,
		events:   events,
		logger:   logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	// Strategies
	s.router.HandleFunc("POST /api/strategies", s.handleStartStrategy)
	s.router.HandleFunc("GET /api/strategies", s.handleListStrategies)
	s.router.HandleFunc("GET /api/strategies/{id}", s.handleGetStrategy)
	s.router.HandleFunc("DELETE /api/strategies/{id}", s.handleStopStrategy)

	// Trade stats
	s.router.HandleFunc("GET /api/stats", s.handleStats)

	// Events
	if s.events != nil {
		s.router.Handle("GET /ws/events", s.events)
	}

	s.router.HandleFunc("GET /healthz", s.handleHealth)
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
