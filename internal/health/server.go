// Package health serves liveness, cycle inspection, and Prometheus
// metrics over HTTP. It is read-only: nothing here mutates trading
// state.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/jhalpert/dunder_hedger/internal/models"
	"github.com/jhalpert/dunder_hedger/internal/storage"
)

type Server struct {
	router  *chi.Mux
	server  *http.Server
	storage storage.Interface
	metrics *Metrics
	logger  *logrus.Logger
	addr    string
	started time.Time
}

func NewServer(addr string, store storage.Interface, metrics *Metrics, logger *logrus.Logger) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		storage: store,
		metrics: metrics,
		logger:  logger,
		addr:    addr,
		started: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/api/cycles", s.handleCycles)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.WithField("addr", s.addr).Info("starting health server")
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

// cycleView is the wire shape for /api/cycles: enough to eyeball the
// book without exposing storage internals.
type cycleView struct {
	ID          string  `json:"id"`
	AccountID   string  `json:"account_id"`
	Underlying  string  `json:"underlying"`
	Status      string  `json:"status"`
	RealizedPnL float64 `json:"realized_pnl"`
	RuleSet     string  `json:"rule_set"`
	OpenTrades  int     `json:"open_trades"`
	HasHedge    bool    `json:"has_hedge"`
	Zombies     int     `json:"zombies"`
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	cycles, err := s.storage.ListOpenCycles(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("failed to list cycles")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	views := make([]cycleView, 0, len(cycles))
	for _, c := range cycles {
		v := cycleView{
			ID:          c.ID,
			AccountID:   c.AccountID,
			Underlying:  c.Underlying,
			Status:      string(c.Status),
			RealizedPnL: c.RealizedPnL,
			RuleSet:     c.RuleSetName,
			HasHedge:    c.OpenHedge() != nil,
		}
		for i := range c.Trades {
			if c.Trades[i].Status == models.TradeOpen {
				v.OpenTrades++
			}
			if c.Trades[i].ZombieFlag {
				v.Zombies++
			}
		}
		views = append(views, v)
	}
	writeJSON(w, s.logger, views)
}

func writeJSON(w http.ResponseWriter, logger *logrus.Logger, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}
