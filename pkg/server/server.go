package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/comx-labs/comx-client/config"
	"github.com/comx-labs/comx-client/pkg/querymap"
	"github.com/comx-labs/comx-client/pkg/rpc"
	"github.com/comx-labs/comx-client/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type Server struct {
	cfg       *config.Config
	queries   *querymap.QueryMap
	router    *chi.Mux
	startTime time.Time
	httpSrv   *http.Server
}

func NewServer(cfg *config.Config, queries *querymap.QueryMap) *Server {
	return &Server{
		cfg:       cfg,
		queries:   queries,
		router:    chi.NewRouter(),
		startTime: time.Now(),
	}
}

func (s *Server) Start() error {
	s.setupMiddleware()
	s.setupRoutes()

	s.httpSrv = &http.Server{
		Addr:    ":" + strconv.Itoa(s.cfg.ServerPort),
		Handler: s.router,
	}

	log.Info().Msgf("Starting server on port %d", s.cfg.ServerPort)
	return s.httpSrv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// GetHandler returns the http.Handler for testing or custom usage
func (s *Server) GetHandler() http.Handler {
	s.setupMiddleware()
	s.setupRoutes()
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(s.cfg.RequestTimeout*time.Duration(s.cfg.MaxRetries+1) + 5*time.Second))
}

func (s *Server) setupRoutes() {
	// Prometheus Metrics Endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health and Readiness
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ready", s.handleReady)

	// Query surface
	s.router.Get("/balance/{address}", s.handleBalance)
	s.router.Post("/balances", s.handleBalances)
	s.router.Get("/stake/from/{address}", s.handleStakeFrom)
	s.router.Get("/stake/to/{address}", s.handleStakeTo)

	// Cache management
	s.router.Delete("/cache/balance/{address}", s.handleInvalidateBalance)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	balance, err := s.queries.GetBalance(r.Context(), address)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]any{
		"address": address,
		"amount":  balance.Amount,
		"denom":   balance.Denom,
	})
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Addresses []string `json:"addresses"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	results, err := s.queries.GetBalances(r.Context(), body.Addresses)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]map[string]any, len(results))
	for i, res := range results {
		item := map[string]any{"address": res.Address}
		if res.Err != nil {
			item["error"] = res.Err.Error()
		} else {
			item["amount"] = res.Balance.Amount
			item["denom"] = res.Balance.Denom
		}
		out[i] = item
	}
	writeJSON(w, out)
}

func (s *Server) handleStakeFrom(w http.ResponseWriter, r *http.Request) {
	s.handleStake(w, r, s.queries.GetStakeFrom, "stakeFrom")
}

func (s *Server) handleStakeTo(w http.ResponseWriter, r *http.Request) {
	s.handleStake(w, r, s.queries.GetStakeTo, "stakeTo")
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request, query func(context.Context, string) ([]types.Address, error), field string) {
	address := chi.URLParam(r, "address")

	stakes, err := query(r.Context(), address)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]any{
		"address": address,
		field:     stakes,
	})
}

func (s *Server) handleInvalidateBalance(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	if _, err := types.ParseAddress(address); err != nil {
		writeError(w, err)
		return
	}
	if err := s.queries.InvalidateBalance(address); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.queries != nil && s.cfg.NodeURL != "" {
		w.Write([]byte("READY"))
	} else {
		http.Error(w, "Not Ready", http.StatusServiceUnavailable)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.queries.CacheMetrics()

	writeJSON(w, map[string]any{
		"status": "healthy",
		"uptime": time.Since(s.startTime).Seconds(),
		"node":   s.cfg.NodeURL,
		"cache":  stats,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses: validation is the
// caller's fault, node rejections and connection failures are upstream
// faults, timeouts are gateway timeouts.
func writeError(w http.ResponseWriter, err error) {
	var validationErr *types.ValidationError
	var rpcErr *rpc.RPCError
	var timeoutErr *rpc.TimeoutError

	switch {
	case errors.As(err, &validationErr):
		http.Error(w, validationErr.Error(), http.StatusBadRequest)
	case errors.As(err, &rpcErr):
		http.Error(w, rpcErr.Error(), http.StatusBadGateway)
	case errors.As(err, &timeoutErr):
		http.Error(w, timeoutErr.Error(), http.StatusGatewayTimeout)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}
