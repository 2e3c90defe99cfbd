// Package httpapi is the local operator surface: status, arm/disarm,
// breaker reset, and the Prometheus exposition endpoint. It binds to
// loopback by default and rate-limits every route; this is a control
// plane for humans, not a public API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/quantfall/riskbrain/internal/breaker"
	"github.com/quantfall/riskbrain/internal/domain"
)

// ServerConfig holds the operator API configuration.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	RateLimit    rate.Limit    `yaml:"rate_limit"`
	RateBurst    int           `yaml:"rate_burst"`
}

// DefaultServerConfig returns the production defaults: loopback-only,
// 10 requests/second.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "127.0.0.1",
		Port:         8090,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		RateLimit:    10,
		RateBurst:    20,
	}
}

// ArmedControl arms and disarms live execution.
type ArmedControl interface {
	IsArmed() bool
	Arm(operatorID string) error
	Disarm(operatorID string)
}

// BreakerControl exposes circuit-breaker status and operator reset.
type BreakerControl interface {
	Status() breaker.Status
	Reset(operatorID string) error
}

// DefconSource reports the governance posture.
type DefconSource interface {
	Level() domain.DefconLevel
}

// OutcomeSink ingests realized trade results into the feedback loop.
type OutcomeSink interface {
	Record(ctx context.Context, outcome domain.TradeOutcome) (breaker.Status, error)
}

// Server is the operator HTTP API.
type Server struct {
	router  *mux.Router
	server  *http.Server
	limiter *rate.Limiter

	armed      ArmedControl
	breaker    BreakerControl
	governance DefconSource
	outcomes   OutcomeSink
}

// NewServer wires routes and middleware. metricsHandler serves the
// Prometheus registry; pass nil to omit the endpoint. outcomes may be
// nil when no outcome ingestion is wired.
func NewServer(cfg ServerConfig, armed ArmedControl, brk BreakerControl, gov DefconSource, outcomes OutcomeSink, metricsHandler http.Handler) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		limiter:    rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		armed:      armed,
		breaker:    brk,
		governance: gov,
		outcomes:   outcomes,
	}

	s.router.Use(s.rateLimitMiddleware)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/arm", s.handleArm).Methods(http.MethodPost)
	s.router.HandleFunc("/disarm", s.handleDisarm).Methods(http.MethodPost)
	s.router.HandleFunc("/breaker/reset", s.handleBreakerReset).Methods(http.MethodPost)
	if outcomes != nil {
		s.router.HandleFunc("/outcome", s.handleOutcome).Methods(http.MethodPost)
	}
	if metricsHandler != nil {
		s.router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("operator API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type operatorRequest struct {
	OperatorID string `json:"operator_id"`
}

type statusResponse struct {
	Armed   bool           `json:"armed"`
	Defcon  string         `json:"defcon"`
	Breaker breaker.Status `json:"breaker"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Armed:   s.armed.IsArmed(),
		Defcon:  s.governance.Level().String(),
		Breaker: s.breaker.Status(),
	})
}

func (s *Server) handleArm(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeOperator(w, r)
	if !ok {
		return
	}
	if err := s.armed.Arm(req.OperatorID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	log.Info().Str("operator", req.OperatorID).Msg("armed via operator API")
	writeJSON(w, http.StatusOK, map[string]bool{"armed": true})
}

func (s *Server) handleDisarm(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeOperator(w, r)
	if !ok {
		return
	}
	s.armed.Disarm(req.OperatorID)
	log.Warn().Str("operator", req.OperatorID).Msg("disarmed via operator API")
	writeJSON(w, http.StatusOK, map[string]bool{"armed": false})
}

func (s *Server) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeOperator(w, r)
	if !ok {
		return
	}
	if req.OperatorID == "" {
		writeError(w, http.StatusBadRequest, "operator_id is required")
		return
	}
	if err := s.breaker.Reset(req.OperatorID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reset":   true,
		"breaker": s.breaker.Status(),
	})
}

func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var outcome domain.TradeOutcome
	if err := json.NewDecoder(r.Body).Decode(&outcome); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	st, err := s.outcomes.Record(r.Context(), outcome)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	log.Info().Str("symbol", outcome.Symbol).Float64("pnl", outcome.PnL).
		Msg("trade outcome ingested via operator API")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"recorded": true,
		"breaker":  st,
	})
}

func decodeOperator(w http.ResponseWriter, r *http.Request) (operatorRequest, bool) {
	var req operatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
