// Package httpapi serves the read-only admin API: account state, active
// lockouts, the audit trail, and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"riskguard/internal/audit"
	"riskguard/internal/domain"
	"riskguard/internal/engine"
)

// AdminServer exposes the engine's state over HTTP JSON.
type AdminServer struct {
	engine *engine.Engine
	log    *slog.Logger
	srv    *http.Server
}

// NewAdminServer creates an AdminServer listening on addr when started.
func NewAdminServer(e *engine.Engine, addr string, log *slog.Logger) *AdminServer {
	s := &AdminServer{engine: e, log: log}

	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// RegisterRoutes registers all API routes on the given mux.
func (s *AdminServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/accounts", s.handleAccounts)
	mux.HandleFunc("GET /api/accounts/{id}", s.handleAccount)
	mux.HandleFunc("GET /api/lockouts", s.handleLockouts)
	mux.HandleFunc("GET /api/audit", s.handleAudit)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *AdminServer) ListenAndServe() error {
	s.log.Info("admin API listening", "addr", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *AdminServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *AdminServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// AccountSummary is one row in the account list.
type AccountSummary struct {
	Account       domain.AccountID `json:"account"`
	NetContracts  int              `json:"net_contracts"`
	RealizedPnL   float64          `json:"realized_pnl"`
	SessionTrades int              `json:"session_trades"`
	Locked        bool             `json:"locked"`
	Degraded      bool             `json:"degraded"`
}

func (s *AdminServer) handleAccounts(w http.ResponseWriter, _ *http.Request) {
	ids := s.engine.Accounts()
	out := make([]AccountSummary, 0, len(ids))
	for _, id := range ids {
		view, ok := s.engine.Account(id)
		if !ok {
			continue
		}
		out = append(out, AccountSummary{
			Account:       id,
			NetContracts:  view.Snapshot.NetContracts(),
			RealizedPnL:   view.Snapshot.RealizedPnL,
			SessionTrades: view.Snapshot.SessionTrades,
			Locked:        view.Lockout != nil,
			Degraded:      view.Degraded != "",
		})
	}
	writeJSON(w, out)
}

func (s *AdminServer) handleAccount(w http.ResponseWriter, r *http.Request) {
	id := domain.AccountID(r.PathValue("id"))
	view, ok := s.engine.Account(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown account")
		return
	}
	writeJSON(w, view)
}

func (s *AdminServer) handleLockouts(w http.ResponseWriter, _ *http.Request) {
	locks := s.engine.Lockouts()
	if locks == nil {
		locks = []domain.Lockout{}
	}
	writeJSON(w, locks)
}

func (s *AdminServer) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad limit")
			return
		}
		limit = n
	}
	entries := s.engine.Audit(limit)
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, entries)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
