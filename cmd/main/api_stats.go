package main

import (
	"log/slog"
	"net/http"

	"github.com/CTAG07/Mimicry/pkg/markov"
	"github.com/CTAG07/Mimicry/pkg/pool"
)

// PoolSummary provides a high-level overview of the model pool.
type PoolSummary struct {
	TTLSec     int               `json:"ttl_sec"`
	Stats      pool.Stats        `json:"stats"`
	Identities []markov.Identity `json:"identities"`
}

// StatsAPI holds the dependencies for the pool statistics handlers.
type StatsAPI struct {
	pool   *pool.Pool
	logger *slog.Logger
}

func NewStatsAPI(p *pool.Pool, logger *slog.Logger) *StatsAPI {
	return &StatsAPI{
		pool:   p,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/pool endpoints.
func (a *StatsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/pool", a.handleSummary)
	mux.HandleFunc("/api/pool/checkpoint", a.handleCheckpoint)
}

func (a *StatsAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	respondWithJSON(w, http.StatusOK, PoolSummary{
		TTLSec:     int(a.pool.TTL().Seconds()),
		Stats:      a.pool.Stats(),
		Identities: a.pool.Identities(),
	})
}

// handleCheckpoint saves every dirty pooled model immediately.
func (a *StatsAPI) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	if err := a.pool.Checkpoint(r.Context()); err != nil {
		a.logger.Error("Manual checkpoint failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Checkpoint failed: "+err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, a.pool.Stats())
}
