package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/CTAG07/Mimicry/pkg/engine"
	"github.com/CTAG07/Mimicry/pkg/markov"
	"github.com/CTAG07/Mimicry/pkg/pool"
)

// ModelAPI holds the dependencies for the per-identity model handlers.
type ModelAPI struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewModelAPI creates a new instance of the ModelAPI.
func NewModelAPI(e *engine.Engine, logger *slog.Logger) *ModelAPI {
	return &ModelAPI{
		engine: e,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/models endpoints.
func (m *ModelAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/models/", m.handleModel)
}

type MessageRequest struct {
	Text string `json:"text"`
}

type EditRequest struct {
	OldText string `json:"old_text"`
	NewText string `json:"new_text"`
}

type PruneRequest struct {
	MinFreq int `json:"min_freq"`
}

type GenerateResponse struct {
	Text string `json:"text"`
}

type PruneResponse struct {
	Removed int `json:"removed"`
}

// parseIdentity extracts the identity and the optional action from
// /api/models/{group}/{member}[/{action}]. Segments are path-escaped so
// identifiers may contain slashes.
func parseIdentity(r *http.Request) (markov.Identity, string, error) {
	path := strings.TrimPrefix(r.URL.EscapedPath(), "/api/models/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || len(parts) > 3 {
		return markov.Identity{}, "", errors.New("expected /api/models/{group}/{member}[/{action}]")
	}
	group, err := url.PathUnescape(parts[0])
	if err != nil {
		return markov.Identity{}, "", fmt.Errorf("invalid group: %w", err)
	}
	member, err := url.PathUnescape(parts[1])
	if err != nil {
		return markov.Identity{}, "", fmt.Errorf("invalid member: %w", err)
	}
	if group == "" || member == "" {
		return markov.Identity{}, "", errors.New("group and member must not be empty")
	}
	var action string
	if len(parts) == 3 {
		action = parts[2]
	}
	return markov.Identity{MemberID: member, GroupID: group}, action, nil
}

// handleModel routes actions for a specific identity, e.g. messages, generate, index.
func (m *ModelAPI) handleModel(w http.ResponseWriter, r *http.Request) {
	id, action, err := parseIdentity(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch action {
	case "", "stats":
		switch {
		case r.Method == http.MethodGet:
			m.handleStats(w, r, id)
		case r.Method == http.MethodDelete && action == "":
			m.handleClear(w, r, id)
		case action == "":
			methodNotAllowed(w, "GET, DELETE")
		default:
			methodNotAllowed(w, "GET")
		}
	case "messages":
		m.handleMessages(w, r, id)
	case "generate":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, "GET")
			return
		}
		m.handleGenerate(w, r, id)
	case "prune":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, "POST")
			return
		}
		m.handlePrune(w, r, id)
	case "flush":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, "POST")
			return
		}
		m.handleFlush(w, r, id)
	case "evict":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, "POST")
			return
		}
		m.handleEvict(w, r, id)
	case "index":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, "POST")
			return
		}
		s := m.engine.StartIndexing(r.Context(), id)
		respondWithJSON(w, http.StatusCreated, s.Info())
	default:
		respondWithError(w, http.StatusNotFound, "Action not found")
	}
}

func (m *ModelAPI) handleStats(w http.ResponseWriter, r *http.Request, id markov.Identity) {
	stats, err := m.engine.Stats(r.Context(), id)
	if err != nil {
		m.respondEngineError(w, "Failed to get model stats", id, err)
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

func (m *ModelAPI) handleClear(w http.ResponseWriter, r *http.Request, id markov.Identity) {
	if err := m.engine.Clear(r.Context(), id); err != nil {
		m.respondEngineError(w, "Failed to clear model", id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMessages ingests (POST), retracts (DELETE) or edits (PUT) a message.
func (m *ModelAPI) handleMessages(w http.ResponseWriter, r *http.Request, id markov.Identity) {
	var err error
	switch r.Method {
	case http.MethodPost:
		var req MessageRequest
		if !decodeBody(w, r, &req) {
			return
		}
		err = m.engine.Ingest(r.Context(), id, req.Text)
	case http.MethodDelete:
		var req MessageRequest
		if !decodeBody(w, r, &req) {
			return
		}
		err = m.engine.Retract(r.Context(), id, req.Text)
	case http.MethodPut:
		var req EditRequest
		if !decodeBody(w, r, &req) {
			return
		}
		err = m.engine.Edit(r.Context(), id, req.OldText, req.NewText)
	default:
		methodNotAllowed(w, "POST, PUT, DELETE")
		return
	}
	if err != nil {
		m.respondEngineError(w, "Failed to apply message", id, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (m *ModelAPI) handleGenerate(w http.ResponseWriter, r *http.Request, id markov.Identity) {
	text, err := m.engine.GenerateText(r.Context(), id)
	if err != nil {
		m.respondEngineError(w, "Failed to generate text", id, err)
		return
	}
	respondWithJSON(w, http.StatusOK, GenerateResponse{Text: text})
}

func (m *ModelAPI) handlePrune(w http.ResponseWriter, r *http.Request, id markov.Identity) {
	var req PruneRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.MinFreq < 1 {
		respondWithError(w, http.StatusBadRequest, "min_freq must be at least 1")
		return
	}
	removed, err := m.engine.Prune(r.Context(), id, req.MinFreq)
	if err != nil {
		m.respondEngineError(w, "Failed to prune model", id, err)
		return
	}
	respondWithJSON(w, http.StatusOK, PruneResponse{Removed: removed})
}

func (m *ModelAPI) handleFlush(w http.ResponseWriter, r *http.Request, id markov.Identity) {
	if err := m.engine.Pool().Flush(r.Context(), id); err != nil {
		m.respondEngineError(w, "Failed to flush model", id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *ModelAPI) handleEvict(w http.ResponseWriter, r *http.Request, id markov.Identity) {
	if err := m.engine.Pool().Evict(r.Context(), id); err != nil {
		m.respondEngineError(w, "Failed to evict model", id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *ModelAPI) respondEngineError(w http.ResponseWriter, msg string, id markov.Identity, err error) {
	if errors.Is(err, pool.ErrClosed) {
		respondWithError(w, http.StatusServiceUnavailable, "Model pool is shutting down")
		return
	}
	m.logger.Error(msg, "identity", id.String(), "error", err)
	respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("%s: %v", msg, err))
}
