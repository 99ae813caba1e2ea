package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/CTAG07/Mimicry/pkg/engine"
	"github.com/CTAG07/Mimicry/pkg/pool"
)

// IndexAPI holds the dependencies for the indexing session handlers.
type IndexAPI struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewIndexAPI creates a new instance of the IndexAPI.
func NewIndexAPI(e *engine.Engine, logger *slog.Logger) *IndexAPI {
	return &IndexAPI{
		engine: e,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/index endpoints. Sessions
// are opened through POST /api/models/{group}/{member}/index.
func (a *IndexAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/index", a.handleList)
	mux.HandleFunc("/api/index/", a.handleSession)
}

type FeedRequest struct {
	Messages []string `json:"messages"`
}

func (a *IndexAPI) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	respondWithJSON(w, http.StatusOK, a.engine.Sessions())
}

// handleSession routes /api/index/{session}[/feed|/finish].
func (a *IndexAPI) handleSession(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/index/"), "/")
	parts := strings.Split(path, "/")
	if parts[0] == "" || len(parts) > 2 {
		respondWithError(w, http.StatusBadRequest, "Session not specified")
		return
	}

	s, err := a.engine.Session(parts[0])
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Session not found")
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, "GET")
			return
		}
		respondWithJSON(w, http.StatusOK, s.Info())
		return
	}

	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	switch parts[1] {
	case "feed":
		var req FeedRequest
		if !decodeBody(w, r, &req) {
			return
		}
		for _, msg := range req.Messages {
			if err = s.Feed(r.Context(), msg); err != nil {
				a.respondSessionError(w, "Failed to feed message", s, err)
				return
			}
		}
		respondWithJSON(w, http.StatusOK, s.Info())

	case "finish":
		info := s.Info()
		if err = s.Finish(r.Context()); err != nil {
			a.respondSessionError(w, "Failed to finish indexing", s, err)
			return
		}
		info.Queued = 0
		respondWithJSON(w, http.StatusOK, info)

	default:
		respondWithError(w, http.StatusNotFound, "Action not found")
	}
}

func (a *IndexAPI) respondSessionError(w http.ResponseWriter, msg string, s *engine.IndexSession, err error) {
	switch {
	case errors.Is(err, engine.ErrSessionFinished):
		respondWithError(w, http.StatusConflict, "Session already finished")
	case errors.Is(err, pool.ErrClosed):
		respondWithError(w, http.StatusServiceUnavailable, "Model pool is shutting down")
	default:
		a.logger.Error(msg, "session", s.ID, "identity", s.Identity.String(), "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("%s: %v", msg, err))
	}
}
