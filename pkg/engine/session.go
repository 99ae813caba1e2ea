package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/CTAG07/Mimicry/pkg/markov"
	"github.com/google/uuid"
)

// SessionInfo describes an indexing session.
type SessionInfo struct {
	ID       string          `json:"id"`
	Identity markov.Identity `json:"identity"`
	Started  time.Time       `json:"started"`
	Fed      int             `json:"fed"`
	Queued   int             `json:"queued"`
}

// IndexSession rebuilds one model from message history. The first Feed resets
// the model; every fed message is then trained in. Live Ingest and Retract
// calls for the same identity are queued until Finish replays them on top of
// the rebuilt model.
type IndexSession struct {
	ID       string
	Identity markov.Identity
	Started  time.Time

	engine *Engine
	feedMu sync.Mutex // serializes Feed and Finish

	// guarded by engine.mu
	fed   int
	reset bool
	done  bool
	queue []pendingOp
}

// StartIndexing opens an indexing session for id. If one is already running
// for id, that session is returned instead.
func (e *Engine) StartIndexing(ctx context.Context, id markov.Identity) *IndexSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.active[id]; ok {
		e.logger.DebugContext(ctx, "Indexing already running, reusing session",
			slog.String("session", s.ID),
			slog.String("identity", id.String()),
		)
		return s
	}

	s := &IndexSession{
		ID:       uuid.NewString(),
		Identity: id,
		Started:  time.Now(),
		engine:   e,
	}
	e.active[id] = s
	e.sessions[s.ID] = s
	e.logger.InfoContext(ctx, "Indexing started",
		slog.String("session", s.ID),
		slog.String("identity", id.String()),
	)
	return s
}

// Feed trains one historical message into the model. The first call resets
// the model, discarding whatever it held before.
func (s *IndexSession) Feed(ctx context.Context, text string) error {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()

	e := s.engine
	e.mu.Lock()
	if s.done {
		e.mu.Unlock()
		return ErrSessionFinished
	}
	first := !s.reset
	s.reset = true
	s.fed++
	e.mu.Unlock()

	if first {
		if _, err := e.pool.Reset(ctx, s.Identity); err != nil {
			return err
		}
	}
	tokens := markov.Tokenize(text)
	if tokens == nil {
		return nil
	}
	return e.apply(ctx, s.Identity, pendingOp{tokens: tokens})
}

// Finish ends the session. A session that was never fed still resets the
// model, so indexing an empty history leaves an empty loaded model. Queued
// live messages are replayed in arrival order and the model is flushed to the
// store.
func (s *IndexSession) Finish(ctx context.Context) error {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()

	e := s.engine
	e.mu.Lock()
	if s.done {
		e.mu.Unlock()
		return ErrSessionFinished
	}
	needsReset := !s.reset
	s.reset = true
	fed := s.fed
	e.mu.Unlock()

	if needsReset {
		if _, err := e.pool.Reset(ctx, s.Identity); err != nil {
			return err
		}
	}

	// Drain until the queue stays empty, so no live message slips between
	// the last replay and the end of the session.
	var replayed int
	for {
		e.mu.Lock()
		if s.done {
			e.mu.Unlock()
			return ErrSessionFinished
		}
		queue := s.queue
		s.queue = nil
		if len(queue) == 0 {
			e.endLocked(s)
			e.mu.Unlock()
			break
		}
		e.mu.Unlock()

		for _, op := range queue {
			if err := e.apply(ctx, s.Identity, op); err != nil {
				return err
			}
		}
		replayed += len(queue)
	}

	if err := e.pool.Flush(ctx, s.Identity); err != nil {
		return fmt.Errorf("flush indexed model: %w", err)
	}
	e.logger.InfoContext(ctx, "Indexing finished",
		slog.String("session", s.ID),
		slog.String("identity", s.Identity.String()),
		slog.Int("fed", fed),
		slog.Int("replayed", replayed),
		slog.Duration("elapsed", time.Since(s.Started)),
	)
	return nil
}

// Info describes the session.
func (s *IndexSession) Info() SessionInfo {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	return s.infoLocked()
}

func (s *IndexSession) infoLocked() SessionInfo {
	return SessionInfo{
		ID:       s.ID,
		Identity: s.Identity,
		Started:  s.Started,
		Fed:      s.fed,
		Queued:   len(s.queue),
	}
}

// endLocked marks s done and unregisters it. Callers hold e.mu.
func (e *Engine) endLocked(s *IndexSession) {
	s.done = true
	s.queue = nil
	if e.active[s.Identity] == s {
		delete(e.active, s.Identity)
	}
	delete(e.sessions, s.ID)
}
