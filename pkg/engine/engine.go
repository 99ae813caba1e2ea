// Package engine ties the tokenizer, the per-identity models and the model
// pool together into the operations a chat integration needs: learning from
// new messages, forgetting deleted ones, generating text and rebuilding a
// model from message history.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/CTAG07/Mimicry/pkg/markov"
	"github.com/CTAG07/Mimicry/pkg/pool"
)

var (
	// ErrSessionFinished is returned when feeding or finishing an indexing
	// session that already finished or was aborted by Clear.
	ErrSessionFinished = errors.New("engine: indexing session finished")
	// ErrSessionNotFound is returned when no active session has the given ID.
	ErrSessionNotFound = errors.New("engine: indexing session not found")
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger injects a logger. By default, all logs are discarded.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMaxSteps bounds every generation walk. See markov.WithMaxSteps.
func WithMaxSteps(n int) Option {
	return func(e *Engine) { e.maxSteps = n }
}

// Engine runs text operations against pooled models.
type Engine struct {
	pool     *pool.Pool
	logger   *slog.Logger
	maxSteps int

	mu       sync.Mutex
	sessions map[string]*IndexSession
	active   map[markov.Identity]*IndexSession
}

// New creates an Engine on top of p. The engine does not own p until Close.
func New(p *pool.Pool, opts ...Option) *Engine {
	e := &Engine{
		pool:     p,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		sessions: make(map[string]*IndexSession),
		active:   make(map[markov.Identity]*IndexSession),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Pool returns the underlying model pool.
func (e *Engine) Pool() *pool.Pool { return e.pool }

// Ingest learns from a new message. Blank messages and models that were never
// loaded or indexed are ignored. While id is being indexed the message is
// queued and applied once the backfill finishes.
func (e *Engine) Ingest(ctx context.Context, id markov.Identity, text string) error {
	tokens := markov.Tokenize(text)
	if tokens == nil {
		return nil
	}
	if e.enqueue(id, pendingOp{tokens: tokens}) {
		return nil
	}
	return e.apply(ctx, id, pendingOp{tokens: tokens})
}

// Retract forgets a message that was previously ingested, typically because
// it was deleted. Transitions that are not in the model are skipped and
// logged. Retractions are queued during indexing like Ingest.
func (e *Engine) Retract(ctx context.Context, id markov.Identity, text string) error {
	tokens := markov.Tokenize(text)
	if tokens == nil {
		return nil
	}
	op := pendingOp{tokens: tokens, retract: true}
	if e.enqueue(id, op) {
		return nil
	}
	return e.apply(ctx, id, op)
}

// Edit replaces a previously ingested message with its new text.
func (e *Engine) Edit(ctx context.Context, id markov.Identity, oldText, newText string) error {
	if err := e.Retract(ctx, id, oldText); err != nil {
		return err
	}
	return e.Ingest(ctx, id, newText)
}

// GenerateText produces a message from the model for id. It returns an empty
// string when the model is unloaded or empty, or when the walk hits the
// configured step limit. The only error is pool.ErrClosed.
func (e *Engine) GenerateText(ctx context.Context, id markov.Identity) (string, error) {
	var tokens []string
	err := e.pool.Do(ctx, id, func(m *markov.Model) error {
		var genErr error
		tokens, genErr = m.Generate(markov.WithMaxSteps(e.maxSteps))
		return genErr
	})
	if errors.Is(err, markov.ErrStepLimit) {
		e.logger.WarnContext(ctx, "Generation hit the step limit",
			slog.String("identity", id.String()),
			slog.Int("max_steps", e.maxSteps),
		)
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return markov.Detokenize(tokens), nil
}

// Clear deletes the model for id from memory and from the store. An indexing
// session running for id is aborted and its queued messages are dropped.
func (e *Engine) Clear(ctx context.Context, id markov.Identity) error {
	e.mu.Lock()
	s, ok := e.active[id]
	e.mu.Unlock()
	if ok {
		// Wait out a Feed in progress so it cannot reset the model after the
		// delete.
		s.feedMu.Lock()
		defer s.feedMu.Unlock()

		e.mu.Lock()
		if !s.done {
			e.logger.InfoContext(ctx, "Indexing session aborted by clear",
				slog.String("session", s.ID),
				slog.String("identity", id.String()),
				slog.Int("dropped", len(s.queue)),
			)
			e.endLocked(s)
		}
		e.mu.Unlock()
	}

	return e.pool.Delete(ctx, id)
}

// Stats returns statistics for the model of id, loading it if needed.
func (e *Engine) Stats(ctx context.Context, id markov.Identity) (markov.ModelStats, error) {
	var stats markov.ModelStats
	err := e.pool.Do(ctx, id, func(m *markov.Model) error {
		stats = m.Stats()
		return nil
	})
	return stats, err
}

// Prune removes transitions seen minFreq times or fewer from the model of id
// and returns how many were removed.
func (e *Engine) Prune(ctx context.Context, id markov.Identity, minFreq int) (int, error) {
	var removed int
	err := e.pool.Do(ctx, id, func(m *markov.Model) error {
		removed = m.Prune(minFreq)
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.logger.InfoContext(ctx, "Model pruned",
		slog.String("identity", id.String()),
		slog.Int("min_freq", minFreq),
		slog.Int("removed", removed),
	)
	return removed, nil
}

// Close finishes every running indexing session, so no queued message is
// lost, and closes the pool, flushing every loaded model.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	running := make([]*IndexSession, 0, len(e.active))
	for _, s := range e.active {
		running = append(running, s)
	}
	e.mu.Unlock()

	var errs []error
	for _, s := range running {
		if err := s.Finish(ctx); err != nil && !errors.Is(err, ErrSessionFinished) {
			errs = append(errs, fmt.Errorf("finish session %s: %w", s.ID, err))
		}
	}
	if err := e.pool.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Session returns the active indexing session with the given ID.
func (e *Engine) Session(sessionID string) (*IndexSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Sessions describes every active indexing session, oldest first.
func (e *Engine) Sessions() []SessionInfo {
	e.mu.Lock()
	infos := make([]SessionInfo, 0, len(e.sessions))
	for _, s := range e.sessions {
		infos = append(infos, s.infoLocked())
	}
	e.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].Started.Equal(infos[j].Started) {
			return infos[i].Started.Before(infos[j].Started)
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// pendingOp is a live message held back while its identity is indexed.
type pendingOp struct {
	tokens  []string
	retract bool
}

// enqueue queues op if id is being indexed and reports whether it did.
func (e *Engine) enqueue(id markov.Identity, op pendingOp) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.active[id]
	if !ok {
		return false
	}
	s.queue = append(s.queue, op)
	return true
}

func (e *Engine) apply(ctx context.Context, id markov.Identity, op pendingOp) error {
	return e.pool.Do(ctx, id, func(m *markov.Model) error {
		if op.retract {
			m.RemoveSequence(op.tokens)
		} else {
			m.AddSequence(op.tokens)
		}
		return nil
	})
}
