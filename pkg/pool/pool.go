// Package pool keeps prediction models in memory while they are in use.
//
// A Pool holds at most one Model per identity. A model is loaded from the
// store the first time it is requested and stays cached for a sliding TTL:
// every access pushes its deadline forward, and once the deadline passes
// without an access the model is saved back to the store and dropped.
package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CTAG07/Mimicry/pkg/markov"
	"github.com/CTAG07/Mimicry/pkg/store"
)

// DefaultTTL is how long an idle model stays in memory.
const DefaultTTL = 5 * time.Minute

// ErrClosed is returned by every operation on a closed Pool.
var ErrClosed = errors.New("pool: closed")

// ErrorHandler receives store and decode failures that the pool absorbs
// instead of returning, such as a failed load or a failed timed eviction.
type ErrorHandler func(op string, id markov.Identity, err error)

// Option configures a Pool.
type Option func(*Pool)

// WithTTL sets the sliding eviction deadline. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(p *Pool) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithLogger injects a logger. By default, all logs are discarded.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithScheduler replaces the wall-clock scheduler used for eviction deadlines.
func WithScheduler(s Scheduler) Option {
	return func(p *Pool) {
		if s != nil {
			p.sched = s
		}
	}
}

// WithErrorHandler registers a handler for absorbed failures.
func WithErrorHandler(h ErrorHandler) Option {
	return func(p *Pool) { p.onError = h }
}

// entry associates a pooled model with its eviction deadline. Its lock
// serializes lifecycle operations (load, reset, save, evict, delete), which
// take it exclusively, against model use through Do, which takes it shared.
type entry struct {
	mu    sync.RWMutex
	model *markov.Model
	gone  bool // removed from the pool; guarded by mu and Pool.mu

	// guarded by Pool.mu
	timer Timer
	seq   uint64
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Entries    int    `json:"entries"`
	Loaded     int    `json:"loaded"`
	Dirty      int    `json:"dirty"`
	Loads      uint64 `json:"loads"`
	LoadErrors uint64 `json:"load_errors"`
	Saves      uint64 `json:"saves"`
	SaveErrors uint64 `json:"save_errors"`
	Evictions  uint64 `json:"evictions"`
}

// Pool caches models per identity and flushes them to a store.
type Pool struct {
	store   store.Store
	ttl     time.Duration
	sched   Scheduler
	logger  *slog.Logger
	onError ErrorHandler

	mu      sync.Mutex
	entries map[markov.Identity]*entry
	closed  bool
	expiry  sync.WaitGroup // timed evictions in flight

	loads      atomic.Uint64
	loadErrors atomic.Uint64
	saves      atomic.Uint64
	saveErrors atomic.Uint64
	evictions  atomic.Uint64
}

// New creates an empty pool backed by s.
func New(s store.Store, opts ...Option) *Pool {
	p := &Pool{
		store:   s,
		ttl:     DefaultTTL,
		sched:   wallClock{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		entries: make(map[markov.Identity]*entry),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// TTL returns the configured sliding deadline.
func (p *Pool) TTL() time.Duration { return p.ttl }

// Get returns the pooled model for id, loading it from the store on a miss.
// A missing record leaves the model empty and unloaded. Any other load
// failure does too; it is logged and passed to the error handler but not
// returned, so the only error is ErrClosed.
func (p *Pool) Get(ctx context.Context, id markov.Identity) (*markov.Model, error) {
	var model *markov.Model
	err := p.Do(ctx, id, func(m *markov.Model) error {
		model = m
		return nil
	})
	return model, err
}

// Do runs fn against the pooled model for id, loading it on a miss. The model
// cannot be evicted, reset or deleted while fn runs. Calls to Do for the same
// identity may run concurrently; the model's own locking keeps them consistent.
func (p *Pool) Do(ctx context.Context, id markov.Identity, fn func(*markov.Model) error) error {
	for {
		e, _, err := p.lookup(id, func(e *entry) { p.load(ctx, id, e) })
		if err != nil {
			return err
		}
		e.mu.RLock()
		if e.gone {
			// Evicted between lookup and lock; the next lookup reloads it.
			e.mu.RUnlock()
			continue
		}
		err = fn(e.model)
		e.mu.RUnlock()
		return err
	}
}

// Reset discards whatever the pool or store holds for id and returns an
// empty, loaded model ready to be repopulated. The store is not consulted.
func (p *Pool) Reset(_ context.Context, id markov.Identity) (*markov.Model, error) {
	for {
		e, created, err := p.lookup(id, func(e *entry) { e.model.Reset() })
		if err != nil {
			return nil, err
		}
		if created {
			return e.model, nil
		}
		e.mu.Lock()
		if e.gone {
			e.mu.Unlock()
			continue
		}
		e.model.Reset()
		e.mu.Unlock()
		p.logger.Debug("Model reset", slog.String("identity", id.String()))
		return e.model, nil
	}
}

// Evict cancels the deadline for id, saves the model if it is loaded and
// removes it from the pool. The entry is removed even when the save fails;
// the failure is logged and returned, and not retried.
func (p *Pool) Evict(ctx context.Context, id markov.Identity) error {
	p.mu.Lock()
	e, ok := p.entries[id]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return p.evict(ctx, id, e, 0, false)
}

// Flush saves the model for id without evicting it. It is a no-op for an
// identity that is not pooled or not loaded.
func (p *Pool) Flush(ctx context.Context, id markov.Identity) error {
	p.mu.Lock()
	e, ok := p.entries[id]
	p.mu.Unlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return nil
	}
	return p.save(ctx, id, e)
}

// Delete removes the stored record for id, clears the in-memory model and
// drops it from the pool. The model is cleared even if the store fails, so
// it cannot be written back later.
func (p *Pool) Delete(ctx context.Context, id markov.Identity) error {
	for {
		e, _, err := p.lookup(id, nil)
		if err != nil {
			return err
		}
		e.mu.Lock()
		if e.gone {
			e.mu.Unlock()
			continue
		}

		err = p.store.Delete(ctx, id)
		e.model.Clear()
		p.mu.Lock()
		p.removeLocked(id, e)
		p.mu.Unlock()
		e.mu.Unlock()

		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to delete stored model",
				slog.String("identity", id.String()),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("delete model %s: %w", id, err)
		}
		p.logger.InfoContext(ctx, "Model deleted", slog.String("identity", id.String()))
		return nil
	}
}

// Checkpoint saves every pooled model with unsaved changes. Models stay in
// the pool. Failures are joined into the returned error.
func (p *Pool) Checkpoint(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	snapshot := make(map[markov.Identity]*entry, len(p.entries))
	for id, e := range p.entries {
		snapshot[id] = e
	}
	p.mu.Unlock()

	var errs []error
	var saved int
	for id, e := range snapshot {
		e.mu.Lock()
		if !e.gone && e.model.Dirty() {
			if err := p.save(ctx, id, e); err != nil {
				errs = append(errs, err)
			} else {
				saved++
			}
		}
		e.mu.Unlock()
	}
	p.logger.DebugContext(ctx, "Checkpoint completed",
		slog.Int("pooled", len(snapshot)),
		slog.Int("saved", saved),
		slog.Int("failed", len(errs)),
	)
	return errors.Join(errs...)
}

// Close stops every deadline, saves every loaded model and empties the pool.
// The pool cannot be used afterwards.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.closed = true
	snapshot := p.entries
	p.entries = make(map[markov.Identity]*entry)
	for _, e := range snapshot {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	p.mu.Unlock()

	// A timer may have fired just before the pool was closed.
	p.expiry.Wait()

	var errs []error
	for id, e := range snapshot {
		e.mu.Lock()
		if !e.gone {
			if err := p.save(ctx, id, e); err != nil {
				errs = append(errs, err)
			}
			e.gone = true
		}
		e.mu.Unlock()
	}
	p.logger.InfoContext(ctx, "Model pool closed",
		slog.Int("flushed", len(snapshot)),
		slog.Int("failed", len(errs)),
	)
	return errors.Join(errs...)
}

// Len returns the number of pooled identities.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Identities returns the pooled identities sorted by their string form.
func (p *Pool) Identities() []markov.Identity {
	p.mu.Lock()
	ids := make([]markov.Identity, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	models := make([]*markov.Model, 0, len(p.entries))
	for _, e := range p.entries {
		models = append(models, e.model)
	}
	p.mu.Unlock()

	stats := Stats{
		Entries:    len(models),
		Loads:      p.loads.Load(),
		LoadErrors: p.loadErrors.Load(),
		Saves:      p.saves.Load(),
		SaveErrors: p.saveErrors.Load(),
		Evictions:  p.evictions.Load(),
	}
	for _, m := range models {
		if m.Loaded() {
			stats.Loaded++
		}
		if m.Dirty() {
			stats.Dirty++
		}
	}
	return stats
}

// lookup returns the entry for id and slides its deadline forward. On a miss
// it inserts a new entry and runs init on it before any other caller can lock
// it. The returned entry is unlocked and may be gone by the time the caller
// locks it.
func (p *Pool) lookup(id markov.Identity, init func(*entry)) (*entry, bool, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, false, ErrClosed
	}
	if e, ok := p.entries[id]; ok {
		p.scheduleLocked(id, e)
		p.mu.Unlock()
		return e, false, nil
	}

	model := markov.NewModel(id)
	model.SetLogger(p.logger)
	e := &entry{model: model}
	e.mu.Lock()
	p.entries[id] = e
	p.scheduleLocked(id, e)
	p.mu.Unlock()

	if init != nil {
		init(e)
	}
	e.mu.Unlock()
	return e, true, nil
}

// scheduleLocked replaces the deadline of e with a fresh one. Bumping seq
// invalidates a timer that already fired but has not run expire yet.
func (p *Pool) scheduleLocked(id markov.Identity, e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.seq++
	seq := e.seq
	e.timer = p.sched.AfterFunc(p.ttl, func() { p.expire(id, e, seq) })
}

// expire is the deadline callback. It evicts e unless the deadline was
// refreshed or the pool was closed in the meantime.
func (p *Pool) expire(id markov.Identity, e *entry, seq uint64) {
	p.mu.Lock()
	if p.closed || p.entries[id] != e || e.seq != seq {
		p.mu.Unlock()
		return
	}
	p.expiry.Add(1)
	p.mu.Unlock()
	defer p.expiry.Done()

	if err := p.evict(context.Background(), id, e, seq, true); err != nil {
		p.report("evict", id, err)
	}
}

// evict saves and removes e. A timed eviction backs off if e was accessed
// after its deadline fired, including while it was being saved; an explicit
// one always removes the entry.
func (p *Pool) evict(ctx context.Context, id markov.Identity, e *entry, seq uint64, timed bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return nil
	}

	p.mu.Lock()
	if p.entries[id] != e || (timed && e.seq != seq) {
		p.mu.Unlock()
		return nil
	}
	if !timed && e.timer != nil {
		e.timer.Stop()
	}
	seq = e.seq
	p.mu.Unlock()

	err := p.save(ctx, id, e)

	p.mu.Lock()
	defer p.mu.Unlock()
	if timed && e.seq != seq {
		p.logger.DebugContext(ctx, "Eviction abandoned, model accessed while saving",
			slog.String("identity", id.String()),
		)
		return err
	}
	p.removeLocked(id, e)
	p.evictions.Add(1)
	p.logger.DebugContext(ctx, "Model evicted",
		slog.String("identity", id.String()),
		slog.Bool("timed", timed),
	)
	return err
}

// removeLocked drops e from the pool. Callers hold both e.mu and p.mu.
func (p *Pool) removeLocked(id markov.Identity, e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	if p.entries[id] == e {
		delete(p.entries, id)
	}
	e.gone = true
}

// load populates e from the store. Callers hold e.mu exclusively.
func (p *Pool) load(ctx context.Context, id markov.Identity, e *entry) {
	p.loads.Add(1)
	data, err := p.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			p.logger.DebugContext(ctx, "No stored model, starting unloaded",
				slog.String("identity", id.String()),
			)
			return
		}
		p.loadErrors.Add(1)
		p.logger.ErrorContext(ctx, "Failed to load model",
			slog.String("identity", id.String()),
			slog.String("error", err.Error()),
		)
		p.report("load", id, err)
		return
	}

	if err = e.model.Load(data); err != nil {
		p.loadErrors.Add(1)
		p.logger.ErrorContext(ctx, "Failed to decode stored model",
			slog.String("identity", id.String()),
			slog.String("error", err.Error()),
		)
		p.report("decode", id, err)
		return
	}
	p.logger.DebugContext(ctx, "Model loaded",
		slog.String("identity", id.String()),
		slog.Int("bytes", len(data)),
	)
}

// save writes a loaded model to the store. Callers hold e.mu exclusively.
func (p *Pool) save(ctx context.Context, id markov.Identity, e *entry) error {
	data, version, err := e.model.Snapshot()
	if errors.Is(err, markov.ErrNotLoaded) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("encode model %s: %w", id, err)
	}

	if err = p.store.Save(ctx, id, data); err != nil {
		p.saveErrors.Add(1)
		p.logger.ErrorContext(ctx, "Failed to save model",
			slog.String("identity", id.String()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("save model %s: %w", id, err)
	}
	e.model.MarkSaved(version)
	p.saves.Add(1)
	return nil
}

func (p *Pool) report(op string, id markov.Identity, err error) {
	if p.onError != nil {
		p.onError(op, id, err)
	}
}
