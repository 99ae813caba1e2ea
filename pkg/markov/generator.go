package markov

import (
	"errors"
	"io"
	"log/slog"
	"sync"
)

var (
	// ErrNotLoaded is returned when a model that was never loaded or reset is
	// asked to serialize itself.
	ErrNotLoaded = errors.New("markov: model not loaded")
	// ErrStepLimit is returned by Generate when the walk exceeds the configured
	// maximum number of steps without reaching EndToken.
	ErrStepLimit = errors.New("markov: generation step limit exceeded")
	// ErrInvalidTable is returned when an encoded table violates the weight
	// invariants.
	ErrInvalidTable = errors.New("markov: invalid encoded table")
)

// Model is the prediction model for a single Identity. It owns one Table and
// tracks whether that table may be trained, walked and persisted.
//
// All methods are safe for concurrent use. Mutations take an exclusive lock,
// generation and serialization take a shared one.
type Model struct {
	mu         sync.RWMutex
	id         Identity
	table      *Table
	loaded     bool
	version    uint64
	saved      uint64
	violations int
	logger     *slog.Logger
}

// NewModel returns an empty, unloaded model for id.
func NewModel(id Identity) *Model {
	return &Model{
		id:     id,
		table:  NewTable(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// SetLogger sets the logger for the Model. By default, all logs are discarded.
func (m *Model) SetLogger(logger *slog.Logger) {
	if logger != nil {
		m.mu.Lock()
		m.logger = logger
		m.mu.Unlock()
	}
}

// Identity returns the identity the model belongs to.
func (m *Model) Identity() Identity { return m.id }

// Loaded reports whether the model was loaded from the store or reset.
func (m *Model) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

// Dirty reports whether the model holds changes that were not saved yet.
func (m *Model) Dirty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded && m.version != m.saved
}

// Table returns a copy of the current transition table.
func (m *Model) Table() *Table {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.table.Clone()
}

// Reset discards the table and marks the model loaded, ready to be
// repopulated from history.
func (m *Model) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table = NewTable()
	m.loaded = true
	m.version++
}

// Clear discards the table and marks the model unloaded. A cleared model is
// never persisted again until it is reset.
func (m *Model) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table = NewTable()
	m.loaded = false
	m.version = 0
	m.saved = 0
}

// Load replaces the table with the decoded contents of data and marks the
// model loaded and clean. On error the model is left untouched.
func (m *Model) Load(data []byte) error {
	t, err := DecodeTable(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table = t
	m.loaded = true
	m.version++
	m.saved = m.version
	return nil
}

// Snapshot encodes the table and returns it along with the version it
// reflects. Pass the version to MarkSaved once the bytes are durable.
func (m *Model) Snapshot() ([]byte, uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.loaded {
		return nil, 0, ErrNotLoaded
	}
	data, err := EncodeTable(m.table)
	if err != nil {
		return nil, 0, err
	}
	return data, m.version, nil
}

// MarkSaved records that the snapshot taken at version has been persisted.
// Later mutations keep the model dirty.
func (m *Model) MarkSaved(version uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if version > m.saved {
		m.saved = version
	}
}
