package markov

import "log/slog"

// AddSequence records every adjacent (input, output) pair of tokens. It is a
// no-op on an unloaded model or a sequence shorter than two tokens.
func (m *Model) AddSequence(tokens []string) {
	if len(tokens) < 2 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded {
		return
	}
	for i := 0; i < len(tokens)-1; i++ {
		m.table.increment(tokens[i], tokens[i+1])
	}
	m.version++
}

// RemoveSequence is the inverse of AddSequence: applying both with the same
// tokens leaves the table exactly as it was. Pairs that are not in the table
// cannot be removed without breaking the weight invariants, so they are
// skipped and counted. The number of skipped pairs is returned.
func (m *Model) RemoveSequence(tokens []string) int {
	if len(tokens) < 2 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded {
		return 0
	}
	var violations int
	for i := 0; i < len(tokens)-1; i++ {
		if !m.table.decrement(tokens[i], tokens[i+1]) {
			violations++
		}
	}
	m.version++
	if violations > 0 {
		m.violations += violations
		m.logger.Warn("Removed sequence contained unknown transitions",
			slog.String("identity", m.id.String()),
			slog.Int("violations", violations),
			slog.Int("sequence_length", len(tokens)),
		)
	}
	return violations
}
