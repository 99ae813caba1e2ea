package markov

import "log/slog"

// Prune removes every transition observed minFreq times or fewer. Inputs left
// without outputs are removed with them. Pruning is not reversible through
// RemoveSequence. It returns the number of transitions removed.
func (m *Model) Prune(minFreq int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded || minFreq <= 0 {
		return 0
	}

	var removed int
	for in, d := range m.table.dists {
		for _, out := range d.Outputs() {
			if c := d.counts[out]; c <= minFreq {
				d.total -= c
				d.drop(out)
				removed++
			}
		}
		if d.total <= 0 {
			delete(m.table.dists, in)
		}
	}

	if removed > 0 {
		m.version++
	}
	m.logger.Info("Model pruned",
		slog.String("identity", m.id.String()),
		slog.Int("min_frequency", minFreq),
		slog.Int("transitions_removed", removed),
	)
	return removed
}
