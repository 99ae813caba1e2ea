package markov

// ModelStats holds aggregated statistics for a single model.
type ModelStats struct {
	Loaded         bool `json:"loaded"`
	Dirty          bool `json:"dirty"`
	Inputs         int  `json:"inputs"`          // The number of distinct input tokens.
	Edges          int  `json:"edges"`           // The number of unique input->output links.
	TotalWeight    int  `json:"total_weight"`    // The number of trained transitions.
	StartingTokens int  `json:"starting_tokens"` // The number of distinct tokens that can open a message.
	Violations     int  `json:"violations"`      // Unknown transitions seen by RemoveSequence.
}

// Stats returns a snapshot of statistics for the model.
func (m *Model) Stats() ModelStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := ModelStats{
		Loaded:      m.loaded,
		Dirty:       m.loaded && m.version != m.saved,
		Inputs:      m.table.Len(),
		Edges:       m.table.Edges(),
		TotalWeight: m.table.TotalWeight(),
		Violations:  m.violations,
	}
	if d := m.table.Get(StartToken); d != nil {
		stats.StartingTokens = d.Len()
	}
	return stats
}
