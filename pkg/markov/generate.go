package markov

import (
	"log/slog"
	"math/rand/v2"
)

// generateOptions Is used by Generate to configure default options.
type generateOptions struct {
	maxSteps int
	rng      *rand.Rand
}

// GenerateOption is a function that configures generation parameters.
type GenerateOption func(*generateOptions)

// WithMaxSteps bounds the number of tokens a walk may produce before it is
// abandoned with ErrStepLimit. A value of 0 or less leaves the walk unbounded,
// in which case a table whose reachable cycles never lead to EndToken makes
// Generate loop forever.
func WithMaxSteps(n int) GenerateOption {
	return func(o *generateOptions) { o.maxSteps = n }
}

// WithRand sets the random source used for token selection. A *rand.Rand is
// not safe for concurrent use, so callers sharing one across goroutines must
// serialize their calls. By default the global source is used.
func WithRand(r *rand.Rand) GenerateOption {
	return func(o *generateOptions) { o.rng = r }
}

// Generate performs a weighted random walk from StartToken until EndToken is
// reached. The returned sequence includes both markers, so every adjacent pair
// in it is an edge of the table. It returns nil when the model is unloaded or
// has never seen a message.
func (m *Model) Generate(opts ...GenerateOption) ([]string, error) {
	options := &generateOptions{}
	for _, opt := range opts {
		opt(options)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.loaded || m.table.Get(StartToken) == nil {
		return nil, nil
	}

	walk := []string{StartToken}
	current := StartToken
	for current != EndToken {
		if options.maxSteps > 0 && len(walk) > options.maxSteps {
			m.logger.Debug("Generation abandoned at step limit",
				slog.String("identity", m.id.String()),
				slog.Int("max_steps", options.maxSteps),
			)
			return nil, ErrStepLimit
		}
		d := m.table.Get(current)
		if d == nil {
			// Only reachable through a corrupted table: every output but
			// EndToken is itself an input.
			walk = append(walk, EndToken)
			break
		}
		current = chooseNextToken(d, options.rng)
		walk = append(walk, current)
	}
	return walk, nil
}

// chooseNextToken draws r uniformly from [1, total] and picks the output that
// r falls on when walking the distribution in insertion order.
func chooseNextToken(d *Distribution, rng *rand.Rand) string {
	var r int
	if rng != nil {
		r = 1 + rng.IntN(d.total)
	} else {
		r = 1 + rand.IntN(d.total)
	}
	return d.pick(r)
}
