package markov

import (
	"math/rand/v2"
	"testing"
)

// newTestModel returns a reset model for a fixed identity, trained with the
// given messages.
func newTestModel(t testing.TB, messages ...string) *Model {
	t.Helper()
	m := NewModel(Identity{MemberID: "member", GroupID: "group"})
	m.Reset()
	for _, msg := range messages {
		m.AddSequence(Tokenize(msg))
	}
	return m
}

// newTestRand returns a deterministic random source.
func newTestRand() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

// checkInvariants fails the test if any distribution's total differs from the
// sum of its counts, holds a non-positive count, or is empty.
func checkInvariants(t *testing.T, table *Table) {
	t.Helper()
	for _, in := range table.Inputs() {
		d := table.Get(in)
		if d.Len() == 0 {
			t.Errorf("input %q has an empty distribution", in)
		}
		var sum int
		for _, out := range d.Outputs() {
			c := d.Count(out)
			if c <= 0 {
				t.Errorf("%q -> %q has non-positive count %d", in, out, c)
			}
			sum += c
		}
		if sum != d.Total() {
			t.Errorf("input %q total = %d, sum of counts = %d", in, d.Total(), sum)
		}
	}
}
