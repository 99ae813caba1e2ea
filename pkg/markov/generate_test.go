package markov

import (
	"errors"
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	m := newTestModel(t, "hello world", "hello there")
	rng := newTestRand()

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		walk, err := m.Generate(WithRand(rng))
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		text := Detokenize(walk)
		if !strings.HasPrefix(text, "hello") {
			t.Fatalf("generated %q, want it to start with 'hello'", text)
		}
		if text != "hello world" && text != "hello there" {
			t.Fatalf("generated %q, want one of the trained messages", text)
		}
		seen[text] = true
	}
	if len(seen) != 2 {
		t.Errorf("expected both continuations over 200 samples, saw %v", seen)
	}
}

func TestGenerateContainment(t *testing.T) {
	m := newTestModel(t,
		"one fish two fish",
		"red fish blue fish",
		"fish fish fish",
		"a / b \\ c",
	)
	table := m.Table()
	rng := newTestRand()

	for i := 0; i < 500; i++ {
		walk, err := m.Generate(WithRand(rng), WithMaxSteps(1000))
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if walk[0] != StartToken || walk[len(walk)-1] != EndToken {
			t.Fatalf("walk %q is not wrapped in markers", walk)
		}
		for j := 0; j < len(walk)-1; j++ {
			d := table.Get(walk[j])
			if d == nil || d.Count(walk[j+1]) <= 0 {
				t.Fatalf("walk contains edge %q -> %q that is not in the table", walk[j], walk[j+1])
			}
		}
	}
}

func TestGenerateEmpty(t *testing.T) {
	unloaded := NewModel(Identity{MemberID: "m", GroupID: "g"})
	if walk, err := unloaded.Generate(); walk != nil || err != nil {
		t.Errorf("unloaded Generate() = %v, %v; want nil, nil", walk, err)
	}

	empty := newTestModel(t)
	if walk, err := empty.Generate(); walk != nil || err != nil {
		t.Errorf("empty Generate() = %v, %v; want nil, nil", walk, err)
	}
}

func TestGenerateStepLimit(t *testing.T) {
	m := newTestModel(t)
	// A table whose only path from the start loops forever.
	m.mu.Lock()
	m.table.increment(StartToken, "loop")
	m.table.increment("loop", "loop")
	m.mu.Unlock()

	walk, err := m.Generate(WithMaxSteps(50))
	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("Generate() error = %v, want ErrStepLimit", err)
	}
	if walk != nil {
		t.Errorf("expected no walk on step limit, got %d tokens", len(walk))
	}
}

func TestChooseNextTokenBoundaries(t *testing.T) {
	d := newDistribution()
	d.add("a", 2)
	d.add("b", 1)
	d.add("c", 3)

	testCases := []struct {
		r        int
		expected string
	}{
		{1, "a"}, {2, "a"}, {3, "b"}, {4, "c"}, {6, "c"},
	}
	for _, tc := range testCases {
		if got := d.pick(tc.r); got != tc.expected {
			t.Errorf("pick(%d) = %q, want %q", tc.r, got, tc.expected)
		}
	}
}

func BenchmarkGenerate(b *testing.B) {
	m := newTestModel(b,
		"the quick brown fox jumps over the lazy dog",
		"the lazy cat sleeps all day",
		"a quick brown dog runs",
	)
	rng := newTestRand()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.Generate(WithRand(rng), WithMaxSteps(1000)); err != nil {
			b.Fatalf("Generate failed: %v", err)
		}
	}
}
