package markov

import "testing"

func TestPrune(t *testing.T) {
	m := newTestModel(t, "a b c", "a b d")
	// "a" -> "b" has count 2, "b" -> "c" and "b" -> "d" have count 1.

	removed := m.Prune(1)
	table := m.Table()
	checkInvariants(t, table)

	if table.Get("a").Count("b") != 2 {
		t.Error("expected 'a' -> 'b' to survive pruning")
	}
	if table.Get("b") != nil {
		t.Error("expected 'b' to lose every output and be removed")
	}
	if table.Get("c") != nil || table.Get("d") != nil {
		t.Error("expected 'c' and 'd' to be removed")
	}
	if removed != 4 {
		t.Errorf("removed = %d, want 4", removed)
	}
}

func TestPruneNoop(t *testing.T) {
	m := newTestModel(t, "a b")
	before := m.Table()
	if removed := m.Prune(0); removed != 0 {
		t.Errorf("Prune(0) removed %d transitions", removed)
	}
	if !m.Table().Equal(before) {
		t.Error("Prune(0) changed the table")
	}

	unloaded := NewModel(Identity{})
	if removed := unloaded.Prune(5); removed != 0 {
		t.Errorf("Prune on unloaded model removed %d transitions", removed)
	}
}

func TestStats(t *testing.T) {
	m := newTestModel(t, "hello world", "hello there", "bye")
	stats := m.Stats()

	if !stats.Loaded || !stats.Dirty {
		t.Errorf("expected a loaded, dirty model: %+v", stats)
	}
	if stats.StartingTokens != 2 {
		t.Errorf("StartingTokens = %d, want 2", stats.StartingTokens)
	}
	// "/", "hello", "world", "there", "bye"
	if stats.Inputs != 5 {
		t.Errorf("Inputs = %d, want 5", stats.Inputs)
	}
	// 3 + 3 + 2 transitions
	if stats.TotalWeight != 8 {
		t.Errorf("TotalWeight = %d, want 8", stats.TotalWeight)
	}
	// /->hello, /->bye, hello->world, hello->there, world->\, there->\, bye->\
	if stats.Edges != 7 {
		t.Errorf("Edges = %d, want 7", stats.Edges)
	}
}
