package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/CTAG07/Mimicry/pkg/markov"
	"github.com/CTAG07/Mimicry/pkg/pool"
	"github.com/CTAG07/Mimicry/pkg/store"
)

func TestEngine_GenerateStaysOnTrainedEdges(t *testing.T) {
	ctx := context.Background()
	e, _ := setupTestEngine(t)
	indexHistory(t, e, alice)

	for _, msg := range []string{"hello world", "hello there"} {
		if err := e.Ingest(ctx, alice, msg); err != nil {
			t.Fatalf("Ingest(%q) failed: %v", msg, err)
		}
	}

	for i := 0; i < 200; i++ {
		text, err := e.GenerateText(ctx, alice)
		if err != nil {
			t.Fatalf("GenerateText() failed: %v", err)
		}
		if text != "hello world" && text != "hello there" {
			t.Fatalf("GenerateText() = %q, want %q or %q", text, "hello world", "hello there")
		}
	}
}

func TestEngine_IngestBlankIsNoop(t *testing.T) {
	ctx := context.Background()
	e, _ := setupTestEngine(t)

	t.Run("loaded model", func(t *testing.T) {
		indexHistory(t, e, alice, "some history")
		before := modelTable(t, e, alice)

		for _, blank := range []string{"", "   ", "\n\t"} {
			if err := e.Ingest(ctx, alice, blank); err != nil {
				t.Fatalf("Ingest(%q) failed: %v", blank, err)
			}
		}
		if !modelTable(t, e, alice).Equal(before) {
			t.Error("blank Ingest() changed the table")
		}
	})

	t.Run("unloaded model", func(t *testing.T) {
		if err := e.Ingest(ctx, bob, ""); err != nil {
			t.Fatalf("Ingest() failed: %v", err)
		}
		stats, _ := e.Stats(ctx, bob)
		if stats.Loaded {
			t.Error("blank Ingest() loaded the model")
		}
	})
}

func TestEngine_UnknownIdentity(t *testing.T) {
	ctx := context.Background()
	e, _ := setupTestEngine(t)

	if err := e.Ingest(ctx, alice, "never indexed"); err != nil {
		t.Fatalf("Ingest() failed: %v", err)
	}
	text, err := e.GenerateText(ctx, alice)
	if err != nil {
		t.Fatalf("GenerateText() failed: %v", err)
	}
	if text != "" {
		t.Errorf("GenerateText() = %q for a model with no history, want empty", text)
	}
	stats, _ := e.Stats(ctx, alice)
	if stats.Loaded || stats.Inputs != 0 {
		t.Errorf("Stats() = %+v, want an empty unloaded model", stats)
	}
}

func TestEngine_RetractAndEdit(t *testing.T) {
	ctx := context.Background()
	e, _ := setupTestEngine(t)
	indexHistory(t, e, alice, "good morning")
	base := modelTable(t, e, alice)

	if err := e.Ingest(ctx, alice, "good night"); err != nil {
		t.Fatalf("Ingest() failed: %v", err)
	}
	if err := e.Retract(ctx, alice, "good night"); err != nil {
		t.Fatalf("Retract() failed: %v", err)
	}
	if !modelTable(t, e, alice).Equal(base) {
		t.Error("Retract() did not undo Ingest()")
	}

	if err := e.Ingest(ctx, alice, "see you"); err != nil {
		t.Fatalf("Ingest() failed: %v", err)
	}
	if err := e.Edit(ctx, alice, "see you", "see you soon"); err != nil {
		t.Fatalf("Edit() failed: %v", err)
	}
	table := modelTable(t, e, alice)
	if d := table.Get("you"); d == nil || d.Count("soon") != 1 || d.Count(markov.EndToken) != 0 {
		t.Error("Edit() did not replace the old transitions with the new ones")
	}

	if err := e.Retract(ctx, alice, "never said this"); err != nil {
		t.Fatalf("Retract() of an unknown message failed: %v", err)
	}
	stats, _ := e.Stats(ctx, alice)
	if stats.Violations == 0 {
		t.Error("retracting an unknown message recorded no violations")
	}
}

func TestEngine_StepLimit(t *testing.T) {
	ctx := context.Background()
	e, _ := setupTestEngine(t, WithMaxSteps(3))
	indexHistory(t, e, alice, "one two three four five six")

	text, err := e.GenerateText(ctx, alice)
	if err != nil {
		t.Fatalf("GenerateText() failed: %v", err)
	}
	if text != "" {
		t.Errorf("GenerateText() = %q past the step limit, want empty", text)
	}
}

func TestEngine_ClearThenGet(t *testing.T) {
	ctx := context.Background()
	e, fs := setupTestEngine(t)
	indexHistory(t, e, alice, "remember me")

	if _, err := fs.Load(ctx, alice); err != nil {
		t.Fatalf("indexed model was not stored: %v", err)
	}

	if err := e.Clear(ctx, alice); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}
	if _, err := fs.Load(ctx, alice); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("store Load() after Clear() error = %v, want ErrNotFound", err)
	}
	stats, _ := e.Stats(ctx, alice)
	if stats.Loaded || stats.Inputs != 0 {
		t.Errorf("Stats() after Clear() = %+v, want an empty unloaded model", stats)
	}
}

func TestEngine_Prune(t *testing.T) {
	ctx := context.Background()
	e, _ := setupTestEngine(t)
	indexHistory(t, e, alice, "a b", "a b", "a c")

	removed, err := e.Prune(ctx, alice, 1)
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if removed == 0 {
		t.Fatal("Prune() removed nothing")
	}
	d := modelTable(t, e, alice).Get("a")
	if d == nil || d.Count("c") != 0 || d.Count("b") != 2 {
		t.Error("Prune() did not drop the rare transition only")
	}
}

func TestEngine_CloseFlushes(t *testing.T) {
	ctx := context.Background()
	fs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() failed: %v", err)
	}
	e := New(pool.New(fs))
	indexHistory(t, e, alice)
	if err := e.Ingest(ctx, alice, "unsaved message"); err != nil {
		t.Fatalf("Ingest() failed: %v", err)
	}

	if err := e.Close(ctx); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	data, err := fs.Load(ctx, alice)
	if err != nil {
		t.Fatalf("store Load() after Close() failed: %v", err)
	}
	if !strings.Contains(string(data), "unsaved") {
		t.Error("Close() did not flush the latest message")
	}

	if _, err := e.GenerateText(ctx, alice); !errors.Is(err, pool.ErrClosed) {
		t.Errorf("GenerateText() after Close() error = %v, want pool.ErrClosed", err)
	}
}
