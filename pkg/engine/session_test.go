package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestIndexSession_RebuildsModel(t *testing.T) {
	ctx := context.Background()
	e, _ := setupTestEngine(t)
	indexHistory(t, e, alice, "stale history", "to be replaced")

	indexHistory(t, e, alice, "a b", "a c")

	table := modelTable(t, e, alice)
	d := table.Get("a")
	if d == nil || d.Total() != 2 || d.Count("b") != 1 || d.Count("c") != 1 {
		t.Fatalf("input %q does not have outputs {b:1, c:1}", "a")
	}
	if table.Get("stale") != nil {
		t.Error("indexing kept transitions from before the reset")
	}

	for i := 0; i < 100; i++ {
		text, err := e.GenerateText(ctx, alice)
		if err != nil {
			t.Fatalf("GenerateText() failed: %v", err)
		}
		if text != "a b" && text != "a c" {
			t.Fatalf("GenerateText() = %q, want %q or %q", text, "a b", "a c")
		}
	}
}

func TestIndexSession_EmptyHistory(t *testing.T) {
	ctx := context.Background()
	e, fs := setupTestEngine(t)
	indexHistory(t, e, alice, "old message")

	indexHistory(t, e, alice)

	stats, _ := e.Stats(ctx, alice)
	if !stats.Loaded || stats.Inputs != 0 {
		t.Errorf("Stats() = %+v, want an empty loaded model", stats)
	}
	if _, err := fs.Load(ctx, alice); err != nil {
		t.Errorf("empty indexed model was not stored: %v", err)
	}
}

func TestIndexSession_QueuesLiveTraffic(t *testing.T) {
	ctx := context.Background()
	e, _ := setupTestEngine(t)
	indexHistory(t, e, alice, "x y")

	s := e.StartIndexing(ctx, alice)
	if err := s.Feed(ctx, "a b"); err != nil {
		t.Fatalf("Feed() failed: %v", err)
	}
	if err := e.Ingest(ctx, alice, "live message"); err != nil {
		t.Fatalf("Ingest() failed: %v", err)
	}
	if err := e.Retract(ctx, alice, "a b"); err != nil {
		t.Fatalf("Retract() failed: %v", err)
	}

	if info := s.Info(); info.Fed != 1 || info.Queued != 2 {
		t.Errorf("Info() = %+v, want 1 fed and 2 queued", info)
	}
	if modelTable(t, e, alice).Get("live") != nil {
		t.Error("live message was applied before the backfill finished")
	}

	if err := s.Finish(ctx); err != nil {
		t.Fatalf("Finish() failed: %v", err)
	}
	table := modelTable(t, e, alice)
	if table.Get("live") == nil {
		t.Error("queued Ingest() was not replayed")
	}
	if table.Get("a") != nil {
		t.Error("queued Retract() was not replayed")
	}

	if err := e.Ingest(ctx, alice, "after finish"); err != nil {
		t.Fatalf("Ingest() failed: %v", err)
	}
	if modelTable(t, e, alice).Get("after") == nil {
		t.Error("Ingest() after Finish() was not applied directly")
	}
}

func TestIndexSession_Lifecycle(t *testing.T) {
	ctx := context.Background()
	e, _ := setupTestEngine(t)

	s := e.StartIndexing(ctx, alice)
	if s.ID == "" {
		t.Fatal("session has no ID")
	}
	if again := e.StartIndexing(ctx, alice); again != s {
		t.Error("StartIndexing() for a running identity opened a second session")
	}
	other := e.StartIndexing(ctx, bob)
	if other == s {
		t.Error("StartIndexing() shared a session across identities")
	}

	if got, err := e.Session(s.ID); err != nil || got != s {
		t.Errorf("Session() = %v, %v, want the running session", got, err)
	}
	if infos := e.Sessions(); len(infos) != 2 {
		t.Errorf("Sessions() returned %d sessions, want 2", len(infos))
	}

	if err := s.Finish(ctx); err != nil {
		t.Fatalf("Finish() failed: %v", err)
	}
	if err := s.Finish(ctx); !errors.Is(err, ErrSessionFinished) {
		t.Errorf("second Finish() error = %v, want ErrSessionFinished", err)
	}
	if err := s.Feed(ctx, "late"); !errors.Is(err, ErrSessionFinished) {
		t.Errorf("Feed() after Finish() error = %v, want ErrSessionFinished", err)
	}
	if _, err := e.Session(s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Session() for a finished session error = %v, want ErrSessionNotFound", err)
	}
	if next := e.StartIndexing(ctx, alice); next == s {
		t.Error("StartIndexing() after Finish() reused the finished session")
	}
}

func TestIndexSession_AbortedByClear(t *testing.T) {
	ctx := context.Background()
	e, _ := setupTestEngine(t)

	s := e.StartIndexing(ctx, alice)
	if err := s.Feed(ctx, "half done"); err != nil {
		t.Fatalf("Feed() failed: %v", err)
	}
	if err := e.Ingest(ctx, alice, "queued"); err != nil {
		t.Fatalf("Ingest() failed: %v", err)
	}

	if err := e.Clear(ctx, alice); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}
	if err := s.Finish(ctx); !errors.Is(err, ErrSessionFinished) {
		t.Errorf("Finish() after Clear() error = %v, want ErrSessionFinished", err)
	}
	stats, _ := e.Stats(ctx, alice)
	if stats.Loaded || stats.Inputs != 0 {
		t.Errorf("Stats() after Clear() = %+v, want an empty unloaded model", stats)
	}
}

func TestIndexSession_ConcurrentFeed(t *testing.T) {
	ctx := context.Background()
	e, _ := setupTestEngine(t)
	s := e.StartIndexing(ctx, alice)

	const feeders = 8
	var wg sync.WaitGroup
	for i := 0; i < feeders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Feed(ctx, fmt.Sprintf("message %d", i)); err != nil {
				t.Errorf("Feed() failed: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if err := s.Finish(ctx); err != nil {
		t.Fatalf("Finish() failed: %v", err)
	}

	d := modelTable(t, e, alice).Get("message")
	if d == nil || d.Total() != feeders {
		t.Errorf("model holds %v messages, want %d", d, feeders)
	}
}
