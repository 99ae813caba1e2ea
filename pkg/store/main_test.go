package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/CTAG07/Mimicry/pkg/markov"
	_ "modernc.org/sqlite"
)

// setupTestDB creates a new SQLite database in a temp dir and an SQLStore on top of it.
// It uses t.Cleanup to ensure resources are released.
func setupTestDB(t *testing.T) (*sql.DB, *SQLStore) {
	dbFile := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", dbFile+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := SetupSchema(db); err != nil {
		t.Fatalf("failed to set up schema: %v", err)
	}

	s, err := NewSQLStore(db)
	if err != nil {
		t.Fatalf("NewSQLStore() error = %v", err)
	}
	t.Cleanup(s.Close)

	return db, s
}

// testStoreContract exercises the load/save/delete contract shared by every Store.
func testStoreContract(t *testing.T, s Store) {
	ctx := context.Background()
	x := markov.Identity{MemberID: "x", GroupID: "g1"}
	y := markov.Identity{MemberID: "x", GroupID: "g2"}

	if _, err := s.Load(ctx, x); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() on empty store error = %v, want ErrNotFound", err)
	}

	if err := s.Save(ctx, x, []byte(`first`)); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if err := s.Save(ctx, y, []byte(`other`)); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if err := s.Save(ctx, x, []byte(`second`)); err != nil {
		t.Fatalf("Save() overwrite failed: %v", err)
	}

	data, err := s.Load(ctx, x)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("Load() = %q, want the overwritten record", data)
	}
	data, _ = s.Load(ctx, y)
	if string(data) != "other" {
		t.Errorf("Load() for a different group = %q, want %q", data, "other")
	}

	if err := s.Delete(ctx, x); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := s.Load(ctx, x); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() after Delete() error = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, x); err != nil {
		t.Errorf("Delete() of a missing record failed: %v", err)
	}
	if _, err := s.Load(ctx, y); err != nil {
		t.Errorf("Delete() removed an unrelated record: %v", err)
	}
}
