package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/CTAG07/Mimicry/pkg/markov"
)

// SetupSchema initializes the model table in the provided database. It is
// idempotent and safe to call on an already-initialized database.
func SetupSchema(db *sql.DB) error {
	const schemaModels = `
CREATE TABLE IF NOT EXISTS mimicry_models (
    member_id     TEXT NOT NULL,
    group_id      TEXT NOT NULL,
    encoded_table TEXT NOT NULL,
    updated_at    DATETIME NOT NULL,
    PRIMARY KEY (member_id, group_id)
);
`
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.Exec(schemaModels); err != nil {
		return fmt.Errorf("could not create schema: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

// SQLStore keeps encoded models in a SQL database, one row per identity.
// It expects SetupSchema to have been run on the database.
type SQLStore struct {
	db         *sql.DB
	stmtLoad   *sql.Stmt
	stmtSave   *sql.Stmt
	stmtDelete *sql.Stmt
	stmtList   *sql.Stmt
	logger     *slog.Logger
}

// NewSQLStore prepares every statement the store needs, returning an error if
// any preparation fails.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	stmtLoad, err := db.Prepare(`SELECT encoded_table FROM mimicry_models WHERE member_id = ? AND group_id = ?;`)
	if err != nil {
		return nil, err
	}

	stmtSave, err := db.Prepare(`INSERT INTO mimicry_models (member_id, group_id, encoded_table, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(member_id, group_id) DO UPDATE SET encoded_table = excluded.encoded_table, updated_at = excluded.updated_at;`)
	if err != nil {
		_ = stmtLoad.Close()
		return nil, err
	}

	stmtDelete, err := db.Prepare(`DELETE FROM mimicry_models WHERE member_id = ? AND group_id = ?;`)
	if err != nil {
		_ = stmtLoad.Close()
		_ = stmtSave.Close()
		return nil, err
	}

	stmtList, err := db.Prepare(`SELECT member_id, group_id FROM mimicry_models ORDER BY group_id, member_id;`)
	if err != nil {
		_ = stmtLoad.Close()
		_ = stmtSave.Close()
		_ = stmtDelete.Close()
		return nil, err
	}

	return &SQLStore{
		db:         db,
		stmtLoad:   stmtLoad,
		stmtSave:   stmtSave,
		stmtDelete: stmtDelete,
		stmtList:   stmtList,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil
}

// SetLogger sets the logger for the store. By default, all logs are discarded.
func (s *SQLStore) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Close releases the prepared statements. The database itself is left open.
func (s *SQLStore) Close() {
	_ = s.stmtLoad.Close()
	_ = s.stmtSave.Close()
	_ = s.stmtDelete.Close()
	_ = s.stmtList.Close()
}

// Load implements Store.
func (s *SQLStore) Load(ctx context.Context, id markov.Identity) ([]byte, error) {
	var encoded string
	err := s.stmtLoad.QueryRowContext(ctx, id.MemberID, id.GroupID).Scan(&encoded)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("could not load model %s: %w", id, err)
	}
	return []byte(encoded), nil
}

// Save implements Store.
func (s *SQLStore) Save(ctx context.Context, id markov.Identity, data []byte) error {
	if _, err := s.stmtSave.ExecContext(ctx, id.MemberID, id.GroupID, string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("could not save model %s: %w", id, err)
	}
	s.logger.DebugContext(ctx, "Model saved",
		slog.String("identity", id.String()),
		slog.Int("bytes", len(data)),
	)
	return nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, id markov.Identity) error {
	res, err := s.stmtDelete.ExecContext(ctx, id.MemberID, id.GroupID)
	if err != nil {
		return fmt.Errorf("could not delete model %s: %w", id, err)
	}
	rowsAffected, _ := res.RowsAffected()
	s.logger.DebugContext(ctx, "Model deleted",
		slog.String("identity", id.String()),
		slog.Int64("rows_removed", rowsAffected),
	)
	return nil
}

// List returns every identity with a stored record.
func (s *SQLStore) List(ctx context.Context) ([]markov.Identity, error) {
	rows, err := s.stmtList.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var ids []markov.Identity
	for rows.Next() {
		var id markov.Identity
		if err = rows.Scan(&id.MemberID, &id.GroupID); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
