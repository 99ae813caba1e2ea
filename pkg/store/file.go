package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/natefinch/atomic"

	"github.com/CTAG07/Mimicry/pkg/markov"
)

// fileRecord is the on-disk representation of one stored model.
type fileRecord struct {
	MemberID     string    `json:"member_id"`
	GroupID      string    `json:"group_id"`
	EncodedTable string    `json:"encoded_table"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (r fileRecord) identity() markov.Identity {
	return markov.Identity{MemberID: r.MemberID, GroupID: r.GroupID}
}

// FileStore keeps one JSON file per identity below a root directory. Every
// write goes through a temporary file and a rename, so a crash leaves either
// the old or the new record, never a torn one.
type FileStore struct {
	root   string
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewFileStore creates the root directory if needed and returns a store
// rooted there.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("could not create store directory: %w", err)
	}
	return &FileStore{
		root:   root,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil
}

// SetLogger sets the logger for the store. By default, all logs are discarded.
func (s *FileStore) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// maxNameLen bounds a single path element. The atomic writer appends a random
// suffix to the record name for its temporary file, so this stays well below
// the usual 255 byte limit.
const maxNameLen = 200

// path maps an identity to its record file. IDs are base64 encoded so that
// separators and dot segments in them can never escape the root.
func (s *FileStore) path(id markov.Identity) string {
	return filepath.Join(s.root, pathName("g_", id.GroupID, ""), pathName("m_", id.MemberID, ".json"))
}

// pathName encodes one ID as a path element. IDs whose encoding would exceed
// maxNameLen are named by their SHA-256 instead; '~' never occurs in base64url,
// so hashed and encoded names cannot collide. The record keeps the real ID.
func pathName(prefix, id, suffix string) string {
	name := prefix + base64.RawURLEncoding.EncodeToString([]byte(id)) + suffix
	if len(name) <= maxNameLen {
		return name
	}
	sum := sha256.Sum256([]byte(id))
	return prefix + "~" + hex.EncodeToString(sum[:]) + suffix
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context, id markov.Identity) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("could not load model %s: %w", id, err)
	}
	var record fileRecord
	if err = json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("could not parse record for model %s: %w", id, err)
	}
	return []byte(record.EncodedTable), nil
}

// Save implements Store.
func (s *FileStore) Save(ctx context.Context, id markov.Identity, data []byte) error {
	record := fileRecord{
		MemberID:     id.MemberID,
		GroupID:      id.GroupID,
		EncodedTable: string(data),
		UpdatedAt:    time.Now().UTC(),
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("could not encode record for model %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(id)
	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("could not create group directory for model %s: %w", id, err)
	}
	if err = atomic.WriteFile(path, bytes.NewReader(encoded)); err != nil {
		return fmt.Errorf("could not save model %s: %w", id, err)
	}
	s.logger.DebugContext(ctx, "Model saved",
		slog.String("identity", id.String()),
		slog.String("path", path),
		slog.Int("bytes", len(encoded)),
	)
	return nil
}

// Delete implements Store.
func (s *FileStore) Delete(ctx context.Context, id markov.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(id)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("could not delete model %s: %w", id, err)
	}
	s.logger.DebugContext(ctx, "Model deleted", slog.String("identity", id.String()))
	return nil
}

// List returns every identity with a stored record. Identities are read from
// the records themselves since long IDs are hashed in file names.
func (s *FileStore) List(_ context.Context) ([]markov.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []markov.Identity
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var record fileRecord
		if err = json.Unmarshal(data, &record); err != nil || path != s.path(record.identity()) {
			s.logger.Warn("Skipping unrecognized file in store directory", slog.String("path", path))
			return nil
		}
		ids = append(ids, record.identity())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not list store directory: %w", err)
	}
	return ids, nil
}
