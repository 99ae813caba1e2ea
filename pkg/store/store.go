// Package store provides durable storage for encoded prediction models, one
// record per identity.
package store

import (
	"context"
	"errors"

	"github.com/CTAG07/Mimicry/pkg/markov"
)

// ErrNotFound is returned by Load when no record exists for an identity.
var ErrNotFound = errors.New("store: record not found")

// Store is the load/save/delete contract the model pool depends on.
// Implementations must be safe for concurrent use.
type Store interface {
	// Load returns the encoded table stored for id, or ErrNotFound.
	Load(ctx context.Context, id markov.Identity) ([]byte, error)
	// Save inserts or overwrites the record for id.
	Save(ctx context.Context, id markov.Identity, data []byte) error
	// Delete removes the record for id. Deleting a missing record is not an error.
	Delete(ctx context.Context, id markov.Identity) error
}
