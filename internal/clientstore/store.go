// Package clientstore persists per-client records: counters, timestamps,
// metadata and the level held before an admin grant.
//
// The trust level itself is owned by the list store; the copy kept here is
// refreshed on every transition and is informational (history summaries,
// the pre-admin level on revoke).
package clientstore

import (
	"context"
	"errors"
	"time"

	"github.com/ppiankov/trustgate/internal/model"
)

// ErrNotFound is returned by RecordOutcome for an identity never touched.
var ErrNotFound = errors.New("clientstore: client not found")

// Store is implemented by SQLiteStore and MemoryStore.
type Store interface {
	// Get returns the record for id and whether it exists.
	Get(ctx context.Context, id model.ClientIdentity) (model.ClientRecord, bool, error)

	// Put creates or replaces a record.
	Put(ctx context.Context, rec model.ClientRecord) error

	// Touch loads the record for id, creating a Stranger record on first
	// sighting, counts one request and sets LastSeen. The returned record
	// reflects the increment.
	Touch(ctx context.Context, id model.ClientIdentity, now time.Time) (model.ClientRecord, error)

	// UpdateLevel sets Level and PreAdminLevel for id, creating the record
	// if needed, and leaves counters and timestamps alone.
	UpdateLevel(ctx context.Context, id model.ClientIdentity, level, preAdmin model.TrustLevel, now time.Time) (model.ClientRecord, error)

	// RecordOutcome counts a success (allowed) or a failure (denied).
	RecordOutcome(ctx context.Context, id model.ClientIdentity, allowed bool, at time.Time) (model.ClientRecord, error)

	// List returns all records ordered by identity.
	List(ctx context.Context) ([]model.ClientRecord, error)

	Close() error
}
