// Package decisioncache memoizes recent decisions per client identity.
//
// Only decisions marked Cacheable are stored. Expired entries read as misses.
// Invalidate must be called after every trust-level change for that identity;
// Purge after a policy reload.
package decisioncache

import (
	"context"
	"time"

	"github.com/ppiankov/trustgate/internal/model"
)

// Cache is implemented by Memory and Redis.
type Cache interface {
	// Get returns the cached decision for id, if present and unexpired.
	Get(ctx context.Context, id model.ClientIdentity) (model.Decision, bool, error)

	// Put stores d for ttl. Non-cacheable decisions and ttl <= 0 are ignored.
	Put(ctx context.Context, id model.ClientIdentity, d model.Decision, ttl time.Duration) error

	Invalidate(ctx context.Context, id model.ClientIdentity) error

	// Purge drops every entry.
	Purge(ctx context.Context) error
}

// stamp returns d with ExpiresAt set, keeping an earlier expiry if d has one.
func stamp(d model.Decision, now time.Time, ttl time.Duration) model.Decision {
	exp := now.Add(ttl).UTC()
	if d.ExpiresAt == nil || d.ExpiresAt.After(exp) {
		d.ExpiresAt = &exp
	}
	return d
}
