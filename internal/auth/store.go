package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the session core.
// Storage technology is not prescribed; implementations exist for
// PostgreSQL and for process memory (tests, DSN-less dev runs).
type Store interface {
	Principals(ctx context.Context) PrincipalStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
	Revocations(ctx context.Context) RevocationStore
}

// PrincipalStore manages principal records.
type PrincipalStore interface {
	Create(ctx context.Context, p *Principal) error
	Find(ctx context.Context, id int64) (*Principal, error)
	// FindByCredentialHash resolves the principal owning a presented
	// credential. The hash is unique; no row maps to ErrNotFound.
	FindByCredentialHash(ctx context.Context, hash string) (*Principal, error)
	UpdateCredentialHash(ctx context.Context, id int64, hash string) error
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
}

// RefreshTokenStore manages refresh-token records. Rotation is the critical
// section: implementations must guarantee that two concurrent Rotate calls
// for the same record cannot both succeed.
type RefreshTokenStore interface {
	Create(ctx context.Context, rec *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)

	// Rotate atomically revokes the record (reason "rotated", ReplacedBy set
	// to the successor id) and inserts the successor bound to the same
	// principal. The presented secret hash is compared inside the same
	// critical section. On success the successor's PrincipalID is filled in.
	//
	// Errors: ErrNotFound (unknown id or hash mismatch), ErrExpired,
	// *ReuseError (already rotated), ErrAlreadyRevoked (revoked without a
	// successor).
	Rotate(ctx context.Context, id, presentedHash string, successor *RefreshToken, at time.Time) error

	// MarkRevoked is idempotent; revoking a revoked record is a no-op.
	MarkRevoked(ctx context.Context, id string, at time.Time, reason string) error
	MarkRevokedByPrincipal(ctx context.Context, principalID int64, at time.Time, reason string) error

	// TouchLastUsed is best-effort and not required for correctness.
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// RevocationStore tracks blacklisted access-token jtis. Contains must
// observe any Add that completed before it started: the check gates every
// authenticated request and cannot tolerate an eventual-consistency window.
type RevocationStore interface {
	// Add is idempotent; inserting a known jti overwrites, never errors.
	Add(ctx context.Context, entry *RevocationEntry) error
	Contains(ctx context.Context, jti string) (bool, error)
	// Prune removes entries whose expiry has passed. It never removes an
	// entry that is still in the future and is safe to run concurrently
	// with lookups.
	Prune(ctx context.Context, before time.Time) (int, error)
}
