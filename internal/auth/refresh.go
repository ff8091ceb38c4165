package auth

import (
	"context"
	"errors"
	"time"

	"posehub.org/internal/ids"
)

const (
	defaultRefreshTTL   = 24 * time.Hour * 14
	defaultSecretBytes  = 32
	maxRefreshTokenSize = 4096
)

// RefreshManager implements the refresh-token lifecycle on top of a Store:
// issuing raw secrets, rotating them on use, and revoking them on logout or
// security events. Raw secrets exist in memory only; the store sees hashes.
type RefreshManager struct {
	store       Store
	ttl         time.Duration
	secretBytes int
	now         func() time.Time
}

// NewRefreshManager constructs a manager issuing tokens valid for ttl.
// Non-positive ttl falls back to the 14-day default.
func NewRefreshManager(store Store, ttl time.Duration) *RefreshManager {
	if ttl <= 0 {
		ttl = defaultRefreshTTL
	}
	return &RefreshManager{
		store:       store,
		ttl:         ttl,
		secretBytes: defaultSecretBytes,
		now:         time.Now,
	}
}

// Create mints a refresh token for the principal and persists its hash.
// The returned raw string is the only copy of the secret; it cannot be
// retrieved again.
func (m *RefreshManager) Create(ctx context.Context, principalID int64, dev DeviceInfo) (string, *RefreshToken, error) {
	secret, err := newOpaqueSecret(m.secretBytes)
	if err != nil {
		return "", nil, err
	}
	now := m.now().UTC()
	rec := &RefreshToken{
		ID:          ids.New(),
		PrincipalID: principalID,
		SecretHash:  hashSecretHex(secret),
		UserAgent:   dev.UserAgent,
		IP:          dev.IP,
		ExpiresAt:   now.Add(m.ttl),
		CreatedAt:   now,
	}
	if err := m.store.RefreshTokens(ctx).Create(ctx, rec); err != nil {
		return "", nil, err
	}
	return joinRefreshToken(rec.ID, secret), rec, nil
}

// Rotate exchanges a presented raw token for a successor. The predecessor is
// revoked atomically with the successor's creation; replay of an
// already-rotated token surfaces as *ReuseError so callers can contain the
// breach.
func (m *RefreshManager) Rotate(ctx context.Context, raw string, dev DeviceInfo) (string, *RefreshToken, error) {
	if len(raw) > maxRefreshTokenSize {
		return "", nil, ErrNotFound
	}
	id, secret, err := splitRefreshToken(raw)
	if err != nil {
		return "", nil, ErrNotFound
	}

	newSecret, err := newOpaqueSecret(m.secretBytes)
	if err != nil {
		return "", nil, err
	}
	now := m.now().UTC()
	successor := &RefreshToken{
		ID:         ids.New(),
		SecretHash: hashSecretHex(newSecret),
		UserAgent:  dev.UserAgent,
		IP:         dev.IP,
		ExpiresAt:  now.Add(m.ttl),
		CreatedAt:  now,
	}

	if err := m.store.RefreshTokens(ctx).Rotate(ctx, id, hashSecretHex(secret), successor, now); err != nil {
		return "", nil, err
	}
	return joinRefreshToken(successor.ID, newSecret), successor, nil
}

// Revoke marks the record matching the raw token revoked. Unknown tokens
// and already-revoked records are not errors: revocation is idempotent.
func (m *RefreshManager) Revoke(ctx context.Context, raw, reason string) error {
	id, secret, err := splitRefreshToken(raw)
	if err != nil {
		return nil
	}
	rec, err := m.store.RefreshTokens(ctx).Find(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if !secureCompareHash(rec.SecretHash, secret) {
		return nil
	}
	return m.store.RefreshTokens(ctx).MarkRevoked(ctx, rec.ID, m.now().UTC(), reason)
}

// RevokeAllForPrincipal revokes every active refresh token of a principal.
func (m *RefreshManager) RevokeAllForPrincipal(ctx context.Context, principalID int64, reason string) error {
	return m.store.RefreshTokens(ctx).MarkRevokedByPrincipal(ctx, principalID, m.now().UTC(), reason)
}

// TouchLastUsed updates the usage timestamp, best-effort.
func (m *RefreshManager) TouchLastUsed(ctx context.Context, recordID string) error {
	return m.store.RefreshTokens(ctx).TouchLastUsed(ctx, recordID, m.now().UTC())
}
