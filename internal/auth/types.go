package auth

import "time"

// Principal is an authenticated identity. Only a one-way hash of the
// client-supplied credential is kept; the raw value is never persisted.
type Principal struct {
	ID             int64
	DisplayName    string
	CredentialHash string
	CreatedAt      time.Time
	LastLoginAt    *time.Time
}

// DeviceInfo describes the client presenting a credential or token.
type DeviceInfo struct {
	UserAgent string
	IP        string
}

// RefreshToken is a persisted refresh-token record. The raw secret is
// returned to the client exactly once; only its SHA-256 hash is stored.
//
// Lifecycle: active -> rotated | revoked | expired. All three are terminal.
// Expiry is implicit (checked at read time), the other two set Revoked.
type RefreshToken struct {
	ID           string
	PrincipalID  int64
	SecretHash   string
	UserAgent    string
	IP           string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	LastUsedAt   *time.Time
	Revoked      bool
	RevokedAt    *time.Time
	RevokeReason string
	// ReplacedBy links to the successor record after rotation. A revoked
	// record with a successor presented again is a reuse signal.
	ReplacedBy string
}

// Active reports whether the record can still be rotated at the given time.
func (t *RefreshToken) Active(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// RevocationEntry blacklists an access-token jti. Presence of a jti makes
// the token invalid regardless of signature validity. Entries expire
// together with the token they mirror, after which pruning is safe: an
// expired token is already rejected by the expiry check.
type RevocationEntry struct {
	JTI         string
	PrincipalID int64
	TokenType   TokenType
	ExpiresAt   time.Time
	CreatedAt   time.Time
	Reason      string
}
