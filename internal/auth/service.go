package auth

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"posehub.org/internal/audit"
	"posehub.org/internal/obs"
)

const (
	defaultAccessTTL    = 15 * time.Minute
	minCredentialLength = 16
)

// Service composes the token codec, refresh-token manager and revocation
// store into the session operations exposed to transport layers: login,
// refresh, logout, logout-all and access verification.
//
// All security decisions resolve to ErrUnauthorized/ErrNotFound-shaped
// outcomes for callers; the detailed reason lives in audit records and the
// operational log only.
type Service struct {
	store   Store
	codec   *Codec
	refresh *RefreshManager
	audit   *audit.Logger
	log     *zap.Logger
	now     func() time.Time

	accessTTL  time.Duration
	refreshTTL time.Duration

	// failClosed controls behavior when the revocation store is unreachable
	// during verification: treat the token as revoked (default) or let it
	// pass. Fail-closed is the safe choice for security-critical deployments.
	failClosed bool

	// singleSession, when set, revokes all existing refresh tokens on login
	// so each principal has at most one live session chain.
	singleSession bool

	limiter *loginLimiter
}

// Session is the result of a successful login or refresh.
type Session struct {
	Principal        *Principal
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithAccessTTL configures access-token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh-token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithFailOpenRevocation lets verification pass when the revocation store is
// unreachable. Only for deployments that prefer availability over strict
// revocation; the default is fail-closed.
func WithFailOpenRevocation() ServiceOption {
	return func(s *Service) { s.failClosed = false }
}

// WithSingleSession enforces at most one live session chain per principal.
func WithSingleSession() ServiceOption {
	return func(s *Service) { s.singleSession = true }
}

// WithLoginRate overrides the per-IP login rate limit.
func WithLoginRate(perMinute, burst int) ServiceOption {
	return func(s *Service) { s.limiter = newLoginLimiter(perMinute, burst) }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithLogger sets the operational logger.
func WithLogger(log *zap.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService constructs a Service with optional configuration.
func NewService(store Store, codec *Codec, auditLog *audit.Logger, opts ...ServiceOption) (*Service, error) {
	if store == nil || codec == nil || auditLog == nil {
		return nil, errors.New("auth: store, codec and audit logger are required")
	}
	svc := &Service{
		store:      store,
		codec:      codec,
		audit:      auditLog,
		log:        zap.NewNop(),
		now:        time.Now,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		failClosed: true,
		limiter:    newLoginLimiter(0, 0),
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.refresh = NewRefreshManager(store, svc.refreshTTL)
	svc.refresh.now = svc.now
	// Codec shares the service clock so expiry tests line up.
	svc.codec.now = svc.now
	return svc, nil
}

// Login authenticates a raw client credential and issues an access/refresh
// pair. Unknown credentials report ErrUnauthorized with no further detail;
// the distinction lives in the audit trail.
func (s *Service) Login(ctx context.Context, credential string, dev DeviceInfo) (*Session, error) {
	if !s.limiter.allow(dev.IP) {
		s.audit.Log(ctx, audit.Event{
			Action:    audit.ActionRateLimited,
			IP:        dev.IP,
			UserAgent: dev.UserAgent,
			Success:   false,
			Error:     "login rate exceeded",
		})
		return nil, ErrRateLimited
	}

	principal, err := s.store.Principals(ctx).FindByCredentialHash(ctx, HashCredential(credential))
	if err != nil {
		s.audit.Log(ctx, audit.Event{
			Action:    audit.ActionFailedLogin,
			IP:        dev.IP,
			UserAgent: dev.UserAgent,
			Success:   false,
			Error:     "unknown credential",
		})
		obs.ObserveLogin(false)
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}

	if s.singleSession {
		if err := s.refresh.RevokeAllForPrincipal(ctx, principal.ID, "superseded"); err != nil {
			return nil, err
		}
	}

	sess, err := s.issuePair(ctx, principal, dev)
	if err != nil {
		obs.ObserveLogin(false)
		return nil, err
	}

	if err := s.store.Principals(ctx).TouchLastLogin(ctx, principal.ID, s.now().UTC()); err != nil {
		s.log.Warn("touch last login failed", zap.Int64("principal", principal.ID), zap.Error(err))
	}

	s.audit.Log(ctx, audit.Event{
		PrincipalID: &principal.ID,
		Action:      audit.ActionLogin,
		IP:          dev.IP,
		UserAgent:   dev.UserAgent,
		Success:     true,
	})
	obs.ObserveLogin(true)
	return sess, nil
}

func (s *Service) issuePair(ctx context.Context, principal *Principal, dev DeviceInfo) (*Session, error) {
	access, claims, err := s.codec.Issue(principal.ID, TokenAccess, s.accessTTL)
	if err != nil {
		return nil, err
	}
	rawRefresh, rec, err := s.refresh.Create(ctx, principal.ID, dev)
	if err != nil {
		return nil, err
	}
	return &Session{
		Principal:        principal,
		AccessToken:      access,
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshToken:     rawRefresh,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

// Refresh rotates a presented refresh token and issues a fresh pair.
// Replay of an already-rotated token revokes every token of the affected
// principal before failing: the raw secret has leaked.
func (s *Service) Refresh(ctx context.Context, rawRefresh string, dev DeviceInfo) (*Session, error) {
	newRaw, rec, err := s.refresh.Rotate(ctx, rawRefresh, dev)
	if err != nil {
		var reuse *ReuseError
		if errors.As(err, &reuse) {
			obs.ObserveReuseDetected()
			if rerr := s.refresh.RevokeAllForPrincipal(ctx, reuse.PrincipalID, "refresh token reuse"); rerr != nil {
				s.log.Error("breach containment failed", zap.Int64("principal", reuse.PrincipalID), zap.Error(rerr))
			}
			s.audit.Log(ctx, audit.Event{
				PrincipalID: &reuse.PrincipalID,
				Action:      audit.ActionSessionRevoke,
				IP:          dev.IP,
				UserAgent:   dev.UserAgent,
				Success:     true,
				Error:       "refresh token reuse detected",
				Metadata:    map[string]string{"record": reuse.RecordID},
			})
		}
		s.audit.Log(ctx, audit.Event{
			Action:    audit.ActionTokenRefresh,
			IP:        dev.IP,
			UserAgent: dev.UserAgent,
			Success:   false,
			Error:     "invalid refresh token",
		})
		obs.ObserveRefresh(false)
		return nil, ErrInvalidToken
	}

	principal, err := s.store.Principals(ctx).Find(ctx, rec.PrincipalID)
	if err != nil {
		obs.ObserveRefresh(false)
		return nil, err
	}

	access, claims, err := s.codec.Issue(principal.ID, TokenAccess, s.accessTTL)
	if err != nil {
		obs.ObserveRefresh(false)
		return nil, err
	}

	s.audit.Log(ctx, audit.Event{
		PrincipalID: &principal.ID,
		Action:      audit.ActionTokenRefresh,
		IP:          dev.IP,
		UserAgent:   dev.UserAgent,
		Success:     true,
		Metadata:    map[string]string{"record": rec.ID},
	})
	obs.ObserveRefresh(true)

	return &Session{
		Principal:        principal,
		AccessToken:      access,
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshToken:     newRaw,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

// Logout blacklists the access token's jti until its natural expiry and
// revokes the presented refresh token.
func (s *Service) Logout(ctx context.Context, accessToken, rawRefresh string, dev DeviceInfo) error {
	claims, err := s.codec.Decode(accessToken, TokenAccess)
	if err != nil {
		return ErrUnauthorized
	}
	principalID, err := claims.PrincipalID()
	if err != nil {
		return ErrUnauthorized
	}

	if err := s.store.Revocations(ctx).Add(ctx, &RevocationEntry{
		JTI:         claims.ID,
		PrincipalID: principalID,
		TokenType:   TokenAccess,
		ExpiresAt:   claims.ExpiresAt.Time,
		Reason:      "logout",
	}); err != nil {
		return err
	}
	obs.ObserveRevocation()

	if err := s.refresh.Revoke(ctx, rawRefresh, "logout"); err != nil {
		return err
	}

	s.audit.Log(ctx, audit.Event{
		PrincipalID: &principalID,
		Action:      audit.ActionLogout,
		IP:          dev.IP,
		UserAgent:   dev.UserAgent,
		Success:     true,
		Metadata:    map[string]string{"jti": claims.ID},
	})
	return nil
}

// LogoutAll revokes every refresh token of the principal. Outstanding access
// tokens are not tracked per principal and run out on their short TTL.
func (s *Service) LogoutAll(ctx context.Context, principalID int64, dev DeviceInfo) error {
	if err := s.refresh.RevokeAllForPrincipal(ctx, principalID, "logout_all"); err != nil {
		return err
	}
	s.audit.Log(ctx, audit.Event{
		PrincipalID: &principalID,
		Action:      audit.ActionLogoutAll,
		IP:          dev.IP,
		UserAgent:   dev.UserAgent,
		Success:     true,
	})
	return nil
}

// RevokeAccessToken blacklists a single access token ahead of its expiry.
func (s *Service) RevokeAccessToken(ctx context.Context, accessToken, reason string, dev DeviceInfo) error {
	claims, err := s.codec.Decode(accessToken, TokenAccess)
	if err != nil {
		return ErrUnauthorized
	}
	principalID, _ := claims.PrincipalID()
	if err := s.store.Revocations(ctx).Add(ctx, &RevocationEntry{
		JTI:         claims.ID,
		PrincipalID: principalID,
		TokenType:   TokenAccess,
		ExpiresAt:   claims.ExpiresAt.Time,
		Reason:      reason,
	}); err != nil {
		return err
	}
	obs.ObserveRevocation()
	s.audit.Log(ctx, audit.Event{
		PrincipalID: &principalID,
		Action:      audit.ActionTokenRevoke,
		IP:          dev.IP,
		UserAgent:   dev.UserAgent,
		Success:     true,
		Metadata:    map[string]string{"jti": claims.ID, "reason": reason},
	})
	return nil
}

// VerifyAccess checks signature, expiry, type and blacklist membership and
// returns the authenticated principal id.
func (s *Service) VerifyAccess(ctx context.Context, accessToken string) (int64, error) {
	claims, err := s.codec.Decode(accessToken, TokenAccess)
	if err != nil {
		return 0, ErrUnauthorized
	}
	principalID, err := claims.PrincipalID()
	if err != nil {
		return 0, ErrUnauthorized
	}

	revoked, err := s.store.Revocations(ctx).Contains(ctx, claims.ID)
	if err != nil {
		s.log.Error("revocation lookup failed", zap.Error(err))
		if s.failClosed {
			return 0, ErrUnauthorized
		}
		return principalID, nil
	}
	if revoked {
		return 0, ErrUnauthorized
	}
	return principalID, nil
}

// ChangeCredential swaps the principal's credential and revokes every
// refresh token so old sessions cannot outlive the old secret.
func (s *Service) ChangeCredential(ctx context.Context, principalID int64, oldCredential, newCredential string, dev DeviceInfo) error {
	if len(newCredential) < minCredentialLength {
		return ErrInvalidInput
	}
	principal, err := s.store.Principals(ctx).Find(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUnauthorized
		}
		return err
	}
	if !subtleCompare(principal.CredentialHash, HashCredential(oldCredential)) {
		s.audit.Log(ctx, audit.Event{
			PrincipalID: &principalID,
			Action:      audit.ActionPasswordChange,
			IP:          dev.IP,
			UserAgent:   dev.UserAgent,
			Success:     false,
			Error:       "credential mismatch",
		})
		return ErrUnauthorized
	}

	if err := s.store.Principals(ctx).UpdateCredentialHash(ctx, principalID, HashCredential(newCredential)); err != nil {
		return err
	}
	if err := s.refresh.RevokeAllForPrincipal(ctx, principalID, "password_change"); err != nil {
		return err
	}
	s.audit.Log(ctx, audit.Event{
		PrincipalID: &principalID,
		Action:      audit.ActionPasswordChange,
		IP:          dev.IP,
		UserAgent:   dev.UserAgent,
		Success:     true,
	})
	return nil
}

// PruneRevocations drops blacklist entries whose tokens have expired on
// their own. Run periodically from the process entrypoint.
func (s *Service) PruneRevocations(ctx context.Context) (int, error) {
	return s.store.Revocations(ctx).Prune(ctx, s.now().UTC())
}
