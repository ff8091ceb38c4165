package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posehub.org/internal/audit"
)

const testCredential = "test-credential-0123456789abcdef"

type serviceFixture struct {
	svc       *Service
	store     *MemoryStore
	audit     *audit.MemoryStore
	principal *Principal
	clock     *fakeClock
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newServiceFixture(t *testing.T, opts ...ServiceOption) *serviceFixture {
	t.Helper()

	store := NewMemoryStore()
	auditStore := audit.NewMemoryStore()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	codec, err := NewCodec([]byte("0123456789abcdef0123456789abcdef"), "posehub", "posehub-api")
	require.NoError(t, err)

	opts = append([]ServiceOption{WithClock(clock.Now)}, opts...)
	svc, err := NewService(store, codec, audit.NewLogger(auditStore, nil), opts...)
	require.NoError(t, err)

	principal := &Principal{DisplayName: "tester", CredentialHash: HashCredential(testCredential)}
	require.NoError(t, store.Principals(context.Background()).Create(context.Background(), principal))

	return &serviceFixture{svc: svc, store: store, audit: auditStore, principal: principal, clock: clock}
}

func (f *serviceFixture) auditActions() []audit.Action {
	events := f.audit.Events()
	actions := make([]audit.Action, len(events))
	for i, ev := range events {
		actions[i] = ev.Action
	}
	return actions
}

var testDevice = DeviceInfo{UserAgent: "test-agent", IP: "203.0.113.7"}

func TestLoginIssuesVerifiablePair(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Login(ctx, testCredential, testDevice)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, f.principal.ID, sess.Principal.ID)
	assert.NotEmpty(t, sess.RefreshToken)

	id, err := f.svc.VerifyAccess(ctx, sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, f.principal.ID, id)

	assert.Contains(t, f.auditActions(), audit.ActionLogin)

	stored, err := f.store.Principals(ctx).Find(ctx, f.principal.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLoginAt)
}

func TestLoginUnknownCredential(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Login(context.Background(), "not-the-right-credential", testDevice)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, f.auditActions(), audit.ActionFailedLogin)
}

func TestLoginRateLimited(t *testing.T) {
	f := newServiceFixture(t, WithLoginRate(1, 1))
	ctx := context.Background()

	_, err := f.svc.Login(ctx, testCredential, testDevice)
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, testCredential, testDevice)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Contains(t, f.auditActions(), audit.ActionRateLimited)

	// A different source is unaffected.
	_, err = f.svc.Login(ctx, testCredential, DeviceInfo{IP: "198.51.100.1"})
	assert.NoError(t, err)
}

func TestRefreshRotates(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Login(ctx, testCredential, testDevice)
	require.NoError(t, err)

	next, err := f.svc.Refresh(ctx, sess.RefreshToken, testDevice)
	require.NoError(t, err)
	assert.NotEqual(t, sess.RefreshToken, next.RefreshToken)
	assert.Equal(t, f.principal.ID, next.Principal.ID)

	_, err = f.svc.VerifyAccess(ctx, next.AccessToken)
	assert.NoError(t, err)
}

func TestRefreshReuseRevokesFamily(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Login(ctx, testCredential, testDevice)
	require.NoError(t, err)

	next, err := f.svc.Refresh(ctx, sess.RefreshToken, testDevice)
	require.NoError(t, err)

	// Replaying the rotated token means the raw secret leaked.
	_, err = f.svc.Refresh(ctx, sess.RefreshToken, testDevice)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Contains(t, f.auditActions(), audit.ActionSessionRevoke)

	// Containment: the legitimate successor is dead too.
	_, err = f.svc.Refresh(ctx, next.RefreshToken, testDevice)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshGarbage(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Refresh(context.Background(), "definitely-not-a-token", testDevice)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshExpired(t *testing.T) {
	f := newServiceFixture(t, WithRefreshTTL(time.Hour))
	ctx := context.Background()

	sess, err := f.svc.Login(ctx, testCredential, testDevice)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	_, err = f.svc.Refresh(ctx, sess.RefreshToken, testDevice)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogoutBlacklistsAccessToken(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Login(ctx, testCredential, testDevice)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, sess.AccessToken, sess.RefreshToken, testDevice))

	_, err = f.svc.VerifyAccess(ctx, sess.AccessToken)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.Refresh(ctx, sess.RefreshToken, testDevice)
	assert.ErrorIs(t, err, ErrInvalidToken)

	assert.Contains(t, f.auditActions(), audit.ActionLogout)
}

func TestLogoutAll(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	a, err := f.svc.Login(ctx, testCredential, testDevice)
	require.NoError(t, err)
	b, err := f.svc.Login(ctx, testCredential, DeviceInfo{IP: "198.51.100.2"})
	require.NoError(t, err)

	require.NoError(t, f.svc.LogoutAll(ctx, f.principal.ID, testDevice))

	_, err = f.svc.Refresh(ctx, a.RefreshToken, testDevice)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = f.svc.Refresh(ctx, b.RefreshToken, testDevice)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Contains(t, f.auditActions(), audit.ActionLogoutAll)
}

func TestSingleSessionSupersedesPrevious(t *testing.T) {
	f := newServiceFixture(t, WithSingleSession())
	ctx := context.Background()

	first, err := f.svc.Login(ctx, testCredential, testDevice)
	require.NoError(t, err)
	second, err := f.svc.Login(ctx, testCredential, testDevice)
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, first.RefreshToken, testDevice)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = f.svc.Refresh(ctx, second.RefreshToken, testDevice)
	assert.NoError(t, err)
}

func TestChangeCredential(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Login(ctx, testCredential, testDevice)
	require.NoError(t, err)

	const newCredential = "fresh-credential-0123456789abcdef"
	require.NoError(t, f.svc.ChangeCredential(ctx, f.principal.ID, testCredential, newCredential, testDevice))

	// Old sessions die with the old secret.
	_, err = f.svc.Refresh(ctx, sess.RefreshToken, testDevice)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = f.svc.Login(ctx, testCredential, testDevice)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.svc.Login(ctx, newCredential, testDevice)
	assert.NoError(t, err)
	assert.Contains(t, f.auditActions(), audit.ActionPasswordChange)
}

func TestChangeCredentialRejectsWeakAndWrong(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	err := f.svc.ChangeCredential(ctx, f.principal.ID, testCredential, "short", testDevice)
	assert.ErrorIs(t, err, ErrInvalidInput)

	err = f.svc.ChangeCredential(ctx, f.principal.ID, "wrong-old-credential", "long-enough-new-credential", testDevice)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

// brokenRevocations simulates an unreachable revocation backend.
type brokenRevocations struct {
	Store
}

type failingRevocationStore struct{}

func (failingRevocationStore) Add(context.Context, *RevocationEntry) error { return errDown }
func (failingRevocationStore) Contains(context.Context, string) (bool, error) {
	return false, errDown
}
func (failingRevocationStore) Prune(context.Context, time.Time) (int, error) { return 0, errDown }

var errDown = errors.New("revocation backend down")

func (b brokenRevocations) Revocations(context.Context) RevocationStore {
	return failingRevocationStore{}
}

func TestVerifyAccessFailClosed(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Login(ctx, testCredential, testDevice)
	require.NoError(t, err)

	f.svc.store = brokenRevocations{Store: f.store}
	_, err = f.svc.VerifyAccess(ctx, sess.AccessToken)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyAccessFailOpen(t *testing.T) {
	f := newServiceFixture(t, WithFailOpenRevocation())
	ctx := context.Background()

	sess, err := f.svc.Login(ctx, testCredential, testDevice)
	require.NoError(t, err)

	f.svc.store = brokenRevocations{Store: f.store}
	id, err := f.svc.VerifyAccess(ctx, sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, f.principal.ID, id)
}

func TestPruneRevocations(t *testing.T) {
	f := newServiceFixture(t, WithAccessTTL(time.Minute))
	ctx := context.Background()

	sess, err := f.svc.Login(ctx, testCredential, testDevice)
	require.NoError(t, err)
	require.NoError(t, f.svc.RevokeAccessToken(ctx, sess.AccessToken, "compromised", testDevice))

	n, err := f.svc.PruneRevocations(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "live entries must survive pruning")

	f.clock.Advance(2 * time.Minute)
	n, err = f.svc.PruneRevocations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
