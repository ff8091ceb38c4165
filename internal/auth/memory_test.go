package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func seedRefresh(t *testing.T, store Store, principalID int64, secretHash string, expiresAt time.Time) *RefreshToken {
	t.Helper()
	rec := &RefreshToken{
		ID:          "rec-" + secretHash[:8],
		PrincipalID: principalID,
		SecretHash:  secretHash,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.RefreshTokens(context.Background()).Create(context.Background(), rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return rec
}

func TestMemoryRotate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()
	hash := hashSecretHex("old-secret")
	rec := seedRefresh(t, store, 1, hash, now.Add(time.Hour))

	successor := &RefreshToken{ID: "rec-new", SecretHash: hashSecretHex("new-secret"), ExpiresAt: now.Add(time.Hour)}
	if err := store.RefreshTokens(ctx).Rotate(ctx, rec.ID, hash, successor, now); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if successor.PrincipalID != 1 {
		t.Fatalf("successor not bound to principal: %d", successor.PrincipalID)
	}

	old, err := store.RefreshTokens(ctx).Find(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !old.Revoked || old.ReplacedBy != "rec-new" || old.RevokeReason != "rotated" {
		t.Fatalf("predecessor not marked rotated: %+v", old)
	}
}

func TestMemoryRotateReplayReportsReuse(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()
	hash := hashSecretHex("leaked-secret")
	rec := seedRefresh(t, store, 9, hash, now.Add(time.Hour))

	first := &RefreshToken{ID: "rec-a", SecretHash: hashSecretHex("a"), ExpiresAt: now.Add(time.Hour)}
	if err := store.RefreshTokens(ctx).Rotate(ctx, rec.ID, hash, first, now); err != nil {
		t.Fatalf("first Rotate: %v", err)
	}

	second := &RefreshToken{ID: "rec-b", SecretHash: hashSecretHex("b"), ExpiresAt: now.Add(time.Hour)}
	err := store.RefreshTokens(ctx).Rotate(ctx, rec.ID, hash, second, now)
	var reuse *ReuseError
	if !errors.As(err, &reuse) {
		t.Fatalf("expected ReuseError, got %v", err)
	}
	if reuse.PrincipalID != 9 || reuse.RecordID != rec.ID {
		t.Fatalf("reuse error misses context: %+v", reuse)
	}
	if !errors.Is(err, ErrAlreadyRevoked) {
		t.Fatal("ReuseError must unwrap to ErrAlreadyRevoked")
	}
	if _, found := store.refresh["rec-b"]; found {
		t.Fatal("replay must not create a successor")
	}
}

func TestMemoryRotateRejections(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()
	hash := hashSecretHex("secret")

	expired := seedRefresh(t, store, 1, hash, now.Add(-time.Minute))
	succ := &RefreshToken{ID: "s1", SecretHash: "x", ExpiresAt: now.Add(time.Hour)}
	if err := store.RefreshTokens(ctx).Rotate(ctx, expired.ID, hash, succ, now); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	live := seedRefresh(t, store, 1, hashSecretHex("other"), now.Add(time.Hour))
	if err := store.RefreshTokens(ctx).Rotate(ctx, live.ID, hashSecretHex("wrong"), succ, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for hash mismatch, got %v", err)
	}

	if err := store.RefreshTokens(ctx).MarkRevoked(ctx, live.ID, now, "logout"); err != nil {
		t.Fatalf("MarkRevoked: %v", err)
	}
	if err := store.RefreshTokens(ctx).Rotate(ctx, live.ID, hashSecretHex("other"), succ, now); !errors.Is(err, ErrAlreadyRevoked) {
		t.Fatalf("expected ErrAlreadyRevoked for plain revoke, got %v", err)
	}

	if err := store.RefreshTokens(ctx).Rotate(ctx, "missing", hash, succ, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestMemoryRotateConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()
	hash := hashSecretHex("contested")
	rec := seedRefresh(t, store, 3, hash, now.Add(time.Hour))

	const racers = 16
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			succ := &RefreshToken{
				ID:         "succ-" + string(rune('a'+i)),
				SecretHash: hashSecretHex("s" + string(rune('a'+i))),
				ExpiresAt:  now.Add(time.Hour),
			}
			errs[i] = store.RefreshTokens(ctx).Rotate(ctx, rec.ID, hash, succ, now)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one successful rotation, got %d", wins)
	}
}

func TestMemoryRevocations(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	rev := store.Revocations(ctx)
	if err := rev.Add(ctx, &RevocationEntry{JTI: "j1", PrincipalID: 1, TokenType: TokenAccess, ExpiresAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	// Re-adding the same jti must stay silent.
	if err := rev.Add(ctx, &RevocationEntry{JTI: "j1", PrincipalID: 1, TokenType: TokenAccess, ExpiresAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("idempotent Add: %v", err)
	}

	got, err := rev.Contains(ctx, "j1")
	if err != nil || !got {
		t.Fatalf("Contains(j1) = %v, %v", got, err)
	}
	got, err = rev.Contains(ctx, "j2")
	if err != nil || got {
		t.Fatalf("Contains(j2) = %v, %v", got, err)
	}

	if err := rev.Add(ctx, &RevocationEntry{JTI: "stale", PrincipalID: 1, TokenType: TokenAccess, ExpiresAt: now.Add(-time.Minute)}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	n, err := rev.Prune(ctx, now)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned entry, got %d", n)
	}
	if got, _ := rev.Contains(ctx, "j1"); !got {
		t.Fatal("prune removed a live entry")
	}
}

func TestMemoryPrincipals(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	ps := store.Principals(ctx)

	p := &Principal{DisplayName: "alpha", CredentialHash: HashCredential("cred-alpha")}
	if err := ps.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.ID == 0 {
		t.Fatal("expected assigned id")
	}
	if err := ps.Create(ctx, &Principal{CredentialHash: p.CredentialHash}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected duplicate hash rejection, got %v", err)
	}

	found, err := ps.FindByCredentialHash(ctx, p.CredentialHash)
	if err != nil || found.ID != p.ID {
		t.Fatalf("FindByCredentialHash: %+v, %v", found, err)
	}

	newHash := HashCredential("cred-beta")
	if err := ps.UpdateCredentialHash(ctx, p.ID, newHash); err != nil {
		t.Fatalf("UpdateCredentialHash: %v", err)
	}
	if _, err := ps.FindByCredentialHash(ctx, p.CredentialHash); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old hash must stop resolving, got %v", err)
	}
	if _, err := ps.FindByCredentialHash(ctx, newHash); err != nil {
		t.Fatalf("new hash must resolve: %v", err)
	}
}
