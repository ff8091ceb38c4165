package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store. It backs tests and DSN-less dev
// runs and doubles as the reference implementation for the rotation and
// revocation semantics the PostgreSQL store must match.
type MemoryStore struct {
	mu         sync.RWMutex
	principals map[int64]*Principal
	byCredHash map[string]int64
	refresh    map[string]*RefreshToken
	revoked    map[string]*RevocationEntry
	nextID     int64
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		principals: make(map[int64]*Principal),
		byCredHash: make(map[string]int64),
		refresh:    make(map[string]*RefreshToken),
		revoked:    make(map[string]*RevocationEntry),
	}
}

func (s *MemoryStore) Principals(ctx context.Context) PrincipalStore     { return (*memPrincipals)(s) }
func (s *MemoryStore) RefreshTokens(ctx context.Context) RefreshTokenStore { return (*memRefresh)(s) }
func (s *MemoryStore) Revocations(ctx context.Context) RevocationStore   { return (*memRevocations)(s) }

// Principal store ----------------------------------------------------------

type memPrincipals MemoryStore

func (s *memPrincipals) Create(ctx context.Context, p *Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byCredHash[p.CredentialHash]; exists {
		return ErrInvalidInput
	}
	if p.ID == 0 {
		s.nextID++
		p.ID = s.nextID
	} else if p.ID > s.nextID {
		s.nextID = p.ID
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	cp := *p
	s.principals[p.ID] = &cp
	s.byCredHash[p.CredentialHash] = p.ID
	return nil
}

func (s *memPrincipals) Find(ctx context.Context, id int64) (*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.principals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memPrincipals) FindByCredentialHash(ctx context.Context, hash string) (*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCredHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.principals[id]
	return &cp, nil
}

func (s *memPrincipals) UpdateCredentialHash(ctx context.Context, id int64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byCredHash, p.CredentialHash)
	p.CredentialHash = hash
	s.byCredHash[hash] = id
	return nil
}

func (s *memPrincipals) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	p.LastLoginAt = &t
	return nil
}

// Refresh-token store ------------------------------------------------------

type memRefresh MemoryStore

func (s *memRefresh) Create(ctx context.Context, rec *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	cp := *rec
	s.refresh[rec.ID] = &cp
	return nil
}

func (s *memRefresh) Find(ctx context.Context, id string) (*RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.refresh[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *memRefresh) Rotate(ctx context.Context, id, presentedHash string, successor *RefreshToken, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.refresh[id]
	if !ok {
		return ErrNotFound
	}
	if !subtleCompare(rec.SecretHash, presentedHash) {
		return ErrNotFound
	}
	if rec.Revoked && rec.ReplacedBy != "" {
		return &ReuseError{PrincipalID: rec.PrincipalID, RecordID: rec.ID}
	}
	if rec.Revoked {
		return ErrAlreadyRevoked
	}
	if !at.Before(rec.ExpiresAt) {
		return ErrExpired
	}

	successor.PrincipalID = rec.PrincipalID
	if successor.CreatedAt.IsZero() {
		successor.CreatedAt = at
	}
	cp := *successor
	s.refresh[successor.ID] = &cp

	rec.Revoked = true
	t := at
	rec.RevokedAt = &t
	rec.RevokeReason = "rotated"
	rec.ReplacedBy = successor.ID
	rec.LastUsedAt = &t
	return nil
}

func (s *memRefresh) MarkRevoked(ctx context.Context, id string, at time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.refresh[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Revoked {
		return nil
	}
	rec.Revoked = true
	t := at
	rec.RevokedAt = &t
	rec.RevokeReason = reason
	return nil
}

func (s *memRefresh) MarkRevokedByPrincipal(ctx context.Context, principalID int64, at time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.refresh {
		if rec.PrincipalID != principalID || rec.Revoked {
			continue
		}
		rec.Revoked = true
		t := at
		rec.RevokedAt = &t
		rec.RevokeReason = reason
	}
	return nil
}

func (s *memRefresh) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.refresh[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	rec.LastUsedAt = &t
	return nil
}

// Revocation store ---------------------------------------------------------

type memRevocations MemoryStore

func (s *memRevocations) Add(ctx context.Context, entry *RevocationEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	cp := *entry
	s.revoked[entry.JTI] = &cp
	return nil
}

func (s *memRevocations) Contains(ctx context.Context, jti string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.revoked[jti]
	return ok, nil
}

func (s *memRevocations) Prune(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for jti, entry := range s.revoked {
		if entry.ExpiresAt.Before(before) {
			delete(s.revoked, jti)
			n++
		}
	}
	return n, nil
}
