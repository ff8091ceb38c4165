package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
)

// PGStore persists audit events in PostgreSQL.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Append(ctx context.Context, ev *Event) error {
	meta, _ := json.Marshal(ev.Metadata)
	_, err := s.db.ExecContext(ctx,
		`insert into audit_events(id, principal_id, action, ip, user_agent, success, error, metadata, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		ev.ID, ev.PrincipalID, string(ev.Action), ev.IP, ev.UserAgent, ev.Success, ev.Error, meta, ev.CreatedAt,
	)
	return err
}

// MemoryStore keeps events in memory. Used in tests and DSN-less dev runs.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *ev)
	return nil
}

// Events returns a copy of everything appended so far.
func (s *MemoryStore) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
