// Package resources tracks the current version tag of served resources.
// Signed image links embed the version, so bumping it is how regeneration
// invalidates links that have not yet expired.
package resources

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

var ErrNotFound = errors.New("resources: not found")

// PGVersions reads versions from Postgres.
type PGVersions struct {
	db *sql.DB
}

func NewPGVersions(db *sql.DB) *PGVersions {
	return &PGVersions{db: db}
}

func (s *PGVersions) Version(ctx context.Context, kind string, id int64) (string, error) {
	var version string
	err := s.db.QueryRowContext(ctx,
		`select version from resource_versions where kind = $1 and resource_id = $2`,
		kind, id,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resources: query version: %w", err)
	}
	return version, nil
}

// Bump sets the version, creating the row if needed.
func (s *PGVersions) Bump(ctx context.Context, kind string, id int64, version string) error {
	_, err := s.db.ExecContext(ctx,
		`insert into resource_versions (kind, resource_id, version)
		 values ($1, $2, $3)
		 on conflict (kind, resource_id) do update set version = excluded.version`,
		kind, id, version,
	)
	if err != nil {
		return fmt.Errorf("resources: bump version: %w", err)
	}
	return nil
}

// MemoryVersions is the in-process equivalent for development and tests.
type MemoryVersions struct {
	mu       sync.RWMutex
	versions map[string]string
}

func NewMemoryVersions() *MemoryVersions {
	return &MemoryVersions{versions: make(map[string]string)}
}

func key(kind string, id int64) string { return fmt.Sprintf("%s/%d", kind, id) }

func (s *MemoryVersions) Version(_ context.Context, kind string, id int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[key(kind, id)]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemoryVersions) Bump(_ context.Context, kind string, id int64, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[key(kind, id)] = version
	return nil
}
