package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Principals(ctx context.Context) PrincipalStore       { return &pgPrincipals{db: s.db} }
func (s *PGStore) RefreshTokens(ctx context.Context) RefreshTokenStore { return &pgRefresh{db: s.db} }
func (s *PGStore) Revocations(ctx context.Context) RevocationStore     { return &pgRevocations{db: s.db} }

// Principal store ----------------------------------------------------------

type pgPrincipals struct{ db *sql.DB }

func (s *pgPrincipals) Create(ctx context.Context, p *Principal) error {
	row := s.db.QueryRowContext(ctx,
		`insert into principals(display_name, credential_hash) values($1,$2) returning id, created_at`,
		p.DisplayName, p.CredentialHash,
	)
	return row.Scan(&p.ID, &p.CreatedAt)
}

func (s *pgPrincipals) Find(ctx context.Context, id int64) (*Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, display_name, credential_hash, created_at, last_login_at from principals where id=$1`, id)
	return scanPrincipal(row)
}

func (s *pgPrincipals) FindByCredentialHash(ctx context.Context, hash string) (*Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, display_name, credential_hash, created_at, last_login_at from principals where credential_hash=$1`, hash)
	return scanPrincipal(row)
}

func scanPrincipal(row *sql.Row) (*Principal, error) {
	var p Principal
	if err := row.Scan(&p.ID, &p.DisplayName, &p.CredentialHash, &p.CreatedAt, &p.LastLoginAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *pgPrincipals) UpdateCredentialHash(ctx context.Context, id int64, hash string) error {
	res, err := s.db.ExecContext(ctx,
		`update principals set credential_hash=$2 where id=$1`, id, hash)
	if err != nil {
		return err
	}
	return oneRowAffected(res)
}

func (s *pgPrincipals) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update principals set last_login_at=$2 where id=$1`, id, at)
	return err
}

// Refresh-token store ------------------------------------------------------

type pgRefresh struct{ db *sql.DB }

const refreshColumns = `id, principal_id, secret_hash, user_agent, ip, expires_at, created_at,
	last_used_at, revoked, revoked_at, revoke_reason, coalesce(replaced_by, '')`

func (s *pgRefresh) Create(ctx context.Context, rec *RefreshToken) error {
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, principal_id, secret_hash, user_agent, ip, expires_at, created_at)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		rec.ID, rec.PrincipalID, rec.SecretHash, rec.UserAgent, rec.IP, rec.ExpiresAt, rec.CreatedAt,
	)
	return err
}

func (s *pgRefresh) Find(ctx context.Context, id string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+refreshColumns+` from refresh_tokens where id=$1`, id)
	return scanRefresh(row)
}

func scanRefresh(row *sql.Row) (*RefreshToken, error) {
	var rec RefreshToken
	err := row.Scan(&rec.ID, &rec.PrincipalID, &rec.SecretHash, &rec.UserAgent, &rec.IP,
		&rec.ExpiresAt, &rec.CreatedAt, &rec.LastUsedAt, &rec.Revoked, &rec.RevokedAt,
		&rec.RevokeReason, &rec.ReplacedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Rotate runs the whole rotation in one transaction with the old row locked
// (select ... for update), so a raw secret can never mint two live
// successors. Whoever loses the race observes the rotated state.
func (s *pgRefresh) Rotate(ctx context.Context, id, presentedHash string, successor *RefreshToken, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var rec RefreshToken
	err = tx.QueryRowContext(ctx,
		`select `+refreshColumns+` from refresh_tokens where id=$1 for update`, id).
		Scan(&rec.ID, &rec.PrincipalID, &rec.SecretHash, &rec.UserAgent, &rec.IP,
			&rec.ExpiresAt, &rec.CreatedAt, &rec.LastUsedAt, &rec.Revoked, &rec.RevokedAt,
			&rec.RevokeReason, &rec.ReplacedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
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
	if _, err := tx.ExecContext(ctx,
		`insert into refresh_tokens(id, principal_id, secret_hash, user_agent, ip, expires_at, created_at)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		successor.ID, successor.PrincipalID, successor.SecretHash, successor.UserAgent,
		successor.IP, successor.ExpiresAt, successor.CreatedAt,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`update refresh_tokens
		 set revoked=true, revoked_at=$2, revoke_reason='rotated', replaced_by=$3, last_used_at=$2
		 where id=$1`,
		rec.ID, at, successor.ID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *pgRefresh) MarkRevoked(ctx context.Context, id string, at time.Time, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true, revoked_at=$2, revoke_reason=$3
		 where id=$1 and not revoked`,
		id, at, reason,
	)
	return err
}

func (s *pgRefresh) MarkRevokedByPrincipal(ctx context.Context, principalID int64, at time.Time, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true, revoked_at=$2, revoke_reason=$3
		 where principal_id=$1 and not revoked`,
		principalID, at, reason,
	)
	return err
}

func (s *pgRefresh) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set last_used_at=$2 where id=$1`, id, at)
	return err
}

// Revocation store ---------------------------------------------------------

type pgRevocations struct{ db *sql.DB }

func (s *pgRevocations) Add(ctx context.Context, entry *RevocationEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into revoked_tokens(jti, principal_id, token_type, expires_at, created_at, reason)
		 values($1,$2,$3,$4,$5,$6)
		 on conflict (jti) do nothing`,
		entry.JTI, entry.PrincipalID, string(entry.TokenType), entry.ExpiresAt, entry.CreatedAt, entry.Reason,
	)
	return err
}

func (s *pgRevocations) Contains(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from revoked_tokens where jti=$1)`, jti).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *pgRevocations) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from revoked_tokens where expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func oneRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
