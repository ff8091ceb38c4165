// Package audit records security-relevant events in an append-only log.
//
// Audit persistence is deliberately best-effort from the caller's point of
// view: a login or refresh must never fail because the audit store is down.
// Persistence errors are reported on the operational logger instead.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"posehub.org/internal/ids"
)

// Action enumerates auditable security actions.
type Action string

const (
	ActionLogin          Action = "login"
	ActionLogout         Action = "logout"
	ActionLogoutAll      Action = "logout_all"
	ActionTokenRefresh   Action = "token_refresh"
	ActionTokenRevoke    Action = "token_revoke"
	ActionSessionRevoke  Action = "session_revoke"
	ActionPasswordChange Action = "password_change"
	ActionFailedLogin    Action = "failed_login"
	ActionRateLimited    Action = "rate_limited"
)

// Event is a single append-only audit record. PrincipalID is nil for
// unauthenticated attempts (failed logins, rate-limited requests).
type Event struct {
	ID          string
	PrincipalID *int64
	Action      Action
	IP          string
	UserAgent   string
	Success     bool
	Error       string
	Metadata    map[string]string
	CreatedAt   time.Time
}

// Store appends immutable audit events. Events are never updated or deleted
// by normal operation.
type Store interface {
	Append(ctx context.Context, ev *Event) error
}

// Logger writes audit events through a Store.
type Logger struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

// NewLogger constructs a Logger. A nil zap logger falls back to zap.NewNop.
func NewLogger(store Store, log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{store: store, log: log, now: time.Now}
}

// Log appends ev, filling in id and timestamp when absent. Store failures
// are swallowed after being reported on the operational logger so that the
// primary security operation is never blocked.
func (l *Logger) Log(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = ids.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = l.now().UTC()
	}
	if err := l.store.Append(ctx, &ev); err != nil {
		l.log.Error("audit append failed",
			zap.String("action", string(ev.Action)),
			zap.Bool("success", ev.Success),
			zap.Error(err),
		)
	}
}
