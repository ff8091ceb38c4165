package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("auth: not found")
	ErrInvalidToken   = errors.New("auth: invalid token")
	ErrUnauthorized   = errors.New("auth: unauthorized")
	ErrExpired        = errors.New("auth: expired")
	ErrAlreadyRevoked = errors.New("auth: already revoked")
	ErrRateLimited    = errors.New("auth: rate limited")
	ErrInvalidInput   = errors.New("auth: invalid input")
)

// ReuseError reports that a rotated refresh token was presented again.
// This is a breach signal: the raw secret leaked or was replayed, and the
// service revokes every token of the affected principal in response.
//
// ReuseError unwraps to ErrAlreadyRevoked so callers that only care about
// the external outcome can keep using errors.Is.
type ReuseError struct {
	PrincipalID int64
	RecordID    string
}

func (e *ReuseError) Error() string {
	return fmt.Sprintf("auth: refresh token %s already rotated (principal %d)", e.RecordID, e.PrincipalID)
}

func (e *ReuseError) Unwrap() error { return ErrAlreadyRevoked }
