package signedurl

import "errors"

var (
	// ErrMalformed indicates the query is missing or carries unparseable fields.
	ErrMalformed = errors.New("signedurl: malformed query")
	// ErrTampered indicates the signature does not match the canonical string.
	ErrTampered = errors.New("signedurl: signature mismatch")
	// ErrExpired indicates the grant's expiry has passed.
	ErrExpired = errors.New("signedurl: grant expired")
	// ErrVersionMismatch indicates the resource changed since the grant was
	// signed; old links die with the version they were bound to.
	ErrVersionMismatch = errors.New("signedurl: resource version mismatch")
)
