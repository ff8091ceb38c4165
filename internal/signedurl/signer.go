// Package signedurl derives short-lived HMAC-signed query strings that grant
// time-boxed, resource-scoped GET access without a bearer token. Image
// delivery and WebSocket handshakes use these instead of putting long-lived
// credentials into URLs.
package signedurl

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Query parameter names. The canonical string itself never travels in the
// URL; receivers rebuild it from the request context, which removes any
// parameter-order ambiguity.
const (
	ParamPrincipal = "pid"
	ParamExpires   = "exp"
	ParamVersion   = "ver"
	ParamSignature = "sig"
)

// Signer signs and verifies URL grants with a shared symmetric secret.
// Operations are pure and safe for concurrent use.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// New constructs a Signer. The secret must be dedicated to this purpose;
// see auth.DeriveKeys.
func New(secret []byte) (*Signer, error) {
	if len(secret) == 0 {
		return nil, errors.New("signedurl: secret is required")
	}
	return &Signer{secret: secret, now: time.Now}, nil
}

// Sign returns the query parameters granting principalID access to the
// resource at its current version until the TTL elapses.
func (s *Signer) Sign(resourceKind string, resourceID, principalID int64, resourceVersion string, ttl time.Duration) (url.Values, error) {
	if resourceKind == "" || resourceID <= 0 || principalID <= 0 {
		return nil, errors.New("signedurl: resource and principal are required")
	}
	if ttl <= 0 {
		return nil, errors.New("signedurl: ttl must be greater than zero")
	}
	expires := s.now().UTC().Add(ttl).Unix()
	sig := s.mac(resourceKind, resourceID, principalID, resourceVersion, expires)

	v := url.Values{}
	v.Set(ParamPrincipal, strconv.FormatInt(principalID, 10))
	v.Set(ParamExpires, strconv.FormatInt(expires, 10))
	v.Set(ParamVersion, resourceVersion)
	v.Set(ParamSignature, base64.RawURLEncoding.EncodeToString(sig))
	return v, nil
}

// Verify recomputes the HMAC over the canonical string and compares it in
// constant time, then checks expiry and the resource's current version.
// On success it returns the principal the grant was issued to.
func (s *Signer) Verify(q url.Values, resourceKind string, resourceID int64, currentVersion string) (int64, error) {
	principalID, err := strconv.ParseInt(q.Get(ParamPrincipal), 10, 64)
	if err != nil || principalID <= 0 {
		return 0, ErrMalformed
	}
	expires, err := strconv.ParseInt(q.Get(ParamExpires), 10, 64)
	if err != nil {
		return 0, ErrMalformed
	}
	version := q.Get(ParamVersion)
	sig, err := base64.RawURLEncoding.DecodeString(q.Get(ParamSignature))
	if err != nil || len(sig) == 0 {
		return 0, ErrMalformed
	}

	expected := s.mac(resourceKind, resourceID, principalID, version, expires)
	if !hmac.Equal(sig, expected) {
		return 0, ErrTampered
	}
	if s.now().UTC().Unix() > expires {
		return 0, ErrExpired
	}
	if version != currentVersion {
		return 0, ErrVersionMismatch
	}
	return principalID, nil
}

func (s *Signer) mac(kind string, resourceID, principalID int64, version string, expires int64) []byte {
	canonical := fmt.Sprintf("%s:%d:%d:%s:%d", kind, resourceID, principalID, version, expires)
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(canonical))
	return mac.Sum(nil)
}
