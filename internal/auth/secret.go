package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const minMasterSecretLen = 32

// DeriveKeys expands the configured master secret into independent signing
// keys for access tokens and signed URLs. Key separation keeps a leak of
// one derived key from compromising the other surface.
func DeriveKeys(master []byte) (tokenKey, urlKey []byte, err error) {
	if len(master) < minMasterSecretLen {
		return nil, nil, errors.New("auth: master secret must be at least 32 bytes")
	}
	tokenKey, err = expandKey(master, "posehub/token/v1")
	if err != nil {
		return nil, nil, err
	}
	urlKey, err = expandKey(master, "posehub/signedurl/v1")
	if err != nil {
		return nil, nil, err
	}
	return tokenKey, urlKey, nil
}

func expandKey(master []byte, info string) ([]byte, error) {
	out := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), out); err != nil {
		return nil, err
	}
	return out, nil
}

// HashCredential returns the stored form of a client credential. The hash is
// deterministic so principals can be looked up by it; credentials are
// expected to be high-entropy opaque secrets, not human-chosen passwords.
func HashCredential(raw string) string {
	return hashSecretHex(raw)
}

func hashSecretHex(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// newOpaqueSecret returns a random URL-safe secret of nBytes entropy.
func newOpaqueSecret(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// secureCompareHash compares a stored hash against the hash of a presented
// secret without leaking timing.
func secureCompareHash(storedHash, presented string) bool {
	return subtleCompare(storedHash, hashSecretHex(presented))
}

func subtleCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Refresh tokens travel as "<record id>.<secret>" so lookups hit the
// primary key while only the secret part is hashed and compared.
func joinRefreshToken(id, secret string) string {
	return id + "." + secret
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}
