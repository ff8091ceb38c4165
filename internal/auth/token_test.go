package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec([]byte("0123456789abcdef0123456789abcdef"), "posehub", "posehub-api")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func TestCodecRoundTrip(t *testing.T) {
	c := testCodec(t)

	token, claims, err := c.Issue(42, TokenAccess, 15*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if claims.ID == "" {
		t.Fatal("expected a jti")
	}

	decoded, err := c.Decode(token, TokenAccess)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	id, err := decoded.PrincipalID()
	if err != nil {
		t.Fatalf("PrincipalID: %v", err)
	}
	if id != 42 {
		t.Fatalf("expected principal 42, got %d", id)
	}
	if decoded.ID != claims.ID {
		t.Fatalf("jti changed in transit: %s != %s", decoded.ID, claims.ID)
	}
}

func TestCodecRejectsWrongType(t *testing.T) {
	c := testCodec(t)

	token, _, err := c.Issue(42, TokenRefresh, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := c.Decode(token, TokenAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for refresh-as-access, got %v", err)
	}
}

func TestCodecRejectsExpired(t *testing.T) {
	c := testCodec(t)
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return issued }

	token, _, err := c.Issue(7, TokenAccess, 10*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	c.now = func() time.Time { return issued.Add(11 * time.Minute) }
	if _, err := c.Decode(token, TokenAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after expiry, got %v", err)
	}

	c.now = func() time.Time { return issued.Add(9 * time.Minute) }
	if _, err := c.Decode(token, TokenAccess); err != nil {
		t.Fatalf("token should still verify before expiry: %v", err)
	}
}

func TestCodecRejectsTamperedPayload(t *testing.T) {
	c := testCodec(t)
	token, _, err := c.Issue(42, TokenAccess, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %s", token)
	}
	// Flip a character in the payload; the signature no longer matches.
	payload := []byte(parts[1])
	if payload[0] == 'A' {
		payload[0] = 'B'
	} else {
		payload[0] = 'A'
	}
	tampered := parts[0] + "." + string(payload) + "." + parts[2]

	if _, err := c.Decode(tampered, TokenAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for tampered token, got %v", err)
	}
}

func TestCodecRejectsUnsignedAlgorithm(t *testing.T) {
	c := testCodec(t)

	claims := &Claims{
		TokenType: TokenAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "posehub",
			Audience:  jwt.ClaimStrings{"posehub-api"},
			Subject:   "42",
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(time.Now().UTC().Add(time.Hour)),
			ID:        "forged",
		},
	}
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	if _, err := c.Decode(token, TokenAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for alg=none, got %v", err)
	}
}

func TestCodecRejectsWrongIssuerAndAudience(t *testing.T) {
	c := testCodec(t)
	other, err := NewCodec([]byte("0123456789abcdef0123456789abcdef"), "someone-else", "posehub-api")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	token, _, err := other.Issue(42, TokenAccess, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := c.Decode(token, TokenAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign issuer, got %v", err)
	}
}

func TestCodecRejectsWrongKey(t *testing.T) {
	c := testCodec(t)
	other, err := NewCodec([]byte("another-secret-another-secret-12"), "posehub", "posehub-api")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	token, _, err := other.Issue(42, TokenAccess, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := c.Decode(token, TokenAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong key, got %v", err)
	}
}

func TestCodecIssueValidation(t *testing.T) {
	c := testCodec(t)
	if _, _, err := c.Issue(0, TokenAccess, time.Hour); err == nil {
		t.Fatal("expected error for zero principal")
	}
	if _, _, err := c.Issue(1, TokenAccess, 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}
