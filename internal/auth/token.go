package auth

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType tags a token as access or refresh so one can never be presented
// where the other is expected.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Claims is the fixed claim set carried by signed tokens. Claims are
// validated on decode, never accessed by string key.
type Claims struct {
	TokenType TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

// PrincipalID parses the numeric subject back out of the claims. A missing
// or non-integer subject is a decode failure.
func (c *Claims) PrincipalID() (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Subject), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// Codec encodes, decodes and verifies signed time-bound tokens.
//
// The signing algorithm is pinned to HS256: tokens claiming "none" or any
// other algorithm are rejected outright, closing the algorithm-confusion
// hole. Codec operations are pure and safe for concurrent use.
type Codec struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// NewCodec constructs a Codec with the given symmetric key and the
// issuer/audience pair every issued token carries.
func NewCodec(secret []byte, issuer, audience string) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: token secret is required")
	}
	issuer = strings.TrimSpace(issuer)
	audience = strings.TrimSpace(audience)
	if issuer == "" || audience == "" {
		return nil, errors.New("auth: issuer and audience are required")
	}
	return &Codec{secret: secret, issuer: issuer, audience: audience, now: time.Now}, nil
}

// Issue signs a fresh token for the given principal with a random jti.
func (c *Codec) Issue(principalID int64, typ TokenType, ttl time.Duration) (string, *Claims, error) {
	if principalID <= 0 {
		return "", nil, ErrInvalidInput
	}
	if ttl <= 0 {
		return "", nil, errors.New("auth: ttl must be greater than zero")
	}

	now := c.now().UTC()
	claims := &Claims{
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			Subject:   strconv.FormatInt(principalID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Decode verifies signature, issuer, audience, expiry and type tag. Every
// failure collapses to ErrInvalidToken; callers must not learn which check
// tripped.
func (c *Codec) Decode(token string, expected TokenType) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	parser := jwt.NewParser(
		jwt.WithTimeFunc(func() time.Time { return c.now().UTC() }),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	parsed, err := parser.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != expected {
		return nil, ErrInvalidToken
	}
	if _, err := claims.PrincipalID(); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
