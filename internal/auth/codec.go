package auth

import (
	"errors"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/fieldforce-service/internal/domain"
)

// MinSecretLength is the shortest HS256 secret the codec accepts.
const MinSecretLength = 32

var errInvalidClaims = errors.New("invalid claim set")

// ClaimSet is the typed payload carried by a signed token.
type ClaimSet struct {
	Subject   int64
	Role      domain.UserRole
	Kind      domain.TokenKind
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HasRole reports whether the claim set carries a role.
func (c ClaimSet) HasRole() bool {
	return c.Role != ""
}

func (c ClaimSet) validate() error {
	if c.Subject <= 0 || c.ExpiresAt.IsZero() {
		return errInvalidClaims
	}
	switch c.Kind {
	case domain.TokenKindAccess:
		if !c.Role.Valid() {
			return errInvalidClaims
		}
	case domain.TokenKindRefresh:
		if c.Role != "" {
			return errInvalidClaims
		}
	default:
		return errInvalidClaims
	}
	return nil
}

// tokenClaims is the wire form. exp/iat keep whole seconds for standard JWT consumers;
// exp_ms/iat_ms carry the millisecond deadline the codec enforces.
type tokenClaims struct {
	Kind            domain.TokenKind `json:"kind"`
	Role            domain.UserRole  `json:"role,omitempty"`
	IssuedAtMillis  int64            `json:"iat_ms"`
	ExpiresAtMillis int64            `json:"exp_ms"`
	jwt.RegisteredClaims
}

func (tc *tokenClaims) claimSet() (ClaimSet, error) {
	subject, err := strconv.ParseInt(tc.Subject, 10, 64)
	if err != nil {
		return ClaimSet{}, errInvalidClaims
	}
	if tc.ExpiresAtMillis <= 0 {
		return ClaimSet{}, errInvalidClaims
	}
	claims := ClaimSet{
		Subject:   subject,
		Role:      tc.Role,
		Kind:      tc.Kind,
		ID:        tc.ID,
		IssuedAt:  time.UnixMilli(tc.IssuedAtMillis),
		ExpiresAt: time.UnixMilli(tc.ExpiresAtMillis),
	}
	if err := claims.validate(); err != nil {
		return ClaimSet{}, err
	}
	return claims, nil
}

// Codec signs claim sets into HS256 JWTs and verifies them back. It holds no mutable state.
type Codec struct {
	secret []byte
	now    func() time.Time
	parser *jwt.Parser
}

// NewCodec builds a codec. now defaults to time.Now.
func NewCodec(secret []byte, now func() time.Time) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	if now == nil {
		now = time.Now
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Codec{
		secret: key,
		now:    now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
			jwt.WithStrictDecoding(),
		),
	}, nil
}

// Encode signs the claim set.
func (c *Codec) Encode(claims ClaimSet) (string, error) {
	if err := claims.validate(); err != nil {
		return "", err
	}
	tc := &tokenClaims{
		Kind:            claims.Kind,
		Role:            claims.Role,
		IssuedAtMillis:  claims.IssuedAt.UnixMilli(),
		ExpiresAtMillis: claims.ExpiresAt.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(claims.Subject, 10),
			ID:        claims.ID,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(c.secret)
}

// Decode verifies structure, then signature, then expiry, and returns the first failure.
// On ErrExpired the verified claim set is returned alongside the error.
func (c *Codec) Decode(tokenStr string) (ClaimSet, error) {
	if !wellFormed(tokenStr) {
		return ClaimSet{}, ErrMalformedToken
	}

	var tc tokenClaims
	if _, err := c.parser.ParseWithClaims(tokenStr, &tc, c.keyFunc); err != nil {
		return ClaimSet{}, classifyParseError(err)
	}

	claims, err := tc.claimSet()
	if err != nil {
		return ClaimSet{}, ErrMalformedToken
	}
	if !c.now().Before(claims.ExpiresAt) {
		return claims, ErrExpired
	}
	return claims, nil
}

func (c *Codec) keyFunc(token *jwt.Token) (interface{}, error) {
	if token.Method != jwt.SigningMethodHS256 {
		return nil, errors.New("unexpected signing method")
	}
	return c.secret, nil
}

// wellFormed accepts exactly three non-empty segments of unpadded base64url characters.
// Together with strict decoding this makes every accepted token string canonical, so the
// string can serve as the revocation key.
func wellFormed(tokenStr string) bool {
	parts := strings.Split(tokenStr, ".")
	if len(parts) != 3 {
		return false
	}
	for _, part := range parts {
		if part == "" || strings.IndexFunc(part, notBase64URL) >= 0 {
			return false
		}
	}
	return true
}

func notBase64URL(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		return false
	}
	return true
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSignature
	default:
		return ErrMalformedToken
	}
}
