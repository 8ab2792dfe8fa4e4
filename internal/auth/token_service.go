package auth

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/fieldforce-service/internal/domain"
)

// TokenServiceConfig holds immutable token settings supplied at startup.
type TokenServiceConfig struct {
	Secret          []byte
	AccessLifetime  time.Duration
	RefreshLifetime time.Duration
	// Now overrides the clock, mostly for tests.
	Now func() time.Time
}

// TokenService issues, validates and revokes access and refresh tokens.
type TokenService struct {
	codec           *Codec
	revoked         *RevocationStore
	accessLifetime  time.Duration
	refreshLifetime time.Duration
	now             func() time.Time
}

// NewTokenService builds the service around an explicitly owned revocation store.
func NewTokenService(cfg TokenServiceConfig, revoked *RevocationStore) (*TokenService, error) {
	if cfg.AccessLifetime <= 0 || cfg.RefreshLifetime <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}
	if revoked == nil {
		return nil, errors.New("revocation store required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	codec, err := NewCodec(cfg.Secret, now)
	if err != nil {
		return nil, err
	}
	return &TokenService{
		codec:           codec,
		revoked:         revoked,
		accessLifetime:  cfg.AccessLifetime,
		refreshLifetime: cfg.RefreshLifetime,
		now:             now,
	}, nil
}

// IssueAccessToken signs a role-bearing access token for the user.
func (s *TokenService) IssueAccessToken(userID int64, role domain.UserRole) (string, error) {
	return s.issue(userID, role, domain.TokenKindAccess, s.accessLifetime)
}

// IssueRefreshToken signs a role-less refresh token for the user.
func (s *TokenService) IssueRefreshToken(userID int64) (string, error) {
	return s.issue(userID, "", domain.TokenKindRefresh, s.refreshLifetime)
}

func (s *TokenService) issue(userID int64, role domain.UserRole, kind domain.TokenKind, lifetime time.Duration) (string, error) {
	issuedAt := s.now().Truncate(time.Millisecond)
	return s.codec.Encode(ClaimSet{
		Subject:   userID,
		Role:      role,
		Kind:      kind,
		ID:        uuid.NewString(),
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(lifetime),
	})
}

// Check decodes the token and consults the revocation store. The error is one of
// ErrMalformedToken, ErrInvalidSignature, ErrExpired or ErrRevoked.
func (s *TokenService) Check(token string) (ClaimSet, error) {
	claims, err := s.codec.Decode(token)
	if err != nil {
		return ClaimSet{}, err
	}
	if s.revoked.IsRevoked(token) {
		return ClaimSet{}, ErrRevoked
	}
	return claims, nil
}

// Validate reports whether the token verifies, has not expired and is not revoked.
func (s *TokenService) Validate(token string) bool {
	_, err := s.Check(token)
	return err == nil
}

// ValidateKind is Validate plus a check that the token is of the expected kind.
func (s *TokenService) ValidateKind(token string, kind domain.TokenKind) bool {
	claims, err := s.Check(token)
	return err == nil && claims.Kind == kind
}

// Claims returns the verified claim set or an *InvalidTokenError.
func (s *TokenService) Claims(token string) (ClaimSet, error) {
	claims, err := s.Check(token)
	if err != nil {
		return ClaimSet{}, &InvalidTokenError{Reason: err}
	}
	return claims, nil
}

// UserID returns the token subject.
func (s *TokenService) UserID(token string) (int64, error) {
	claims, err := s.Claims(token)
	if err != nil {
		return 0, err
	}
	return claims.Subject, nil
}

// Role returns the role of an access token. Refresh tokens yield *MissingClaimError.
func (s *TokenService) Role(token string) (domain.UserRole, error) {
	claims, err := s.Claims(token)
	if err != nil {
		return "", err
	}
	if !claims.HasRole() {
		return "", &MissingClaimError{Claim: "role"}
	}
	return claims.Role, nil
}

// Kind returns whether the token is an access or refresh token.
func (s *TokenService) Kind(token string) (domain.TokenKind, error) {
	claims, err := s.Claims(token)
	if err != nil {
		return "", err
	}
	return claims.Kind, nil
}

// Revoke invalidates the token for every later validation. Expired tokens are accepted
// without error. Tokens that fail signature or structure checks are ignored: nobody can
// legitimately hold one. It reports whether a revocation entry is now held.
func (s *TokenService) Revoke(token string) bool {
	claims, err := s.codec.Decode(token)
	if err != nil && !errors.Is(err, ErrExpired) {
		return false
	}
	return s.revoked.Revoke(token, claims.ExpiresAt)
}

// AccessLifetimeSeconds returns the access-token lifetime in whole seconds.
func (s *TokenService) AccessLifetimeSeconds() int64 {
	return int64(s.accessLifetime / time.Second)
}

// AccessLifetime returns the configured access-token lifetime.
func (s *TokenService) AccessLifetime() time.Duration {
	return s.accessLifetime
}

// RefreshLifetime returns the configured refresh-token lifetime.
func (s *TokenService) RefreshLifetime() time.Duration {
	return s.refreshLifetime
}
