package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/fieldforce-service/internal/domain"
	"github.com/spec-kit/fieldforce-service/internal/observability"
	"github.com/spec-kit/fieldforce-service/internal/repository"
	apperrors "github.com/spec-kit/fieldforce-service/pkg/util"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller.
type Principal struct {
	UserID int64
	Role   domain.UserRole
	// Token is the raw bearer token, kept so logout can revoke it.
	Token string
	User  *domain.User
}

// AuthMiddleware validates bearer access tokens and loads principals.
type AuthMiddleware struct {
	tokens  *TokenService
	users   repository.UserRepository
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenService, users repository.UserRepository, metrics *observability.Metrics, logger *zap.Logger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{tokens: tokens, users: users, metrics: metrics, logger: logger}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	token, err := BearerToken(c)
	if err != nil {
		m.metrics.TokenRejected("missing")
		return err
	}

	claims, err := m.tokens.Check(token)
	if err != nil {
		reason := rejectionReason(err)
		m.metrics.TokenRejected(reason)
		m.logger.Debug("bearer token rejected", zap.String("reason", reason))
		return apperrors.NewUnauthorized("invalid token")
	}
	if claims.Kind != domain.TokenKindAccess {
		m.metrics.TokenRejected("wrong_kind")
		return apperrors.NewUnauthorized("access token required")
	}

	user, err := m.users.GetByID(c.UserContext(), claims.Subject)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewUnauthorized("user not found")
		}
		return apperrors.MapError(err)
	}
	if !user.Active {
		return apperrors.NewForbidden("account inactive")
	}

	c.Locals(principalKey, &Principal{
		UserID: claims.Subject,
		Role:   claims.Role,
		Token:  token,
		User:   user,
	})
	return c.Next()
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(c *fiber.Ctx) (string, error) {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return "", apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", apperrors.NewUnauthorized("invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrRevoked):
		return "revoked"
	case errors.Is(err, ErrInvalidSignature):
		return "signature"
	default:
		return "malformed"
	}
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
