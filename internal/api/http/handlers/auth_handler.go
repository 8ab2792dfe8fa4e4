package handlers

import (
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/fieldforce-service/internal/api/dto"
	"github.com/spec-kit/fieldforce-service/internal/auth"
	"github.com/spec-kit/fieldforce-service/internal/domain"
	"github.com/spec-kit/fieldforce-service/internal/service"
	apperrors "github.com/spec-kit/fieldforce-service/pkg/util"
)

const tokenTypeBearer = "Bearer"

// AuthHandler exposes login, refresh, logout and account endpoints.
type AuthHandler struct {
	authService *service.AuthService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := validateRequest(&req); err != nil {
		return err
	}

	user, pair, err := h.authService.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return mapAuthError(err)
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"user": userResponse(user),
			"auth": dto.TokenResponse{
				AccessToken:  pair.AccessToken,
				RefreshToken: pair.RefreshToken,
				TokenType:    tokenTypeBearer,
				ExpiresIn:    pair.ExpiresIn,
			},
		},
	})
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req dto.RefreshRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if err := validateRequest(&req); err != nil {
		return err
	}

	_, access, err := h.authService.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return mapAuthError(err)
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"auth": dto.TokenResponse{
				AccessToken: access,
				TokenType:   tokenTypeBearer,
				ExpiresIn:   h.authService.Tokens().AccessLifetimeSeconds(),
			},
		},
	})
}

// Logout handles POST /auth/logout. The body is optional.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "authentication required")
	}

	var req dto.LogoutRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid payload")
		}
	}

	result := h.authService.Logout(c.UserContext(), principal.UserID, principal.Token, strings.TrimSpace(req.RefreshToken))
	return c.JSON(fiber.Map{
		"data": dto.LogoutResponse{
			AccessRevoked:  result.AccessRevoked,
			RefreshRevoked: result.RefreshRevoked,
		},
	})
}

// Me handles GET /auth/me.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.User == nil {
		return fiber.NewError(http.StatusUnauthorized, "authentication required")
	}
	return c.JSON(fiber.Map{"data": userResponse(principal.User)})
}

// ChangePassword handles POST /auth/password/change.
func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "authentication required")
	}

	var req dto.PasswordChangeRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	if err := h.authService.ChangePassword(c.UserContext(), principal.UserID, req.CurrentPassword, req.NewPassword, principal.Token); err != nil {
		return mapAuthError(err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"status": "password_changed"}})
}

// Register handles POST /admin/users.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterUserRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if err := validateRequest(&req); err != nil {
		return err
	}
	if req.Role == "" {
		req.Role = domain.UserRoleUser
	}

	user, err := h.authService.Register(c.UserContext(), req.Name, req.Email, req.Password, req.Role)
	if err != nil {
		return mapAuthError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": userResponse(user)})
}

func mapAuthError(err error) error {
	var throttled *service.ThrottledError
	switch {
	case errors.As(err, &throttled):
		return apperrors.NewTooManyRequests("too many login attempts", int(math.Ceil(throttled.RetryAfter.Seconds())))
	case auth.IsInvalidToken(err), errors.Is(err, service.ErrWrongTokenKind):
		return apperrors.NewUnauthorized("invalid token")
	case errors.Is(err, service.ErrInvalidCredentials):
		return apperrors.NewUnauthorized("invalid credentials")
	case errors.Is(err, service.ErrAccountInactive):
		return apperrors.NewForbidden("account inactive")
	case errors.Is(err, service.ErrEmailTaken):
		return apperrors.NewConflict("email already registered", nil)
	case errors.Is(err, service.ErrInvalidRole):
		return apperrors.NewValidationError("invalid role", map[string]any{"allowed": domain.UserRoles})
	case errors.Is(err, auth.ErrPasswordTooShort):
		return apperrors.NewValidationError(err.Error(), nil)
	}
	return apperrors.MapError(err)
}

func userResponse(user *domain.User) dto.UserResponse {
	return dto.UserResponse{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Role:      user.Role,
		Active:    user.Active,
		CreatedAt: user.CreatedAt,
	}
}
