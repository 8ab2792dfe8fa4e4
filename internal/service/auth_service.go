package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/fieldforce-service/internal/auth"
	"github.com/spec-kit/fieldforce-service/internal/config"
	"github.com/spec-kit/fieldforce-service/internal/domain"
	"github.com/spec-kit/fieldforce-service/internal/events"
	"github.com/spec-kit/fieldforce-service/internal/observability"
	"github.com/spec-kit/fieldforce-service/internal/repository"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account inactive")
	ErrWrongTokenKind     = errors.New("wrong token kind")
	ErrEmailTaken         = repository.ErrEmailTaken
	ErrInvalidRole        = errors.New("invalid role")
)

// ThrottledError is returned when too many failed logins were recorded for an email.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("too many login attempts; retry in %s", e.RetryAfter.Round(time.Second))
}

// TokenPair is the result of a successful login.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the access-token lifetime in whole seconds.
	ExpiresIn int64
}

// AuthService coordinates credential checks with token issuance and revocation.
type AuthService struct {
	users      repository.UserRepository
	tokens     *auth.TokenService
	limiter    *LoginLimiter
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	bcryptCost int
}

// AuthDependencies encapsulates collaborators for the auth service.
type AuthDependencies struct {
	UserRepo   repository.UserRepository
	Tokens     *auth.TokenService
	Limiter    *LoginLimiter
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:      deps.UserRepo,
		tokens:     deps.Tokens,
		limiter:    deps.Limiter,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
		bcryptCost: cfg.BcryptCost,
	}
}

// Login verifies credentials and issues an access/refresh pair.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.User, TokenPair, error) {
	email = normalizeEmail(email)

	if allowed, retryAfter := s.limiter.Allow(ctx, email); !allowed {
		s.metrics.LoginAttempt("throttled")
		s.publish(ctx, events.NewEvent(events.EventLoginFailed, events.Actor{Email: email},
			events.LoginFailedPayload{Reason: "throttled"}))
		return nil, TokenPair{}, &ThrottledError{RetryAfter: retryAfter}
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.loginFailed(ctx, email, "unknown_email")
			return nil, TokenPair{}, ErrInvalidCredentials
		}
		return nil, TokenPair{}, err
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		s.loginFailed(ctx, email, "bad_password")
		return nil, TokenPair{}, ErrInvalidCredentials
	}
	if !user.Active {
		s.metrics.LoginAttempt("inactive")
		return nil, TokenPair{}, ErrAccountInactive
	}

	s.limiter.Reset(ctx, email)

	pair, err := s.issuePair(user)
	if err != nil {
		return nil, TokenPair{}, err
	}
	s.metrics.LoginAttempt("success")
	s.publish(ctx, events.NewEvent(events.EventLoginSucceeded, actorOf(user), nil))
	return user, pair, nil
}

func (s *AuthService) loginFailed(ctx context.Context, email, reason string) {
	s.limiter.RecordFailure(ctx, email)
	s.metrics.LoginAttempt("invalid")
	s.publish(ctx, events.NewEvent(events.EventLoginFailed, events.Actor{Email: email},
		events.LoginFailedPayload{Reason: reason}))
}

func (s *AuthService) issuePair(user *domain.User) (TokenPair, error) {
	access, err := s.tokens.IssueAccessToken(user.ID, user.Role)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.tokens.IssueRefreshToken(user.ID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue refresh token: %w", err)
	}
	s.metrics.TokenIssued(string(domain.TokenKindAccess))
	s.metrics.TokenIssued(string(domain.TokenKindRefresh))
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    s.tokens.AccessLifetimeSeconds(),
	}, nil
}

// Refresh exchanges a valid refresh token for a new access token carrying the user's
// current role. The refresh token itself is not rotated.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*domain.User, string, error) {
	claims, err := s.tokens.Claims(refreshToken)
	if err != nil {
		return nil, "", err
	}
	if claims.Kind != domain.TokenKindRefresh {
		return nil, "", ErrWrongTokenKind
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	if !user.Active {
		return nil, "", ErrAccountInactive
	}

	access, err := s.tokens.IssueAccessToken(user.ID, user.Role)
	if err != nil {
		return nil, "", fmt.Errorf("issue access token: %w", err)
	}
	s.metrics.TokenIssued(string(domain.TokenKindAccess))
	s.publish(ctx, events.NewEvent(events.EventTokenRefreshed, actorOf(user), nil))
	return user, access, nil
}

// Logout revokes the caller's access token and, when supplied, a refresh token that belongs
// to the same user.
func (s *AuthService) Logout(ctx context.Context, userID int64, accessToken, refreshToken string) events.LoggedOutPayload {
	result := events.LoggedOutPayload{AccessRevoked: s.revoke(accessToken)}

	if refreshToken != "" {
		claims, err := s.tokens.Claims(refreshToken)
		switch {
		case err != nil:
			s.logger.Debug("logout: ignoring unusable refresh token", zap.Error(err))
		case claims.Kind != domain.TokenKindRefresh || claims.Subject != userID:
			s.logger.Warn("logout: refresh token does not belong to caller", zap.Int64("user_id", userID))
		default:
			result.RefreshRevoked = s.revoke(refreshToken)
		}
	}

	s.publish(ctx, events.NewEvent(events.EventLoggedOut, events.Actor{UserID: userID}, result))
	return result
}

func (s *AuthService) revoke(token string) bool {
	if token == "" {
		return false
	}
	if !s.tokens.Revoke(token) {
		return false
	}
	s.metrics.TokenRevoked()
	return true
}

// ChangePassword verifies the current password, stores the new hash and revokes the access
// token the request was made with.
func (s *AuthService) ChangePassword(ctx context.Context, userID int64, currentPassword, newPassword, accessToken string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := auth.ComparePassword(user.PasswordHash, currentPassword); err != nil {
		return ErrInvalidCredentials
	}

	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}

	s.revoke(accessToken)
	s.publish(ctx, events.NewEvent(events.EventPasswordChanged, actorOf(user), nil))
	return nil
}

// Register creates an active user. Only admins reach this through the HTTP layer.
func (s *AuthService) Register(ctx context.Context, name, email, password string, role domain.UserRole) (*domain.User, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	if !role.Valid() {
		return nil, ErrInvalidRole
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	s.publish(ctx, events.NewEvent(events.EventUserRegistered, actorOf(user), nil))
	return user, nil
}

// Tokens exposes the token service for middleware usage.
func (s *AuthService) Tokens() *auth.TokenService {
	return s.tokens
}

func (s *AuthService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event delivery failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func actorOf(user *domain.User) events.Actor {
	return events.Actor{UserID: user.ID, Role: user.Role, Email: user.Email}
}
