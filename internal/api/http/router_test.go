package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/fieldforce-service/internal/api/http/handlers"
	"github.com/spec-kit/fieldforce-service/internal/auth"
	"github.com/spec-kit/fieldforce-service/internal/config"
	"github.com/spec-kit/fieldforce-service/internal/domain"
	"github.com/spec-kit/fieldforce-service/internal/events"
	"github.com/spec-kit/fieldforce-service/internal/observability"
	"github.com/spec-kit/fieldforce-service/internal/repository"
	"github.com/spec-kit/fieldforce-service/internal/service"
)

type memoryUsers struct {
	mu        sync.Mutex
	nextID    int64
	users     map[int64]domain.User
	createErr error
}

func (r *memoryUsers) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.nextID++
	user.ID = r.nextID
	user.CreatedAt = time.Now()
	r.users[user.ID] = *user
	return nil
}

func (r *memoryUsers) UpdatePassword(_ context.Context, id int64, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	user.PasswordHash = hash
	r.users[id] = user
	return nil
}

func (r *memoryUsers) GetByID(_ context.Context, id int64) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &user, nil
}

func (r *memoryUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if strings.EqualFold(user.Email, email) {
			u := user
			return &u, nil
		}
	}
	return nil, pgx.ErrNoRows
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	app    *fiber.App
	users  *memoryUsers
	tokens *auth.TokenService
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()

	tokens, err := auth.NewTokenService(auth.TokenServiceConfig{
		Secret:          []byte("0123456789abcdef0123456789abcdef"),
		AccessLifetime:  time.Hour,
		RefreshLifetime: 24 * time.Hour,
	}, auth.NewRevocationStore(nil))
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	users := &memoryUsers{users: map[int64]domain.User{}}
	authService := service.NewAuthService(config.AuthConfig{BcryptCost: bcrypt.MinCost}, service.AuthDependencies{
		UserRepo:   users,
		Tokens:     tokens,
		Limiter:    service.NewLoginLimiter(client, 2, time.Minute, logger),
		Dispatcher: events.NewInMemoryDispatcher(),
		Metrics:    metrics,
		Logger:     logger,
	})

	app := fiber.New()
	RegisterMiddlewares(app, logger, metrics, 5*time.Second)
	RegisterRoutes(app, RouteConfig{
		Health: handlers.NewHealthHandler("fieldforce-service", "test", map[string]handlers.Pinger{
			"postgres": pingFunc(func(context.Context) error { return nil }),
			"redis":    pingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() }),
		}),
		Auth:           handlers.NewAuthHandler(authService),
		Metrics:        metrics.Handler(),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, users, metrics, logger),
	})

	return testServer{app: app, users: users, tokens: tokens}
}

func (s testServer) seed(t *testing.T, email, password string, role domain.UserRole) {
	t.Helper()
	hash, err := auth.HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, s.users.Create(context.Background(), &domain.User{
		Name: "Seeded", Email: email, PasswordHash: hash, Role: role, Active: true,
	}))
}

func (s testServer) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	payload := map[string]any{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(raw, &payload))
	}
	return resp.StatusCode, payload
}

func (s testServer) login(t *testing.T, email, password string) (string, string) {
	t.Helper()
	status, body := s.do(t, stdhttp.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(t, stdhttp.StatusOK, status)
	authPayload := body["data"].(map[string]any)["auth"].(map[string]any)
	return authPayload["access_token"].(string), authPayload["refresh_token"].(string)
}

func errorCode(body map[string]any) string {
	errPayload, ok := body["error"].(map[string]any)
	if !ok {
		return ""
	}
	code, _ := errPayload["code"].(string)
	return code
}

func TestLoginIssuesBearerTokens(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "rep@example.com", "correct-horse", domain.UserRoleUser)

	status, body := s.do(t, stdhttp.MethodPost, "/auth/login", "", map[string]string{
		"email": "rep@example.com", "password": "correct-horse",
	})
	require.Equal(t, stdhttp.StatusOK, status)

	authPayload := body["data"].(map[string]any)["auth"].(map[string]any)
	assert.Equal(t, "Bearer", authPayload["token_type"])
	assert.Equal(t, float64(3600), authPayload["expires_in"])
	assert.True(t, s.tokens.ValidateKind(authPayload["access_token"].(string), domain.TokenKindAccess))
	assert.True(t, s.tokens.ValidateKind(authPayload["refresh_token"].(string), domain.TokenKindRefresh))
}

func TestLoginFailures(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "rep@example.com", "correct-horse", domain.UserRoleUser)

	status, body := s.do(t, stdhttp.MethodPost, "/auth/login", "", map[string]string{"email": "rep@example.com"})
	assert.Equal(t, stdhttp.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))

	for i := 0; i < 2; i++ {
		status, body = s.do(t, stdhttp.MethodPost, "/auth/login", "", map[string]string{"email": "rep@example.com", "password": "nope-nope"})
		assert.Equal(t, stdhttp.StatusUnauthorized, status)
		assert.Equal(t, "UNAUTHORIZED", errorCode(body))
	}

	status, body = s.do(t, stdhttp.MethodPost, "/auth/login", "", map[string]string{"email": "rep@example.com", "password": "correct-horse"})
	assert.Equal(t, stdhttp.StatusTooManyRequests, status)
	assert.Equal(t, "TOO_MANY_REQUESTS", errorCode(body))
}

func TestRefreshFlow(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "rep@example.com", "correct-horse", domain.UserRoleLeader)
	access, refresh := s.login(t, "rep@example.com", "correct-horse")

	status, body := s.do(t, stdhttp.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refresh})
	require.Equal(t, stdhttp.StatusOK, status)
	authPayload := body["data"].(map[string]any)["auth"].(map[string]any)
	assert.NotContains(t, authPayload, "refresh_token")
	role, err := s.tokens.Role(authPayload["access_token"].(string))
	require.NoError(t, err)
	assert.Equal(t, domain.UserRoleLeader, role)

	status, _ = s.do(t, stdhttp.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": access})
	assert.Equal(t, stdhttp.StatusUnauthorized, status)
}

func TestLogoutRevokesTokens(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "rep@example.com", "correct-horse", domain.UserRoleUser)
	access, refresh := s.login(t, "rep@example.com", "correct-horse")

	status, _ := s.do(t, stdhttp.MethodGet, "/auth/me", access, nil)
	require.Equal(t, stdhttp.StatusOK, status)

	status, body := s.do(t, stdhttp.MethodPost, "/auth/logout", access, map[string]string{"refresh_token": refresh})
	require.Equal(t, stdhttp.StatusOK, status)
	data := body["data"].(map[string]any)
	assert.Equal(t, true, data["access_revoked"])
	assert.Equal(t, true, data["refresh_revoked"])

	status, _ = s.do(t, stdhttp.MethodGet, "/auth/me", access, nil)
	assert.Equal(t, stdhttp.StatusUnauthorized, status)

	status, _ = s.do(t, stdhttp.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refresh})
	assert.Equal(t, stdhttp.StatusUnauthorized, status)
}

func TestChangePasswordRevokesBearer(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "rep@example.com", "correct-horse", domain.UserRoleUser)
	access, _ := s.login(t, "rep@example.com", "correct-horse")

	status, _ := s.do(t, stdhttp.MethodPost, "/auth/password/change", access, map[string]string{
		"current_password": "correct-horse", "new_password": "battery-staple",
	})
	require.Equal(t, stdhttp.StatusOK, status)

	status, _ = s.do(t, stdhttp.MethodGet, "/auth/me", access, nil)
	assert.Equal(t, stdhttp.StatusUnauthorized, status)
	s.login(t, "rep@example.com", "battery-staple")
}

func TestAdminRegisterRequiresAdmin(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "admin@example.com", "correct-horse", domain.UserRoleAdmin)
	s.seed(t, "leader@example.com", "correct-horse", domain.UserRoleLeader)
	adminToken, _ := s.login(t, "admin@example.com", "correct-horse")
	leaderToken, _ := s.login(t, "leader@example.com", "correct-horse")

	newUser := map[string]string{"name": "New", "email": "new@example.com", "password": "long-enough", "role": "USER"}

	status, _ := s.do(t, stdhttp.MethodPost, "/admin/users", "", newUser)
	assert.Equal(t, stdhttp.StatusUnauthorized, status)

	status, body := s.do(t, stdhttp.MethodPost, "/admin/users", leaderToken, newUser)
	assert.Equal(t, stdhttp.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", errorCode(body))

	status, body = s.do(t, stdhttp.MethodPost, "/admin/users", adminToken, newUser)
	require.Equal(t, stdhttp.StatusCreated, status)
	assert.Equal(t, "new@example.com", body["data"].(map[string]any)["email"])

	status, body = s.do(t, stdhttp.MethodPost, "/admin/users", adminToken, newUser)
	assert.Equal(t, stdhttp.StatusConflict, status)
	assert.Equal(t, "CONFLICT", errorCode(body))

	newUser["email"] = "other@example.com"
	newUser["role"] = "OWNER"
	status, _ = s.do(t, stdhttp.MethodPost, "/admin/users", adminToken, newUser)
	assert.Equal(t, stdhttp.StatusBadRequest, status)
}

func TestAdminRegisterConcurrentDuplicateIsConflict(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "admin@example.com", "correct-horse", domain.UserRoleAdmin)
	adminToken, _ := s.login(t, "admin@example.com", "correct-horse")

	s.users.mu.Lock()
	s.users.createErr = fmt.Errorf("insert user: %w", repository.ErrEmailTaken)
	s.users.mu.Unlock()

	status, body := s.do(t, stdhttp.MethodPost, "/admin/users", adminToken, map[string]string{
		"name": "Late", "email": "race@example.com", "password": "long-enough", "role": "USER",
	})
	assert.Equal(t, stdhttp.StatusConflict, status)
	assert.Equal(t, "CONFLICT", errorCode(body))
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, stdhttp.MethodGet, "/health/live", "", nil)
	assert.Equal(t, stdhttp.StatusOK, status)
	assert.Equal(t, "alive", body["status"])

	status, body = s.do(t, stdhttp.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, stdhttp.StatusOK, status)
	assert.Equal(t, "ready", body["status"])

	req := httptest.NewRequest(stdhttp.MethodGet, "/metrics", nil)
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, stdhttp.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "http_requests_total")
}

func TestReadinessReportsFailingDependency(t *testing.T) {
	app := fiber.New()
	h := handlers.NewHealthHandler("svc", "v", map[string]handlers.Pinger{
		"postgres": pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})
	app.Get("/health/ready", h.Ready)

	resp, err := app.Test(httptest.NewRequest(stdhttp.MethodGet, "/health/ready", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, stdhttp.StatusServiceUnavailable, resp.StatusCode)
}

func TestRequestIDAndNotFound(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(stdhttp.MethodGet, "/nowhere", nil)
	req.Header.Set(HeaderRequestID, "req-123")
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, stdhttp.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "req-123", resp.Header.Get(HeaderRequestID))

	resp2, err := s.app.Test(httptest.NewRequest(stdhttp.MethodGet, "/health/live", nil), -1)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.NotEmpty(t, resp2.Header.Get(HeaderRequestID))
}
