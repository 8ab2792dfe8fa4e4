package util

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
)

func TestToDomainError(t *testing.T) {
	assert.Nil(t, ToDomainError(nil))

	unauthorized := ToDomainError(NewUnauthorized("invalid token"))
	assert.Equal(t, "UNAUTHORIZED", unauthorized.Code)
	assert.Equal(t, http.StatusUnauthorized, unauthorized.HTTPStatus)

	wrapped := ToDomainError(fmt.Errorf("login: %w", NewTooManyRequests("slow down", 30)))
	assert.Equal(t, "TOO_MANY_REQUESTS", wrapped.Code)
	assert.Equal(t, 30, wrapped.Details["retry_after_seconds"])

	fromFiber := ToDomainError(fiber.NewError(http.StatusBadRequest, "invalid payload"))
	assert.Equal(t, "VALIDATION_FAILED", fromFiber.Code)
	assert.Equal(t, "invalid payload", fromFiber.Message)

	notFound := ToDomainError(fmt.Errorf("get user: %w", pgx.ErrNoRows))
	assert.Equal(t, http.StatusNotFound, notFound.HTTPStatus)

	cause := errors.New("boom")
	internal := ToDomainError(cause)
	assert.Equal(t, "INTERNAL_ERROR", internal.Code)
	assert.ErrorIs(t, internal, cause)
}
