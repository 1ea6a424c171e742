package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithErrorKeepsPredefinedUntouched(t *testing.T) {
	cause := fmt.Errorf("boom")
	e := ErrUnauthorized.WithError(cause)

	assert.Nil(t, ErrUnauthorized.Err)
	assert.Equal(t, cause, e.Unwrap())
	assert.True(t, Is(e, ErrUnauthorized))
	assert.True(t, Is(e, cause))
	assert.False(t, Is(e, ErrForbidden))
	assert.Equal(t, "授权异常: boom", e.Error())
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, StatusCode(ErrUnauthorized, http.StatusForbidden))
	assert.Equal(t, http.StatusForbidden, StatusCode(fmt.Errorf("plain"), http.StatusForbidden))
	assert.Equal(t, http.StatusForbidden, StatusCode(New(9, "ok"), http.StatusForbidden))

	wrapped := fmt.Errorf("ctx: %w", ErrNotFound)
	assert.Equal(t, http.StatusNotFound, StatusCode(wrapped, http.StatusTeapot))
}

func TestWithMessage(t *testing.T) {
	e := ErrNotFound.WithMessage("WebSocket handler not found")
	assert.Equal(t, "WebSocket handler not found", e.Error())
	assert.Equal(t, ErrNotFound.Code, e.Code)
	assert.Equal(t, "资源不存在", ErrNotFound.Message)
}
