package errors

import (
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	err := NewAPIError(404, "/repos/acme/api", "request failed", nil)
	assert.Equal(t, "API_ERROR: request failed [404 /repos/acme/api]", err.Error())

	wrapped := NewInternalError("boom", fmt.Errorf("disk"))
	assert.Equal(t, "INTERNAL_ERROR: boom (disk)", wrapped.Error())
}

func TestClassification_SeesThroughWrapping(t *testing.T) {
	rl := NewRateLimitedError("budget exhausted", "/repos/acme/api")
	wrapped := &url.Error{Op: "Get", URL: "https://api.github.com/repos/acme/api", Err: rl}
	outer := fmt.Errorf("fetch snapshot: %w", wrapped)

	assert.True(t, IsRateLimited(outer))
	assert.False(t, IsAuth(outer))
	assert.Equal(t, ErrCodeRateLimited, CodeOf(outer))
	assert.Equal(t, 429, StatusOf(outer))
}

func TestClassification_NestedCodes(t *testing.T) {
	inner := NewAuthError("installation token rejected", nil)
	outer := NewInternalError("audit failed", inner)

	assert.True(t, IsAuth(outer))
	assert.True(t, IsFatal(outer))
	assert.Equal(t, ErrCodeInternal, CodeOf(outer))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(NewConfigError("workers", "must be positive")))
	assert.False(t, IsFatal(NewTimeoutError("repo timed out", nil)))
	assert.False(t, IsFatal(NewAPIError(500, "/x", "server error", nil)))
	assert.False(t, IsFatal(fmt.Errorf("plain")))
	assert.False(t, IsFatal(nil))
}

func TestCodeOf_PlainError(t *testing.T) {
	assert.Equal(t, ErrCodeInternal, CodeOf(fmt.Errorf("plain")))
	assert.Equal(t, 0, StatusOf(fmt.Errorf("plain")))
}
