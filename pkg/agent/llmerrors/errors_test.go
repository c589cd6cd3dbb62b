package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromStatus(t *testing.T) {
	cases := map[int]ErrorType{
		429: ErrorTypeRateLimit,
		401: ErrorTypeAuth,
		403: ErrorTypeAuth,
		400: ErrorTypeBadPrompt,
		413: ErrorTypeBadPrompt,
		500: ErrorTypeTransient,
		503: ErrorTypeTransient,
		302: ErrorTypeUnknown,
	}
	for code, want := range cases {
		assert.Equal(t, want, FromStatus(code, nil).Type, "status %d", code)
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewError(ErrorTypeTransient, "reset")))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", NewError(ErrorTypeRateLimit, "slow down"))))
	assert.False(t, IsRetryable(NewError(ErrorTypeAuth, "bad key")))
	assert.False(t, IsRetryable(NewServiceUnavailableError(errors.New("x"), 3)))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(nil))
}

func TestTypeOfAndIs(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewErrorWithCause(ErrorTypeEmptyResponse, errors.New("no text"), "empty"))
	assert.Equal(t, ErrorTypeEmptyResponse, TypeOf(err))
	assert.True(t, Is(err, ErrorTypeEmptyResponse))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(errors.New("plain")))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "LLM error (auth): bad key", NewError(ErrorTypeAuth, "bad key").Error())
	assert.Equal(t, "LLM error (transient): status 502", (&Error{Type: ErrorTypeTransient, StatusCode: 502}).Error())
	cause := errors.New("boom")
	assert.ErrorIs(t, NewServiceUnavailableError(cause, 3), cause)
}

func TestSanitizePrompt(t *testing.T) {
	short := "short prompt"
	assert.Equal(t, short, SanitizePrompt(short, 100))

	long := strings.Repeat("a", 300) + strings.Repeat("b", 300)
	out := SanitizePrompt(long, 200)
	assert.Contains(t, out, "[600 chars, hash:")
	assert.True(t, strings.HasPrefix(out, strings.Repeat("a", 100)))
	assert.True(t, strings.HasSuffix(out, strings.Repeat("b", 100)))
}
