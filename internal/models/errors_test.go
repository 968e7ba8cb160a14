package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := NewError(KindRateLimited, "slow down", "https://www.amazon.com/dp/B08N5WRWNW")
	assert.Equal(t, KindRateLimited, KindOf(err))

	// Wrapping must not hide the kind.
	wrapped := fmt.Errorf("request failed: %w", err)
	assert.Equal(t, KindRateLimited, KindOf(wrapped))

	assert.Equal(t, KindUnknown, KindOf(errors.New("plain error")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestMessageOf(t *testing.T) {
	err := NewError(KindInvalidInput, "URL is required", "")
	assert.Equal(t, "URL is required", MessageOf(err))

	assert.Equal(t, "plain error", MessageOf(errors.New("plain error")))
	assert.Equal(t, "", MessageOf(nil))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapError(KindNetwork, "network failure", "https://www.amazon.com", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "network failure")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestErrorKindString(t *testing.T) {
	assert.Equal(t, "rate_limited", KindRateLimited.String())
	assert.Equal(t, "bot_challenge", KindBotChallenge.String())
	assert.Equal(t, "unknown", KindUnknown.String())
	assert.Equal(t, "unknown", ErrorKind(99).String())
}
