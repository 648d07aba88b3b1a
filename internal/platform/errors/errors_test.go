package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(cause, ErrCodeUnavailable, "database unreachable")

	assert.True(t, HasCode(err, ErrCodeUnavailable))
	assert.True(t, stderrors.Is(err, cause))
	assert.Contains(t, err.Error(), "UNAVAILABLE")
	assert.Contains(t, err.Error(), "connection refused")

	assert.Nil(t, Wrap(nil, ErrCodeInternal, "ignored"))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrCodeNotFound, CodeOf(NotFound("assignment", "a-1")))
	assert.Equal(t, ErrCodeInternal, CodeOf(stderrors.New("plain")))

	wrapped := fmt.Errorf("reading assignment: %w", NotFound("assignment", "a-1"))
	assert.Equal(t, ErrCodeNotFound, CodeOf(wrapped))
	assert.True(t, HasCode(wrapped, ErrCodeNotFound))
	assert.False(t, HasCode(wrapped, ErrCodeConflict))
}

func TestInvalidTransitionMessage(t *testing.T) {
	err := InvalidTransition("a-9", "completed", "in_progress")
	assert.Contains(t, err.Error(), "a-9")
	assert.Contains(t, err.Error(), "completed")
	assert.Contains(t, err.Error(), "in_progress")
}
