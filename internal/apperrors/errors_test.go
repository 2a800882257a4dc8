package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindStatus(t *testing.T) {
	cases := map[Kind]int{
		KindInternal:         http.StatusInternalServerError,
		KindValidation:       http.StatusBadRequest,
		KindConflict:         http.StatusConflict,
		KindUnauthorized:     http.StatusUnauthorized,
		KindForbidden:        http.StatusForbidden,
		KindInvalidOrExpired: http.StatusBadRequest,
		KindNotFound:         http.StatusNotFound,
		KindTooManyRequests:  http.StatusTooManyRequests,
		KindTooLarge:         http.StatusRequestEntityTooLarge,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.Status(), kind.String())
	}
}

func TestAsWrapped(t *testing.T) {
	base := Conflict("Email already exists", map[string]string{"email": "Email already exists"})
	wrapped := fmt.Errorf("register: %w", base)

	got := As(wrapped)
	require.Same(t, base, got)
	assert.Equal(t, KindConflict, KindOf(wrapped))
}

func TestAsUnclassified(t *testing.T) {
	cause := errors.New("connection reset")

	got := As(cause)
	assert.Equal(t, KindInternal, got.Kind)
	assert.Equal(t, "Internal server error", got.Message)
	assert.ErrorIs(t, got, cause)
}

func TestInternalHidesCauseFromMessage(t *testing.T) {
	err := Internal("Failed to send email", errors.New("smtp: 535 auth failed"))

	assert.Equal(t, "Failed to send email", err.Message)
	assert.Contains(t, err.Error(), "smtp")
}
