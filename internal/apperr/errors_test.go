package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("accept: %w", Wrap(CodeNotFoundOrAlreadyResolved, "gone", errors.New("no rows")))
	assert.ErrorIs(t, wrapped, ErrNotFoundOrAlreadyResolved)
	assert.NotErrorIs(t, wrapped, ErrDecryptionFailed)
}

func TestCodeOfAndMessage(t *testing.T) {
	err := fmt.Errorf("list: %w", StorageUnavailable(errors.New("dial tcp: refused")))
	assert.Equal(t, CodeStorageUnavailable, CodeOf(err))
	assert.Equal(t, "storage unavailable", Message(err))

	plain := errors.New("boom")
	assert.Equal(t, CodeInternal, CodeOf(plain))
	assert.Equal(t, "internal error", Message(plain))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeUnauthenticated, http.StatusUnauthorized},
		{CodeInvalidInput, http.StatusBadRequest},
		{CodeNotFoundOrAlreadyResolved, http.StatusNotFound},
		{CodePermissionDenied, http.StatusForbidden},
		{CodeStorageUnavailable, http.StatusServiceUnavailable},
		{CodeChannelUnavailable, http.StatusServiceUnavailable},
		{CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.code))
		})
	}
}
