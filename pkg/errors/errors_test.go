package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "bad list", http.StatusBadRequest)
	assert.Equal(t, "INVALID_INPUT: bad list", err.Error())

	wrapped := WrapError(errors.New("dial tcp"), ErrCodeBadGateway, "registry unreachable", http.StatusBadGateway)
	assert.Contains(t, wrapped.Error(), "dial tcp")
	assert.ErrorIs(t, wrapped, wrapped.Cause)
}

func TestAppError_WithContext(t *testing.T) {
	err := NewCapacityExceededError("Maximum of 4 collaborators allowed").
		WithContext("limit", 4)

	assert.Equal(t, 4, err.Context["limit"])
	assert.Equal(t, http.StatusForbidden, err.HTTPStatus)
}

func TestGetAppError_Unwraps(t *testing.T) {
	inner := NewForbiddenError("Unauthorized: Not the current host")
	outer := fmt.Errorf("assign host: %w", inner)

	got := GetAppError(outer)
	require.NotNil(t, got)
	assert.Equal(t, ErrCodeForbidden, got.Code)
	assert.True(t, HasCode(outer, ErrCodeForbidden))
	assert.False(t, HasCode(outer, ErrCodeNotFound))
	assert.Nil(t, GetAppError(errors.New("plain")))
}

func TestFromHTTPStatus(t *testing.T) {
	cases := map[int]ErrorCode{
		http.StatusBadRequest:          ErrCodeInvalidInput,
		http.StatusForbidden:           ErrCodeForbidden,
		http.StatusNotFound:            ErrCodeNotFound,
		http.StatusTooManyRequests:     ErrCodeRateLimit,
		http.StatusInternalServerError: ErrCodeBadGateway,
	}
	for status, code := range cases {
		err := FromHTTPStatus(status, "")
		assert.Equal(t, code, err.Code, "status %d", status)
		assert.Equal(t, status, err.HTTPStatus)
		assert.NotEmpty(t, err.Message)
	}
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(NewInvalidInputError("x")))
	assert.True(t, IsClientError(fmt.Errorf("wrap: %w", NewNotFoundError("meeting"))))
	assert.False(t, IsClientError(NewServiceUnavailableError("down")))
	assert.False(t, IsClientError(errors.New("eof")))
}
