package services

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetsync/internal/core/domain"
)

func TestTicketService_IssueAndValidate(t *testing.T) {
	svc := NewTicketService("secret", time.Hour)

	ticket, err := svc.Issue("m-1", "a-1", "user-1")
	require.NoError(t, err)

	claims, err := svc.Validate(ticket)
	require.NoError(t, err)
	assert.Equal(t, domain.MeetingID("m-1"), claims.MeetingID)
	assert.Equal(t, domain.AttendeeID("a-1"), claims.AttendeeID)
	assert.Equal(t, "user-1", claims.ExternalUserID)
}

func TestTicketService_Expired(t *testing.T) {
	svc := NewTicketService("secret", time.Minute)
	issued := time.Now().Add(-time.Hour)
	svc.now = func() time.Time { return issued }

	ticket, err := svc.Issue("m-1", "a-1", "u")
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.Validate(ticket)
	assert.ErrorIs(t, err, ErrExpiredTicket)
}

func TestTicketService_WrongSecret(t *testing.T) {
	ticket, err := NewTicketService("one", time.Hour).Issue("m-1", "a-1", "u")
	require.NoError(t, err)

	_, err = NewTicketService("two", time.Hour).Validate(ticket)
	assert.ErrorIs(t, err, ErrInvalidTicket)
}

func TestTicketService_RejectsMissingClaims(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "a-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	raw, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewTicketService("secret", time.Hour).Validate(raw)
	assert.ErrorIs(t, err, ErrInvalidTicket)
}

func TestTicketService_RejectsGarbage(t *testing.T) {
	_, err := NewTicketService("secret", time.Hour).Validate("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidTicket)
}
