package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"meetsync/internal/core/domain"
)

var (
	ErrInvalidTicket = errors.New("invalid ticket")
	ErrExpiredTicket = errors.New("ticket expired")
)

// TicketClaims admit one attendee of one meeting to the relay.
type TicketClaims struct {
	MeetingID      domain.MeetingID  `json:"meetingId"`
	AttendeeID     domain.AttendeeID `json:"attendeeId"`
	ExternalUserID string            `json:"externalUserId"`
	jwt.RegisteredClaims
}

// TicketService issues and validates relay admission tickets. The registry
// hands the ticket out as the attendee's JoinToken.
type TicketService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTicketService(secret string, ttl time.Duration) *TicketService {
	return &TicketService{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *TicketService) Issue(meetingID domain.MeetingID, attendeeID domain.AttendeeID, externalUserID string) (string, error) {
	now := s.now()
	claims := &TicketClaims{
		MeetingID:      meetingID,
		AttendeeID:     attendeeID,
		ExternalUserID: externalUserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(attendeeID),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *TicketService) Validate(ticket string) (*TicketClaims, error) {
	token, err := jwt.ParseWithClaims(ticket, &TicketClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidTicket
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredTicket
		}
		return nil, ErrInvalidTicket
	}

	claims, ok := token.Claims.(*TicketClaims)
	if !ok || !token.Valid || claims.MeetingID == "" || claims.AttendeeID == "" {
		return nil, ErrInvalidTicket
	}
	return claims, nil
}
