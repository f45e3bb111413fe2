package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"meetsync/internal/core/services"
	apperrors "meetsync/pkg/errors"
)

const TicketClaimsKey = "ticket_claims"

// TicketMiddleware admits relay sockets that present a valid join token,
// either as ?ticket= or as a bearer token.
func TicketMiddleware(tickets *services.TicketService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ticket := c.Query("ticket")
		if ticket == "" {
			if parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2); len(parts) == 2 && parts[0] == "Bearer" {
				ticket = parts[1]
			}
		}
		if ticket == "" {
			abortWith(c, apperrors.NewUnauthorizedError("ticket required"))
			return
		}

		claims, err := tickets.Validate(ticket)
		if err != nil {
			msg := "invalid ticket"
			if errors.Is(err, services.ErrExpiredTicket) {
				msg = "ticket expired"
			}
			abortWith(c, apperrors.NewUnauthorizedError(msg))
			return
		}

		c.Set(TicketClaimsKey, claims)
		c.Next()
	}
}

// ClaimsFrom returns the claims TicketMiddleware stored on c.
func ClaimsFrom(c *gin.Context) (*services.TicketClaims, bool) {
	v, ok := c.Get(TicketClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*services.TicketClaims)
	return claims, ok
}
