package middleware

import (
	"context"
	"net/http"

	"huddle/internal/utils"
)

type contextKey string

// TicketKey holds the *utils.MemberClaims of an authenticated request.
const TicketKey contextKey = "ticket"

// AuthJWT requires a valid member ticket in the Authorization header.
func AuthJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := utils.BearerToken(r.Header.Get("Authorization"))
			if tok == "" {
				utils.Fail(w, http.StatusUnauthorized, "member ticket required")
				return
			}
			claims, err := utils.ParseJWT(tok, secret)
			if err != nil {
				utils.Fail(w, http.StatusUnauthorized, "invalid member ticket")
				return
			}
			ctx := context.WithValue(r.Context(), TicketKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Ticket returns the claims stored by AuthJWT.
func Ticket(ctx context.Context) (*utils.MemberClaims, bool) {
	c, ok := ctx.Value(TicketKey).(*utils.MemberClaims)
	return c, ok
}
