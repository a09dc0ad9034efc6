package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MemberClaims bind a ticket to one membership of one room. They carry no
// identity beyond the pseudonymous member id.
type MemberClaims struct {
	Room   string `json:"room"`
	Member string `json:"member"`
	jwt.RegisteredClaims
}

// GenerateJWT issues a member ticket for room and member.
func GenerateJWT(room, member, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := MemberClaims{
		Room:   room,
		Member: member,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   member,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseJWT returns the claims of a valid member ticket.
func ParseJWT(tokenStr string, secret string) (*MemberClaims, error) {
	claims := &MemberClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Room == "" || claims.Member == "" {
		return nil, errors.Join(jwt.ErrTokenMalformed, errors.New("ticket missing room or member"))
	}
	return claims, nil
}
