// Package jwt issues and parses the tokens accepted on the WebSocket
// `token` query parameter, as an alternative to the session cookie.
package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"talkroom_server/pkg/errorx"
)

type jwtConfig struct {
	secret            string
	accessTokenExpiry time.Duration
}

var config *jwtConfig

// Init sets the signing secret and access token lifetime (minutes).
func Init(secret string, accessExpiryMinutes int) {
	config = &jwtConfig{
		secret:            secret,
		accessTokenExpiry: time.Duration(accessExpiryMinutes) * time.Minute,
	}
}

// Claims carries the authenticated user id.
type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// GenerateAccessToken signs a short-lived token for one user.
func GenerateAccessToken(userID int64) (string, error) {
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(config.accessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "talkroom",
			Subject:   "access_token",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.secret))
}

// ParseToken validates a token and returns its claims.
// Expired tokens map to CodeTokenExpired, everything else to CodeInvalidToken.
func ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(config.secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errorx.Wrap(err, errorx.CodeTokenExpired, "token expired")
		}
		return nil, errorx.Wrap(err, errorx.CodeInvalidToken, "invalid token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errorx.New(errorx.CodeInvalidToken)
	}
	return claims, nil
}
