package middlewares

import (
	"fmt"

	"track-and-trace/internal/models"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
)

// Auth returns the JWT middleware for the authenticated API group. On
// success the subject claim is exposed to handlers as "userID".
func Auth(secret string) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey: []byte(secret),
		SuccessHandler: func(c echo.Context) {
			token := c.Get("user").(*jwt.Token)
			if sub, err := token.Claims.GetSubject(); err == nil {
				c.Set("userID", sub)
			}
		},
	})
}

// ParseUserID validates a raw bearer token and returns its subject. The
// realtime endpoint uses this for tokens carried in the query string, where
// the header-based middleware cannot run.
func ParseUserID(raw, secret string) (string, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", models.ErrInvalidToken
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", models.ErrInvalidToken
	}
	return sub, nil
}
