package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
)

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
}

func bearerMatches(c echo.Context, want []byte) bool {
	h := strings.TrimSpace(c.Request().Header.Get(echo.HeaderAuthorization))
	token, ok := strings.CutPrefix(h, "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), want) == 1
}

// BearerSecretMiddleware checks "Authorization: Bearer <secret>". An empty
// secret leaves the route open.
func BearerSecretMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if secret == "" {
			return next
		}
		want := []byte(secret)
		return func(c echo.Context) error {
			if !bearerMatches(c, want) {
				return unauthorized(c)
			}
			return next(c)
		}
	}
}

// RequiredBearerMiddleware is BearerSecretMiddleware for routes that must
// never be open: with an empty secret every request is rejected.
func RequiredBearerMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if secret == "" {
			return unauthorized
		}
		want := []byte(secret)
		return func(c echo.Context) error {
			if !bearerMatches(c, want) {
				return unauthorized(c)
			}
			return next(c)
		}
	}
}
