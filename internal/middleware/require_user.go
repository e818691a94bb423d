package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chadiek/prescreen/internal/auth"
)

const userIDKey = "userID"

// RequireUser rejects requests while nobody is signed in and stores the user id on the context.
func RequireUser(identity auth.Identity) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := identity.UserID()
			if !ok {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "please log in first"})
			}
			c.Set(userIDKey, id)
			return next(c)
		}
	}
}

// UserID returns the id stored by RequireUser.
func UserID(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}
