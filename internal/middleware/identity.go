package middleware

// identity.go holds helpers shared across middleware files for reading who
// is calling.

import "github.com/labstack/echo/v4"

// currentUserID returns the subject stored by JWTAuth, or "anon" when the
// request is unauthenticated.
func currentUserID(c echo.Context) string {
    if s, ok := c.Get("user_id").(string); ok && s != "" {
        return s
    }
    return "anon"
}

// requestID returns the id assigned by RequestLogger, or "" before it ran.
func requestID(c echo.Context) string {
    if s, ok := c.Get(requestIDKey).(string); ok {
        return s
    }
    return ""
}
