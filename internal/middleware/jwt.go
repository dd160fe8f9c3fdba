package middleware // middleware holds the echo middleware shared by the routes

import (
    "net/http"
    "strings"

    "github.com/golang-jwt/jwt/v5"
    "github.com/labstack/echo/v4"
)

// JWTAuth returns an Echo middleware that validates a Bearer HS256 access
// token and injects the token's subject and role claims into the request
// context as "user_id" and "role".  The secret must match the one used by
// utils.NewAccessToken.
func JWTAuth(secret string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            auth := c.Request().Header.Get("Authorization")
            if !strings.HasPrefix(auth, "Bearer ") {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token", "code": "unauthorized"})
            }
            raw := strings.TrimPrefix(auth, "Bearer ")

            // Only HMAC tokens signed with our secret are accepted; exp is
            // checked by the parser.
            tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
                return []byte(secret), nil
            }, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
            if err != nil || !tok.Valid {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token", "code": "unauthorized"})
            }

            claims, ok := tok.Claims.(jwt.MapClaims)
            if !ok {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims", "code": "unauthorized"})
            }

            // Downstream consumers do their own type assertions.
            c.Set("user_id", claims["sub"])
            c.Set("role", claims["role"])
            return next(c)
        }
    }
}
