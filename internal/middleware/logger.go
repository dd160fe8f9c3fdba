package middleware

import (
    "time"

    "github.com/google/uuid"
    "github.com/labstack/echo/v4"
    log "github.com/sirupsen/logrus"
)

const (
    requestIDKey    = "request_id"
    requestIDHeader = "X-Request-ID"
)

// RequestLogger assigns every request an id (reusing an incoming
// X-Request-ID) and logs method, path, status and latency once the handler
// has returned.
func RequestLogger(logger *log.Entry) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            start := time.Now()
            id := c.Request().Header.Get(requestIDHeader)
            if id == "" {
                id = uuid.NewString()
            }
            c.Set(requestIDKey, id)
            c.Response().Header().Set(requestIDHeader, id)

            err := next(c)
            if err != nil {
                // let echo's error handler write the response so the
                // logged status is the one the client sees
                c.Error(err)
            }

            fields := log.Fields{
                "request_id": requestID(c),
                "method":     c.Request().Method,
                "path":       c.Request().URL.Path,
                "route":      c.Path(),
                "status":     c.Response().Status,
                "latency":    time.Since(start).String(),
                "remote_ip":  c.RealIP(),
            }
            entry := logger.WithFields(fields)
            switch {
            case c.Response().Status >= 500:
                entry.Error("request failed")
            case c.Response().Status >= 400:
                entry.Warn("request rejected")
            default:
                entry.Info("request handled")
            }
            return nil
        }
    }
}
