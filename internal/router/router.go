package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ticket-pool/internal/handler"
	"github.com/iliyamo/ticket-pool/internal/middleware"
)

// Options carries the route-level middleware settings.
type Options struct {
	// JWTSecret protects the catalog admin routes when non-empty.
	JWTSecret string
	// ReserveLimiter guards the reservation route.  Nil means no limit.
	ReserveLimiter echo.MiddlewareFunc
}

// RegisterRoutes registers every ticket pool endpoint on e.
func RegisterRoutes(e *echo.Echo, h *handler.TicketHandler, opts Options) {
	// Liveness and health checks for load balancers and the benchmark client.
	e.GET("/hello", h.Hello)
	e.GET("/healthz", h.Health)

	// Read-only catalog endpoints.
	e.GET("/", h.ListAvailable)
	e.GET("/available", h.ListAvailable)
	e.GET("/get_ticket/:id", h.GetTicket)
	e.GET("/rw_set", h.RWSet)
	e.POST("/rw_set", h.RWSet)

	var reserveMW []echo.MiddlewareFunc
	if opts.ReserveLimiter != nil {
		reserveMW = append(reserveMW, opts.ReserveLimiter)
	}
	e.POST("/reserve", h.Reserve, reserveMW...)

	RegisterAdmin(e, h, opts.JWTSecret)
}

// RegisterAdmin registers the catalog administration routes.  With a
// secret they require a Bearer token carrying the ADMIN role; without one
// they are open, which is how the benchmark runs locally.
func RegisterAdmin(e *echo.Echo, h *handler.TicketHandler, jwtSecret string) {
	var mw []echo.MiddlewareFunc
	if jwtSecret != "" {
		mw = append(mw, middleware.JWTAuth(jwtSecret), middleware.RequireRole(middleware.RoleAdmin))
	}
	e.POST("/populate_tickets", h.Populate, mw...)
	e.POST("/clear_cache", h.Clear, mw...)
	e.POST("/clear_kv", h.Clear, mw...) // alias kept for older clients
}
