package handler

import (
    "errors"
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/ticket-pool/internal/repository"
)

// Hello handles GET /hello.
func (h *TicketHandler) Hello(c echo.Context) error {
    return c.String(http.StatusOK, "Hello, World!")
}

// Health handles GET /healthz.  It reads ticket 0 to prove the store
// answers; an empty catalog is still healthy.
func (h *TicketHandler) Health(c echo.Context) error {
    _, err := h.Catalog.Ticket(c.Request().Context(), 0)
    if err != nil && !errors.Is(err, repository.ErrNotFound) {
        return writeError(c, h.log, err)
    }
    return c.String(http.StatusOK, "ok")
}
