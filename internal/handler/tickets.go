package handler

import (
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "strconv"
    "strings"

    "github.com/labstack/echo/v4"
    log "github.com/sirupsen/logrus"

    "github.com/iliyamo/ticket-pool/internal/model"
    "github.com/iliyamo/ticket-pool/internal/repository"
    "github.com/iliyamo/ticket-pool/internal/service"
)

// maxBodyBytes caps request bodies.  A ticket payload is a few hundred
// bytes and the fraud screen costs time in proportion to its size.
const maxBodyBytes = 8 << 10

// TicketHandler binds the catalog and the reservation protocol to HTTP
// routes.  Every failure is turned into its own status and code by
// writeError, so one bad request never affects another.
type TicketHandler struct {
    Catalog      *repository.CatalogRepo
    Reservations *service.ReservationService
    log          *log.Entry
}

// NewTicketHandler constructs a TicketHandler.  Catalog and reservations
// must be non-nil.
func NewTicketHandler(catalog *repository.CatalogRepo, reservations *service.ReservationService, logger *log.Entry) *TicketHandler {
    if catalog == nil || reservations == nil {
        panic("nil dependency passed to NewTicketHandler")
    }
    if logger == nil {
        logger = log.NewEntry(log.StandardLogger())
    }
    return &TicketHandler{Catalog: catalog, Reservations: reservations, log: logger.WithField("component", "handler")}
}

// GetTicket handles GET /get_ticket/:id and returns the ticket as JSON.
func (h *TicketHandler) GetTicket(c echo.Context) error {
    id, err := repository.ParseTicketID(c.Param("id"))
    if err != nil {
        return writeError(c, h.log, err)
    }
    t, err := h.Catalog.Ticket(c.Request().Context(), id)
    if err != nil {
        return writeError(c, h.log, err)
    }
    return c.JSON(http.StatusOK, t)
}

// Populate handles POST /populate_tickets.  The body is the plain text
// number of tickets to create.
func (h *TicketHandler) Populate(c echo.Context) error {
    body, err := readBody(c)
    if err != nil {
        return writeError(c, h.log, err)
    }
    n, err := repository.ParseCount(string(body))
    if err != nil {
        return writeError(c, h.log, err)
    }
    if err := h.Catalog.Populate(c.Request().Context(), n); err != nil {
        return writeError(c, h.log, err)
    }
    return c.String(http.StatusOK, "")
}

// Clear handles POST /clear_cache (and /clear_kv).
func (h *TicketHandler) Clear(c echo.Context) error {
    if _, err := h.Catalog.Clear(c.Request().Context()); err != nil {
        return writeError(c, h.log, err)
    }
    return c.String(http.StatusOK, "Successfully cleared cache")
}

// ListAvailable handles GET / and GET /available.  The response is one
// ticket id per line.
func (h *TicketHandler) ListAvailable(c echo.Context) error {
    ids, err := h.Catalog.ListAvailable(c.Request().Context())
    if err != nil {
        return writeError(c, h.log, err)
    }
    var b strings.Builder
    for _, id := range ids {
        b.WriteString(strconv.FormatUint(uint64(id), 10))
        b.WriteByte('\n')
    }
    return c.String(http.StatusOK, b.String())
}

// Reserve handles POST /reserve.  The body is a Ticket JSON carrying the
// id and the three reservation fields.
func (h *TicketHandler) Reserve(c echo.Context) error {
    req, err := decodeTicket(c)
    if err != nil {
        return writeError(c, h.log, err)
    }
    if _, err := h.Reservations.Reserve(c.Request().Context(), req); err != nil {
        return writeError(c, h.log, err)
    }
    return c.String(http.StatusOK, "Success")
}

type rwSetResponse struct {
    Status int      `json:"status"`
    RWSet  []string `json:"rw_set"`
}

// RWSet handles /rw_set and reports the keys a reservation would touch.
func (h *TicketHandler) RWSet(c echo.Context) error {
    req, err := decodeTicket(c)
    if err != nil {
        return writeError(c, h.log, err)
    }
    return c.JSON(http.StatusOK, rwSetResponse{Status: http.StatusOK, RWSet: h.Reservations.RWSet(req)})
}

type ticketRequest struct {
    ID       *uint32 `json:"id"`
    Taken    bool    `json:"taken"`
    ResEmail *string `json:"res_email"`
    ResName  *string `json:"res_name"`
    ResCard  *string `json:"res_card"`
}

// decodeTicket reads a Ticket JSON body.  The id is mandatory.
func decodeTicket(c echo.Context) (model.Ticket, error) {
    body, err := readBody(c)
    if err != nil {
        return model.Ticket{}, err
    }
    var req ticketRequest
    if err := json.Unmarshal(body, &req); err != nil {
        return model.Ticket{}, fmt.Errorf("%w: ticket body: %v", repository.ErrInvalidInput, err)
    }
    if req.ID == nil {
        return model.Ticket{}, fmt.Errorf("%w: ticket id is required", repository.ErrInvalidInput)
    }
    return model.Ticket{
        ID:       *req.ID,
        Taken:    req.Taken,
        ResEmail: req.ResEmail,
        ResName:  req.ResName,
        ResCard:  req.ResCard,
    }, nil
}

// readBody reads the request body, rejecting anything over maxBodyBytes.
func readBody(c echo.Context) ([]byte, error) {
    body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes+1))
    if err != nil {
        return nil, fmt.Errorf("%w: read body: %v", repository.ErrInvalidInput, err)
    }
    if len(body) > maxBodyBytes {
        return nil, fmt.Errorf("%w: body exceeds %d bytes", repository.ErrInvalidInput, maxBodyBytes)
    }
    return body, nil
}
