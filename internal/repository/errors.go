// Package repository defines error types that are reused across the
// catalog, the reservation service and the handlers.  These sentinel
// values let the HTTP layer distinguish failure scenarios and map each one
// to its own status code.  Every operation returns one of them (possibly
// wrapped) instead of crashing the request.
package repository

import (
	"errors"

	"github.com/iliyamo/ticket-pool/internal/store"
)

// ErrInvalidInput is returned when a count or ticket id cannot be parsed.
var ErrInvalidInput = errors.New("invalid input")

// ErrNotFound is the parent of all "absent" errors.  Handlers should
// translate it into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrTicketNotFound is returned when no record exists for a ticket id.
var ErrTicketNotFound = &notFoundError{msg: "ticket not found"}

// ErrNothingToClear is returned by Clear when the catalog count is absent.
var ErrNothingToClear = &notFoundError{msg: "nothing to clear"}

// ErrAlreadyReserved is returned when a reservation targets a taken ticket.
var ErrAlreadyReserved = errors.New("ticket already reserved")

// ErrMissingField is returned when a reservation lacks email, name or card.
var ErrMissingField = errors.New("missing reservation field")

// ErrFraudRejected is returned when the fraud pipeline refuses a reservation.
var ErrFraudRejected = errors.New("fraudulent reservation detected")

// ErrConflict is returned when a conditional write kept losing to
// concurrent writers and the attempt budget ran out.
var ErrConflict = errors.New("conflict")

// ErrStoreUnavailable is returned when the underlying medium fails.  It is
// the store's own sentinel so errors.Is works across the layers.
var ErrStoreUnavailable = store.ErrUnavailable

type notFoundError struct{ msg string }

func (e *notFoundError) Error() string        { return e.msg }
func (e *notFoundError) Is(target error) bool { return target == ErrNotFound }
