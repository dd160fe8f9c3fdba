// Package service implements the reservation protocol on top of the ticket
// catalog and publishes reservation events.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/ticket-pool/internal/model"
	"github.com/iliyamo/ticket-pool/internal/queue"
	"github.com/iliyamo/ticket-pool/internal/repository"
)

// Mode selects how the final write of a reservation is performed.
type Mode string

const (
	// ModeCAS writes only if the version read at the start of the attempt
	// is still current, and restarts the attempt otherwise.
	ModeCAS Mode = "cas"
	// ModeBlind overwrites the record unconditionally.  Two concurrent
	// reservations of the same ticket can both succeed; the later write
	// wins and the earlier one is lost.
	ModeBlind Mode = "blind"
)

// DefaultMaxAttempts bounds the read-check-write attempts in ModeCAS.
const DefaultMaxAttempts = 3

// ParseMode parses a write mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeCAS, "":
		return ModeCAS, nil
	case ModeBlind:
		return ModeBlind, nil
	}
	return "", fmt.Errorf("unknown reserve mode %q", s)
}

// Screener decides whether a fully populated reservation is acceptable.
type Screener interface {
	Score(t model.Ticket) bool
}

// EventPublisher receives an event for every committed reservation.
type EventPublisher interface {
	PublishTicketReserved(ctx context.Context, ev queue.TicketReservedEvent) error
}

// ReservationService turns an available ticket into a taken one.
type ReservationService struct {
	catalog     *repository.CatalogRepo
	screener    Screener
	publisher   EventPublisher
	mode        Mode
	maxAttempts int
	now         func() time.Time
	log         *logrus.Entry
}

// ReservationOption customises a ReservationService.
type ReservationOption func(*ReservationService)

// WithMode sets the write mode.
func WithMode(m Mode) ReservationOption {
	return func(s *ReservationService) {
		if m == ModeCAS || m == ModeBlind {
			s.mode = m
		}
	}
}

// WithMaxAttempts overrides the attempt budget used in ModeCAS.
func WithMaxAttempts(n int) ReservationOption {
	return func(s *ReservationService) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithPublisher sets the publisher notified after each reservation.
func WithPublisher(p EventPublisher) ReservationOption {
	return func(s *ReservationService) { s.publisher = p }
}

// WithLogger sets the service logger.
func WithLogger(l *logrus.Entry) ReservationOption {
	return func(s *ReservationService) {
		if l != nil {
			s.log = l
		}
	}
}

// NewReservationService wires the protocol to its catalog and screener.
func NewReservationService(catalog *repository.CatalogRepo, screener Screener, opts ...ReservationOption) *ReservationService {
	if catalog == nil || screener == nil {
		panic("nil dependency passed to NewReservationService")
	}
	s := &ReservationService{
		catalog:     catalog,
		screener:    screener,
		mode:        ModeCAS,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
		log:         logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "reservation")
	return s
}

// Mode reports the configured write mode.
func (s *ReservationService) Mode() Mode { return s.mode }

// Reserve reserves req.ID for the holder described by req's detail fields
// and returns the stored ticket.  Failures are one of ErrTicketNotFound,
// ErrAlreadyReserved, ErrMissingField, ErrFraudRejected, ErrConflict or a
// wrapped ErrStoreUnavailable; none of them writes anything.
func (s *ReservationService) Reserve(ctx context.Context, req model.Ticket) (model.Ticket, error) {
	log := s.log.WithField("ticket_id", req.ID)
	for attempt := 1; ; attempt++ {
		current, version, err := s.catalog.Load(ctx, req.ID)
		if err != nil {
			return model.Ticket{}, err
		}
		if current.Taken {
			return model.Ticket{}, repository.ErrAlreadyReserved
		}
		if !req.HasDetails() {
			return model.Ticket{}, repository.ErrMissingField
		}

		next := current.Reserved(req.Email(), req.Name(), req.Card())
		if !s.screener.Score(next) {
			log.Info("reservation rejected by fraud screen")
			return model.Ticket{}, repository.ErrFraudRejected
		}

		if s.mode == ModeBlind {
			err = s.catalog.Save(ctx, next, version+1)
		} else {
			err = s.catalog.SaveIfVersion(ctx, next, version)
			if errors.Is(err, repository.ErrConflict) && attempt < s.maxAttempts {
				log.WithField("attempt", attempt).Debug("version moved, retrying reservation")
				continue
			}
		}
		if err != nil {
			return model.Ticket{}, err
		}

		log.WithField("version", version+1).Info("ticket reserved")
		s.publish(ctx, next, version+1)
		return next, nil
	}
}

// RWSet returns the store keys a reservation of req reads and writes.
func (s *ReservationService) RWSet(req model.Ticket) []string {
	return []string{repository.TicketKey(req.ID)}
}

func (s *ReservationService) publish(ctx context.Context, t model.Ticket, version uint64) {
	if s.publisher == nil {
		return
	}
	ev := queue.TicketReservedEvent{
		EventID:    uuid.NewString(),
		TicketID:   t.ID,
		Version:    version,
		Email:      t.Email(),
		Name:       t.Name(),
		CardLast4:  queue.Last4(t.Card()),
		WriteMode:  string(s.mode),
		ReservedAt: s.now().UTC().Format(time.RFC3339),
	}
	if err := s.publisher.PublishTicketReserved(ctx, ev); err != nil {
		s.log.WithError(err).WithField("ticket_id", t.ID).Warn("publish reservation event failed")
	}
}
