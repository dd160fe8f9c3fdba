package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/ticket-pool/internal/model"
	"github.com/iliyamo/ticket-pool/internal/store"
)

const (
	ticketKeyPrefix = "ticket-"
	countKey        = "count"
)

// TicketKey returns the store key of a ticket record.
func TicketKey(id uint32) string { return ticketKeyPrefix + strconv.FormatUint(uint64(id), 10) }

// CatalogRepo owns the ticket keys and the population count.  No other
// component writes those keys; everything goes through the Store passed in.
type CatalogRepo struct {
	store store.Store
	log   *logrus.Entry
}

// NewCatalogRepo returns a catalog bound to s.  A nil logger falls back to
// the logrus standard logger.
func NewCatalogRepo(s store.Store, log *logrus.Entry) *CatalogRepo {
	if s == nil {
		panic("nil store passed to NewCatalogRepo")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &CatalogRepo{store: s, log: log.WithField("component", "catalog")}
}

// ParseCount parses a population count from a plain text request body.
func ParseCount(body string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(body), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: count %q is not a number", ErrInvalidInput, body)
	}
	return uint32(n), nil
}

// ParseTicketID parses a ticket id taken from a path parameter.
func ParseTicketID(s string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: ticket id %q is not a number", ErrInvalidInput, s)
	}
	return uint32(n), nil
}

// Populate creates tickets 0..n-1 as available at version 0 and records n
// as the catalog count.  Tickets left over from a larger earlier population
// are not removed; clear first to start from an empty catalog.
func (r *CatalogRepo) Populate(ctx context.Context, n uint32) error {
	for i := uint32(0); i < n; i++ {
		rec, err := store.NewRecord(0, model.NewAvailableTicket(i))
		if err != nil {
			return err
		}
		if err := r.store.Put(ctx, TicketKey(i), rec); err != nil {
			return fmt.Errorf("populate ticket %d: %w", i, err)
		}
	}
	if err := r.writeCount(ctx, n); err != nil {
		return err
	}
	r.log.WithField("count", n).Info("catalog populated")
	return nil
}

// Clear deletes tickets 0..count-1 and resets the count to zero.  It returns
// the number of tickets removed.
func (r *CatalogRepo) Clear(ctx context.Context) (uint32, error) {
	rec, err := r.store.Get(ctx, countKey)
	if errors.Is(err, store.ErrNotFound) {
		return 0, ErrNothingToClear
	}
	if err != nil {
		return 0, err
	}
	var n uint32
	if err := rec.Decode(&n); err != nil {
		return 0, err
	}
	for i := uint32(0); i < n; i++ {
		if err := r.store.Delete(ctx, TicketKey(i)); err != nil {
			return 0, fmt.Errorf("clear ticket %d: %w", i, err)
		}
	}
	if err := r.writeCount(ctx, 0); err != nil {
		return 0, err
	}
	r.log.WithField("count", n).Info("catalog cleared")
	return n, nil
}

// writeCount stores the catalog count, carrying its version forward when a
// previous count exists.
func (r *CatalogRepo) writeCount(ctx context.Context, n uint32) error {
	version := uint64(0)
	prev, err := r.store.Get(ctx, countKey)
	switch {
	case err == nil:
		version = prev.Version + 1
	case !errors.Is(err, store.ErrNotFound):
		return err
	}
	rec, err := store.NewRecord(version, n)
	if err != nil {
		return err
	}
	if err := r.store.Put(ctx, countKey, rec); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	return nil
}

// Ticket returns the ticket stored under id.
func (r *CatalogRepo) Ticket(ctx context.Context, id uint32) (model.Ticket, error) {
	t, _, err := r.Load(ctx, id)
	return t, err
}

// Load returns the ticket stored under id together with its version.
func (r *CatalogRepo) Load(ctx context.Context, id uint32) (model.Ticket, uint64, error) {
	rec, err := r.store.Get(ctx, TicketKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return model.Ticket{}, 0, ErrTicketNotFound
	}
	if err != nil {
		return model.Ticket{}, 0, err
	}
	var t model.Ticket
	if err := rec.Decode(&t); err != nil {
		return model.Ticket{}, 0, err
	}
	return t, rec.Version, nil
}

// Save overwrites the ticket record with the given version, whatever is
// currently stored.
func (r *CatalogRepo) Save(ctx context.Context, t model.Ticket, version uint64) error {
	rec, err := store.NewRecord(version, t)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, TicketKey(t.ID), rec)
}

// SaveIfVersion writes t at expected+1 only if the stored version is still
// expected.  It returns ErrConflict when another writer got there first and
// ErrTicketNotFound when the record disappeared.
func (r *CatalogRepo) SaveIfVersion(ctx context.Context, t model.Ticket, expected uint64) error {
	rec, err := store.NewRecord(expected+1, t)
	if err != nil {
		return err
	}
	err = r.store.PutIfVersion(ctx, TicketKey(t.ID), expected, rec)
	switch {
	case errors.Is(err, store.ErrConflict):
		return ErrConflict
	case errors.Is(err, store.ErrNotFound):
		return ErrTicketNotFound
	}
	return err
}

// ListAvailable returns the ids of all stored tickets that are not taken,
// in ascending order.
func (r *CatalogRepo) ListAvailable(ctx context.Context) ([]uint32, error) {
	keys, err := r.store.Keys(ctx, ticketKeyPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]uint32, 0, len(keys))
	for _, k := range keys {
		id, err := strconv.ParseUint(strings.TrimPrefix(k, ticketKeyPrefix), 10, 32)
		if err != nil {
			continue
		}
		t, err := r.Ticket(ctx, uint32(id))
		if errors.Is(err, ErrTicketNotFound) {
			// evicted between the scan and the read
			continue
		}
		if err != nil {
			return nil, err
		}
		if !t.Taken {
			ids = append(ids, t.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
