// Package store wraps the external key-value medium that holds versioned
// records.  Every value is stored next to an explicit version counter.  The
// medium itself offers no compare-and-swap, so Put always overwrites;
// PutIfVersion is the conditional write the reservation protocol uses when
// it runs in compare-and-swap mode.
//
// Reads may come back empty because a record was evicted (writes carry a
// retention window).  Callers must treat ErrNotFound as "not found", never
// as "never existed".
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultNamespace prefixes every key written by a Store.
const DefaultNamespace = "ticketpool"

// DefaultTTL is the retention window applied to each write.
const DefaultTTL = 1000 * time.Second

var (
	// ErrNotFound is returned when a key is absent or has expired.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned by PutIfVersion when the stored version no
	// longer matches the version the caller read.
	ErrConflict = errors.New("version conflict")
	// ErrUnavailable wraps any failure of the underlying medium.
	ErrUnavailable = errors.New("store unavailable")
)

// VersionedRecord pairs a value with its version counter.  Version starts
// at 0 and grows by one on every successful protocol write.
type VersionedRecord struct {
	Version uint64          `json:"version"`
	Value   json.RawMessage `json:"value"`
}

// NewRecord encodes v as the value of a record at the given version.
func NewRecord(version uint64, v any) (VersionedRecord, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return VersionedRecord{}, fmt.Errorf("encode record value: %w", err)
	}
	return VersionedRecord{Version: version, Value: raw}, nil
}

// Decode unmarshals the record value into v.
func (r VersionedRecord) Decode(v any) error {
	if err := json.Unmarshal(r.Value, v); err != nil {
		return fmt.Errorf("decode record value: %w", err)
	}
	return nil
}

// Store is the contract every backend implements.  Keys passed in are
// relative; backends scope them under their namespace.
type Store interface {
	Get(ctx context.Context, key string) (VersionedRecord, error)
	Put(ctx context.Context, key string, rec VersionedRecord) error
	PutIfVersion(ctx context.Context, key string, expected uint64, rec VersionedRecord) error
	Delete(ctx context.Context, key string) error
	// Keys lists live relative keys starting with prefix.  Order is not
	// guaranteed.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Options configures the namespace and retention window shared by all
// backends.
type Options struct {
	Namespace string
	TTL       time.Duration
}

func (o Options) withDefaults() Options {
	if o.Namespace == "" {
		o.Namespace = DefaultNamespace
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	return o
}

func (o Options) scoped(key string) string { return o.Namespace + ":" + key }

func (o Options) unscoped(full string) string {
	return strings.TrimPrefix(full, o.Namespace+":")
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
