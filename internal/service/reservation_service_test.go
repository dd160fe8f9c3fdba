package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticket-pool/internal/fraud"
	"github.com/iliyamo/ticket-pool/internal/model"
	"github.com/iliyamo/ticket-pool/internal/queue"
	"github.com/iliyamo/ticket-pool/internal/repository"
	"github.com/iliyamo/ticket-pool/internal/store"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []queue.TicketReservedEvent
	err    error
}

func (p *fakePublisher) PublishTicketReserved(_ context.Context, ev queue.TicketReservedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

// countingStore records every write that reaches the medium.
type countingStore struct {
	store.Store
	mu     sync.Mutex
	writes int
}

func (s *countingStore) Put(ctx context.Context, key string, rec store.VersionedRecord) error {
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
	return s.Store.Put(ctx, key, rec)
}

func (s *countingStore) PutIfVersion(ctx context.Context, key string, expected uint64, rec store.VersionedRecord) error {
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
	return s.Store.PutIfVersion(ctx, key, expected, rec)
}

func (s *countingStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// barrierStore holds every ticket read until release is closed, so that
// concurrent reservations all read before any of them writes.
type barrierStore struct {
	store.Store
	reads   chan struct{}
	release chan struct{}
}

func (s *barrierStore) Get(ctx context.Context, key string) (store.VersionedRecord, error) {
	rec, err := s.Store.Get(ctx, key)
	s.reads <- struct{}{}
	<-s.release
	return rec, err
}

type fixture struct {
	svc     *ReservationService
	catalog *repository.CatalogRepo
	store   *countingStore
	pub     *fakePublisher
}

func quietLogger() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}

func cheapPipeline() *fraud.Pipeline {
	return fraud.NewPipeline(fraud.WithRounds(2), fraud.WithWidth(8))
}

func newFixture(t *testing.T, n uint32, opts ...ReservationOption) fixture {
	t.Helper()
	cs := &countingStore{Store: store.NewMemoryStore(store.Options{})}
	catalog := repository.NewCatalogRepo(cs, quietLogger())
	require.NoError(t, catalog.Populate(context.Background(), n))
	pub := &fakePublisher{}
	opts = append([]ReservationOption{WithPublisher(pub), WithLogger(quietLogger())}, opts...)
	return fixture{
		svc:     NewReservationService(catalog, cheapPipeline(), opts...),
		catalog: catalog,
		store:   cs,
		pub:     pub,
	}
}

func request(id uint32, email, name, card string) model.Ticket {
	return model.NewAvailableTicket(id).Reserved(email, name, card)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeCAS, m)
	m, err = ParseMode(" Blind ")
	require.NoError(t, err)
	assert.Equal(t, ModeBlind, m)
	_, err = ParseMode("optimistic")
	assert.Error(t, err)
}

func TestReserve(t *testing.T) {
	for _, mode := range []Mode{ModeCAS, ModeBlind} {
		mode := mode
		t.Run(string(mode), func(t *testing.T) {
			t.Run("success marks ticket taken", func(t *testing.T) {
				f := newFixture(t, 3, WithMode(mode))
				ctx := context.Background()

				got, err := f.svc.Reserve(ctx, request(1, "a@b.co", "Ada", "4111111111111111"))
				require.NoError(t, err)
				assert.True(t, got.Taken)

				stored, version, err := f.catalog.Load(ctx, 1)
				require.NoError(t, err)
				assert.Equal(t, uint64(1), version)
				assert.True(t, stored.Taken)
				assert.Equal(t, "a@b.co", stored.Email())
				assert.Equal(t, "Ada", stored.Name())
				assert.Equal(t, "4111111111111111", stored.Card())
				assert.True(t, stored.Consistent())

				require.Len(t, f.pub.events, 1)
				ev := f.pub.events[0]
				assert.Equal(t, uint32(1), ev.TicketID)
				assert.Equal(t, uint64(1), ev.Version)
				assert.Equal(t, "1111", ev.CardLast4)
				assert.Equal(t, string(mode), ev.WriteMode)
				assert.NotEmpty(t, ev.EventID)
			})

			t.Run("second reservation is rejected", func(t *testing.T) {
				f := newFixture(t, 1, WithMode(mode))
				ctx := context.Background()
				_, err := f.svc.Reserve(ctx, request(0, "a@b.co", "Ada", "4111"))
				require.NoError(t, err)
				writes := f.store.Writes()

				_, err = f.svc.Reserve(ctx, request(0, "c@d.io", "Bob", "5500"))
				assert.ErrorIs(t, err, repository.ErrAlreadyReserved)
				assert.Equal(t, writes, f.store.Writes())

				stored, _ := f.catalog.Ticket(ctx, 0)
				assert.Equal(t, "Ada", stored.Name())
			})

			t.Run("unknown ticket is not found and not written", func(t *testing.T) {
				f := newFixture(t, 2, WithMode(mode))
				writes := f.store.Writes()
				_, err := f.svc.Reserve(context.Background(), request(99, "a@b.co", "Ada", "4111"))
				assert.ErrorIs(t, err, repository.ErrTicketNotFound)
				assert.ErrorIs(t, err, repository.ErrNotFound)
				assert.Equal(t, writes, f.store.Writes())
				assert.Empty(t, f.pub.events)
			})

			t.Run("invalid email is rejected as fraud", func(t *testing.T) {
				f := newFixture(t, 1, WithMode(mode))
				writes := f.store.Writes()
				_, err := f.svc.Reserve(context.Background(), request(0, "not-an-email", "Ada", "4111"))
				assert.ErrorIs(t, err, repository.ErrFraudRejected)
				assert.Equal(t, writes, f.store.Writes())

				stored, _ := f.catalog.Ticket(context.Background(), 0)
				assert.False(t, stored.Taken)
			})

			t.Run("missing fields", func(t *testing.T) {
				f := newFixture(t, 1, WithMode(mode))
				email, name := "a@b.co", "Ada"
				cases := []model.Ticket{
					{ID: 0},
					{ID: 0, Taken: true, ResEmail: &email, ResName: &name},
					{ID: 0, ResEmail: &email, ResName: &name, ResCard: new(string)},
				}
				for _, req := range cases {
					_, err := f.svc.Reserve(context.Background(), req)
					assert.ErrorIs(t, err, repository.ErrMissingField)
				}
				stored, _ := f.catalog.Ticket(context.Background(), 0)
				assert.Equal(t, model.NewAvailableTicket(0), stored)
			})
		})
	}
}

func TestReserve_PublisherFailureDoesNotFailReservation(t *testing.T) {
	f := newFixture(t, 1)
	f.pub.err = errors.New("broker down")
	_, err := f.svc.Reserve(context.Background(), request(0, "a@b.co", "Ada", "4111"))
	require.NoError(t, err)
	assert.Len(t, f.pub.events, 1)
}

func TestReserve_StoreUnavailable(t *testing.T) {
	catalog := repository.NewCatalogRepo(store.NewMemoryStore(store.Options{}), quietLogger())
	svc := NewReservationService(catalog, cheapPipeline(), WithLogger(quietLogger()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Reserve(ctx, request(0, "a@b.co", "Ada", "4111"))
	assert.ErrorIs(t, err, repository.ErrStoreUnavailable)
}

// raceBoth starts two reservations of ticket 0 that both read the record
// before either of them writes.
func raceBoth(t *testing.T, mode Mode) (errs [2]error, reqs [2]model.Ticket, catalog *repository.CatalogRepo) {
	t.Helper()
	base := store.NewMemoryStore(store.Options{})
	setup := repository.NewCatalogRepo(base, quietLogger())
	require.NoError(t, setup.Populate(context.Background(), 1))

	bs := &barrierStore{Store: base, reads: make(chan struct{}, 16), release: make(chan struct{})}
	catalog = repository.NewCatalogRepo(bs, quietLogger())
	svc := NewReservationService(catalog, cheapPipeline(), WithMode(mode), WithLogger(quietLogger()))

	reqs = [2]model.Ticket{
		request(0, "first@example.com", "First", "1111"),
		request(0, "second@example.com", "Second", "2222"),
	}
	var wg sync.WaitGroup
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Reserve(context.Background(), reqs[i])
		}(i)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-bs.reads:
		case <-time.After(5 * time.Second):
			t.Fatal("reservations did not reach the read step")
		}
	}
	close(bs.release)
	wg.Wait()
	return errs, reqs, repository.NewCatalogRepo(base, quietLogger())
}

// In blind mode both racing writers are told they succeeded and the later
// write silently replaces the earlier one.  This is the lost update the
// compare-and-swap mode exists to prevent.
func TestReserve_ConcurrentBlindWritesLoseAnUpdate(t *testing.T) {
	errs, reqs, catalog := raceBoth(t, ModeBlind)
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	stored, version, err := catalog.Load(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, stored.Taken)
	// both writers computed version 1 from the same read
	assert.Equal(t, uint64(1), version)
	assert.Contains(t, []string{reqs[0].Name(), reqs[1].Name()}, stored.Name())
}

func TestReserve_ConcurrentCASWritesHaveOneWinner(t *testing.T) {
	errs, reqs, catalog := raceBoth(t, ModeCAS)

	winner := -1
	for i, err := range errs {
		if err == nil {
			require.Equal(t, -1, winner, "both reservations succeeded")
			winner = i
			continue
		}
		assert.ErrorIs(t, err, repository.ErrAlreadyReserved)
	}
	require.NotEqual(t, -1, winner, "no reservation succeeded")

	stored, version, err := catalog.Load(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)
	assert.Equal(t, reqs[winner].Name(), stored.Name())
	assert.Equal(t, reqs[winner].Email(), stored.Email())
}

func TestReserve_CASUnderContention(t *testing.T) {
	f := newFixture(t, 1)
	const workers = 32

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Reserve(context.Background(), request(0, "a@b.co", "Ada", "4111"))
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !errors.Is(err, repository.ErrAlreadyReserved) && !errors.Is(err, repository.ErrConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
	assert.Len(t, f.pub.events, 1)
}

func TestReserve_CASGivesUpAfterMaxAttempts(t *testing.T) {
	base := store.NewMemoryStore(store.Options{})
	catalog := repository.NewCatalogRepo(&alwaysConflict{Store: base}, quietLogger())
	require.NoError(t, catalog.Populate(context.Background(), 1))
	svc := NewReservationService(catalog, cheapPipeline(), WithMaxAttempts(2), WithLogger(quietLogger()))

	_, err := svc.Reserve(context.Background(), request(0, "a@b.co", "Ada", "4111"))
	assert.ErrorIs(t, err, repository.ErrConflict)
}

type alwaysConflict struct{ store.Store }

func (alwaysConflict) PutIfVersion(context.Context, string, uint64, store.VersionedRecord) error {
	return store.ErrConflict
}

func TestRWSet(t *testing.T) {
	f := newFixture(t, 0)
	assert.Equal(t, []string{"ticket-12"}, f.svc.RWSet(model.Ticket{ID: 12}))
}
