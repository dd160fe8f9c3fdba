package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticket-pool/internal/fraud"
	"github.com/iliyamo/ticket-pool/internal/handler"
	"github.com/iliyamo/ticket-pool/internal/repository"
	"github.com/iliyamo/ticket-pool/internal/router"
	"github.com/iliyamo/ticket-pool/internal/service"
	"github.com/iliyamo/ticket-pool/internal/store"
)

func newBenchTarget(t *testing.T) (*httptest.Server, *repository.CatalogRepo) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	entry := log.NewEntry(logger)
	catalog := repository.NewCatalogRepo(store.NewMemoryStore(store.Options{}), entry)
	svc := service.NewReservationService(catalog, fraud.NewPipeline(fraud.WithRounds(1), fraud.WithWidth(4)), service.WithLogger(entry))
	e := echo.New()
	router.RegisterRoutes(e, handler.NewTicketHandler(catalog, svc, entry), router.Options{})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv, catalog
}

func TestRunReservesEveryTicket(t *testing.T) {
	srv, catalog := newBenchTarget(t)
	logger, hook := test.NewNullLogger()
	c := &client{target: srv.URL, http: srv.Client(), log: log.NewEntry(logger)}

	results, err := run(context.Background(), c, 3, 2, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, row := range results {
		assert.Len(t, row, 3)
	}

	ids, err := catalog.ListAvailable(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
	for _, e := range hook.AllEntries() {
		assert.NotEqual(t, log.WarnLevel, e.Level, e.Message)
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeCSV(&buf, [][]float64{{1.5, 2}, {3, 4.25}}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"", "ticket0_ms", "ticket1_ms"}, rows[0])
	assert.Equal(t, []string{"1", "3.000", "4.250"}, rows[2])
}

func TestSummarize(t *testing.T) {
	mean, std := summarize([][]float64{{2, 4}, {4, 6}})
	assert.InDelta(t, 4, mean, 1e-9)
	assert.InDelta(t, 1.632993, std, 1e-5)

	mean, std = summarize(nil)
	assert.Zero(t, mean)
	assert.Zero(t, std)
}

func TestClearToleratesEmptyCatalog(t *testing.T) {
	srv, _ := newBenchTarget(t)
	logger, _ := test.NewNullLogger()
	c := &client{target: srv.URL, http: http.DefaultClient, log: log.NewEntry(logger)}
	assert.NoError(t, c.clear(context.Background()))
}

func TestPauseReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := pause(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)

	assert.NoError(t, pause(context.Background(), 0))
}

func TestRunStopsDuringSettle(t *testing.T) {
	srv, catalog := newBenchTarget(t)
	logger, _ := test.NewNullLogger()
	c := &client{target: srv.URL, http: srv.Client(), log: log.NewEntry(logger)}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := run(ctx, c, 2, 1, time.Hour)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)

	// cancelled before populate ran
	ids, err := catalog.ListAvailable(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

