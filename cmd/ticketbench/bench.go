package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// client drives the ticket pool HTTP API.
type client struct {
	target string
	token  string
	http   *http.Client
	log    *log.Entry
}

type reservation struct {
	ID       uint32 `json:"id"`
	Taken    bool   `json:"taken"`
	ResEmail string `json:"res_email"`
	ResName  string `json:"res_name"`
	ResCard  string `json:"res_card"`
}

func (c *client) do(ctx context.Context, method, path, contentType string, body []byte, admin bool) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.target+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if admin && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	return resp.StatusCode, out, err
}

// clear empties the catalog.  An already empty catalog answers 404, which
// is fine here.
func (c *client) clear(ctx context.Context) error {
	status, body, err := c.do(ctx, http.MethodPost, "/clear_kv", "", nil, true)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNotFound {
		return fmt.Errorf("clear: status %d: %s", status, body)
	}
	c.log.WithField("status", status).Info(strings.TrimSpace(string(body)))
	return nil
}

func (c *client) populate(ctx context.Context, n int) error {
	status, body, err := c.do(ctx, http.MethodPost, "/populate_tickets", "text/plain", []byte(strconv.Itoa(n)), true)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("populate: status %d: %s", status, body)
	}
	return nil
}

func (c *client) available(ctx context.Context) (int, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/", "", nil, false)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("available: status %d", status)
	}
	return len(strings.Fields(string(body))), nil
}

// reserve reserves ticket id and returns the round trip in milliseconds.
func (c *client) reserve(ctx context.Context, id uint32) (float64, error) {
	body, err := json.Marshal(reservation{
		ID:       id,
		Taken:    true,
		ResEmail: "test@test.com",
		ResName:  "Test Name",
		ResCard:  "xxxx1234",
	})
	if err != nil {
		return 0, err
	}
	start := time.Now()
	status, out, err := c.do(ctx, http.MethodPost, "/reserve", "application/json", body, false)
	elapsed := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		return elapsed, err
	}
	if status != http.StatusOK {
		c.log.WithFields(log.Fields{"ticket_id": id, "status": status}).Warn(strings.TrimSpace(string(out)))
	}
	return elapsed, nil
}

// run clears the catalog, populates n*trials tickets and reserves a fresh
// slice of n tickets per trial.  The result has one row per trial.
func run(ctx context.Context, c *client, n, trials int, settle time.Duration) ([][]float64, error) {
	if err := c.clear(ctx); err != nil {
		return nil, err
	}
	if err := pause(ctx, settle); err != nil {
		return nil, err
	}
	if err := c.populate(ctx, n*trials); err != nil {
		return nil, err
	}
	if err := pause(ctx, settle); err != nil {
		return nil, err
	}

	results := make([][]float64, 0, trials)
	for t := 0; t < trials; t++ {
		left, err := c.available(ctx)
		if err != nil {
			return nil, err
		}
		c.log.WithFields(log.Fields{"trial": t, "available": left}).Info("starting trial")
		row := make([]float64, n)
		for i := 0; i < n; i++ {
			ms, err := c.reserve(ctx, uint32(n*t+i))
			if err != nil {
				return nil, err
			}
			row[i] = ms
		}
		results = append(results, row)
	}
	return results, nil
}

// pause waits for d, returning early with ctx's error when it is done.
func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// writeCSV writes results with a ticket{i}_ms header and a leading trial
// index column.
func writeCSV(w io.Writer, results [][]float64) error {
	cw := csv.NewWriter(w)
	if len(results) > 0 {
		header := []string{""}
		for i := range results[0] {
			header = append(header, fmt.Sprintf("ticket%d_ms", i))
		}
		if err := cw.Write(header); err != nil {
			return err
		}
	}
	for t, row := range results {
		rec := []string{strconv.Itoa(t)}
		for _, v := range row {
			rec = append(rec, strconv.FormatFloat(v, 'f', 3, 64))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// summarize returns the mean and standard deviation of every latency.
func summarize(results [][]float64) (mean, std float64) {
	var all []float64
	for _, row := range results {
		all = append(all, row...)
	}
	if len(all) == 0 {
		return 0, 0
	}
	if len(all) == 1 {
		return all[0], 0
	}
	return stat.MeanStdDev(all, nil)
}
