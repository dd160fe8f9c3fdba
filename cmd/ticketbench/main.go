// Command ticketbench measures reservation latency against a running ticket
// pool server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

func main() {
	target := flag.StringP("target", "t", "http://localhost:8787", "base URL of the server")
	n := flag.IntP("tickets", "n", 10, "tickets reserved per trial")
	trials := flag.Int("trials", 10, "number of trials")
	token := flag.String("token", os.Getenv("TICKETPOOL_ADMIN_TOKEN"), "admin bearer token for populate and clear")
	out := flag.StringP("out", "o", "", "CSV output file (default simple_<n>tickets_<trials>trials.csv)")
	settle := flag.Duration("settle", time.Second, "pause after clear and populate")
	timeout := flag.Duration("timeout", 30*time.Second, "per request timeout")
	flag.Parse()

	logger := log.WithField("component", "ticketbench")
	if *n < 1 || *trials < 1 {
		logger.Fatal("--tickets and --trials must be positive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := &client{target: *target, token: *token, http: &http.Client{Timeout: *timeout}, log: logger}
	results, err := run(ctx, c, *n, *trials, *settle)
	if err != nil {
		logger.WithError(err).Fatal("benchmark failed")
	}

	path := *out
	if path == "" {
		path = fmt.Sprintf("simple_%dtickets_%dtrials.csv", *n, *trials)
	}
	f, err := os.Create(path)
	if err != nil {
		logger.WithError(err).Fatal("create output")
	}
	if err := writeCSV(f, results); err != nil {
		_ = f.Close()
		logger.WithError(err).Fatal("write output")
	}
	if err := f.Close(); err != nil {
		logger.WithError(err).Fatal("close output")
	}

	mean, std := summarize(results)
	logger.WithFields(log.Fields{
		"file":    path,
		"mean_ms": fmt.Sprintf("%.3f", mean),
		"std_ms":  fmt.Sprintf("%.3f", std),
	}).Info("benchmark complete")
}
