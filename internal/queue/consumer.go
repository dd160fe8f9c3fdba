package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    log "github.com/sirupsen/logrus"
)

// AuditLogPath is where the consumer appends one line per reservation.
var AuditLogPath = filepath.Join("logs", "reservations.log")

// StartReservationConsumer connects to the broker at url, declares the
// ticket.reserved queue and appends every event to AuditLogPath.  It
// reconnects with exponential backoff and returns only when ctx is done.
// A message that cannot be handled is rejected without requeue so one bad
// payload never stalls the queue.
func StartReservationConsumer(ctx context.Context, url string, logger *log.Entry) error {
    if logger == nil {
        logger = log.NewEntry(log.StandardLogger())
    }
    logger = logger.WithField("component", "reservation-consumer")

    backoff := time.Second
    for {
        conn, err := amqp.Dial(url)
        if err != nil {
            logger.WithError(err).WithField("retry_in", backoff.String()).Warn("failed to dial broker")
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second

        err = consumeLoop(ctx, conn, logger)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        logger.WithError(err).Warn("consume loop ended, reconnecting")
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, logger *log.Entry) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        logger.WithError(err).Warn("set QoS failed")
    }
    if _, err := ch.QueueDeclare(TicketReservedQueue, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.Consume(TicketReservedQueue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            if err := handleMessage(d.Body, AuditLogPath); err != nil {
                logger.WithError(err).Error("handle message failed")
                _ = d.Nack(false, false)
                continue
            }
            _ = d.Ack(false)
        }
    }
}

// handleMessage decodes one event and appends its audit line to path.
func handleMessage(body []byte, path string) error {
    var ev TicketReservedEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    if ev.EventID == "" {
        return errors.New("event without id")
    }
    if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
        return fmt.Errorf("mkdir logs: %w", err)
    }
    f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open log file: %w", err)
    }
    defer f.Close()

    if _, err := f.WriteString(formatAuditLine(ev)); err != nil {
        return fmt.Errorf("write log: %w", err)
    }
    return nil
}

func formatAuditLine(ev TicketReservedEvent) string {
    return fmt.Sprintf("[%s] Ticket reserved | event_id=%s | ticket_id=%d | version=%d | name=%q | email=%q | card=****%s | mode=%s\n",
        ev.ReservedAt, ev.EventID, ev.TicketID, ev.Version, ev.Name, ev.Email, ev.CardLast4, ev.WriteMode)
}

// sleep waits for d or until ctx is done, reporting whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}
