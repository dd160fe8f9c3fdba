package service

import (
    "context"
    "encoding/json"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/sirupsen/logrus"

    q "github.com/iliyamo/ticket-pool/internal/queue"
)

// AMQPPublisher publishes reservation events to RabbitMQ.  Each publish
// opens its own connection so a broker outage never leaves a half-open
// channel behind; errors are logged and returned so the caller can ignore
// them without interrupting the reservation.
type AMQPPublisher struct {
    url   string
    queue string
    log   *logrus.Entry
}

// NewAMQPPublisher returns a publisher for the given broker URL.
func NewAMQPPublisher(url string, log *logrus.Entry) *AMQPPublisher {
    if log == nil {
        log = logrus.NewEntry(logrus.StandardLogger())
    }
    return &AMQPPublisher{url: url, queue: q.TicketReservedQueue, log: log.WithField("component", "amqp-publisher")}
}

// PublishTicketReserved publishes ev to the ticket.reserved queue as a
// persistent message.
func (p *AMQPPublisher) PublishTicketReserved(ctx context.Context, ev q.TicketReservedEvent) error {
    conn, err := amqp.Dial(p.url)
    if err != nil {
        p.log.WithError(err).Warn("rabbitmq: dial failed")
        return err
    }
    defer func() { _ = conn.Close() }()

    ch, err := conn.Channel()
    if err != nil {
        p.log.WithError(err).Warn("rabbitmq: channel open failed")
        return err
    }
    defer func() { _ = ch.Close() }()

    // Durable so events survive broker restarts.
    if _, err := ch.QueueDeclare(
        p.queue, // name
        true,    // durable
        false,   // autoDelete
        false,   // exclusive
        false,   // noWait
        nil,     // args
    ); err != nil {
        p.log.WithError(err).Warn("rabbitmq: queue declare failed")
        return err
    }

    body, err := json.Marshal(ev)
    if err != nil {
        return err
    }

    pub := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        MessageId:    ev.EventID,
        Timestamp:    time.Now().UTC(),
        Body:         body,
    }

    if err := ch.PublishWithContext(ctx,
        "",      // default exchange
        p.queue, // routing key = queue name
        false,   // mandatory
        false,   // immediate
        pub,
    ); err != nil {
        p.log.WithError(err).Warn("rabbitmq: publish failed")
        return err
    }
    return nil
}
