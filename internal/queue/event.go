// Package queue defines message payloads exchanged over the message broker.
package queue

// TicketReservedQueue is the durable queue reservation events go to.
const TicketReservedQueue = "ticket.reserved"

// TicketReservedEvent is published when a reservation has been written.
// It carries enough information for downstream consumers to audit or
// notify without reading the store.  The card number is never included,
// only its last four characters.
type TicketReservedEvent struct {
    EventID    string `json:"event_id"`
    TicketID   uint32 `json:"ticket_id"`
    Version    uint64 `json:"version"`
    Email      string `json:"email"`
    Name       string `json:"name"`
    CardLast4  string `json:"card_last4"`
    WriteMode  string `json:"write_mode"`
    ReservedAt string `json:"reserved_at"`
}

// Last4 returns the last four characters of card, or all of it when shorter.
func Last4(card string) string {
    if len(card) <= 4 {
        return card
    }
    return card[len(card)-4:]
}
