package model

// Ticket is a single reservable unit of the pool.  A ticket is created
// available and moves to taken exactly once; the reservation details are
// filled in together with that transition and never appear on an available
// ticket.
//
// Fields:
//  ID       – identifier assigned at population time, never reused.
//  Taken    – true once the ticket has been reserved.
//  ResEmail – reservation holder email (present iff Taken).
//  ResName  – reservation holder name (present iff Taken).
//  ResCard  – reservation payment card (present iff Taken).
type Ticket struct {
    ID       uint32  `json:"id"`
    Taken    bool    `json:"taken"`
    ResEmail *string `json:"res_email,omitempty"`
    ResName  *string `json:"res_name,omitempty"`
    ResCard  *string `json:"res_card,omitempty"`
}

// NewAvailableTicket returns an untaken ticket without reservation details.
func NewAvailableTicket(id uint32) Ticket {
    return Ticket{ID: id}
}

// HasDetails reports whether all three reservation fields are present and
// non-empty.
func (t Ticket) HasDetails() bool {
    return nonEmpty(t.ResEmail) && nonEmpty(t.ResName) && nonEmpty(t.ResCard)
}

// Consistent reports whether the details-iff-taken invariant holds.
func (t Ticket) Consistent() bool {
    if t.Taken {
        return t.HasDetails()
    }
    return t.ResEmail == nil && t.ResName == nil && t.ResCard == nil
}

// Reserved returns a taken copy of t carrying the given details.
func (t Ticket) Reserved(email, name, card string) Ticket {
    return Ticket{
        ID:       t.ID,
        Taken:    true,
        ResEmail: &email,
        ResName:  &name,
        ResCard:  &card,
    }
}

// Email returns the reservation email or "" when unset.
func (t Ticket) Email() string { return deref(t.ResEmail) }

// Name returns the reservation name or "" when unset.
func (t Ticket) Name() string { return deref(t.ResName) }

// Card returns the reservation card or "" when unset.
func (t Ticket) Card() string { return deref(t.ResCard) }

func nonEmpty(s *string) bool { return s != nil && *s != "" }

func deref(s *string) string {
    if s == nil {
        return ""
    }
    return *s
}
