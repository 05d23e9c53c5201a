package invoicestatus

import "strings"

// Status is the canonical local invoice lifecycle state.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusAccepted  Status = "ACCEPTED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// rank positions a status in the canonical ordering
// DRAFT < SENT < DELIVERED < {ACCEPTED, REJECTED, CANCELLED, EXPIRED}.
// All terminal states share the highest rank; none of them outranks another.
var rank = map[Status]int{
	StatusDraft:     0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusAccepted:  3,
	StatusRejected:  3,
	StatusCancelled: 3,
	StatusExpired:   3,
}

// Valid reports whether s is one of the canonical states.
func (s Status) Valid() bool {
	_, ok := rank[s]
	return ok
}

// Rank returns the position of s in the canonical ordering.
func (s Status) Rank() int {
	return rank[s]
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return rank[s] == 3
}

// exchangeStatusMap translates the status strings the exchange reports into
// canonical local states. The exchange vocabulary is wider than ours; several
// of its states collapse into the same local one.
var exchangeStatusMap = map[string]Status{
	"new":        StatusSent,
	"sending":    StatusSent,
	"sent":       StatusSent,
	"registered": StatusSent,
	"delivered":  StatusDelivered,
	"seen":       StatusDelivered,
	"approved":   StatusAccepted,
	"accepted":   StatusAccepted,
	"rejected":   StatusRejected,
	"cancelled":  StatusCancelled,
	"storno":     StatusCancelled,
	"expired":    StatusExpired,
}

// FromExchange maps an exchange-reported status string to a canonical state.
// The second return value is false for unknown statuses.
func FromExchange(s string) (Status, bool) {
	mapped, ok := exchangeStatusMap[strings.ToLower(strings.TrimSpace(s))]
	return mapped, ok
}
