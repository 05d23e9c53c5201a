package models

import "time"

// Submission lifecycle states. Accepted, rejected and failed_permanent are
// terminal; pending and deferred submissions are still in flight.
const (
	SubmissionStatusPending         = "pending"
	SubmissionStatusDeferred        = "deferred"
	SubmissionStatusAccepted        = "accepted"
	SubmissionStatusRejected        = "rejected"
	SubmissionStatusFailedPermanent = "failed_permanent"
)

// ExchangeSubmission is one outbound attempt lineage for a local document.
//
// The unique index on (invoice_id, terminal_marker) enforces at most one
// in-flight submission per invoice: active rows keep TerminalMarker=0, and
// on termination the marker is set to the row's own ID so finished lineages
// never collide with each other or with a new active one.
type ExchangeSubmission struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	UUID               string     `gorm:"type:varchar(36);not null;uniqueIndex" json:"uuid"`
	InvoiceID          uint       `gorm:"not null;index:ux_exchange_submissions_inflight,unique,priority:1" json:"invoice_id"`
	TerminalMarker     uint       `gorm:"not null;default:0;index:ux_exchange_submissions_inflight,unique,priority:2" json:"-"`
	DocumentType       string     `gorm:"type:varchar(20);not null" json:"document_type"`
	Status             string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	SEFID              string     `gorm:"type:varchar(64);default:''" json:"sef_id"`
	LastExchangeStatus string     `gorm:"type:varchar(50);default:''" json:"last_exchange_status"`
	AttemptCount       int        `gorm:"not null;default:0" json:"attempt_count"`
	LastAttemptAt      *time.Time `gorm:"type:timestamp;default:null" json:"last_attempt_at,omitempty"`
	LastError          string     `gorm:"type:text" json:"last_error"`
	CreatedAt          time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Terminal reports whether the submission reached a final state.
func (s *ExchangeSubmission) Terminal() bool {
	switch s.Status {
	case SubmissionStatusAccepted, SubmissionStatusRejected, SubmissionStatusFailedPermanent:
		return true
	default:
		return false
	}
}
