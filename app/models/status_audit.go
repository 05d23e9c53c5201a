package models

import "time"

// StatusAudit is the append-only record of accepted lifecycle transitions.
// Exactly one row is written per applied transition. EventTime is the time
// reported by the triggering event, so the chronology stays accurate even
// when notifications arrive late.
type StatusAudit struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	InvoiceID    uint      `gorm:"not null;index" json:"invoice_id"`
	OldStatus    string    `gorm:"type:varchar(20);not null" json:"old_status"`
	NewStatus    string    `gorm:"type:varchar(20);not null" json:"new_status"`
	EventType    string    `gorm:"type:varchar(50);not null" json:"event_type"`
	EventTime    time.Time `gorm:"not null" json:"event_time"`
	WebhookLogID *uint     `gorm:"index" json:"webhook_log_id,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// StatusAnomaly records a rejected backward transition. Anomalies almost
// always indicate out-of-order delivery and are kept as a queryable list for
// manual review rather than raised to the caller.
type StatusAnomaly struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	InvoiceID     uint      `gorm:"not null;index" json:"invoice_id"`
	CurrentStatus string    `gorm:"type:varchar(20);not null" json:"current_status"`
	TargetStatus  string    `gorm:"type:varchar(20);not null" json:"target_status"`
	EventType     string    `gorm:"type:varchar(50);not null" json:"event_type"`
	EventTime     time.Time `gorm:"not null" json:"event_time"`
	WebhookLogID  *uint     `gorm:"index" json:"webhook_log_id,omitempty"`
	Reviewed      bool      `gorm:"default:false;index" json:"reviewed"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
