package models

import "time"

// WebhookLog stores every verified exchange notification with deduplication
// metadata for idempotent processing. Rows are never deleted; they are the
// compliance trail for inbound traffic.
//
// ProcessedAt set with an empty ProcessingError means the event changed state
// at most once; ProcessedAt set with a non-empty error means processing was
// attempted and failed, and the row is eligible for manual retry.
type WebhookLog struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	SEFID           string     `gorm:"type:varchar(64);not null;index:ux_webhook_logs_event,unique,priority:1;index" json:"sef_id"`
	EventType       string     `gorm:"type:varchar(50);not null;index:ux_webhook_logs_event,unique,priority:2" json:"event_type"`
	EventID         string     `gorm:"type:varchar(191);not null;default:'';index:ux_webhook_logs_event,unique,priority:3" json:"event_id"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	Signature       string     `gorm:"type:varchar(191);default:''" json:"-"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	ReceivedAt      time.Time  `gorm:"autoCreateTime;index" json:"received_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
