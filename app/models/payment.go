package models

import "time"

// Payment is a registered payment against an invoice. Creation goes through
// the idempotent API surface, so a retried request never produces a second
// row.
type Payment struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CompanyID   uint      `gorm:"not null;index" json:"company_id"`
	InvoiceID   uint      `gorm:"not null;index" json:"invoice_id"`
	AmountCents int64     `gorm:"not null" json:"amount_cents"`
	Currency    string    `gorm:"type:varchar(3);not null;default:'RSD'" json:"currency"`
	Reference   string    `gorm:"type:varchar(100);default:''" json:"reference"`
	PaidAt      time.Time `gorm:"not null" json:"paid_at"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}
