package models

import "time"

// Document types accepted by the exchange.
const (
	DocumentTypeInvoice    = "invoice"
	DocumentTypeCreditNote = "credit-note"
	DocumentTypeDebitNote  = "debit-note"
)

// ValidDocumentType reports whether t is one of the enumerated document types.
func ValidDocumentType(t string) bool {
	switch t {
	case DocumentTypeInvoice, DocumentTypeCreditNote, DocumentTypeDebitNote:
		return true
	default:
		return false
	}
}

// Invoice is the business record the synchronization core reads and writes.
// Status is the canonical lifecycle state and is mutated only through the
// invoicestatus package, never directly by controllers. StatusChangedAt
// carries the event-reported time, not the wall-clock receipt time.
type Invoice struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	CompanyID       uint       `gorm:"not null;index:ux_invoices_company_number,unique,priority:1" json:"company_id"`
	InvoiceNumber   string     `gorm:"type:varchar(100);not null;index:ux_invoices_company_number,unique,priority:2" json:"invoice_number"`
	DocumentType    string     `gorm:"type:varchar(20);not null;default:'invoice'" json:"document_type"`
	Status          string     `gorm:"type:varchar(20);not null;default:'DRAFT';index" json:"status"`
	SEFID           string     `gorm:"type:varchar(64);default:'';index" json:"sef_id"`
	PayloadXML      []byte     `gorm:"type:longblob" json:"-"`
	StatusChangedAt *time.Time `gorm:"type:timestamp;default:null" json:"status_changed_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
