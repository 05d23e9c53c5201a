package invoicestatus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/e-fakture/sefsync/app/models"
)

// Transition is one requested state change for an invoice, regardless of
// whether it came from a webhook, a poll, or a local action.
type Transition struct {
	Invoice   *models.Invoice
	Target    Status
	EventType string
	// EventTime is the time the exchange reports for the event, not the time
	// we received it.
	EventTime    time.Time
	WebhookLogID *uint
}

// Result describes what the state machine did with a transition.
type Result struct {
	Outcome Outcome
	Old     Status
	New     Status
}

// Service applies transitions to invoices and writes the audit trail. It is
// the only writer of Invoice.Status.
type Service struct {
	repo Repository
}

// NewService creates a status service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NewServiceFromDB creates a status service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// Apply runs the monotonic-progression rule for t and persists the outcome:
// an advanced transition updates the invoice and writes exactly one audit
// row, a no-op only logs, and a conflict is stored as an anomaly without
// failing the caller.
func (s *Service) Apply(ctx context.Context, t Transition) (Result, error) {
	if t.Invoice == nil {
		return Result{}, errors.New("invoice is required")
	}
	if !t.Target.Valid() {
		return Result{}, fmt.Errorf("invalid target status %q", t.Target)
	}

	current := Status(t.Invoice.Status)
	if !current.Valid() {
		current = StatusDraft
	}
	eventTime := t.EventTime
	if eventTime.IsZero() {
		eventTime = time.Now()
	}

	res := Result{Outcome: Decide(current, t.Target), Old: current, New: current}
	switch res.Outcome {
	case OutcomeNoop:
		log.Debugf("[InvoiceStatus] invoice %d already %s, event %s re-applied",
			t.Invoice.ID, current, t.EventType)
		return res, nil

	case OutcomeConflict:
		anomaly := &models.StatusAnomaly{
			InvoiceID:     t.Invoice.ID,
			CurrentStatus: string(current),
			TargetStatus:  string(t.Target),
			EventType:     t.EventType,
			EventTime:     eventTime,
			WebhookLogID:  t.WebhookLogID,
		}
		if err := s.repo.CreateAnomaly(anomaly); err != nil {
			return res, err
		}
		log.Warnf("[InvoiceStatus] conflict on invoice %d: %s -> %s rejected (event %s), flagged for review",
			t.Invoice.ID, current, t.Target, t.EventType)
		return res, nil
	}

	if err := s.repo.UpdateInvoiceStatus(t.Invoice.ID, t.Target, eventTime); err != nil {
		return res, err
	}
	audit := &models.StatusAudit{
		InvoiceID:    t.Invoice.ID,
		OldStatus:    string(current),
		NewStatus:    string(t.Target),
		EventType:    t.EventType,
		EventTime:    eventTime,
		WebhookLogID: t.WebhookLogID,
	}
	if err := s.repo.CreateAudit(audit); err != nil {
		return res, err
	}

	t.Invoice.Status = string(t.Target)
	t.Invoice.StatusChangedAt = &eventTime
	res.New = t.Target
	log.Infof("[InvoiceStatus] invoice %d: %s -> %s (event %s)",
		t.Invoice.ID, current, t.Target, t.EventType)
	return res, nil
}

// InvoiceBySEFID resolves the local invoice carrying the given exchange id.
func (s *Service) InvoiceBySEFID(sefID string) (*models.Invoice, error) {
	return s.repo.GetInvoiceBySEFID(sefID)
}

// AttachSEFID stores the exchange-assigned id on the invoice once the
// exchange accepts a submission.
func (s *Service) AttachSEFID(invoiceID uint, sefID string) error {
	return s.repo.SetInvoiceSEFID(invoiceID, sefID)
}

// Anomalies returns recorded conflicts for a company, newest first.
func (s *Service) Anomalies(companyID uint, unreviewedOnly bool, limit int) ([]models.StatusAnomaly, error) {
	return s.repo.ListAnomalies(companyID, unreviewedOnly, limit)
}
