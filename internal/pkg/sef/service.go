package sef

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/e-fakture/sefsync/app/models"
	"github.com/e-fakture/sefsync/internal/pkg/invoicestatus"
)

// Retry policy defaults. Backoff is exponential from baseDelay, doubling per
// attempt, capped at maxDelay.
const (
	DefaultRetryAttempts = 3
	defaultBaseDelay     = 1 * time.Second
	defaultMaxDelay      = 30 * time.Second
)

// ClientFactory builds an exchange client for a company's credentials.
type ClientFactory func(company *models.Company) ExchangeClient

// DefaultClientFactory creates real HTTP clients against the company's
// configured environment.
func DefaultClientFactory(company *models.Company) ExchangeClient {
	return NewClient(company.SEFEnvironment, company.SEFApiKey)
}

// SubmissionService owns the outbound path: lineage bookkeeping, the retry
// loop with backoff, and failure classification. Every HTTP call is recorded
// on the lineage before its outcome is interpreted.
type SubmissionService struct {
	repo    Repository
	status  *invoicestatus.Service
	clients ClientFactory

	// RetryAttempts caps HTTP calls per SubmitInvoice run.
	RetryAttempts int
	// Sleep is called between attempts; tests inject a recorder to observe
	// backoff without waiting it out.
	Sleep func(ctx context.Context, d time.Duration) error

	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewSubmissionService wires the outbound pipeline.
func NewSubmissionService(repo Repository, status *invoicestatus.Service, clients ClientFactory) *SubmissionService {
	if clients == nil {
		clients = DefaultClientFactory
	}
	return &SubmissionService{
		repo:          repo,
		status:        status,
		clients:       clients,
		RetryAttempts: DefaultRetryAttempts,
		Sleep:         sleepContext,
		baseDelay:     defaultBaseDelay,
		maxDelay:      defaultMaxDelay,
	}
}

// NewSubmissionServiceFromDB wires the outbound pipeline from a GORM handle.
func NewSubmissionServiceFromDB(db *gorm.DB) *SubmissionService {
	return NewSubmissionService(NewRepository(db), invoicestatus.NewServiceFromDB(db), nil)
}

// SubmitInvoice starts (or joins) the submission lineage for an invoice.
//
// When a non-terminal lineage already exists no exchange call is made; the
// caller observes the in-flight lineage and started=false. Otherwise the
// attempt loop runs until success, a permanent rejection, a maintenance
// deferral, or exhaustion.
func (s *SubmissionService) SubmitInvoice(ctx context.Context, company *models.Company, inv *models.Invoice) (*models.ExchangeSubmission, bool, error) {
	if len(inv.PayloadXML) == 0 {
		return nil, false, fmt.Errorf("invoice %d has no document payload", inv.ID)
	}
	if !models.ValidDocumentType(inv.DocumentType) {
		return nil, false, fmt.Errorf("invoice %d has unsupported document type %q", inv.ID, inv.DocumentType)
	}

	sub := &models.ExchangeSubmission{
		UUID:         uuid.NewString(),
		InvoiceID:    inv.ID,
		DocumentType: inv.DocumentType,
		Status:       models.SubmissionStatusPending,
	}
	created, stored, err := s.repo.CreateSubmissionIfNone(sub)
	if err != nil {
		return nil, false, err
	}
	if !created {
		log.Infof("[Exchange] invoice %d already has submission %s in flight", inv.ID, stored.UUID)
		return stored, false, ErrSubmissionInFlight
	}

	err = s.drive(ctx, company, inv, stored)
	return stored, true, err
}

// RetrySubmission re-drives an existing non-terminal lineage. Used by the
// reconciler for deferred and orphaned submissions.
func (s *SubmissionService) RetrySubmission(ctx context.Context, company *models.Company, inv *models.Invoice, sub *models.ExchangeSubmission) error {
	if sub.Terminal() {
		return fmt.Errorf("submission %s is terminal", sub.UUID)
	}
	return s.drive(ctx, company, inv, sub)
}

// drive runs the retry loop for one lineage. Transient failures back off and
// retry up to the attempt cap; maintenance windows defer instead of burning
// retries; 4xx rejections and exhaustion terminate the lineage.
func (s *SubmissionService) drive(ctx context.Context, company *models.Company, inv *models.Invoice, sub *models.ExchangeSubmission) error {
	client := s.clients(company)
	doc := Document{Type: inv.DocumentType, Payload: inv.PayloadXML}

	var lastErr error
	for attempt := 1; attempt <= s.RetryAttempts; attempt++ {
		if attempt > 1 {
			if err := s.Sleep(ctx, s.backoff(attempt-1)); err != nil {
				return err
			}
		}

		result, err := client.Submit(ctx, doc)
		if recErr := s.repo.RecordAttempt(sub.ID, errorMessage(err)); recErr != nil {
			log.Errorf("[Exchange] failed to record attempt for submission %s: %v", sub.UUID, recErr)
		}
		sub.AttemptCount++

		if err == nil {
			return s.accept(ctx, inv, sub, result)
		}
		lastErr = err

		if errors.Is(err, ErrMaintenance) {
			if mErr := s.repo.MarkDeferred(sub.ID, err.Error()); mErr != nil {
				return mErr
			}
			sub.Status = models.SubmissionStatusDeferred
			log.Warnf("[Exchange] submission %s deferred: %v", sub.UUID, err)
			return err
		}
		if IsPermanent(err) {
			if mErr := s.repo.MarkTerminal(sub.ID, models.SubmissionStatusRejected, err.Error()); mErr != nil {
				return mErr
			}
			sub.Status = models.SubmissionStatusRejected
			log.Warnf("[Exchange] submission %s rejected by exchange: %v", sub.UUID, err)
			return err
		}
		log.Warnf("[Exchange] submission %s attempt %d/%d failed: %v", sub.UUID, attempt, s.RetryAttempts, err)
	}

	if mErr := s.repo.MarkTerminal(sub.ID, models.SubmissionStatusFailedPermanent, errorMessage(lastErr)); mErr != nil {
		return mErr
	}
	sub.Status = models.SubmissionStatusFailedPermanent
	return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, s.RetryAttempts, lastErr)
}

// accept records the exchange-assigned id and advances the invoice to SENT.
func (s *SubmissionService) accept(ctx context.Context, inv *models.Invoice, sub *models.ExchangeSubmission, result *SubmitResult) error {
	if err := s.repo.MarkAccepted(sub.ID, result.SEFID, result.Status); err != nil {
		return err
	}
	sub.Status = models.SubmissionStatusAccepted
	sub.SEFID = result.SEFID
	sub.LastExchangeStatus = result.Status

	if err := s.status.AttachSEFID(inv.ID, result.SEFID); err != nil {
		return err
	}
	inv.SEFID = result.SEFID

	_, err := s.status.Apply(ctx, invoicestatus.Transition{
		Invoice:   inv,
		Target:    invoicestatus.StatusSent,
		EventType: "SUBMISSION",
		EventTime: time.Now(),
	})
	if err != nil {
		return err
	}
	log.Infof("[Exchange] invoice %d submitted, sefId=%s status=%s", inv.ID, result.SEFID, result.Status)
	return nil
}

// backoff returns the delay before retry n (1-based).
func (s *SubmissionService) backoff(n int) time.Duration {
	d := s.baseDelay << (n - 1)
	if d > s.maxDelay || d <= 0 {
		return s.maxDelay
	}
	return d
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// sleepContext waits for d unless the context ends first.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
