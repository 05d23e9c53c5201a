package sef

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/e-fakture/sefsync/app/models"
	"github.com/e-fakture/sefsync/internal/pkg/invoicestatus"
)

// fakeExchange scripts the outcome of consecutive Submit calls.
type fakeExchange struct {
	mu      sync.Mutex
	results []error
	success *SubmitResult
	calls   int
}

func (f *fakeExchange) Submit(ctx context.Context, doc Document) (*SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.results) > 0 {
		err := f.results[0]
		f.results = f.results[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.success, nil
}

func (f *fakeExchange) PollStatus(ctx context.Context, sefID string) (string, error) {
	return "", errors.New("not scripted")
}

// fakeSubRepo implements Repository in memory.
type fakeSubRepo struct {
	mu          sync.Mutex
	nextID      uint
	submissions map[uint]*models.ExchangeSubmission
	logs        map[uint]*models.WebhookLog
	logKeys     map[string]uint
}

func newFakeSubRepo() *fakeSubRepo {
	return &fakeSubRepo{
		submissions: make(map[uint]*models.ExchangeSubmission),
		logs:        make(map[uint]*models.WebhookLog),
		logKeys:     make(map[string]uint),
	}
}

func (r *fakeSubRepo) CreateSubmissionIfNone(sub *models.ExchangeSubmission) (bool, *models.ExchangeSubmission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.submissions {
		if existing.InvoiceID == sub.InvoiceID && existing.TerminalMarker == 0 {
			cp := *existing
			return false, &cp, nil
		}
	}
	r.nextID++
	sub.ID = r.nextID
	stored := *sub
	r.submissions[sub.ID] = &stored
	cp := stored
	return true, &cp, nil
}

func (r *fakeSubRepo) GetActiveSubmission(invoiceID uint) (*models.ExchangeSubmission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.submissions {
		if s.InvoiceID == invoiceID && s.TerminalMarker == 0 {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeSubRepo) RecordAttempt(id uint, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.submissions[id]
	s.AttemptCount++
	now := time.Now()
	s.LastAttemptAt = &now
	s.LastError = lastError
	return nil
}

func (r *fakeSubRepo) MarkAccepted(id uint, sefID, exchangeStatus string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.submissions[id]
	s.Status = models.SubmissionStatusAccepted
	s.SEFID = sefID
	s.LastExchangeStatus = exchangeStatus
	s.TerminalMarker = id
	return nil
}

func (r *fakeSubRepo) MarkTerminal(id uint, status, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.submissions[id]
	s.Status = status
	s.LastError = lastError
	s.TerminalMarker = id
	return nil
}

func (r *fakeSubRepo) MarkDeferred(id uint, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.submissions[id]
	s.Status = models.SubmissionStatusDeferred
	s.LastError = reason
	return nil
}

func (r *fakeSubRepo) ListRetryable(olderThan time.Duration, limit int) ([]models.ExchangeSubmission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ExchangeSubmission
	for _, s := range r.submissions {
		if s.TerminalMarker == 0 {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *fakeSubRepo) CreateWebhookLogIfNew(row *models.WebhookLog) (bool, *models.WebhookLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := row.SEFID + "|" + row.EventType + "|" + row.EventID
	if id, ok := r.logKeys[key]; ok {
		cp := *r.logs[id]
		return false, &cp, nil
	}
	r.nextID++
	row.ID = r.nextID
	stored := *row
	r.logs[row.ID] = &stored
	r.logKeys[key] = row.ID
	cp := stored
	return true, &cp, nil
}

func (r *fakeSubRepo) GetWebhookLog(id uint) (*models.WebhookLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.logs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *fakeSubRepo) MarkWebhookProcessed(id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.logs[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	now := time.Now()
	row.ProcessedAt = &now
	row.ProcessingError = processingError
	return nil
}

func newTestService(repo Repository, exchange ExchangeClient, invs ...*models.Invoice) (*SubmissionService, *fakeRepoStatus, *[]time.Duration) {
	statusRepo := newFakeStatusRepo(invs...)
	statusSvc := invoicestatus.NewService(statusRepo)
	svc := NewSubmissionService(repo, statusSvc, func(*models.Company) ExchangeClient { return exchange })

	var sleeps []time.Duration
	svc.Sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return svc, statusRepo, &sleeps
}

// Two 503s then success: two retries with 1s and 2s backoff, terminal
// accepted lineage carrying the exchange id.
func TestSubmitInvoiceRetriesThenSucceeds(t *testing.T) {
	inv := &models.Invoice{ID: 1, DocumentType: models.DocumentTypeInvoice, Status: "DRAFT", PayloadXML: []byte("<Invoice/>")}
	repo := newFakeSubRepo()
	exchange := &fakeExchange{
		results: []error{
			&TransientError{StatusCode: 503},
			&TransientError{StatusCode: 503},
			nil,
		},
		success: &SubmitResult{SEFID: "X1", Status: "PENDING"},
	}
	svc, _, sleeps := newTestService(repo, exchange, inv)

	sub, started, err := svc.SubmitInvoice(context.Background(), &models.Company{}, inv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !started {
		t.Fatalf("expected a fresh lineage")
	}
	if exchange.calls != 3 {
		t.Fatalf("exchange calls = %d, want 3", exchange.calls)
	}
	if got := *sleeps; len(got) != 2 || got[0] != time.Second || got[1] != 2*time.Second {
		t.Fatalf("backoff delays = %v, want [1s 2s]", got)
	}
	if sub.Status != models.SubmissionStatusAccepted || sub.SEFID != "X1" {
		t.Fatalf("unexpected lineage: %+v", sub)
	}
	if sub.AttemptCount != 3 {
		t.Fatalf("attempt count = %d, want 3", sub.AttemptCount)
	}
	if inv.Status != "SENT" {
		t.Fatalf("invoice status = %q, want SENT", inv.Status)
	}
	if inv.SEFID != "X1" {
		t.Fatalf("invoice sefId = %q, want X1", inv.SEFID)
	}
}

// A second submission for the same invoice makes no exchange call and
// observes the in-flight lineage.
func TestSubmitInvoiceRefusesSecondInFlight(t *testing.T) {
	inv := &models.Invoice{ID: 1, DocumentType: models.DocumentTypeInvoice, Status: "DRAFT", PayloadXML: []byte("<Invoice/>")}
	repo := newFakeSubRepo()

	// Seed an active lineage directly.
	first := &models.ExchangeSubmission{UUID: "u-1", InvoiceID: 1, Status: models.SubmissionStatusPending}
	if created, _, _ := repo.CreateSubmissionIfNone(first); !created {
		t.Fatalf("seeding failed")
	}

	exchange := &fakeExchange{success: &SubmitResult{SEFID: "X9", Status: "PENDING"}}
	svc, _, _ := newTestService(repo, exchange, inv)

	sub, started, err := svc.SubmitInvoice(context.Background(), &models.Company{}, inv)
	if !errors.Is(err, ErrSubmissionInFlight) {
		t.Fatalf("expected ErrSubmissionInFlight, got %v", err)
	}
	if started {
		t.Fatalf("second submission must not start")
	}
	if exchange.calls != 0 {
		t.Fatalf("no exchange call may be made, got %d", exchange.calls)
	}
	if sub == nil || sub.UUID != "u-1" {
		t.Fatalf("caller must observe the existing lineage, got %+v", sub)
	}
}

func TestSubmitInvoiceExhaustsRetries(t *testing.T) {
	inv := &models.Invoice{ID: 1, DocumentType: models.DocumentTypeInvoice, Status: "DRAFT", PayloadXML: []byte("<Invoice/>")}
	repo := newFakeSubRepo()
	exchange := &fakeExchange{
		results: []error{
			&TransientError{StatusCode: 500},
			&TransientError{StatusCode: 500},
			&TransientError{StatusCode: 500},
		},
	}
	svc, _, _ := newTestService(repo, exchange, inv)

	sub, _, err := svc.SubmitInvoice(context.Background(), &models.Company{}, inv)
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if sub.Status != models.SubmissionStatusFailedPermanent {
		t.Fatalf("status = %q, want failed_permanent", sub.Status)
	}
	if exchange.calls != 3 {
		t.Fatalf("exchange calls = %d, want 3", exchange.calls)
	}
}

func TestSubmitInvoicePermanentRejection(t *testing.T) {
	inv := &models.Invoice{ID: 1, DocumentType: models.DocumentTypeInvoice, Status: "DRAFT", PayloadXML: []byte("<Invoice/>")}
	repo := newFakeSubRepo()
	exchange := &fakeExchange{results: []error{&RejectionError{StatusCode: 400, Body: "invalid ubl"}}}
	svc, _, sleeps := newTestService(repo, exchange, inv)

	sub, _, err := svc.SubmitInvoice(context.Background(), &models.Company{}, inv)
	if !IsPermanent(err) {
		t.Fatalf("expected permanent rejection, got %v", err)
	}
	if sub.Status != models.SubmissionStatusRejected {
		t.Fatalf("status = %q, want rejected", sub.Status)
	}
	if exchange.calls != 1 || len(*sleeps) != 0 {
		t.Fatalf("4xx must not be retried (calls=%d, sleeps=%v)", exchange.calls, *sleeps)
	}
}

// Maintenance windows defer the lineage instead of exhausting retries, so
// the reconciler can pick it up later.
func TestSubmitInvoiceMaintenanceDefers(t *testing.T) {
	inv := &models.Invoice{ID: 1, DocumentType: models.DocumentTypeInvoice, Status: "DRAFT", PayloadXML: []byte("<Invoice/>")}
	repo := newFakeSubRepo()
	exchange := &fakeExchange{results: []error{ErrMaintenance}}
	svc, _, _ := newTestService(repo, exchange, inv)

	sub, _, err := svc.SubmitInvoice(context.Background(), &models.Company{}, inv)
	if !errors.Is(err, ErrMaintenance) {
		t.Fatalf("expected maintenance error, got %v", err)
	}
	if sub.Status != models.SubmissionStatusDeferred {
		t.Fatalf("status = %q, want deferred", sub.Status)
	}
	if exchange.calls != 1 {
		t.Fatalf("exchange calls = %d, want 1", exchange.calls)
	}

	// The lineage is still active and re-drivable.
	exchange.results = nil
	exchange.success = &SubmitResult{SEFID: "X2", Status: "PENDING"}
	if err := svc.RetrySubmission(context.Background(), &models.Company{}, inv, sub); err != nil {
		t.Fatalf("redrive failed: %v", err)
	}
	if sub.Status != models.SubmissionStatusAccepted || sub.SEFID != "X2" {
		t.Fatalf("unexpected lineage after redrive: %+v", sub)
	}
}
