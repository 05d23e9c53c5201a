package sef

import (
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/e-fakture/sefsync/app/models"
	"github.com/e-fakture/sefsync/internal/pkg/invoicestatus"
)

// fakeRepoStatus implements invoicestatus.Repository in memory for pipeline
// tests.
type fakeRepoStatus struct {
	mu        sync.Mutex
	invoices  map[uint]*models.Invoice
	audits    []models.StatusAudit
	anomalies []models.StatusAnomaly
}

func newFakeStatusRepo(invs ...*models.Invoice) *fakeRepoStatus {
	r := &fakeRepoStatus{invoices: make(map[uint]*models.Invoice)}
	for _, inv := range invs {
		r.invoices[inv.ID] = inv
	}
	return r
}

func (r *fakeRepoStatus) GetInvoice(id uint) (*models.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return inv, nil
}

func (r *fakeRepoStatus) GetInvoiceBySEFID(sefID string) (*models.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invoices {
		if inv.SEFID == sefID {
			return inv, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepoStatus) UpdateInvoiceStatus(id uint, status invoicestatus.Status, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	inv.Status = string(status)
	inv.StatusChangedAt = &at
	return nil
}

func (r *fakeRepoStatus) SetInvoiceSEFID(id uint, sefID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	inv.SEFID = sefID
	return nil
}

func (r *fakeRepoStatus) CreateAudit(a *models.StatusAudit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, *a)
	return nil
}

func (r *fakeRepoStatus) CreateAnomaly(a *models.StatusAnomaly) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.anomalies = append(r.anomalies, *a)
	return nil
}

func (r *fakeRepoStatus) ListAnomalies(companyID uint, unreviewedOnly bool, limit int) ([]models.StatusAnomaly, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.StatusAnomaly(nil), r.anomalies...), nil
}
