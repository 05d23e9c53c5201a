package repository

import (
	"gorm.io/gorm"

	"github.com/e-fakture/sefsync/app/models"
	"github.com/e-fakture/sefsync/internal/pkg/invoicestatus"
)

// invoiceRepository implements the InvoiceRepository interface
type invoiceRepository struct {
	db *gorm.DB
}

// NewInvoiceRepository creates a new invoice repository instance
func NewInvoiceRepository(db *gorm.DB) InvoiceRepository {
	return &invoiceRepository{db: db}
}

// Create creates a new invoice in the database
func (r *invoiceRepository) Create(invoice *models.Invoice) error {
	return r.db.Create(invoice).Error
}

// GetByID retrieves an invoice by its ID
func (r *invoiceRepository) GetByID(id uint) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.First(&invoice, id).Error
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// GetByCompanyAndID retrieves an invoice scoped to its owning company.
func (r *invoiceRepository) GetByCompanyAndID(companyID, id uint) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.Where("company_id = ?", companyID).First(&invoice, id).Error
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// GetBySEFID retrieves an invoice by its exchange identifier
func (r *invoiceRepository) GetBySEFID(sefID string) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.Where("sef_id = ?", sefID).First(&invoice).Error
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// ListByCompany retrieves a company's invoices with pagination
func (r *invoiceRepository) ListByCompany(companyID uint, offset, limit int) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.Where("company_id = ?", companyID).
		Offset(offset).Limit(limit).Order("id DESC").Find(&invoices).Error
	return invoices, err
}

// ListOpenWithSEFID returns registered invoices that have not yet reached a
// terminal status, for periodic status reconciliation.
func (r *invoiceRepository) ListOpenWithSEFID(limit int) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.Where("sef_id <> '' AND status IN ?", []string{
		string(invoicestatus.StatusSent),
		string(invoicestatus.StatusDelivered),
	}).Limit(limit).Order("status_changed_at ASC").Find(&invoices).Error
	return invoices, err
}

// Update updates an existing invoice in the database
func (r *invoiceRepository) Update(invoice *models.Invoice) error {
	return r.db.Save(invoice).Error
}

// CountByCompany returns the number of invoices owned by a company
func (r *invoiceRepository) CountByCompany(companyID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Invoice{}).Where("company_id = ?", companyID).Count(&count).Error
	return count, err
}
