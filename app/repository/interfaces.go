package repository

import (
	"gorm.io/gorm"

	"github.com/e-fakture/sefsync/app/models"
)

// CompanyRepository defines the interface for company-related database operations
type CompanyRepository interface {
	Create(company *models.Company) error
	GetByID(id uint) (*models.Company, error)
	GetByPIB(pib string) (*models.Company, error)
	GetByTokenHash(hash string) (*models.Company, error)
	Update(company *models.Company) error
	List(offset, limit int) ([]models.Company, error)
	Count() (int64, error)
}

// InvoiceRepository defines the interface for invoice-related database operations
type InvoiceRepository interface {
	Create(invoice *models.Invoice) error
	GetByID(id uint) (*models.Invoice, error)
	GetByCompanyAndID(companyID, id uint) (*models.Invoice, error)
	GetBySEFID(sefID string) (*models.Invoice, error)
	ListByCompany(companyID uint, offset, limit int) ([]models.Invoice, error)
	ListOpenWithSEFID(limit int) ([]models.Invoice, error)
	Update(invoice *models.Invoice) error
	CountByCompany(companyID uint) (int64, error)
}

// PaymentRepository defines the interface for payment-related database operations
type PaymentRepository interface {
	Create(payment *models.Payment) error
	GetByID(id uint) (*models.Payment, error)
	ListByInvoice(invoiceID uint) ([]models.Payment, error)
	ListByCompany(companyID uint, offset, limit int) ([]models.Payment, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Company CompanyRepository
	Invoice InvoiceRepository
	Payment PaymentRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Company: NewCompanyRepository(db),
		Invoice: NewInvoiceRepository(db),
		Payment: NewPaymentRepository(db),
	}
}
