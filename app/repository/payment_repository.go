package repository

import (
	"gorm.io/gorm"

	"github.com/e-fakture/sefsync/app/models"
)

// paymentRepository implements the PaymentRepository interface
type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new payment repository instance
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

// Create creates a new payment in the database
func (r *paymentRepository) Create(payment *models.Payment) error {
	return r.db.Create(payment).Error
}

// GetByID retrieves a payment by its ID
func (r *paymentRepository) GetByID(id uint) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.First(&payment, id).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// ListByInvoice retrieves all payments recorded against an invoice
func (r *paymentRepository) ListByInvoice(invoiceID uint) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.Where("invoice_id = ?", invoiceID).Order("paid_at ASC").Find(&payments).Error
	return payments, err
}

// ListByCompany retrieves a company's payments with pagination
func (r *paymentRepository) ListByCompany(companyID uint, offset, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.Where("company_id = ?", companyID).
		Offset(offset).Limit(limit).Order("id DESC").Find(&payments).Error
	return payments, err
}
