package invoicestatus

import (
	"time"

	"gorm.io/gorm"

	"github.com/e-fakture/sefsync/app/models"
)

// Repository provides the DB operations used by the status service.
type Repository interface {
	GetInvoice(id uint) (*models.Invoice, error)
	GetInvoiceBySEFID(sefID string) (*models.Invoice, error)
	UpdateInvoiceStatus(id uint, status Status, at time.Time) error
	SetInvoiceSEFID(id uint, sefID string) error
	CreateAudit(a *models.StatusAudit) error
	CreateAnomaly(a *models.StatusAnomaly) error
	ListAnomalies(companyID uint, unreviewedOnly bool, limit int) ([]models.StatusAnomaly, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a status repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetInvoice(id uint) (*models.Invoice, error) {
	var inv models.Invoice
	if err := r.db.First(&inv, id).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *gormRepository) GetInvoiceBySEFID(sefID string) (*models.Invoice, error) {
	var inv models.Invoice
	if err := r.db.Where("sef_id = ?", sefID).First(&inv).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *gormRepository) UpdateInvoiceStatus(id uint, status Status, at time.Time) error {
	return r.db.Model(&models.Invoice{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":            string(status),
			"status_changed_at": &at,
		}).Error
}

func (r *gormRepository) SetInvoiceSEFID(id uint, sefID string) error {
	return r.db.Model(&models.Invoice{}).
		Where("id = ?", id).
		Update("sef_id", sefID).Error
}

func (r *gormRepository) CreateAudit(a *models.StatusAudit) error {
	return r.db.Create(a).Error
}

func (r *gormRepository) CreateAnomaly(a *models.StatusAnomaly) error {
	return r.db.Create(a).Error
}

func (r *gormRepository) ListAnomalies(companyID uint, unreviewedOnly bool, limit int) ([]models.StatusAnomaly, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := r.db.
		Joins("JOIN invoices ON invoices.id = status_anomalies.invoice_id").
		Where("invoices.company_id = ?", companyID)
	if unreviewedOnly {
		q = q.Where("status_anomalies.reviewed = ?", false)
	}
	var anomalies []models.StatusAnomaly
	err := q.Order("status_anomalies.created_at DESC").Limit(limit).Find(&anomalies).Error
	return anomalies, err
}
