package sef

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/e-fakture/sefsync/app/models"
)

// Repository provides the DB operations used by the submission service and
// the webhook dispatcher.
type Repository interface {
	// CreateSubmissionIfNone inserts sub unless the invoice already has an
	// in-flight lineage. It returns created=false and the existing lineage
	// in that case.
	CreateSubmissionIfNone(sub *models.ExchangeSubmission) (bool, *models.ExchangeSubmission, error)
	GetActiveSubmission(invoiceID uint) (*models.ExchangeSubmission, error)
	RecordAttempt(id uint, lastError string) error
	MarkAccepted(id uint, sefID, exchangeStatus string) error
	MarkTerminal(id uint, status, lastError string) error
	MarkDeferred(id uint, reason string) error
	// ListRetryable returns non-terminal submissions whose last attempt is
	// older than the given age: deferred ones waiting out a maintenance
	// window and pending ones orphaned by a crash mid-attempt.
	ListRetryable(olderThan time.Duration, limit int) ([]models.ExchangeSubmission, error)

	CreateWebhookLogIfNew(row *models.WebhookLog) (bool, *models.WebhookLog, error)
	GetWebhookLog(id uint) (*models.WebhookLog, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateSubmissionIfNone(sub *models.ExchangeSubmission) (bool, *models.ExchangeSubmission, error) {
	// The unique (invoice_id, terminal_marker=0) index is the concurrency
	// barrier; a racing second insert hits the conflict and is dropped.
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "invoice_id"},
			{Name: "terminal_marker"},
		},
		DoNothing: true,
	}).Create(sub)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.ExchangeSubmission
	if err := r.db.Where("invoice_id = ? AND terminal_marker = 0", sub.InvoiceID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) GetActiveSubmission(invoiceID uint) (*models.ExchangeSubmission, error) {
	var sub models.ExchangeSubmission
	err := r.db.Where("invoice_id = ? AND terminal_marker = 0", invoiceID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) RecordAttempt(id uint, lastError string) error {
	now := time.Now()
	return r.db.Model(&models.ExchangeSubmission{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"last_attempt_at": &now,
			"last_error":      lastError,
		}).Error
}

func (r *gormRepository) MarkAccepted(id uint, sefID, exchangeStatus string) error {
	return r.db.Model(&models.ExchangeSubmission{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":               models.SubmissionStatusAccepted,
			"sef_id":               sefID,
			"last_exchange_status": exchangeStatus,
			"last_error":           "",
			"terminal_marker":      id,
		}).Error
}

func (r *gormRepository) MarkTerminal(id uint, status, lastError string) error {
	return r.db.Model(&models.ExchangeSubmission{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          status,
			"last_error":      lastError,
			"terminal_marker": id,
		}).Error
}

func (r *gormRepository) MarkDeferred(id uint, reason string) error {
	return r.db.Model(&models.ExchangeSubmission{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.SubmissionStatusDeferred,
			"last_error": reason,
		}).Error
}

func (r *gormRepository) ListRetryable(olderThan time.Duration, limit int) ([]models.ExchangeSubmission, error) {
	if limit <= 0 {
		limit = 50
	}
	cutoff := time.Now().Add(-olderThan)
	var subs []models.ExchangeSubmission
	err := r.db.
		Where("terminal_marker = 0").
		Where("last_attempt_at IS NULL OR last_attempt_at < ?", cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) CreateWebhookLogIfNew(row *models.WebhookLog) (bool, *models.WebhookLog, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "sef_id"},
			{Name: "event_type"},
			{Name: "event_id"},
		},
		DoNothing: true,
	}).Create(row)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookLog
	if err := r.db.Where("sef_id = ? AND event_type = ? AND event_id = ?",
		row.SEFID, row.EventType, row.EventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) GetWebhookLog(id uint) (*models.WebhookLog, error) {
	var row models.WebhookLog
	if err := r.db.First(&row, id).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	return r.db.Model(&models.WebhookLog{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed_at":     &now,
			"processing_error": processingError,
		}).Error
}
