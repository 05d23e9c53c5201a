package repository

import (
	"strings"

	"gorm.io/gorm"

	"github.com/e-fakture/sefsync/app/models"
)

// companyRepository implements the CompanyRepository interface
type companyRepository struct {
	db *gorm.DB
}

// NewCompanyRepository creates a new company repository instance
func NewCompanyRepository(db *gorm.DB) CompanyRepository {
	return &companyRepository{db: db}
}

// Create creates a new company in the database
func (r *companyRepository) Create(company *models.Company) error {
	return r.db.Create(company).Error
}

// GetByID retrieves a company by its ID
func (r *companyRepository) GetByID(id uint) (*models.Company, error) {
	var company models.Company
	err := r.db.First(&company, id).Error
	if err != nil {
		return nil, err
	}
	return &company, nil
}

// GetByPIB retrieves a company by its tax identification number
func (r *companyRepository) GetByPIB(pib string) (*models.Company, error) {
	var company models.Company
	err := r.db.Where("pib = ?", pib).First(&company).Error
	if err != nil {
		return nil, err
	}
	return &company, nil
}

// GetByTokenHash resolves an API token hash to its company.
func (r *companyRepository) GetByTokenHash(hash string) (*models.Company, error) {
	trimmed := strings.TrimSpace(hash)
	if trimmed == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var company models.Company
	err := r.db.Where("api_token_hash = ? AND api_token_hash <> ''", trimmed).First(&company).Error
	if err != nil {
		return nil, err
	}
	return &company, nil
}

// Update updates an existing company in the database
func (r *companyRepository) Update(company *models.Company) error {
	return r.db.Save(company).Error
}

// List retrieves companies with pagination
func (r *companyRepository) List(offset, limit int) ([]models.Company, error) {
	var companies []models.Company
	err := r.db.Offset(offset).Limit(limit).Order("id ASC").Find(&companies).Error
	return companies, err
}

// Count returns the total number of companies
func (r *companyRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Company{}).Count(&count).Error
	return count, err
}
