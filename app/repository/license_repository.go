package repository

import (
	"github.com/keygate-io/keygate/app/models"
	"gorm.io/gorm"
)

// licenseRepository implements the LicenseRepository interface
type licenseRepository struct {
	db *gorm.DB
}

// NewLicenseRepository creates a new license repository instance
func NewLicenseRepository(db *gorm.DB) LicenseRepository {
	return &licenseRepository{db: db}
}

// Create creates a new license in the database
func (r *licenseRepository) Create(lic *models.License) error {
	return r.db.Create(lic).Error
}

// GetByKey retrieves a license by its key
func (r *licenseRepository) GetByKey(key string) (*models.License, error) {
	var lic models.License
	err := r.db.Where("license_key = ?", key).First(&lic).Error
	if err != nil {
		return nil, err
	}
	return &lic, nil
}

// GetByUserID retrieves all licenses owned by a user
func (r *licenseRepository) GetByUserID(userID uint) ([]models.License, error) {
	var licenses []models.License
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&licenses).Error
	return licenses, err
}

// CountActive returns the number of currently active licenses
func (r *licenseRepository) CountActive() (int64, error) {
	var count int64
	err := r.db.Model(&models.License{}).Where("is_active = ?", true).Count(&count).Error
	return count, err
}
