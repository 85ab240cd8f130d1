package repository

import (
	"context"
	"time"

	"github.com/keygate-io/keygate/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	Update(user *models.User) error
	Deactivate(id uint) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
}

// LicenseRepository defines the interface for license operations used outside
// the webhook processor (free-tier issuance, API middleware, statistics).
type LicenseRepository interface {
	Create(lic *models.License) error
	GetByKey(key string) (*models.License, error)
	GetByUserID(userID uint) ([]models.License, error)
	CountActive() (int64, error)
}

// UsageRepository defines the relational side of usage counting: the
// transactional fallback counter and the flush target for Redis counters.
type UsageRepository interface {
	Increment(ctx context.Context, licenseID uint, day string) (int64, error)
	Decrement(ctx context.Context, licenseID uint, day string) error
	Get(ctx context.Context, licenseID uint, day string) (int64, error)
	UpsertCount(licenseID uint, day string, count int64) error
	SumForDay(day string) (int64, error)
	GetDailyStats(startDate, endDate time.Time) ([]models.DailyStats, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User    UserRepository
	License LicenseRepository
	Usage   UsageRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:    NewUserRepository(db),
		License: NewLicenseRepository(db),
		Usage:   NewUsageRepository(db),
	}
}
