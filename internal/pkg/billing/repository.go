package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/keygate-io/keygate/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the entitlement store: the sole mutator of user,
// subscription, license, payment and webhook-event records. All operations
// that back idempotency rely on unique indexes plus OnConflict clauses so
// redelivered events cannot double-apply.
type Repository interface {
	GetOrCreateUserByEmail(email, name string) (*models.User, error)
	GetUserByID(id uint) (*models.User, error)

	GetSubscriptionByProviderID(providerSubscriptionID string) (*models.Subscription, error)
	CreateSubscriptionIfNotExists(sub *models.Subscription) (bool, *models.Subscription, error)
	SaveSubscription(sub *models.Subscription) error

	GetActiveLicenseForSubscription(subscriptionID uint) (*models.License, error)
	GetLicenseByKey(key string) (*models.License, error)
	CreateLicense(lic *models.License) error
	DeactivateLicense(licenseID uint, at time.Time) error

	CreatePayment(p *models.Payment) error

	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates an entitlement repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetOrCreateUserByEmail(email, name string) (*models.User, error) {
	var user models.User
	err := r.db.Where("email = ?", email).First(&user).Error
	if err == nil {
		// Refresh profile fields the provider knows about.
		if name != "" && user.Name != name {
			user.Name = name
			if err := r.db.Model(&user).Update("name", name).Error; err != nil {
				return nil, fmt.Errorf("%w: update user name: %v", ErrSystem, err)
			}
		}
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: user lookup: %v", ErrSystem, err)
	}

	created, err := models.NewProvisionedUser(email, name)
	if err != nil {
		return nil, fmt.Errorf("%w: provision user: %v", ErrSystem, err)
	}
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoNothing: true,
	}).Create(created).Error; err != nil {
		return nil, fmt.Errorf("%w: create user: %v", ErrSystem, err)
	}
	// Re-fetch so a concurrent create still yields the stored row.
	if err := r.db.Where("email = ?", email).First(&user).Error; err != nil {
		return nil, fmt.Errorf("%w: user re-fetch: %v", ErrSystem, err)
	}
	return &user, nil
}

func (r *gormRepository) GetUserByID(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrSystem, err)
	}
	return &user, nil
}

func (r *gormRepository) GetSubscriptionByProviderID(providerSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("provider_subscription_id = ?", providerSubscriptionID).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrSystem, err)
	}
	return &sub, nil
}

func (r *gormRepository) CreateSubscriptionIfNotExists(sub *models.Subscription) (bool, *models.Subscription, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_subscription_id"}},
		DoNothing: true,
	}).Create(sub)
	if tx.Error != nil {
		return false, nil, fmt.Errorf("%w: create subscription: %v", ErrSystem, tx.Error)
	}

	created := tx.RowsAffected > 0
	var stored models.Subscription
	if err := r.db.Where("provider_subscription_id = ?", sub.ProviderSubscriptionID).
		First(&stored).Error; err != nil {
		return false, nil, fmt.Errorf("%w: subscription re-fetch: %v", ErrSystem, err)
	}
	return created, &stored, nil
}

func (r *gormRepository) SaveSubscription(sub *models.Subscription) error {
	if err := r.db.Save(sub).Error; err != nil {
		return fmt.Errorf("%w: save subscription: %v", ErrSystem, err)
	}
	return nil
}

func (r *gormRepository) GetActiveLicenseForSubscription(subscriptionID uint) (*models.License, error) {
	var lic models.License
	err := r.db.Where("subscription_id = ? AND is_active = ?", subscriptionID, true).
		Order("id DESC").First(&lic).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrSystem, err)
	}
	return &lic, nil
}

func (r *gormRepository) GetLicenseByKey(key string) (*models.License, error) {
	var lic models.License
	err := r.db.Where("license_key = ?", key).First(&lic).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrSystem, err)
	}
	return &lic, nil
}

func (r *gormRepository) CreateLicense(lic *models.License) error {
	if err := r.db.Create(lic).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrConflict
		}
		return fmt.Errorf("%w: create license: %v", ErrSystem, err)
	}
	return nil
}

func (r *gormRepository) DeactivateLicense(licenseID uint, at time.Time) error {
	err := r.db.Model(&models.License{}).Where("id = ?", licenseID).Updates(map[string]interface{}{
		"is_active":      false,
		"deactivated_at": &at,
	}).Error
	if err != nil {
		return fmt.Errorf("%w: deactivate license: %v", ErrSystem, err)
	}
	return nil
}

func (r *gormRepository) CreatePayment(p *models.Payment) error {
	if err := r.db.Create(p).Error; err != nil {
		return fmt.Errorf("%w: create payment: %v", ErrSystem, err)
	}
	return nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, fmt.Errorf("%w: record webhook event: %v", ErrSystem, tx.Error)
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider_event_id = ?", event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, fmt.Errorf("%w: webhook event re-fetch: %v", ErrSystem, err)
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	if err := r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("%w: mark webhook processed: %v", ErrSystem, err)
	}
	return nil
}
