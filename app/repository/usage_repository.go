package repository

import (
	"context"
	"errors"
	"time"

	"github.com/keygate-io/keygate/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// usageRepository implements the UsageRepository interface. Increment and
// Decrement run inside a transaction with a row lock so concurrent calls
// against the same license serialize on the database instead of racing in
// application code. This path is the fallback when Redis is unavailable;
// the Redis counter store is the hot path.
type usageRepository struct {
	db *gorm.DB
}

// NewUsageRepository creates a new usage repository instance
func NewUsageRepository(db *gorm.DB) UsageRepository {
	return &usageRepository{db: db}
}

func (r *usageRepository) Increment(ctx context.Context, licenseID uint, day string) (int64, error) {
	var newCount int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		counter := models.UsageCounter{LicenseID: licenseID, Day: day, CallCount: 1}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "license_id"}, {Name: "day"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"call_count": gorm.Expr("call_count + 1")}),
		}).Create(&counter).Error; err != nil {
			return err
		}
		var stored models.UsageCounter
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("license_id = ? AND day = ?", licenseID, day).
			First(&stored).Error; err != nil {
			return err
		}
		newCount = stored.CallCount
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newCount, nil
}

func (r *usageRepository) Decrement(ctx context.Context, licenseID uint, day string) error {
	return r.db.WithContext(ctx).Model(&models.UsageCounter{}).
		Where("license_id = ? AND day = ? AND call_count > 0", licenseID, day).
		Update("call_count", gorm.Expr("call_count - 1")).Error
}

func (r *usageRepository) Get(ctx context.Context, licenseID uint, day string) (int64, error) {
	var counter models.UsageCounter
	err := r.db.WithContext(ctx).Where("license_id = ? AND day = ?", licenseID, day).
		First(&counter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return counter.CallCount, nil
}

// UpsertCount records the flushed count for a license/day pair. GREATEST
// keeps counts accumulated through the transactional fallback from being
// overwritten by a Redis value that restarted lower.
func (r *usageRepository) UpsertCount(licenseID uint, day string, count int64) error {
	counter := models.UsageCounter{LicenseID: licenseID, Day: day, CallCount: count}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "license_id"}, {Name: "day"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"call_count": gorm.Expr("GREATEST(call_count, ?)", count)}),
	}).Create(&counter).Error
}

// SumForDay returns the total tracked calls across all licenses for a day.
func (r *usageRepository) SumForDay(day string) (int64, error) {
	var total int64
	err := r.db.Model(&models.UsageCounter{}).
		Where("day = ?", day).
		Select("COALESCE(SUM(call_count), 0)").
		Scan(&total).Error
	return total, err
}

// GetDailyStats returns per-day call totals in the given range.
func (r *usageRepository) GetDailyStats(startDate, endDate time.Time) ([]models.DailyStats, error) {
	var stats []models.DailyStats
	err := r.db.Model(&models.UsageCounter{}).
		Select("day AS date, CAST(SUM(call_count) AS SIGNED) AS count").
		Where("day BETWEEN ? AND ?", startDate.Format("2006-01-02"), endDate.Format("2006-01-02")).
		Group("day").
		Order("day").
		Scan(&stats).Error
	return stats, err
}
