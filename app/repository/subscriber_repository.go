package repository

import (
	"time"

	"github.com/LukasBrandt/PicSmith/app/models"
	"gorm.io/gorm"
)

type subscriberRepository struct {
	db *gorm.DB
}

// NewSubscriberRepository creates a new subscriber repository backed by GORM.
func NewSubscriberRepository(db *gorm.DB) SubscriberRepository {
	return &subscriberRepository{db: db}
}

func (r *subscriberRepository) Create(sub *models.Subscriber) error {
	return r.db.Create(sub).Error
}

func (r *subscriberRepository) GetByID(id uint) (*models.Subscriber, error) {
	var sub models.Subscriber
	if err := r.db.First(&sub, id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriberRepository) GetByExternalUserID(externalUserID string) (*models.Subscriber, error) {
	var sub models.Subscriber
	if err := r.db.Where("external_user_id = ?", externalUserID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriberRepository) UpdateProfile(id uint, email, displayName string) error {
	return r.db.Model(&models.Subscriber{}).Where("id = ?", id).Updates(map[string]interface{}{
		"email":        email,
		"display_name": displayName,
	}).Error
}

func (r *subscriberRepository) UpdateTier(id uint, tier string, poolLimit int) error {
	return r.db.Model(&models.Subscriber{}).Where("id = ?", id).Updates(map[string]interface{}{
		"tier":       tier,
		"pool_limit": poolLimit,
	}).Error
}

// ConsumeUnit is the compare-and-swap increment backing ledger consumption.
// The WHERE guard on usage_count makes concurrent increments lose instead of
// silently overwriting each other; callers re-read and retry on a lost race.
func (r *subscriberRepository) ConsumeUnit(id uint, observedUsage int) (bool, error) {
	tx := r.db.Model(&models.Subscriber{}).
		Where("id = ? AND usage_count = ?", id, observedUsage).
		Update("usage_count", gorm.Expr("usage_count + 1"))
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *subscriberRepository) AccrueOverage(id uint, units int, cents int64) error {
	return r.db.Model(&models.Subscriber{}).Where("id = ?", id).Updates(map[string]interface{}{
		"overage_used":          gorm.Expr("overage_used + ?", units),
		"overage_cents_accrued": gorm.Expr("overage_cents_accrued + ?", cents),
	}).Error
}

// ResetCycle is guarded by the observed reset date so that the lazy
// reset-on-read and the scheduled sweep cannot both apply to the same cycle.
func (r *subscriberRepository) ResetCycle(id uint, observedResetDate, nextResetDate time.Time) (bool, error) {
	tx := r.db.Model(&models.Subscriber{}).
		Where("id = ? AND reset_date = ?", id, observedResetDate).
		Updates(map[string]interface{}{
			"usage_count": 0,
			"reset_date":  nextResetDate,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *subscriberRepository) ClearOverage(id uint, observedCents int64, billedAt time.Time) (bool, error) {
	tx := r.db.Model(&models.Subscriber{}).
		Where("id = ? AND overage_cents_accrued = ?", id, observedCents).
		Updates(map[string]interface{}{
			"overage_used":          0,
			"overage_cents_accrued": 0,
			"last_billing_date":     billedAt,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *subscriberRepository) BulkResetDue(now, nextResetDate time.Time) (int64, error) {
	tx := r.db.Model(&models.Subscriber{}).
		Where("reset_date <= ?", now).
		Updates(map[string]interface{}{
			"usage_count": 0,
			"reset_date":  nextResetDate,
		})
	return tx.RowsAffected, tx.Error
}

// BulkResetDueAnniversary advances each due row by 30 days from its own stored
// reset date, keeping per-subscriber anniversary cadences intact.
func (r *subscriberRepository) BulkResetDueAnniversary(now time.Time) (int64, error) {
	tx := r.db.Model(&models.Subscriber{}).
		Where("reset_date <= ?", now).
		Updates(map[string]interface{}{
			"usage_count": 0,
			"reset_date":  gorm.Expr("DATE_ADD(reset_date, INTERVAL 30 DAY)"),
		})
	return tx.RowsAffected, tx.Error
}

func (r *subscriberRepository) ListWithOverage() ([]models.Subscriber, error) {
	var subs []models.Subscriber
	err := r.db.Where("overage_cents_accrued > 0").Order("external_user_id ASC").Find(&subs).Error
	return subs, err
}
