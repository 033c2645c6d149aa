package repository

import (
	"time"

	"github.com/LukasBrandt/PicSmith/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type membershipRepository struct {
	db *gorm.DB
}

// NewMembershipRepository creates a new membership repository backed by GORM.
func NewMembershipRepository(db *gorm.DB) MembershipRepository {
	return &membershipRepository{db: db}
}

// Upsert writes a membership keyed on its external ID. Replayed webhook
// deliveries hit the conflict branch and update in place instead of creating
// duplicate rows.
func (r *membershipRepository) Upsert(m *models.Membership) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "external_membership_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"subscriber_id",
			"external_company_id",
			"access_pass_id",
			"status",
			"expires_at",
			"canceled_at",
			"updated_at",
		}),
	}).Create(m).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("external_membership_id = ?", m.ExternalMembershipID).First(m).Error
}

func (r *membershipRepository) GetByExternalID(externalMembershipID string) (*models.Membership, error) {
	var m models.Membership
	if err := r.db.Where("external_membership_id = ?", externalMembershipID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *membershipRepository) ListBySubscriber(subscriberID uint) ([]models.Membership, error) {
	var ms []models.Membership
	err := r.db.Where("subscriber_id = ?", subscriberID).Find(&ms).Error
	return ms, err
}

func (r *membershipRepository) InvalidateByCompany(externalCompanyID string, canceledAt time.Time) (int64, error) {
	tx := r.db.Model(&models.Membership{}).
		Where("external_company_id = ? AND status = ?", externalCompanyID, models.MembershipStatusValid).
		Updates(map[string]interface{}{
			"status":      models.MembershipStatusInvalid,
			"canceled_at": canceledAt,
		})
	return tx.RowsAffected, tx.Error
}
