package repository

import (
	"time"

	"github.com/LukasBrandt/PicSmith/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new payment repository backed by GORM.
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

// UpsertByExternalID inserts a payment record once per external payment ID.
// The bool result reports whether a new row was created; replays return false
// and leave the stored record untouched (payments are immutable).
func (r *paymentRepository) UpsertByExternalID(p *models.Payment) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "external_payment_id"},
		},
		DoNothing: true,
	}).Create(p)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *paymentRepository) ListBySubscriber(subscriberID uint) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.Where("subscriber_id = ?", subscriberID).Order("occurred_at DESC").Find(&payments).Error
	return payments, err
}

type companyRepository struct {
	db *gorm.DB
}

// NewCompanyRepository creates a new company repository backed by GORM.
func NewCompanyRepository(db *gorm.DB) CompanyRepository {
	return &companyRepository{db: db}
}

func (r *companyRepository) Upsert(c *models.Company) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "external_company_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"name",
			"installed_at",
			"uninstalled_at",
			"updated_at",
		}),
	}).Create(c).Error; err != nil {
		return err
	}

	return r.db.Where("external_company_id = ?", c.ExternalCompanyID).First(c).Error
}

func (r *companyRepository) GetByExternalID(externalCompanyID string) (*models.Company, error) {
	var c models.Company
	if err := r.db.Where("external_company_id = ?", externalCompanyID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *companyRepository) MarkUninstalled(externalCompanyID string, at time.Time) error {
	return r.db.Model(&models.Company{}).
		Where("external_company_id = ?", externalCompanyID).
		Update("uninstalled_at", at).Error
}

type transactionLogRepository struct {
	db *gorm.DB
}

// NewTransactionLogRepository creates a new transaction log repository backed by GORM.
func NewTransactionLogRepository(db *gorm.DB) TransactionLogRepository {
	return &transactionLogRepository{db: db}
}

func (r *transactionLogRepository) Append(entry *models.TransactionLogEntry) error {
	return r.db.Create(entry).Error
}

func (r *transactionLogRepository) ListBySubscriber(subscriberID uint, limit int) ([]models.TransactionLogEntry, error) {
	var entries []models.TransactionLogEntry
	q := r.db.Where("subscriber_id = ?", subscriberID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&entries).Error
	return entries, err
}

type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a new webhook event repository backed by GORM.
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *webhookEventRepository) MarkProcessed(id uint, processingError string) error {
	now := time.Now()
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}).Error
}
