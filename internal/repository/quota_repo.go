package repository

import (
	"errors"

	"duty-tracker/internal/engine"
	"duty-tracker/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type QuotaRepository interface {
	UpsertRule(rule *models.QuotaRule) error
	DeleteRule(roleID, workType string) error
	GetRulesForRoles(roleIDs []string, workType string) ([]*models.QuotaRule, error)
	GetAllRules() ([]*models.QuotaRule, error)
	AddIgnoredRole(roleID, workType string) error
	RemoveIgnoredRole(roleID, workType string) error
	GetIgnoredRoles(workType string) ([]string, error)
}

type GormQuotaRepository struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewGormQuotaRepository(db *gorm.DB) (*GormQuotaRepository, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	if err := db.AutoMigrate(&models.QuotaRule{}, &models.QuotaIgnoredRole{}); err != nil {
		logger.WithError(err).Error("Failed to auto-migrate quota tables")
		return nil, engine.StoreError(err)
	}

	logger.Info("Quota repository initialized")

	return &GormQuotaRepository{db: db, logger: logger}, nil
}

func (r *GormQuotaRepository) UpsertRule(rule *models.QuotaRule) error {
	if !rule.IsValid() {
		return &engine.ValidationError{Reason: "inconsistent quota rule"}
	}

	var existing models.QuotaRule
	result := r.db.Where("role_id = ? AND work_type = ?", rule.RoleID, rule.WorkType).First(&existing)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		if err := r.db.Create(rule).Error; err != nil {
			return engine.StoreError(err)
		}
		r.logger.WithFields(logrus.Fields{
			"role_id":   rule.RoleID,
			"work_type": rule.WorkType,
		}).Info("Quota rule created")
		return nil
	}
	if result.Error != nil {
		return engine.StoreError(result.Error)
	}

	existing.QuotaSeconds = rule.QuotaSeconds
	existing.PeriodWeeks = rule.PeriodWeeks
	existing.WatchQuota = rule.WatchQuota
	if err := r.db.Save(&existing).Error; err != nil {
		return engine.StoreError(err)
	}
	rule.ID = existing.ID

	r.logger.WithFields(logrus.Fields{
		"role_id":   rule.RoleID,
		"work_type": rule.WorkType,
	}).Info("Quota rule updated")

	return nil
}

func (r *GormQuotaRepository) DeleteRule(roleID, workType string) error {
	result := r.db.Where("role_id = ? AND work_type = ?", roleID, workType).Delete(&models.QuotaRule{})
	if result.Error != nil {
		return engine.StoreError(result.Error)
	}
	if result.RowsAffected == 0 {
		return engine.ErrNotFound
	}
	return nil
}

func (r *GormQuotaRepository) GetRulesForRoles(roleIDs []string, workType string) ([]*models.QuotaRule, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	var rules []*models.QuotaRule
	result := r.db.Where("role_id IN ? AND work_type = ?", roleIDs, workType).Find(&rules)
	if result.Error != nil {
		return nil, engine.StoreError(result.Error)
	}

	return rules, nil
}

func (r *GormQuotaRepository) GetAllRules() ([]*models.QuotaRule, error) {
	var rules []*models.QuotaRule
	result := r.db.Order("work_type, role_id").Find(&rules)
	if result.Error != nil {
		return nil, engine.StoreError(result.Error)
	}
	return rules, nil
}

func (r *GormQuotaRepository) AddIgnoredRole(roleID, workType string) error {
	entry := &models.QuotaIgnoredRole{RoleID: roleID, WorkType: workType}
	if err := r.db.Create(entry).Error; err != nil {
		if isDuplicate(err) {
			return nil
		}
		return engine.StoreError(err)
	}
	return nil
}

func (r *GormQuotaRepository) RemoveIgnoredRole(roleID, workType string) error {
	result := r.db.Where("role_id = ? AND work_type = ?", roleID, workType).Delete(&models.QuotaIgnoredRole{})
	if result.Error != nil {
		return engine.StoreError(result.Error)
	}
	if result.RowsAffected == 0 {
		return engine.ErrNotFound
	}
	return nil
}

func (r *GormQuotaRepository) GetIgnoredRoles(workType string) ([]string, error) {
	var roles []string
	result := r.db.Model(&models.QuotaIgnoredRole{}).
		Where("work_type = ?", workType).
		Pluck("role_id", &roles)
	if result.Error != nil {
		return nil, engine.StoreError(result.Error)
	}
	return roles, nil
}
