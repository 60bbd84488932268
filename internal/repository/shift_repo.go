package repository

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"duty-tracker/internal/engine"
	"duty-tracker/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// WaveAggregate is one leaderboard row for an archived wave.
type WaveAggregate struct {
	WorkerID      string `json:"worker_id"`
	WorkType      string `json:"work_type"`
	ShiftCount    int64  `json:"shift_count"`
	ActiveSeconds int64  `json:"active_seconds"`
}

type ShiftRepository interface {
	Create(shift *models.Shift) error
	Update(shift *models.Shift) error
	GetByID(id uint) (*models.Shift, error)
	GetOpen(workerID, workType string) (*models.Shift, error)
	GetAllOpen() ([]*models.Shift, error)
	GetOnBreakSince(cutoff time.Time) ([]*models.Shift, error)
	GetWorkTypesWithHistory(workerID string) ([]string, error)
	SumActiveSeconds(workerID, workType string, fromWeek, toWeek time.Time) (int64, error)
	ArchiveWeek(weekStart time.Time, wave int, now time.Time) (archived, forced int64, err error)
	CountArchivable(weekStart time.Time) (ended, open int64, err error)
	WaveAggregates(wave int) ([]WaveAggregate, error)
	DeleteByID(id uint) error
	ClearCurrentWave() (int64, error)
	ClearWave(wave int) (int64, error)
	ClearAll() (int64, error)
	AppendEdit(edit *models.ShiftEdit) error
	GetEditsFrom(adminID, workerID string, shiftID uint, firstEditID uint) ([]*models.ShiftEdit, error)
}

type GormShiftRepository struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewGormShiftRepository(db *gorm.DB) (*GormShiftRepository, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	if err := db.AutoMigrate(&models.Shift{}, &models.BreakSession{}, &models.ShiftEdit{}); err != nil {
		logger.WithError(err).Error("Failed to auto-migrate shift tables")
		return nil, engine.StoreError(err)
	}

	logger.Info("Shift repository initialized")

	return &GormShiftRepository{db: db, logger: logger}, nil
}

// isDuplicate reports whether err is the open-shift unique index firing.
func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (r *GormShiftRepository) Create(shift *models.Shift) error {
	if !shift.IsValid() {
		return &engine.ValidationError{Reason: "inconsistent shift record"}
	}

	if err := r.db.Create(shift).Error; err != nil {
		if isDuplicate(err) {
			// The unique index is the authority on the one-open-shift
			// invariant; a concurrent start loses here, not in app code.
			return &engine.AlreadyActiveError{WorkerID: shift.WorkerID, WorkType: shift.WorkType}
		}
		r.logger.WithError(err).Error("Failed to create shift")
		return engine.StoreError(err)
	}

	r.logger.WithFields(logrus.Fields{
		"id":        shift.ID,
		"worker_id": shift.WorkerID,
		"work_type": shift.WorkType,
	}).Info("Shift created")

	return nil
}

// Update persists the shift behind its optimistic-lock version: the row is
// only written if nobody else has since. Two callers racing the same
// transition both pass the in-memory state check, but only the first write
// lands; the loser gets InvalidStateError and must re-read.
func (r *GormShiftRepository) Update(shift *models.Shift) error {
	if !shift.IsValid() {
		return &engine.ValidationError{Reason: "inconsistent shift record"}
	}

	prev := shift.Version
	shift.Version = prev + 1

	err := r.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Shift{}).
			Where("id = ? AND version = ?", shift.ID, prev).
			Select("*").Omit("id", "created_at", "Breaks").
			Updates(shift)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: shift %d was modified concurrently", engine.ErrInvalidState, shift.ID)
		}

		for i := range shift.Breaks {
			if err := tx.Save(&shift.Breaks[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		shift.Version = prev
		if errors.Is(err, engine.ErrInvalidState) {
			return err
		}
		r.logger.WithError(err).WithField("id", shift.ID).Error("Failed to update shift")
		return engine.StoreError(err)
	}

	return nil
}

func (r *GormShiftRepository) GetByID(id uint) (*models.Shift, error) {
	var shift models.Shift
	result := r.db.Preload("Breaks").First(&shift, id)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		r.logger.WithError(result.Error).Error("Failed to get shift by ID")
		return nil, engine.StoreError(result.Error)
	}

	return &shift, nil
}

func (r *GormShiftRepository) GetOpen(workerID, workType string) (*models.Shift, error) {
	var shift models.Shift
	result := r.db.Preload("Breaks").
		Where("worker_id = ? AND work_type = ? AND status <> ?", workerID, workType, models.StatusEnded).
		First(&shift)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		r.logger.WithError(result.Error).Error("Failed to get open shift")
		return nil, engine.StoreError(result.Error)
	}

	return &shift, nil
}

func (r *GormShiftRepository) GetAllOpen() ([]*models.Shift, error) {
	var shifts []*models.Shift
	result := r.db.Preload("Breaks").
		Where("status <> ?", models.StatusEnded).
		Order("start_time").
		Find(&shifts)

	if result.Error != nil {
		r.logger.WithError(result.Error).Error("Failed to list open shifts")
		return nil, engine.StoreError(result.Error)
	}

	return shifts, nil
}

func (r *GormShiftRepository) GetOnBreakSince(cutoff time.Time) ([]*models.Shift, error) {
	var shifts []*models.Shift
	result := r.db.Preload("Breaks").
		Where("status = ? AND pause_start <= ?", models.StatusOnBreak, cutoff).
		Find(&shifts)

	if result.Error != nil {
		r.logger.WithError(result.Error).Error("Failed to list overdue breaks")
		return nil, engine.StoreError(result.Error)
	}

	return shifts, nil
}

func (r *GormShiftRepository) GetWorkTypesWithHistory(workerID string) ([]string, error) {
	var types []string
	result := r.db.Model(&models.Shift{}).
		Distinct("work_type").
		Where("worker_id = ?", workerID).
		Order("work_type").
		Pluck("work_type", &types)

	if result.Error != nil {
		return nil, engine.StoreError(result.Error)
	}

	return types, nil
}

func (r *GormShiftRepository) SumActiveSeconds(workerID, workType string, fromWeek, toWeek time.Time) (int64, error) {
	var total int64
	result := r.db.Model(&models.Shift{}).
		Select("COALESCE(SUM(active_seconds), 0)").
		Where("worker_id = ? AND work_type = ? AND status = ? AND week_start BETWEEN ? AND ?",
			workerID, workType, models.StatusEnded, fromWeek, toWeek).
		Scan(&total)

	if result.Error != nil {
		r.logger.WithError(result.Error).Error("Failed to sum active seconds")
		return 0, engine.StoreError(result.Error)
	}

	return total, nil
}

// ArchiveWeek stamps wave onto every ended-but-unarchived shift of weekStart
// and force-closes every shift still open system-wide, re-stamping those into
// the closing week. Both steps run in one transaction so a crash cannot leave
// a half-archived wave; the wave_number IS NULL guard makes re-runs skip rows
// that were already stamped.
func (r *GormShiftRepository) ArchiveWeek(weekStart time.Time, wave int, now time.Time) (int64, int64, error) {
	var archived, forced int64

	err := r.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Shift{}).
			Where("wave_number IS NULL AND status = ? AND week_start = ?", models.StatusEnded, weekStart).
			Update("wave_number", wave)
		if result.Error != nil {
			return result.Error
		}
		archived = result.RowsAffected

		var open []*models.Shift
		if err := tx.Preload("Breaks").
			Where("status <> ?", models.StatusEnded).
			Find(&open).Error; err != nil {
			return err
		}

		for _, shift := range open {
			if err := shift.Close(now); err != nil {
				continue
			}
			w := wave
			shift.WaveNumber = &w
			shift.WeekStart = weekStart
			shift.ForceClosed = true

			if err := tx.Session(&gorm.Session{FullSaveAssociations: true}).Save(shift).Error; err != nil {
				return err
			}
			forced++
		}

		return nil
	})
	if err != nil {
		r.logger.WithError(err).Error("Archival transaction failed")
		return 0, 0, engine.StoreError(err)
	}

	r.logger.WithFields(logrus.Fields{
		"wave":     wave,
		"week":     weekStart.Format("2006-01-02"),
		"archived": archived,
		"forced":   forced,
	}).Info("Week archived")

	return archived, forced, nil
}

// CountArchivable reports what an archival run over weekStart would touch,
// without writing anything.
func (r *GormShiftRepository) CountArchivable(weekStart time.Time) (int64, int64, error) {
	var ended, open int64

	result := r.db.Model(&models.Shift{}).
		Where("wave_number IS NULL AND status = ? AND week_start = ?", models.StatusEnded, weekStart).
		Count(&ended)
	if result.Error != nil {
		return 0, 0, engine.StoreError(result.Error)
	}

	result = r.db.Model(&models.Shift{}).
		Where("status <> ?", models.StatusEnded).
		Count(&open)
	if result.Error != nil {
		return 0, 0, engine.StoreError(result.Error)
	}

	return ended, open, nil
}

func (r *GormShiftRepository) WaveAggregates(wave int) ([]WaveAggregate, error) {
	var rows []WaveAggregate
	result := r.db.Model(&models.Shift{}).
		Select("worker_id, work_type, COUNT(*) as shift_count, COALESCE(SUM(active_seconds), 0) as active_seconds").
		Where("wave_number = ?", wave).
		Group("worker_id, work_type").
		Order("active_seconds DESC").
		Scan(&rows)

	if result.Error != nil {
		r.logger.WithError(result.Error).Error("Failed to aggregate wave")
		return nil, engine.StoreError(result.Error)
	}

	return rows, nil
}

func (r *GormShiftRepository) DeleteByID(id uint) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("shift_id = ?", id).Delete(&models.BreakSession{}).Error; err != nil {
			return err
		}
		if err := tx.Where("shift_id = ?", id).Delete(&models.ShiftEdit{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&models.Shift{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return engine.ErrNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return err
		}
		r.logger.WithError(err).Error("Failed to delete shift")
		return engine.StoreError(err)
	}

	r.logger.WithField("id", id).Info("Shift deleted")
	return nil
}

func (r *GormShiftRepository) clearWhere(query string, args ...interface{}) (int64, error) {
	var deleted int64

	err := r.db.Transaction(func(tx *gorm.DB) error {
		ids := tx.Model(&models.Shift{}).Select("id").Where(query, args...)

		if err := tx.Where("shift_id IN (?)", ids).Delete(&models.BreakSession{}).Error; err != nil {
			return err
		}
		if err := tx.Where("shift_id IN (?)", ids).Delete(&models.ShiftEdit{}).Error; err != nil {
			return err
		}

		result := tx.Where(query, args...).Delete(&models.Shift{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected
		return nil
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to clear shifts")
		return 0, engine.StoreError(err)
	}

	r.logger.WithField("deleted", deleted).Info("Shifts cleared")
	return deleted, nil
}

func (r *GormShiftRepository) ClearCurrentWave() (int64, error) {
	return r.clearWhere("wave_number IS NULL")
}

func (r *GormShiftRepository) ClearWave(wave int) (int64, error) {
	return r.clearWhere("wave_number = ?", wave)
}

func (r *GormShiftRepository) ClearAll() (int64, error) {
	return r.clearWhere("1 = 1")
}

func (r *GormShiftRepository) AppendEdit(edit *models.ShiftEdit) error {
	if !edit.IsValid() {
		return &engine.ValidationError{Reason: "inconsistent edit record"}
	}

	if err := r.db.Create(edit).Error; err != nil {
		r.logger.WithError(err).Error("Failed to record shift edit")
		return engine.StoreError(err)
	}

	return nil
}

func (r *GormShiftRepository) GetEditsFrom(adminID, workerID string, shiftID uint, firstEditID uint) ([]*models.ShiftEdit, error) {
	var edits []*models.ShiftEdit
	result := r.db.
		Where("admin_id = ? AND worker_id = ? AND shift_id = ? AND id >= ?",
			adminID, workerID, shiftID, firstEditID).
		Order("id").
		Find(&edits)

	if result.Error != nil {
		return nil, engine.StoreError(result.Error)
	}

	return edits, nil
}
