package service

import (
	"fmt"
	"time"

	"duty-tracker/internal/engine"
	"duty-tracker/internal/models"
	"duty-tracker/internal/repository"

	"github.com/sirupsen/logrus"
)

// Clear scopes for ClearShifts.
const (
	ScopeCurrentWave = "current_wave"
	ScopeWave        = "wave"
	ScopeAllTime     = "all_time"
)

// AdminService applies administrative corrections to historical shifts.
// Every edit is persisted and handed to the audit log for the batched
// summary notification.
type AdminService struct {
	shifts repository.ShiftRepository
	audit  *AuditLog
	logger *logrus.Logger
	now    func() time.Time
}

func NewAdminService(shifts repository.ShiftRepository, audit *AuditLog) *AdminService {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	return &AdminService{
		shifts: shifts,
		audit:  audit,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the service's time source. Intended for tests.
func (s *AdminService) SetClock(now func() time.Time) {
	s.now = now
}

// ModifyTime adjusts an ended shift's active time. Adding time moves the
// start earlier; removing moves it later; set pins the active time exactly;
// reset zeroes it. The end time and pause bookkeeping are never touched, so
// the active-time arithmetic stays consistent.
func (s *AdminService) ModifyTime(adminID string, shiftID uint, action string, seconds int64) (*models.Shift, error) {
	if seconds < 0 {
		return nil, &engine.ValidationError{Reason: "seconds must not be negative"}
	}

	shift, err := s.shifts.GetByID(shiftID)
	if err != nil {
		return nil, err
	}
	if shift == nil {
		return nil, fmt.Errorf("%w: shift %d", engine.ErrNotFound, shiftID)
	}
	if shift.IsOpen() {
		return nil, &engine.InvalidStateError{ShiftID: shiftID, State: shift.Status, Transition: "modify"}
	}

	switch action {
	case models.EditAdd:
		shift.StartTime = shift.StartTime.Add(-time.Duration(seconds) * time.Second)
	case models.EditRemove:
		if seconds > shift.ActiveSeconds {
			return nil, &engine.ValidationError{
				Reason: fmt.Sprintf("cannot remove %ds from a shift with %ds active", seconds, shift.ActiveSeconds),
			}
		}
		shift.StartTime = shift.StartTime.Add(time.Duration(seconds) * time.Second)
	case models.EditSet:
		newStart := shift.EndTime.
			Add(-time.Duration(shift.PauseSeconds) * time.Second).
			Add(-time.Duration(seconds) * time.Second)
		if newStart.After(s.now()) {
			return nil, &engine.ValidationError{Reason: "requested time would imply a future start"}
		}
		shift.StartTime = newStart
	case models.EditReset:
		shift.StartTime = shift.EndTime.Add(-time.Duration(shift.PauseSeconds) * time.Second)
	default:
		return nil, &engine.ValidationError{Reason: fmt.Sprintf("unknown edit action %q", action)}
	}

	shift.RecalculateActive()
	if err := s.shifts.Update(shift); err != nil {
		return nil, err
	}

	edit := &models.ShiftEdit{
		ShiftID:  shift.ID,
		AdminID:  adminID,
		WorkerID: shift.WorkerID,
		Action:   action,
		Seconds:  seconds,
	}
	if err := s.shifts.AppendEdit(edit); err != nil {
		s.logger.WithError(err).Error("Failed to persist shift edit")
	} else if s.audit != nil {
		s.audit.Record(edit)
	}

	s.logger.WithFields(logrus.Fields{
		"shift_id":       shift.ID,
		"admin_id":       adminID,
		"action":         action,
		"seconds":        seconds,
		"active_seconds": shift.ActiveSeconds,
	}).Info("Shift time modified")

	return shift, nil
}

// DeleteShift removes one shift and its break/edit rows.
func (s *AdminService) DeleteShift(shiftID uint) error {
	return s.shifts.DeleteByID(shiftID)
}

// ClearShifts bulk-deletes shifts by scope: the un-archived current wave,
// one archived wave, or everything.
func (s *AdminService) ClearShifts(scope string, wave int) (int64, error) {
	switch scope {
	case ScopeCurrentWave:
		return s.shifts.ClearCurrentWave()
	case ScopeWave:
		if wave <= 0 {
			return 0, &engine.ValidationError{Reason: "wave must be positive"}
		}
		return s.shifts.ClearWave(wave)
	case ScopeAllTime:
		return s.shifts.ClearAll()
	default:
		return 0, &engine.ValidationError{Reason: fmt.Sprintf("unknown clear scope %q", scope)}
	}
}
