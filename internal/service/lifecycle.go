package service

import (
	"fmt"
	"time"

	"duty-tracker/internal/config"
	"duty-tracker/internal/engine"
	"duty-tracker/internal/models"
	"duty-tracker/internal/repository"
	"duty-tracker/pkg/weeks"

	"github.com/sirupsen/logrus"
)

// LifecycleService drives the per-worker shift state machine:
// start -> (pause <-> resume)* -> end.
type LifecycleService struct {
	shifts repository.ShiftRepository
	roles  *config.RolesConfig
	loc    *time.Location
	logger *logrus.Logger
	now    func() time.Time
}

func NewLifecycleService(
	shifts repository.ShiftRepository,
	roles *config.RolesConfig,
	loc *time.Location,
) *LifecycleService {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	return &LifecycleService{
		shifts: shifts,
		roles:  roles,
		loc:    loc,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the service's time source. Intended for tests.
func (s *LifecycleService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *LifecycleService) checkWorkType(workType string) error {
	if s.roles.WorkType(workType) == nil {
		return fmt.Errorf("%w: work type %q", engine.ErrNotFound, workType)
	}
	return nil
}

// Start opens a new shift for the worker. Fails with AlreadyActiveError when
// an open shift of the same work type exists; the storage-level unique index
// backs this up against concurrent callers.
func (s *LifecycleService) Start(workerID, workType string) (*models.Shift, error) {
	if err := s.checkWorkType(workType); err != nil {
		return nil, err
	}

	existing, err := s.shifts.GetOpen(workerID, workType)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.logger.WithFields(logrus.Fields{
			"worker_id": workerID,
			"work_type": workType,
		}).Warn("Worker already has an open shift")
		return nil, &engine.AlreadyActiveError{
			WorkerID: workerID,
			WorkType: workType,
			ShiftID:  existing.ID,
		}
	}

	now := s.now()
	shift := models.NewShift(workerID, workType, now, weeks.WeekStart(now, s.loc))

	if err := s.shifts.Create(shift); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"id":        shift.ID,
		"worker_id": workerID,
		"work_type": workType,
	}).Info("Shift started")

	return shift, nil
}

func (s *LifecycleService) getOpenOrFail(workerID, workType string) (*models.Shift, error) {
	if err := s.checkWorkType(workType); err != nil {
		return nil, err
	}

	shift, err := s.shifts.GetOpen(workerID, workType)
	if err != nil {
		return nil, err
	}
	if shift == nil {
		return nil, fmt.Errorf("%w: no open %s shift for worker %s", engine.ErrNotFound, workType, workerID)
	}
	return shift, nil
}

// Pause puts the worker's open shift on break.
func (s *LifecycleService) Pause(workerID, workType string) (*models.Shift, error) {
	shift, err := s.getOpenOrFail(workerID, workType)
	if err != nil {
		return nil, err
	}

	if err := shift.StartBreak(s.now()); err != nil {
		return nil, err
	}
	if err := s.shifts.Update(shift); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"id":        shift.ID,
		"worker_id": workerID,
	}).Info("Shift paused")

	return shift, nil
}

// Resume closes the open break and returns the shift to Active.
func (s *LifecycleService) Resume(workerID, workType string) (*models.Shift, error) {
	shift, err := s.getOpenOrFail(workerID, workType)
	if err != nil {
		return nil, err
	}

	if err := shift.EndBreak(s.now()); err != nil {
		return nil, err
	}
	if err := s.shifts.Update(shift); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"id":        shift.ID,
		"worker_id": workerID,
	}).Info("Shift resumed")

	return shift, nil
}

// End closes the worker's open shift, folding any running break first.
func (s *LifecycleService) End(workerID, workType string) (*models.Shift, error) {
	shift, err := s.getOpenOrFail(workerID, workType)
	if err != nil {
		return nil, err
	}

	if err := shift.Close(s.now()); err != nil {
		return nil, err
	}
	if err := s.shifts.Update(shift); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"id":             shift.ID,
		"worker_id":      workerID,
		"active_seconds": shift.ActiveSeconds,
	}).Info("Shift ended")

	return shift, nil
}

// GetActive returns the worker's open shift, or nil when there is none.
func (s *LifecycleService) GetActive(workerID, workType string) (*models.Shift, error) {
	if err := s.checkWorkType(workType); err != nil {
		return nil, err
	}
	return s.shifts.GetOpen(workerID, workType)
}

// ForceEnd closes a shift on the engine's own initiative (watchdog, recovery).
// Already-ended shifts are left alone.
func (s *LifecycleService) ForceEnd(shift *models.Shift, now time.Time) error {
	if !shift.IsOpen() {
		return nil
	}
	if err := shift.Close(now); err != nil {
		return err
	}
	shift.ForceClosed = true
	return s.shifts.Update(shift)
}

// RecoverOpenShifts force-ends every shift left open by a prior run. The
// recovered shifts are stamped with the restart time's week, not the week
// they started in.
func (s *LifecycleService) RecoverOpenShifts() (int, error) {
	open, err := s.shifts.GetAllOpen()
	if err != nil {
		return 0, err
	}

	now := s.now()
	week := weeks.WeekStart(now, s.loc)
	recovered := 0

	for _, shift := range open {
		shift.WeekStart = week
		if err := s.ForceEnd(shift, now); err != nil {
			s.logger.WithError(err).WithField("id", shift.ID).Error("Failed to recover shift")
			continue
		}
		recovered++
	}

	if recovered > 0 {
		s.logger.WithField("count", recovered).Info("Recovered shifts left open by previous run")
	}

	return recovered, nil
}
