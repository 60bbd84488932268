package service

import (
	"sync"
	"time"

	"duty-tracker/internal/config"
	"duty-tracker/internal/repository"

	"github.com/sirupsen/logrus"
)

// WatchdogService force-ends shifts whose break has run past the configured
// threshold. This is the only transition the engine triggers on its own
// rather than on behalf of a caller.
type WatchdogService struct {
	shifts    repository.ShiftRepository
	lifecycle *LifecycleService
	cfg       *config.Config
	logger    *logrus.Logger
	now       func() time.Time

	mu     sync.Mutex
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
}

func NewWatchdogService(
	shifts repository.ShiftRepository,
	lifecycle *LifecycleService,
	cfg *config.Config,
) *WatchdogService {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	return &WatchdogService{
		shifts:    shifts,
		lifecycle: lifecycle,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the service's time source. Intended for tests.
func (w *WatchdogService) SetClock(now func() time.Time) {
	w.now = now
}

// CheckLongBreaks ends every shift whose break started at or before the
// threshold cutoff. Returns the number of shifts ended.
func (w *WatchdogService) CheckLongBreaks() (int, error) {
	now := w.now()
	cutoff := now.Add(-w.cfg.LongBreakThreshold)

	overdue, err := w.shifts.GetOnBreakSince(cutoff)
	if err != nil {
		return 0, err
	}

	ended := 0
	for _, shift := range overdue {
		if err := w.lifecycle.ForceEnd(shift, now); err != nil {
			w.logger.WithError(err).WithField("id", shift.ID).Error("Failed to end overdue break")
			continue
		}
		w.logger.WithFields(logrus.Fields{
			"id":            shift.ID,
			"worker_id":     shift.WorkerID,
			"pause_seconds": shift.PauseSeconds,
		}).Info("Shift ended by long-break watchdog")
		ended++
	}

	return ended, nil
}

// Start begins the periodic check.
func (w *WatchdogService) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stop != nil {
		return
	}
	w.ticker = time.NewTicker(w.cfg.WatchdogInterval)
	w.stop = make(chan struct{})
	w.wg.Add(1)

	go w.run()

	w.logger.WithField("interval", w.cfg.WatchdogInterval).Info("Long-break watchdog started")
}

func (w *WatchdogService) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ticker.C:
			if _, err := w.CheckLongBreaks(); err != nil {
				w.logger.WithError(err).Error("Watchdog sweep failed")
			}
		case <-w.stop:
			return
		}
	}
}

// Stop halts the periodic check.
func (w *WatchdogService) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stop == nil {
		return
	}
	w.ticker.Stop()
	close(w.stop)
	w.wg.Wait()
	w.stop = nil

	w.logger.Info("Long-break watchdog stopped")
}
