package service

import (
	"sync"
	"time"

	"duty-tracker/internal/config"
	"duty-tracker/internal/repository"
	"duty-tracker/pkg/weeks"

	"github.com/sirupsen/logrus"
)

// ReportPublisher receives the leaderboard rows for a freshly archived wave.
// Formatting and delivery happen outside the engine.
type ReportPublisher interface {
	PublishWaveReport(wave int, rows []repository.WaveAggregate)
}

// ArchivalResult summarizes one archival run.
type ArchivalResult struct {
	Wave         int       `json:"wave"`
	WeekStart    time.Time `json:"week_start"`
	Archived     int64     `json:"archived"`
	ForcedClosed int64     `json:"forced_closed"`
	DryRun       bool      `json:"dry_run"`
}

// ArchivalService runs the weekly reset: it stamps the closing week's ended
// shifts with their wave number, force-closes anything still open, and hands
// the wave's aggregates to the report publisher. The wave number is derived
// from the calendar week, so re-running the job for the same week is
// idempotent and can never mint a duplicate wave.
type ArchivalService struct {
	shifts    repository.ShiftRepository
	reports   *ReportService
	publisher ReportPublisher
	cfg       *config.Config
	logger    *logrus.Logger
	now       func() time.Time

	mu    sync.Mutex
	timer *time.Timer
	stop  chan struct{}
	wg    sync.WaitGroup
}

func NewArchivalService(
	shifts repository.ShiftRepository,
	reports *ReportService,
	publisher ReportPublisher,
	cfg *config.Config,
) *ArchivalService {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	return &ArchivalService{
		shifts:    shifts,
		reports:   reports,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the service's time source. Intended for tests.
func (a *ArchivalService) SetClock(now func() time.Time) {
	a.now = now
}

// Run executes one archival pass for the week that t closes out. With dryRun
// set it only reports what would happen.
func (a *ArchivalService) Run(t time.Time, dryRun bool) (*ArchivalResult, error) {
	week := weeks.ClosingWeek(t, a.cfg.Location)
	wave := weeks.WaveForWeek(week, a.cfg.Location)

	result := &ArchivalResult{Wave: wave, WeekStart: week, DryRun: dryRun}

	if dryRun {
		ended, open, err := a.shifts.CountArchivable(week)
		if err != nil {
			return nil, err
		}
		result.Archived = ended
		result.ForcedClosed = open
		return result, nil
	}

	archived, forced, err := a.shifts.ArchiveWeek(week, wave, t)
	if err != nil {
		return nil, err
	}
	result.Archived = archived
	result.ForcedClosed = forced

	a.logger.WithFields(logrus.Fields{
		"wave":     wave,
		"week":     week.Format("2006-01-02"),
		"archived": archived,
		"forced":   forced,
	}).Info("Weekly archival complete")

	if a.publisher != nil {
		rows, err := a.reports.WaveReport(wave)
		if err != nil {
			// The wave itself is archived; a report failure is retried by
			// fetching the wave aggregates again, not by re-archiving.
			a.logger.WithError(err).Error("Failed to build wave report")
		} else {
			a.publisher.PublishWaveReport(wave, rows)
		}
	}

	return result, nil
}

// Start schedules the weekly run at the configured reset weekday and hour.
func (a *ArchivalService) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stop != nil {
		return
	}
	a.stop = make(chan struct{})
	a.scheduleNext()

	a.logger.WithFields(logrus.Fields{
		"weekday": a.cfg.ResetWeekday.String(),
		"hour":    a.cfg.ResetHour,
	}).Info("Archival scheduler started")
}

// scheduleNext arms the timer for the next reset instant. The WaitGroup is
// bumped before the timer exists, so Stop's Wait can never slip past a
// callback that has fired but not yet registered; Stop balances the count
// itself when it wins the race and the timer never fires.
func (a *ArchivalService) scheduleNext() {
	next := weeks.NextReset(a.now(), a.cfg.Location, a.cfg.ResetWeekday, a.cfg.ResetHour)
	wait := time.Until(next)

	a.wg.Add(1)
	a.timer = time.AfterFunc(wait, func() {
		defer a.wg.Done()

		select {
		case <-a.stop:
			return
		default:
		}

		if _, err := a.Run(a.now(), false); err != nil {
			// Log and carry on; the next tick retries and the week-derived
			// wave number makes the retry safe.
			a.logger.WithError(err).Error("Weekly archival failed")
		}

		a.mu.Lock()
		defer a.mu.Unlock()
		select {
		case <-a.stop:
		default:
			a.scheduleNext()
		}
	})
}

// Stop cancels the pending run and waits for an in-flight one.
func (a *ArchivalService) Stop() {
	a.mu.Lock()
	if a.stop == nil {
		a.mu.Unlock()
		return
	}
	close(a.stop)
	if a.timer != nil && a.timer.Stop() {
		a.wg.Done()
	}
	a.mu.Unlock()

	a.wg.Wait()

	a.mu.Lock()
	a.stop = nil
	a.mu.Unlock()
	a.logger.Info("Archival scheduler stopped")
}
