package service

import (
	"duty-tracker/internal/repository"

	"github.com/sirupsen/logrus"
)

// ReportService exposes read-only aggregates over archived waves for the
// external report formatter. It never mutates shift data.
type ReportService struct {
	shifts repository.ShiftRepository
	quotas repository.QuotaRepository
	quota  *QuotaEngine
	logger *logrus.Logger
}

func NewReportService(
	shifts repository.ShiftRepository,
	quotas repository.QuotaRepository,
	quota *QuotaEngine,
) *ReportService {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	return &ReportService{
		shifts: shifts,
		quotas: quotas,
		quota:  quota,
		logger: logger,
	}
}

// WaveReport returns the leaderboard rows for an archived wave. Workers
// holding a quota-ignored role for the row's work type are excluded from the
// aggregate; their shifts remain queryable individually.
func (r *ReportService) WaveReport(wave int) ([]repository.WaveAggregate, error) {
	rows, err := r.shifts.WaveAggregates(wave)
	if err != nil {
		return nil, err
	}

	ignoredByType := make(map[string]map[string]bool)
	filtered := make([]repository.WaveAggregate, 0, len(rows))

	for _, row := range rows {
		ignored, ok := ignoredByType[row.WorkType]
		if !ok {
			roleIDs, err := r.quotas.GetIgnoredRoles(row.WorkType)
			if err != nil {
				return nil, err
			}
			ignored = make(map[string]bool, len(roleIDs))
			for _, id := range roleIDs {
				ignored[id] = true
			}
			ignoredByType[row.WorkType] = ignored
		}

		if len(ignored) > 0 {
			held, err := r.quota.HeldRoles(row.WorkerID)
			if err != nil {
				// Role lookup failures exclude nothing; a partial report
				// is better than none on a background tick.
				r.logger.WithError(err).WithField("worker_id", row.WorkerID).
					Warn("Role lookup failed during report, keeping row")
				filtered = append(filtered, row)
				continue
			}
			skip := false
			for _, roleID := range held {
				if ignored[roleID] {
					skip = true
					break
				}
			}
			if skip {
				continue
			}
		}

		filtered = append(filtered, row)
	}

	return filtered, nil
}

// WorkerWaveTotal reports one worker's archived totals for a wave, including
// workers excluded from the aggregate report.
func (r *ReportService) WorkerWaveTotal(wave int, workerID string) ([]repository.WaveAggregate, error) {
	rows, err := r.shifts.WaveAggregates(wave)
	if err != nil {
		return nil, err
	}

	var out []repository.WaveAggregate
	for _, row := range rows {
		if row.WorkerID == workerID {
			out = append(out, row)
		}
	}
	return out, nil
}
