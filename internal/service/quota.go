package service

import (
	"fmt"
	"time"

	"duty-tracker/internal/config"
	"duty-tracker/internal/engine"
	"duty-tracker/internal/models"
	"duty-tracker/internal/repository"
	"duty-tracker/pkg/ttlcache"
	"duty-tracker/pkg/weeks"

	"github.com/sirupsen/logrus"
)

// RoleProvider resolves the platform roles a worker currently holds.
// Implemented by the external chat-platform integration.
type RoleProvider interface {
	RolesOf(workerID string) ([]string, error)
}

// HostedEventProvider returns how many hosting events a worker completed
// since the given instant. Only the watch-quota work type consults it.
type HostedEventProvider interface {
	CountHostedEvents(workerID string, since time.Time) (int, error)
}

type BypassKind string

const (
	BypassNone    BypassKind = "none"
	BypassFull    BypassKind = "full"
	BypassLeave   BypassKind = "leave"
	BypassReduced BypassKind = "reduced"
)

// QuotaInfo is the engine's answer to "where does this worker stand".
type QuotaInfo struct {
	WorkerID        string     `json:"worker_id"`
	WorkType        string     `json:"work_type"`
	HasQuota        bool       `json:"has_quota"`
	RequiredSeconds int64      `json:"required_seconds"`
	ActiveSeconds   int64      `json:"active_seconds"`
	Percentage      float64    `json:"percentage"`
	Completed       bool       `json:"completed"`
	BypassKind      BypassKind `json:"bypass_kind"`
	CyclePosition   int        `json:"cycle_position"`
	PeriodWeeks     int        `json:"period_weeks"`
	WatchCount      int        `json:"watch_count"`
	WatchQuota      int        `json:"watch_quota"`
	NextReset       time.Time  `json:"next_reset"`
}

// QuotaEngine computes required vs completed time for a worker and work type
// over the rolling multi-week cycle. Role and rule lookups go through TTL
// caches; role changes may take up to the TTL to show in the output.
type QuotaEngine struct {
	shifts    repository.ShiftRepository
	quotas    repository.QuotaRepository
	roles     *config.RolesConfig
	cfg       *config.Config
	provider  RoleProvider
	events    HostedEventProvider
	roleCache *ttlcache.Cache[string, []string]
	ruleCache *ttlcache.Cache[string, []*models.QuotaRule]
	logger    *logrus.Logger
	now       func() time.Time
}

func NewQuotaEngine(
	shifts repository.ShiftRepository,
	quotas repository.QuotaRepository,
	roles *config.RolesConfig,
	cfg *config.Config,
	provider RoleProvider,
	events HostedEventProvider,
) *QuotaEngine {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	return &QuotaEngine{
		shifts:    shifts,
		quotas:    quotas,
		roles:     roles,
		cfg:       cfg,
		provider:  provider,
		events:    events,
		roleCache: ttlcache.New[string, []string](cfg.RoleCacheTTL),
		ruleCache: ttlcache.New[string, []*models.QuotaRule](cfg.RoleCacheTTL),
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the engine's time source. Intended for tests.
func (q *QuotaEngine) SetClock(now func() time.Time) {
	q.now = now
}

// HeldRoles returns the worker's roles through the TTL cache.
func (q *QuotaEngine) HeldRoles(workerID string) ([]string, error) {
	return q.roleCache.GetOrLoad(workerID, func() ([]string, error) {
		return q.provider.RolesOf(workerID)
	})
}

func (q *QuotaEngine) allRules() ([]*models.QuotaRule, error) {
	return q.ruleCache.GetOrLoad("all", func() ([]*models.QuotaRule, error) {
		return q.quotas.GetAllRules()
	})
}

// applicableRule scans the worker's roles against the rule table and keeps
// the rule with the largest quota for the work type.
func (q *QuotaEngine) applicableRule(heldRoles []string, workType string) (*models.QuotaRule, error) {
	rules, err := q.allRules()
	if err != nil {
		return nil, err
	}

	held := make(map[string]bool, len(heldRoles))
	for _, r := range heldRoles {
		held[r] = true
	}

	var best *models.QuotaRule
	for _, rule := range rules {
		if rule.WorkType != workType || !held[rule.RoleID] {
			continue
		}
		if best == nil || rule.QuotaSeconds > best.QuotaSeconds {
			best = rule
		}
	}
	return best, nil
}

func (q *QuotaEngine) bypassKind(heldRoles []string) BypassKind {
	for _, r := range heldRoles {
		if q.roles.IsFullBypass(r) {
			return BypassFull
		}
	}
	for _, r := range heldRoles {
		if q.roles.IsLeave(r) {
			return BypassLeave
		}
	}
	for _, r := range heldRoles {
		if q.roles.IsReduced(r) {
			return BypassReduced
		}
	}
	return BypassNone
}

// GetQuotaInfo computes the worker's rolling quota standing for workType.
func (q *QuotaEngine) GetQuotaInfo(workerID, workType string) (*QuotaInfo, error) {
	if q.roles.WorkType(workType) == nil {
		return nil, fmt.Errorf("%w: work type %q", engine.ErrNotFound, workType)
	}

	now := q.now()
	info := &QuotaInfo{
		WorkerID:      workerID,
		WorkType:      workType,
		BypassKind:    BypassNone,
		CyclePosition: 1,
		PeriodWeeks:   1,
		NextReset:     weeks.NextReset(now, q.cfg.Location, q.cfg.ResetWeekday, q.cfg.ResetHour),
	}

	heldRoles, err := q.HeldRoles(workerID)
	if err != nil {
		return nil, err
	}

	rule, err := q.applicableRule(heldRoles, workType)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		// No quota-bearing role: nothing required, nothing owed.
		info.Completed = true
		info.Percentage = 100
		return info, nil
	}

	info.HasQuota = true
	info.PeriodWeeks = rule.PeriodWeeks
	info.WatchQuota = rule.WatchQuota

	currentWeek := weeks.WeekStart(now, q.cfg.Location)
	wave := weeks.WaveForWeek(currentWeek, q.cfg.Location)
	info.CyclePosition = weeks.CyclePosition(wave, rule.PeriodWeeks)

	// The rolling window runs from the first week of the current cycle
	// through the current week, inclusive. At cycle position 1 that is a
	// single week, so the shown total resets exactly on cycle boundaries.
	cycleStart := weeks.CycleStartWave(wave, rule.PeriodWeeks)
	fromWeek := weeks.WeekForWave(cycleStart, q.cfg.Location)

	active, err := q.shifts.SumActiveSeconds(workerID, workType, fromWeek, currentWeek)
	if err != nil {
		return nil, err
	}
	info.ActiveSeconds = active

	info.BypassKind = q.bypassKind(heldRoles)
	switch info.BypassKind {
	case BypassFull, BypassLeave:
		info.RequiredSeconds = rule.QuotaSeconds
		info.Completed = true
		info.Percentage = 100
		return info, nil
	case BypassReduced:
		info.RequiredSeconds = rule.QuotaSeconds / 2
	default:
		info.RequiredSeconds = rule.QuotaSeconds
	}

	if info.RequiredSeconds <= 0 {
		info.Percentage = 100
	} else {
		info.Percentage = float64(active) / float64(info.RequiredSeconds) * 100
		if info.Percentage > 100 {
			info.Percentage = 100
		}
	}

	timeMet := active >= info.RequiredSeconds

	watchMet := true
	wt := q.roles.WorkType(workType)
	if rule.WatchQuota > 0 && wt != nil && wt.WatchEvents && q.events != nil {
		count, err := q.events.CountHostedEvents(workerID, fromWeek)
		if err != nil {
			return nil, err
		}
		info.WatchCount = count
		watchMet = count >= rule.WatchQuota
	}

	info.Completed = timeMet && watchMet
	return info, nil
}

// GetUserTypes lists the work types relevant to a worker: those a held role
// carries a quota rule for, plus any the worker has shift history in.
func (q *QuotaEngine) GetUserTypes(workerID string) ([]string, error) {
	heldRoles, err := q.HeldRoles(workerID)
	if err != nil {
		return nil, err
	}

	relevant := make(map[string]bool)
	for _, workType := range q.roles.WorkTypeNames() {
		rule, err := q.applicableRule(heldRoles, workType)
		if err != nil {
			return nil, err
		}
		if rule != nil {
			relevant[workType] = true
		}
	}

	history, err := q.shifts.GetWorkTypesWithHistory(workerID)
	if err != nil {
		return nil, err
	}
	for _, workType := range history {
		relevant[workType] = true
	}

	// Preserve configuration order.
	var out []string
	for _, workType := range q.roles.WorkTypeNames() {
		if relevant[workType] {
			out = append(out, workType)
		}
	}
	return out, nil
}
