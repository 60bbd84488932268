package service_test

import (
	"testing"
	"time"

	"duty-tracker/internal/engine"
	"duty-tracker/internal/models"
	"duty-tracker/internal/repository"
	"duty-tracker/internal/service"
	"duty-tracker/pkg/weeks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedEndedShift(t *testing.T, repo *repository.GormShiftRepository, worker, workType string, week time.Time, activeSecs int64) {
	t.Helper()
	start := week.Add(10 * time.Hour)
	s := models.NewShift(worker, workType, start, week)
	require.NoError(t, repo.Create(s))
	require.NoError(t, s.Close(start.Add(time.Duration(activeSecs)*time.Second)))
	require.NoError(t, repo.Update(s))
}

// cycleAlignedWeek returns the UTC week start of a wave at the given cycle
// position for periodWeeks, somewhere around March 2024.
func cycleAlignedWeek(t *testing.T, periodWeeks, position int) time.Time {
	t.Helper()
	base := weeks.WeekStart(time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC), time.UTC)
	wave := weeks.WaveForWeek(base, time.UTC)
	for weeks.CyclePosition(wave, periodWeeks) != position {
		wave++
	}
	return weeks.WeekForWave(wave, time.UTC)
}

func newQuotaEngine(t *testing.T, provider *stubRoleProvider, events *stubEventProvider) (*service.QuotaEngine, *repository.GormShiftRepository, *repository.GormQuotaRepository) {
	shiftRepo, quotaRepo := newTestRepos(t)
	q := service.NewQuotaEngine(shiftRepo, quotaRepo, testRoles(), testConfig(), provider, events)
	return q, shiftRepo, quotaRepo
}

func TestQuota_NoRule(t *testing.T) {
	provider := &stubRoleProvider{roles: map[string][]string{"w1": {"some-role"}}}
	q, _, _ := newQuotaEngine(t, provider, nil)

	info, err := q.GetQuotaInfo("w1", "moderation")
	require.NoError(t, err)
	assert.False(t, info.HasQuota)
	assert.True(t, info.Completed)
	assert.EqualValues(t, 100, info.Percentage)
}

func TestQuota_UnknownWorkType(t *testing.T) {
	provider := &stubRoleProvider{roles: map[string][]string{"w1": {"some-role"}}}
	q, _, _ := newQuotaEngine(t, provider, nil)

	info, err := q.GetQuotaInfo("w1", "janitorial")
	assert.Nil(t, info)
	assert.ErrorIs(t, err, engine.ErrNotFound, "unconfigured work type must not read as a satisfied quota")
}

func TestQuota_FullBypass(t *testing.T) {
	provider := &stubRoleProvider{roles: map[string][]string{"w1": {"r-mod", "role-owner"}}}
	q, _, quotaRepo := newQuotaEngine(t, provider, nil)

	require.NoError(t, quotaRepo.UpsertRule(&models.QuotaRule{RoleID: "r-mod", WorkType: "moderation", QuotaSeconds: 10 * 3600, PeriodWeeks: 1}))

	// Zero active time, full bypass: satisfied unconditionally.
	info, err := q.GetQuotaInfo("w1", "moderation")
	require.NoError(t, err)
	assert.True(t, info.HasQuota)
	assert.True(t, info.Completed)
	assert.EqualValues(t, 100, info.Percentage)
	assert.Equal(t, service.BypassFull, info.BypassKind)
	assert.Zero(t, info.ActiveSeconds)
}

func TestQuota_LeaveExempt(t *testing.T) {
	provider := &stubRoleProvider{roles: map[string][]string{"w1": {"r-mod", "role-loa"}}}
	q, _, quotaRepo := newQuotaEngine(t, provider, nil)

	require.NoError(t, quotaRepo.UpsertRule(&models.QuotaRule{RoleID: "r-mod", WorkType: "moderation", QuotaSeconds: 10 * 3600, PeriodWeeks: 1}))

	info, err := q.GetQuotaInfo("w1", "moderation")
	require.NoError(t, err)
	assert.True(t, info.Completed)
	assert.Equal(t, service.BypassLeave, info.BypassKind)
}

func TestQuota_ReducedRequirement(t *testing.T) {
	provider := &stubRoleProvider{roles: map[string][]string{"w1": {"r-mod", "role-trial"}}}
	q, shiftRepo, quotaRepo := newQuotaEngine(t, provider, nil)

	require.NoError(t, quotaRepo.UpsertRule(&models.QuotaRule{RoleID: "r-mod", WorkType: "moderation", QuotaSeconds: 10 * 3600, PeriodWeeks: 1}))

	week := cycleAlignedWeek(t, 1, 1)
	seedEndedShift(t, shiftRepo, "w1", "moderation", week, 4*3600)
	q.SetClock(fixedClock(week.Add(3 * 24 * time.Hour)))

	info, err := q.GetQuotaInfo("w1", "moderation")
	require.NoError(t, err)
	assert.Equal(t, service.BypassReduced, info.BypassKind)
	assert.Equal(t, int64(5*3600), info.RequiredSeconds, "10h quota halves to 5h")
	assert.Equal(t, int64(4*3600), info.ActiveSeconds)
	assert.InDelta(t, 80.0, info.Percentage, 0.01)
	assert.False(t, info.Completed)
}

func TestQuota_MaxRuleWins(t *testing.T) {
	provider := &stubRoleProvider{roles: map[string][]string{"w1": {"r-a", "r-b"}}}
	q, _, quotaRepo := newQuotaEngine(t, provider, nil)

	require.NoError(t, quotaRepo.UpsertRule(&models.QuotaRule{RoleID: "r-a", WorkType: "moderation", QuotaSeconds: 3 * 3600, PeriodWeeks: 1}))
	require.NoError(t, quotaRepo.UpsertRule(&models.QuotaRule{RoleID: "r-b", WorkType: "moderation", QuotaSeconds: 6 * 3600, PeriodWeeks: 1}))

	info, err := q.GetQuotaInfo("w1", "moderation")
	require.NoError(t, err)
	assert.Equal(t, int64(6*3600), info.RequiredSeconds)
}

func TestQuota_RollingWindowAcrossCycle(t *testing.T) {
	provider := &stubRoleProvider{roles: map[string][]string{"w1": {"r-mod"}}}
	q, shiftRepo, quotaRepo := newQuotaEngine(t, provider, nil)

	require.NoError(t, quotaRepo.UpsertRule(&models.QuotaRule{RoleID: "r-mod", WorkType: "moderation", QuotaSeconds: 8 * 3600, PeriodWeeks: 4}))

	week1 := cycleAlignedWeek(t, 4, 1)
	week2 := week1.AddDate(0, 0, 7)
	seedEndedShift(t, shiftRepo, "w1", "moderation", week1, 1*3600)
	seedEndedShift(t, shiftRepo, "w1", "moderation", week2, 2*3600)

	// Mid second week of the cycle: rolling sum covers both weeks.
	q.SetClock(fixedClock(week2.Add(2 * 24 * time.Hour)))
	info, err := q.GetQuotaInfo("w1", "moderation")
	require.NoError(t, err)
	assert.Equal(t, 2, info.CyclePosition)
	assert.Equal(t, 4, info.PeriodWeeks)
	assert.Equal(t, int64(3*3600), info.ActiveSeconds)
	assert.Equal(t, int64(8*3600), info.RequiredSeconds, "rolling progress measures against the single quota amount")

	// First week of the next cycle: the shown total resets.
	week5 := week1.AddDate(0, 0, 28)
	q.SetClock(fixedClock(week5.Add(2 * 24 * time.Hour)))
	info, err = q.GetQuotaInfo("w1", "moderation")
	require.NoError(t, err)
	assert.Equal(t, 1, info.CyclePosition)
	assert.Zero(t, info.ActiveSeconds)
}

func TestQuota_CyclePositionAdvances(t *testing.T) {
	provider := &stubRoleProvider{roles: map[string][]string{"w1": {"r-mod"}}}
	q, _, quotaRepo := newQuotaEngine(t, provider, nil)

	require.NoError(t, quotaRepo.UpsertRule(&models.QuotaRule{RoleID: "r-mod", WorkType: "moderation", QuotaSeconds: 3600, PeriodWeeks: 4}))

	week1 := cycleAlignedWeek(t, 4, 1)
	var positions []int
	for i := 0; i < 5; i++ {
		q.SetClock(fixedClock(week1.AddDate(0, 0, 7*i+2)))
		info, err := q.GetQuotaInfo("w1", "moderation")
		require.NoError(t, err)
		positions = append(positions, info.CyclePosition)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 1}, positions)
}

func TestQuota_WatchQuotaGatesCompletion(t *testing.T) {
	provider := &stubRoleProvider{roles: map[string][]string{"w1": {"r-ev"}}}
	events := &stubEventProvider{count: 1}
	q, shiftRepo, quotaRepo := newQuotaEngine(t, provider, events)

	require.NoError(t, quotaRepo.UpsertRule(&models.QuotaRule{RoleID: "r-ev", WorkType: "events", QuotaSeconds: 2 * 3600, PeriodWeeks: 1, WatchQuota: 2}))

	week := cycleAlignedWeek(t, 1, 1)
	seedEndedShift(t, shiftRepo, "w1", "events", week, 3*3600)
	q.SetClock(fixedClock(week.Add(3 * 24 * time.Hour)))

	// Time quota met, event count short.
	info, err := q.GetQuotaInfo("w1", "events")
	require.NoError(t, err)
	assert.Equal(t, 1, info.WatchCount)
	assert.Equal(t, 2, info.WatchQuota)
	assert.False(t, info.Completed)

	events.count = 2
	// Role cache still warm but the event count is fetched fresh.
	info, err = q.GetQuotaInfo("w1", "events")
	require.NoError(t, err)
	assert.True(t, info.Completed)
}

func TestQuota_RoleLookupsAreCached(t *testing.T) {
	provider := &stubRoleProvider{roles: map[string][]string{"w1": {"r-mod"}}}
	q, _, quotaRepo := newQuotaEngine(t, provider, nil)

	require.NoError(t, quotaRepo.UpsertRule(&models.QuotaRule{RoleID: "r-mod", WorkType: "moderation", QuotaSeconds: 3600, PeriodWeeks: 1}))

	_, err := q.GetQuotaInfo("w1", "moderation")
	require.NoError(t, err)
	_, err = q.GetQuotaInfo("w1", "moderation")
	require.NoError(t, err)

	provider.mu.Lock()
	calls := provider.calls
	provider.mu.Unlock()
	assert.Equal(t, 1, calls, "second lookup within the TTL must not hit the provider")
}

func TestQuota_NextResetIsInFuture(t *testing.T) {
	provider := &stubRoleProvider{roles: map[string][]string{}}
	q, _, _ := newQuotaEngine(t, provider, nil)

	now := time.Date(2024, 3, 13, 12, 0, 0, 0, time.UTC)
	q.SetClock(fixedClock(now))

	info, err := q.GetQuotaInfo("w1", "moderation")
	require.NoError(t, err)
	assert.True(t, info.NextReset.After(now))
	assert.Equal(t, time.Sunday, info.NextReset.Weekday())
}

func TestGetUserTypes_RulesAndHistory(t *testing.T) {
	provider := &stubRoleProvider{roles: map[string][]string{"w1": {"r-mod"}}}
	q, shiftRepo, quotaRepo := newQuotaEngine(t, provider, nil)

	require.NoError(t, quotaRepo.UpsertRule(&models.QuotaRule{RoleID: "r-mod", WorkType: "moderation", QuotaSeconds: 3600, PeriodWeeks: 1}))
	week := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	seedEndedShift(t, shiftRepo, "w1", "support", week, 600)

	types, err := q.GetUserTypes("w1")
	require.NoError(t, err)
	assert.Equal(t, []string{"moderation", "support"}, types)
}
