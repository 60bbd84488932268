package service_test

import (
	"sync"
	"testing"
	"time"

	"duty-tracker/internal/config"
	"duty-tracker/internal/models"
	"duty-tracker/internal/repository"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestRepos(t *testing.T) (*repository.GormShiftRepository, *repository.GormQuotaRepository) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})

	shiftRepo, err := repository.NewGormShiftRepository(db)
	require.NoError(t, err)
	quotaRepo, err := repository.NewGormQuotaRepository(db)
	require.NoError(t, err)
	return shiftRepo, quotaRepo
}

func testRoles() *config.RolesConfig {
	return &config.RolesConfig{
		WorkTypes: []config.WorkTypeConfig{
			{Name: "moderation", DutyRoleID: "duty-mod", BreakRoleID: "break-mod"},
			{Name: "events", DutyRoleID: "duty-ev", BreakRoleID: "break-ev", WatchEvents: true},
			{Name: "support", DutyRoleID: "duty-sup", BreakRoleID: "break-sup"},
		},
		FullBypassRoles: []string{"role-owner"},
		LeaveRoles:      []string{"role-loa"},
		ReducedRoles:    []string{"role-trial"},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Location:           time.UTC,
		ResetWeekday:       time.Sunday,
		ResetHour:          23,
		LongBreakThreshold: 20 * time.Minute,
		WatchdogInterval:   5 * time.Minute,
		AuditFlushDelay:    80 * time.Millisecond,
		RoleCacheTTL:       time.Minute,
	}
}

type stubRoleProvider struct {
	mu    sync.Mutex
	roles map[string][]string
	calls int
}

func (s *stubRoleProvider) RolesOf(workerID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.roles[workerID], nil
}

type stubEventProvider struct {
	count int
}

func (s *stubEventProvider) CountHostedEvents(workerID string, since time.Time) (int, error) {
	return s.count, nil
}

type captureNotifier struct {
	mu    sync.Mutex
	calls []notifiedBatch
}

type notifiedBatch struct {
	AdminID  string
	WorkerID string
	ShiftID  uint
	Edits    []*models.ShiftEdit
}

func (c *captureNotifier) NotifyShiftEdits(adminID, workerID string, shiftID uint, edits []*models.ShiftEdit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, notifiedBatch{AdminID: adminID, WorkerID: workerID, ShiftID: shiftID, Edits: edits})
}

func (c *captureNotifier) batches() []notifiedBatch {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notifiedBatch, len(c.calls))
	copy(out, c.calls)
	return out
}

type capturePublisher struct {
	mu    sync.Mutex
	waves []int
	rows  [][]repository.WaveAggregate
}

func (c *capturePublisher) PublishWaveReport(wave int, rows []repository.WaveAggregate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waves = append(c.waves, wave)
	c.rows = append(c.rows, rows)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
