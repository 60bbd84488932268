package service_test

import (
	"errors"
	"testing"
	"time"

	"duty-tracker/internal/engine"
	"duty-tracker/internal/models"
	"duty-tracker/internal/repository"
	"duty-tracker/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newAdmin wires an AdminService over a fresh repo with a capturing
// notifier behind a short-delay audit log.
func newAdmin(t *testing.T) (*service.AdminService, *repository.GormShiftRepository, *captureNotifier) {
	t.Helper()
	shiftRepo, _ := newTestRepos(t)

	notifier := &captureNotifier{}
	audit := service.NewAuditLog(shiftRepo, notifier, 50*time.Millisecond)
	t.Cleanup(audit.Stop)

	return service.NewAdminService(shiftRepo, audit), shiftRepo, notifier
}

// seedClosedShift stores a shift worked 09:00-12:00 with an optional
// 10:00-10:30 break, so ActiveSeconds is 10800 (or 9000 with the break).
func seedClosedShift(t *testing.T, repo *repository.GormShiftRepository, withBreak bool) *models.Shift {
	t.Helper()
	week := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	shift := models.NewShift("w1", "moderation", week.Add(9*time.Hour), week)
	require.NoError(t, repo.Create(shift))
	if withBreak {
		require.NoError(t, shift.StartBreak(week.Add(10*time.Hour)))
		require.NoError(t, shift.EndBreak(week.Add(10*time.Hour+30*time.Minute)))
	}
	require.NoError(t, shift.Close(week.Add(12*time.Hour)))
	require.NoError(t, repo.Update(shift))
	return shift
}

func TestAdmin_AddTime(t *testing.T) {
	admin, repo, _ := newAdmin(t)
	shift := seedClosedShift(t, repo, false)

	updated, err := admin.ModifyTime("a1", shift.ID, models.EditAdd, 600)
	require.NoError(t, err)
	assert.Equal(t, int64(11400), updated.ActiveSeconds)

	stored, err := repo.GetByID(shift.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(11400), stored.ActiveSeconds)
}

func TestAdmin_RemoveTime(t *testing.T) {
	admin, repo, _ := newAdmin(t)
	shift := seedClosedShift(t, repo, false)

	updated, err := admin.ModifyTime("a1", shift.ID, models.EditRemove, 1800)
	require.NoError(t, err)
	assert.Equal(t, int64(9000), updated.ActiveSeconds)
}

func TestAdmin_RemoveMoreThanActive(t *testing.T) {
	admin, repo, _ := newAdmin(t)
	shift := seedClosedShift(t, repo, false)

	_, err := admin.ModifyTime("a1", shift.ID, models.EditRemove, 10801)
	assert.ErrorIs(t, err, engine.ErrValidation)

	stored, err := repo.GetByID(shift.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10800), stored.ActiveSeconds, "rejected edit must not change the shift")
}

func TestAdmin_SetTimeKeepsPauseBookkeeping(t *testing.T) {
	admin, repo, _ := newAdmin(t)
	shift := seedClosedShift(t, repo, true)
	require.Equal(t, int64(1800), shift.PauseSeconds)

	updated, err := admin.ModifyTime("a1", shift.ID, models.EditSet, 7200)
	require.NoError(t, err)
	assert.Equal(t, int64(7200), updated.ActiveSeconds)
	assert.Equal(t, int64(1800), updated.PauseSeconds)
	// end - pause - active: 12:00 - 30m - 2h.
	assert.Equal(t, time.Date(2024, 3, 11, 9, 30, 0, 0, time.UTC), updated.StartTime.UTC())
}

func TestAdmin_SetTimeFutureStart(t *testing.T) {
	admin, repo, _ := newAdmin(t)
	shift := seedClosedShift(t, repo, false)

	// At 11:00 a one-minute shift ending 12:00 would start in the future.
	admin.SetClock(fixedClock(time.Date(2024, 3, 11, 11, 0, 0, 0, time.UTC)))
	_, err := admin.ModifyTime("a1", shift.ID, models.EditSet, 60)
	assert.ErrorIs(t, err, engine.ErrValidation)
}

func TestAdmin_ResetTime(t *testing.T) {
	admin, repo, _ := newAdmin(t)
	shift := seedClosedShift(t, repo, true)

	updated, err := admin.ModifyTime("a1", shift.ID, models.EditReset, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), updated.ActiveSeconds)
	assert.Equal(t, int64(1800), updated.PauseSeconds)
}

func TestAdmin_ModifyValidation(t *testing.T) {
	admin, repo, _ := newAdmin(t)
	shift := seedClosedShift(t, repo, false)

	_, err := admin.ModifyTime("a1", shift.ID, models.EditAdd, -1)
	assert.ErrorIs(t, err, engine.ErrValidation)

	_, err = admin.ModifyTime("a1", shift.ID, "double", 60)
	assert.ErrorIs(t, err, engine.ErrValidation)

	_, err = admin.ModifyTime("a1", 9999, models.EditAdd, 60)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestAdmin_ModifyOpenShiftRejected(t *testing.T) {
	admin, repo, _ := newAdmin(t)

	week := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	open := models.NewShift("w1", "moderation", week.Add(9*time.Hour), week)
	require.NoError(t, repo.Create(open))

	_, err := admin.ModifyTime("a1", open.ID, models.EditAdd, 60)
	assert.ErrorIs(t, err, engine.ErrInvalidState)

	var stateErr *engine.InvalidStateError
	require.True(t, errors.As(err, &stateErr))
	assert.Equal(t, models.StatusActive, stateErr.State)
}

func TestAdmin_EditsPersistedAndNotified(t *testing.T) {
	admin, repo, notifier := newAdmin(t)
	shift := seedClosedShift(t, repo, false)

	_, err := admin.ModifyTime("a1", shift.ID, models.EditAdd, 600)
	require.NoError(t, err)
	_, err = admin.ModifyTime("a1", shift.ID, models.EditRemove, 300)
	require.NoError(t, err)

	edits, err := repo.GetEditsFrom("a1", "w1", shift.ID, 0)
	require.NoError(t, err)
	require.Len(t, edits, 2)
	assert.Equal(t, models.EditAdd, edits[0].Action)
	assert.Equal(t, models.EditRemove, edits[1].Action)

	require.Eventually(t, func() bool {
		return len(notifier.batches()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Len(t, notifier.batches()[0].Edits, 2)
}

func TestAdmin_DeleteShift(t *testing.T) {
	admin, repo, _ := newAdmin(t)
	shift := seedClosedShift(t, repo, false)

	require.NoError(t, admin.DeleteShift(shift.ID))

	stored, err := repo.GetByID(shift.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)

	assert.ErrorIs(t, admin.DeleteShift(shift.ID), engine.ErrNotFound)
}

func TestAdmin_ClearShifts(t *testing.T) {
	admin, repo, _ := newAdmin(t)

	weekA := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	weekB := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	seedEndedShift(t, repo, "w1", "moderation", weekB, 3600)
	seedEndedShift(t, repo, "w2", "moderation", weekB, 3600)

	// One archived shift in an earlier wave.
	archived := models.NewShift("w3", "moderation", weekA.Add(9*time.Hour), weekA)
	require.NoError(t, repo.Create(archived))
	require.NoError(t, archived.Close(weekA.Add(10*time.Hour)))
	wave := 7
	archived.WaveNumber = &wave
	require.NoError(t, repo.Update(archived))

	n, err := admin.ClearShifts(service.ScopeCurrentWave, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = admin.ClearShifts(service.ScopeWave, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = admin.ClearShifts(service.ScopeWave, 0)
	assert.ErrorIs(t, err, engine.ErrValidation)

	_, err = admin.ClearShifts("last_month", 0)
	assert.ErrorIs(t, err, engine.ErrValidation)

	seedEndedShift(t, repo, "w4", "moderation", weekB, 3600)
	n, err = admin.ClearShifts(service.ScopeAllTime, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
