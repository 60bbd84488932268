package service_test

import (
	"testing"
	"time"

	"duty-tracker/internal/models"
	"duty-tracker/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedEditableShift(t *testing.T) (*service.AuditLog, *captureNotifier, *models.Shift, func(action string, seconds int64)) {
	t.Helper()
	shiftRepo, _ := newTestRepos(t)

	week := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	shift := models.NewShift("w1", "moderation", week.Add(9*time.Hour), week)
	require.NoError(t, shiftRepo.Create(shift))
	require.NoError(t, shift.Close(week.Add(12*time.Hour)))
	require.NoError(t, shiftRepo.Update(shift))

	notifier := &captureNotifier{}
	audit := service.NewAuditLog(shiftRepo, notifier, 80*time.Millisecond)
	t.Cleanup(audit.Stop)

	record := func(action string, seconds int64) {
		edit := &models.ShiftEdit{ShiftID: shift.ID, AdminID: "a1", WorkerID: "w1", Action: action, Seconds: seconds}
		require.NoError(t, shiftRepo.AppendEdit(edit))
		audit.Record(edit)
	}
	return audit, notifier, shift, record
}

func TestAudit_BatchesEditsIntoOneNotification(t *testing.T) {
	_, notifier, shift, record := seedEditableShift(t)

	record(models.EditAdd, 600)
	record(models.EditRemove, 300)
	record(models.EditSet, 7200)

	require.Eventually(t, func() bool {
		return len(notifier.batches()) == 1
	}, time.Second, 10*time.Millisecond)

	batch := notifier.batches()[0]
	assert.Equal(t, "a1", batch.AdminID)
	assert.Equal(t, "w1", batch.WorkerID)
	assert.Equal(t, shift.ID, batch.ShiftID)
	assert.Len(t, batch.Edits, 3, "all edits in the window land in one summary")
}

func TestAudit_FlushNotStarvedByContinuousEdits(t *testing.T) {
	_, notifier, _, record := seedEditableShift(t)

	// Keep editing well past the 80ms deadline. With a fixed flush
	// deadline the first summary still goes out while edits continue; a
	// restart-on-edit debounce would never fire here.
	start := time.Now()
	var firstFlush time.Duration
	for time.Since(start) < 300*time.Millisecond {
		record(models.EditAdd, 60)
		if firstFlush == 0 && len(notifier.batches()) > 0 {
			firstFlush = time.Since(start)
		}
		time.Sleep(20 * time.Millisecond)
	}

	require.NotZero(t, firstFlush, "continuous edits must not starve the flush")
	assert.Less(t, firstFlush, 250*time.Millisecond)
}

func TestAudit_ManualFlush(t *testing.T) {
	audit, notifier, shift, record := seedEditableShift(t)

	record(models.EditReset, 0)
	audit.Flush("a1", "w1", shift.ID)

	require.Len(t, notifier.batches(), 1)
	assert.Len(t, notifier.batches()[0].Edits, 1)

	// Flushing an empty key is a no-op.
	audit.Flush("a1", "w1", shift.ID)
	assert.Len(t, notifier.batches(), 1)
}

func TestAudit_BackToBackBatchesDoNotOverlap(t *testing.T) {
	audit, notifier, shift, record := seedEditableShift(t)

	// Two batches flushed within well under a second of each other. The
	// second summary must start at its own first edit, not re-report the
	// already-delivered one.
	record(models.EditAdd, 600)
	audit.Flush("a1", "w1", shift.ID)

	record(models.EditRemove, 300)
	audit.Flush("a1", "w1", shift.ID)

	require.Len(t, notifier.batches(), 2)
	first := notifier.batches()[0]
	second := notifier.batches()[1]
	require.Len(t, first.Edits, 1)
	require.Len(t, second.Edits, 1)
	assert.Equal(t, models.EditAdd, first.Edits[0].Action)
	assert.Equal(t, models.EditRemove, second.Edits[0].Action)
}

func TestAudit_SeparateKeysSeparateBatches(t *testing.T) {
	shiftRepo, _ := newTestRepos(t)

	week := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	shift := models.NewShift("w1", "moderation", week.Add(9*time.Hour), week)
	require.NoError(t, shiftRepo.Create(shift))
	require.NoError(t, shift.Close(week.Add(12*time.Hour)))
	require.NoError(t, shiftRepo.Update(shift))

	notifier := &captureNotifier{}
	audit := service.NewAuditLog(shiftRepo, notifier, 50*time.Millisecond)
	t.Cleanup(audit.Stop)

	for _, admin := range []string{"a1", "a2"} {
		edit := &models.ShiftEdit{ShiftID: shift.ID, AdminID: admin, WorkerID: "w1", Action: models.EditAdd, Seconds: 60}
		require.NoError(t, shiftRepo.AppendEdit(edit))
		audit.Record(edit)
	}

	require.Eventually(t, func() bool {
		return len(notifier.batches()) == 2
	}, time.Second, 10*time.Millisecond)
}
