package service

import (
	"sync"
	"time"

	"duty-tracker/internal/models"
	"duty-tracker/internal/repository"

	"github.com/sirupsen/logrus"
)

// Notifier delivers the consolidated edit summary. Implemented by the
// external notification layer.
type Notifier interface {
	NotifyShiftEdits(adminID, workerID string, shiftID uint, edits []*models.ShiftEdit)
}

type auditKey struct {
	AdminID  string
	WorkerID string
	ShiftID  uint
}

type auditBatch struct {
	firstEditID uint
	timer       *time.Timer
}

// AuditLog batches administrative shift edits into one delayed notification
// per (admin, worker, shift). The flush fires at a fixed deadline measured
// from the first pending edit; later edits in the window join the batch but
// do not push the deadline out, so a stream of edits cannot starve the flush.
type AuditLog struct {
	shifts   repository.ShiftRepository
	notifier Notifier
	delay    time.Duration
	logger   *logrus.Logger

	mu      sync.Mutex
	pending map[auditKey]*auditBatch
}

func NewAuditLog(shifts repository.ShiftRepository, notifier Notifier, delay time.Duration) *AuditLog {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	return &AuditLog{
		shifts:   shifts,
		notifier: notifier,
		delay:    delay,
		logger:   logger,
		pending:  make(map[auditKey]*auditBatch),
	}
}

// Record notes that an edit was made. The edit must already be persisted:
// its row ID marks where the batch starts. The first edit for a key arms
// the flush timer; subsequent edits ride along.
func (a *AuditLog) Record(edit *models.ShiftEdit) {
	key := auditKey{AdminID: edit.AdminID, WorkerID: edit.WorkerID, ShiftID: edit.ShiftID}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.pending[key]; exists {
		return
	}

	batch := &auditBatch{firstEditID: edit.ID}
	batch.timer = time.AfterFunc(a.delay, func() {
		a.Flush(key.AdminID, key.WorkerID, key.ShiftID)
	})
	a.pending[key] = batch
}

// Flush emits the consolidated notification for one key immediately.
func (a *AuditLog) Flush(adminID, workerID string, shiftID uint) {
	key := auditKey{AdminID: adminID, WorkerID: workerID, ShiftID: shiftID}

	a.mu.Lock()
	batch, exists := a.pending[key]
	if !exists {
		a.mu.Unlock()
		return
	}
	batch.timer.Stop()
	delete(a.pending, key)
	a.mu.Unlock()

	// Edits are persisted before Record hands them to the log, so the first
	// edit's row ID bounds the batch exactly. A timestamp window would bleed
	// into the previous batch when two flushes land within clock resolution.
	edits, err := a.shifts.GetEditsFrom(adminID, workerID, shiftID, batch.firstEditID)
	if err != nil {
		a.logger.WithError(err).Error("Failed to load edits for audit flush")
		return
	}
	if len(edits) == 0 {
		return
	}

	a.logger.WithFields(logrus.Fields{
		"admin_id":  adminID,
		"worker_id": workerID,
		"shift_id":  shiftID,
		"edits":     len(edits),
	}).Info("Flushing batched shift edits")

	if a.notifier != nil {
		a.notifier.NotifyShiftEdits(adminID, workerID, shiftID, edits)
	}
}

// Stop flushes every pending batch, for a clean shutdown.
func (a *AuditLog) Stop() {
	a.mu.Lock()
	keys := make([]auditKey, 0, len(a.pending))
	for key := range a.pending {
		keys = append(keys, key)
	}
	a.mu.Unlock()

	for _, key := range keys {
		a.Flush(key.AdminID, key.WorkerID, key.ShiftID)
	}
}
