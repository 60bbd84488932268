package models

import (
	"fmt"
	"time"

	"duty-tracker/internal/engine"
)

// Shift states. The state is an explicit tag rather than being implied by
// which nullable columns happen to be set.
const (
	StatusActive  = "active"
	StatusOnBreak = "on_break"
	StatusEnded   = "ended"
)

// openSlotMarker occupies OpenSlot while a shift is open. Ended shifts carry
// NULL there, and NULL values never collide in the composite unique index, so
// the index enforces at most one open shift per (worker, work type) at the
// storage level.
const openSlotMarker = "open"

type Shift struct {
	ID       uint   `gorm:"primarykey" json:"id"`
	WorkerID string `gorm:"not null;index;uniqueIndex:uniq_open_shift" json:"worker_id"`
	WorkType string `gorm:"type:varchar(20);not null;uniqueIndex:uniq_open_shift" json:"work_type"`
	Status   string `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`

	StartTime time.Time  `gorm:"not null" json:"start_time"`
	EndTime   *time.Time `json:"end_time"`

	// Break bookkeeping. PauseStart is set only while on break;
	// PauseSeconds accumulates every completed break.
	PauseStart   *time.Time `json:"pause_start"`
	PauseSeconds int64      `gorm:"not null;default:0" json:"pause_seconds"`

	// ActiveSeconds is recalculated whenever the shift ends or is edited,
	// so aggregate queries can sum a plain column.
	ActiveSeconds int64 `gorm:"not null;default:0" json:"active_seconds"`

	// WeekStart is the canonical week this shift belongs to, assigned at
	// creation and re-stamped at force-close. WaveNumber stays NULL until
	// the weekly archival assigns the shift to an immutable wave.
	WeekStart  time.Time `gorm:"not null;index" json:"week_start"`
	WaveNumber *int      `gorm:"index" json:"wave_number"`

	ForceClosed bool    `gorm:"not null;default:false" json:"force_closed"`
	OpenSlot    *string `gorm:"type:varchar(10);uniqueIndex:uniq_open_shift" json:"-"`

	// Version guards updates with an optimistic lock: a writer holding a
	// stale copy loses at the store, not just in application checks.
	Version int `gorm:"not null;default:0" json:"-"`

	Breaks []BreakSession `gorm:"foreignKey:ShiftID" json:"breaks"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Shift) TableName() string {
	return "shifts"
}

type BreakSession struct {
	ID        uint       `gorm:"primarykey" json:"id"`
	ShiftID   uint       `gorm:"not null;index" json:"shift_id"`
	StartTime time.Time  `gorm:"not null" json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	Seconds   int64      `gorm:"not null;default:0" json:"seconds"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (BreakSession) TableName() string {
	return "break_sessions"
}

// NewShift returns an open shift started at now, bucketed into weekStart.
func NewShift(workerID, workType string, now, weekStart time.Time) *Shift {
	marker := openSlotMarker
	return &Shift{
		WorkerID:  workerID,
		WorkType:  workType,
		Status:    StatusActive,
		StartTime: now,
		WeekStart: weekStart,
		OpenSlot:  &marker,
	}
}

func (s *Shift) IsOpen() bool {
	return s.Status != StatusEnded
}

func (s *Shift) OnBreak() bool {
	return s.Status == StatusOnBreak
}

// StartBreak transitions Active -> OnBreak and opens a new break session.
func (s *Shift) StartBreak(now time.Time) error {
	if s.Status != StatusActive {
		return &engine.InvalidStateError{ShiftID: s.ID, State: s.Status, Transition: "pause"}
	}
	s.Status = StatusOnBreak
	s.PauseStart = &now
	s.Breaks = append(s.Breaks, BreakSession{ShiftID: s.ID, StartTime: now})
	return nil
}

// EndBreak transitions OnBreak -> Active, closing the open break session and
// folding its duration into PauseSeconds.
func (s *Shift) EndBreak(now time.Time) error {
	if s.Status != StatusOnBreak || s.PauseStart == nil {
		return &engine.InvalidStateError{ShiftID: s.ID, State: s.Status, Transition: "resume"}
	}
	elapsed := int64(now.Sub(*s.PauseStart).Seconds())
	if elapsed < 0 {
		elapsed = 0
	}
	s.PauseSeconds += elapsed
	for i := len(s.Breaks) - 1; i >= 0; i-- {
		if s.Breaks[i].EndTime == nil {
			end := now
			s.Breaks[i].EndTime = &end
			s.Breaks[i].Seconds = elapsed
			break
		}
	}
	s.PauseStart = nil
	s.Status = StatusActive
	return nil
}

// Close ends the shift. An open break is resumed first so its full elapsed
// time lands in PauseSeconds before EndTime is set.
func (s *Shift) Close(now time.Time) error {
	switch s.Status {
	case StatusEnded:
		return &engine.InvalidStateError{ShiftID: s.ID, State: s.Status, Transition: "end"}
	case StatusOnBreak:
		if err := s.EndBreak(now); err != nil {
			return err
		}
	}
	end := now
	s.EndTime = &end
	s.Status = StatusEnded
	s.OpenSlot = nil
	s.RecalculateActive()
	return nil
}

// RecalculateActive refreshes the stored ActiveSeconds column:
// (end - start) - pause, clamped at zero. No-op on open shifts.
func (s *Shift) RecalculateActive() {
	if s.EndTime == nil {
		return
	}
	s.ActiveSeconds = s.ActiveSecondsAt(*s.EndTime)
}

// ActiveSecondsAt returns the active time accumulated up to now, excluding
// completed breaks and the currently running break, if any.
func (s *Shift) ActiveSecondsAt(now time.Time) int64 {
	pause := s.PauseSeconds
	if s.PauseStart != nil && now.After(*s.PauseStart) {
		pause += int64(now.Sub(*s.PauseStart).Seconds())
	}
	active := int64(now.Sub(s.StartTime).Seconds()) - pause
	if active < 0 {
		active = 0
	}
	return active
}

// IsValid checks structural consistency before persisting.
func (s *Shift) IsValid() bool {
	if s.WorkerID == "" || s.WorkType == "" {
		return false
	}
	if s.StartTime.IsZero() || s.WeekStart.IsZero() {
		return false
	}
	switch s.Status {
	case StatusActive:
		if s.EndTime != nil || s.PauseStart != nil || s.OpenSlot == nil {
			return false
		}
	case StatusOnBreak:
		if s.EndTime != nil || s.PauseStart == nil || s.OpenSlot == nil {
			return false
		}
	case StatusEnded:
		if s.EndTime == nil || s.PauseStart != nil || s.OpenSlot != nil {
			return false
		}
		if s.EndTime.Before(s.StartTime) {
			return false
		}
	default:
		return false
	}
	return s.PauseSeconds >= 0
}

// Duration renders the active time for logs and summaries.
func (s *Shift) Duration() string {
	secs := s.ActiveSeconds
	h := secs / 3600
	m := (secs % 3600) / 60
	if m == 0 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}
