package models

import "time"

// Edit actions for administrative time corrections.
const (
	EditAdd    = "add"
	EditRemove = "remove"
	EditSet    = "set"
	EditReset  = "reset"
)

// ShiftEdit records one administrative time correction to an ended shift.
// Edits are persisted so the batched audit notification can list every edit
// in its window even if the process restarts in between.
type ShiftEdit struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	ShiftID   uint      `gorm:"not null;index" json:"shift_id"`
	AdminID   string    `gorm:"not null;index" json:"admin_id"`
	WorkerID  string    `gorm:"not null;index" json:"worker_id"`
	Action    string    `gorm:"type:varchar(10);not null" json:"action"`
	Seconds   int64     `gorm:"not null;default:0" json:"seconds"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ShiftEdit) TableName() string {
	return "shift_edits"
}

func (e *ShiftEdit) IsValid() bool {
	if e.ShiftID == 0 || e.AdminID == "" || e.WorkerID == "" {
		return false
	}
	switch e.Action {
	case EditAdd, EditRemove, EditSet:
		return e.Seconds >= 0
	case EditReset:
		return true
	}
	return false
}
