package models

import "time"

// QuotaRule maps a role to the time quota it carries for one work type.
// When a worker holds several quota-bearing roles for the same work type,
// the rule with the largest QuotaSeconds wins.
type QuotaRule struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	RoleID       string    `gorm:"not null;uniqueIndex:uniq_role_type" json:"role_id"`
	WorkType     string    `gorm:"type:varchar(20);not null;uniqueIndex:uniq_role_type" json:"work_type"`
	QuotaSeconds int64     `gorm:"not null" json:"quota_seconds"`
	PeriodWeeks  int       `gorm:"not null;default:1" json:"period_weeks"`
	WatchQuota   int       `gorm:"not null;default:0" json:"watch_quota"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (QuotaRule) TableName() string {
	return "quota_rules"
}

func (q *QuotaRule) IsValid() bool {
	if q.RoleID == "" || q.WorkType == "" {
		return false
	}
	if q.QuotaSeconds < 0 || q.WatchQuota < 0 {
		return false
	}
	return q.PeriodWeeks >= 1
}

// QuotaIgnoredRole marks a role whose quota is excluded from aggregate
// reports while still being tracked for the individual worker.
type QuotaIgnoredRole struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	RoleID    string    `gorm:"not null;uniqueIndex:uniq_ignored_role_type" json:"role_id"`
	WorkType  string    `gorm:"type:varchar(20);not null;uniqueIndex:uniq_ignored_role_type" json:"work_type"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (QuotaIgnoredRole) TableName() string {
	return "quota_ignored_roles"
}
