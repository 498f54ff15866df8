package models

import "time"

// StickyWindow is the duration a SessionAssignment remains valid
// before it may be redrawn, per spec §3.
const StickyWindow = 90 * 24 * time.Hour

// SessionAssignment pins a (shop, session, optimization) tuple to a
// variant for StickyWindow. Rows are immutable once created: a
// reassignment before expiry returns the stored variant unchanged.
type SessionAssignment struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Shop           string    `gorm:"size:255;index:idx_assignment_shop_session" json:"shop"`
	SessionID      string    `gorm:"size:255;index:idx_assignment_shop_session" json:"session_id"`
	OptimizationID uint      `gorm:"index" json:"optimization_id"`
	Variant        Variant   `gorm:"size:20" json:"variant"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func (SessionAssignment) TableName() string { return "session_assignments" }

// Expired reports whether this assignment can no longer be reused.
func (a *SessionAssignment) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}
