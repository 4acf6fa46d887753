package sanction

import "time"

type Kind string

const (
	KindPermanentBan Kind = "permanent_ban"
	KindTemporaryBan Kind = "temporary_ban"
	KindFloorPenalty Kind = "floor_penalty"
	KindWarning      Kind = "warning"
)

// temporary bans last one day
const temporaryBanMinutes = 1440

// Sanction is one applied measure. DurationMinutes and ExpiresAt are set only
// for temporary bans.
type Sanction struct {
	ID              string     `gorm:"column:id;primaryKey" json:"id"`
	UserID          string     `gorm:"column:user_id;index" json:"user_id"`
	Kind            Kind       `gorm:"column:kind" json:"kind"`
	DurationMinutes *int64     `gorm:"column:duration_minutes" json:"duration_minutes,omitempty"`
	Reason          string     `gorm:"column:reason" json:"reason"`
	AppliedAt       time.Time  `gorm:"column:applied_at" json:"applied_at"`
	ExpiresAt       *time.Time `gorm:"column:expires_at" json:"expires_at,omitempty"`
}

func (Sanction) TableName() string { return "sanctions" }

// BanStatus is the current standing of one user as seen through the
// sanction ledger and the tier state ban fields.
type BanStatus struct {
	UserID      string     `json:"user_id"`
	Banned      bool       `json:"banned"`
	Permanent   bool       `json:"permanent"`
	BannedUntil *time.Time `json:"banned_until,omitempty"`
	Status      string     `json:"status,omitempty"`
}
