package floor

import "time"

// TierState is the per-user progression document. The reset orchestrator owns
// counter/date writes; the transition engine and the sanction engine own tier
// writes.
type TierState struct {
	UserID            string     `gorm:"column:user_id;primaryKey" json:"user_id"`
	Tier              int        `gorm:"column:tier" json:"tier"`
	PurchaseCount     int64      `gorm:"column:purchase_count" json:"purchase_count"`
	AdViewCount       int64      `gorm:"column:ad_view_count" json:"ad_view_count"`
	Debt              *int64     `gorm:"column:debt" json:"debt,omitempty"`
	LockDaysRemaining int        `gorm:"column:lock_days_remaining" json:"lock_days_remaining"`
	LastResetDate     string     `gorm:"column:last_reset_date" json:"last_reset_date"`
	SanctionStatus    string     `gorm:"column:sanction_status" json:"sanction_status,omitempty"`
	SanctionReason    string     `gorm:"column:sanction_reason" json:"-"`
	BannedUntil       *time.Time `gorm:"column:banned_until" json:"banned_until,omitempty"`
	PermanentlyBanned bool       `gorm:"column:permanently_banned" json:"permanently_banned"`
	CreatedAt         time.Time  `gorm:"column:created_at" json:"-"`
	UpdatedAt         time.Time  `gorm:"column:updated_at" json:"-"`
}

func (TierState) TableName() string { return "tier_states" }

// Banned reports whether the user is currently excluded from transitions.
func (s *TierState) Banned(now time.Time) bool {
	if s.PermanentlyBanned {
		return true
	}
	return s.BannedUntil != nil && now.Before(*s.BannedUntil)
}

type Reason string

const (
	ReasonRoulette  Reason = "roulette"
	ReasonPromotion Reason = "promotion"
	ReasonDemotion  Reason = "demotion"
	ReasonSanction  Reason = "sanction"
	ReasonLocked    Reason = "locked"
)

// Outcome is the ephemeral result of one transition draw.
type Outcome struct {
	UserID       string `json:"user_id"`
	PreviousTier int    `json:"previous_tier"`
	NewTier      int    `json:"new_tier"`
	LockDays     int    `json:"lock_days"`
	Reason       Reason `json:"reason"`
}

// Obligations reports yesterday's obligation evaluation for a user.
type Obligations struct {
	PurchaseMet bool `json:"purchase_met"`
	AdViewMet   bool `json:"ad_view_met"`
}

func (o Obligations) BothMet() bool { return o.PurchaseMet && o.AdViewMet }

func (o Obligations) BothFailed() bool { return !o.PurchaseMet && !o.AdViewMet }
