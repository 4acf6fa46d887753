package activity

import "time"

type Type string

const (
	TypePurchase Type = "purchase"
	TypeAdView   Type = "ad_view"
)

// Record is one append-only entry in the activity log. Rows are never
// mutated; detectors read them in time-windowed queries.
type Record struct {
	ID             string    `gorm:"column:id;primaryKey" json:"id"`
	UserID         string    `gorm:"column:user_id;index:idx_activity_user_time" json:"user_id"`
	Type           Type      `gorm:"column:type" json:"type"`
	ProductID      string    `gorm:"column:product_id" json:"product_id,omitempty"`
	CounterpartyID string    `gorm:"column:counterparty_id" json:"counterparty_id,omitempty"`
	DeviceID       string    `gorm:"column:device_id;index" json:"device_id,omitempty"`
	OccurredAt     time.Time `gorm:"column:occurred_at;index:idx_activity_user_time" json:"occurred_at"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"-"`
}

func (Record) TableName() string { return "activity_records" }

// Malformed reports whether the record is unusable for scanning. Such rows
// are skipped, never fatal to a scan.
func (r *Record) Malformed() bool {
	return r.UserID == "" || r.Type == "" || r.OccurredAt.IsZero()
}
