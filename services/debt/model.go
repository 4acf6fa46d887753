package debt

import "time"

// Entry is one immutable debt accrual, kept for audit alongside the running
// balance on the tier state.
type Entry struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	UserID    string    `gorm:"column:user_id;index" json:"user_id"`
	Amount    int64     `gorm:"column:amount" json:"amount"`
	Balance   int64     `gorm:"column:balance" json:"balance"`
	Reason    string    `gorm:"column:reason" json:"reason"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Entry) TableName() string { return "debt_entries" }
