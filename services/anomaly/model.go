package anomaly

import (
	"time"

	"gorm.io/datatypes"
)

type ViolationKind string

const (
	ViolationMultipleAccounts  ViolationKind = "multiple_accounts"
	ViolationFakePurchaseProof ViolationKind = "fake_purchase_proof"
	ViolationAbnormalActivity  ViolationKind = "abnormal_activity"
	ViolationVelocity          ViolationKind = "velocity_violation"
	ViolationPatternAbuse      ViolationKind = "pattern_abuse"
	ViolationCollusion         ViolationKind = "collusion"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SuspiciousActivity is one immutable detector finding.
type SuspiciousActivity struct {
	ID          string         `gorm:"column:id;primaryKey" json:"id"`
	UserID      string         `gorm:"column:user_id;index" json:"user_id"`
	Kind        ViolationKind  `gorm:"column:kind" json:"kind"`
	Severity    Severity       `gorm:"column:severity" json:"severity"`
	Description string         `gorm:"column:description" json:"description"`
	Evidence    datatypes.JSON `gorm:"column:evidence" json:"evidence,omitempty"`
	DetectedAt  time.Time      `gorm:"column:detected_at" json:"detected_at"`
}

func (SuspiciousActivity) TableName() string { return "suspicious_activities" }
