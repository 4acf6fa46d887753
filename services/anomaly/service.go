package anomaly

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jinjinsansan/hachikai/pkg/clock"
	"github.com/jinjinsansan/hachikai/pkg/db/option"
	"github.com/jinjinsansan/hachikai/pkg/repository"
	"github.com/jinjinsansan/hachikai/services/activity"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Detection thresholds. Design constants, not configuration.
const (
	maxPurchasesPerHour    = 10
	maxAdViewsPerHour      = 50
	minTimeBetweenPurchase = 60000 * time.Millisecond
	minTimeBetweenAdView   = 5000 * time.Millisecond
	repeatPurchaseLimit    = 3
	collusionPairLimit     = 5

	scanWindow = time.Hour
)

var findingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "anomaly_findings_total",
	Help: "Findings emitted by the anomaly detector, by violation kind.",
}, []string{"kind"})

// Detector runs read-only scans over the activity log and records findings.
// It never mutates tier or sanction state.
type Detector struct {
	activities *activity.Service
	findings   repository.Repository[SuspiciousActivity]
	node       *snowflake.Node
	clock      clock.Clock
}

type DetectorParams struct {
	fx.In
	DB         *gorm.DB
	Activities *activity.Service
	Node       *snowflake.Node
	Clock      clock.Clock
}

func NewDetector(p DetectorParams) *Detector {
	return &Detector{
		activities: p.Activities,
		findings:   repository.ProvideStore[SuspiciousActivity](p.DB),
		node:       p.Node,
		clock:      p.Clock,
	}
}

// RunScan composes the per-user detectors over the trailing window.
func (d *Detector) RunScan(ctx context.Context, userID string) ([]*SuspiciousActivity, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	velocity, err := d.DetectVelocity(ctx, userID)
	if err != nil {
		return nil, err
	}

	patterns, err := d.DetectPatternAbuse(ctx, userID)
	if err != nil {
		return nil, err
	}

	return append(velocity, patterns...), nil
}

// DetectVelocity flags hourly-rate violations and too-short gaps between
// consecutive same-type activities.
func (d *Detector) DetectVelocity(ctx context.Context, userID string) ([]*SuspiciousActivity, error) {
	now := d.clock.Now()
	window, err := d.activities.Window(ctx, userID, now.Add(-scanWindow))
	if err != nil {
		return nil, err
	}

	var findings []*SuspiciousActivity

	var purchases, adViews int
	for _, rec := range window {
		switch rec.Type {
		case activity.TypePurchase:
			purchases++
		case activity.TypeAdView:
			adViews++
		}
	}

	if purchases > maxPurchasesPerHour {
		findings = append(findings, d.finding(userID, ViolationVelocity, SeverityHigh,
			fmt.Sprintf("abnormal purchase rate: %d/hour", purchases),
			map[string]any{"count": purchases, "threshold": maxPurchasesPerHour}))
	}

	if adViews > maxAdViewsPerHour {
		findings = append(findings, d.finding(userID, ViolationVelocity, SeverityMedium,
			fmt.Sprintf("abnormal ad-view rate: %d/hour", adViews),
			map[string]any{"count": adViews, "threshold": maxAdViewsPerHour}))
	}

	findings = append(findings, d.timingViolations(userID, window)...)

	if err := d.record(ctx, findings); err != nil {
		return nil, err
	}
	return findings, nil
}

// timingViolations scans consecutive same-type activities chronologically
// for gaps below the minimum interval.
func (d *Detector) timingViolations(userID string, window []*activity.Record) []*SuspiciousActivity {
	var findings []*SuspiciousActivity

	for i := 1; i < len(window); i++ {
		prev, curr := window[i-1], window[i]
		if prev.Type != curr.Type {
			continue
		}

		gap := curr.OccurredAt.Sub(prev.OccurredAt)

		switch {
		case curr.Type == activity.TypePurchase && gap < minTimeBetweenPurchase:
			findings = append(findings, d.finding(userID, ViolationVelocity, SeverityCritical,
				fmt.Sprintf("purchases too close together: %dms", gap.Milliseconds()),
				map[string]any{"gap_ms": gap.Milliseconds(), "threshold_ms": minTimeBetweenPurchase.Milliseconds()}))
		case curr.Type == activity.TypeAdView && gap < minTimeBetweenAdView:
			findings = append(findings, d.finding(userID, ViolationVelocity, SeverityMedium,
				fmt.Sprintf("ad views too close together: %dms", gap.Milliseconds()),
				map[string]any{"gap_ms": gap.Milliseconds(), "threshold_ms": minTimeBetweenAdView.Milliseconds()}))
		}
	}

	return findings
}

// DetectPatternAbuse flags the same product purchased repeatedly within the
// window.
func (d *Detector) DetectPatternAbuse(ctx context.Context, userID string) ([]*SuspiciousActivity, error) {
	now := d.clock.Now()
	window, err := d.activities.Window(ctx, userID, now.Add(-scanWindow))
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, rec := range window {
		if rec.Type == activity.TypePurchase && rec.ProductID != "" {
			counts[rec.ProductID]++
		}
	}

	type repeated struct {
		ProductID string `json:"product_id"`
		Count     int    `json:"count"`
	}
	var suspicious []repeated
	for id, n := range counts {
		if n >= repeatPurchaseLimit {
			suspicious = append(suspicious, repeated{ProductID: id, Count: n})
		}
	}
	sort.Slice(suspicious, func(i, j int) bool { return suspicious[i].ProductID < suspicious[j].ProductID })

	if len(suspicious) == 0 {
		return nil, nil
	}

	findings := []*SuspiciousActivity{
		d.finding(userID, ViolationPatternAbuse, SeverityHigh,
			"patterned purchase behaviour detected",
			map[string]any{"products": suspicious}),
	}

	if err := d.record(ctx, findings); err != nil {
		return nil, err
	}
	return findings, nil
}

// DetectMultipleAccounts flags a device shared by more than one account and
// returns the sharing user ids. One finding is recorded per shared device,
// attributed to the first id, with every sharing id in the evidence;
// sanctioning fans out over the evidence ids.
func (d *Detector) DetectMultipleAccounts(ctx context.Context, deviceID string) ([]string, []*SuspiciousActivity, error) {
	userIDs, err := d.activities.UsersByDevice(ctx, deviceID)
	if err != nil {
		return nil, nil, err
	}

	if len(userIDs) <= 1 {
		return userIDs, nil, nil
	}

	zap.L().Warn("multiple accounts detected on device",
		zap.String("device_id", deviceID), zap.Strings("user_ids", userIDs))

	findings := []*SuspiciousActivity{
		d.finding(userIDs[0], ViolationMultipleAccounts, SeverityHigh,
			fmt.Sprintf("%d accounts share one device", len(userIDs)),
			map[string]any{"device_id": deviceID, "user_ids": userIDs}),
	}

	if err := d.record(ctx, findings); err != nil {
		return nil, nil, err
	}
	return userIDs, findings, nil
}

// DetectCollusion flags buyer/seller pairs transacting repeatedly within the
// given user set.
func (d *Detector) DetectCollusion(ctx context.Context, userIDs []string) ([]*SuspiciousActivity, error) {
	purchases, err := d.activities.PurchasesAmong(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	type pairKey struct{ buyer, seller string }
	counts := make(map[pairKey]int)
	for _, rec := range purchases {
		if rec.CounterpartyID == "" {
			continue
		}
		counts[pairKey{buyer: rec.UserID, seller: rec.CounterpartyID}]++
	}

	var findings []*SuspiciousActivity
	for pair, n := range counts {
		if n < collusionPairLimit {
			continue
		}
		findings = append(findings, d.finding(pair.buyer, ViolationCollusion, SeverityCritical,
			fmt.Sprintf("collusive pair: %d transactions with %s", n, pair.seller),
			map[string]any{"buyer_id": pair.buyer, "seller_id": pair.seller, "count": n}))
	}
	sort.Slice(findings, func(i, j int) bool { return findings[i].UserID < findings[j].UserID })

	if err := d.record(ctx, findings); err != nil {
		return nil, err
	}
	return findings, nil
}

// History returns recorded findings for a user, newest first.
func (d *Detector) History(ctx context.Context, userID string, limit int) ([]*SuspiciousActivity, error) {
	return d.findings.Find(ctx, &SuspiciousActivity{UserID: userID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "detected_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"detected_at": true},
		}),
		option.WithLimit(limit),
	)
}

func (d *Detector) finding(userID string, kind ViolationKind, severity Severity, description string, evidence map[string]any) *SuspiciousActivity {
	raw, _ := json.Marshal(evidence)
	return &SuspiciousActivity{
		ID:          d.node.Generate().String(),
		UserID:      userID,
		Kind:        kind,
		Severity:    severity,
		Description: description,
		Evidence:    datatypes.JSON(raw),
		DetectedAt:  d.clock.Now(),
	}
}

func (d *Detector) record(ctx context.Context, findings []*SuspiciousActivity) error {
	if len(findings) == 0 {
		return nil
	}

	if err := d.findings.BatchCreate(ctx, findings); err != nil {
		zap.L().Error("failed to record findings", zap.Error(err))
		return err
	}

	for _, f := range findings {
		findingsTotal.WithLabelValues(string(f.Kind)).Inc()
	}
	return nil
}
