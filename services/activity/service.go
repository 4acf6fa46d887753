package activity

import (
	"context"
	"sort"
	"time"

	"github.com/jinjinsansan/hachikai/pkg/clock"
	"github.com/jinjinsansan/hachikai/pkg/errutil"
	"github.com/jinjinsansan/hachikai/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db      *gorm.DB
	records repository.Repository[Record]
	node    *snowflake.Node
	clock   clock.Clock
}

type ServiceParams struct {
	fx.In
	DB    *gorm.DB
	Node  *snowflake.Node
	Clock clock.Clock
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		records: repository.ProvideStore[Record](p.DB),
		node:    p.Node,
		clock:   p.Clock,
	}
}

// Record appends one activity to the log. OccurredAt defaults to now when the
// caller did not supply a timestamp.
func (s *Service) Record(ctx context.Context, rec *Record) error {
	if rec.UserID == "" || !s.validType(rec.Type) {
		return errutil.BadRequest("malformed activity record")
	}

	rec.ID = s.node.Generate().String()
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = s.clock.Now()
	}

	if err := s.records.Create(ctx, rec); err != nil {
		zap.L().Error("failed to append activity record", zap.String("user_id", rec.UserID), zap.Error(err))
		return err
	}

	return nil
}

func (s *Service) validType(t Type) bool {
	return t == TypePurchase || t == TypeAdView
}

// Window returns a user's activities since the given instant, oldest first.
// Malformed rows are dropped here so every detector sees a clean slice.
func (s *Service) Window(ctx context.Context, userID string, since time.Time) ([]*Record, error) {
	var rows []*Record
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND occurred_at >= ?", userID, since).
		Order("occurred_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := rows[:0]
	for _, r := range rows {
		if r.Malformed() {
			zap.L().Warn("skipping malformed activity record", zap.String("id", r.ID))
			continue
		}
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

// UsersByDevice returns the distinct user ids that have recorded activity
// from the given device.
func (s *Service) UsersByDevice(ctx context.Context, deviceID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&Record{}).
		Where("device_id = ?", deviceID).
		Distinct().
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}

	sort.Strings(ids)
	return ids, nil
}

// PurchasesAmong returns all purchase records whose buyer is in the given
// set, for collusion analysis.
func (s *Service) PurchasesAmong(ctx context.Context, userIDs []string) ([]*Record, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	var rows []*Record
	err := s.db.WithContext(ctx).
		Where("user_id IN ? AND type = ?", userIDs, TypePurchase).
		Order("occurred_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := rows[:0]
	for _, r := range rows {
		if r.Malformed() {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
