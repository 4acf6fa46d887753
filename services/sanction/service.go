package sanction

import (
	"context"
	"fmt"
	"time"

	"github.com/jinjinsansan/hachikai/pkg/clock"
	"github.com/jinjinsansan/hachikai/pkg/db/option"
	"github.com/jinjinsansan/hachikai/pkg/repository"
	"github.com/jinjinsansan/hachikai/services/anomaly"
	"github.com/jinjinsansan/hachikai/services/floor"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// Service applies and reads sanctions. Ban state is denormalised onto the
// tier state so the reset orchestrator can skip banned users without a join.
type Service struct {
	db        *gorm.DB
	sanctions repository.Repository[Sanction]
	engine    *floor.Engine
	node      *snowflake.Node
	clock     clock.Clock

	sf singleflight.Group
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Engine *floor.Engine
	Node   *snowflake.Node
	Clock  clock.Clock
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		sanctions: repository.ProvideStore[Sanction](p.DB),
		engine:    p.Engine,
		node:      p.Node,
		clock:     p.Clock,
	}
}

// KindFor maps a confirmed violation to the measure it draws.
func KindFor(v anomaly.ViolationKind) Kind {
	switch v {
	case anomaly.ViolationMultipleAccounts, anomaly.ViolationFakePurchaseProof, anomaly.ViolationCollusion:
		return KindPermanentBan
	case anomaly.ViolationAbnormalActivity, anomaly.ViolationVelocity:
		return KindTemporaryBan
	case anomaly.ViolationPatternAbuse:
		return KindFloorPenalty
	default:
		return KindWarning
	}
}

// Sanction applies the automatic measure for a violation kind. Implements
// the detector's sanctioner binding.
func (s *Service) Sanction(ctx context.Context, userID string, v anomaly.ViolationKind) error {
	_, err := s.Apply(ctx, userID, KindFor(v), string(v))
	return err
}

// Apply records a sanction and writes its tier-state side effects. Repeat
// permanent bans are idempotent; every application is still ledgered.
func (s *Service) Apply(ctx context.Context, userID string, kind Kind, reason string) (*Sanction, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("user_id", userID),
		zap.String("kind", string(kind)),
	)

	if _, err := s.engine.State(ctx, userID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	sanction := &Sanction{
		ID:        s.node.Generate().String(),
		UserID:    userID,
		Kind:      kind,
		Reason:    reason,
		AppliedAt: now,
	}

	updates := map[string]any{
		"sanction_status": string(kind),
		"sanction_reason": reason,
	}

	switch kind {
	case KindPermanentBan:
		updates["permanently_banned"] = true
		updates["banned_until"] = nil

	case KindTemporaryBan:
		minutes := int64(temporaryBanMinutes)
		until := now.Add(time.Duration(minutes) * time.Minute)
		sanction.DurationMinutes = &minutes
		sanction.ExpiresAt = &until
		updates["banned_until"] = until

	case KindFloorPenalty:
		if _, err := s.engine.Penalize(ctx, userID); err != nil {
			return nil, err
		}

	case KindWarning:
		// ledger entry and status only

	default:
		return nil, fmt.Errorf("unknown sanction kind %q", kind)
	}

	if err := s.db.WithContext(ctx).Model(&floor.TierState{}).
		Where("user_id = ?", userID).
		Updates(updates).Error; err != nil {
		return nil, err
	}

	if err := s.sanctions.Create(ctx, sanction); err != nil {
		return nil, err
	}

	zapLog.Warn("sanction applied", zap.String("reason", reason))
	return sanction, nil
}

// Latest returns the most recent sanction for a user, nil when clean.
func (s *Service) Latest(ctx context.Context, userID string) (*Sanction, error) {
	sanctions, err := s.sanctions.Find(ctx, &Sanction{UserID: userID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "applied_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"applied_at": true},
		}),
		option.WithLimit(1),
	)
	if err != nil {
		return nil, err
	}
	if len(sanctions) == 0 {
		return nil, nil
	}
	return sanctions[0], nil
}

// History lists a user's sanctions, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*Sanction, error) {
	return s.sanctions.Find(ctx, &Sanction{UserID: userID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "applied_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"applied_at": true},
		}),
		option.WithLimit(limit),
	)
}

// Status reports the user's standing. Expired temporary bans are cleared
// lazily on read; concurrent reads for one user share a single expiry pass.
func (s *Service) Status(ctx context.Context, userID string) (*BanStatus, error) {
	v, err, _ := s.sf.Do(userID, func() (any, error) {
		return s.status(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*BanStatus), nil
}

func (s *Service) status(ctx context.Context, userID string) (*BanStatus, error) {
	st, err := s.engine.State(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()

	if !st.PermanentlyBanned && st.BannedUntil != nil && !now.Before(*st.BannedUntil) {
		if err := s.db.WithContext(ctx).Model(&floor.TierState{}).
			Where("user_id = ?", userID).
			Updates(map[string]any{
				"banned_until":    nil,
				"sanction_status": "",
				"sanction_reason": "",
			}).Error; err != nil {
			return nil, err
		}
		zap.L().Info("temporary ban expired", zap.String("user_id", userID))
		st.BannedUntil = nil
		st.SanctionStatus = ""
	}

	return &BanStatus{
		UserID:      userID,
		Banned:      st.Banned(now),
		Permanent:   st.PermanentlyBanned,
		BannedUntil: st.BannedUntil,
		Status:      st.SanctionStatus,
	}, nil
}
