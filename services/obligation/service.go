package obligation

import (
	"context"

	"github.com/jinjinsansan/hachikai/pkg/errutil"
	"github.com/jinjinsansan/hachikai/pkg/repository"
	"github.com/jinjinsansan/hachikai/services/floor"
	"github.com/jinjinsansan/hachikai/services/tier"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Kind string

const (
	KindPurchase Kind = "purchase"
	KindAdView   Kind = "ad_view"
)

func (k Kind) Valid() bool {
	return k == KindPurchase || k == KindAdView
}

// Service keeps the per-user daily obligation counters. Increments are SQL
// increments so concurrent user actions are never lost to a read-then-write.
type Service struct {
	db     *gorm.DB
	states repository.Repository[floor.TierState]
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		states: repository.ProvideStore[floor.TierState](p.DB),
	}
}

// Increment adds 1 to the matching daily counter. There is no upper clamp;
// over-satisfying an obligation is allowed.
func (s *Service) Increment(ctx context.Context, userID string, kind Kind) error {
	if !kind.Valid() {
		return errutil.BadRequest("unknown obligation kind", errutil.WithDetails(errutil.Detail{Field: "kind", Message: string(kind)}))
	}

	column := "purchase_count"
	if kind == KindAdView {
		column = "ad_view_count"
	}

	res := s.db.WithContext(ctx).Model(&floor.TierState{}).
		Where("user_id = ?", userID).
		UpdateColumn(column, gorm.Expr(column+" + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.NotFound("tier state not found")
	}

	return nil
}

// Reset zeroes both counters and stamps the last-reset date.
func (s *Service) Reset(ctx context.Context, userID string, today string) error {
	res := s.db.WithContext(ctx).Model(&floor.TierState{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"purchase_count":  0,
			"ad_view_count":   0,
			"last_reset_date": today,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.NotFound("tier state not found")
	}

	return nil
}

// IsSatisfied compares today's counters against the rule for the user's
// current tier.
func (s *Service) IsSatisfied(ctx context.Context, userID string) (floor.Obligations, error) {
	st, err := s.states.FindOne(ctx, &floor.TierState{UserID: userID})
	if err != nil {
		return floor.Obligations{}, err
	}
	if st == nil {
		return floor.Obligations{}, errutil.NotFound("tier state not found")
	}

	return s.Evaluate(st)
}

// Evaluate applies the tier rule to an already-loaded state.
func (s *Service) Evaluate(st *floor.TierState) (floor.Obligations, error) {
	rule, err := tier.RuleFor(st.Tier)
	if err != nil {
		zap.L().Error("tier state outside rule table", zap.String("user_id", st.UserID), zap.Int("tier", st.Tier))
		return floor.Obligations{}, err
	}

	return floor.Obligations{
		PurchaseMet: st.PurchaseCount >= rule.PurchasesRequired,
		AdViewMet:   st.AdViewCount >= rule.AdViewsRequired,
	}, nil
}
