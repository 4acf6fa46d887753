package network

import (
	"context"
	"sort"

	"github.com/jinjinsansan/hachikai/pkg/clock"
	"github.com/jinjinsansan/hachikai/pkg/errutil"
	"github.com/jinjinsansan/hachikai/pkg/repository"
	"github.com/jinjinsansan/hachikai/services/activity"
	"github.com/jinjinsansan/hachikai/services/floor"
	"github.com/jinjinsansan/hachikai/services/tier"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// aidScorePerPurchase is awarded for every fulfilled purchase toward a member.
const aidScorePerPurchase = 10

// Service matches members who must purchase with members eligible to receive.
type Service struct {
	db        *gorm.DB
	purchases repository.Repository[activity.Record]
	engine    *floor.Engine
	rand      clock.Rand
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Engine *floor.Engine
	Rand   clock.Rand
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		purchases: repository.ProvideStore[activity.Record](p.DB),
		engine:    p.Engine,
		rand:      p.Rand,
	}
}

// TargetTiers returns the tiers a member at tier t purchases from. Tier 8
// buys charitably from everyone below; everyone else buys upward.
func TargetTiers(t int) []int {
	switch t {
	case 1:
		return []int{2, 3, 4, 5, 6, 7, 8}
	case 2:
		return []int{3, 4, 5, 6, 7, 8}
	case 3, 4:
		return []int{4, 5, 6, 7, 8}
	case 5, 6:
		return []int{6, 7, 8}
	case 7:
		return []int{8}
	case 8:
		return []int{1, 2, 3, 4, 5, 6, 7}
	default:
		return nil
	}
}

// ValidatePurchaseFlow reports whether a buyer at buyerTier may purchase for
// a seller at sellerTier.
func ValidatePurchaseFlow(buyerTier, sellerTier int) bool {
	if buyerTier == tier.Max {
		return true
	}
	if buyerTier < sellerTier {
		return true
	}
	return buyerTier == sellerTier && buyerTier >= 5
}

// UpsertProfile saves a member's public profile.
func (s *Service) UpsertProfile(ctx context.Context, p *Profile) error {
	if p.UserID == "" {
		return errutil.BadRequest("profile user_id required")
	}
	if !tier.Valid(p.Tier) {
		return errutil.BadRequest("profile tier out of range")
	}
	return s.db.WithContext(ctx).Save(p).Error
}

// UsersByTier lists the profiles of members currently at one tier, per the
// live tier state.
func (s *Service) UsersByTier(ctx context.Context, t int) ([]*Profile, error) {
	liveTier, err := s.liveTiers(ctx, []int{t}, "")
	if err != nil {
		return nil, err
	}
	if len(liveTier) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(liveTier))
	for id := range liveTier {
		ids = append(ids, id)
	}

	var profiles []*Profile
	err = s.db.WithContext(ctx).Where("user_id IN ?", ids).Find(&profiles).Error
	return profiles, err
}

// liveTiers maps user id to current tier for every member inside the tier
// band, excluding exceptID when non-empty.
func (s *Service) liveTiers(ctx context.Context, tiers []int, exceptID string) (map[string]int, error) {
	q := s.db.WithContext(ctx).Model(&floor.TierState{}).Where("tier IN ?", tiers)
	if exceptID != "" {
		q = q.Where("user_id <> ?", exceptID)
	}

	var states []*floor.TierState
	if err := q.Find(&states).Error; err != nil {
		return nil, err
	}

	out := make(map[string]int, len(states))
	for _, st := range states {
		out[st.UserID] = st.Tier
	}
	return out, nil
}

// SelectPurchaseTarget picks a purchase target for the user. Candidates are
// scored by tier distance, high-priority wishlist items and a 5000-20000
// average price band; the winner is drawn from the top three to keep the
// pick fair over time. Returns nil when no candidate exists.
func (s *Service) SelectPurchaseTarget(ctx context.Context, userID string) (*Profile, error) {
	st, err := s.engine.State(ctx, userID)
	if err != nil {
		return nil, err
	}

	targets := TargetTiers(st.Tier)
	if len(targets) == 0 {
		return nil, errutil.BadRequest("tier state outside valid range")
	}

	// Tier is read from tier_states, not the profile: nightly transitions
	// and penalties move users without touching network_profiles.
	liveTier, err := s.liveTiers(ctx, targets, userID)
	if err != nil {
		return nil, err
	}
	if len(liveTier) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(liveTier))
	for id := range liveTier {
		ids = append(ids, id)
	}

	var candidates []*Profile
	if err := s.db.WithContext(ctx).
		Where("user_id IN ?", ids).
		Find(&candidates).Error; err != nil {
		return nil, err
	}

	type scored struct {
		profile *Profile
		score   int
	}

	var pool []scored
	for _, c := range candidates {
		items, err := c.Items()
		if err != nil {
			zap.L().Warn("skipping profile with unreadable wishlist", zap.String("user_id", c.UserID), zap.Error(err))
			continue
		}
		if len(items) == 0 {
			continue
		}

		score := abs(liveTier[c.UserID]-st.Tier) * 10

		var total int64
		hasHigh := false
		for _, item := range items {
			total += item.Price
			hasHigh = hasHigh || item.Priority == PriorityHigh
		}
		if hasHigh {
			score += 20
		}
		avg := total / int64(len(items))
		if avg >= 5000 && avg <= 20000 {
			score += 15
		}

		pool = append(pool, scored{profile: c, score: score})
	}

	if len(pool) == 0 {
		return nil, nil
	}

	sort.SliceStable(pool, func(i, j int) bool { return pool[i].score > pool[j].score })

	top := pool
	if len(top) > 3 {
		top = top[:3]
	}
	return top[int(s.rand.Float64()*float64(len(top)))%len(top)].profile, nil
}

// SelectProduct picks the highest-priority wishlist item of a target.
func SelectProduct(p *Profile) (*WishlistItem, error) {
	items, err := p.Items()
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Priority.rank() < items[j].Priority.rank()
	})
	return &items[0], nil
}

// Recommendations builds the user's daily purchase list, one entry per
// required purchase at their tier.
func (s *Service) Recommendations(ctx context.Context, userID string) ([]Recommendation, error) {
	st, err := s.engine.State(ctx, userID)
	if err != nil {
		return nil, err
	}

	rule, err := tier.RuleFor(st.Tier)
	if err != nil {
		return nil, err
	}

	recommendations := make([]Recommendation, 0, rule.PurchasesRequired)
	for i := int64(0); i < rule.PurchasesRequired; i++ {
		target, err := s.SelectPurchaseTarget(ctx, userID)
		if err != nil {
			return nil, err
		}
		if target == nil {
			break
		}

		item, err := SelectProduct(target)
		if err != nil || item == nil {
			continue
		}
		recommendations = append(recommendations, Recommendation{Profile: target, Item: *item})
	}

	return recommendations, nil
}

// AidScore scores a member by purchases fulfilled toward them.
func (s *Service) AidScore(ctx context.Context, userID string) (int64, error) {
	count, err := s.purchases.Count(ctx, &activity.Record{
		Type:           activity.TypePurchase,
		CounterpartyID: userID,
	})
	if err != nil {
		return 0, err
	}
	return count * aidScorePerPurchase, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
