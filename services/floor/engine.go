package floor

import (
	"context"

	"github.com/jinjinsansan/hachikai/pkg/clock"
	"github.com/jinjinsansan/hachikai/pkg/errutil"
	"github.com/jinjinsansan/hachikai/pkg/repository"
	"github.com/jinjinsansan/hachikai/services/debt"
	"github.com/jinjinsansan/hachikai/services/tier"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Demotion draw parameters for the failed-obligation path.
const (
	demoteChanceBothFailed = 0.70
	demoteChanceOneFailed  = 0.30
	lockDaysBothFailed     = 3
	lockDaysOneFailed      = 1
)

// Engine draws the daily tier transition for one user and applies it to the
// tier state, preserving the debt invariant (debt defined iff tier == 2).
type Engine struct {
	db     *gorm.DB
	states repository.Repository[TierState]
	debts  *debt.Service
	rand   clock.Rand
}

type EngineParams struct {
	fx.In
	DB   *gorm.DB
	Debt *debt.Service
	Rand clock.Rand
}

func NewEngine(p EngineParams) *Engine {
	return &Engine{
		db:     p.DB,
		states: repository.ProvideStore[TierState](p.DB),
		debts:  p.Debt,
		rand:   p.Rand,
	}
}

// State loads a user's tier state, failing with NOT_FOUND when absent.
func (e *Engine) State(ctx context.Context, userID string) (*TierState, error) {
	st, err := e.states.FindOne(ctx, &TierState{UserID: userID})
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errutil.NotFound("tier state not found", errutil.WithDetails(errutil.Detail{Field: "user_id", Message: userID}))
	}
	return st, nil
}

// Create initialises a tier state at the given tier. The debt field is set
// only for tier 2.
func (e *Engine) Create(ctx context.Context, userID string, t int, today string) (*TierState, error) {
	if !tier.Valid(t) {
		return nil, errutil.BadRequest("invalid tier")
	}

	existing, err := e.states.FindOne(ctx, &TierState{UserID: userID})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errutil.Conflict("tier state already exists", errutil.WithDetails(errutil.Detail{Field: "user_id", Message: userID}))
	}

	st := &TierState{
		UserID:        userID,
		Tier:          t,
		LastResetDate: today,
	}
	if t == 2 {
		var zero int64
		st.Debt = &zero
	}

	if err := e.states.Create(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// UserIDs returns every user id holding a tier state. The sweep tasks
// iterate this set.
func (e *Engine) UserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := e.db.WithContext(ctx).Model(&TierState{}).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

// InitialTier draws the starting tier for a new user. Lower tiers are far
// more common; the weights sum to 1.
func (e *Engine) InitialTier() int {
	weights := []float64{0.30, 0.20, 0.15, 0.12, 0.10, 0.07, 0.04, 0.02}

	r := e.rand.Float64()
	cumulative := 0.0
	for i, w := range weights {
		cumulative += w
		if r <= cumulative {
			return i + 1
		}
	}
	return tier.Min
}

// probabilitiesFor returns the (up, stay, down) triple for the met-obligation
// roulette. The three values sum to 1 for every tier.
func probabilitiesFor(t int) (up, stay, down float64) {
	switch {
	case t == 1:
		return 0.30, 0.70, 0.00
	case t <= 4:
		return 0.25, 0.65, 0.10
	case t <= 7:
		return 0.20, 0.65, 0.15
	default:
		return 0.00, 0.85, 0.15
	}
}

// Apply runs one daily transition for the user. While a transition lock is
// active no draw happens; the lock counter is decremented instead.
func (e *Engine) Apply(ctx context.Context, userID string, ob Obligations) (*Outcome, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("user_id", userID),
		zap.String("trace_id", span.SpanContext().TraceID().String()),
	)

	st, err := e.State(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !tier.Valid(st.Tier) {
		return nil, errutil.BadRequest("tier state outside valid range")
	}

	if st.LockDaysRemaining > 0 {
		if err := e.decrementLock(ctx, st); err != nil {
			return nil, err
		}
		zapLog.Info("transition locked", zap.Int("days_remaining", st.LockDaysRemaining-1))
		return &Outcome{
			UserID:       userID,
			PreviousTier: st.Tier,
			NewTier:      st.Tier,
			Reason:       ReasonLocked,
		}, nil
	}

	if ob.BothMet() {
		return e.applyRoulette(ctx, st, zapLog)
	}
	return e.applyFailedObligations(ctx, st, ob, zapLog)
}

// applyRoulette draws once and partitions [0,1) as up-slice, stay-slice,
// down-slice, in that order. The ordering is load-bearing: the down branch is
// only reachable in the final slice of the interval.
func (e *Engine) applyRoulette(ctx context.Context, st *TierState, zapLog *zap.Logger) (*Outcome, error) {
	up, stay, _ := probabilitiesFor(st.Tier)

	r := e.rand.Float64()
	newTier := st.Tier
	reason := ReasonRoulette

	if r < up && st.Tier < tier.Max {
		newTier = st.Tier + 1
		reason = ReasonPromotion
	} else if r >= up+stay && st.Tier > tier.Min {
		newTier = st.Tier - 1
		reason = ReasonDemotion
	}

	if newTier != st.Tier {
		if err := e.applyTier(ctx, st, newTier, 0); err != nil {
			return nil, err
		}
		zapLog.Info("roulette transition applied",
			zap.Int("from", st.Tier), zap.Int("to", newTier), zap.String("reason", string(reason)))
	}

	return &Outcome{
		UserID:       st.UserID,
		PreviousTier: st.Tier,
		NewTier:      newTier,
		Reason:       reason,
	}, nil
}

// applyFailedObligations handles the demotion draw and, for tier 2, the debt
// accrual tied to the unmet purchase obligation.
func (e *Engine) applyFailedObligations(ctx context.Context, st *TierState, ob Obligations, zapLog *zap.Logger) (*Outcome, error) {
	if st.Tier == 2 && !ob.PurchaseMet {
		if err := e.accrueDebt(ctx, st); err != nil {
			return nil, err
		}
	}

	chance := demoteChanceOneFailed
	lockDays := lockDaysOneFailed
	if ob.BothFailed() {
		chance = demoteChanceBothFailed
		lockDays = lockDaysBothFailed
	}

	newTier := st.Tier
	reason := ReasonRoulette
	appliedLock := 0

	if e.rand.Float64() < chance && st.Tier > tier.Min {
		newTier = st.Tier - 1
		reason = ReasonDemotion
		appliedLock = lockDays
	}

	if newTier != st.Tier {
		if err := e.applyTier(ctx, st, newTier, appliedLock); err != nil {
			return nil, err
		}
		zapLog.Info("demotion applied",
			zap.Int("from", st.Tier), zap.Int("to", newTier), zap.Int("lock_days", appliedLock))
	}

	return &Outcome{
		UserID:       st.UserID,
		PreviousTier: st.Tier,
		NewTier:      newTier,
		LockDays:     appliedLock,
		Reason:       reason,
	}, nil
}

// Penalize decrements the tier by one (floored at tier 1) outside the daily
// draw. Used by the sanction engine for floor penalties.
func (e *Engine) Penalize(ctx context.Context, userID string) (*Outcome, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	st, err := e.State(ctx, userID)
	if err != nil {
		return nil, err
	}

	newTier := st.Tier
	if st.Tier > tier.Min {
		newTier = st.Tier - 1
		if err := e.applyTier(ctx, st, newTier, 0); err != nil {
			return nil, err
		}
	}

	return &Outcome{
		UserID:       userID,
		PreviousTier: st.Tier,
		NewTier:      newTier,
		Reason:       ReasonSanction,
	}, nil
}

func (e *Engine) accrueDebt(ctx context.Context, st *TierState) error {
	var balance int64
	if st.Debt != nil {
		balance = *st.Debt
	}
	balance += e.debts.Amount()

	res := e.db.WithContext(ctx).Model(&TierState{}).
		Where("user_id = ?", st.UserID).
		UpdateColumn("debt", balance)
	if res.Error != nil {
		return res.Error
	}

	st.Debt = &balance
	return e.debts.Append(ctx, st.UserID, balance, "daily purchase obligation unmet")
}

// applyTier writes the new tier and lock, maintaining the debt invariant:
// entering tier 2 initialises debt to 0 when absent, leaving clears it.
func (e *Engine) applyTier(ctx context.Context, st *TierState, newTier, lockDays int) error {
	updates := map[string]any{
		"tier":                newTier,
		"lock_days_remaining": lockDays,
	}

	if newTier == 2 {
		if st.Debt == nil {
			updates["debt"] = int64(0)
		}
	} else {
		updates["debt"] = nil
	}

	return e.db.WithContext(ctx).Model(&TierState{}).
		Where("user_id = ?", st.UserID).
		Updates(updates).Error
}

func (e *Engine) decrementLock(ctx context.Context, st *TierState) error {
	return e.db.WithContext(ctx).Model(&TierState{}).
		Where("user_id = ? AND lock_days_remaining > 0", st.UserID).
		UpdateColumn("lock_days_remaining", gorm.Expr("lock_days_remaining - 1")).Error
}
