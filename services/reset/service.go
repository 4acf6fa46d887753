package reset

import (
	"context"
	"time"

	"github.com/jinjinsansan/hachikai/pkg/clock"
	"github.com/jinjinsansan/hachikai/services/floor"
	"github.com/jinjinsansan/hachikai/services/obligation"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Orchestrator sequences the daily boundary for one user: evaluate
// yesterday's obligations, draw the transition, zero the counters. The
// calendar-date guard makes the sequence idempotent within a day.
type Orchestrator struct {
	engine      *floor.Engine
	obligations *obligation.Service
	clock       clock.Clock
}

type OrchestratorParams struct {
	fx.In
	Engine      *floor.Engine
	Obligations *obligation.Service
	Clock       clock.Clock
}

func NewOrchestrator(p OrchestratorParams) *Orchestrator {
	return &Orchestrator{
		engine:      p.Engine,
		obligations: p.Obligations,
		clock:       p.Clock,
	}
}

// CheckAndRun runs the daily reset if it has not run today. The bool reports
// whether a reset actually ran.
func (o *Orchestrator) CheckAndRun(ctx context.Context, userID string) (*floor.Outcome, bool, error) {
	st, err := o.engine.State(ctx, userID)
	if err != nil {
		return nil, false, err
	}

	today := clock.DateOf(o.clock.Now())
	if st.LastResetDate == today {
		return nil, false, nil
	}

	out, err := o.run(ctx, st, today)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// ForceReset runs the sequence regardless of the date guard. Operator use.
func (o *Orchestrator) ForceReset(ctx context.Context, userID string) (*floor.Outcome, error) {
	st, err := o.engine.State(ctx, userID)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, st, clock.DateOf(o.clock.Now()))
}

// run assumes the date guard has passed. Banned users get their counters
// zeroed without a transition draw; an active sanction outranks the roulette.
func (o *Orchestrator) run(ctx context.Context, st *floor.TierState, today string) (*floor.Outcome, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("user_id", st.UserID),
		zap.String("date", today),
	)

	if st.Banned(o.clock.Now()) {
		if err := o.obligations.Reset(ctx, st.UserID, today); err != nil {
			return nil, err
		}
		zapLog.Info("reset without transition, user banned")
		return &floor.Outcome{
			UserID:       st.UserID,
			PreviousTier: st.Tier,
			NewTier:      st.Tier,
			Reason:       floor.ReasonSanction,
		}, nil
	}

	ob, err := o.obligations.Evaluate(st)
	if err != nil {
		return nil, err
	}

	out, err := o.engine.Apply(ctx, st.UserID, ob)
	if err != nil {
		return nil, err
	}

	if err := o.obligations.Reset(ctx, st.UserID, today); err != nil {
		return nil, err
	}

	zapLog.Info("daily reset complete",
		zap.Int("previous_tier", out.PreviousTier),
		zap.Int("new_tier", out.NewTier),
		zap.String("reason", string(out.Reason)))
	return out, nil
}

// Countdown is the remaining time until the next daily boundary.
type Countdown struct {
	Hours   int   `json:"hours"`
	Minutes int   `json:"minutes"`
	Seconds int   `json:"seconds"`
	TotalMS int64 `json:"total_ms"`
}

// TimeUntilReset returns the remaining time until the next local midnight.
func (o *Orchestrator) TimeUntilReset() Countdown {
	now := o.clock.Now()
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	d := next.Sub(now)

	return Countdown{
		Hours:   int(d / time.Hour),
		Minutes: int(d % time.Hour / time.Minute),
		Seconds: int(d % time.Minute / time.Second),
		TotalMS: d.Milliseconds(),
	}
}
