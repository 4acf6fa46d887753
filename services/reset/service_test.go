package reset

import (
	"context"
	"testing"
	"time"

	"github.com/jinjinsansan/hachikai/pkg/config"
	"github.com/jinjinsansan/hachikai/services/debt"
	"github.com/jinjinsansan/hachikai/services/floor"
	"github.com/jinjinsansan/hachikai/services/obligation"
	"github.com/jinjinsansan/hachikai/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestOrchestrator(t *testing.T, clk *testutil.FixedClock, draws ...float64) (*Orchestrator, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &floor.TierState{}, &debt.Entry{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	debts := debt.NewService(debt.ServiceParams{DB: db, Node: node, Config: &config.Config{}})
	engine := floor.NewEngine(floor.EngineParams{DB: db, Debt: debts, Rand: &testutil.ScriptedRand{Draws: draws}})
	obligations := obligation.NewService(obligation.ServiceParams{DB: db})

	o := NewOrchestrator(OrchestratorParams{Engine: engine, Obligations: obligations, Clock: clk})
	return o, db
}

func TestCheckAndRunIsIdempotentPerDate(t *testing.T) {
	clk := &testutil.FixedClock{Instant: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)}
	o, db := newTestOrchestrator(t, clk, 0.50, 0.50)
	require.NoError(t, db.Create(&floor.TierState{UserID: "u1", Tier: 3, LastResetDate: "2026-08-29"}).Error)

	_, ran, err := o.CheckAndRun(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, ran)

	_, ran, err = o.CheckAndRun(context.Background(), "u1")
	require.NoError(t, err)
	require.False(t, ran)

	clk.Advance(24 * time.Hour)
	_, ran, err = o.CheckAndRun(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, ran)
}

func TestCheckAndRunEvaluatesAndZeroesCounters(t *testing.T) {
	clk := &testutil.FixedClock{Instant: time.Date(2026, 8, 30, 0, 5, 0, 0, time.UTC)}
	o, db := newTestOrchestrator(t, clk, 0.10) // promotion draw
	require.NoError(t, db.Create(&floor.TierState{
		UserID:        "u1",
		Tier:          3,
		PurchaseCount: 1,
		AdViewCount:   5,
		LastResetDate: "2026-08-29",
	}).Error)

	out, ran, err := o.CheckAndRun(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, ran)
	require.Equal(t, 4, out.NewTier)

	var st floor.TierState
	require.NoError(t, db.First(&st, "user_id = ?", "u1").Error)
	require.Zero(t, st.PurchaseCount)
	require.Zero(t, st.AdViewCount)
	require.Equal(t, "2026-08-30", st.LastResetDate)
}

func TestCheckAndRunDemotesOnUnmetObligations(t *testing.T) {
	clk := &testutil.FixedClock{Instant: time.Date(2026, 8, 30, 0, 5, 0, 0, time.UTC)}
	o, db := newTestOrchestrator(t, clk, 0.50) // inside the 0.70 both-failed window
	require.NoError(t, db.Create(&floor.TierState{UserID: "u1", Tier: 4, LastResetDate: "2026-08-29"}).Error)

	out, ran, err := o.CheckAndRun(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, ran)
	require.Equal(t, 3, out.NewTier)
	require.Equal(t, 3, out.LockDays)
}

func TestForceResetIgnoresDateGuard(t *testing.T) {
	clk := &testutil.FixedClock{Instant: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	o, db := newTestOrchestrator(t, clk, 0.50, 0.50)
	require.NoError(t, db.Create(&floor.TierState{UserID: "u1", Tier: 5, LastResetDate: "2026-08-30"}).Error)

	out, err := o.ForceReset(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, out)
}

func TestBannedUserSkipsTransition(t *testing.T) {
	clk := &testutil.FixedClock{Instant: time.Date(2026, 8, 30, 0, 5, 0, 0, time.UTC)}
	until := clk.Instant.Add(12 * time.Hour)
	o, db := newTestOrchestrator(t, clk, 0.10) // would promote if drawn
	require.NoError(t, db.Create(&floor.TierState{
		UserID:        "u1",
		Tier:          3,
		PurchaseCount: 1,
		AdViewCount:   5,
		LastResetDate: "2026-08-29",
		BannedUntil:   &until,
	}).Error)

	out, ran, err := o.CheckAndRun(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, ran)
	require.Equal(t, 3, out.NewTier)
	require.Equal(t, floor.ReasonSanction, out.Reason)

	var st floor.TierState
	require.NoError(t, db.First(&st, "user_id = ?", "u1").Error)
	require.Equal(t, 3, st.Tier)
	require.Zero(t, st.PurchaseCount)
	require.Equal(t, "2026-08-30", st.LastResetDate)
}

func TestCheckAndRunUnknownUser(t *testing.T) {
	clk := &testutil.FixedClock{Instant: time.Date(2026, 8, 30, 0, 5, 0, 0, time.UTC)}
	o, _ := newTestOrchestrator(t, clk)

	_, _, err := o.CheckAndRun(context.Background(), "missing")
	require.Error(t, err)
}

func TestTimeUntilReset(t *testing.T) {
	clk := &testutil.FixedClock{Instant: time.Date(2026, 8, 30, 23, 0, 0, 0, time.UTC)}
	o, _ := newTestOrchestrator(t, clk)

	c := o.TimeUntilReset()
	require.Equal(t, 1, c.Hours)
	require.Equal(t, 0, c.Minutes)
	require.Equal(t, 0, c.Seconds)
	require.EqualValues(t, time.Hour.Milliseconds(), c.TotalMS)

	clk.Advance(30*time.Minute + 15*time.Second)
	c = o.TimeUntilReset()
	require.Equal(t, 0, c.Hours)
	require.Equal(t, 29, c.Minutes)
	require.Equal(t, 45, c.Seconds)
}
