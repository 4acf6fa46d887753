package reset

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jinjinsansan/hachikai/pkg/config"
	"github.com/jinjinsansan/hachikai/services/debt"
	"github.com/jinjinsansan/hachikai/services/floor"
	"github.com/jinjinsansan/hachikai/services/obligation"
	"github.com/jinjinsansan/hachikai/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func newTestTask(t *testing.T, clk *testutil.FixedClock, enq *fakeEnqueuer) (*Task, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &floor.TierState{}, &debt.Entry{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	debts := debt.NewService(debt.ServiceParams{DB: db, Node: node, Config: &config.Config{}})
	engine := floor.NewEngine(floor.EngineParams{DB: db, Debt: debts, Rand: &testutil.ScriptedRand{Draws: []float64{0.5}}})
	obligations := obligation.NewService(obligation.ServiceParams{DB: db})
	orchestrator := NewOrchestrator(OrchestratorParams{Engine: engine, Obligations: obligations, Clock: clk})

	task := NewTask(TaskParams{Orchestrator: orchestrator, Engine: engine, Asynq: enq})
	return task, db
}

func TestSweepFansOutPerUser(t *testing.T) {
	clk := &testutil.FixedClock{Instant: time.Date(2026, 8, 30, 0, 5, 0, 0, time.UTC)}
	enq := &fakeEnqueuer{}
	task, db := newTestTask(t, clk, enq)

	for _, id := range []string{"u1", "u2", "u3"} {
		require.NoError(t, db.Create(&floor.TierState{UserID: id, Tier: 3}).Error)
	}

	require.NoError(t, task.HandleSweepTask(context.Background(), asynq.NewTask(TaskResetSweep, nil)))
	require.Len(t, enq.tasks, 3)

	var payload ResetPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, "u1", payload.UserID)
	require.Equal(t, TaskResetDaily, enq.tasks[0].Type())
}

func TestDailyTaskRunsReset(t *testing.T) {
	clk := &testutil.FixedClock{Instant: time.Date(2026, 8, 30, 0, 5, 0, 0, time.UTC)}
	task, db := newTestTask(t, clk, &fakeEnqueuer{})
	require.NoError(t, db.Create(&floor.TierState{UserID: "u1", Tier: 3, LastResetDate: "2026-08-29"}).Error)

	payload, err := json.Marshal(ResetPayload{UserID: "u1"})
	require.NoError(t, err)

	require.NoError(t, task.HandleDailyTask(context.Background(), asynq.NewTask(TaskResetDaily, payload)))

	var st floor.TierState
	require.NoError(t, db.First(&st, "user_id = ?", "u1").Error)
	require.Equal(t, "2026-08-30", st.LastResetDate)

	// duplicate delivery is absorbed by the date guard
	require.NoError(t, task.HandleDailyTask(context.Background(), asynq.NewTask(TaskResetDaily, payload)))
}

func TestDailyTaskInvalidPayload(t *testing.T) {
	clk := &testutil.FixedClock{Instant: time.Now()}
	task, _ := newTestTask(t, clk, &fakeEnqueuer{})

	require.Error(t, task.HandleDailyTask(context.Background(), asynq.NewTask(TaskResetDaily, []byte("{"))))
}
