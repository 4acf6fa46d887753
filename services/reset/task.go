package reset

import (
	"context"
	"encoding/json"
	"fmt"

	asynqfx "github.com/jinjinsansan/hachikai/pkg/asynq"
	"github.com/jinjinsansan/hachikai/pkg/config"
	"github.com/jinjinsansan/hachikai/services/floor"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	TaskResetDaily = "reset:daily"
	TaskResetSweep = "reset:sweep"
)

type ResetPayload struct {
	UserID string `json:"user_id"`
}

type Task struct {
	orchestrator *Orchestrator
	engine       *floor.Engine
	asynq        asynqfx.Enqueuer
}

type TaskParams struct {
	fx.In
	Orchestrator *Orchestrator
	Engine       *floor.Engine
	Asynq        asynqfx.Enqueuer
}

func NewTask(p TaskParams) *Task {
	return &Task{
		orchestrator: p.Orchestrator,
		engine:       p.Engine,
		asynq:        p.Asynq,
	}
}

// HandleSweepTask fans the nightly sweep out into one reset task per user.
// The per-user date guard absorbs duplicate sweeps.
func (s *Task) HandleSweepTask(ctx context.Context, t *asynq.Task) error {
	ids, err := s.engine.UserIDs(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		payload, err := json.Marshal(ResetPayload{UserID: id})
		if err != nil {
			return err
		}
		if _, err := s.asynq.Enqueue(asynq.NewTask(TaskResetDaily, payload), asynq.Queue("critical")); err != nil {
			return fmt.Errorf("enqueue reset for %s: %w", id, err)
		}
	}

	zap.L().Info("reset sweep dispatched", zap.Int("users", len(ids)))
	return nil
}

func (s *Task) HandleDailyTask(ctx context.Context, t *asynq.Task) error {
	var payload ResetPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	_, ran, err := s.orchestrator.CheckAndRun(ctx, payload.UserID)
	if err != nil {
		zap.L().Error("daily reset failed", zap.String("user_id", payload.UserID), zap.Error(err))
		return err
	}
	if !ran {
		zap.L().Debug("daily reset already applied", zap.String("user_id", payload.UserID))
	}
	return nil
}

func registerHandlers(mux *asynq.ServeMux, scheduler *asynq.Scheduler, cfg *config.Config, task *Task) error {
	mux.HandleFunc(TaskResetDaily, task.HandleDailyTask)
	mux.HandleFunc(TaskResetSweep, task.HandleSweepTask)

	_, err := scheduler.Register(cfg.Floor.ResetSweepCron, asynq.NewTask(TaskResetSweep, nil))
	return err
}
