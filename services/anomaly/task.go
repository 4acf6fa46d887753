package anomaly

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
	TaskAnomalyScan  = "anomaly:scan"
	TaskAnomalySweep = "anomaly:sweep"
)

// Sanctioner applies the automatic sanction for a confirmed violation.
// Bound by the sanction module; optional so the detector can run standalone.
type Sanctioner interface {
	Sanction(ctx context.Context, userID string, kind ViolationKind) error
}

type ScanPayload struct {
	UserID string `json:"user_id"`
}

type Task struct {
	detector  *Detector
	engine    *floor.Engine
	asynq     asynqfx.Enqueuer
	sanctions Sanctioner
}

type TaskParams struct {
	fx.In

	Detector *Detector
	Engine   *floor.Engine
	Asynq    asynqfx.Enqueuer

	Sanctions Sanctioner `optional:"true"`
}

func NewTask(p TaskParams) *Task {
	return &Task{
		detector:  p.Detector,
		engine:    p.Engine,
		asynq:     p.Asynq,
		sanctions: p.Sanctions,
	}
}

// HandleSweepTask fans the periodic sweep out into one scan task per user.
func (s *Task) HandleSweepTask(ctx context.Context, t *asynq.Task) error {
	ids, err := s.engine.UserIDs(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		payload, err := json.Marshal(ScanPayload{UserID: id})
		if err != nil {
			return err
		}
		if _, err := s.asynq.Enqueue(asynq.NewTask(TaskAnomalyScan, payload), asynq.Queue("low")); err != nil {
			return fmt.Errorf("enqueue scan for %s: %w", id, err)
		}
	}

	zap.L().Info("anomaly sweep dispatched", zap.Int("users", len(ids)))
	return nil
}

// HandleScanTask scans one user and hands high and critical findings to the
// sanction engine.
func (s *Task) HandleScanTask(ctx context.Context, t *asynq.Task) error {
	var payload ScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	zapLog := zap.L().With(
		zap.String("task_type", t.Type()),
		zap.String("user_id", payload.UserID),
	)

	findings, err := s.detector.RunScan(ctx, payload.UserID)
	if err != nil {
		zapLog.Error("anomaly scan failed", zap.Error(err))
		return err
	}

	if len(findings) == 0 {
		return nil
	}
	zapLog.Info("anomaly scan produced findings", zap.Int("count", len(findings)))

	if s.sanctions == nil {
		return nil
	}
	for _, f := range findings {
		if f.Severity != SeverityHigh && f.Severity != SeverityCritical {
			continue
		}
		if err := s.sanctions.Sanction(ctx, f.UserID, f.Kind); err != nil {
			zapLog.Error("failed to apply sanction",
				zap.String("kind", string(f.Kind)), zap.Error(err))
			return err
		}
	}
	return nil
}

func registerHandlers(mux *asynq.ServeMux, scheduler *asynq.Scheduler, cfg *config.Config, task *Task) error {
	mux.HandleFunc(TaskAnomalyScan, task.HandleScanTask)
	mux.HandleFunc(TaskAnomalySweep, task.HandleSweepTask)

	_, err := scheduler.Register(cfg.Floor.AnomalySweepCron, asynq.NewTask(TaskAnomalySweep, nil))
	return err
}
