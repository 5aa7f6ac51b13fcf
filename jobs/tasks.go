// Package jobs defines the background tasks processed by the worker.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeRebuildUser rebuilds one user's permission cache.
	TaskTypeRebuildUser = "permissions:rebuild_user"
	// TaskTypeReconcile rebuilds every known permission cache. Safety net
	// for edits made outside the API; scheduled nightly.
	TaskTypeReconcile = "permissions:reconcile"
)

// Rebuilder is the slice of the permission service the worker needs.
type Rebuilder interface {
	Rebuild(ctx context.Context, userID uuid.UUID) ([]string, error)
	ReconcileAll(ctx context.Context) (int, error)
}

// RebuildUserPayload identifies the user to rebuild.
type RebuildUserPayload struct {
	UserID uuid.UUID `json:"user_id"`
}

// NewRebuildUserTask constructs an Asynq task for one user.
func NewRebuildUserTask(payload RebuildUserPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeRebuildUser, data), nil
}

// NewReconcileTask constructs the full-sweep task.
func NewReconcileTask() *asynq.Task {
	return asynq.NewTask(TaskTypeReconcile, nil)
}

// NewRebuildUserHandler processes TaskTypeRebuildUser tasks.
func NewRebuildUserHandler(service Rebuilder, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload RebuildUserPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		codes, err := service.Rebuild(ctx, payload.UserID)
		if err != nil {
			logger.Error("rebuild user task failed",
				slog.String("user_id", payload.UserID.String()), slog.Any("error", err))
			return err
		}
		logger.Info("rebuilt user permissions",
			slog.String("user_id", payload.UserID.String()), slog.Int("codes", len(codes)))
		return nil
	}
}

// NewReconcileHandler processes TaskTypeReconcile tasks.
func NewReconcileHandler(service Rebuilder, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		rebuilt, err := service.ReconcileAll(ctx)
		if err != nil {
			logger.Error("reconcile sweep failed", slog.Any("error", err))
			return err
		}
		logger.Info("reconcile sweep finished", slog.Int("rebuilt", rebuilt))
		return nil
	}
}
