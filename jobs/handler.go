package jobs

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/arenarank/arenarank-permissions/internal/authz"
	"github.com/arenarank/arenarank-permissions/internal/platform/httpx"
)

// Handler lets operators enqueue background tasks over HTTP.
type Handler struct {
	client *asynq.Client
	logger *slog.Logger
	authz  authz.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(client *asynq.Client, logger *slog.Logger, authz authz.Middleware) *Handler {
	return &Handler{client: client, logger: logger, authz: authz}
}

// MountRoutes registers the task-enqueue routes (under /jobs).
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authz.Require("permission:manage"))
		r.Post("/reconcile", h.enqueueReconcile)
		r.Post("/rebuild/{id}", h.enqueueRebuild)
	})
}

func (h *Handler) enqueueReconcile(w http.ResponseWriter, r *http.Request) {
	info, err := h.client.EnqueueContext(r.Context(), NewReconcileTask(), asynq.Queue(QueueDefault))
	if err != nil {
		h.logger.Error("enqueue reconcile", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": info.ID})
}

func (h *Handler) enqueueRebuild(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	task, err := NewRebuildUserTask(RebuildUserPayload{UserID: userID})
	if err != nil {
		h.logger.Error("build rebuild task", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	info, err := h.client.EnqueueContext(r.Context(), task, asynq.Queue(QueueDefault))
	if err != nil {
		h.logger.Error("enqueue rebuild", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": info.ID})
}
