package permissions

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/arenarank/arenarank-permissions/internal/authz"
	"github.com/arenarank/arenarank-permissions/internal/catalog"
	"github.com/arenarank/arenarank-permissions/internal/identity"
	"github.com/arenarank/arenarank-permissions/internal/platform/httpx"
)

// GroupsHandler exposes admin CRUD over permission groups.
type GroupsHandler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	authz     authz.Middleware
}

// NewGroupsHandler builds GroupsHandler instance.
func NewGroupsHandler(logger *slog.Logger, service *Service, authz authz.Middleware) *GroupsHandler {
	return &GroupsHandler{logger: logger, service: service, validator: validator.New(), authz: authz}
}

// MountRoutes registers group routes.
func (h *GroupsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authz.Require("group:read"))
		r.Get("/", h.listGroups)
		r.Get("/{id}", h.getGroup)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.Require("group:create"))
		r.Post("/", h.createGroup)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.Require("group:update"))
		r.Patch("/{id}", h.updateGroup)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.Require("group:delete"))
		r.Delete("/{id}", h.deleteGroup)
	})
}

type groupResponse struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Codes       []string `json:"codes"`
	IsActive    bool     `json:"is_active"`
	IsSystem    bool     `json:"is_system"`
}

func toGroupResponse(g Group) groupResponse {
	if g.Codes == nil {
		g.Codes = []string{}
	}
	return groupResponse{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		Codes:       g.Codes,
		IsActive:    g.IsActive,
		IsSystem:    g.IsSystem,
	}
}

type createGroupRequest struct {
	Name        string   `json:"name" validate:"required,min=2,max=120"`
	Description string   `json:"description" validate:"max=500"`
	Codes       []string `json:"codes"`
	IsSystem    bool     `json:"is_system"`
}

type updateGroupRequest struct {
	Name        *string   `json:"name" validate:"omitempty,min=2,max=120"`
	Description *string   `json:"description" validate:"omitempty,max=500"`
	Codes       *[]string `json:"codes"`
	IsActive    *bool     `json:"is_active"`
}

func (h *GroupsHandler) listGroups(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	groups, err := h.service.ListGroups(r.Context(), activeOnly)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]groupResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, toGroupResponse(g))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"groups": out})
}

func (h *GroupsHandler) getGroup(w http.ResponseWriter, r *http.Request) {
	id, err := groupIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid group id")
		return
	}
	group, err := h.service.GetGroup(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toGroupResponse(group))
}

func (h *GroupsHandler) createGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	group, err := h.service.CreateGroup(r.Context(), CreateGroupInput{
		Name:        req.Name,
		Description: req.Description,
		Codes:       req.Codes,
		IsSystem:    req.IsSystem,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toGroupResponse(group))
}

func (h *GroupsHandler) updateGroup(w http.ResponseWriter, r *http.Request) {
	id, err := groupIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid group id")
		return
	}
	var req updateGroupRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	group, err := h.service.UpdateGroup(r.Context(), id, UpdateGroupInput{
		Name:        req.Name,
		Description: req.Description,
		Codes:       req.Codes,
		IsActive:    req.IsActive,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toGroupResponse(group))
}

func (h *GroupsHandler) deleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := groupIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid group id")
		return
	}
	if err := h.service.DeleteGroup(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *GroupsHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	respondDomainError(w, r, h.logger, err)
}

func groupIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// respondDomainError maps the permission core's error taxonomy onto HTTP.
func respondDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var invalid *catalog.InvalidCodesError
	switch {
	case errors.As(err, &invalid):
		httpx.ProblemWithCodes(w, http.StatusBadRequest, "Invalid Permission Codes",
			"one or more permission codes are not in the catalog", invalid.Codes)
	case errors.Is(err, ErrGroupNotFound), errors.Is(err, identity.ErrUserNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrSystemGroup):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrDuplicateGroup):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	default:
		if logger != nil {
			logger.Error("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
