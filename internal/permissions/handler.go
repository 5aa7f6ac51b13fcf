package permissions

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/arenarank/arenarank-permissions/internal/authz"
	"github.com/arenarank/arenarank-permissions/internal/catalog"
	"github.com/arenarank/arenarank-permissions/internal/platform/httpx"
)

// Handler exposes per-user permission operations and the catalog listing.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	authz     authz.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, authz authz.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New(), authz: authz}
}

// MountUserRoutes registers the per-user permission routes (under /users).
func (h *Handler) MountUserRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authz.Require("permission:read"))
		r.Get("/{id}/permissions", h.userSummary)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.Require("permission:grant"))
		r.Post("/{id}/permissions", h.grant)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.Require("permission:revoke"))
		r.Delete("/{id}/permissions/{code}", h.revoke)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.Require("group:assign"))
		r.Post("/{id}/groups/{groupID}", h.assignGroup)
		r.Delete("/{id}/groups/{groupID}", h.removeGroup)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.Require("permission:manage"))
		r.Post("/{id}/permissions/rebuild", h.rebuild)
	})
}

// MountCatalogRoutes registers the catalog listing (under /permissions).
func (h *Handler) MountCatalogRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authz.Require("permission:read"))
		r.Get("/", h.listCatalog)
	})
}

type grantRequest struct {
	Code string `json:"code" validate:"required"`
}

type effectiveResponse struct {
	UserID    uuid.UUID `json:"user_id"`
	Effective []string  `json:"effective_permissions"`
}

func (h *Handler) userSummary(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	summary, err := h.service.UserSummary(r.Context(), userID)
	if err != nil {
		respondDomainError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	codes, err := h.service.Grant(r.Context(), userID, req.Code)
	if err != nil {
		respondDomainError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, effectiveResponse{UserID: userID, Effective: codes})
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	codes, err := h.service.Revoke(r.Context(), userID, chi.URLParam(r, "code"))
	if err != nil {
		respondDomainError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, effectiveResponse{UserID: userID, Effective: codes})
}

func (h *Handler) assignGroup(w http.ResponseWriter, r *http.Request) {
	userID, groupID, err := userGroupParams(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	codes, err := h.service.AssignGroup(r.Context(), userID, groupID)
	if err != nil {
		respondDomainError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, effectiveResponse{UserID: userID, Effective: codes})
}

func (h *Handler) removeGroup(w http.ResponseWriter, r *http.Request) {
	userID, groupID, err := userGroupParams(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	codes, err := h.service.RemoveGroup(r.Context(), userID, groupID)
	if err != nil {
		respondDomainError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, effectiveResponse{UserID: userID, Effective: codes})
}

func (h *Handler) rebuild(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	codes, err := h.service.Rebuild(r.Context(), userID)
	if err != nil {
		respondDomainError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, effectiveResponse{UserID: userID, Effective: codes})
}

type catalogModule struct {
	Module      string   `json:"module"`
	DisplayName string   `json:"display_name"`
	Codes       []string `json:"codes"`
}

func (h *Handler) listCatalog(w http.ResponseWriter, r *http.Request) {
	modules := make([]catalogModule, 0)
	for _, module := range catalog.Modules() {
		modules = append(modules, catalogModule{
			Module:      module,
			DisplayName: catalog.Describe(module),
			Codes:       catalog.ForModule(module),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"modules": modules})
}

func userIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

func userGroupParams(r *http.Request) (uuid.UUID, int64, error) {
	userID, err := userIDParam(r)
	if err != nil {
		return uuid.Nil, 0, err
	}
	groupID, err := strconv.ParseInt(chi.URLParam(r, "groupID"), 10, 64)
	if err != nil {
		return uuid.Nil, 0, err
	}
	return userID, groupID, nil
}
