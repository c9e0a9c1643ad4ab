package rbac

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-saas/meridian/internal/platform/httpx"
	"github.com/meridian-saas/meridian/internal/tenant"
	"github.com/meridian-saas/meridian/internal/users"
)

// Handler exposes the RBAC admin API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	gate     *Gate
	validate *validator.Validate
	rbac     Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, gate *Gate, validate *validator.Validate, rbac Middleware) *Handler {
	return &Handler{logger: logger, service: service, gate: gate, validate: validate, rbac: rbac}
}

// MountRoutes registers the admin routes. Reads need rbac.view, writes
// need rbac.manage.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/roles", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny("rbac.view", "rbac.manage"))
			r.Get("/", h.listRoles)
			r.Get("/{roleID}", h.getRole)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny("rbac.manage"))
			r.Post("/", h.createRole)
			r.Put("/{roleID}", h.updateRole)
			r.Delete("/{roleID}", h.deleteRole)
			r.Post("/{roleID}/restore", h.restoreRole)
			r.Post("/{roleID}/permissions", h.assignRolePermissions)
			r.Delete("/{roleID}/permissions", h.revokeRolePermissions)
		})
	})
	r.Route("/permissions", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny("rbac.view", "rbac.manage"))
			r.Get("/", h.listPermissions)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny("rbac.manage"))
			r.Post("/", h.createPermission)
			r.Put("/{permissionID}", h.updatePermission)
			r.Delete("/{permissionID}", h.deletePermission)
			r.Post("/{permissionID}/restore", h.restorePermission)
		})
	})
	r.Route("/users/{userID}", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny("rbac.view", "rbac.manage"))
			r.Get("/permissions", h.userPermissions)
			r.Post("/permissions/check", h.checkUserPermissions)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny("rbac.manage"))
			r.Post("/roles", h.assignUserRoles)
			r.Delete("/roles", h.revokeUserRoles)
		})
	})
}

type roleResponse struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	IsSystemRole bool      `json:"is_system_role"`
	State        State     `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type roleDetailResponse struct {
	roleResponse
	Permissions []string `json:"permissions"`
	UserCount   int64    `json:"user_count"`
}

type permissionResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	State       State     `json:"state"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toRoleResponse(role Role) roleResponse {
	return roleResponse{
		ID:           role.ID,
		Name:         role.Name,
		Description:  role.Description,
		IsSystemRole: role.IsSystemRole,
		State:        role.State,
		CreatedAt:    role.CreatedAt,
		UpdatedAt:    role.UpdatedAt,
	}
}

func toPermissionResponse(perm Permission) permissionResponse {
	return permissionResponse{
		ID:          perm.ID,
		Name:        perm.Name,
		Description: perm.Description,
		State:       perm.State,
		CreatedAt:   perm.CreatedAt,
		UpdatedAt:   perm.UpdatedAt,
	}
}

type nameRequest struct {
	Name        string `json:"name" validate:"required,max=150"`
	Description string `json:"description" validate:"max=500"`
}

type idListRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
}

type checkRequest struct {
	Permissions []string `json:"permissions" validate:"required,min=1,dive,required"`
	Mode        string   `json:"mode" validate:"omitempty,oneof=any all"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := RoleFilter{
		State:         State(q.Get("state")),
		Search:        q.Get("q"),
		IncludeSystem: q.Get("include_system") != "false",
	}
	if filter.State != "" && !filter.State.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown state filter")
		return
	}
	roles, err := h.service.ListRoles(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list roles", err)
		return
	}
	out := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		out = append(out, toRoleResponse(role))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": out})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	detail, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, roleDetailResponse{
		roleResponse: toRoleResponse(detail.Role),
		Permissions:  detail.Permissions,
		UserCount:    detail.UserCount,
	})
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeName(w, r)
	if !ok {
		return
	}
	role, err := h.service.CreateRole(r.Context(), req.Name, req.Description)
	if err != nil {
		h.fail(w, r, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRoleResponse(role))
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	req, ok := h.decodeName(w, r)
	if !ok {
		return
	}
	role, err := h.service.UpdateRole(r.Context(), id, req.Name, req.Description)
	if err != nil {
		h.fail(w, r, "update role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleResponse(role))
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.service.DeleteRole(r.Context(), id); err != nil {
		h.fail(w, r, "delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) restoreRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	role, err := h.service.RestoreRole(r.Context(), id)
	if err != nil {
		h.fail(w, r, "restore role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleResponse(role))
}

func (h *Handler) assignRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	req, ok := h.decodeIDs(w, r)
	if !ok {
		return
	}
	if err := h.service.AssignPermissionsToRole(r.Context(), id, req.IDs); err != nil {
		h.fail(w, r, "assign role permissions", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokeRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	req, ok := h.decodeIDs(w, r)
	if !ok {
		return
	}
	if err := h.service.RevokePermissionsFromRole(r.Context(), id, req.IDs); err != nil {
		h.fail(w, r, "revoke role permissions", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := PermissionFilter{State: State(q.Get("state")), Search: q.Get("q")}
	if filter.State != "" && !filter.State.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown state filter")
		return
	}
	perms, err := h.service.ListPermissions(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list permissions", err)
		return
	}
	out := make([]permissionResponse, 0, len(perms))
	for _, perm := range perms {
		out = append(out, toPermissionResponse(perm))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": out})
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeName(w, r)
	if !ok {
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), req.Name, req.Description)
	if err != nil {
		h.fail(w, r, "create permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPermissionResponse(perm))
}

func (h *Handler) updatePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "permissionID")
	if !ok {
		return
	}
	req, ok := h.decodeName(w, r)
	if !ok {
		return
	}
	perm, err := h.service.UpdatePermission(r.Context(), id, req.Name, req.Description)
	if err != nil {
		h.fail(w, r, "update permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPermissionResponse(perm))
}

func (h *Handler) deletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.service.DeletePermission(r.Context(), id); err != nil {
		h.fail(w, r, "delete permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) restorePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "permissionID")
	if !ok {
		return
	}
	perm, err := h.service.RestorePermission(r.Context(), id)
	if err != nil {
		h.fail(w, r, "restore permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPermissionResponse(perm))
}

func (h *Handler) userPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	perms, err := h.service.UserEffectivePermissions(r.Context(), id)
	if err != nil {
		h.fail(w, r, "user permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": id, "permissions": perms})
}

func (h *Handler) checkUserPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	var allowed bool
	var err error
	if req.Mode == "all" {
		allowed, err = h.gate.HasAllPermissions(r.Context(), id, req.Permissions)
	} else {
		allowed, err = h.gate.HasAnyPermission(r.Context(), id, req.Permissions)
	}
	if err != nil {
		h.fail(w, r, "check user permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": id, "allowed": allowed})
}

func (h *Handler) assignUserRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	req, ok := h.decodeIDs(w, r)
	if !ok {
		return
	}
	if err := h.service.AssignRolesToUser(r.Context(), id, req.IDs); err != nil {
		h.fail(w, r, "assign user roles", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokeUserRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	req, ok := h.decodeIDs(w, r)
	if !ok {
		return
	}
	if err := h.service.RevokeRolesFromUser(r.Context(), id, req.IDs); err != nil {
		h.fail(w, r, "revoke user roles", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decodeName(w http.ResponseWriter, r *http.Request) (nameRequest, bool) {
	var req nameRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return req, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return req, false
	}
	return req, true
}

func (h *Handler) decodeIDs(w http.ResponseWriter, r *http.Request) (idListRequest, bool) {
	var req idListRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return req, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return req, false
	}
	return req, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error(op, slog.Any("error", err), slog.String("path", r.URL.Path))
	respondError(w, err)
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid "+param)
		return 0, false
	}
	return id, true
}

// respondError maps typed domain errors onto problem responses.
func respondError(w http.ResponseWriter, err error) {
	var notFound *NotFoundError
	var forbidden *ForbiddenOperationError
	var invalid *ValidationError
	switch {
	case errors.As(err, &notFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", notFound.Error())
	case errors.As(err, &forbidden):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", forbidden.Error())
	case errors.As(err, &invalid):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", invalid.Error())
	case errors.Is(err, ErrDuplicateName):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, users.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, tenant.ErrMissing):
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
