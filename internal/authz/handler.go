package authz

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-lms/meridian-lms/internal/platform/httpx"
	"github.com/meridian-lms/meridian-lms/internal/shared"
)

// Handler exposes the role and grant administration endpoints. It is a thin
// collaborator: every write goes through the Store so catalog validation and
// audit cannot be bypassed.
type Handler struct {
	logger    *slog.Logger
	store     *Store
	hierarchy *Hierarchy
	catalog   *Catalog
	resolver  *Resolver
	validate  *validator.Validate
	mw        Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, store *Store, hierarchy *Hierarchy, catalog *Catalog, resolver *Resolver, mw Middleware) *Handler {
	return &Handler{
		logger:    logger,
		store:     store,
		hierarchy: hierarchy,
		catalog:   catalog,
		resolver:  resolver,
		validate:  validator.New(),
		mw:        mw,
	}
}

// MountRoutes registers the administration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireAny("ROLES.VIEW", "GRANTS.VIEW"))
		r.Get("/permissions", h.listPermissions)
	})
	r.Route("/roles", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.mw.RequireAny("ROLES.VIEW"))
			r.Get("/", h.listRoles)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.mw.RequireAll("ROLES.MANAGE"))
			r.Post("/", h.registerRole)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.mw.RequireAny("GRANTS.VIEW"))
			r.Get("/{roleType}/grants", h.listRoleGrants)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.mw.RequireAll("GRANTS.MANAGE"))
			r.Put("/{roleType}/grants/{key}", h.upsertRoleGrant)
			r.Delete("/{roleType}/grants/{key}", h.revokeRoleGrant)
		})
	})
	r.Route("/assignments", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.mw.RequireAll("ROLES.MANAGE"))
			r.Post("/", h.assignRole)
			r.Delete("/{id}", h.revokeRole)
			r.Post("/{id}/reactivate", h.reactivateRole)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.mw.RequireAny("GRANTS.VIEW"))
			r.Get("/{id}/grants", h.listGrants)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.mw.RequireAll("GRANTS.MANAGE"))
			r.Put("/{id}/grants/{key}", h.upsertGrant)
			r.Delete("/{id}/grants/{key}", h.revokeGrant)
		})
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireAny("GRANTS.VIEW"))
		r.Get("/subjects/{id}/permissions", h.subjectPermissions)
	})
}

type permissionResponse struct {
	Key         string `json:"key"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	keys := h.catalog.Keys()
	out := make([]permissionResponse, 0, len(keys))
	for _, key := range keys {
		entry, _ := h.catalog.Entry(key)
		out = append(out, permissionResponse{
			Key:         string(key),
			Resource:    entry.Resource,
			Action:      entry.Action,
			Description: entry.Description,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": out})
}

type roleResponse struct {
	RoleType  string     `json:"role_type"`
	Label     string     `json:"label"`
	Parent    string     `json:"parent,omitempty"`
	Custom    bool       `json:"custom"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var out []roleResponse
	for _, role := range h.hierarchy.BuiltinRoles() {
		out = append(out, roleResponse{
			RoleType: string(role.Type),
			Label:    role.Label,
			Parent:   string(role.Parent),
		})
	}
	custom, err := h.hierarchy.ListCustomRoles(r.Context(), actor.TenantID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	for _, role := range custom {
		createdAt := role.CreatedAt
		out = append(out, roleResponse{
			RoleType:  string(role.RoleType),
			Label:     role.Label,
			Parent:    string(role.Parent),
			Custom:    true,
			CreatedAt: &createdAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": out})
}

type registerRoleRequest struct {
	Name   string `json:"name" validate:"required,min=2,max=64"`
	Parent string `json:"parent" validate:"required"`
}

func (h *Handler) registerRole(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req registerRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "INVALID_BODY", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}
	role, err := h.hierarchy.RegisterCustomRole(r.Context(), RegisterCustomRoleParams{
		Name:      req.Name,
		Parent:    RoleType(strings.ToUpper(strings.TrimSpace(req.Parent))),
		TenantID:  actor.TenantID,
		CreatedBy: actor.SubjectID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, roleResponse{
		RoleType:  string(role.RoleType),
		Label:     role.Label,
		Parent:    string(role.Parent),
		Custom:    true,
		CreatedAt: &role.CreatedAt,
	})
}

type assignRoleRequest struct {
	SubjectID string `json:"subject_id" validate:"required,uuid"`
	TenantID  string `json:"tenant_id" validate:"omitempty,uuid"`
	RoleType  string `json:"role_type" validate:"required"`
	Primary   bool   `json:"primary"`
}

type assignmentResponse struct {
	ID        string     `json:"id"`
	SubjectID string     `json:"subject_id"`
	TenantID  *string    `json:"tenant_id,omitempty"`
	RoleType  string     `json:"role_type"`
	Active    bool       `json:"active"`
	Primary   bool       `json:"primary"`
	Version   int64      `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

func toAssignmentResponse(a RoleAssignment) assignmentResponse {
	resp := assignmentResponse{
		ID:        a.ID.String(),
		SubjectID: a.SubjectID.String(),
		RoleType:  string(a.RoleType),
		Active:    a.IsActive,
		Primary:   a.IsPrimary,
		Version:   a.Version,
		CreatedAt: a.CreatedAt,
		DeletedAt: a.DeletedAt,
	}
	if a.TenantID != nil {
		tenant := a.TenantID.String()
		resp.TenantID = &tenant
	}
	return resp
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req assignRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "INVALID_BODY", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}
	subjectID, err := uuid.Parse(req.SubjectID)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid subject_id")
		return
	}
	params := AssignRoleParams{
		SubjectID:  subjectID,
		RoleType:   RoleType(strings.ToUpper(strings.TrimSpace(req.RoleType))),
		IsPrimary:  req.Primary,
		AssignedBy: actor.SubjectID,
	}
	if req.TenantID != "" {
		tenantID, err := uuid.Parse(req.TenantID)
		if err != nil {
			httpx.Error(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid tenant_id")
			return
		}
		params.TenantID = &tenantID
	}
	created, err := h.store.AssignRole(r.Context(), params)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toAssignmentResponse(created))
}

func (h *Handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	if err := h.store.RevokeRole(r.Context(), id, actor.SubjectID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) reactivateRole(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	assignment, err := h.store.ReactivateRole(r.Context(), id, actor.SubjectID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAssignmentResponse(assignment))
}

type grantResponse struct {
	Key       string    `json:"key"`
	Granted   bool      `json:"granted"`
	GrantedAt time.Time `json:"granted_at"`
	GrantedBy string    `json:"granted_by"`
	Version   int64     `json:"version"`
}

func (h *Handler) listGrants(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	grants, err := h.store.ListGrants(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]grantResponse, 0, len(grants))
	for _, g := range grants {
		out = append(out, grantResponse{
			Key:       string(g.Key),
			Granted:   g.Granted,
			GrantedAt: g.GrantedAt,
			GrantedBy: g.GrantedBy.String(),
			Version:   g.Version,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"grants": out})
}

type upsertGrantRequest struct {
	Granted *bool `json:"granted" validate:"required"`
	Version int64 `json:"version" validate:"gte=0"`
}

func (h *Handler) upsertGrant(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var req upsertGrantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "INVALID_BODY", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}
	grant, err := h.store.UpsertGrant(r.Context(), UpsertGrantParams{
		RoleAssignmentID: id,
		Key:              PermissionKey(strings.ToUpper(chi.URLParam(r, "key"))),
		Granted:          *req.Granted,
		GrantedBy:        actor.SubjectID,
		Version:          req.Version,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, grantResponse{
		Key:       string(grant.Key),
		Granted:   grant.Granted,
		GrantedAt: grant.GrantedAt,
		GrantedBy: grant.GrantedBy.String(),
		Version:   grant.Version,
	})
}

func (h *Handler) revokeGrant(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	key := PermissionKey(strings.ToUpper(chi.URLParam(r, "key")))
	if err := h.store.RevokeGrant(r.Context(), id, key, actor.SubjectID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listRoleGrants(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	roleType := RoleType(strings.ToUpper(chi.URLParam(r, "roleType")))
	grants, err := h.store.ListRoleGrants(r.Context(), actor.TenantID, roleType)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]grantResponse, 0, len(grants))
	for _, g := range grants {
		out = append(out, grantResponse{
			Key:       string(g.Key),
			Granted:   g.Granted,
			GrantedAt: g.GrantedAt,
			GrantedBy: g.GrantedBy.String(),
			Version:   g.Version,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"grants": out})
}

func (h *Handler) upsertRoleGrant(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req upsertGrantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "INVALID_BODY", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}
	grant, err := h.store.UpsertRoleGrant(r.Context(), UpsertRoleGrantParams{
		TenantID:  actor.TenantID,
		RoleType:  RoleType(strings.ToUpper(chi.URLParam(r, "roleType"))),
		Key:       PermissionKey(strings.ToUpper(chi.URLParam(r, "key"))),
		Granted:   *req.Granted,
		GrantedBy: actor.SubjectID,
		Version:   req.Version,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, grantResponse{
		Key:       string(grant.Key),
		Granted:   grant.Granted,
		GrantedAt: grant.GrantedAt,
		GrantedBy: grant.GrantedBy.String(),
		Version:   grant.Version,
	})
}

func (h *Handler) revokeRoleGrant(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	roleType := RoleType(strings.ToUpper(chi.URLParam(r, "roleType")))
	key := PermissionKey(strings.ToUpper(chi.URLParam(r, "key")))
	if err := h.store.RevokeRoleGrant(r.Context(), actor.TenantID, roleType, key, actor.SubjectID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) subjectPermissions(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	tenantID := actor.TenantID
	if raw := r.URL.Query().Get("tenant_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			httpx.Error(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid tenant_id")
			return
		}
		tenantID = parsed
	}
	perms, err := h.resolver.Resolve(r.Context(), id, tenantID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"subject_id":  id.String(),
		"tenant_id":   tenantID.String(),
		"permissions": perms,
	})
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownRole):
		httpx.Error(w, http.StatusNotFound, "UNKNOWN_ROLE", err.Error())
	case errors.Is(err, ErrDuplicateRole):
		httpx.Error(w, http.StatusConflict, "DUPLICATE_ROLE", err.Error())
	case errors.Is(err, ErrInvalidParent):
		httpx.Error(w, http.StatusBadRequest, "INVALID_PARENT", err.Error())
	case errors.Is(err, ErrInvalidPermissionKey):
		httpx.Error(w, http.StatusBadRequest, "INVALID_PERMISSION_KEY", err.Error())
	case errors.Is(err, ErrConcurrentModification):
		httpx.Error(w, http.StatusConflict, "CONCURRENT_MODIFICATION", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Error(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, ErrAuthorizationUnavailable):
		httpx.Error(w, http.StatusServiceUnavailable, "AUTHORIZATION_UNAVAILABLE", "authorization temporarily unavailable")
	default:
		if h.logger != nil {
			h.logger.Error("authz handler", slog.Any("error", err))
		}
		httpx.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}
