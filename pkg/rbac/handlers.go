package rbac

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/psychon7/vibe-kanban/pkg/auth"
	"github.com/psychon7/vibe-kanban/pkg/httputil"
	"github.com/psychon7/vibe-kanban/pkg/observability"
)

// Handlers exposes the role and permission catalog API. Reads are
// open to any authenticated caller; catalog mutations are only
// mounted when role management is enabled for the install.
type Handlers struct {
	store           *Store
	logger          *observability.Logger
	allowManagement bool
}

// NewHandlers creates the catalog HTTP layer.
func NewHandlers(store *Store, logger *observability.Logger, allowManagement bool) *Handlers {
	return &Handlers{store: store, logger: logger, allowManagement: allowManagement}
}

// RegisterRoutes mounts the catalog API on the router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/roles", h.ListRoles).Methods(http.MethodGet)
	router.HandleFunc("/roles/{role_id}", h.GetRole).Methods(http.MethodGet)
	router.HandleFunc("/roles/{role_id}/permissions", h.RolePermissions).Methods(http.MethodGet)
	router.HandleFunc("/permissions", h.ListPermissions).Methods(http.MethodGet)

	if h.allowManagement {
		router.HandleFunc("/roles", h.CreateRole).Methods(http.MethodPost)
		router.HandleFunc("/roles/{role_id}", h.UpdateRole).Methods(http.MethodPatch)
		router.HandleFunc("/roles/{role_id}", h.DeleteRole).Methods(http.MethodDelete)
		router.HandleFunc("/roles/{role_id}/permissions/{key}", h.GrantPermission).Methods(http.MethodPut)
		router.HandleFunc("/roles/{role_id}/permissions/{key}", h.RevokePermission).Methods(http.MethodDelete)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrNoPrincipal):
		httputil.WriteUnauthorized(w, "authentication required")
	case errors.Is(err, ErrRoleNotFound), errors.Is(err, ErrPermissionNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, ErrSystemRole):
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, ErrRoleInUse):
		httputil.WriteConflict(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Error("catalog request failed")
		httputil.WriteInternalError(w, errors.New("internal server error"))
	}
}

func (h *Handlers) requireAuth(w http.ResponseWriter, r *http.Request) bool {
	if _, err := auth.FromContext(r.Context()); err != nil {
		h.writeError(w, r, err)
		return false
	}
	return true
}

func (h *Handlers) roleID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["role_id"])
	if err != nil {
		httputil.WriteBadRequest(w, "invalid role ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	if !h.requireAuth(w, r) {
		return
	}
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if roles == nil {
		roles = []*Role{}
	}
	httputil.WriteSuccess(w, roles)
}

func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	if !h.requireAuth(w, r) {
		return
	}
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	role, err := h.store.GetRole(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

func (h *Handlers) RolePermissions(w http.ResponseWriter, r *http.Request) {
	if !h.requireAuth(w, r) {
		return
	}
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	if _, err := h.store.GetRole(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	keys, err := h.store.RolePermissionKeys(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"role_id": id, "permissions": keys})
}

func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	if !h.requireAuth(w, r) {
		return
	}
	var (
		perms []*Permission
		err   error
	)
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = r.URL.Query().Get("category")
	}
	if prefix != "" {
		perms, err = h.store.ListPermissionsByPrefix(r.Context(), prefix)
	} else {
		perms, err = h.store.ListPermissions(r.Context())
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if perms == nil {
		perms = []*Permission{}
	}
	httputil.WriteSuccess(w, perms)
}

type roleRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	if !h.requireAuth(w, r) {
		return
	}
	var req roleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == nil || *req.Name == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}
	desc := ""
	if req.Description != nil {
		desc = *req.Description
	}
	role, err := h.store.CreateRole(r.Context(), *req.Name, desc)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, role)
}

func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	if !h.requireAuth(w, r) {
		return
	}
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	var req roleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	role, err := h.store.UpdateRole(r.Context(), id, req.Name, req.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	if !h.requireAuth(w, r) {
		return
	}
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteRole(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) GrantPermission(w http.ResponseWriter, r *http.Request) {
	if !h.requireAuth(w, r) {
		return
	}
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	key := mux.Vars(r)["key"]
	if err := h.store.GrantPermission(r.Context(), id, key); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) RevokePermission(w http.ResponseWriter, r *http.Request) {
	if !h.requireAuth(w, r) {
		return
	}
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	key := mux.Vars(r)["key"]
	if err := h.store.RevokePermission(r.Context(), id, key); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
