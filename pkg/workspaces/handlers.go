package workspaces

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/psychon7/vibe-kanban/pkg/auth"
	"github.com/psychon7/vibe-kanban/pkg/httputil"
	"github.com/psychon7/vibe-kanban/pkg/observability"
	"github.com/psychon7/vibe-kanban/pkg/rbac"
)

// Handlers exposes the workspace, membership and invitation API.
type Handlers struct {
	service *Service
	logger  *observability.Logger
}

// NewHandlers creates the HTTP layer over the service.
func NewHandlers(service *Service, logger *observability.Logger) *Handlers {
	return &Handlers{service: service, logger: logger}
}

// RegisterRoutes mounts the API on the router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/workspaces", h.CreateWorkspace).Methods(http.MethodPost)
	router.HandleFunc("/workspaces", h.ListWorkspaces).Methods(http.MethodGet)
	router.HandleFunc("/workspaces/{workspace_id}", h.GetWorkspace).Methods(http.MethodGet)
	router.HandleFunc("/workspaces/{workspace_id}", h.UpdateWorkspace).Methods(http.MethodPatch)
	router.HandleFunc("/workspaces/{workspace_id}", h.DeleteWorkspace).Methods(http.MethodDelete)

	router.HandleFunc("/workspaces/{workspace_id}/members", h.ListMembers).Methods(http.MethodGet)
	router.HandleFunc("/workspaces/{workspace_id}/members", h.AddMember).Methods(http.MethodPost)
	router.HandleFunc("/workspaces/{workspace_id}/members/{user_id}", h.UpdateMemberRole).Methods(http.MethodPatch)
	router.HandleFunc("/workspaces/{workspace_id}/members/{user_id}", h.RemoveMember).Methods(http.MethodDelete)
	router.HandleFunc("/workspaces/{workspace_id}/permissions", h.EffectivePermissions).Methods(http.MethodGet)
	router.HandleFunc("/workspaces/{workspace_id}/access", h.CheckAccess).Methods(http.MethodGet)

	router.HandleFunc("/workspaces/{workspace_id}/invitations", h.CreateInvitation).Methods(http.MethodPost)
	router.HandleFunc("/workspaces/{workspace_id}/invitations", h.ListInvitations).Methods(http.MethodGet)
	router.HandleFunc("/workspaces/{workspace_id}/invitations/{invitation_id}", h.RevokeInvitation).Methods(http.MethodDelete)

	router.HandleFunc("/invitations/{token}", h.PreviewInvitation).Methods(http.MethodGet)
	router.HandleFunc("/invitations/{token}/accept", h.AcceptInvitation).Methods(http.MethodPost)
}

// writeServiceError is the single place service errors turn into
// HTTP statuses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrNoPrincipal):
		httputil.WriteUnauthorized(w, "authentication required")
	case rbac.IsDenied(err), errors.Is(err, rbac.ErrNotMember), errors.Is(err, rbac.ErrSystemRole):
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, ErrWorkspaceNotFound),
		errors.Is(err, ErrMemberNotFound),
		errors.Is(err, ErrInvitationNotFound),
		errors.Is(err, rbac.ErrRoleNotFound),
		errors.Is(err, rbac.ErrPermissionNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, ErrAlreadyMember),
		errors.Is(err, ErrPendingInvitationExists),
		errors.Is(err, ErrLastOwner),
		errors.Is(err, ErrLastOwnerRoleChange),
		errors.Is(err, ErrInvitationInvalid),
		errors.Is(err, rbac.ErrRoleInUse):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, ErrSelfAction), errors.Is(err, ErrInvitationExpired):
		httputil.WriteBadRequest(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Error("request failed")
		httputil.WriteInternalError(w, errors.New("internal server error"))
	}
}

func (h *Handlers) principal(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	p, err := auth.FromContext(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return nil, false
	}
	return p, true
}

func (h *Handlers) workspaceID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["workspace_id"])
	if err != nil {
		httputil.WriteBadRequest(w, "invalid workspace ID")
		return uuid.Nil, false
	}
	return id, true
}

type createWorkspaceRequest struct {
	Name string `json:"name"`
}

func (h *Handlers) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req createWorkspaceRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	ws, err := h.service.CreateWorkspace(r.Context(), caller, req.Name)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, ws)
}

func (h *Handlers) ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	workspaces, err := h.service.ListWorkspaces(r.Context(), caller)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if workspaces == nil {
		workspaces = []*Workspace{}
	}
	httputil.WriteSuccess(w, workspaces)
}

func (h *Handlers) GetWorkspace(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	workspaceID, ok := h.workspaceID(w, r)
	if !ok {
		return
	}
	ws, err := h.service.GetWorkspace(r.Context(), caller, workspaceID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, ws)
}

func (h *Handlers) UpdateWorkspace(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	workspaceID, ok := h.workspaceID(w, r)
	if !ok {
		return
	}
	var req createWorkspaceRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	ws, err := h.service.UpdateWorkspace(r.Context(), caller, workspaceID, req.Name)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, ws)
}

func (h *Handlers) DeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	workspaceID, ok := h.workspaceID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteWorkspace(r.Context(), caller, workspaceID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	workspaceID, ok := h.workspaceID(w, r)
	if !ok {
		return
	}
	members, err := h.service.ListMembers(r.Context(), caller, workspaceID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if members == nil {
		members = []*Member{}
	}
	httputil.WriteSuccess(w, members)
}

type addMemberRequest struct {
	UserID string    `json:"user_id"`
	RoleID uuid.UUID `json:"role_id"`
}

func (h *Handlers) AddMember(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	workspaceID, ok := h.workspaceID(w, r)
	if !ok {
		return
	}
	var req addMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == "" {
		httputil.WriteBadRequest(w, "user_id is required")
		return
	}
	if err := h.service.AddMember(r.Context(), caller, workspaceID, req.UserID, req.RoleID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	member, err := h.service.GetMember(r.Context(), caller, workspaceID, req.UserID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, member)
}

type updateMemberRoleRequest struct {
	RoleID uuid.UUID `json:"role_id"`
}

func (h *Handlers) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	workspaceID, ok := h.workspaceID(w, r)
	if !ok {
		return
	}
	targetUserID := mux.Vars(r)["user_id"]

	var req updateMemberRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := h.service.UpdateMemberRole(r.Context(), caller, workspaceID, targetUserID, req.RoleID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	member, err := h.service.GetMember(r.Context(), caller, workspaceID, targetUserID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, member)
}

func (h *Handlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	workspaceID, ok := h.workspaceID(w, r)
	if !ok {
		return
	}
	targetUserID := mux.Vars(r)["user_id"]

	if err := h.service.RemoveMember(r.Context(), caller, workspaceID, targetUserID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) EffectivePermissions(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	workspaceID, ok := h.workspaceID(w, r)
	if !ok {
		return
	}
	grants, err := h.service.EffectivePermissions(r.Context(), caller, workspaceID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, grants)
}

type checkAccessResponse struct {
	Allowed bool `json:"allowed"`
}

// CheckAccess answers whether the caller may perform an action,
// consulting the own-variant permission when a resource is named.
func (h *Handlers) CheckAccess(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	workspaceID, ok := h.workspaceID(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	permission := query.Get("permission")
	if permission == "" {
		httputil.WriteBadRequest(w, "permission is required")
		return
	}
	resource := query.Get("resource")
	var resourceID uuid.UUID
	if raw := query.Get("resource_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid resource ID")
			return
		}
		resourceID = id
	}
	allowed, err := h.service.CanAccessResource(r.Context(), caller, workspaceID, permission, resource, resourceID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, checkAccessResponse{Allowed: allowed})
}

type createInvitationRequest struct {
	Email  string    `json:"email"`
	RoleID uuid.UUID `json:"role_id"`
}

func (h *Handlers) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	workspaceID, ok := h.workspaceID(w, r)
	if !ok {
		return
	}
	var req createInvitationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	inv, err := h.service.InviteMember(r.Context(), caller, workspaceID, req.Email, req.RoleID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, inv)
}

func (h *Handlers) ListInvitations(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	workspaceID, ok := h.workspaceID(w, r)
	if !ok {
		return
	}
	status := r.URL.Query().Get("status")
	invitations, err := h.service.ListInvitations(r.Context(), caller, workspaceID, status)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if invitations == nil {
		invitations = []*Invitation{}
	}
	httputil.WriteSuccess(w, invitations)
}

func (h *Handlers) RevokeInvitation(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	workspaceID, ok := h.workspaceID(w, r)
	if !ok {
		return
	}
	invitationID, err := uuid.Parse(mux.Vars(r)["invitation_id"])
	if err != nil {
		httputil.WriteBadRequest(w, "invalid invitation ID")
		return
	}
	if err := h.service.RevokeInvitation(r.Context(), caller, workspaceID, invitationID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) PreviewInvitation(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	preview, err := h.service.PreviewInvitation(r.Context(), token)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, preview)
}

func (h *Handlers) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.principal(w, r)
	if !ok {
		return
	}
	token := mux.Vars(r)["token"]
	member, err := h.service.AcceptInvitation(r.Context(), caller, token)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, member)
}
