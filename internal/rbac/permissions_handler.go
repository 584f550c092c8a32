package rbac

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-sync/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-sync/internal/shared"
)

// PermissionsHandler exposes the caller's integration permissions so clients
// can hide actions they cannot perform.
type PermissionsHandler struct {
	logger  *slog.Logger
	rbac    Middleware
	catalog PermissionCatalog
}

// NewPermissionsHandler builds PermissionsHandler instance. catalog may be
// nil, in which case only /me is served.
func NewPermissionsHandler(logger *slog.Logger, rbac Middleware, catalog PermissionCatalog) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, rbac: rbac, catalog: catalog}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	if h.catalog != nil {
		r.Get("/", h.list)
	}
	r.Get("/me", h.mine)
}

// list returns the integration permissions with their descriptions.
func (h *PermissionsHandler) list(w http.ResponseWriter, r *http.Request) {
	all, err := h.catalog.ListPermissions(r.Context())
	if err != nil {
		h.logger.Error("list permission catalog", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	scopes := permissionSet(shared.IntegrationScopes())
	out := make([]Permission, 0, len(scopes))
	for _, p := range all {
		if _, ok := scopes[p.Name]; ok {
			out = append(out, p)
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *PermissionsHandler) mine(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "session required")
		return
	}
	granted, err := h.rbac.Permissions(r.Context(), principal.UserID)
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	set := permissionSet(granted)
	scoped := make([]string, 0, len(shared.IntegrationScopes()))
	for _, p := range shared.IntegrationScopes() {
		if _, ok := set[p]; ok {
			scoped = append(scoped, p)
		}
	}
	sort.Strings(scoped)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"userId":      principal.UserID,
		"tenantId":    principal.TenantID,
		"permissions": scoped,
	})
}
