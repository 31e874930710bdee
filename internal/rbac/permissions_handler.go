package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hearth-ehr/hearth/internal/platform/httpx"
)

// PrincipalFunc extracts the authenticated principal from a request.
type PrincipalFunc func(r *http.Request) (Principal, bool)

// PermissionsHandler exposes the permission table and the caller's capabilities.
type PermissionsHandler struct {
	logger    *slog.Logger
	evaluator *Evaluator
	principal PrincipalFunc
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, evaluator *Evaluator, principal PrincipalFunc) *PermissionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionsHandler{logger: logger, evaluator: evaluator, principal: principal}
}

// MountMatrix registers the full role matrix listing. Callers gate it behind a module check.
func (h *PermissionsHandler) MountMatrix(r chi.Router) {
	r.Get("/", h.listMatrix)
}

// MountSelf registers the current principal's capability listing.
func (h *PermissionsHandler) MountSelf(r chi.Router) {
	r.Get("/me", h.me)
}

type roleRow struct {
	Role    Role            `json:"role"`
	Modules map[Module]bool `json:"modules"`
}

func (h *PermissionsHandler) listMatrix(w http.ResponseWriter, r *http.Request) {
	table := h.evaluator.Table()
	rows := make([]roleRow, 0, len(allRoles))
	for _, role := range table.Roles() {
		set, _ := table.Lookup(role)
		flags := make(map[Module]bool, len(allModules))
		for _, m := range allModules {
			flags[m], _ = set.Allows(m)
		}
		rows = append(rows, roleRow{Role: role, Modules: flags})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": rows})
}

func (h *PermissionsHandler) me(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(r)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	modules, err := h.evaluator.Capabilities(principal.Role)
	if err != nil {
		h.logger.Error("rbac misconfiguration", slog.String("principal", principal.ID), slog.Any("error", err))
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": principal.Role, "modules": modules})
}
