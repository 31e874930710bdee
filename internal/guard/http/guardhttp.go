// Package guardhttp adapts the guard pipeline to chi routes.
package guardhttp

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hearth-ehr/hearth/internal/audit"
	"github.com/hearth-ehr/hearth/internal/guard"
	"github.com/hearth-ehr/hearth/internal/platform/httpx"
	"github.com/hearth-ehr/hearth/internal/rbac"
)

// Respond writes the problem response for an error returned by guard.Run.
// Denials never disclose the module, role or reason.
func Respond(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, guard.ErrUnauthenticated):
		httpx.RespondError(w, httpx.ErrUnauthorized)
	case errors.Is(err, guard.ErrForbidden):
		httpx.RespondError(w, httpx.ErrForbidden)
	case errors.Is(err, audit.ErrAuditWrite):
		httpx.RespondError(w, httpx.ErrUnavailable)
	default:
		httpx.RespondError(w, err)
	}
}

// RequestFrom builds guard request metadata from r.
func RequestFrom(r *http.Request, principal rbac.Principal) guard.Request {
	return guard.Request{
		Principal: principal,
		IPAddress: clientIP(r.RemoteAddr),
		UserAgent: r.UserAgent(),
	}
}

func clientIP(remote string) string {
	remote = strings.TrimSpace(remote)
	if host, _, err := net.SplitHostPort(remote); err == nil {
		return host
	}
	return remote
}

// Middleware gates whole route groups by module. Use it for routes that are
// not individually sensitive; sensitive handlers call guard.Run themselves.
type Middleware struct {
	Guard     *guard.Guard
	Principal rbac.PrincipalFunc
	Logger    *slog.Logger
}

// Require admits requests whose principal may open module and, when roles are
// given, holds one of them. Denials are audited; allowed requests are not.
func (m Middleware) Require(module rbac.Module, roles ...rbac.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var principal rbac.Principal
			if m.Principal != nil {
				principal, _ = m.Principal(r)
			}
			op := guard.Operation{
				Name:         routeName(r),
				Module:       module,
				Action:       actionFor(r.Method),
				ResourceType: "route",
				AllowedRoles: roles,
			}
			if err := m.Guard.Authorize(r.Context(), RequestFrom(r, principal), op); err != nil {
				if m.Logger != nil && !errors.Is(err, guard.ErrForbidden) && !errors.Is(err, guard.ErrUnauthenticated) {
					m.Logger.Error("guard middleware", slog.Any("error", err))
				}
				Respond(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func routeName(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return r.Method + " " + pattern
		}
	}
	return r.Method + " " + r.URL.Path
}

func actionFor(method string) audit.Action {
	switch method {
	case http.MethodPost:
		return audit.ActionCreate
	case http.MethodPut, http.MethodPatch:
		return audit.ActionUpdate
	case http.MethodDelete:
		return audit.ActionDelete
	default:
		return audit.ActionRead
	}
}
