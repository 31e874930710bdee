package guardhttp_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/hearth-ehr/hearth/internal/audit"
	"github.com/hearth-ehr/hearth/internal/guard"
	guardhttp "github.com/hearth-ehr/hearth/internal/guard/http"
	"github.com/hearth-ehr/hearth/internal/platform/httpx"
	"github.com/hearth-ehr/hearth/internal/rbac"
)

func decodeProblem(t *testing.T, res *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	var p httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &p))
	return p
}

func TestRespondMapsGuardErrors(t *testing.T) {
	malformed := fmt.Errorf("%w: %w", guard.ErrForbidden, &rbac.UnknownRoleError{Role: "guest"})
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"forbidden", guard.ErrForbidden, http.StatusForbidden},
		{"malformed", malformed, http.StatusForbidden},
		{"unauthenticated", guard.ErrUnauthenticated, http.StatusUnauthorized},
		{"audit", &audit.WriteError{Err: errors.New("down")}, http.StatusServiceUnavailable},
		{"not found", fmt.Errorf("client: %w", httpx.ErrNotFound), http.StatusNotFound},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := httptest.NewRecorder()
			guardhttp.Respond(res, tc.err)
			require.Equal(t, tc.status, res.Code)
			require.Equal(t, "application/problem+json", res.Header().Get("Content-Type"))
		})
	}
}

func TestRespondForbiddenDisclosesNothing(t *testing.T) {
	malformed := fmt.Errorf("%w: %w", guard.ErrForbidden, &rbac.UnknownRoleError{Role: "guest"})
	res := httptest.NewRecorder()
	guardhttp.Respond(res, malformed)

	p := decodeProblem(t, res)
	require.Equal(t, "Forbidden", p.Title)
	require.NotContains(t, res.Body.String(), "guest")
	require.NotContains(t, res.Body.String(), "role")
}

func TestRequestFromStripsPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/clients", nil)
	req.RemoteAddr = "192.168.1.20:51234"
	req.Header.Set("User-Agent", "hearth-test")

	gr := guardhttp.RequestFrom(req, rbac.Principal{ID: "staff-1", Role: rbac.RoleAdmin})
	require.Equal(t, "192.168.1.20", gr.IPAddress)
	require.Equal(t, "hearth-test", gr.UserAgent)
	require.Equal(t, "staff-1", gr.Principal.ID)

	req.RemoteAddr = "10.1.1.1"
	require.Equal(t, "10.1.1.1", guardhttp.RequestFrom(req, rbac.Principal{}).IPAddress)
}

func newRouter(t *testing.T, sink *audit.MemorySink, principal rbac.Principal) http.Handler {
	t.Helper()
	g := guard.New(rbac.NewEvaluator(rbac.DefaultTable()), audit.NewRecorder(sink))
	mw := guardhttp.Middleware{
		Guard: g,
		Principal: func(r *http.Request) (rbac.Principal, bool) {
			return principal, principal.ID != ""
		},
	}
	r := chi.NewRouter()
	r.Route("/billing", func(r chi.Router) {
		r.Use(mw.Require(rbac.ModuleBilling))
		r.Get("/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	})
	r.Route("/settings", func(r chi.Router) {
		r.Use(mw.Require(rbac.ModuleSettings, rbac.RoleAdmin))
		r.Put("/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	})
	return r
}

func TestRequireAllowsPermittedRole(t *testing.T) {
	sink := audit.NewMemorySink()
	router := newRouter(t, sink, rbac.Principal{ID: "staff-4", Role: rbac.RoleBiller})

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/billing/", nil))
	require.Equal(t, http.StatusNoContent, res.Code)
	require.Empty(t, sink.Entries())
}

func TestRequireDeniesAndAudits(t *testing.T) {
	sink := audit.NewMemorySink()
	router := newRouter(t, sink, rbac.Principal{ID: "staff-7", Role: rbac.RoleClinician})

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/billing/", nil))
	require.Equal(t, http.StatusForbidden, res.Code)

	entries := sink.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, audit.OutcomeDenied, entries[0].Outcome)
	require.Equal(t, "billing", entries[0].Module)
	require.Equal(t, audit.ActionRead, entries[0].Action)
}

func TestRequireAppliesRoleList(t *testing.T) {
	sink := audit.NewMemorySink()
	router := newRouter(t, sink, rbac.Principal{ID: "staff-2", Role: rbac.RoleSupervisor})

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodPut, "/settings/", nil))
	require.Equal(t, http.StatusForbidden, res.Code)
	require.Equal(t, audit.ActionUpdate, sink.Entries()[0].Action)
}

func TestRequireRejectsAnonymous(t *testing.T) {
	sink := audit.NewMemorySink()
	router := newRouter(t, sink, rbac.Principal{})

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/billing/", nil))
	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestRequireRejectsUnknownRole(t *testing.T) {
	sink := audit.NewMemorySink()
	router := newRouter(t, sink, rbac.Principal{ID: "staff-9", Role: "guest"})

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/billing/", nil))
	require.Equal(t, http.StatusForbidden, res.Code)
	require.Equal(t, audit.SeverityCritical, sink.Entries()[0].Severity)
}
