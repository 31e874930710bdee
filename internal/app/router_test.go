package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/hearth-ehr/hearth/internal/audit"
	"github.com/hearth-ehr/hearth/internal/auth"
	"github.com/hearth-ehr/hearth/internal/clients"
	"github.com/hearth-ehr/hearth/internal/guard"
	guardhttp "github.com/hearth-ehr/hearth/internal/guard/http"
	"github.com/hearth-ehr/hearth/internal/observability"
	"github.com/hearth-ehr/hearth/internal/rbac"
	"github.com/hearth-ehr/hearth/jobs"
	_ "github.com/hearth-ehr/hearth/testing"
)

type emptyClients struct{}

func (emptyClients) List(ctx context.Context, f clients.ListFilter) ([]clients.Client, error) {
	return []clients.Client{}, nil
}

func (emptyClients) Get(ctx context.Context, id uuid.UUID) (clients.Client, error) {
	return clients.Client{ID: id}, nil
}

func (emptyClients) Create(ctx context.Context, c clients.Client) (clients.Client, error) {
	return c, nil
}

func (emptyClients) Update(ctx context.Context, c clients.Client) (clients.Client, clients.Client, error) {
	return c, c, nil
}

func (emptyClients) Delete(ctx context.Context, id uuid.UUID) (clients.Client, error) {
	return clients.Client{ID: id}, nil
}

type noStaff struct{}

func (noStaff) FindByEmail(ctx context.Context, email string) (*auth.Staff, error) {
	return nil, auth.ErrNotFound
}

func (noStaff) CreateSession(ctx context.Context, id, staffID string, expiresAt time.Time, ip, ua string) error {
	return nil
}

func (noStaff) DeleteSession(ctx context.Context, id string) error { return nil }

type harness struct {
	router http.Handler
	sink   *audit.MemorySink
	tokens *auth.TokenVerifier
}

func newHarness(t *testing.T) harness {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	cfg := &Config{AppEnv: "test", AppRequestTimeout: 5 * time.Second, AppRateLimit: 1000}
	metrics := observability.NewMetrics()
	sink := audit.NewMemorySink()
	evaluator := rbac.NewEvaluator(rbac.DefaultTable())
	g := guard.New(evaluator, audit.NewRecorder(sink), guard.WithObserver(metrics))

	tokens := auth.NewTokenVerifier("token-secret", time.Hour)
	authn := &auth.Authenticator{
		Sessions: auth.NewSessionManager(redisClient, "hearth_session", "test-session-secret", time.Hour, false),
		Tokens:   tokens,
	}
	router := NewRouter(RouterParams{
		Config:             cfg,
		Authenticator:      authn,
		AuthHandler:        auth.NewHandler(nil, auth.NewService(noStaff{}), authn),
		ClientsHandler:     clients.NewHandler(nil, clients.NewService(emptyClients{}, g), auth.PrincipalFromRequest),
		PermissionsHandler: rbac.NewPermissionsHandler(nil, evaluator, auth.PrincipalFromRequest),
		JobHandler:         jobs.NewHandler(nil, nil),
		Guard:              guardhttp.Middleware{Guard: g, Principal: auth.PrincipalFromRequest},
		Metrics:            metrics,
	})
	return harness{router: router, sink: sink, tokens: tokens}
}

func (h harness) do(t *testing.T, method, path, role string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if role != "" {
		token, err := h.tokens.Issue(&auth.Staff{ID: "staff-" + role, Role: role})
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	h.router.ServeHTTP(res, req)
	return res
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	res := h.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "nosniff", res.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "no-store", res.Header().Get("Cache-Control"))
}

func TestProtectedRoutesRequireAuthentication(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodGet, "/clients/", "").Code)
	require.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodGet, "/permissions/me", "").Code)
}

func TestClientsListIsAudited(t *testing.T) {
	h := newHarness(t)
	res := h.do(t, http.MethodGet, "/clients/", "clinician")
	require.Equal(t, http.StatusOK, res.Code)

	entries := h.sink.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, "staff-clinician", entries[1].PrincipalID)
	require.Equal(t, audit.OutcomeSuccess, entries[1].Outcome)
}

func TestPermissionMatrixGatedBySettings(t *testing.T) {
	h := newHarness(t)

	res := h.do(t, http.MethodGet, "/permissions/matrix", "clinician")
	require.Equal(t, http.StatusForbidden, res.Code)
	require.Len(t, h.sink.Entries(), 1)

	res = h.do(t, http.MethodGet, "/permissions/matrix", "admin")
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), `"biller"`)
}

func TestCapabilitiesForCaller(t *testing.T) {
	h := newHarness(t)
	res := h.do(t, http.MethodGet, "/permissions/me", "scheduler")
	require.Equal(t, http.StatusOK, res.Code)
	require.JSONEq(t, `{"role":"scheduler","modules":["dashboard","clients","schedule","messaging"]}`, res.Body.String())
}

func TestOpsJobsAdminOnly(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusForbidden, h.do(t, http.MethodGet, "/ops/jobs/health", "supervisor").Code)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/ops/jobs/health", "admin").Code)
}

func TestUnknownRoleTokenIsForbidden(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusForbidden, h.do(t, http.MethodGet, "/clients/", "guest").Code)
	require.Empty(t, h.sink.Entries())
}
