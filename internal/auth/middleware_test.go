package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hearth-ehr/hearth/internal/auth"
	"github.com/hearth-ehr/hearth/internal/rbac"
)

func protected(authn *auth.Authenticator) http.Handler {
	return authn.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFromRequest(r)
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.Header().Set("X-Principal", p.ID+"/"+string(p.Role))
		w.WriteHeader(http.StatusOK)
	}))
}

func TestBearerTokenResolvesPrincipal(t *testing.T) {
	tokens := auth.NewTokenVerifier("token-secret", time.Hour)
	token, err := tokens.Issue(&auth.Staff{ID: "staff-1", Role: "Supervisor"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	protected(&auth.Authenticator{Tokens: tokens}).ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "staff-1/"+string(rbac.RoleSupervisor), res.Header().Get("X-Principal"))
}

func TestBearerTokenWithUnknownRoleIsForbidden(t *testing.T) {
	tokens := auth.NewTokenVerifier("token-secret", time.Hour)
	token, err := tokens.Issue(&auth.Staff{ID: "staff-1", Role: "superuser"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	protected(&auth.Authenticator{Tokens: tokens}).ServeHTTP(res, req)

	require.Equal(t, http.StatusForbidden, res.Code)
	require.NotContains(t, res.Body.String(), "superuser")
}

func TestInvalidBearerTokenIsUnauthorized(t *testing.T) {
	issuer := auth.NewTokenVerifier("other-secret", time.Hour)
	token, err := issuer.Issue(&auth.Staff{ID: "staff-1", Role: "admin"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	protected(&auth.Authenticator{Tokens: auth.NewTokenVerifier("token-secret", time.Hour)}).ServeHTTP(res, req)

	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestExpiredTokenRejected(t *testing.T) {
	tokens := auth.NewTokenVerifier("token-secret", -time.Minute)
	token, err := tokens.Issue(&auth.Staff{ID: "staff-1", Role: "admin"})
	require.NoError(t, err)

	_, err = tokens.Verify(token)
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestMissingSecretRejectsTokens(t *testing.T) {
	tokens := auth.NewTokenVerifier("", time.Hour)
	_, err := tokens.Issue(&auth.Staff{ID: "staff-1", Role: "admin"})
	require.Error(t, err)
	_, err = tokens.Verify("abc.def.ghi")
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}
