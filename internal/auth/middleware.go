package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hearth-ehr/hearth/internal/platform/httpx"
	"github.com/hearth-ehr/hearth/internal/rbac"
)

type responseWriterWithCommit struct {
	http.ResponseWriter
	sess          *Session
	manager       *SessionManager
	ctx           context.Context
	logger        *slog.Logger
	headerWritten bool
}

func (w *responseWriterWithCommit) WriteHeader(statusCode int) {
	if !w.headerWritten {
		w.headerWritten = true
		if err := w.manager.Commit(w.ctx, w.ResponseWriter, w.sess); err != nil && w.logger != nil {
			w.logger.Error("commit session", slog.Any("error", err))
		}
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriterWithCommit) Write(data []byte) (int, error) {
	if !w.headerWritten {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(data)
}

// Authenticator resolves the calling staff member into an rbac.Principal.
type Authenticator struct {
	Sessions *SessionManager
	Tokens   *TokenVerifier
	Logger   *slog.Logger
}

// LoadSession attaches the cookie session to the request and commits it
// before the response header is written.
func (a *Authenticator) LoadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess, err := a.Sessions.Load(ctx, r)
		if err != nil {
			a.logger().Error("failed to load session", slog.Any("error", err))
			httpx.RespondError(w, httpx.ErrUnavailable)
			return
		}
		ctx = ContextWithSession(ctx, sess)
		wrapped := &responseWriterWithCommit{
			ResponseWriter: w,
			sess:           sess,
			manager:        a.Sessions,
			ctx:            ctx,
			logger:         a.Logger,
		}
		next.ServeHTTP(wrapped, r.WithContext(ctx))
	})
}

// errNoCredentials means neither a bearer token nor a signed-in session was presented.
var errNoCredentials = errors.New("auth: no credentials")

// Middleware requires a resolvable principal. Missing or invalid credentials
// yield 401. A stored role outside the known set yields 403 and is logged as
// a misconfiguration; it is never replaced with a default role.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := a.Resolve(r)
		if err != nil {
			var unknown *rbac.UnknownRoleError
			if errors.As(err, &unknown) {
				a.logger().Error("rbac misconfiguration",
					slog.String("principal", principal.ID),
					slog.String("role", unknown.Role),
					slog.String("path", r.URL.Path))
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}
			if !errors.Is(err, errNoCredentials) {
				a.logger().Warn("authentication rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
			}
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
	})
}

// Resolve reads the bearer token first, then the cookie session. On an
// unknown role the returned principal carries only the ID.
func (a *Authenticator) Resolve(r *http.Request) (rbac.Principal, error) {
	if raw, ok := bearerToken(r); ok {
		if a.Tokens == nil {
			return rbac.Principal{}, ErrInvalidToken
		}
		claims, err := a.Tokens.Verify(raw)
		if err != nil {
			return rbac.Principal{}, err
		}
		return principalFor(claims.Subject, claims.Role)
	}
	sess := SessionFromContext(r.Context())
	if sess == nil || sess.StaffID() == "" {
		return rbac.Principal{}, errNoCredentials
	}
	return principalFor(sess.StaffID(), sess.Role())
}

func principalFor(id, rawRole string) (rbac.Principal, error) {
	role, err := rbac.ParseRole(rawRole)
	if err != nil {
		return rbac.Principal{ID: id}, err
	}
	return rbac.Principal{ID: id, Role: role}, nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (a *Authenticator) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
