package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/hearth-ehr/hearth/internal/platform/httpx"
	"github.com/hearth-ehr/hearth/internal/rbac"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *SessionManager
	tokens         *TokenVerifier
	authenticator  *Authenticator
	validator      *validator.Validate
	loginLimit     int
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, authenticator *Authenticator) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: authenticator.Sessions,
		tokens:         authenticator.Tokens,
		authenticator:  authenticator,
		validator:      validator.New(),
		loginLimit:     10,
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(httprate.Limit(h.loginLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))).
		Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.With(h.authenticator.Middleware).Get("/me", h.handleMe)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type loginResponse struct {
	StaffID   string    `json:"staff_id"`
	Role      rbac.Role `json:"role"`
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed login payload")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := h.validator.Struct(req); err != nil {
		fields := make([]string, 0)
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fieldErr := range verrs {
				fields = append(fields, strings.ToLower(fieldErr.Field()))
			}
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid fields: "+strings.Join(fields, ", "))
		return
	}

	staff, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", ErrInvalidCredentials.Error())
		return
	}
	role, err := rbac.ParseRole(staff.Role)
	if err != nil {
		h.logger.Error("rbac misconfiguration",
			slog.String("principal", staff.ID),
			slog.String("role", staff.Role),
			slog.String("path", r.URL.Path))
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}

	sess := SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.RespondError(w, httpx.ErrUnavailable)
		return
	}
	sess.SignIn(staff.ID, string(role))
	expiresAt := time.Now().Add(h.sessionManager.TTL()).UTC()
	if err := h.service.RegisterSession(r.Context(), sess.ID, staff.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}

	resp := loginResponse{StaffID: staff.ID, Role: role, ExpiresAt: expiresAt}
	if h.tokens != nil {
		token, err := h.tokens.Issue(staff)
		if err != nil {
			h.logger.Warn("issue token", slog.Any("error", err))
		} else {
			resp.Token = token
		}
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	if sess != nil && sess.StaffID() != "" {
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		h.sessionManager.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}

type meResponse struct {
	StaffID string    `json:"staff_id"`
	Role    rbac.Role `json:"role"`
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	httpx.JSON(w, http.StatusOK, meResponse{StaffID: principal.ID, Role: principal.Role})
}
