package clients

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hearth-ehr/hearth/internal/audit"
	"github.com/hearth-ehr/hearth/internal/guard"
	guardhttp "github.com/hearth-ehr/hearth/internal/guard/http"
	"github.com/hearth-ehr/hearth/internal/platform/httpx"
	"github.com/hearth-ehr/hearth/internal/rbac"
)

// Handler exposes client records over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	principal rbac.PrincipalFunc
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, principal rbac.PrincipalFunc) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, principal: principal}
}

// MountRoutes registers client routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
}

func (h *Handler) request(r *http.Request) guard.Request {
	var p rbac.Principal
	if h.principal != nil {
		p, _ = h.principal(r)
	}
	return guardhttp.RequestFrom(r, p)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	out, err := h.service.List(r.Context(), h.request(r), ListFilter{Search: q.Get("search"), Limit: limit, Offset: offset})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"clients": out})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.clientID(w, r)
	if !ok {
		return
	}
	out, err := h.service.Get(r.Context(), h.request(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed client payload")
		return
	}
	out, err := h.service.Create(r.Context(), h.request(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/clients/"+out.ID.String())
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.clientID(w, r)
	if !ok {
		return
	}
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed client payload")
		return
	}
	out, err := h.service.Update(r.Context(), h.request(r), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.clientID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), h.request(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clientID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid client id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, guard.ErrForbidden), errors.Is(err, guard.ErrUnauthenticated),
		errors.Is(err, httpx.ErrNotFound), errors.Is(err, httpx.ErrValidation), errors.Is(err, httpx.ErrDuplicate):
	case errors.Is(err, audit.ErrAuditWrite):
		h.logger.Error("client operation not audited", slog.String("path", r.URL.Path), slog.Any("error", err))
	default:
		h.logger.Error("client operation failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	guardhttp.Respond(w, err)
}
