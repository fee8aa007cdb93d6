package auth

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/brightcast/brightcast/internal/authz"
	"github.com/brightcast/brightcast/internal/platform/httpx"
	"github.com/brightcast/brightcast/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	mw        Middleware
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, mw Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		mw:        mw,
		validator: validator.New(),
	}
}

// MountRoutes registers auth routes on the provided router. Login
// endpoints carry their own per-IP throttle on top of the global rate
// limit.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(10, time.Minute))
		r.Post("/login", h.login)
		r.Post("/device/login", h.deviceLogin)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.Authenticate)
		r.Post("/logout", h.logout)
		r.Get("/me", h.me)
	})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type deviceLoginRequest struct {
	Key string `json:"key" validate:"required"`
}

type principalPayload struct {
	ID          int64  `json:"id"`
	Class       string `json:"class"`
	Role        string `json:"role,omitempty"`
	CompanyID   int64  `json:"company_id,omitempty"`
	CompanyType string `json:"company_type,omitempty"`
}

type sessionResponse struct {
	Token       string           `json:"token"`
	ExpiresAt   time.Time        `json:"expires_at"`
	Principal   principalPayload `json:"principal"`
	Permissions []string         `json:"permissions"`
	Navigation  []authz.NavKey   `json:"navigation"`
}

type meResponse struct {
	Principal   principalPayload `json:"principal"`
	Permissions []string         `json:"permissions"`
	Navigation  []authz.NavKey   `json:"navigation"`
	ExpiresAt   time.Time        `json:"expires_at"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", shared.ValidationDetail(err))
		return
	}

	res, err := h.service.LoginUser(r.Context(), req.Email, req.Password, r.RemoteAddr, r.UserAgent())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSessionResponse(res))
}

func (h *Handler) deviceLogin(w http.ResponseWriter, r *http.Request) {
	var req deviceLoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", shared.ValidationDetail(err))
		return
	}

	res, err := h.service.LoginDevice(r.Context(), req.Key, r.RemoteAddr, r.UserAgent())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSessionResponse(res))
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	if err := h.service.Logout(r.Context(), id); err != nil {
		h.logger.Error("logout", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	if id == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	httpx.JSON(w, http.StatusOK, meResponse{
		Principal:   toPrincipalPayload(id.Role),
		Permissions: authz.PermissionsFor(id.Role).Strings(),
		Navigation:  authz.NavigationFor(id.Role),
		ExpiresAt:   id.ExpiresAt,
	})
}

func toSessionResponse(res *LoginResult) sessionResponse {
	return sessionResponse{
		Token:       res.Token,
		ExpiresAt:   res.ExpiresAt,
		Principal:   toPrincipalPayload(res.Identity.Role),
		Permissions: authz.PermissionsFor(res.Identity.Role).Strings(),
		Navigation:  authz.NavigationFor(res.Identity.Role),
	}
}

func toPrincipalPayload(er authz.EffectiveRole) principalPayload {
	p := principalPayload{
		ID:        er.PrincipalID,
		Class:     string(er.Class),
		CompanyID: er.CompanyID,
	}
	if er.Class == authz.ClassCompanyUser {
		p.Role = string(er.Role)
		p.CompanyType = string(er.CompanyType)
	}
	return p
}

