package companies

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/brightcast/brightcast/internal/auth"
	"github.com/brightcast/brightcast/internal/authz"
	"github.com/brightcast/brightcast/internal/platform/httpx"
	"github.com/brightcast/brightcast/internal/shared"
)

// Handler serves the tenant management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	mw        auth.Middleware
	validator *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service, mw auth.Middleware) *Handler {
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

// MountRoutes registers the company routes. Device tokens never reach
// this surface.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.mw.Authenticate)
	r.Use(h.mw.RequireClass(authz.ClassSuperUser, authz.ClassCompanyUser))

	r.With(h.mw.RequirePermission(authz.ResourceCompany, authz.ActionView)).Get("/", h.list)
	r.With(h.mw.RequirePermission(authz.ResourceCompany, authz.ActionCreate)).Post("/", h.create)
	r.With(h.mw.RequirePermission(authz.ResourceCompany, authz.ActionView)).Get("/{companyID}", h.get)
	r.With(h.mw.RequirePermission(authz.ResourceCompany, authz.ActionEdit)).Put("/{companyID}", h.update)
	r.With(h.mw.RequirePermission(authz.ResourceCompany, authz.ActionManage)).Put("/{companyID}/limits", h.updateLimits)
	r.With(h.mw.RequirePermission(authz.ResourceCompany, authz.ActionManage)).Post("/{companyID}/suspend", h.suspend)
	r.With(h.mw.RequirePermission(authz.ResourceCompany, authz.ActionManage)).Post("/{companyID}/activate", h.activate)
	r.With(h.mw.RequirePermission(authz.ResourceCompany, authz.ActionDelete)).Delete("/{companyID}", h.remove)
}

type companyResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Active    bool      `json:"active"`
	Limits    Limits    `json:"limits"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type listResponse struct {
	Companies  []companyResponse `json:"companies"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	page, perPage := shared.ParsePagination(r)

	req := ListCompaniesRequest{
		Type:    r.URL.Query().Get("type"),
		Search:  r.URL.Query().Get("search"),
		Page:    page,
		PerPage: perPage,
	}
	if v := r.URL.Query().Get("active"); v != "" {
		active := v == "true"
		req.Active = &active
	}

	companies, pagination, err := h.service.List(r.Context(), id.Role, req)
	if err != nil {
		h.logger.Error("list companies", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]companyResponse, 0, len(companies))
	for _, c := range companies {
		out = append(out, toCompanyResponse(c))
	}
	httpx.JSON(w, http.StatusOK, listResponse{Companies: out, Pagination: pagination})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	companyID, err := idParam(r, "companyID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid company id")
		return
	}
	c, err := h.service.Get(r.Context(), id.Role, companyID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCompanyResponse(*c))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	var req CreateCompanyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", shared.ValidationDetail(err))
		return
	}
	c, err := h.service.Create(r.Context(), id.Role, req)
	if err != nil {
		h.logger.Error("create company", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toCompanyResponse(*c))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	companyID, err := idParam(r, "companyID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid company id")
		return
	}
	var req UpdateCompanyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", shared.ValidationDetail(err))
		return
	}
	c, err := h.service.Update(r.Context(), id.Role, companyID, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCompanyResponse(*c))
}

func (h *Handler) updateLimits(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	companyID, err := idParam(r, "companyID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid company id")
		return
	}
	var req Limits
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", shared.ValidationDetail(err))
		return
	}
	c, err := h.service.UpdateLimits(r.Context(), id.Role, companyID, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCompanyResponse(*c))
}

func (h *Handler) suspend(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	companyID, err := idParam(r, "companyID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid company id")
		return
	}
	c, err := h.service.Suspend(r.Context(), id.Role, companyID)
	if err != nil {
		h.logger.Error("suspend company", slog.Int64("company_id", companyID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCompanyResponse(*c))
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	companyID, err := idParam(r, "companyID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid company id")
		return
	}
	c, err := h.service.Activate(r.Context(), id.Role, companyID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCompanyResponse(*c))
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	companyID, err := idParam(r, "companyID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid company id")
		return
	}
	if err := h.service.Delete(r.Context(), id.Role, companyID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toCompanyResponse(c Company) companyResponse {
	return companyResponse{
		ID:     c.ID,
		Name:   c.Name,
		Type:   string(c.Type),
		Active: c.Active,
		Limits: Limits{
			MaxUsers:   c.MaxUsers,
			MaxDevices: c.MaxDevices,
			MaxContent: c.MaxContent,
		},
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func idParam(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}
