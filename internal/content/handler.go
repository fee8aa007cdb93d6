package content

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/brightcast/brightcast/internal/auth"
	"github.com/brightcast/brightcast/internal/authz"
	"github.com/brightcast/brightcast/internal/platform/httpx"
	"github.com/brightcast/brightcast/internal/shared"
)

// Handler serves the content management endpoints and the device
// playlist.
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

// MountRoutes registers the management routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.mw.Authenticate)
	r.Use(h.mw.RequireClass(authz.ClassSuperUser, authz.ClassCompanyUser))

	r.With(h.mw.RequirePermission(authz.ResourceContent, authz.ActionView)).Get("/", h.list)
	r.With(h.mw.RequirePermission(authz.ResourceContent, authz.ActionView)).Get("/library", h.library)
	r.With(h.mw.RequirePermission(authz.ResourceContent, authz.ActionCreate)).Post("/", h.create)
	r.With(h.mw.RequirePermission(authz.ResourceContent, authz.ActionView)).Get("/{contentID}", h.get)
	r.With(h.mw.RequirePermission(authz.ResourceContent, authz.ActionEdit)).Put("/{contentID}", h.update)
	r.With(h.mw.RequirePermission(authz.ResourceContent, authz.ActionDelete)).Delete("/{contentID}", h.remove)
	r.With(h.mw.RequirePermission(authz.ResourceContent, authz.ActionEdit)).Post("/{contentID}/submit", h.submit)
	r.With(h.mw.RequirePermission(authz.ResourceContent, authz.ActionApprove)).Post("/{contentID}/approve", h.approve)
	r.With(h.mw.RequirePermission(authz.ResourceContent, authz.ActionApprove)).Post("/{contentID}/reject", h.reject)
	r.With(h.mw.RequirePermission(authz.ResourceContent, authz.ActionShare)).Put("/{contentID}/visibility", h.setVisibility)
	r.With(h.mw.RequirePermission(authz.ResourceContent, authz.ActionView)).Get("/{contentID}/distributions", h.distributions)
	r.With(h.mw.RequirePermission(authz.ResourceContent, authz.ActionDistribute)).Post("/{contentID}/distributions", h.distribute)
	r.With(h.mw.RequirePermission(authz.ResourceContent, authz.ActionDistribute)).Delete("/{contentID}/distributions/{deviceID}", h.undistribute)
}

// MountDeviceRoutes registers the playlist endpoint devices poll.
func (h *Handler) MountDeviceRoutes(r chi.Router) {
	r.Use(h.mw.Authenticate)
	r.Use(h.mw.RequireClass(authz.ClassDevice))

	r.With(h.mw.RequirePermission(authz.ResourceContent, authz.ActionView)).Get("/playlist", h.playlist)
}

type itemResponse struct {
	ID         uuid.UUID `json:"id"`
	CompanyID  int64     `json:"company_id"`
	CreatedBy  int64     `json:"created_by"`
	Title      string    `json:"title"`
	Kind       string    `json:"kind"`
	URL        string    `json:"url"`
	Status     string    `json:"status"`
	Visibility string    `json:"visibility"`
	SharedWith []int64   `json:"shared_with,omitempty"`
	ReviewNote string    `json:"review_note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type listResponse struct {
	Content    []itemResponse    `json:"content"`
	Pagination shared.Pagination `json:"pagination"`
}

type distributionResponse struct {
	ContentID  uuid.UUID `json:"content_id"`
	DeviceID   int64     `json:"device_id"`
	DeviceName string    `json:"device_name"`
	CompanyID  int64     `json:"company_id"`
	CreatedBy  int64     `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

type playlistEntry struct {
	ContentID uuid.UUID `json:"content_id"`
	Title     string    `json:"title"`
	Kind      string    `json:"kind"`
	URL       string    `json:"url"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	page, perPage := shared.ParsePagination(r)
	q := r.URL.Query()

	req := ListContentRequest{
		Status:  q.Get("status"),
		Kind:    q.Get("kind"),
		Search:  q.Get("search"),
		Page:    page,
		PerPage: perPage,
	}
	if v := q.Get("company_id"); v != "" {
		companyID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid company_id")
			return
		}
		req.CompanyID = companyID
	}
	if q.Get("mine") == "true" {
		req.CreatedBy = id.Role.PrincipalID
	}

	items, pagination, err := h.service.List(r.Context(), id.Role, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{Content: toItemResponses(items), Pagination: pagination})
}

func (h *Handler) library(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	page, perPage := shared.ParsePagination(r)
	q := r.URL.Query()

	req := LibraryRequest{
		Kind:    q.Get("kind"),
		Search:  q.Get("search"),
		Page:    page,
		PerPage: perPage,
	}
	items, pagination, err := h.service.Library(r.Context(), id.Role, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{Content: toItemResponses(items), Pagination: pagination})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	contentID, err := contentIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid content id")
		return
	}
	it, err := h.service.Get(r.Context(), id.Role, contentID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toItemResponse(*it))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	var req CreateContentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", shared.ValidationDetail(err))
		return
	}
	it, err := h.service.Create(r.Context(), id.Role, req, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.logger.Error("create content", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toItemResponse(*it))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	contentID, err := contentIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid content id")
		return
	}
	var req UpdateContentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", shared.ValidationDetail(err))
		return
	}
	it, err := h.service.Update(r.Context(), id.Role, contentID, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toItemResponse(*it))
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	contentID, err := contentIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid content id")
		return
	}
	if err := h.service.Delete(r.Context(), id.Role, contentID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	contentID, err := contentIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid content id")
		return
	}
	it, err := h.service.Submit(r.Context(), id.Role, contentID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toItemResponse(*it))
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	contentID, err := contentIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid content id")
		return
	}
	req := ReviewRequest{}
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
			return
		}
		if err := h.validator.Struct(req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", shared.ValidationDetail(err))
			return
		}
	}
	it, err := h.service.Approve(r.Context(), id.Role, contentID, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toItemResponse(*it))
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	contentID, err := contentIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid content id")
		return
	}
	var req RejectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", shared.ValidationDetail(err))
		return
	}
	it, err := h.service.Reject(r.Context(), id.Role, contentID, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toItemResponse(*it))
}

func (h *Handler) setVisibility(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	contentID, err := contentIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid content id")
		return
	}
	var req SetVisibilityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", shared.ValidationDetail(err))
		return
	}
	it, err := h.service.SetVisibility(r.Context(), id.Role, contentID, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toItemResponse(*it))
}

func (h *Handler) distributions(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	contentID, err := contentIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid content id")
		return
	}
	dists, err := h.service.Distributions(r.Context(), id.Role, contentID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]distributionResponse, 0, len(dists))
	for _, d := range dists {
		out = append(out, distributionResponse{
			ContentID:  d.ContentID,
			DeviceID:   d.DeviceID,
			DeviceName: d.DeviceName,
			CompanyID:  d.CompanyID,
			CreatedBy:  d.CreatedBy,
			CreatedAt:  d.CreatedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"distributions": out})
}

func (h *Handler) distribute(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	contentID, err := contentIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid content id")
		return
	}
	var req DistributeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", shared.ValidationDetail(err))
		return
	}
	added, err := h.service.Distribute(r.Context(), id.Role, contentID, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"added": added})
}

func (h *Handler) undistribute(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	contentID, err := contentIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid content id")
		return
	}
	deviceID, err := strconv.ParseInt(chi.URLParam(r, "deviceID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid device id")
		return
	}
	if err := h.service.Undistribute(r.Context(), id.Role, contentID, deviceID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) playlist(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	items, err := h.service.Playlist(r.Context(), id.Role)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]playlistEntry, 0, len(items))
	for _, it := range items {
		out = append(out, playlistEntry{ContentID: it.ID, Title: it.Title, Kind: it.Kind, URL: it.URL})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"playlist": out})
}

func toItemResponse(it Item) itemResponse {
	return itemResponse{
		ID:         it.ID,
		CompanyID:  it.CompanyID,
		CreatedBy:  it.CreatedBy,
		Title:      it.Title,
		Kind:       it.Kind,
		URL:        it.URL,
		Status:     it.Status,
		Visibility: string(it.Visibility),
		SharedWith: it.Shared,
		ReviewNote: it.ReviewNote,
		CreatedAt:  it.CreatedAt,
		UpdatedAt:  it.UpdatedAt,
	}
}

func toItemResponses(items []Item) []itemResponse {
	out := make([]itemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, toItemResponse(it))
	}
	return out
}

func contentIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "contentID"))
}
