package devices

import (
	"context"
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

// HeartbeatRecorder stores device check-ins. auth.Service implements it.
type HeartbeatRecorder interface {
	Heartbeat(ctx context.Context, deviceID int64) error
}

// Handler serves the device management endpoints and the heartbeat.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	mw         auth.Middleware
	heartbeats HeartbeatRecorder
	validator  *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service, mw auth.Middleware, heartbeats HeartbeatRecorder) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:     logger,
		service:    service,
		mw:         mw,
		heartbeats: heartbeats,
		validator:  validator.New(),
	}
}

// MountRoutes registers the management routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.mw.Authenticate)
	r.Use(h.mw.RequireClass(authz.ClassSuperUser, authz.ClassCompanyUser))

	r.With(h.mw.RequirePermission(authz.ResourceDevice, authz.ActionView)).Get("/", h.list)
	r.With(h.mw.RequirePermission(authz.ResourceDevice, authz.ActionCreate)).Post("/", h.register)
	r.With(h.mw.RequirePermission(authz.ResourceDevice, authz.ActionView)).Get("/{deviceID}", h.get)
	r.With(h.mw.RequirePermission(authz.ResourceDevice, authz.ActionEdit)).Put("/{deviceID}", h.update)
	r.With(h.mw.RequirePermission(authz.ResourceDevice, authz.ActionEdit)).Post("/{deviceID}/rotate-key", h.rotateKey)
	r.With(h.mw.RequirePermission(authz.ResourceDevice, authz.ActionEdit)).Post("/{deviceID}/revoke", h.revoke)
	r.With(h.mw.RequirePermission(authz.ResourceDevice, authz.ActionEdit)).Post("/{deviceID}/activate", h.activate)
	r.With(h.mw.RequirePermission(authz.ResourceDevice, authz.ActionDelete)).Delete("/{deviceID}", h.remove)
}

// MountDeviceRoutes registers the endpoint players call about
// themselves. No permission gate beyond the class: heartbeat is bound
// to the token's own device id.
func (h *Handler) MountDeviceRoutes(r chi.Router) {
	r.Use(h.mw.Authenticate)
	r.Use(h.mw.RequireClass(authz.ClassDevice))

	r.Post("/heartbeat", h.heartbeat)
}

type deviceResponse struct {
	ID         int64      `json:"id"`
	CompanyID  int64      `json:"company_id"`
	Name       string     `json:"name"`
	Location   string     `json:"location,omitempty"`
	KeyPrefix  string     `json:"key_prefix"`
	KeyVersion int64      `json:"key_version"`
	Status     string     `json:"status"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type listResponse struct {
	Devices    []deviceResponse  `json:"devices"`
	Pagination shared.Pagination `json:"pagination"`
}

// registeredResponse carries the plaintext key. It is returned exactly
// once; afterwards only the prefix is readable.
type registeredResponse struct {
	Device deviceResponse `json:"device"`
	APIKey string         `json:"api_key"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	page, perPage := shared.ParsePagination(r)
	q := r.URL.Query()

	req := ListDevicesRequest{
		Status:  q.Get("status"),
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

	devices, pagination, err := h.service.List(r.Context(), id.Role, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, toDeviceResponse(d))
	}
	httpx.JSON(w, http.StatusOK, listResponse{Devices: out, Pagination: pagination})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	deviceID, err := idParam(r, "deviceID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid device id")
		return
	}
	d, err := h.service.Get(r.Context(), id.Role, deviceID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDeviceResponse(*d))
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	var req RegisterDeviceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", shared.ValidationDetail(err))
		return
	}
	d, plainKey, err := h.service.Register(r.Context(), id.Role, req, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.logger.Error("register device", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, registeredResponse{Device: toDeviceResponse(*d), APIKey: plainKey})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	deviceID, err := idParam(r, "deviceID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid device id")
		return
	}
	var req UpdateDeviceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", shared.ValidationDetail(err))
		return
	}
	d, err := h.service.Update(r.Context(), id.Role, deviceID, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDeviceResponse(*d))
}

func (h *Handler) rotateKey(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	deviceID, err := idParam(r, "deviceID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid device id")
		return
	}
	d, plainKey, err := h.service.RotateKey(r.Context(), id.Role, deviceID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, registeredResponse{Device: toDeviceResponse(*d), APIKey: plainKey})
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	deviceID, err := idParam(r, "deviceID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid device id")
		return
	}
	d, err := h.service.Revoke(r.Context(), id.Role, deviceID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDeviceResponse(*d))
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	deviceID, err := idParam(r, "deviceID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid device id")
		return
	}
	d, err := h.service.Activate(r.Context(), id.Role, deviceID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDeviceResponse(*d))
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	deviceID, err := idParam(r, "deviceID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid device id")
		return
	}
	if err := h.service.Delete(r.Context(), id.Role, deviceID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	if err := h.heartbeats.Heartbeat(r.Context(), id.Role.PrincipalID); err != nil {
		h.logger.Warn("heartbeat", slog.Int64("device_id", id.Role.PrincipalID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toDeviceResponse(d Device) deviceResponse {
	return deviceResponse{
		ID:         d.ID,
		CompanyID:  d.CompanyID,
		Name:       d.Name,
		Location:   d.Location,
		KeyPrefix:  d.KeyPrefix,
		KeyVersion: d.KeyVersion,
		Status:     d.Status(),
		LastSeenAt: d.LastSeenAt,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

func idParam(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}
