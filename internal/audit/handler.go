package audit

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/brightcast/brightcast/internal/auth"
	"github.com/brightcast/brightcast/internal/authz"
	"github.com/brightcast/brightcast/internal/platform/httpx"
	"github.com/brightcast/brightcast/internal/shared"
)

const (
	defaultDateRange = 7 * 24 * time.Hour
	maxDateRange     = 90 * 24 * time.Hour
	exportRateLimit  = 10
	exportRateWindow = time.Minute
)

// Handler menangani endpoint log keputusan dan riwayat perubahan.
type Handler struct {
	logger  *slog.Logger
	service *Service
	mw      auth.Middleware
	now     func() time.Time
}

// NewHandler membuat handler audit baru.
func NewHandler(logger *slog.Logger, service *Service, mw auth.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, mw: mw, now: time.Now}
}

// MountRoutes mendaftarkan endpoint audit. Ekspor CSV dibatasi per
// principal karena query-nya tanpa paging.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.mw.Authenticate)
	r.Use(h.mw.RequireClass(authz.ClassSuperUser, authz.ClassCompanyUser))
	r.Use(h.mw.RequirePermission(authz.ResourceAudit, authz.ActionView))

	limiter := httprate.Limit(exportRateLimit, exportRateWindow,
		httprate.WithKeyFuncs(exportRateKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "export rate limit reached")
		}),
	)

	r.Get("/decisions", h.decisions)
	r.With(limiter).Get("/decisions/export.csv", h.exportDecisions)
	r.Get("/changes", h.changes)
}

func (h *Handler) decisions(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	filters, err := h.parseTimelineFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	result, err := h.service.Timeline(r.Context(), id.Role, filters)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows := result.Rows
	if rows == nil {
		rows = []DecisionRow{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"decisions": rows, "paging": result.Paging})
}

func (h *Handler) exportDecisions(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	filters, err := h.parseTimelineFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	rows, err := h.service.Export(r.Context(), id.Role, filters)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := WriteDecisionsCSV(&buf, rows); err != nil {
		h.logger.Error("encode csv", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="authz-decisions.csv"`)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func (h *Handler) changes(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	filters, err := h.parseChangeFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	result, err := h.service.Changes(r.Context(), id.Role, filters)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows := result.Rows
	if rows == nil {
		rows = []ChangeRow{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"changes": rows, "paging": result.Paging})
}

func (h *Handler) parseTimelineFilters(r *http.Request) (TimelineFilters, error) {
	from, to, err := h.parseRange(r)
	if err != nil {
		return TimelineFilters{}, err
	}
	q := r.URL.Query()
	outcome := strings.TrimSpace(q.Get("decision"))
	if outcome != "" && outcome != authz.DecisionDeny && outcome != authz.DecisionFallback {
		return TimelineFilters{}, fmt.Errorf("unknown decision %q", outcome)
	}
	companyID, err := intParam(q.Get("company_id"))
	if err != nil {
		return TimelineFilters{}, fmt.Errorf("invalid company_id")
	}
	principalID, err := intParam(q.Get("principal_id"))
	if err != nil {
		return TimelineFilters{}, fmt.Errorf("invalid principal_id")
	}
	page, perPage := shared.ParsePagination(r)
	return TimelineFilters{
		From:        from,
		To:          to,
		CompanyID:   companyID,
		PrincipalID: principalID,
		Resource:    strings.TrimSpace(q.Get("resource")),
		Action:      strings.TrimSpace(q.Get("action")),
		Outcome:     outcome,
		Page:        page,
		PageSize:    perPage,
	}, nil
}

func (h *Handler) parseChangeFilters(r *http.Request) (ChangeFilters, error) {
	from, to, err := h.parseRange(r)
	if err != nil {
		return ChangeFilters{}, err
	}
	q := r.URL.Query()
	companyID, err := intParam(q.Get("company_id"))
	if err != nil {
		return ChangeFilters{}, fmt.Errorf("invalid company_id")
	}
	actorID, err := intParam(q.Get("actor_id"))
	if err != nil {
		return ChangeFilters{}, fmt.Errorf("invalid actor_id")
	}
	page, perPage := shared.ParsePagination(r)
	return ChangeFilters{
		From:      from,
		To:        to,
		CompanyID: companyID,
		ActorID:   actorID,
		Entity:    strings.TrimSpace(q.Get("entity")),
		Action:    strings.TrimSpace(q.Get("action")),
		Page:      page,
		PageSize:  perPage,
	}, nil
}

// parseRange reads the from/to date params. The to date is inclusive,
// so the returned upper bound is the following midnight.
func (h *Handler) parseRange(r *http.Request) (time.Time, time.Time, error) {
	now := h.now().UTC()
	q := r.URL.Query()

	toStr := strings.TrimSpace(q.Get("to"))
	if toStr == "" {
		toStr = now.Format("2006-01-02")
	}
	toDate, err := time.Parse("2006-01-02", toStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("to must be YYYY-MM-DD")
	}
	fromStr := strings.TrimSpace(q.Get("from"))
	if fromStr == "" {
		fromStr = toDate.Add(-defaultDateRange).Format("2006-01-02")
	}
	fromDate, err := time.Parse("2006-01-02", fromStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("from must be YYYY-MM-DD")
	}
	if fromDate.After(toDate) {
		return time.Time{}, time.Time{}, fmt.Errorf("from is after to")
	}
	if toDate.Sub(fromDate) > maxDateRange {
		return time.Time{}, time.Time{}, fmt.Errorf("date range exceeds 90 days")
	}
	return fromDate, toDate.Add(24 * time.Hour), nil
}

func intParam(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	return strconv.ParseInt(value, 10, 64)
}

func exportRateKey(r *http.Request) (string, error) {
	if id := shared.IdentityFromContext(r.Context()); id != nil {
		return fmt.Sprintf("%s:%d", id.Role.Class, id.Role.PrincipalID), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
