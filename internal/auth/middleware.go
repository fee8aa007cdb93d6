package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/brightcast/brightcast/internal/authz"
	"github.com/brightcast/brightcast/internal/platform/httpx"
	"github.com/brightcast/brightcast/internal/shared"
)

// CheckObserver counts authorization checks by permission and outcome.
type CheckObserver interface {
	ObserveAuthzCheck(resource authz.Resource, action authz.Action, outcome string)
}

// Middleware wires authentication and authorization for HTTP handlers.
type Middleware struct {
	Service  *Service
	Recorder authz.DecisionRecorder
	Observer CheckObserver
	Logger   *slog.Logger
}

// Authenticate verifies the bearer token and attaches the identity to
// the request context. Token problems answer a uniform 401; a failing
// revocation store answers 500 and the request is denied either way.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
			return
		}
		id, err := m.Service.Verify(r.Context(), raw)
		if err != nil {
			if errors.Is(err, shared.ErrTokenExpired) || errors.Is(err, shared.ErrTokenInvalid) || errors.Is(err, shared.ErrTokenRevoked) {
				httpx.RespondError(w, err)
				return
			}
			if m.Logger != nil {
				m.Logger.Error("token verification", slog.Any("error", err))
			}
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), id)))
	})
}

// RequirePermission admits only identities whose effective role holds
// resource.action. Denials answer a uniform 403 and are recorded for the
// audit trail; they are expected outcomes and never logged at error
// severity.
func (m Middleware) RequirePermission(resource authz.Resource, action authz.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := shared.IdentityFromContext(r.Context())
			if id == nil {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
				return
			}
			if authz.HasPermission(id.Role, resource, action) {
				m.observe(resource, action, "allow")
				next.ServeHTTP(w, r)
				return
			}
			m.observe(resource, action, "deny")
			if m.Recorder != nil {
				m.Recorder.RecordDecision(r.Context(), authz.Decision{
					PrincipalID: id.Role.PrincipalID,
					Class:       id.Role.Class,
					CompanyID:   id.Role.CompanyID,
					Resource:    resource,
					Action:      action,
					Outcome:     authz.DecisionDeny,
					Reason:      "missing permission",
				})
			}
			if m.Logger != nil {
				m.Logger.Debug("permission denied",
					slog.Int64("principal_id", id.Role.PrincipalID),
					slog.String("permission", string(resource)+"."+string(action)),
				)
			}
			httpx.RespondError(w, shared.ErrPermissionDenied)
		})
	}
}

// RequireClass admits only the listed principal classes. Used for the
// device heartbeat surface and for keeping devices off the management
// API.
func (m Middleware) RequireClass(classes ...authz.PrincipalClass) func(http.Handler) http.Handler {
	allowed := make(map[authz.PrincipalClass]struct{}, len(classes))
	for _, c := range classes {
		allowed[c] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := shared.IdentityFromContext(r.Context())
			if id == nil {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
				return
			}
			if _, ok := allowed[id.Role.Class]; !ok {
				httpx.RespondError(w, shared.ErrPermissionDenied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) observe(resource authz.Resource, action authz.Action, outcome string) {
	if m.Observer != nil {
		m.Observer.ObserveAuthzCheck(resource, action, outcome)
	}
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
