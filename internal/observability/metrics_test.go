package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/brightcast/brightcast/internal/authz"
)

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveAuthzCheck(authz.ResourceContent, authz.ActionApprove, "deny")
	metrics.ObserveTokenIssued("device")
	metrics.RecordDecision(context.Background(), authz.Decision{
		Outcome: authz.DecisionFallback,
		Reason:  authz.FallbackUnknownRole,
	})
	// Denials are counted via ObserveAuthzCheck; the recorder only sees
	// fallbacks.
	metrics.RecordDecision(context.Background(), authz.Decision{Outcome: authz.DecisionDeny})

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	body := rr.Body.String()
	if !strings.Contains(body, `brightcast_authz_decisions_total{action="approve",decision="deny",resource="content"} 1`) {
		t.Fatalf("expected authz decision counter, got: %s", body)
	}
	if !strings.Contains(body, `brightcast_authz_fallback_total{reason="unknown_role"} 1`) {
		t.Fatalf("expected fallback counter, got: %s", body)
	}
	if !strings.Contains(body, `brightcast_tokens_issued_total{class="device"} 1`) {
		t.Fatalf("expected token counter, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	metricsRR := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	metricsBody := metricsRR.Body.String()
	if !strings.Contains(metricsBody, "brightcast_http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "brightcast_http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
}
