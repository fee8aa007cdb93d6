package e2e

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	jobmetrics "github.com/brightcast/brightcast/internal/jobs"
	"github.com/brightcast/brightcast/jobs"
)

type stubSessionStore struct {
	removed int64
	calls   int
	err     error
}

func (s *stubSessionStore) SweepSessions(_ context.Context) (int64, error) {
	s.calls++
	return s.removed, s.err
}

func TestSessionSweepJob(t *testing.T) {
	store := &stubSessionStore{removed: 4}
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	job := jobs.NewSessionSweepJob(store, nil, metrics)
	task, err := jobs.NewSessionSweepTask(time.Now().UTC())
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	if err := job.Handle(context.Background(), task); err != nil {
		t.Fatalf("job handle: %v", err)
	}
	if store.calls != 1 {
		t.Fatalf("expected 1 sweep call, got %d", store.calls)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if !assertCounter(t, families, "brightcast_jobs_total", map[string]string{"job": jobs.TaskAuthSessionSweep, "status": "success"}, 1) {
		t.Fatalf("expected brightcast_jobs_total increment for session sweep")
	}
	if !metricExists(families, "brightcast_job_duration_seconds") {
		t.Fatalf("expected brightcast_job_duration_seconds to be recorded")
	}
}

func TestSessionSweepJobCountsFailures(t *testing.T) {
	store := &stubSessionStore{err: errors.New("connection reset")}
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	job := jobs.NewSessionSweepJob(store, nil, metrics)
	task, err := jobs.NewSessionSweepTask(time.Now().UTC())
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	if err := job.Handle(context.Background(), task); err == nil {
		t.Fatal("expected sweep error to propagate")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if !assertCounter(t, families, "brightcast_jobs_total", map[string]string{"job": jobs.TaskAuthSessionSweep, "status": "failure"}, 1) {
		t.Fatalf("expected failure status to be counted")
	}
	if !assertCounter(t, families, "brightcast_jobs_failures_total", map[string]string{"job": jobs.TaskAuthSessionSweep}, 1) {
		t.Fatalf("expected brightcast_jobs_failures_total increment")
	}
}

func assertCounter(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string, expected float64) bool {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if matchLabels(metric.GetLabel(), labels) {
				if metric.GetCounter() == nil {
					return false
				}
				if metric.GetCounter().GetValue() == expected {
					return true
				}
			}
		}
	}
	return false
}

func metricExists(families []*dto.MetricFamily, name string) bool {
	for _, fam := range families {
		if fam.GetName() == name {
			return true
		}
	}
	return false
}

func matchLabels(pairs []*dto.LabelPair, expected map[string]string) bool {
	if len(expected) == 0 {
		return true
	}
	seen := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		seen[pair.GetName()] = pair.GetValue()
	}
	for k, v := range expected {
		if seen[k] != v {
			return false
		}
	}
	return true
}
