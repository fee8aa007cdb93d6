package authz

import "context"

// Decision outcomes recorded for the audit trail.
const (
	DecisionDeny     = "deny"
	DecisionFallback = "fallback"
)

// Decision is one authorization event: a denied check or a resolver
// fallback. Allowed checks are counted in metrics but not recorded
// individually.
type Decision struct {
	PrincipalID int64
	Class       PrincipalClass
	CompanyID   int64
	Resource    Resource
	Action      Action
	Outcome     string
	Reason      string
}

// DecisionRecorder receives authorization decisions. Implementations
// must not block the request path; the audit module batches writes.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, d Decision)
}

// NopRecorder discards decisions. Used in tests and tools that do not
// carry an audit trail.
type NopRecorder struct{}

func (NopRecorder) RecordDecision(context.Context, Decision) {}

// MultiRecorder fans one decision out to several recorders, typically
// the persistent audit trail plus the metrics counters.
func MultiRecorder(recorders ...DecisionRecorder) DecisionRecorder {
	out := make(multiRecorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

type multiRecorder []DecisionRecorder

func (m multiRecorder) RecordDecision(ctx context.Context, d Decision) {
	for _, r := range m {
		r.RecordDecision(ctx, d)
	}
}
