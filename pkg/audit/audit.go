// Package audit records one entry per mediated operation attempt.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"drivegate/pkg/errs"
	"drivegate/pkg/metrics"
	"drivegate/pkg/types"
)

// Sink stores audit entries.
type Sink interface {
	Append(ctx context.Context, entry types.AuditEntry) error
}

// Filter selects entries from a Reader. Zero values match everything.
type Filter struct {
	Origin  string
	Action  string
	Outcome types.Outcome
	Since   time.Time
	// Limit keeps the newest Limit entries.
	Limit int
}

// Matches reports whether e passes the filter, ignoring Limit.
func (f Filter) Matches(e types.AuditEntry) bool {
	if f.Origin != "" && e.Origin != f.Origin {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	if !f.Since.IsZero() && e.Time.Before(f.Since) {
		return false
	}
	return true
}

// Reader lists stored entries oldest first.
type Reader interface {
	List(ctx context.Context, filter Filter) ([]types.AuditEntry, error)
}

// Call describes the operation being recorded.
type Call struct {
	Actor  types.Actor
	Action string
	Target string
	Size   *int64
}

// Recorder appends entries to a sink. Append failures are logged and
// counted, never returned to the caller.
type Recorder struct {
	sink    Sink
	logger  *zap.Logger
	metrics *metrics.GatewayMetrics
	now     func() time.Time
}

// NewRecorder creates a new audit recorder
func NewRecorder(sink Sink, logger *zap.Logger, m *metrics.GatewayMetrics) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{sink: sink, logger: logger, metrics: m, now: time.Now}
}

// Record runs op and appends exactly one entry describing its outcome.
// op's result and error are returned unchanged.
func Record[T any](ctx context.Context, r *Recorder, call Call, op func(context.Context) (T, error)) (T, error) {
	if r == nil {
		return op(ctx)
	}

	started := r.now()
	value, err := op(ctx)
	elapsed := r.now().Sub(started)

	entry := types.AuditEntry{
		ID:       uuid.NewString(),
		Time:     started,
		Origin:   call.Actor.Origin,
		Action:   call.Action,
		Target:   call.Target,
		Size:     call.Size,
		Outcome:  types.OutcomeSuccess,
		Duration: elapsed,
	}
	if err != nil {
		entry.Outcome = types.OutcomeFailure
		entry.ErrorCode = string(errs.Code(err))
	}

	r.metrics.ObserveOperation(call.Action, string(entry.Outcome), elapsed)
	if errs.Is(err, errs.CodeTimeout) {
		r.metrics.ObserveTimeout()
	}

	// The operation context may already be cancelled by a timeout.
	if appendErr := r.sink.Append(context.WithoutCancel(ctx), entry); appendErr != nil {
		r.metrics.ObserveAuditFailure()
		r.logger.Error("Failed to append audit entry",
			zap.String("action", call.Action),
			zap.String("origin", call.Actor.Origin),
			zap.Error(appendErr))
	}

	return value, err
}
