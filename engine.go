package healauth

import (
	"context"
	"time"

	internalaudit "github.com/healbridge/healauth/internal/audit"
	"github.com/healbridge/healauth/internal/limiters"
	"github.com/healbridge/healauth/internal/stores"
	"github.com/healbridge/healauth/otp"
	"github.com/healbridge/healauth/token"
)

// Engine is the authentication core. Construct it through [Builder.Build];
// all methods are then safe for concurrent use.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config    Config
	directory Directory
	notifier  Notifier

	tokens    *token.Manager
	otpGen    *otp.Generator
	otpHasher *otp.Hasher

	loginStore  *stores.LoginChallengeStore
	resetStore  *stores.ResetChallengeStore
	revocations *stores.RevocationStore

	loginLimiter *limiters.RequestLimiter
	resetLimiter *limiters.RequestLimiter

	audit   *internalaudit.Dispatcher
	metrics *Metrics
}

// Close flushes and stops the audit dispatcher. The engine must not be used
// after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// MetricsSnapshot returns a point-in-time copy of all engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subjectID string,
	role string,
	failure error,
	metadata func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	event := internalaudit.Event{
		Timestamp: time.Now(),
		EventType: eventType,
		SubjectID: subjectID,
		Role:      role,
		Success:   success,
	}
	if failure != nil {
		event.Error = failure.Error()
	}
	if metadata != nil {
		event.Metadata = metadata()
	}

	e.audit.Emit(ctx, event)
}

// findByID resolves a directory record through the role's adapter.
func (e *Engine) findByID(ctx context.Context, role Role, id string) (*UserRecord, error) {
	adapter, ok := e.directory.adapter(role)
	if !ok {
		return nil, ErrInvalidRole
	}
	return adapter.FindByID(ctx, id)
}
