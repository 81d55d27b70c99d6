package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/core/port"
)

// StubAuditSink logs events instead of sending them to Kafka. Used when no brokers are configured.
type StubAuditSink struct {
	logger *zap.Logger
}

// NewStubAuditSink constructs a development-friendly audit sink.
func NewStubAuditSink(logger *zap.Logger) *StubAuditSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubAuditSink{logger: logger}
}

// Emit logs the event at info level.
func (s *StubAuditSink) Emit(_ context.Context, event domain.AuditEvent) {
	at := event.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}

	s.logger.Info("Stub audit event",
		zap.String("event_type", event.Type),
		zap.String("user_id", event.UserID),
		zap.String("session_id", event.SessionID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("metadata", event.Metadata),
	)
}

var _ port.AuditSink = (*StubAuditSink)(nil)
