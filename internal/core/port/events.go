package port

import (
	"context"

	"github.com/arklim/authcore/internal/core/domain"
)

// AuditSink receives security events. Emit must not block the caller.
type AuditSink interface {
	Emit(ctx context.Context, event domain.AuditEvent)
}
